package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggingFallbackToStdout(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	logPath := filepath.Join(blocked, "sub", "imghub.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "info"
LogFilePath = "%s"
ListenPort = 5000

[Storage]
Backend = "file"
Path = "%s"
`, logPath, filepath.Join(dir, "storage")))

	captureOutput(t)
	if code := run(cliOptions{configPath: configPath, checkOnly: true}); code != 0 {
		t.Fatalf("日志 fallback 不应导致失败，得到 %d", code)
	}
}

func TestLoggingWritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "imghub.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "debug"
LogFilePath = "%s"

[Storage]
Path = "%s"
`, logPath, filepath.Join(dir, "storage")))

	captureOutput(t)
	if code := run(cliOptions{configPath: configPath, checkOnly: true}); code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	if !strings.Contains(string(data), `"action":"check_config"`) {
		t.Fatalf("日志应包含 check_config 记录，得到 %s", data)
	}
}
