package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			LogLevel:        "info",
			MemoryCacheSize: 64,
			MaxPixels:       480000,
			MaxSourcePixels: 50000000,
			Workers:         4,
			QueueOrder:      QueueLIFO,
		},
		Storage: StorageConfig{
			Backend: BackendFile,
			Path:    "./storage",
		},
		Fetch: FetchConfig{
			MaxAttempts:    3,
			InitialBackoff: Duration(200 * time.Millisecond),
			ConnectTimeout: Duration(10 * time.Second),
			ReadTimeout:    Duration(20 * time.Second),
			MaxUnknownSize: 1 << 31,
		},
	}
}
