package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 持久层后端。
const (
	BackendFile = "file"
	BackendS3   = "s3"
)

// 队列出队顺序。
const (
	QueueLIFO = "lifo"
	QueueFIFO = "fifo"
)

// GlobalConfig 描述进程级运行参数：监听、日志、内存层与解码预算。
type GlobalConfig struct {
	ListenPort      int    `mapstructure:"ListenPort"`
	LogLevel        string `mapstructure:"LogLevel"`
	LogFilePath     string `mapstructure:"LogFilePath"`
	LogMaxSize      int    `mapstructure:"LogMaxSize"`
	LogMaxBackups   int    `mapstructure:"LogMaxBackups"`
	LogCompress     bool   `mapstructure:"LogCompress"`
	MemoryCacheSize int    `mapstructure:"MemoryCacheSize"`
	MaxPixels       int    `mapstructure:"MaxPixels"`
	MaxSourcePixels int64  `mapstructure:"MaxSourcePixels"`
	Workers         int    `mapstructure:"Workers"`
	QueueOrder      string `mapstructure:"QueueOrder"`
	MaxBacklog      int    `mapstructure:"MaxBacklog"`
	Filter          string `mapstructure:"Filter"`
	// LoadTimeout 限制 /image 同步等待时长，0 表示不限。
	LoadTimeout Duration `mapstructure:"LoadTimeout"`
}

// StorageConfig 选择持久层实现；s3 后端需要 Endpoint/Bucket/凭证。
type StorageConfig struct {
	Backend   string `mapstructure:"Backend"`
	Path      string `mapstructure:"Path"`
	Endpoint  string `mapstructure:"Endpoint"`
	Bucket    string `mapstructure:"Bucket"`
	AccessKey string `mapstructure:"AccessKey"`
	SecretKey string `mapstructure:"SecretKey"`
	Prefix    string `mapstructure:"Prefix"`
	UseSSL    bool   `mapstructure:"UseSSL"`
}

// FetchConfig 控制上游下载的重试与超时。
type FetchConfig struct {
	MaxAttempts    int      `mapstructure:"MaxAttempts"`
	InitialBackoff Duration `mapstructure:"InitialBackoff"`
	ConnectTimeout Duration `mapstructure:"ConnectTimeout"`
	ReadTimeout    Duration `mapstructure:"ReadTimeout"`
	MaxUnknownSize int64    `mapstructure:"MaxUnknownSize"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig  `mapstructure:",squash"`
	Storage StorageConfig `mapstructure:"Storage"`
	Fetch   FetchConfig   `mapstructure:"Fetch"`
}

// UsesObjectStorage 表示持久层是否走 S3 兼容存储。
func (s StorageConfig) UsesObjectStorage() bool {
	return s.Backend == BackendS3
}
