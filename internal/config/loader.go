package config

import (
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyStorageDefaults(&cfg.Storage)
	applyFetchDefaults(&cfg.Fetch)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !cfg.Storage.UsesObjectStorage() {
		absStorage, err := filepath.Abs(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Storage.Path = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("MemoryCacheSize", 64)
	v.SetDefault("MaxPixels", 480000)
	v.SetDefault("MaxSourcePixels", 50000000)
	v.SetDefault("Workers", 4)
	v.SetDefault("QueueOrder", QueueLIFO)
	v.SetDefault("MaxBacklog", 0)
	v.SetDefault("Filter", "")
	v.SetDefault("LoadTimeout", "60s")
	v.SetDefault("Storage.Backend", BackendFile)
	v.SetDefault("Storage.Path", "./storage")
	v.SetDefault("Storage.UseSSL", true)
	v.SetDefault("Fetch.MaxAttempts", 3)
	v.SetDefault("Fetch.InitialBackoff", "200ms")
	v.SetDefault("Fetch.ConnectTimeout", "10s")
	v.SetDefault("Fetch.ReadTimeout", "20s")
	v.SetDefault("Fetch.MaxUnknownSize", math.MaxInt32)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.MemoryCacheSize == 0 {
		g.MemoryCacheSize = 64
	}
	if g.Workers == 0 {
		g.Workers = 4
	}
	g.QueueOrder = strings.ToLower(strings.TrimSpace(g.QueueOrder))
	if g.QueueOrder == "" {
		g.QueueOrder = QueueLIFO
	}
	g.Filter = strings.ToLower(strings.TrimSpace(g.Filter))
}

func applyStorageDefaults(s *StorageConfig) {
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	if s.Backend == "" {
		s.Backend = BackendFile
	}
	if s.Path == "" {
		s.Path = "./storage"
	}
	s.Prefix = strings.Trim(s.Prefix, "/")
}

func applyFetchDefaults(f *FetchConfig) {
	if f.MaxAttempts == 0 {
		f.MaxAttempts = 3
	}
	if f.InitialBackoff.DurationValue() == 0 {
		f.InitialBackoff = Duration(200 * time.Millisecond)
	}
	if f.ConnectTimeout.DurationValue() == 0 {
		f.ConnectTimeout = Duration(10 * time.Second)
	}
	if f.ReadTimeout.DurationValue() == 0 {
		f.ReadTimeout = Duration(20 * time.Second)
	}
	if f.MaxUnknownSize == 0 {
		f.MaxUnknownSize = math.MaxInt32
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
