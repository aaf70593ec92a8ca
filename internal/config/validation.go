package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imghub/internal/imaging"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", fmt.Sprintf("无法识别的日志级别: %s", g.LogLevel))
	}
	if g.MemoryCacheSize <= 0 {
		return newFieldError("Global.MemoryCacheSize", "必须大于 0")
	}
	if g.MaxPixels == 0 || g.MaxPixels < imaging.Unconstrained {
		return newFieldError("Global.MaxPixels", "必须大于 0，或为 -1 表示不限制")
	}
	if g.MaxSourcePixels <= 0 {
		return newFieldError("Global.MaxSourcePixels", "必须大于 0")
	}
	if g.Workers < 1 {
		return newFieldError("Global.Workers", "至少为 1")
	}
	if g.LoadTimeout < 0 {
		return newFieldError("Global.LoadTimeout", "不能为负数")
	}
	if g.MaxBacklog < 0 {
		return newFieldError("Global.MaxBacklog", "不能为负数，0 表示不限")
	}
	switch g.QueueOrder {
	case QueueLIFO, QueueFIFO:
	default:
		return newFieldError("Global.QueueOrder", "仅支持 lifo/fifo")
	}
	if g.Filter != "" {
		if _, ok := imaging.LookupFilter(g.Filter); !ok {
			return newFieldError("Global.Filter", fmt.Sprintf("未注册滤镜: %s（可选 %s）", g.Filter, strings.Join(imaging.FilterNames(), "|")))
		}
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}
	return c.Fetch.validate()
}

func (s StorageConfig) validate() error {
	switch s.Backend {
	case BackendFile:
		if strings.TrimSpace(s.Path) == "" {
			return newFieldError(sectionField("Storage", "Path"), "不能为空")
		}
	case BackendS3:
		if s.Endpoint == "" {
			return newFieldError(sectionField("Storage", "Endpoint"), "s3 后端必须提供")
		}
		if strings.Contains(s.Endpoint, "://") {
			return newFieldError(sectionField("Storage", "Endpoint"), "不应包含协议头，请使用 UseSSL")
		}
		if s.Bucket == "" {
			return newFieldError(sectionField("Storage", "Bucket"), "s3 后端必须提供")
		}
		if (s.AccessKey == "") != (s.SecretKey == "") || s.AccessKey == "" {
			return newFieldError(sectionField("Storage", "AccessKey/SecretKey"), "必须同时提供")
		}
	default:
		return newFieldError(sectionField("Storage", "Backend"), "仅支持 file/s3")
	}
	return nil
}

func (f FetchConfig) validate() error {
	if f.MaxAttempts < 1 {
		return newFieldError(sectionField("Fetch", "MaxAttempts"), "至少为 1")
	}
	if f.InitialBackoff.DurationValue() <= 0 {
		return newFieldError(sectionField("Fetch", "InitialBackoff"), "必须大于 0")
	}
	if f.ConnectTimeout.DurationValue() <= 0 {
		return newFieldError(sectionField("Fetch", "ConnectTimeout"), "必须大于 0")
	}
	if f.ReadTimeout.DurationValue() <= 0 {
		return newFieldError(sectionField("Fetch", "ReadTimeout"), "必须大于 0")
	}
	if f.MaxUnknownSize <= 0 {
		return newFieldError(sectionField("Fetch", "MaxUnknownSize"), "必须大于 0")
	}
	return nil
}
