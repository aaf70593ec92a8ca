package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 uri/缓存键/命中层字段，供加载流水线日志复用。
func RequestFields(action, uri, key, tier string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"uri":    uri,
		"key":    key,
		"tier":   tier,
	}
}
