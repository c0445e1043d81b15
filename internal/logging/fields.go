package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供 key/来源/命中状态字段，供抓取流程日志复用。
func FetchFields(key, source string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"key":       key,
		"source":    source,
		"cache_hit": cacheHit,
	}
}
