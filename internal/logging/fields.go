package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供分组/来源/命中状态字段，供图片请求日志复用。
func RequestFields(requestID, group, source string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"group":      group,
		"source":     source,
		"cache_hit":  cacheHit,
	}
}

// CacheFields 描述针对单个缓存条目的管理操作。
func CacheFields(action, group, key string) logrus.Fields {
	fields := logrus.Fields{
		"action": action,
		"group":  group,
	}
	if key != "" {
		fields["key"] = key
	}
	return fields
}
