package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供路由名/缓存名/命中状态字段，供代理与动态路由日志复用。
func RequestFields(route, cacheName string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"route":     route,
		"cache":     cacheName,
		"cache_hit": cacheHit,
	}
}
