package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envOverrides 列出允许通过环境变量覆盖的字段，未设置的指针保持 nil。
type envOverrides struct {
	ListenPort *int    `env:"READCACHE_LISTEN_PORT"`
	Origin     *string `env:"READCACHE_ORIGIN"`
	Offline    *bool   `env:"READCACHE_OFFLINE"`
	LogLevel   *string `env:"READCACHE_LOG_LEVEL"`
}

// ApplyEnv 将 READCACHE_* 环境变量叠加到已解析的配置上，优先级高于配置文件。
func ApplyEnv(cfg *Config) error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if overrides.ListenPort != nil {
		cfg.Global.ListenPort = *overrides.ListenPort
	}
	if overrides.Origin != nil {
		cfg.Global.Origin = *overrides.Origin
	}
	if overrides.Offline != nil {
		cfg.Global.Offline = *overrides.Offline
	}
	if overrides.LogLevel != nil {
		cfg.Global.LogLevel = *overrides.LogLevel
	}
	return nil
}
