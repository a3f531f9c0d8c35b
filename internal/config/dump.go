package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Dump 以 YAML 输出生效配置，供 -dump-config 排查默认值与环境变量覆盖。
func Dump(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("序列化配置失败: %w", err)
	}
	return out, nil
}
