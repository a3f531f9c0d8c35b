package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/readcache/readcache/internal/strategy"
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
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.DatabasePath == "" {
		return newFieldError("Global.DatabasePath", "不能为空")
	}
	if err := validateOrigin(g.Origin); err != nil {
		return fmt.Errorf("Global.Origin: %w", err)
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.MaxAge.DurationValue() <= 0 {
		return newFieldError("Global.MaxAge", "必须大于 0")
	}
	if g.ProbeTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ProbeTimeout", "必须大于 0")
	}
	if g.PrecacheWorkers <= 0 {
		return newFieldError("Global.PrecacheWorkers", "必须大于 0")
	}

	for i, asset := range c.Content.Precache {
		if strings.TrimSpace(asset) == "" {
			return newFieldError(fmt.Sprintf("Content.Precache[%d]", i), "不能为空")
		}
	}

	seen := map[string]struct{}{}
	for i := range c.Caches {
		cache := &c.Caches[i]
		name := strings.ToLower(strings.TrimSpace(cache.Name))
		if name == "" {
			return newFieldError("Cache[].Name", "不能为空")
		}
		if _, exists := seen[name]; exists {
			return newFieldError(cacheField(name, "Name"), "重复")
		}
		seen[name] = struct{}{}
		if _, ok := strategy.Resolve(name); !ok {
			return newFieldError(cacheField(name, "Name"), "未注册缓存: 仅支持 "+strings.Join(strategy.Names(), "|"))
		}
		cache.Name = name
		if cache.MaxAge.DurationValue() < 0 {
			return newFieldError(cacheField(name, "MaxAge"), "不能为负数")
		}
	}

	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	return nil
}
