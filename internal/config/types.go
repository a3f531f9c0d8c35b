package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"720h" 或纯数字秒值等配置写法。
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

// MarshalText 以 Go Duration 字符串输出，便于 dump-config 回读。
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
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

// DefaultMaxAge 是所有命名缓存的默认保留期（30 天）。
const DefaultMaxAge = 30 * 24 * time.Hour

// DefaultPrecache 是安装阶段必须预取的应用外壳资源。
var DefaultPrecache = []string{
	"./find.html",
	"./find.css",
	"./index.html",
	"./choose.html",
	"./images/favorite.png",
	"./images/reviewed.png",
	"./images/BackArrow.png",
	"./images/NextArrow.png",
	"./book.js",
	"./site.css",
}

// GlobalConfig 描述全局运行时行为。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort" yaml:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel" yaml:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath" yaml:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize" yaml:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups" yaml:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress" yaml:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath" yaml:"StoragePath"`
	DatabasePath    string   `mapstructure:"DatabasePath" yaml:"DatabasePath"`
	Origin          string   `mapstructure:"Origin" yaml:"Origin"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout" yaml:"UpstreamTimeout"`
	MaxAge          Duration `mapstructure:"MaxAge" yaml:"MaxAge"`
	Offline         bool     `mapstructure:"Offline" yaml:"Offline"`
	ProbeTimeout    Duration `mapstructure:"ProbeTimeout" yaml:"ProbeTimeout"`
	PrecacheWorkers int      `mapstructure:"PrecacheWorkers" yaml:"PrecacheWorkers"`
}

// ContentConfig 描述书籍内容相关的源站路径。
type ContentConfig struct {
	Precache      []string `mapstructure:"Precache" yaml:"Precache"`
	ConfigPath    string   `mapstructure:"ConfigPath" yaml:"ConfigPath"`
	ImagesPath    string   `mapstructure:"ImagesPath" yaml:"ImagesPath"`
	AvailablePath string   `mapstructure:"AvailablePath" yaml:"AvailablePath"`
}

// CacheConfig 允许针对单个命名缓存覆盖保留期。
type CacheConfig struct {
	Name   string   `mapstructure:"Name" yaml:"Name"`
	MaxAge Duration `mapstructure:"MaxAge" yaml:"MaxAge"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig  `mapstructure:",squash" yaml:",inline"`
	Content ContentConfig `mapstructure:",squash" yaml:",inline"`
	Caches  []CacheConfig `mapstructure:"Cache" yaml:"Cache,omitempty"`
}

// ExplicitMaxAge 返回 [[Cache]] 中为该缓存显式配置的保留期，未配置时为 0。
func (c *Config) ExplicitMaxAge(cacheName string) time.Duration {
	for _, cache := range c.Caches {
		if strings.EqualFold(cache.Name, cacheName) && cache.MaxAge.DurationValue() > 0 {
			return cache.MaxAge.DurationValue()
		}
	}
	return 0
}

// EffectiveMaxAge 返回指定命名缓存生效的保留期，未覆盖时回退至全局值。
func (c *Config) EffectiveMaxAge(cacheName string) time.Duration {
	if explicit := c.ExplicitMaxAge(cacheName); explicit > 0 {
		return explicit
	}
	if c.Global.MaxAge.DurationValue() > 0 {
		return c.Global.MaxAge.DurationValue()
	}
	return DefaultMaxAge
}

// CacheOverrides 返回配置中出现的命名缓存摘要，例如 img-cache:168h0m0s。
func CacheOverrides(caches []CacheConfig) []string {
	if len(caches) == 0 {
		return nil
	}
	result := make([]string, len(caches))
	for i, cache := range caches {
		result[i] = fmt.Sprintf("%s:%s", cache.Name, cache.MaxAge.DurationValue())
	}
	return result
}
