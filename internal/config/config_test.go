package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.MaxAge.DurationValue() != DefaultMaxAge {
		t.Fatalf("MaxAge 应该自动填充 30 天，得到 %s", cfg.Global.MaxAge.DurationValue())
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 15*time.Second {
		t.Fatalf("UpstreamTimeout 应当被解析")
	}
	if cfg.Global.DatabasePath == "" {
		t.Fatalf("DatabasePath 应有默认值")
	}
	if len(cfg.Content.Precache) != len(DefaultPrecache) {
		t.Fatalf("Precache 应使用默认列表，得到 %v", cfg.Content.Precache)
	}
	if cfg.Content.ConfigPath != "content/config.json" {
		t.Fatalf("ConfigPath 默认值错误: %s", cfg.Content.ConfigPath)
	}
	if got := cfg.EffectiveMaxAge("img-cache"); got != 168*time.Hour {
		t.Fatalf("img-cache 覆盖应生效，得到 %s", got)
	}
	if got := cfg.EffectiveMaxAge("html-cache"); got != DefaultMaxAge {
		t.Fatalf("未覆盖的缓存应回退全局 MaxAge，得到 %s", got)
	}
}

func TestValidateRejectsUnknownCache(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestOriginValidation(t *testing.T) {
	testCases := []struct {
		name      string
		origin    string
		shouldErr bool
	}{
		{"https ok", "https://books.example.org", false},
		{"http ok", "http://127.0.0.1:8080", false},
		{"missing", "", true},
		{"no scheme", "books.example.org", true},
		{"ftp", "ftp://books.example.org", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.Origin = tc.origin
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for origin %q", tc.origin)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for origin %q: %v", tc.origin, err)
			}
		})
	}
}

func TestValidateRejectsDuplicateCache(t *testing.T) {
	cfg := validConfig()
	cfg.Caches = []CacheConfig{
		{Name: "html-cache", MaxAge: Duration(time.Hour)},
		{Name: "HTML-cache", MaxAge: Duration(time.Hour)},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("重复缓存名应报错")
	}
	if !strings.Contains(err.Error(), "Cache[html-cache].Name") {
		t.Fatalf("错误应包含字段路径，得到 %v", err)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("READCACHE_OFFLINE", "true")
	t.Setenv("READCACHE_LISTEN_PORT", "6100")

	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if !cfg.Global.Offline {
		t.Fatalf("READCACHE_OFFLINE 应覆盖配置")
	}
	if cfg.Global.ListenPort != 6100 {
		t.Fatalf("READCACHE_LISTEN_PORT 应覆盖配置，得到 %d", cfg.Global.ListenPort)
	}
}

func TestDumpRoundTripsDurations(t *testing.T) {
	cfg := validConfig()
	out, err := Dump(cfg)
	if err != nil {
		t.Fatalf("Dump 失败: %v", err)
	}
	text := string(out)
	if !strings.Contains(text, "MaxAge: 720h0m0s") {
		t.Fatalf("Dump 应输出 Duration 字符串，得到:\n%s", text)
	}
	if !strings.Contains(text, "Origin: https://books.example.org") {
		t.Fatalf("Dump 应包含源站，得到:\n%s", text)
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			StoragePath:     "./data",
			DatabasePath:    "./data/upload-book.db",
			Origin:          "https://books.example.org",
			UpstreamTimeout: Duration(time.Second),
			MaxAge:          Duration(DefaultMaxAge),
			ProbeTimeout:    Duration(time.Second),
			PrecacheWorkers: 2,
		},
		Content: ContentConfig{
			Precache: DefaultPrecache,
		},
	}
}
