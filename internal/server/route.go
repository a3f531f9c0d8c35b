package server

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/readcache/readcache/internal/config"
	"github.com/readcache/readcache/internal/strategy"
)

// Kind 区分路由的两种形态。
type Kind string

const (
	// KindStatic 路由按命名缓存执行 cache-first。
	KindStatic Kind = "static"
	// KindDynamic 路由由自身 Handler 生成响应。
	KindDynamic Kind = "dynamic"
)

// Route 是路由表中的一项：谓词（Pattern + 可选 Method）加上处理方式。
type Route struct {
	Name    string
	Kind    Kind
	Pattern *regexp.Regexp
	// Method 为空表示任意方法；非空时其他方法跳过本路由，继续匹配后续项。
	Method string
	// Profile 仅对 KindStatic 有意义。
	Profile strategy.Profile
	// Handler 仅对 KindDynamic 有意义。
	Handler fiber.Handler
}

// StaticRoute 构造一条 cache-first 路由，pattern 非法时 panic，仅用于启动期常量表。
func StaticRoute(pattern string, profile strategy.Profile) Route {
	return Route{
		Name:    profile.CacheName,
		Kind:    KindStatic,
		Pattern: regexp.MustCompile(pattern),
		Profile: profile,
	}
}

// ExactRoute 构造只匹配给定路径（完整路径相等）的 cache-first 路由，用于安装期预缓存的外壳资源。
func ExactRoute(paths []string, profile strategy.Profile) Route {
	quoted := make([]string, 0, len(paths))
	for _, p := range paths {
		quoted = append(quoted, regexp.QuoteMeta(p))
	}
	return Route{
		Name:    profile.CacheName,
		Kind:    KindStatic,
		Pattern: regexp.MustCompile(`^(?:` + strings.Join(quoted, "|") + `)$`),
		Profile: profile,
	}
}

// DynamicRoute 构造一条由 handler 直接响应的路由。
func DynamicRoute(name, method, pattern string, handler fiber.Handler) Route {
	return Route{
		Name:    name,
		Kind:    KindDynamic,
		Pattern: regexp.MustCompile(pattern),
		Method:  strings.ToUpper(method),
		Handler: handler,
	}
}

// Matches 判断请求方法与路径是否命中本路由。
func (r *Route) Matches(method, path string) bool {
	if r == nil || r.Pattern == nil {
		return false
	}
	if r.Method != "" && !strings.EqualFold(r.Method, method) {
		return false
	}
	return r.Pattern.MatchString(path)
}

// Table 按注册顺序保存路由，先匹配者胜出。
type Table struct {
	ordered []*Route
}

// NewTable 校验并冻结路由顺序。
func NewTable(routes ...Route) (*Table, error) {
	table := &Table{ordered: make([]*Route, 0, len(routes))}
	for i := range routes {
		route := routes[i]
		if route.Pattern == nil {
			return nil, fmt.Errorf("route %d (%s) has no pattern", i, route.Name)
		}
		switch route.Kind {
		case KindStatic:
			if route.Profile.CacheName == "" {
				return nil, fmt.Errorf("static route %s has no cache name", route.Pattern)
			}
		case KindDynamic:
			if route.Handler == nil {
				return nil, fmt.Errorf("dynamic route %s has no handler", route.Pattern)
			}
		default:
			return nil, fmt.Errorf("route %s has unknown kind %q", route.Pattern, route.Kind)
		}
		table.ordered = append(table.ordered, &route)
	}
	return table, nil
}

// Match 返回第一条命中的路由；未命中时 ok=false，调用方应直接透传到网络。
func (t *Table) Match(method, path string) (*Route, bool) {
	if t == nil {
		return nil, false
	}
	for _, route := range t.ordered {
		if route.Matches(method, path) {
			return route, true
		}
	}
	return nil, false
}

// StaticFor 返回首个匹配 GET path 的静态路由，预缓存据此决定落入哪个命名缓存。
func (t *Table) StaticFor(path string) (*Route, bool) {
	if t == nil {
		return nil, false
	}
	for _, route := range t.ordered {
		if route.Kind == KindStatic && route.Matches("GET", path) {
			return route, true
		}
	}
	return nil, false
}

// List 返回路由表快照，顺序与注册顺序一致。
func (t *Table) List() []Route {
	if t == nil {
		return nil
	}
	result := make([]Route, 0, len(t.ordered))
	for _, route := range t.ordered {
		result = append(result, *route)
	}
	return result
}

// ProfileFor 取出注册表中的缓存档案，并叠加配置中的 MaxAge 覆盖。
func ProfileFor(cfg *config.Config, cacheName string) (strategy.Profile, error) {
	if cfg == nil {
		return strategy.Profile{}, errors.New("config is nil")
	}
	profile, ok := strategy.Resolve(cacheName)
	if !ok {
		return strategy.Profile{}, fmt.Errorf("cache %s is not registered", cacheName)
	}
	override := cfg.EffectiveMaxAge(cacheName)
	if profile.Pinned {
		override = cfg.ExplicitMaxAge(cacheName)
	}
	return strategy.ResolveProfile(profile, strategy.Options{MaxAgeOverride: override}), nil
}
