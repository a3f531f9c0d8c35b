package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var globalRegistry = newRegistry()

func init() {
	maxAge := 30 * 24 * time.Hour
	MustRegister(Profile{CacheName: ImageCache, Description: "jpg/png images", MaxAge: maxAge})
	MustRegister(Profile{CacheName: HTMLCache, Description: "html/css/js/json assets and book content", MaxAge: maxAge})
	MustRegister(Profile{CacheName: IndexCache, Description: "content index documents", MaxAge: maxAge})
	MustRegister(Profile{CacheName: PrecacheCache, Description: "install-time app shell, never expires", Pinned: true})
}

type registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func newRegistry() *registry {
	return &registry{profiles: make(map[string]Profile)}
}

// Register 将策略档案加入全局注册表，重复缓存名会返回错误。
func Register(profile Profile) error {
	return globalRegistry.register(profile)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(profile Profile) {
	if err := Register(profile); err != nil {
		panic(err)
	}
}

// Resolve 返回指定缓存名的策略档案。
func Resolve(name string) (Profile, bool) {
	return globalRegistry.resolve(name)
}

// List 返回按缓存名排序的策略档案列表。
func List() []Profile {
	return globalRegistry.list()
}

// Names 返回所有已注册的缓存名，供配置校验与诊断使用。
func Names() []string {
	items := List()
	result := make([]string, len(items))
	for i, profile := range items {
		result[i] = profile.CacheName
	}
	return result
}

func (r *registry) normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(profile Profile) error {
	key := r.normalizeKey(profile.CacheName)
	if key == "" {
		return fmt.Errorf("cache name is required")
	}
	profile.CacheName = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.profiles[key]; exists {
		return fmt.Errorf("cache %s already registered", key)
	}
	r.profiles[key] = profile
	return nil
}

func (r *registry) resolve(name string) (Profile, bool) {
	if name == "" {
		return Profile{}, false
	}
	normalized := r.normalizeKey(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.profiles[normalized]
	return profile, ok
}

func (r *registry) list() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.profiles) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.profiles))
	for key := range r.profiles {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Profile, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.profiles[key])
	}
	return result
}
