package routes

import (
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/readcache/readcache/internal/cache"
	"github.com/readcache/readcache/internal/server"
	"github.com/readcache/readcache/internal/strategy"
)

// RegisterCacheRoutes 暴露 /-/caches 诊断接口，用于查看命名缓存策略、路由顺序与缓存内容。
func RegisterCacheRoutes(app *fiber.App, table *server.Table, store cache.Store) {
	if app == nil || table == nil {
		return
	}

	app.Get("/-/caches", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"caches": encodeProfiles(strategy.List()),
			"routes": encodeRoutes(table.List()),
		})
	})

	app.Get("/-/caches/:name", func(c fiber.Ctx) error {
		name := strings.ToLower(strings.TrimSpace(c.Params("name")))
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "cache_name_required"})
		}
		profile, ok := strategy.Resolve(name)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache_not_found"})
		}
		if store == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "cache_store_unavailable"})
		}
		keys, err := store.Keys(c.Context(), profile.CacheName)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_list_failed"})
		}
		if keys == nil {
			keys = []string{}
		}
		return c.JSON(cacheDetailPayload{
			Cache: encodeProfile(profile),
			Count: len(keys),
			Keys:  keys,
		})
	})
}

type profilePayload struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	MaxAgeSeconds int64  `json:"max_age_seconds"`
}

type routePayload struct {
	Order   int    `json:"order"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Method  string `json:"method,omitempty"`
	Pattern string `json:"pattern"`
	Cache   string `json:"cache,omitempty"`
}

type cacheDetailPayload struct {
	Cache profilePayload `json:"cache"`
	Count int            `json:"count"`
	Keys  []string       `json:"keys"`
}

func encodeProfiles(profiles []strategy.Profile) []profilePayload {
	if len(profiles) == 0 {
		return nil
	}
	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].CacheName < profiles[j].CacheName
	})
	result := make([]profilePayload, 0, len(profiles))
	for _, profile := range profiles {
		result = append(result, encodeProfile(profile))
	}
	return result
}

func encodeProfile(profile strategy.Profile) profilePayload {
	return profilePayload{
		Name:          profile.CacheName,
		Description:   profile.Description,
		MaxAgeSeconds: int64(profile.MaxAge / time.Second),
	}
}

// encodeRoutes 保留注册顺序，order 从 1 开始。
func encodeRoutes(routes []server.Route) []routePayload {
	result := make([]routePayload, 0, len(routes))
	for i, route := range routes {
		item := routePayload{
			Order:   i + 1,
			Name:    route.Name,
			Kind:    string(route.Kind),
			Method:  route.Method,
			Pattern: route.Pattern.String(),
		}
		if route.Kind == server.KindStatic {
			item.Cache = route.Profile.CacheName
		}
		result = append(result, item)
	}
	return result
}
