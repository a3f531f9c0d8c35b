package worker

import (
	"fmt"

	"github.com/readcache/readcache/internal/server"
	"github.com/readcache/readcache/internal/strategy"
)

// 路由按注册顺序匹配，先命中者胜出；顺序即行为，调整前请确认前缀与后缀模式的遮蔽关系。
// 安装清单的精确路由位于 html-cache 之后，只接住前两条后缀路由遮蔽不到的外壳资源（如 "/"、字体）。
func (w *Worker) buildTable(shell strategy.Profile) (*server.Table, error) {
	img, err := server.ProfileFor(w.cfg, strategy.ImageCache)
	if err != nil {
		return nil, err
	}
	html, err := server.ProfileFor(w.cfg, strategy.HTMLCache)
	if err != nil {
		return nil, err
	}
	index, err := server.ProfileFor(w.cfg, strategy.IndexCache)
	if err != nil {
		return nil, err
	}

	routes := []server.Route{
		server.StaticRoute(`\.(jpg|png)$`, img),
		server.StaticRoute(`\.(html|css|js|json)$`, html),
	}
	paths, err := w.shellPaths()
	if err != nil {
		return nil, err
	}
	if len(paths) > 0 {
		routes = append(routes, server.ExactRoute(paths, shell))
	}
	routes = append(routes,
		server.DynamicRoute("available-ids", "GET", `/content/index/AllAvailable$`, w.AllAvailable),
		server.DynamicRoute("local-list", "GET", `/local/list$`, w.library.List),
		server.DynamicRoute("local-upload", "POST", `/local/upload$`, w.library.Upload),
		server.DynamicRoute("local-getbody", "POST", `/local/getbody$`, w.library.GetBody),
		server.DynamicRoute("cache-all-books", "GET", `/cacheAllBooks$`, w.CacheAllBooks),
		server.StaticRoute(`/content/index`, index),
	)
	return server.NewTable(routes...)
}

// shellPaths 返回安装清单中属于本源站的请求路径，保持清单顺序并去重。
func (w *Worker) shellPaths() ([]string, error) {
	seen := make(map[string]struct{}, len(w.cfg.Content.Precache))
	paths := make([]string, 0, len(w.cfg.Content.Precache))
	for _, ref := range w.cfg.Content.Precache {
		resolved, err := w.origin.Resolve(ref)
		if err != nil {
			return nil, fmt.Errorf("resolve precache %q: %w", ref, err)
		}
		local, ok := w.origin.LocalPath(resolved)
		if !ok {
			continue
		}
		if _, dup := seen[local]; dup {
			continue
		}
		seen[local] = struct{}{}
		paths = append(paths, local)
	}
	return paths, nil
}
