package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/readcache/readcache/internal/cache"
	"github.com/readcache/readcache/internal/server"
	"github.com/readcache/readcache/internal/strategy"
)

// PrecacheOptions 汇总 Precacher 的依赖。
type PrecacheOptions struct {
	Client *http.Client
	Store  cache.Store
	Table  *server.Table
	Origin server.Origin
	// Fallback 是安装清单使用的常驻缓存，也用于不匹配任何静态路由的 URL。
	Fallback strategy.Profile
	Workers  int
	Logger   *logrus.Logger
}

// Precacher 主动拉取一组 URL 并写入缓存，每个 URL 落入首个匹配的静态路由对应的命名缓存。
type Precacher struct {
	client   *http.Client
	store    cache.Store
	table    *server.Table
	origin   server.Origin
	fallback strategy.Profile
	workers  int
	logger   *logrus.Logger
}

// NewPrecacher 校验依赖并构造 Precacher。
func NewPrecacher(opts PrecacheOptions) (*Precacher, error) {
	if opts.Store == nil {
		return nil, cache.ErrStoreUnavailable
	}
	if opts.Client == nil {
		return nil, errors.New("http client is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Fallback.CacheName == "" {
		opts.Fallback, _ = strategy.Resolve(strategy.PrecacheCache)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Precacher{
		client:   opts.Client,
		store:    opts.Store,
		table:    opts.Table,
		origin:   opts.Origin,
		fallback: opts.Fallback,
		workers:  opts.Workers,
		logger:   opts.Logger,
	}, nil
}

// Target 描述一个待预缓存的 URL 及其目标缓存。
type Target struct {
	URL     *url.URL
	Profile strategy.Profile
}

// Plan 解析 URL 列表并去重，保持首次出现的顺序；每个 URL 落入首个匹配的静态路由。
func (p *Precacher) Plan(refs []string) ([]Target, error) {
	return p.plan(refs, p.profileFor)
}

func (p *Precacher) plan(refs []string, profileFor func(*url.URL) strategy.Profile) ([]Target, error) {
	seen := make(map[string]struct{}, len(refs))
	targets := make([]Target, 0, len(refs))
	for _, ref := range refs {
		resolved, err := p.origin.Resolve(ref)
		if err != nil {
			return nil, err
		}
		key := resolved.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		targets = append(targets, Target{URL: resolved, Profile: profileFor(resolved)})
	}
	return targets, nil
}

func (p *Precacher) profileFor(target *url.URL) strategy.Profile {
	localPath, _ := p.origin.LocalPath(target)
	if route, ok := p.table.StaticFor(localPath); ok {
		return route.Profile
	}
	return p.fallback
}

// Precache 并发拉取全部 URL，首个错误会取消其余请求；已写入的条目保留。返回成功写入的数量。
func (p *Precacher) Precache(ctx context.Context, refs []string) (int, error) {
	targets, err := p.Plan(refs)
	if err != nil {
		return 0, err
	}
	return p.run(ctx, "precache", targets)
}

// Install 把安装清单整体写入常驻的 precache 缓存，不受各静态路由的保留期影响。
func (p *Precacher) Install(ctx context.Context, refs []string) (int, error) {
	targets, err := p.plan(refs, func(*url.URL) strategy.Profile { return p.fallback })
	if err != nil {
		return 0, err
	}
	return p.run(ctx, "precache_install", targets)
}

func (p *Precacher) run(ctx context.Context, action string, targets []Target) (int, error) {
	var stored atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.workers)
	for _, target := range targets {
		target := target
		group.Go(func() error {
			if err := p.fetchAndStore(groupCtx, target); err != nil {
				return err
			}
			stored.Add(1)
			return nil
		})
	}
	err := group.Wait()

	fields := logrus.Fields{
		"action":    action,
		"requested": len(targets),
		"stored":    stored.Load(),
	}
	if err != nil {
		p.logger.WithFields(fields).WithError(err).Warn("precache_failed")
		return int(stored.Load()), err
	}
	p.logger.WithFields(fields).Info("precache_complete")
	return int(stored.Load()), nil
}

func (p *Precacher) fetchAndStore(ctx context.Context, target Target) error {
	rawURL := target.URL.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("precache %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("precache %s: upstream returned %d", rawURL, resp.StatusCode)
	}

	writer := cache.NewStrategyWriter(p.store, target.Profile)
	if _, err := writer.Put(ctx, writer.Locator(rawURL), resp.Body, cache.PutOptions{
		Status: resp.StatusCode,
		Header: storableHeader(resp.Header),
	}); err != nil {
		return fmt.Errorf("store %s: %w", rawURL, err)
	}
	p.logger.WithFields(logrus.Fields{
		"action": "precache_entry",
		"cache":  target.Profile.CacheName,
		"url":    rawURL,
	}).Debug("precached")
	return nil
}
