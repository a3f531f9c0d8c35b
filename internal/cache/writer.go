package cache

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/readcache/readcache/internal/strategy"
)

// ErrStoreUnavailable 表示当前未注入缓存存储实例。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// StrategyWriter 绑定命名缓存的策略档案，提供过期判断与写入封装。
type StrategyWriter struct {
	store   Store
	profile strategy.Profile
	now     func() time.Time
}

// NewStrategyWriter 构造策略感知的写入器，默认使用 time.Now 作为时钟。
func NewStrategyWriter(store Store, profile strategy.Profile) StrategyWriter {
	return StrategyWriter{
		store:   store,
		profile: profile,
		now:     time.Now,
	}
}

// WithClock 返回使用指定时钟的副本，测试中用于模拟过期。
func (w StrategyWriter) WithClock(now func() time.Time) StrategyWriter {
	w.now = now
	return w
}

// Enabled 返回当前是否具备缓存写入能力。
func (w StrategyWriter) Enabled() bool {
	return w.store != nil
}

// Locator 以当前缓存名构造条目定位。
func (w StrategyWriter) Locator(rawURL string) Locator {
	return Locator{CacheName: w.profile.CacheName, URL: rawURL}
}

// Put 写入缓存正文，写入时间取自策略时钟。
func (w StrategyWriter) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	if w.store == nil {
		return nil, ErrStoreUnavailable
	}
	if opts.StoredAt.IsZero() {
		opts.StoredAt = w.now().UTC()
	}
	return w.store.Put(ctx, locator, body, opts)
}

// Expired 根据策略 MaxAge 判断条目是否需要淘汰。
func (w StrategyWriter) Expired(entry Entry) bool {
	return w.profile.Expired(entry.StoredAt, w.now())
}

// Lookup 读取条目并在过期时惰性淘汰；过期条目按未命中处理，返回 ErrNotFound。
func (w StrategyWriter) Lookup(ctx context.Context, locator Locator) (*ReadResult, error) {
	if w.store == nil {
		return nil, ErrStoreUnavailable
	}
	result, err := w.store.Get(ctx, locator)
	if err != nil {
		return nil, err
	}
	if w.Expired(result.Entry) {
		result.Reader.Close()
		if err := w.store.Remove(ctx, locator); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return result, nil
}
