// Package worker owns the process-wide state of the reading cache: the local
// object store handle, the fetched book Config and the assembled route table.
// Install is the single init point; Close releases the store. Clearing the
// local library means stopping the process and deleting the database file.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/readcache/readcache/internal/books"
	"github.com/readcache/readcache/internal/cache"
	"github.com/readcache/readcache/internal/config"
	"github.com/readcache/readcache/internal/library"
	"github.com/readcache/readcache/internal/localstore"
	"github.com/readcache/readcache/internal/proxy"
	"github.com/readcache/readcache/internal/reconcile"
	"github.com/readcache/readcache/internal/server"
	"github.com/readcache/readcache/internal/server/routes"
	"github.com/readcache/readcache/internal/strategy"
)

// Options 汇总 Worker 的外部依赖；Connectivity 与 IDs 为空时按配置推导默认实现。
type Options struct {
	Config       *config.Config
	Logger       *logrus.Logger
	Client       *http.Client
	Cache        cache.Store
	IDs          books.IDSource
	Connectivity reconcile.Connectivity
}

// Worker 聚合全部组件，对应一个正在服务的缓存实例。
type Worker struct {
	cfg    *config.Config
	logger *logrus.Logger
	client *http.Client
	cache  cache.Store
	ids    books.IDSource
	origin server.Origin

	table      *server.Table
	proxy      *proxy.Handler
	precacher  *proxy.Precacher
	reconciler *reconcile.Reconciler
	library    *library.Handlers

	mu          sync.Mutex
	store       *localstore.Store
	bookConfig  *books.Config
	installedAt time.Time
}

// New 构造 Worker 并装配路由表；不会打开数据库或发起网络请求。
func New(opts Options) (*Worker, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Cache == nil {
		return nil, cache.ErrStoreUnavailable
	}
	client := opts.Client
	if client == nil {
		client = server.NewUpstreamClient(opts.Config)
	}
	origin, err := server.ParseOrigin(opts.Config.Global.Origin)
	if err != nil {
		return nil, err
	}
	ids := opts.IDs
	if ids == nil {
		ids = books.RangeIDs{}
	}

	conn := opts.Connectivity
	if conn == nil {
		conn, err = defaultConnectivity(opts.Config)
		if err != nil {
			return nil, err
		}
	}

	w := &Worker{
		cfg:    opts.Config,
		logger: opts.Logger,
		client: client,
		cache:  opts.Cache,
		ids:    ids,
		origin: origin,
		proxy:  proxy.NewHandler(client, opts.Logger, opts.Cache, origin),
	}

	availableURL, err := origin.Resolve(opts.Config.Content.AvailablePath)
	if err != nil {
		return nil, fmt.Errorf("resolve available path: %w", err)
	}
	w.reconciler, err = reconcile.New(reconcile.Options{
		Client:       client,
		Store:        opts.Cache,
		Connectivity: conn,
		AvailableURL: availableURL.String(),
		Logger:       opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	imageProfile, err := server.ProfileFor(opts.Config, strategy.ImageCache)
	if err != nil {
		return nil, err
	}
	w.library, err = library.NewHandlers(library.Options{
		Open:   w.openBooks,
		Images: library.NewImageResolver(opts.Cache, imageProfile, origin, client, opts.Logger),
		Logger: opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	shell, err := server.ProfileFor(opts.Config, strategy.PrecacheCache)
	if err != nil {
		return nil, err
	}
	w.proxy.WithShell(shell)

	w.table, err = w.buildTable(shell)
	if err != nil {
		return nil, err
	}

	w.precacher, err = proxy.NewPrecacher(proxy.PrecacheOptions{
		Client:   client,
		Store:    opts.Cache,
		Table:    w.table,
		Origin:   origin,
		Fallback: shell,
		Workers:  opts.Config.Global.PrecacheWorkers,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func defaultConnectivity(cfg *config.Config) (reconcile.Connectivity, error) {
	if cfg.Global.Offline {
		return reconcile.Static(false), nil
	}
	return reconcile.NewOriginProbe(cfg.Global.Origin, cfg.Global.ProbeTimeout.DurationValue())
}

// Install 立即激活：打开（必要时创建）本地对象库，然后把应用外壳预缓存进常驻的 precache。
// 预缓存失败只记录日志，不阻止安装完成。
func (w *Worker) Install(ctx context.Context) error {
	store, err := w.LocalStore(ctx)
	if err != nil {
		return err
	}
	fields := logrus.Fields{
		"action":        "install",
		"database":      store.Path(),
		"upgraded_from": store.UpgradedFrom(),
		"schema":        localstore.SchemaVersion,
	}

	stored, err := w.precacher.Install(ctx, w.cfg.Content.Precache)
	fields["precached"] = stored
	if err != nil {
		w.logger.WithFields(fields).WithError(err).Warn("install_precache_failed")
	}

	w.mu.Lock()
	w.installedAt = time.Now()
	w.mu.Unlock()
	w.logger.WithFields(fields).Info("worker_installed")
	return nil
}

// Installed 返回 Install 完成的时间，未安装时为零值。
func (w *Worker) Installed() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.installedAt
}

// LocalStore 返回本地对象库句柄，首次调用时打开并升级 schema。
func (w *Worker) LocalStore(ctx context.Context) (*localstore.Store, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.store != nil {
		return w.store, nil
	}
	store, err := localstore.Open(ctx, w.cfg.Global.DatabasePath)
	if err != nil {
		return nil, err
	}
	w.store = store
	return store, nil
}

func (w *Worker) openBooks(ctx context.Context) (library.Books, error) {
	store, err := w.LocalStore(ctx)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// BookConfig 返回最近一次全量缓存拉取到的 Config。
func (w *Worker) BookConfig() (books.Config, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.bookConfig == nil {
		return books.Config{}, false
	}
	return *w.bookConfig, true
}

// App 构建 Fiber 应用：路由表分发 + /-/caches、/-/status 诊断接口。
func (w *Worker) App() (*fiber.App, error) {
	app, err := server.NewApp(server.AppOptions{
		Logger: w.logger,
		Table:  w.table,
		Proxy:  w.proxy,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterCacheRoutes(app, w.table, w.cache)
	app.Get("/-/status", w.Status)
	return app, nil
}

// Close 释放本地对象库句柄。
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.store == nil {
		return nil
	}
	err := w.store.Close()
	w.store = nil
	return err
}
