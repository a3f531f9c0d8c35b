package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/readcache/readcache/internal/cache"
	"github.com/readcache/readcache/internal/logging"
	"github.com/readcache/readcache/internal/server"
	"github.com/readcache/readcache/internal/strategy"
)

// Handler 负责静态路由的“缓存命中 → 过期淘汰 → 回源写缓存”流程，以及未命中路由的透传。
// 对外实现 server.ProxyHandler，内部复用共享 http.Client 与磁盘缓存。
type Handler struct {
	client *http.Client
	logger *logrus.Logger
	store  cache.Store
	origin server.Origin
	now    func() time.Time
	// shell 是安装期预缓存所在的常驻缓存，静态路由未命中时先查它再回源。
	shell *strategy.Profile
}

// NewHandler constructs a proxy handler with shared HTTP client/logger/store.
func NewHandler(client *http.Client, logger *logrus.Logger, store cache.Store, origin server.Origin) *Handler {
	return &Handler{
		client: client,
		logger: logger,
		store:  store,
		origin: origin,
		now:    time.Now,
	}
}

// WithClock 替换过期判断使用的时钟，测试中用于模拟 30 天之后。
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// WithShell 让静态路由在自身缓存未命中时回退到安装期预缓存。
func (h *Handler) WithShell(profile strategy.Profile) *Handler {
	h.shell = &profile
	return h
}

// Handle 对命中的静态路由执行 cache-first；仅 GET/HEAD 读缓存，仅 GET 的 200 响应写缓存。
func (h *Handler) Handle(c fiber.Ctx, route *server.Route) error {
	started := time.Now()
	requestID := server.RequestID(c)
	method := c.Method()
	if method != http.MethodGet && method != http.MethodHead {
		return h.forward(c, route, requestID, started)
	}

	ctx := requestContext(c)
	upstreamURL := h.upstreamURL(c)
	writer := cache.NewStrategyWriter(h.store, route.Profile).WithClock(h.now)
	locator := writer.Locator(upstreamURL.String())

	if writer.Enabled() {
		result, err := writer.Lookup(ctx, locator)
		switch {
		case err == nil:
			defer result.Reader.Close()
			return h.serveCache(c, route, result, requestID, started)
		case errors.Is(err, cache.ErrNotFound):
			// miss 或已过期淘汰，继续回源
		default:
			h.logger.WithError(err).
				WithFields(logrus.Fields{"route": route.Name, "cache": route.Profile.CacheName}).
				Warn("cache_get_failed")
		}
		if result, ok := h.lookupShell(ctx, route, upstreamURL.String()); ok {
			defer result.Reader.Close()
			return h.serveCache(c, route, result, requestID, started)
		}
	}

	resp, err := h.doRequest(c, upstreamURL)
	if err != nil {
		h.logResult(route, upstreamURL.String(), requestID, 0, false, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	shouldStore := writer.Enabled() && resp.StatusCode == http.StatusOK && method == http.MethodGet
	if shouldStore {
		return h.cacheAndStream(c, route, locator, resp, writer, requestID, started, ctx)
	}
	return h.stream(c, route, resp, requestID, started)
}

func (h *Handler) lookupShell(ctx context.Context, route *server.Route, rawURL string) (*cache.ReadResult, bool) {
	if h.shell == nil || route.Profile.CacheName == h.shell.CacheName {
		return nil, false
	}
	writer := cache.NewStrategyWriter(h.store, *h.shell).WithClock(h.now)
	result, err := writer.Lookup(ctx, writer.Locator(rawURL))
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			h.logger.WithError(err).WithField("cache", h.shell.CacheName).Warn("cache_get_failed")
		}
		return nil, false
	}
	return result, true
}

// Passthrough 把未命中任何路由的请求原样转发到源站，不读写缓存。
func (h *Handler) Passthrough(c fiber.Ctx) error {
	return h.forward(c, nil, server.RequestID(c), time.Now())
}

func (h *Handler) forward(c fiber.Ctx, route *server.Route, requestID string, started time.Time) error {
	upstreamURL := h.upstreamURL(c)
	resp, err := h.doRequest(c, upstreamURL)
	if err != nil {
		h.logResult(route, upstreamURL.String(), requestID, 0, false, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()
	return h.stream(c, route, resp, requestID, started)
}

func (h *Handler) serveCache(
	c fiber.Ctx,
	route *server.Route,
	result *cache.ReadResult,
	requestID string,
	started time.Time,
) error {
	_, _ = result.Reader.Seek(0, io.SeekStart)

	copyResponseHeaders(c, result.Entry.Header)
	if length := result.Entry.SizeBytes; length > 0 {
		c.Response().Header.SetContentLength(int(length))
	}
	c.Set("X-Readcache-Cache-Hit", "true")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}

	status := result.Entry.Status
	if status == 0 {
		status = fiber.StatusOK
	}
	c.Status(status)

	if c.Method() == http.MethodHead {
		h.logResult(route, result.Entry.Locator.URL, requestID, status, true, started, nil)
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), result.Reader)
	h.logResult(route, result.Entry.Locator.URL, requestID, status, true, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("read cache failed: %v", err))
	}
	return nil
}

func (h *Handler) stream(
	c fiber.Ctx,
	route *server.Route,
	resp *http.Response,
	requestID string,
	started time.Time,
) error {
	upstreamURL := resp.Request.URL.String()
	copyResponseHeaders(c, resp.Header)
	c.Set("X-Readcache-Cache-Hit", "false")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		h.logResult(route, upstreamURL, requestID, resp.StatusCode, false, started, nil)
		return nil
	}

	_, err := io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(route, upstreamURL, requestID, resp.StatusCode, false, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) cacheAndStream(
	c fiber.Ctx,
	route *server.Route,
	locator cache.Locator,
	resp *http.Response,
	writer cache.StrategyWriter,
	requestID string,
	started time.Time,
	ctx context.Context,
) error {
	upstreamURL := resp.Request.URL.String()
	copyResponseHeaders(c, resp.Header)
	c.Set("X-Readcache-Cache-Hit", "false")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	reader := io.TeeReader(resp.Body, c.Response().BodyWriter())
	_, err := writer.Put(ctx, locator, reader, cache.PutOptions{
		Status: resp.StatusCode,
		Header: storableHeader(resp.Header),
	})
	h.logResult(route, upstreamURL, requestID, resp.StatusCode, false, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("cache_write_failed: %v", err))
	}
	return nil
}

func (h *Handler) upstreamURL(c fiber.Ctx) *url.URL {
	uri := c.Request().URI()
	return h.origin.Request(string(uri.Path()), string(uri.QueryString()))
}

func (h *Handler) doRequest(c fiber.Ctx, upstream *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(requestContext(c), c.Method(), upstream.String(), bytesReader(c.Body()))
	if err != nil {
		return nil, err
	}

	requestHeaders := fiberHeadersAsHTTP(c)
	server.CopyHeaders(req.Header, requestHeaders)
	req.Header.Del("Accept-Encoding")
	req.Host = upstream.Host
	req.Header.Set("Host", upstream.Host)
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())

	return h.client.Do(req)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.Route,
	upstream string,
	requestID string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	routeName, cacheName := "passthrough", ""
	if route != nil {
		routeName = route.Name
		cacheName = route.Profile.CacheName
	}
	fields := logging.RequestFields(routeName, cacheName, cacheHit)
	fields["action"] = "proxy"
	fields["upstream"] = upstream
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}

// storableHeader 只保留与正文相关、重放时有意义的头。
func storableHeader(src http.Header) http.Header {
	keep := []string{"Content-Type", "Content-Language", "Last-Modified", "Etag", "Cache-Control"}
	dst := http.Header{}
	for _, key := range keep {
		if values := src.Values(key); len(values) > 0 {
			dst[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
		}
	}
	return dst
}
