package server

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProxyHandler 负责静态路由的 cache-first 与未命中路由的网络透传，测试中可替换为假实现。
type ProxyHandler interface {
	// Handle 处理命中的静态路由。
	Handle(fiber.Ctx, *Route) error
	// Passthrough 将未命中任何路由的请求原样转发到源站。
	Passthrough(fiber.Ctx) error
}

// AppOptions controls how the Fiber application dispatches requests.
type AppOptions struct {
	Logger *logrus.Logger
	Table  *Table
	Proxy  ProxyHandler
}

const (
	contextKeyRoute     = "_readcache_route"
	contextKeyRequestID = "_readcache_request_id"
)

// NewApp builds a Fiber application that walks the route table in order and
// hands the request to the first matching route.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Table == nil {
		return nil, errors.New("route table is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		BodyLimit:     64 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(requestPath(c)) {
			return c.Next()
		}
		route, ok := getRouteFromContext(c)
		if !ok {
			return opts.Proxy.Passthrough(c)
		}
		if route.Kind == KindDynamic {
			return route.Handler(c)
		}
		return opts.Proxy.Handle(c, route)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并按注册顺序查找命中的路由。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		path := requestPath(c)
		if isDiagnosticsPath(path) {
			return c.Next()
		}

		if route, ok := opts.Table.Match(c.Method(), path); ok {
			c.Locals(contextKeyRoute, route)
			opts.Logger.WithFields(logrus.Fields{
				"action":     "route_match",
				"route":      route.Name,
				"kind":       string(route.Kind),
				"request_id": reqID,
			}).Debug("route matched")
		}
		return c.Next()
	}
}

func requestPath(c fiber.Ctx) string {
	raw := string(c.Request().URI().Path())
	if raw == "" {
		return "/"
	}
	return raw
}

func getRouteFromContext(c fiber.Ctx) (*Route, bool) {
	if value := c.Locals(contextKeyRoute); value != nil {
		if route, ok := value.(*Route); ok {
			return route, true
		}
	}
	return nil, false
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// RouteFromContext 返回中间件写入的路由，供动态处理器记录日志。
func RouteFromContext(c fiber.Ctx) (*Route, bool) {
	return getRouteFromContext(c)
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
