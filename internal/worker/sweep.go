package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/readcache/readcache/internal/books"
	"github.com/readcache/readcache/internal/logging"
	"github.com/readcache/readcache/internal/server"
)

// AllAvailable 返回当前可读的书籍 ID 串。
func (w *Worker) AllAvailable(c fiber.Ctx) error {
	started := time.Now()
	ids, err := w.reconciler.AvailableIDs(requestContext(c))
	fields := w.requestFields(c, "available_ids", started)
	if err != nil {
		fields["error"] = err.Error()
		w.logger.WithFields(fields).Error("available_ids_failed")
		return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
	}
	fields["length"] = len(ids)
	w.logger.WithFields(fields).Info("available_ids_complete")
	return c.SendString(ids)
}

// CacheAllBooks 拉取 Config 与图片清单，生成全部正文 URL 并预缓存。
func (w *Worker) CacheAllBooks(c fiber.Ctx) error {
	started := time.Now()
	ctx := requestContext(c)
	fields := w.requestFields(c, "cache_all_books", started)

	urls, err := w.SweepURLs(ctx)
	if err == nil {
		var stored int
		stored, err = w.precacher.Precache(ctx, urls)
		if err == nil {
			fields["stored"] = stored
			w.logger.WithFields(fields).Info("cache_all_books_complete")
			return c.SendString(fmt.Sprintf("Cached %d resources.", stored))
		}
		fields["stored"] = stored
	}

	fields["error"] = err.Error()
	w.logger.WithFields(fields).Error("cache_all_books_failed")
	return c.Status(fiber.StatusInternalServerError).SendString("Error:" + err.Error())
}

// SweepURLs 返回全量缓存的 URL 列表：图片清单在前，正文路径在后。
func (w *Worker) SweepURLs(ctx context.Context) ([]string, error) {
	configURL, err := w.origin.Resolve(w.cfg.Content.ConfigPath)
	if err != nil {
		return nil, err
	}
	imagesURL, err := w.origin.Resolve(w.cfg.Content.ImagesPath)
	if err != nil {
		return nil, err
	}

	bookConfig, err := books.FetchConfig(ctx, w.client, configURL.String())
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.bookConfig = &bookConfig
	w.mu.Unlock()

	images, err := books.FetchImageManifest(ctx, w.client, imagesURL.String())
	if err != nil {
		return nil, err
	}
	ids, err := w.ids.IDs(bookConfig)
	if err != nil {
		return nil, fmt.Errorf("derive ids: %w", err)
	}

	urls := make([]string, 0, len(images)+len(ids))
	urls = append(urls, images...)
	urls = append(urls, books.ContentPaths(ids)...)

	w.logger.WithFields(logrus.Fields{
		"action":        "sweep_plan",
		"images":        len(images),
		"ids":           len(ids),
		"last_reviewed": bookConfig.LastReviewed,
	}).Debug("sweep planned")
	return urls, nil
}

func (w *Worker) requestFields(c fiber.Ctx, action string, started time.Time) logrus.Fields {
	routeName := action
	if route, ok := server.RouteFromContext(c); ok {
		routeName = route.Name
	}
	fields := logging.RequestFields(routeName, "", false)
	fields["action"] = action
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if reqID := server.RequestID(c); reqID != "" {
		fields["request_id"] = reqID
	}
	return fields
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
