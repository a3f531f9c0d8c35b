package worker

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/readcache/readcache/internal/books"
)

type statusPayload struct {
	InstalledAt   *time.Time    `json:"installed_at,omitempty"`
	Database      string        `json:"database,omitempty"`
	SchemaVersion int           `json:"schema_version"`
	UpgradedFrom  int           `json:"upgraded_from"`
	Routes        int           `json:"routes"`
	BookConfig    *books.Config `json:"book_config,omitempty"`
}

// Status 输出安装状态、本地对象库 schema 版本与最近一次拉取的 Config，供运维排查。
func (w *Worker) Status(c fiber.Ctx) error {
	payload := statusPayload{Routes: len(w.table.List())}
	if installed := w.Installed(); !installed.IsZero() {
		payload.InstalledAt = &installed
	}
	if cfg, ok := w.BookConfig(); ok {
		payload.BookConfig = &cfg
	}

	store, err := w.LocalStore(requestContext(c))
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "store_unavailable"})
	}
	version, err := store.Version(requestContext(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store_version_failed"})
	}
	payload.Database = store.Path()
	payload.SchemaVersion = version
	payload.UpgradedFrom = store.UpgradedFrom()
	return c.JSON(payload)
}
