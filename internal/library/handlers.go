// Package library serves the locally uploaded books: listing covers, storing
// a new cover/body pair and rendering a stored body with its images resolved
// against the image cache.
package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/readcache/readcache/internal/localstore"
	"github.com/readcache/readcache/internal/logging"
	"github.com/readcache/readcache/internal/server"
)

// Books 是处理器依赖的本地对象库能力。
type Books interface {
	AddUpload(ctx context.Context, upload localstore.Upload) (localstore.UploadResult, error)
	ListCovers(ctx context.Context) ([]localstore.Summary, error)
	GetBody(ctx context.Context, id int64) (localstore.Record, error)
}

// Opener 返回（必要时打开）本地对象库。
type Opener func(ctx context.Context) (Books, error)

// Options 汇总 Handlers 的依赖。
type Options struct {
	Open   Opener
	Images *ImageResolver
	Logger *logrus.Logger
}

// Handlers 暴露 /local/* 的 Fiber 处理器。
type Handlers struct {
	open   Opener
	images *ImageResolver
	logger *logrus.Logger
}

// NewHandlers 校验依赖并构造处理器集合。
func NewHandlers(opts Options) (*Handlers, error) {
	if opts.Open == nil {
		return nil, errors.New("store opener is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Handlers{open: opts.Open, images: opts.Images, logger: opts.Logger}, nil
}

// List 返回全部封面记录的 {id, name}。
func (h *Handlers) List(c fiber.Ctx) error {
	started := time.Now()
	ctx := requestContext(c)
	books, err := h.open(ctx)
	if err != nil {
		return h.storageError(c, "local_list", started, err)
	}
	covers, err := books.ListCovers(ctx)
	if err != nil {
		return h.storageError(c, "local_list", started, err)
	}
	h.logResult(c, "local_list", started, logrus.Fields{"count": len(covers)})
	return c.Status(fiber.StatusOK).JSON(covers)
}

// Upload 读取 bookcover/bookhtml/name 三个字段，各写入一条记录。
func (h *Handlers) Upload(c fiber.Ctx) error {
	started := time.Now()
	ctx := requestContext(c)

	upload, err := readUpload(c)
	if err == nil {
		var books Books
		books, err = h.open(ctx)
		if err == nil {
			var result localstore.UploadResult
			result, err = books.AddUpload(ctx, upload)
			if err == nil {
				h.logResult(c, "local_upload", started, logrus.Fields{
					"upload_id": result.UploadID,
					"cover_id":  result.CoverID,
					"body_id":   result.BodyID,
				})
				return c.SendString("Add performed.")
			}
		}
	}

	h.logFailure(c, "local_upload", started, err)
	return c.Status(fiber.StatusInternalServerError).SendString("Error:" + err.Error())
}

// GetBody 返回指定 id 的正文 HTML，图片地址替换为本地缓存路径或内联 data URI。
func (h *Handlers) GetBody(c fiber.Ctx) error {
	started := time.Now()
	ctx := requestContext(c)

	id, ok, err := bodyID(c)
	if err != nil {
		h.logFailure(c, "local_getbody", started, err)
		return c.Status(fiber.StatusBadRequest).SendString(err.Error())
	}
	if !ok {
		return c.SendString("No params given.")
	}

	books, err := h.open(ctx)
	if err != nil {
		return h.storageError(c, "local_getbody", started, err)
	}
	record, err := books.GetBody(ctx, id)
	if errors.Is(err, localstore.ErrNotFound) {
		h.logResult(c, "local_getbody", started, logrus.Fields{"id": id, "found": false})
		return c.Status(fiber.StatusNotFound).SendString(fmt.Sprintf("No book with id %d.", id))
	}
	if err != nil {
		return h.storageError(c, "local_getbody", started, err)
	}

	body := record.Value
	stats := RewriteStats{}
	if h.images != nil {
		body, stats, err = h.images.Rewrite(ctx, record.Value)
		if err != nil {
			h.logFailure(c, "local_getbody", started, err)
			body = record.Value
		}
	}

	h.logResult(c, "local_getbody", started, logrus.Fields{
		"id":      id,
		"found":   true,
		"linked":  stats.Linked,
		"inlined": stats.Inlined,
	})
	c.Set(fiber.HeaderContentType, "text/html; charset=utf-8")
	return c.Send(body)
}

// readUpload 解析 multipart 或 urlencoded 表单；文件字段缺失时退化为同名文本字段，
// 二者都没有时记录空值。非表单请求返回错误。
func readUpload(c fiber.Ctx) (localstore.Upload, error) {
	contentType := strings.ToLower(c.Get(fiber.HeaderContentType))
	switch {
	case strings.HasPrefix(contentType, fiber.MIMEMultipartForm):
		form, err := c.MultipartForm()
		if err != nil {
			return localstore.Upload{}, fmt.Errorf("parse form: %w", err)
		}
		cover, err := multipartField(form, "bookcover")
		if err != nil {
			return localstore.Upload{}, err
		}
		body, err := multipartField(form, "bookhtml")
		if err != nil {
			return localstore.Upload{}, err
		}
		return localstore.Upload{Name: firstValue(form.Value["name"]), Cover: cover, Body: body}, nil
	case strings.HasPrefix(contentType, fiber.MIMEApplicationForm):
		return localstore.Upload{
			Name:  c.FormValue("name"),
			Cover: textFile(c.FormValue("bookcover")),
			Body:  textFile(c.FormValue("bookhtml")),
		}, nil
	default:
		return localstore.Upload{}, fmt.Errorf("request is not a form: %q", contentType)
	}
}

func multipartField(form *multipart.Form, field string) (localstore.File, error) {
	if files := form.File[field]; len(files) > 0 {
		return readFileHeader(files[0])
	}
	return textFile(firstValue(form.Value[field])), nil
}

func textFile(value string) localstore.File {
	if value == "" {
		return localstore.File{}
	}
	return localstore.File{ContentType: "text/plain; charset=utf-8", Data: []byte(value)}
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func readFileHeader(header *multipart.FileHeader) (localstore.File, error) {
	f, err := header.Open()
	if err != nil {
		return localstore.File{}, fmt.Errorf("open %s: %w", header.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return localstore.File{}, fmt.Errorf("read %s: %w", header.Filename, err)
	}
	return localstore.File{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// bodyID 依次从表单、查询串、JSON 正文中读取 id；ok=false 表示未提供。
func bodyID(c fiber.Ctx) (int64, bool, error) {
	raw := strings.TrimSpace(c.FormValue("id"))
	if raw == "" {
		raw = strings.TrimSpace(c.Query("id"))
	}
	if raw == "" && strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEApplicationJSON) {
		var payload struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(c.Body(), &payload); err == nil && len(payload.ID) > 0 {
			raw = strings.Trim(string(payload.ID), `"`)
		}
	}
	if raw == "" || raw == "null" {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid id %q", raw)
	}
	return id, true, nil
}

func (h *Handlers) storageError(c fiber.Ctx, action string, started time.Time, err error) error {
	h.logFailure(c, action, started, err)
	return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
}

func (h *Handlers) logResult(c fiber.Ctx, action string, started time.Time, extra logrus.Fields) {
	fields := h.fields(c, action, started)
	for k, v := range extra {
		fields[k] = v
	}
	h.logger.WithFields(fields).Info("local_complete")
}

func (h *Handlers) logFailure(c fiber.Ctx, action string, started time.Time, err error) {
	fields := h.fields(c, action, started)
	if err != nil {
		fields["error"] = err.Error()
	}
	h.logger.WithFields(fields).Error("local_failed")
}

func (h *Handlers) fields(c fiber.Ctx, action string, started time.Time) logrus.Fields {
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
