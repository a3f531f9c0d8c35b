// Package localstore persists locally uploaded books in the upload-book SQLite
// database. Two object stores, book-cover and book-html, hold one record per
// upload each; ids are assigned by the store and the records of one upload are
// joined through a shared upload id rather than through equal ids.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/readcache/readcache/internal/localstore/migrations"
)

const (
	// DatabaseName 是本地对象库的逻辑名。
	DatabaseName = "upload-book"
	// SchemaVersion 是当前代码支持的 schema 版本。
	SchemaVersion = 1

	CoverStore = "book-cover"
	BodyStore  = "book-html"
)

var tables = map[string]string{
	CoverStore: "book_cover",
	BodyStore:  "book_html",
}

// ErrNotFound 表示对象库中没有该 id 的记录。
var ErrNotFound = errors.New("record not found")

// File 是一次上传中的单个文件字段。
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Upload 描述 /local/upload 的表单内容。
type Upload struct {
	Name  string
	Cover File
	Body  File
}

// UploadResult 返回本次上传分配的 id；CoverID 与 BodyID 不保证相等。
type UploadResult struct {
	UploadID string
	CoverID  int64
	BodyID   int64
}

// Record 是 book-cover / book-html 中的一条记录。
type Record struct {
	ID          int64
	UploadID    string
	Name        string
	Filename    string
	ContentType string
	Value       []byte
	CreatedAt   time.Time
}

// Summary 是列表接口使用的投影。
type Summary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Store 持有 upload-book 数据库句柄。
type Store struct {
	sqlDB      *sql.DB
	path       string
	oldVersion int
	now        func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open 打开（必要时创建）本地对象库，并把 schema 升级到 SchemaVersion。
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	oldVersion, err := upgrade(ctx, sqlDB, migrations.FS, SchemaVersion)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("upgrade %s: %w", DatabaseName, err)
	}
	return &Store{sqlDB: sqlDB, path: cleanPath, oldVersion: oldVersion, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Path 返回数据库文件路径。
func (s *Store) Path() string {
	return s.path
}

// UpgradedFrom 返回打开前数据库的 schema 版本，0 表示新建。
func (s *Store) UpgradedFrom() int {
	return s.oldVersion
}

// Version 读取当前 schema 版本。
func (s *Store) Version(ctx context.Context) (int, error) {
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	return userVersion(ctx, s.sqlDB)
}

// AddUpload 在同一事务中向 book-cover 与 book-html 各插入一条记录，两者共享 upload_id。
// 内容不做任何校验或清洗，原样保存。
func (s *Store) AddUpload(ctx context.Context, upload Upload) (UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return UploadResult{}, err
	}
	if s == nil || s.sqlDB == nil {
		return UploadResult{}, fmt.Errorf("storage is not configured")
	}

	uploadID := uuid.NewString()
	createdAt := toMillis(s.now())

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return UploadResult{}, fmt.Errorf("begin upload: %w", err)
	}
	coverID, err := insertRecord(ctx, tx, tables[CoverStore], uploadID, upload.Name, upload.Cover, createdAt)
	if err != nil {
		_ = tx.Rollback()
		return UploadResult{}, fmt.Errorf("add %s: %w", CoverStore, err)
	}
	bodyID, err := insertRecord(ctx, tx, tables[BodyStore], uploadID, upload.Name, upload.Body, createdAt)
	if err != nil {
		_ = tx.Rollback()
		return UploadResult{}, fmt.Errorf("add %s: %w", BodyStore, err)
	}
	if err := tx.Commit(); err != nil {
		return UploadResult{}, fmt.Errorf("commit upload: %w", err)
	}

	return UploadResult{UploadID: uploadID, CoverID: coverID, BodyID: bodyID}, nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, table, uploadID, name string, file File, createdAt int64) (int64, error) {
	res, err := tx.ExecContext(ctx,
		"INSERT INTO "+table+" (upload_id, name, filename, content_type, value, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		uploadID, name, file.Filename, file.ContentType, file.Data, createdAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListCovers 返回 book-cover 中全部记录的 {id, name} 投影，按 id 升序。
func (s *Store) ListCovers(ctx context.Context) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, "SELECT id, name FROM "+tables[CoverStore]+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", CoverStore, err)
	}
	defer rows.Close()

	result := make([]Summary, 0)
	for rows.Next() {
		var item Summary
		if err := rows.Scan(&item.ID, &item.Name); err != nil {
			return nil, fmt.Errorf("scan %s: %w", CoverStore, err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", CoverStore, err)
	}
	return result, nil
}

// GetBody 读取 book-html 中指定 id 的记录。
func (s *Store) GetBody(ctx context.Context, id int64) (Record, error) {
	return s.get(ctx, BodyStore, id)
}

// GetCover 读取 book-cover 中指定 id 的记录。
func (s *Store) GetCover(ctx context.Context, id int64) (Record, error) {
	return s.get(ctx, CoverStore, id)
}

// Count 返回指定对象库中的记录数。
func (s *Store) Count(ctx context.Context, store string) (int, error) {
	table, ok := tables[store]
	if !ok {
		return 0, fmt.Errorf("unknown object store %q", store)
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	var count int
	if err := s.sqlDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", store, err)
	}
	return count, nil
}

func (s *Store) get(ctx context.Context, store string, id int64) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if s == nil || s.sqlDB == nil {
		return Record{}, fmt.Errorf("storage is not configured")
	}
	table, ok := tables[store]
	if !ok {
		return Record{}, fmt.Errorf("unknown object store %q", store)
	}

	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT id, upload_id, name, filename, content_type, value, created_at FROM "+table+" WHERE id = ?", id)
	var (
		record    Record
		createdAt int64
	)
	err := row.Scan(&record.ID, &record.UploadID, &record.Name, &record.Filename, &record.ContentType, &record.Value, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get %s %d: %w", store, id, err)
	}
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}
