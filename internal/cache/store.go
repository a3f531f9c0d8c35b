package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// Store 负责管理命名缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<CacheName>/<host>/<path>.body    # 实际正文
//	<StoragePath>/<CacheName>/<host>/<path>.meta    # URL/状态码/头部/写入时间
type Store interface {
	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 将上游响应写入缓存，并产出新的 Entry 描述。实现需通过临时文件 + rename
	// 保证写入原子性，并在失败时清理临时文件。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除正文与元数据，通常用于过期淘汰。
	Remove(ctx context.Context, locator Locator) error

	// Keys 返回指定缓存中全部条目的 URL，按字典序排列。
	Keys(ctx context.Context, cacheName string) ([]string, error)
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	StoredAt time.Time
	Status   int
	Header   http.Header
}

// Locator 唯一定位一个缓存条目（缓存名 + 请求 URL）。
type Locator struct {
	CacheName string
	URL       string
}

// Entry 表示一次缓存命中结果。
type Entry struct {
	Locator   Locator     `json:"locator"`
	FilePath  string      `json:"file_path"`
	SizeBytes int64       `json:"size_bytes"`
	Status    int         `json:"status"`
	Header    http.Header `json:"header"`
	StoredAt  time.Time   `json:"stored_at"`
}

// ReadResult 组合 Entry 与正文 Reader，便于代理层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
