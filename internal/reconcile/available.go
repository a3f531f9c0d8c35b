// Package reconcile answers "which book ids can the reader open right now":
// online it relays the origin's AllAvailable index verbatim, offline it
// rebuilds the id list from the html-cache keys.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/readcache/readcache/internal/cache"
	"github.com/readcache/readcache/internal/strategy"
)

// contentSegment 是书籍正文 URL 中 ID 之前的目录名。
const contentSegment = "content"

// 末段必须是纯数字文件名，例如 7.html、12.html；foo.html、a7.html 不计入。
var idFilePattern = regexp.MustCompile(`^\d+\.html$`)

// Options 汇总 Reconciler 的依赖。
type Options struct {
	Client       *http.Client
	Store        cache.Store
	Connectivity Connectivity
	// AvailableURL 是源站 AllAvailable 的绝对地址。
	AvailableURL string
	Logger       *logrus.Logger
}

// Reconciler 实现在线/离线两条路径的 ID 汇总。
type Reconciler struct {
	client       *http.Client
	store        cache.Store
	conn         Connectivity
	availableURL string
	logger       *logrus.Logger
}

// New 构造 Reconciler；未注入 Connectivity 时视为在线。
func New(opts Options) (*Reconciler, error) {
	if opts.Store == nil {
		return nil, cache.ErrStoreUnavailable
	}
	if opts.Client == nil {
		return nil, errors.New("http client is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	conn := opts.Connectivity
	if conn == nil {
		conn = Static(true)
	}
	return &Reconciler{
		client:       opts.Client,
		store:        opts.Store,
		conn:         conn,
		availableURL: opts.AvailableURL,
		logger:       opts.Logger,
	}, nil
}

// AvailableIDs 在线时原样返回源站 AllAvailable 正文；离线、请求失败或非 2xx 时回退到缓存扫描。
func (r *Reconciler) AvailableIDs(ctx context.Context) (string, error) {
	if r.conn.Online(ctx) {
		body, err := r.fetchOnline(ctx)
		if err == nil {
			return body, nil
		}
		r.logger.WithError(err).WithFields(logrus.Fields{
			"action":   "available_ids",
			"upstream": r.availableURL,
		}).Warn("online index unavailable, scanning cache")
	}
	return r.OfflineIDs(ctx)
}

// OfflineIDs 扫描 html-cache 的全部键并拼接出 ID 串。
func (r *Reconciler) OfflineIDs(ctx context.Context) (string, error) {
	keys, err := r.store.Keys(ctx, strategy.HTMLCache)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", strategy.HTMLCache, err)
	}
	return ScanIDs(keys), nil
}

func (r *Reconciler) fetchOnline(ctx context.Context) (string, error) {
	if r.availableURL == "" {
		return "", errors.New("available index url is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.availableURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("available index returned %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read available index: %w", err)
	}
	return string(raw), nil
}

// ScanIDs 依次处理缓存键：取 content 段之后的路径，末段满足数字文件名时去掉分隔符与
// .html 后缀并追加到结果。键按调用方给出的顺序拼接。
func ScanIDs(keys []string) string {
	var builder strings.Builder
	for _, key := range keys {
		if id, ok := idFromKey(key); ok {
			builder.WriteString(id)
		}
	}
	return builder.String()
}

func idFromKey(key string) (string, bool) {
	rawPath := key
	if parsed, err := url.Parse(key); err == nil && parsed.Path != "" {
		rawPath = parsed.Path
	}
	segments := strings.Split(rawPath, "/")
	start := -1
	for i, segment := range segments {
		if segment == contentSegment {
			start = i + 1
			break
		}
	}
	if start < 0 || start >= len(segments) {
		return "", false
	}
	rest := segments[start:]
	if !idFilePattern.MatchString(rest[len(rest)-1]) {
		return "", false
	}
	id := strings.Join(rest, "")
	return strings.TrimSuffix(id, ".html"), true
}
