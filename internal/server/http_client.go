package server

import (
	"net"
	"net/http"
	"net/textproto"
	"time"

	"github.com/readcache/readcache/internal/config"
	"github.com/readcache/readcache/internal/version"
)

const defaultUpstreamTimeout = 30 * time.Second

// originTransport 是所有源站请求共享的连接池；书籍正文与图片多为小文件，保持较多空闲连接。
var originTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          64,
	MaxIdleConnsPerHost:   64,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回访问源站的 http.Client：超时取 UpstreamTimeout，
// 自身发起的请求（预缓存、全量缓存、索引、图片内联）带上 readcache 的 User-Agent。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := defaultUpstreamTimeout
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &userAgentTransport{
			base:      originTransport.Clone(),
			userAgent: version.UserAgent(),
		},
	}
}

// userAgentTransport 只给没有 User-Agent 的请求补值，代理转发的浏览器 UA 保持不变。
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(clone)
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，忽略 hop-by-hop 字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// IsHopByHopHeader 判断是否属于 RFC 7230 中只对单跳连接有效、代理不得转发的头。
func IsHopByHopHeader(key string) bool {
	switch textproto.CanonicalMIMEHeaderKey(key) {
	case "Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
		"Te", "Trailer", "Transfer-Encoding", "Upgrade", "Proxy-Connection":
		return true
	}
	return false
}
