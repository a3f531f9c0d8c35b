package reconcile

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Connectivity 回答“当前是否在线”，对应浏览器中的 navigator.onLine。
type Connectivity interface {
	Online(ctx context.Context) bool
}

// Static 返回固定的在线状态，配置 Offline=true 时使用 Static(false)。
type Static bool

// Online 实现 Connectivity。
func (s Static) Online(context.Context) bool {
	return bool(s)
}

// OriginProbe 通过 TCP 拨号源站判断在线状态。
type OriginProbe struct {
	address string
	timeout time.Duration
	dial    func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewOriginProbe 根据源站 URL 推导拨号地址，未写端口时按 scheme 补齐。
func NewOriginProbe(origin string, timeout time.Duration) (*OriginProbe, error) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("origin %q has no host", origin)
	}
	port := parsed.Port()
	if port == "" {
		port = "80"
		if parsed.Scheme == "https" {
			port = "443"
		}
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}
	return &OriginProbe{
		address: net.JoinHostPort(parsed.Hostname(), port),
		timeout: timeout,
		dial:    dialer.DialContext,
	}, nil
}

// Address 返回探测使用的 host:port。
func (p *OriginProbe) Address() string {
	return p.address
}

// Online 实现 Connectivity；任何拨号错误都视为离线。
func (p *OriginProbe) Online(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	conn, err := p.dial(ctx, "tcp", p.address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
