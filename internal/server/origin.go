package server

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Origin 是源站根地址，负责在“代理可见路径”与“源站绝对 URL”之间换算。
// 缓存键一律使用源站绝对 URL，预缓存与请求回源因此落到同一条目。
type Origin struct {
	base *url.URL
}

// ParseOrigin 解析源站地址；路径部分被视为目录前缀。
func ParseOrigin(raw string) (Origin, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Origin{}, fmt.Errorf("parse origin: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Origin{}, fmt.Errorf("origin %q must be http or https", raw)
	}
	if parsed.Host == "" {
		return Origin{}, fmt.Errorf("origin %q has no host", raw)
	}
	base := *parsed
	base.Path = strings.TrimRight(base.Path, "/") + "/"
	base.RawPath = ""
	base.RawQuery = ""
	base.Fragment = ""
	return Origin{base: &base}, nil
}

// String 返回带尾部斜杠的源站地址。
func (o Origin) String() string {
	if o.base == nil {
		return ""
	}
	return o.base.String()
}

// Request 把代理收到的路径与查询串映射为源站 URL。
func (o Origin) Request(requestPath, rawQuery string) *url.URL {
	clean := path.Clean("/" + requestPath)
	target := *o.base
	target.Path = strings.TrimRight(o.base.Path, "/") + clean
	target.RawQuery = rawQuery
	return &target
}

// Resolve 以源站根为基准解析相对引用，例如 "./content/0/1.html"；绝对 URL 原样返回。
func (o Origin) Resolve(ref string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", ref, err)
	}
	resolved := o.base.ResolveReference(parsed)
	resolved.Fragment = ""
	return resolved, nil
}

// LocalPath 返回 URL 在代理上的可见路径；非本源站的 URL 返回其原始路径，ok=false。
func (o Origin) LocalPath(target *url.URL) (string, bool) {
	if target == nil {
		return "", false
	}
	if !strings.EqualFold(target.Host, o.base.Host) || !strings.HasPrefix(target.Path, o.base.Path) {
		return target.Path, false
	}
	local := "/" + strings.TrimPrefix(target.Path, o.base.Path)
	return local, true
}
