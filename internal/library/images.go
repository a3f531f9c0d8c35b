package library

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/readcache/readcache/internal/cache"
	"github.com/readcache/readcache/internal/server"
	"github.com/readcache/readcache/internal/strategy"
)

// maxInlineBytes 限制单张内联图片的大小。
const maxInlineBytes = 8 << 20

// ImageResolver 决定正文中每个 <img src> 的去向：已在 img-cache 中的换成本地路径，
// 否则回源拉取并内联为 base64 data URI；拉取失败的保持原样。
type ImageResolver struct {
	writer cache.StrategyWriter
	origin server.Origin
	client *http.Client
	logger *logrus.Logger
}

// NewImageResolver 以 img-cache 档案构造解析器。
func NewImageResolver(store cache.Store, profile strategy.Profile, origin server.Origin, client *http.Client, logger *logrus.Logger) *ImageResolver {
	return &ImageResolver{
		writer: cache.NewStrategyWriter(store, profile),
		origin: origin,
		client: client,
		logger: logger,
	}
}

// RewriteStats 统计一次改写中两类替换的数量。
type RewriteStats struct {
	Linked  int
	Inlined int
}

// Rewrite 改写全部 <img src> 并返回新文档；没有任何替换时原样返回 document。
// 片段按 <body> 上下文解析并逐节点渲染，不会补出 <html><head><body> 外壳；
// 自带 <html> 的完整文档按整页解析。
func (r *ImageResolver) Rewrite(ctx context.Context, document []byte) ([]byte, RewriteStats, error) {
	var stats RewriteStats
	nodes, err := parseBook(document)
	if err != nil {
		return nil, stats, fmt.Errorf("parse book html: %w", err)
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Img {
			for i := range n.Attr {
				if n.Attr[i].Key != "src" {
					continue
				}
				replaced, kind := r.resolve(ctx, n.Attr[i].Val)
				n.Attr[i].Val = replaced
				switch kind {
				case srcLinked:
					stats.Linked++
				case srcInlined:
					stats.Inlined++
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	if stats.Linked+stats.Inlined == 0 {
		return document, stats, nil
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		if err := html.Render(&buf, n); err != nil {
			return nil, stats, fmt.Errorf("render book html: %w", err)
		}
	}
	return buf.Bytes(), stats, nil
}

var htmlTagPattern = regexp.MustCompile(`(?i)<html[\s>]`)

func parseBook(document []byte) ([]*html.Node, error) {
	if htmlTagPattern.Match(document) {
		root, err := html.Parse(bytes.NewReader(document))
		if err != nil {
			return nil, err
		}
		return []*html.Node{root}, nil
	}
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	return html.ParseFragment(bytes.NewReader(document), body)
}

type srcKind int

const (
	srcUnchanged srcKind = iota
	srcLinked
	srcInlined
)

func (r *ImageResolver) resolve(ctx context.Context, src string) (string, srcKind) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" || strings.HasPrefix(strings.ToLower(trimmed), "data:") {
		return src, srcUnchanged
	}
	target, err := r.origin.Resolve(trimmed)
	if err != nil {
		return src, srcUnchanged
	}

	if r.writer.Enabled() {
		result, err := r.writer.Lookup(ctx, r.writer.Locator(target.String()))
		if err == nil {
			result.Reader.Close()
			if local, ok := r.origin.LocalPath(target); ok {
				if target.RawQuery != "" {
					local += "?" + target.RawQuery
				}
				return local, srcLinked
			}
			return target.String(), srcLinked
		}
		if !errors.Is(err, cache.ErrNotFound) {
			r.logger.WithError(err).WithField("url", target.String()).Warn("image_cache_lookup_failed")
		}
	}

	inlined, err := r.inline(ctx, target.String())
	if err != nil {
		r.logger.WithError(err).WithField("url", target.String()).Warn("image_inline_failed")
		return src, srcUnchanged
	}
	return inlined, srcInlined
}

func (r *ImageResolver) inline(ctx context.Context, rawURL string) (string, error) {
	if r.client == nil {
		return "", errors.New("http client is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("image returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxInlineBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxInlineBytes {
		return "", fmt.Errorf("image exceeds %d bytes", maxInlineBytes)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if semi := strings.Index(contentType, ";"); semi >= 0 {
		contentType = strings.TrimSpace(contentType[:semi])
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
