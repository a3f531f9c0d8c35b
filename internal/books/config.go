// Package books models the origin's book content: the runtime Config document,
// the ID space it describes, the ./content/<c1>/.../<cn>.html URL convention
// and the images.json manifest.
package books

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Config 对应源站 content/config.json。
type Config struct {
	Base         int    `json:"base"`
	Digits       int    `json:"digits"`
	LastReviewed string `json:"lastReviewed"`
	First        string `json:"first"`
	Last         string `json:"last"`
}

// Validate 检查编码参数是否可用于枚举 ID。
func (c Config) Validate() error {
	if c.Base < 2 || c.Base > 36 {
		return fmt.Errorf("config base must be within 2-36, got %d", c.Base)
	}
	if c.Digits <= 0 {
		return fmt.Errorf("config digits must be positive, got %d", c.Digits)
	}
	return nil
}

// ErrUnexpectedStatus 表示源站返回了非 2xx 响应。
var ErrUnexpectedStatus = errors.New("unexpected upstream status")

// FetchConfig 拉取并解析 Config。
func FetchConfig(ctx context.Context, client *http.Client, rawURL string) (Config, error) {
	var cfg Config
	if err := fetchJSON(ctx, client, rawURL, &cfg); err != nil {
		return Config{}, fmt.Errorf("fetch config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FetchImageManifest 拉取 images.json，返回其中的图片 URL 列表。
func FetchImageManifest(ctx context.Context, client *http.Client, rawURL string) ([]string, error) {
	var images []string
	if err := fetchJSON(ctx, client, rawURL, &images); err != nil {
		return nil, fmt.Errorf("fetch image manifest: %w", err)
	}
	return images, nil
}

func fetchJSON(ctx context.Context, client *http.Client, rawURL string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, rawURL, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}
