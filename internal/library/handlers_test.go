package library

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/readcache/readcache/internal/cache"
	"github.com/readcache/readcache/internal/localstore"
	"github.com/readcache/readcache/internal/logging"
	"github.com/readcache/readcache/internal/server"
	"github.com/readcache/readcache/internal/strategy"
)

func TestUploadThenList(t *testing.T) {
	env := newLibraryEnv(t, nil)

	req := multipartRequest(t, "/local/upload", map[string]string{"name": "Alpha"}, map[string]string{
		"bookcover": "<h1>Alpha</h1>",
		"bookhtml":  "<p>Once upon a time</p>",
	})
	resp := env.do(t, req)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "Add performed." {
		t.Fatalf("unexpected upload body %q", body)
	}

	for _, name := range []string{localstore.CoverStore, localstore.BodyStore} {
		count, err := env.store.Count(context.Background(), name)
		if err != nil {
			t.Fatalf("count %s: %v", name, err)
		}
		if count != 1 {
			t.Fatalf("expected one record in %s, got %d", name, count)
		}
	}

	resp = env.do(t, httptest.NewRequest("GET", "/local/list", nil))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var listed []map[string]any
	if err := json.Unmarshal([]byte(readBody(t, resp)), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 || listed[0]["name"] != "Alpha" {
		t.Fatalf("unexpected list %v", listed)
	}
	if _, ok := listed[0]["id"].(float64); !ok {
		t.Fatalf("expected numeric id, got %T", listed[0]["id"])
	}
}

func TestListEmptyStoreReturnsEmptyArray(t *testing.T) {
	env := newLibraryEnv(t, nil)
	resp := env.do(t, httptest.NewRequest("GET", "/local/list", nil))
	if body := strings.TrimSpace(readBody(t, resp)); body != "[]" {
		t.Fatalf("expected [], got %q", body)
	}
}

func TestUploadAcceptsURLEncodedValues(t *testing.T) {
	env := newLibraryEnv(t, nil)
	req := httptest.NewRequest("POST", "/local/upload", strings.NewReader("name=Beta&bookcover=cover&bookhtml=%3Cp%3Eb%3C%2Fp%3E"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp := env.do(t, req)
	if body := readBody(t, resp); body != "Add performed." {
		t.Fatalf("unexpected body %q", body)
	}
	record, err := env.store.GetBody(context.Background(), 1)
	if err != nil {
		t.Fatalf("get body: %v", err)
	}
	if string(record.Value) != "<p>b</p>" || record.Name != "Beta" {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestUploadFailures(t *testing.T) {
	env := newLibraryEnv(t, nil)
	resp := env.do(t, httptest.NewRequest("POST", "/local/upload", strings.NewReader("{}")))
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for non-form body, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); !strings.HasPrefix(body, "Error:") {
		t.Fatalf("expected Error: prefix, got %q", body)
	}

	broken := newLibraryEnv(t, func(context.Context) (Books, error) {
		return nil, errors.New("disk full")
	})
	req := multipartRequest(t, "/local/upload", map[string]string{"name": "Alpha"}, nil)
	resp = broken.do(t, req)
	if body := readBody(t, resp); resp.StatusCode != fiber.StatusInternalServerError || body != "Error:disk full" {
		t.Fatalf("expected 500 Error:disk full, got %d %q", resp.StatusCode, body)
	}
}

func TestGetBodyWithoutID(t *testing.T) {
	env := newLibraryEnv(t, nil)
	resp := env.do(t, httptest.NewRequest("POST", "/local/getbody", nil))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "No params given." {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestGetBodyUnknownID(t *testing.T) {
	env := newLibraryEnv(t, nil)
	resp := env.do(t, httptest.NewRequest("POST", "/local/getbody?id=42", nil))
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestGetBodyRewritesImages(t *testing.T) {
	imageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/images/fresh.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("PNGDATA"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer imageServer.Close()

	env := newLibraryEnvWithOrigin(t, nil, imageServer)
	cached := env.origin.Request("/images/cached.png", "")
	if _, err := env.cache.Put(context.Background(), cache.Locator{CacheName: strategy.ImageCache, URL: cached.String()},
		strings.NewReader("cached"), cache.PutOptions{}); err != nil {
		t.Fatalf("seed image: %v", err)
	}

	doc := `<html><body>` +
		`<img src="./images/cached.png">` +
		`<img src="images/fresh.png">` +
		`<img src="./images/gone.png">` +
		`<img src="data:image/gif;base64,R0lG">` +
		`</body></html>`
	if _, err := env.store.AddUpload(context.Background(), localstore.Upload{
		Name: "Gamma",
		Body: localstore.File{Data: []byte(doc)},
	}); err != nil {
		t.Fatalf("add upload: %v", err)
	}

	req := httptest.NewRequest("POST", "/local/getbody", strings.NewReader(`{"id": 1}`))
	req.Header.Set("Content-Type", "application/json")
	resp := env.do(t, req)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected html content type, got %q", ct)
	}
	body := readBody(t, resp)
	for _, want := range []string{
		`src="/images/cached.png"`,
		`src="data:image/png;base64,UE5HREFUQQ=="`,
		`src="./images/gone.png"`,
		`src="data:image/gif;base64,R0lG"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in %s", want, body)
		}
	}
}

func TestGetBodyReturnsStoredFragmentVerbatim(t *testing.T) {
	env := newLibraryEnv(t, nil)
	stored := `<p>Once upon a time</p><custom-tag a=1>x</custom-tag>`
	req := multipartRequest(t, "/local/upload", map[string]string{"name": "Delta"}, map[string]string{
		"bookcover": "<h1>Delta</h1>",
		"bookhtml":  stored,
	})
	if body := readBody(t, env.do(t, req)); body != "Add performed." {
		t.Fatalf("unexpected upload body %q", body)
	}

	get := httptest.NewRequest("POST", "/local/getbody", strings.NewReader("id=1"))
	get.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp := env.do(t, get)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); body != stored {
		t.Fatalf("正文应原样返回，得到 %q", body)
	}
}

func TestGetBodyRewritesFragmentWithoutDocumentShell(t *testing.T) {
	env := newLibraryEnv(t, nil)
	cached := env.origin.Request("/images/cached.png", "")
	if _, err := env.cache.Put(context.Background(), cache.Locator{CacheName: strategy.ImageCache, URL: cached.String()},
		strings.NewReader("cached"), cache.PutOptions{}); err != nil {
		t.Fatalf("seed image: %v", err)
	}
	if _, err := env.store.AddUpload(context.Background(), localstore.Upload{
		Name: "Epsilon",
		Body: localstore.File{Data: []byte(`<p>x</p><img src="./images/cached.png"><custom-tag>y</custom-tag>`)},
	}); err != nil {
		t.Fatalf("add upload: %v", err)
	}

	resp := env.do(t, httptest.NewRequest("POST", "/local/getbody?id=1", nil))
	body := readBody(t, resp)
	if strings.Contains(body, "<html") || strings.Contains(body, "<body") || strings.Contains(body, "<head") {
		t.Fatalf("fragment must not gain a document shell: %s", body)
	}
	if !strings.HasPrefix(body, "<p>x</p>") || !strings.HasSuffix(body, "<custom-tag>y</custom-tag>") {
		t.Fatalf("surrounding markup changed: %s", body)
	}
	if !strings.Contains(body, `src="/images/cached.png"`) {
		t.Fatalf("expected cached image link, got %s", body)
	}
}

type libraryEnv struct {
	app    *fiber.App
	store  *localstore.Store
	cache  cache.Store
	origin server.Origin
}

func newLibraryEnv(t *testing.T, open Opener) *libraryEnv {
	t.Helper()
	origin := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(origin.Close)
	return newLibraryEnvWithOrigin(t, open, origin)
}

func newLibraryEnvWithOrigin(t *testing.T, open Opener, upstream *httptest.Server) *libraryEnv {
	t.Helper()

	store, err := localstore.Open(context.Background(), filepath.Join(t.TempDir(), "upload-book.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if open == nil {
		open = func(context.Context) (Books, error) { return store, nil }
	}

	cacheStore, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("cache store: %v", err)
	}
	origin, err := server.ParseOrigin(upstream.URL)
	if err != nil {
		t.Fatalf("origin: %v", err)
	}
	profile, _ := strategy.Resolve(strategy.ImageCache)
	logger := logging.Discard()

	handlers, err := NewHandlers(Options{
		Open:   open,
		Images: NewImageResolver(cacheStore, profile, origin, upstream.Client(), logger),
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("handlers: %v", err)
	}

	app := fiber.New()
	app.Get("/local/list", handlers.List)
	app.Post("/local/upload", handlers.Upload)
	app.Post("/local/getbody", handlers.GetBody)
	return &libraryEnv{app: app, store: store, cache: cacheStore, origin: origin}
}

func (e *libraryEnv) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func multipartRequest(t *testing.T, target string, values, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range values {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for key, content := range files {
		part, err := writer.CreateFormFile(key, key+".html")
		if err != nil {
			t.Fatalf("create file: %v", err)
		}
		if _, err := io.WriteString(part, content); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest("POST", target, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(raw)
}
