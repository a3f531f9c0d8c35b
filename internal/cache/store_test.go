package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/readcache/readcache/internal/strategy"
)

func TestStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{CacheName: strategy.HTMLCache, URL: "https://books.example.org/content/3/7.html"}

	storedAt := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	payload := []byte("<p>chapter</p>")
	header := http.Header{"Content-Type": []string{"text/html"}}
	if _, err := store.Put(context.Background(), locator, bytes.NewReader(payload), PutOptions{StoredAt: storedAt, Header: header}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	result, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	if result.Entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", result.Entry.SizeBytes)
	}
	if !result.Entry.StoredAt.Equal(storedAt) {
		t.Fatalf("stored_at mismatch: expected %v got %v", storedAt, result.Entry.StoredAt)
	}
	if result.Entry.Status != http.StatusOK {
		t.Fatalf("status should default to 200, got %d", result.Entry.Status)
	}
	if result.Entry.Header.Get("Content-Type") != "text/html" {
		t.Fatalf("header not persisted: %v", result.Entry.Header)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), Locator{CacheName: strategy.ImageCache, URL: "https://books.example.org/missing.png"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{CacheName: strategy.ImageCache, URL: "https://books.example.org/images/a.png"}
	if _, err := store.Put(context.Background(), locator, bytes.NewReader([]byte("data")), PutOptions{}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.Remove(context.Background(), locator); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, err := store.Get(context.Background(), locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after remove, got %v", err)
	}
}

func TestStoreKeysListsURLs(t *testing.T) {
	store := newTestStore(t)
	urls := []string{
		"https://books.example.org/content/3/7.html",
		"https://books.example.org/content/index/foo.html",
		"https://books.example.org/content/index",
		"https://books.example.org/find.html?x=1",
	}
	for _, u := range urls {
		if _, err := store.Put(context.Background(), Locator{CacheName: strategy.HTMLCache, URL: u}, bytes.NewReader([]byte(u)), PutOptions{}); err != nil {
			t.Fatalf("put %s error: %v", u, err)
		}
	}
	if _, err := store.Put(context.Background(), Locator{CacheName: strategy.ImageCache, URL: "https://books.example.org/a.png"}, bytes.NewReader([]byte("png")), PutOptions{}); err != nil {
		t.Fatalf("put image error: %v", err)
	}

	keys, err := store.Keys(context.Background(), strategy.HTMLCache)
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(keys) != len(urls) {
		t.Fatalf("expected %d keys, got %v", len(urls), keys)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Fatalf("keys should be sorted: %v", keys)
		}
	}
}

func TestStoreKeysEmptyCache(t *testing.T) {
	store := newTestStore(t)
	keys, err := store.Keys(context.Background(), strategy.IndexCache)
	if err != nil {
		t.Fatalf("keys on empty cache should not fail: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no keys, got %v", keys)
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{CacheName: strategy.IndexCache, URL: "https://books.example.org/content"}

	fs, ok := store.(*fileStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}

	base, err := fs.entryPath(locator)
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := os.MkdirAll(base+bodySuffix, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := store.Get(context.Background(), locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestStrategyWriterEvictsExpired(t *testing.T) {
	store := newTestStore(t)
	profile := strategy.Profile{CacheName: strategy.ImageCache, MaxAge: 30 * 24 * time.Hour}
	now := time.Now().UTC()
	writer := NewStrategyWriter(store, profile).WithClock(func() time.Time { return now })

	locator := writer.Locator("https://books.example.org/images/old.png")
	stale := now.Add(-31 * 24 * time.Hour)
	if _, err := writer.Put(context.Background(), locator, bytes.NewReader([]byte("old")), PutOptions{StoredAt: stale}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	if _, err := writer.Lookup(context.Background(), locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired entry should be reported missing, got %v", err)
	}
	if _, err := store.Get(context.Background(), locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired entry should be removed from disk, got %v", err)
	}
}

func TestStrategyWriterServesFresh(t *testing.T) {
	store := newTestStore(t)
	profile := strategy.Profile{CacheName: strategy.ImageCache, MaxAge: 30 * 24 * time.Hour}
	writer := NewStrategyWriter(store, profile)

	locator := writer.Locator("https://books.example.org/images/new.png")
	if _, err := writer.Put(context.Background(), locator, bytes.NewReader([]byte("new")), PutOptions{}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	result, err := writer.Lookup(context.Background(), locator)
	if err != nil {
		t.Fatalf("fresh entry lookup failed: %v", err)
	}
	result.Reader.Close()
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
