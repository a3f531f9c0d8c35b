package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/readcache/readcache/internal/cache"
	"github.com/readcache/readcache/internal/config"
	"github.com/readcache/readcache/internal/logging"
	"github.com/readcache/readcache/internal/server"
	"github.com/readcache/readcache/internal/strategy"
)

func TestPrecacheStoresIntoMatchingCaches(t *testing.T) {
	var hits atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer origin.Close()

	precacher, store := newPrecacher(t, origin)
	refs := append([]string{"./find.html", "./find.html"}, config.DefaultPrecache...)
	n, err := precacher.Precache(context.Background(), refs)
	if err != nil {
		t.Fatalf("precache: %v", err)
	}
	if n != len(config.DefaultPrecache) {
		t.Fatalf("expected %d stored, got %d", len(config.DefaultPrecache), n)
	}
	if int(hits.Load()) != n {
		t.Fatalf("expected duplicates to be fetched once, hits=%d", hits.Load())
	}

	htmlKeys, _ := store.Keys(context.Background(), strategy.HTMLCache)
	imgKeys, _ := store.Keys(context.Background(), strategy.ImageCache)
	if len(htmlKeys) != 6 || len(imgKeys) != 4 {
		t.Fatalf("unexpected split html=%v img=%v", htmlKeys, imgKeys)
	}
}

func TestPrecacheFallbackCache(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer origin.Close()

	precacher, store := newPrecacher(t, origin)
	if _, err := precacher.Precache(context.Background(), []string{"./fonts/reader.woff2"}); err != nil {
		t.Fatalf("precache: %v", err)
	}
	keys, _ := store.Keys(context.Background(), strategy.PrecacheCache)
	if len(keys) != 1 || !strings.HasSuffix(keys[0], "/fonts/reader.woff2") {
		t.Fatalf("expected fallback entry, got %v", keys)
	}
}

func TestInstallStoresShellIntoPrecacheCache(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer origin.Close()

	precacher, store := newPrecacher(t, origin)
	refs := []string{"./find.html", "./images/favorite.png", "./", "./find.html"}
	n, err := precacher.Install(context.Background(), refs)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 stored, got %d", n)
	}
	keys, _ := store.Keys(context.Background(), strategy.PrecacheCache)
	if len(keys) != 3 {
		t.Fatalf("expected all shell entries in precache, got %v", keys)
	}
	htmlKeys, _ := store.Keys(context.Background(), strategy.HTMLCache)
	if len(htmlKeys) != 0 {
		t.Fatalf("install must not write html-cache, got %v", htmlKeys)
	}
}

func TestPrecacheFailsOnUpstreamError(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.html" {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer origin.Close()

	precacher, _ := newPrecacher(t, origin)
	_, err := precacher.Precache(context.Background(), []string{"./broken.html"})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected upstream status error, got %v", err)
	}
}

func newPrecacher(t *testing.T, origin *httptest.Server) (*Precacher, cache.Store) {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	base, err := server.ParseOrigin(origin.URL)
	if err != nil {
		t.Fatalf("origin: %v", err)
	}
	precacher, err := NewPrecacher(PrecacheOptions{
		Client:  origin.Client(),
		Store:   store,
		Table:   testTable(t),
		Origin:  base,
		Workers: 3,
		Logger:  logging.Discard(),
	})
	if err != nil {
		t.Fatalf("precacher: %v", err)
	}
	return precacher, store
}
