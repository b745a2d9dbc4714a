package keyset

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newJWKSServer(t *testing.T, doc []byte) (*httptest.Server, *atomic.Int64, *atomic.Int64) {
	t.Helper()
	var hits, notModified atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(doc)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits, &notModified
}

func edDocument(t *testing.T, kid string) []byte {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return mustJWKS(t, mustJWK(t, pub, kid, nil))
}

func TestRemoteSourceFetchAndConditionalRequest(t *testing.T) {
	srv, hits, notModified := newJWKSServer(t, edDocument(t, "k1"))

	src, err := NewRemoteSource(RemoteConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewRemoteSource: %v", err)
	}

	for i := 0; i < 2; i++ {
		entries, err := src.Load(context.Background())
		if err != nil {
			t.Fatalf("Load #%d: %v", i, err)
		}
		if len(entries) != 1 || entries[0].KeyID != "k1" {
			t.Fatalf("Load #%d entries: %+v", i, entries)
		}
	}
	if hits.Load() != 2 || notModified.Load() != 1 {
		t.Fatalf("expected second request to be conditional, hits=%d notModified=%d", hits.Load(), notModified.Load())
	}
}

func TestRemoteSourceRejectsBadResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/500":
			w.WriteHeader(http.StatusInternalServerError)
		case "/big":
			_, _ = w.Write(make([]byte, 4096))
		default:
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()

	for _, path := range []string{"/500", "/big", "/garbage"} {
		src, err := NewRemoteSource(RemoteConfig{URL: srv.URL + path, MaxDocumentBytes: 1024})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := src.Load(context.Background()); err == nil {
			t.Errorf("%s: expected error", path)
		}
	}
}

func TestNewRemoteSourceValidatesURL(t *testing.T) {
	for _, u := range []string{"", "ftp://example.com/jwks", "https://", "://bad"} {
		if _, err := NewRemoteSource(RemoteConfig{URL: u}); err == nil {
			t.Errorf("expected error for %q", u)
		}
	}
}

func TestRemoteSourceSharedRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	srv, hits, _ := newJWKSServer(t, edDocument(t, "shared"))
	cache := NewRedisCache(rdb, "test")

	first, err := NewRemoteSource(RemoteConfig{URL: srv.URL, Cache: cache, CacheTTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	second, err := NewRemoteSource(RemoteConfig{URL: srv.URL, Cache: cache, CacheTTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := first.Load(context.Background()); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	entries, err := second.Load(context.Background())
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if len(entries) != 1 || entries[0].KeyID != "shared" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if hits.Load() != 1 {
		t.Fatalf("second instance should read the shared document, endpoint hits=%d", hits.Load())
	}

	mr.FastForward(2 * time.Minute)
	if _, err := second.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expired shared document should trigger a fetch, hits=%d", hits.Load())
	}
}

func TestRemoteSourceRedisDownFallsBackToFetch(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	srv, hits, _ := newJWKSServer(t, edDocument(t, "k1"))
	src, err := NewRemoteSource(RemoteConfig{URL: srv.URL, Cache: NewRedisCache(rdb, ""), CacheTTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.Load(context.Background()); err != nil {
		t.Fatalf("Load with redis down: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected direct fetch, hits=%d", hits.Load())
	}
}

func TestStaticSourceLoadReturnsCopy(t *testing.T) {
	src, err := NewStaticSource([]StaticKey{{KeyID: "k", Secret: []byte("abc")}})
	if err != nil {
		t.Fatal(err)
	}
	a, _ := src.Load(context.Background())
	a[0].KeyID = "changed"
	b, _ := src.Load(context.Background())
	if b[0].KeyID != "k" {
		t.Fatalf("static entries mutated: %+v", b[0])
	}
}

type memoryCache struct {
	docs map[string][]byte
}

func (c *memoryCache) Get(_ context.Context, url string) ([]byte, bool, error) {
	doc, ok := c.docs[url]
	return doc, ok, nil
}

func (c *memoryCache) Set(_ context.Context, url string, doc []byte, _ time.Duration) error {
	c.docs[url] = doc
	return nil
}

type gateFunc func(ctx context.Context, id string) (bool, error)

func (f gateFunc) Allow(ctx context.Context, id string) (bool, error) { return f(ctx, id) }

func TestRemoteSourceFetchGate(t *testing.T) {
	doc := edDocument(t, "ed-1")

	t.Run("over budget reads what another replica stored", func(t *testing.T) {
		srv, hits, _ := newJWKSServer(t, doc)
		cache := &memoryCache{docs: map[string][]byte{}}
		gate := gateFunc(func(_ context.Context, url string) (bool, error) {
			cache.docs[url] = doc
			return false, nil
		})
		src, err := NewRemoteSource(RemoteConfig{URL: srv.URL, Cache: cache, CacheTTL: time.Minute, Gate: gate, GateWait: time.Millisecond})
		if err != nil {
			t.Fatalf("NewRemoteSource: %v", err)
		}
		entries, err := src.Load(context.Background())
		if err != nil || len(entries) != 1 {
			t.Fatalf("Load: entries=%d err=%v", len(entries), err)
		}
		if hits.Load() != 0 {
			t.Fatalf("expected no upstream fetch, got %d", hits.Load())
		}
	})

	t.Run("over budget with empty cache is throttled", func(t *testing.T) {
		srv, hits, _ := newJWKSServer(t, doc)
		gate := gateFunc(func(context.Context, string) (bool, error) { return false, nil })
		src, err := NewRemoteSource(RemoteConfig{URL: srv.URL, Cache: &memoryCache{docs: map[string][]byte{}}, CacheTTL: time.Minute, Gate: gate, GateWait: time.Millisecond})
		if err != nil {
			t.Fatalf("NewRemoteSource: %v", err)
		}
		if _, err := src.Load(context.Background()); !errors.Is(err, ErrFetchThrottled) {
			t.Fatalf("expected ErrFetchThrottled, got %v", err)
		}
		if hits.Load() != 0 {
			t.Fatalf("expected no upstream fetch, got %d", hits.Load())
		}
	})

	t.Run("gate failure lets the fetch through", func(t *testing.T) {
		srv, hits, _ := newJWKSServer(t, doc)
		gate := gateFunc(func(context.Context, string) (bool, error) { return false, errors.New("redis down") })
		src, err := NewRemoteSource(RemoteConfig{URL: srv.URL, Cache: &memoryCache{docs: map[string][]byte{}}, CacheTTL: time.Minute, Gate: gate, GateWait: time.Millisecond})
		if err != nil {
			t.Fatalf("NewRemoteSource: %v", err)
		}
		if _, err := src.Load(context.Background()); err != nil {
			t.Fatalf("Load: %v", err)
		}
		if hits.Load() != 1 {
			t.Fatalf("expected one upstream fetch, got %d", hits.Load())
		}
	})
}
