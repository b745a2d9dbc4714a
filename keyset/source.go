package keyset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxDocumentBytes caps a fetched JWKS body.
const DefaultMaxDocumentBytes int64 = 1 << 20

// Source produces the entries of a fresh key set.
type Source interface {
	Load(ctx context.Context) ([]Entry, error)
}

// StaticSource serves a fixed list of keys.
type StaticSource struct {
	entries []Entry
}

// NewStaticSource parses keys once; Load then returns the same entries.
func NewStaticSource(keys []StaticKey) (*StaticSource, error) {
	entries, err := ParseStatic(keys)
	if err != nil {
		return nil, err
	}
	return &StaticSource{entries: entries}, nil
}

// Load returns a copy of the configured entries.
func (s *StaticSource) Load(context.Context) ([]Entry, error) {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// DocumentCache stores raw JWKS documents shared between processes.
type DocumentCache interface {
	Get(ctx context.Context, url string) ([]byte, bool, error)
	Set(ctx context.Context, url string, doc []byte, ttl time.Duration) error
}

// FetchGate budgets upstream fetches shared between processes.
type FetchGate interface {
	Allow(ctx context.Context, id string) (bool, error)
}

// ErrFetchThrottled is returned when the fetch budget is spent and no other
// process filled the shared cache in time.
var ErrFetchThrottled = errors.New("jwks fetch budget exhausted")

// RemoteConfig configures a RemoteSource.
type RemoteConfig struct {
	URL              string
	Client           *http.Client
	MaxDocumentBytes int64
	// Cache, when set, is consulted before the endpoint and filled after a fetch.
	Cache    DocumentCache
	CacheTTL time.Duration
	// Gate, when set with Cache, is asked before each upstream fetch. Over
	// budget, the source waits GateWait and reads the cache once more.
	Gate     FetchGate
	GateWait time.Duration
	Logger   *zap.Logger
}

// RemoteSource fetches a JWKS document over HTTP.
type RemoteSource struct {
	url      string
	client   *http.Client
	maxBytes int64
	cache    DocumentCache
	cacheTTL time.Duration
	gate     FetchGate
	gateWait time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	etag     string
	lastBody []byte
}

// NewRemoteSource validates cfg and returns a source for cfg.URL.
func NewRemoteSource(cfg RemoteConfig) (*RemoteSource, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("jwks url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("jwks url must use http or https")
	}
	if u.Host == "" {
		return nil, errors.New("jwks url has no host")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.MaxDocumentBytes <= 0 {
		cfg.MaxDocumentBytes = DefaultMaxDocumentBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &RemoteSource{
		url:      cfg.URL,
		client:   cfg.Client,
		maxBytes: cfg.MaxDocumentBytes,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		gate:     cfg.Gate,
		gateWait: cfg.GateWait,
		logger:   cfg.Logger,
	}, nil
}

// Load returns the entries of the current remote document.
func (s *RemoteSource) Load(ctx context.Context) ([]Entry, error) {
	if entries, ok := s.fromCache(ctx); ok {
		return entries, nil
	}
	if entries, ok, err := s.throttle(ctx); err != nil || ok {
		return entries, err
	}

	doc, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := ParseJWKS(doc)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.cacheTTL > 0 {
		if err := s.cache.Set(ctx, s.url, doc, s.cacheTTL); err != nil {
			s.logger.Warn("shared jwks cache write failed", zap.Error(err))
		}
	}
	return entries, nil
}

func (s *RemoteSource) fromCache(ctx context.Context) ([]Entry, bool) {
	if s.cache == nil {
		return nil, false
	}
	doc, ok, err := s.cache.Get(ctx, s.url)
	switch {
	case err != nil:
		s.logger.Warn("shared jwks cache read failed", zap.Error(err))
	case ok:
		entries, perr := ParseJWKS(doc)
		if perr == nil {
			return entries, true
		}
		s.logger.Warn("shared jwks cache holds an unusable document", zap.Error(perr))
	}
	return nil, false
}

// throttle asks the gate for a fetch slot. Over budget it waits for another
// process to fill the cache and returns those entries with ok set. A gate
// error lets the fetch proceed.
func (s *RemoteSource) throttle(ctx context.Context) ([]Entry, bool, error) {
	if s.gate == nil || s.cache == nil {
		return nil, false, nil
	}
	allowed, err := s.gate.Allow(ctx, s.url)
	if err != nil {
		s.logger.Warn("jwks fetch budget unavailable", zap.Error(err))
		return nil, false, nil
	}
	if allowed {
		return nil, false, nil
	}

	s.logger.Debug("jwks fetch budget spent, waiting for shared cache", zap.Duration("wait", s.gateWait))
	t := time.NewTimer(s.gateWait)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	if entries, ok := s.fromCache(ctx); ok {
		return entries, true, nil
	}
	return nil, false, ErrFetchThrottled
}

func (s *RemoteSource) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	s.mu.Lock()
	etag, last := s.etag, s.lastBody
	s.mu.Unlock()
	if etag != "" && last != nil {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && last != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, s.maxBytes))
		return last, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, s.maxBytes))
		return nil, fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read jwks: %w", err)
	}
	if int64(len(body)) > s.maxBytes {
		return nil, fmt.Errorf("jwks document exceeds %d bytes", s.maxBytes)
	}

	s.mu.Lock()
	s.etag = resp.Header.Get("ETag")
	s.lastBody = body
	s.mu.Unlock()

	return body, nil
}
