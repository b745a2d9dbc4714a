package keyset

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCacheDuration is used when a remote source has no cache duration.
	DefaultCacheDuration = 5 * time.Minute
	// DefaultFetchTimeout bounds one refresh.
	DefaultFetchTimeout = 10 * time.Second

	refreshKey = "keyset"
)

var errRefreshBackoff = errors.New("key set refresh suppressed after recent failure")

// Observer receives refresh outcomes. Implementations must be cheap and safe
// for concurrent use.
type Observer interface {
	RefreshSucceeded(keys int, took time.Duration)
	RefreshFailed(err error)
	StaleServed()
}

type nopObserver struct{}

func (nopObserver) RefreshSucceeded(int, time.Duration) {}
func (nopObserver) RefreshFailed(error)                 {}
func (nopObserver) StaleServed()                        {}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Source        Source
	CacheDuration time.Duration
	FetchTimeout  time.Duration
	// RefreshBackoff suppresses new refresh attempts for this long after a failure.
	RefreshBackoff time.Duration
	// DisableStaleFallback turns off serving known kids from an expired set
	// while refreshes fail.
	DisableStaleFallback bool
	Now                  func() time.Time
	Logger               *zap.Logger
	Observer             Observer
}

// Resolver hands out verification keys from a cached, lazily refreshed set.
// It is safe for concurrent use.
type Resolver struct {
	source       Source
	ttl          time.Duration
	fetchTimeout time.Duration
	backoff      time.Duration
	stale        bool
	now          func() time.Time
	logger       *zap.Logger
	observer     Observer

	current      atomic.Pointer[KeySet]
	backoffUntil atomic.Int64
	inflight     atomic.Bool
	group        singleflight.Group
}

// NewResolver returns a resolver with an empty cache; the first Resolve fetches.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Source == nil {
		return nil, errors.New("key source required")
	}
	if cfg.CacheDuration < 0 || cfg.FetchTimeout < 0 || cfg.RefreshBackoff < 0 {
		return nil, errors.New("key set durations must be >= 0")
	}
	if cfg.CacheDuration == 0 {
		cfg.CacheDuration = DefaultCacheDuration
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}

	return &Resolver{
		source:       cfg.Source,
		ttl:          cfg.CacheDuration,
		fetchTimeout: cfg.FetchTimeout,
		backoff:      cfg.RefreshBackoff,
		stale:        !cfg.DisableStaleFallback,
		now:          cfg.Now,
		logger:       cfg.Logger,
		observer:     cfg.Observer,
	}, nil
}

// Current returns the cached set, or nil before the first successful refresh.
func (r *Resolver) Current() *KeySet {
	return r.current.Load()
}

// Warm performs a refresh if the cache is not fresh.
func (r *Resolver) Warm(ctx context.Context) error {
	if r.current.Load().FreshAt(r.now()) {
		return nil
	}
	if _, err := r.refresh(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrKeySetUnavailable, err)
	}
	return nil
}

// Resolve returns the key for kid.
//
// A fresh set answers directly; a kid missing from it fails with
// ErrUnknownKeyID without refetching. An absent or expired set is refreshed
// once for all concurrent callers. While that refresh is in flight, callers
// whose kid is in the expired set are answered from it without waiting. When
// the refresh fails, an expired set still serves the kids it holds until one
// further cache duration has passed.
func (r *Resolver) Resolve(ctx context.Context, kid string) (Entry, error) {
	now := r.now()
	current := r.current.Load()
	if current.FreshAt(now) {
		return current.Lookup(kid)
	}

	if r.inflight.Load() && r.staleUsable(current, now) && current.Has(kid) {
		return r.serveStale(current, kid)
	}

	next, err := r.refresh(ctx)
	if err == nil {
		return next.Lookup(kid)
	}

	if r.staleUsable(current, now) {
		return r.serveStale(current, kid)
	}

	return Entry{}, fmt.Errorf("%w: %w", ErrKeySetUnavailable, err)
}

// staleUsable reports whether an expired set may still answer lookups at now.
func (r *Resolver) staleUsable(set *KeySet, now time.Time) bool {
	return set != nil && r.stale && now.Before(set.Deadline().Add(r.ttl))
}

func (r *Resolver) serveStale(set *KeySet, kid string) (Entry, error) {
	entry, err := set.Lookup(kid)
	if err != nil {
		return Entry{}, err
	}
	r.observer.StaleServed()
	r.logger.Debug("serving key from expired key set",
		zap.String("kid", kid),
		zap.Time("deadline", set.Deadline()),
	)
	return entry, nil
}

func (r *Resolver) refresh(ctx context.Context) (*KeySet, error) {
	if until := r.backoffUntil.Load(); until != 0 && r.now().UnixNano() < until {
		return nil, errRefreshBackoff
	}

	ch := r.group.DoChan(refreshKey, func() (any, error) {
		r.inflight.Store(true)
		defer r.inflight.Store(false)

		// A flight that finished just before this one may already have stored a fresh set.
		if set := r.current.Load(); set.FreshAt(r.now()) {
			return set, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
		defer cancel()

		started := time.Now()
		entries, err := r.source.Load(fetchCtx)
		if err != nil {
			if r.backoff > 0 {
				r.backoffUntil.Store(r.now().Add(r.backoff).UnixNano())
			}
			r.observer.RefreshFailed(err)
			r.logger.Warn("key set refresh failed", zap.Error(err))
			return nil, err
		}

		set := New(entries, r.now(), r.ttl)
		r.current.Store(set)
		r.backoffUntil.Store(0)

		took := time.Since(started)
		r.observer.RefreshSucceeded(set.Len(), took)
		r.logger.Info("key set refreshed",
			zap.Int("keys", set.Len()),
			zap.Duration("took", took),
			zap.Time("fresh_until", set.Deadline()),
		)
		return set, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
