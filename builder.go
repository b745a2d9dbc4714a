package gqlAuth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrEthical07/gqlAuth/internal/audit"
	"github.com/MrEthical07/gqlAuth/internal/rate"
	"github.com/MrEthical07/gqlAuth/jwt"
	"github.com/MrEthical07/gqlAuth/keyset"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Extension. A Builder is single use.
type Builder struct {
	config     Config
	settingErr error
	logger     *zap.Logger
	redis      redis.UniversalClient
	httpClient *http.Client
	auditSink  AuditSink
	now        func() time.Time

	built bool
}

// New returns a builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithSettings replaces the configuration with NewConfig(s). A bad document
// surfaces from Build.
func (b *Builder) WithSettings(s Settings) *Builder {
	cfg, err := NewConfig(s)
	if err != nil {
		b.settingErr = err
		return b
	}
	b.config = cfg
	return b
}

// WithLogger sets the logger. The default discards everything.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithRedis supplies the client used by the shared JWKS cache. The extension
// does not close it.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithHTTPClient sets the client used to fetch the JWKS document.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithAuditSink sets the audit sink. Audit must also be enabled in the config.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the authorize latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock overrides time.Now for token and key set freshness checks.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and returns a ready Extension. No network
// I/O happens here; the first request (or Warm) fetches the key set.
func (b *Builder) Build() (*Extension, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.settingErr != nil {
		return nil, b.settingErr
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.JWKS.SharedCache.Enabled && b.redis == nil {
		return nil, fmt.Errorf("%w: shared cache requires redis client", ErrInvalidConfiguration)
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("gqlauth")
	now := b.now
	if now == nil {
		now = time.Now
	}

	ext := &Extension{
		cfg:     cfg,
		logger:  logger,
		now:     now,
		metrics: NewMetrics(cfg.Metrics),
	}
	ext.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	source, err := b.keySource(cfg, logger)
	if err != nil {
		ext.audit.Close()
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	ext.resolver, err = keyset.NewResolver(keyset.ResolverConfig{
		Source:               source,
		CacheDuration:        cfg.JWKS.CacheDuration,
		FetchTimeout:         cfg.JWKS.FetchTimeout,
		RefreshBackoff:       cfg.JWKS.RefreshBackoff,
		DisableStaleFallback: cfg.JWKS.DisableStaleFallback,
		Now:                  now,
		Logger:               logger.Named("keyset"),
		Observer: observers{
			keysetObserver{metrics: ext.metrics},
			auditObserver{ext: ext},
		},
	})
	if err != nil {
		ext.audit.Close()
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	ext.verifier, err = jwt.NewVerifier(jwt.Config{
		Issuer:            cfg.Issuer,
		Audiences:         cfg.Audience,
		AllowedAlgorithms: cfg.AllowedAlgorithms,
		ClockSkew:         cfg.ClockTolerance,
		RequireExpiry:     cfg.RequireExpiry,
		RequireNotBefore:  cfg.RequireNotBefore,
		MaxTokenBytes:     cfg.MaxTokenBytes,
		Now:               now,
	}, ext.resolver)
	if err != nil {
		ext.audit.Close()
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	for _, w := range cfg.Lint() {
		logger.Warn("configuration warning", zap.String("code", w.Code), zap.String("detail", w.Message))
	}
	logger.Info("extension ready",
		zap.String("issuer", cfg.Issuer),
		zap.Strings("audience", cfg.Audience),
		zap.Strings("algorithms", cfg.AllowedAlgorithms),
		zap.Bool("remote_jwks", cfg.JWKS.URL != ""),
	)

	b.built = true
	return ext, nil
}

func (b *Builder) keySource(cfg Config, logger *zap.Logger) (keyset.Source, error) {
	if len(cfg.JWKS.StaticKeys) > 0 {
		return keyset.NewStaticSource(cfg.JWKS.StaticKeys)
	}

	remote := keyset.RemoteConfig{
		URL:              cfg.JWKS.URL,
		Client:           b.httpClient,
		MaxDocumentBytes: cfg.JWKS.MaxDocumentBytes,
		Logger:           logger.Named("jwks"),
	}
	if cfg.JWKS.SharedCache.Enabled {
		remote.Cache = keyset.NewRedisCache(b.redis, cfg.JWKS.SharedCache.RedisPrefix)
		remote.CacheTTL = cfg.JWKS.CacheDuration
		if sc := cfg.JWKS.SharedCache; sc.MaxFetches > 0 {
			remote.Gate = rate.New(b.redis, sc.RedisPrefix+":jwks", sc.MaxFetches, sc.FetchWindow)
			remote.GateWait = gateWait(cfg.JWKS.FetchTimeout)
		}
	}
	return keyset.NewRemoteSource(remote)
}

// gateWait is how long a replica over the fetch budget waits for the shared
// cache before giving up.
func gateWait(fetchTimeout time.Duration) time.Duration {
	const ceiling = 500 * time.Millisecond
	if half := fetchTimeout / 2; half < ceiling {
		return half
	}
	return ceiling
}

// observers fans resolver events out to several observers.
type observers []keyset.Observer

func (o observers) RefreshSucceeded(keys int, took time.Duration) {
	for _, obs := range o {
		obs.RefreshSucceeded(keys, took)
	}
}

func (o observers) RefreshFailed(err error) {
	for _, obs := range o {
		obs.RefreshFailed(err)
	}
}

func (o observers) StaleServed() {
	for _, obs := range o {
		obs.StaleServed()
	}
}
