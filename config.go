package gqlAuth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/gqlAuth/jwt"
	"github.com/MrEthical07/gqlAuth/keyset"
)

// Config is the validated extension configuration.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	// Issuer, when set, must equal the token's iss claim.
	Issuer string
	// Audience, when non-empty, must share at least one value with the token's aud claim.
	Audience []string

	JWKS              JWKSConfig
	ClockTolerance    time.Duration
	AllowedAlgorithms []string
	RequireExpiry     bool
	RequireNotBefore  bool
	MaxTokenBytes     int

	Header  HeaderConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

/*
====================================
KEY SOURCE CONFIG
====================================
*/

// JWKSConfig selects the key source: exactly one of URL or StaticKeys.
type JWKSConfig struct {
	URL        string
	StaticKeys []keyset.StaticKey

	// CacheDuration is how long a fetched key set stays fresh. It also bounds
	// how long an expired set may be served while refreshes fail.
	CacheDuration        time.Duration
	FetchTimeout         time.Duration
	RefreshBackoff       time.Duration
	DisableStaleFallback bool
	MaxDocumentBytes     int64

	SharedCache SharedCacheConfig
}

// SharedCacheConfig stores fetched JWKS documents in Redis so gateway replicas
// share one fetch per cache period. It needs Builder.WithRedis.
type SharedCacheConfig struct {
	Enabled     bool
	RedisPrefix string
	// MaxFetches caps upstream fetches per FetchWindow across all replicas.
	// A replica over budget waits for another replica to fill the cache.
	// 0 disables the budget.
	MaxFetches  int
	FetchWindow time.Duration
}

/*
====================================
REQUEST CONFIG
====================================
*/

// HeaderConfig controls where the bearer token is read from.
type HeaderConfig struct {
	Name   string
	Prefix string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// EmitAllowed also records successful authorizations. Denials are always recorded.
	EmitAllowed bool
}

// MetricsConfig toggles in-process counters and the latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

const (
	defaultClockTolerance = 5 * time.Second
	defaultRefreshBackoff = 5 * time.Second
	defaultHeaderName     = "Authorization"
	defaultHeaderPrefix   = "Bearer "
	defaultRedisPrefix    = "gqlauth"
	defaultMaxFetches     = 10
	defaultFetchWindow    = time.Minute
)

// DefaultConfig returns the baseline configuration. A key source must still be set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWKS: JWKSConfig{
			CacheDuration:    keyset.DefaultCacheDuration,
			FetchTimeout:     keyset.DefaultFetchTimeout,
			RefreshBackoff:   defaultRefreshBackoff,
			MaxDocumentBytes: keyset.DefaultMaxDocumentBytes,
			SharedCache: SharedCacheConfig{
				RedisPrefix: defaultRedisPrefix,
				MaxFetches:  defaultMaxFetches,
				FetchWindow: defaultFetchWindow,
			},
		},
		ClockTolerance:    defaultClockTolerance,
		AllowedAlgorithms: jwt.DefaultAllowed(),
		MaxTokenBytes:     jwt.DefaultMaxTokenBytes,
		Header: HeaderConfig{
			Name:   defaultHeaderName,
			Prefix: defaultHeaderPrefix,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Audience = cloneStrings(cfg.Audience)
	out.AllowedAlgorithms = cloneStrings(cfg.AllowedAlgorithms)
	if cfg.JWKS.StaticKeys != nil {
		out.JWKS.StaticKeys = make([]keyset.StaticKey, len(cfg.JWKS.StaticKeys))
		for i, k := range cfg.JWKS.StaticKeys {
			k.Secret = cloneBytes(k.Secret)
			out.JWKS.StaticKeys[i] = k
		}
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks every setting. Errors wrap ErrInvalidConfiguration.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	return nil
}

func (c *Config) validate() error {
	// Key source
	hasURL := c.JWKS.URL != ""
	hasStatic := len(c.JWKS.StaticKeys) > 0
	switch {
	case hasURL && hasStatic:
		return errors.New("JWKS URL and StaticKeys are mutually exclusive")
	case !hasURL && !hasStatic:
		return errors.New("JWKS URL or StaticKeys required")
	}
	if hasURL {
		u, err := url.Parse(c.JWKS.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("JWKS URL must be an absolute http(s) URL")
		}
	}
	if hasStatic {
		if _, err := keyset.ParseStatic(c.JWKS.StaticKeys); err != nil {
			return fmt.Errorf("JWKS StaticKeys: %w", err)
		}
	}
	if c.JWKS.CacheDuration <= 0 {
		return errors.New("JWKS CacheDuration must be > 0")
	}
	if c.JWKS.FetchTimeout <= 0 {
		return errors.New("JWKS FetchTimeout must be > 0")
	}
	if c.JWKS.RefreshBackoff < 0 {
		return errors.New("JWKS RefreshBackoff must be >= 0")
	}
	if c.JWKS.MaxDocumentBytes <= 0 {
		return errors.New("JWKS MaxDocumentBytes must be > 0")
	}
	if c.JWKS.SharedCache.Enabled {
		if !hasURL {
			return errors.New("JWKS SharedCache requires a JWKS URL")
		}
		if c.JWKS.SharedCache.RedisPrefix == "" {
			return errors.New("JWKS SharedCache RedisPrefix must not be empty")
		}
		if c.JWKS.SharedCache.MaxFetches < 0 {
			return errors.New("JWKS SharedCache MaxFetches must be >= 0")
		}
		if c.JWKS.SharedCache.MaxFetches > 0 && c.JWKS.SharedCache.FetchWindow <= 0 {
			return errors.New("JWKS SharedCache FetchWindow must be > 0")
		}
	}

	// Verification
	if c.ClockTolerance < 0 {
		return errors.New("ClockTolerance must be >= 0")
	}
	if len(c.AllowedAlgorithms) == 0 {
		return errors.New("AllowedAlgorithms must not be empty")
	}
	seen := make(map[string]struct{}, len(c.AllowedAlgorithms))
	for _, alg := range c.AllowedAlgorithms {
		if _, err := jwt.Lookup(alg); err != nil {
			return fmt.Errorf("AllowedAlgorithms: %q is not supported", alg)
		}
		if _, dup := seen[alg]; dup {
			return fmt.Errorf("AllowedAlgorithms: %q listed twice", alg)
		}
		seen[alg] = struct{}{}
	}
	for _, aud := range c.Audience {
		if aud == "" {
			return errors.New("Audience entries must not be empty")
		}
	}
	if c.MaxTokenBytes <= 0 {
		return errors.New("MaxTokenBytes must be > 0")
	}

	// Request
	if strings.TrimSpace(c.Header.Name) == "" {
		return errors.New("Header Name must not be empty")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

/*
====================================
LINT
====================================
*/

// LintWarning is an advisory finding on a valid configuration.
type LintWarning struct {
	Code    string
	Message string
}

// LintWarnings is the result of Config.Lint.
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Code
	}
	return out
}

// Lint reports settings that are valid but weaken verification.
func (c Config) Lint() LintWarnings {
	var ws LintWarnings
	if c.Issuer == "" {
		ws = append(ws, LintWarning{"issuer_unset", "tokens from any issuer holding a trusted key are accepted"})
	}
	if len(c.Audience) == 0 {
		ws = append(ws, LintWarning{"audience_unset", "tokens minted for other audiences are accepted"})
	}
	if c.ClockTolerance > time.Minute {
		ws = append(ws, LintWarning{"clock_tolerance_large", "clock tolerance above one minute extends token lifetime"})
	}
	for _, alg := range c.AllowedAlgorithms {
		if a, err := jwt.Lookup(alg); err == nil && a.Symmetric() {
			ws = append(ws, LintWarning{"symmetric_algorithm_allowed", "HMAC algorithms are allowed; keep the secret off every token holder"})
			break
		}
	}
	if c.JWKS.URL != "" && strings.HasPrefix(c.JWKS.URL, "http://") {
		ws = append(ws, LintWarning{"jwks_insecure_url", "JWKS is fetched over plain http"})
	}
	if c.JWKS.URL != "" && !c.JWKS.DisableStaleFallback && c.JWKS.CacheDuration > time.Hour {
		ws = append(ws, LintWarning{"stale_window_long", "expired keys may be served for over an hour while refreshes fail"})
	}
	if !c.RequireExpiry {
		ws = append(ws, LintWarning{"expiry_optional", "tokens without exp never expire"})
	}
	return ws
}
