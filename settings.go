package gqlAuth

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/MrEthical07/gqlAuth/keyset"
	"github.com/pelletier/go-toml/v2"
)

// Settings is the operator-facing configuration document. Zero values keep
// the defaults of DefaultConfig.
type Settings struct {
	Issuer   string     `json:"issuer,omitempty"`
	Audience StringList `json:"audience,omitempty"`

	JWKSURL    string             `json:"jwks_url,omitempty"`
	StaticKeys []StaticKeySetting `json:"static_keys,omitempty"`

	CacheDuration Duration `json:"cache_duration,omitempty"`
	// PollInterval is accepted as an alias of CacheDuration.
	PollInterval         Duration            `json:"poll_interval,omitempty"`
	FetchTimeout         Duration            `json:"fetch_timeout,omitempty"`
	RefreshBackoff       *Duration           `json:"refresh_backoff,omitempty"`
	DisableStaleFallback bool                `json:"disable_stale_fallback,omitempty"`
	MaxDocumentBytes     int64               `json:"max_document_bytes,omitempty"`
	SharedCache          *SharedCacheSetting `json:"shared_cache,omitempty"`

	ClockTolerance    *Duration `json:"clock_tolerance,omitempty"`
	AllowedAlgorithms []string  `json:"allowed_algorithms,omitempty"`
	RequireExpiry     bool      `json:"require_expiry,omitempty"`
	RequireNotBefore  bool      `json:"require_not_before,omitempty"`
	MaxTokenBytes     int       `json:"max_token_bytes,omitempty"`

	HeaderName   string  `json:"header_name,omitempty"`
	HeaderPrefix *string `json:"header_prefix,omitempty"`

	Audit   *AuditSetting   `json:"audit,omitempty"`
	Metrics *MetricsSetting `json:"metrics,omitempty"`
}

// StaticKeySetting is one entry of static_keys. Secret is a UTF-8 HMAC
// secret; SecretBase64 carries arbitrary secret bytes in standard base64.
type StaticKeySetting struct {
	KeyID        string `json:"kid,omitempty"`
	Algorithm    string `json:"alg,omitempty"`
	JWK          string `json:"jwk,omitempty"`
	PEM          string `json:"pem,omitempty"`
	Secret       string `json:"secret,omitempty"`
	SecretBase64 string `json:"secret_b64,omitempty"`
}

// SharedCacheSetting mirrors SharedCacheConfig.
type SharedCacheSetting struct {
	Enabled     bool     `json:"enabled"`
	RedisPrefix string   `json:"redis_prefix,omitempty"`
	MaxFetches  *int     `json:"max_fetches,omitempty"`
	FetchWindow Duration `json:"fetch_window,omitempty"`
}

// AuditSetting mirrors AuditConfig.
type AuditSetting struct {
	Enabled     bool  `json:"enabled"`
	BufferSize  int   `json:"buffer_size,omitempty"`
	DropIfFull  *bool `json:"drop_if_full,omitempty"`
	EmitAllowed bool  `json:"emit_allowed,omitempty"`
}

// MetricsSetting mirrors MetricsConfig.
type MetricsSetting struct {
	Enabled           bool `json:"enabled"`
	LatencyHistograms bool `json:"latency_histograms,omitempty"`
}

// Duration decodes from a Go duration string ("90s") or a number of seconds.
type Duration time.Duration

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "1m30s" or 90.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds")
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// StringList decodes from a single string or a list of strings.
type StringList []string

// UnmarshalJSON accepts "a" or ["a", "b"].
func (l *StringList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = StringList{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return errors.New("expected a string or a list of strings")
	}
	*l = StringList(list)
	return nil
}

// NewConfig builds a validated Config from s.
func NewConfig(s Settings) (Config, error) {
	cfg := defaultConfig()

	cfg.Issuer = s.Issuer
	cfg.Audience = cloneStrings(s.Audience)

	cfg.JWKS.URL = s.JWKSURL
	for _, k := range s.StaticKeys {
		secret, err := k.secret()
		if err != nil {
			return Config{}, err
		}
		cfg.JWKS.StaticKeys = append(cfg.JWKS.StaticKeys, keyset.StaticKey{
			KeyID:     k.KeyID,
			Algorithm: k.Algorithm,
			JWK:       k.JWK,
			PEM:       k.PEM,
			Secret:    secret,
		})
	}

	switch {
	case s.CacheDuration != 0 && s.PollInterval != 0 && s.CacheDuration != s.PollInterval:
		return Config{}, fmt.Errorf("%w: cache_duration and poll_interval disagree", ErrInvalidConfiguration)
	case s.CacheDuration != 0:
		cfg.JWKS.CacheDuration = time.Duration(s.CacheDuration)
	case s.PollInterval != 0:
		cfg.JWKS.CacheDuration = time.Duration(s.PollInterval)
	}
	if s.FetchTimeout != 0 {
		cfg.JWKS.FetchTimeout = time.Duration(s.FetchTimeout)
	}
	if s.RefreshBackoff != nil {
		cfg.JWKS.RefreshBackoff = time.Duration(*s.RefreshBackoff)
	}
	cfg.JWKS.DisableStaleFallback = s.DisableStaleFallback
	if s.MaxDocumentBytes != 0 {
		cfg.JWKS.MaxDocumentBytes = s.MaxDocumentBytes
	}
	if s.SharedCache != nil {
		cfg.JWKS.SharedCache.Enabled = s.SharedCache.Enabled
		if s.SharedCache.RedisPrefix != "" {
			cfg.JWKS.SharedCache.RedisPrefix = s.SharedCache.RedisPrefix
		}
		if s.SharedCache.MaxFetches != nil {
			cfg.JWKS.SharedCache.MaxFetches = *s.SharedCache.MaxFetches
		}
		if s.SharedCache.FetchWindow != 0 {
			cfg.JWKS.SharedCache.FetchWindow = time.Duration(s.SharedCache.FetchWindow)
		}
	}

	if s.ClockTolerance != nil {
		cfg.ClockTolerance = time.Duration(*s.ClockTolerance)
	}
	if s.AllowedAlgorithms != nil {
		cfg.AllowedAlgorithms = cloneStrings(s.AllowedAlgorithms)
	}
	cfg.RequireExpiry = s.RequireExpiry
	cfg.RequireNotBefore = s.RequireNotBefore
	if s.MaxTokenBytes != 0 {
		cfg.MaxTokenBytes = s.MaxTokenBytes
	}

	if s.HeaderName != "" {
		cfg.Header.Name = s.HeaderName
	}
	if s.HeaderPrefix != nil {
		cfg.Header.Prefix = *s.HeaderPrefix
	}

	if s.Audit != nil {
		cfg.Audit.Enabled = s.Audit.Enabled
		if s.Audit.BufferSize != 0 {
			cfg.Audit.BufferSize = s.Audit.BufferSize
		}
		if s.Audit.DropIfFull != nil {
			cfg.Audit.DropIfFull = *s.Audit.DropIfFull
		}
		cfg.Audit.EmitAllowed = s.Audit.EmitAllowed
	}
	if s.Metrics != nil {
		cfg.Metrics.Enabled = s.Metrics.Enabled
		cfg.Metrics.EnableLatencyHistograms = s.Metrics.LatencyHistograms
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Settings renders c as a fully populated settings document. NewConfig on the
// result yields a Config equal to c.
func (c Config) Settings() Settings {
	refreshBackoff := Duration(c.JWKS.RefreshBackoff)
	maxFetches := c.JWKS.SharedCache.MaxFetches
	clockTolerance := Duration(c.ClockTolerance)
	prefix := c.Header.Prefix
	dropIfFull := c.Audit.DropIfFull

	s := Settings{
		Issuer:               c.Issuer,
		Audience:             StringList(cloneStrings(c.Audience)),
		JWKSURL:              c.JWKS.URL,
		CacheDuration:        Duration(c.JWKS.CacheDuration),
		FetchTimeout:         Duration(c.JWKS.FetchTimeout),
		RefreshBackoff:       &refreshBackoff,
		DisableStaleFallback: c.JWKS.DisableStaleFallback,
		MaxDocumentBytes:     c.JWKS.MaxDocumentBytes,
		SharedCache: &SharedCacheSetting{
			Enabled:     c.JWKS.SharedCache.Enabled,
			RedisPrefix: c.JWKS.SharedCache.RedisPrefix,
			MaxFetches:  &maxFetches,
			FetchWindow: Duration(c.JWKS.SharedCache.FetchWindow),
		},
		ClockTolerance:    &clockTolerance,
		AllowedAlgorithms: cloneStrings(c.AllowedAlgorithms),
		RequireExpiry:     c.RequireExpiry,
		RequireNotBefore:  c.RequireNotBefore,
		MaxTokenBytes:     c.MaxTokenBytes,
		HeaderName:        c.Header.Name,
		HeaderPrefix:      &prefix,
		Audit: &AuditSetting{
			Enabled:     c.Audit.Enabled,
			BufferSize:  c.Audit.BufferSize,
			DropIfFull:  &dropIfFull,
			EmitAllowed: c.Audit.EmitAllowed,
		},
		Metrics: &MetricsSetting{
			Enabled:           c.Metrics.Enabled,
			LatencyHistograms: c.Metrics.EnableLatencyHistograms,
		},
	}
	for _, k := range c.JWKS.StaticKeys {
		ks := StaticKeySetting{
			KeyID:     k.KeyID,
			Algorithm: k.Algorithm,
			JWK:       k.JWK,
			PEM:       k.PEM,
		}
		if utf8.Valid(k.Secret) {
			ks.Secret = string(k.Secret)
		} else {
			ks.SecretBase64 = base64.StdEncoding.EncodeToString(k.Secret)
		}
		s.StaticKeys = append(s.StaticKeys, ks)
	}
	return s
}

func (k StaticKeySetting) secret() ([]byte, error) {
	switch {
	case k.Secret != "" && k.SecretBase64 != "":
		return nil, fmt.Errorf("%w: static key %q sets both secret and secret_b64", ErrInvalidConfiguration, k.KeyID)
	case k.SecretBase64 != "":
		b, err := base64.StdEncoding.DecodeString(k.SecretBase64)
		if err != nil {
			return nil, fmt.Errorf("%w: static key %q: secret_b64: %v", ErrInvalidConfiguration, k.KeyID, err)
		}
		return b, nil
	case k.Secret != "":
		return []byte(k.Secret), nil
	}
	return nil, nil
}

// DecodeSettingsJSON reads a JSON settings document. Unknown keys are rejected.
func DecodeSettingsJSON(r io.Reader) (Settings, error) {
	var s Settings
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("%w: settings: %w", ErrInvalidConfiguration, err)
	}
	return s, nil
}

// DecodeSettingsTOML reads a TOML settings document with the same keys as the
// JSON form. Durations are strings ("5m") or seconds.
func DecodeSettingsTOML(r io.Reader) (Settings, error) {
	var doc map[string]any
	if err := toml.NewDecoder(r).Decode(&doc); err != nil {
		return Settings{}, fmt.Errorf("%w: settings: %w", ErrInvalidConfiguration, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: settings: %w", ErrInvalidConfiguration, err)
	}
	return DecodeSettingsJSON(bytes.NewReader(raw))
}

// EncodeSettingsTOML writes s as TOML.
func EncodeSettingsTOML(w io.Writer, s Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return toml.NewEncoder(w).Encode(doc)
}
