package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/gqlAuth/keyset"
)

var (
	// ErrAlgorithmNotAllowed is returned when the header algorithm is outside the allow-list.
	ErrAlgorithmNotAllowed = errors.New("algorithm not allowed")
	// ErrInvalidSignature is returned when the signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrTokenExpired is returned when exp is in the past beyond the clock skew.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenNotYetValid is returned when nbf is in the future beyond the clock skew.
	ErrTokenNotYetValid = errors.New("token not yet valid")
	// ErrIssuerMismatch is returned when iss differs from the expected issuer.
	ErrIssuerMismatch = errors.New("issuer mismatch")
	// ErrAudienceMismatch is returned when aud shares no value with the expected audiences.
	ErrAudienceMismatch = errors.New("audience mismatch")
)

// KeyResolver finds verification material for a key id.
type KeyResolver interface {
	Resolve(ctx context.Context, kid string) (keyset.Entry, error)
}

// Config holds the verification policy shared by every request.
type Config struct {
	Issuer            string
	Audiences         []string
	AllowedAlgorithms []string
	ClockSkew         time.Duration
	RequireExpiry     bool
	RequireNotBefore  bool
	MaxTokenBytes     int
	Now               func() time.Time
}

// Constraints narrow the configured policy for one call. Empty fields keep
// the configured value.
type Constraints struct {
	Issuer    string
	Audiences []string
	// Algorithms is intersected with the configured allow-list.
	Algorithms []string
}

// Verifier checks compact tokens against a key resolver. It is safe for
// concurrent use.
type Verifier struct {
	cfg      Config
	allowed  map[string]struct{}
	resolver KeyResolver
}

// NewVerifier validates cfg. Every allowed algorithm must be registered.
func NewVerifier(cfg Config, resolver KeyResolver) (*Verifier, error) {
	if resolver == nil {
		return nil, errors.New("key resolver required")
	}
	if len(cfg.AllowedAlgorithms) == 0 {
		return nil, errors.New("allowed algorithms must not be empty")
	}
	if cfg.ClockSkew < 0 {
		return nil, errors.New("clock skew must be >= 0")
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedAlgorithms))
	for _, name := range cfg.AllowedAlgorithms {
		if _, err := Lookup(name); err != nil {
			return nil, fmt.Errorf("%w: %q", err, name)
		}
		allowed[name] = struct{}{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Audiences = append([]string(nil), cfg.Audiences...)
	cfg.AllowedAlgorithms = append([]string(nil), cfg.AllowedAlgorithms...)

	return &Verifier{cfg: cfg, allowed: allowed, resolver: resolver}, nil
}

// Verify parses raw and runs every check in order: structure, algorithm
// allow-list, key resolution, key shape, signature, temporal claims, then
// issuer and audience. The returned error wraps exactly one sentinel.
func (v *Verifier) Verify(ctx context.Context, raw string, c Constraints) (*Token, error) {
	tok, err := Parse(raw, v.cfg.MaxTokenBytes)
	if err != nil {
		return nil, err
	}

	alg := tok.Header.Algorithm
	if !v.algorithmAllowed(alg, c.Algorithms) {
		return nil, fmt.Errorf("%w: %s", ErrAlgorithmNotAllowed, alg)
	}
	strategy, err := Lookup(alg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, alg)
	}

	entry, err := v.resolver.Resolve(ctx, tok.Header.KeyID)
	if err != nil {
		return nil, err
	}
	if !strategy.Accepts(entry.Shape()) {
		return nil, fmt.Errorf("%w: %s key cannot verify %s", keyset.ErrKeyShapeMismatch, entry.Shape(), alg)
	}
	if entry.Algorithm != "" && entry.Algorithm != alg {
		return nil, fmt.Errorf("%w: key is pinned to %s", keyset.ErrKeyShapeMismatch, entry.Algorithm)
	}

	if !strategy.Verify(tok.signingInput, tok.signature, entry.Material) {
		return nil, ErrInvalidSignature
	}

	if err := v.checkTime(tok.Claims); err != nil {
		return nil, err
	}
	if err := checkIssuer(tok.Claims, firstNonEmpty(c.Issuer, v.cfg.Issuer)); err != nil {
		return nil, err
	}
	audiences := v.cfg.Audiences
	if len(c.Audiences) > 0 {
		audiences = c.Audiences
	}
	if err := checkAudience(tok.Claims, audiences); err != nil {
		return nil, err
	}

	return tok, nil
}

func (v *Verifier) algorithmAllowed(alg string, narrowed []string) bool {
	if _, ok := v.allowed[alg]; !ok {
		return false
	}
	if len(narrowed) == 0 {
		return true
	}
	for _, name := range narrowed {
		if name == alg {
			return true
		}
	}
	return false
}

func (v *Verifier) checkTime(claims Claims) error {
	now := v.cfg.Now()
	skew := v.cfg.ClockSkew

	exp, ok, err := claims.ExpiresAt()
	if err != nil {
		return fmt.Errorf("%w: exp is not a number", ErrMalformedToken)
	}
	switch {
	case !ok && v.cfg.RequireExpiry:
		return fmt.Errorf("%w: exp missing", ErrTokenExpired)
	case ok && now.Add(-skew).After(exp):
		return ErrTokenExpired
	}

	nbf, ok, err := claims.NotBefore()
	if err != nil {
		return fmt.Errorf("%w: nbf is not a number", ErrMalformedToken)
	}
	switch {
	case !ok && v.cfg.RequireNotBefore:
		return fmt.Errorf("%w: nbf missing", ErrTokenNotYetValid)
	case ok && nbf.After(now.Add(skew)):
		return ErrTokenNotYetValid
	}
	return nil
}

func checkIssuer(claims Claims, want string) error {
	if want == "" {
		return nil
	}
	if claims.Issuer() != want {
		return ErrIssuerMismatch
	}
	return nil
}

func checkAudience(claims Claims, want []string) error {
	if len(want) == 0 {
		return nil
	}
	for _, got := range claims.Audience() {
		for _, w := range want {
			if got == w {
				return nil
			}
		}
	}
	return ErrAudienceMismatch
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
