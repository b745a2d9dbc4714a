package jwt

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// NumericDate values are clamped to years 1 through 9999 so that very large
// exp or nbf values stay far in the future instead of wrapping.
const (
	minNumericDate = -62135596800
	maxNumericDate = 253402300799
)

// Claims is the decoded token payload. Numbers are json.Number.
type Claims map[string]any

// Issuer returns the "iss" claim.
func (c Claims) Issuer() string { return c.str("iss") }

// Subject returns the "sub" claim.
func (c Claims) Subject() string { return c.str("sub") }

// Audience returns "aud" as a list whether it was encoded as a string or an array.
func (c Claims) Audience() []string {
	return stringList(c["aud"])
}

// ExpiresAt returns "exp". ok is false when absent; err is set when present but not a number.
func (c Claims) ExpiresAt() (time.Time, bool, error) { return c.numericDate("exp") }

// NotBefore returns "nbf".
func (c Claims) NotBefore() (time.Time, bool, error) { return c.numericDate("nbf") }

// IssuedAt returns "iat".
func (c Claims) IssuedAt() (time.Time, bool, error) { return c.numericDate("iat") }

// Lookup resolves a dotted path such as "realm_access.roles". A key that itself
// contains dots is matched before descending.
func (c Claims) Lookup(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	if v, ok := c[path]; ok {
		return v, true
	}
	var cur any = map[string]any(c)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func (c Claims) str(name string) string {
	s, _ := c[name].(string)
	return s
}

func (c Claims) numericDate(name string) (time.Time, bool, error) {
	raw, ok := c[name]
	if !ok || raw == nil {
		return time.Time{}, false, nil
	}
	var f float64
	switch v := raw.(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return time.Time{}, true, ErrMalformedToken
		}
		f = parsed
	case float64:
		f = v
	default:
		return time.Time{}, true, ErrMalformedToken
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, true, ErrMalformedToken
	}
	switch {
	case f > maxNumericDate:
		return time.Unix(maxNumericDate, 0), true, nil
	case f < minNumericDate:
		return time.Unix(minNumericDate, 0), true, nil
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), true, nil
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	default:
		return nil
	}
}
