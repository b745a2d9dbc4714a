package gqlAuth

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/gqlAuth/jwt"
)

type headersContextKey struct{}
type bearerTokenContextKey struct{}
type clientIPContextKey struct{}
type tokenContextKey struct{}

// WithHeaders attaches the incoming request headers to ctx. The token is read
// from the configured header when no explicit bearer token is attached.
func WithHeaders(ctx context.Context, h http.Header) context.Context {
	return context.WithValue(ctx, headersContextKey{}, h)
}

// WithBearerToken attaches a raw compact token to ctx. It takes precedence
// over headers.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerTokenContextKey{}, token)
}

// WithClientIP attaches the caller's IP address to ctx for audit records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithToken stores a verified token so downstream resolvers can read it.
func WithToken(ctx context.Context, tok *jwt.Token) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, tok)
}

// TokenFromContext returns the token stored by WithToken.
func TokenFromContext(ctx context.Context) (*jwt.Token, bool) {
	if ctx == nil {
		return nil, false
	}
	tok, ok := ctx.Value(tokenContextKey{}).(*jwt.Token)
	return tok, ok && tok != nil
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// bearerFromContext returns the raw token, or "" when the caller sent none.
func bearerFromContext(ctx context.Context, hc HeaderConfig) string {
	if ctx == nil {
		return ""
	}
	if tok, ok := ctx.Value(bearerTokenContextKey{}).(string); ok && tok != "" {
		return strings.TrimSpace(tok)
	}
	h, _ := ctx.Value(headersContextKey{}).(http.Header)
	if h == nil {
		return ""
	}
	return tokenFromHeader(h.Get(hc.Name), hc.Prefix)
}

func tokenFromHeader(value, prefix string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if prefix == "" {
		return value
	}
	p := strings.TrimSpace(prefix)
	if len(value) <= len(p) || !strings.EqualFold(value[:len(p)], p) {
		return ""
	}
	rest := value[len(p):]
	if p != prefix && rest[0] != ' ' && rest[0] != '\t' {
		return ""
	}
	return strings.TrimSpace(rest)
}
