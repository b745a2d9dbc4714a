package middleware

import (
	"context"
	"net"
	"net/http"

	"github.com/MrEthical07/gqlAuth"
)

// Context attaches the request headers and client IP to the request context.
// Field resolvers then call Extension.ResolveField with that context.
func Context() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestContext(r)))
		})
	}
}

// Guard rejects requests without a valid bearer token. Verified tokens are
// available downstream through gqlAuth.TokenFromContext.
func Guard(ext *gqlAuth.Extension) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ext == nil {
				writeError(w, gqlAuth.ErrExtensionClosed)
				return
			}

			ctx := requestContext(r)
			tok, err := ext.Authenticate(ctx)
			if err != nil {
				writeError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(gqlAuth.WithToken(ctx, tok)))
		})
	}
}

func requestContext(r *http.Request) context.Context {
	ctx := gqlAuth.WithHeaders(r.Context(), r.Header)
	if ip := clientIP(r); ip != "" {
		ctx = gqlAuth.WithClientIP(ctx, ip)
	}
	return ctx
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
