package middleware

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/gqlAuth"
)

// Optional verifies the bearer token when one is sent. Requests without a
// token pass through anonymously; requests with a bad token are rejected.
func Optional(ext *gqlAuth.Extension) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ext == nil {
				writeError(w, gqlAuth.ErrExtensionClosed)
				return
			}

			ctx := requestContext(r)
			tok, err := ext.Authenticate(ctx)
			switch {
			case errors.Is(err, gqlAuth.ErrTokenMissing):
				next.ServeHTTP(w, r.WithContext(ctx))
			case err != nil:
				writeError(w, err)
			default:
				next.ServeHTTP(w, r.WithContext(gqlAuth.WithToken(ctx, tok)))
			}
		})
	}
}
