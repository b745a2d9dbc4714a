package middleware

import (
	"net/http"

	"github.com/MrEthical07/gqlAuth"
)

// RequireDirective applies d to every request. The directive is parsed once;
// an invalid directive panics at setup.
func RequireDirective(ext *gqlAuth.Extension, d gqlAuth.Directive) func(http.Handler) http.Handler {
	req, err := ext.Prepare(d)
	if err != nil {
		panic("middleware: " + err.Error())
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestContext(r)
			res := ext.Authorize(ctx, req)
			if !res.Allowed {
				writeFieldError(w, res.Error)
				return
			}
			if res.Token != nil {
				ctx = gqlAuth.WithToken(ctx, res.Token)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeFieldError(w, gqlAuth.NewFieldError(err))
}

func writeFieldError(w http.ResponseWriter, fe *gqlAuth.FieldError) {
	status := http.StatusInternalServerError
	switch fe.Code {
	case gqlAuth.CodeUnauthenticated:
		status = http.StatusUnauthorized
		if fe.Kind == gqlAuth.KindMissingToken {
			w.Header().Set("WWW-Authenticate", "Bearer")
		} else {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		}
	case gqlAuth.CodeUnauthorized:
		status = http.StatusForbidden
	}

	body, err := fe.GraphQLResponse()
	if err != nil {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "application/graphql-response+json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
