package gqlAuth

import (
	"encoding/json"

	"github.com/MrEthical07/gqlAuth/jwt"
)

// GraphQL error codes placed in extensions.code.
const (
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeInternal        = "INTERNAL_SERVER_ERROR"
)

// FieldResult is the outcome handed back to the gateway for one field.
type FieldResult struct {
	Allowed bool
	// Token is the verified token; nil for denials and anonymous access.
	Token *jwt.Token
	Error *FieldError
}

// Kind returns the failure kind, or KindNone when allowed.
func (r FieldResult) Kind() ErrorKind {
	if r.Error == nil {
		return KindNone
	}
	return r.Error.Kind
}

// FieldError is a client-safe GraphQL error. Its text never includes token
// contents, claim values or key material.
type FieldError struct {
	Message string
	Code    string
	Kind    ErrorKind
	// Path is the field coordinate (Type.field) when known.
	Path string
	err  error
}

func (e *FieldError) Error() string {
	return e.Message + ": " + string(e.Kind)
}

// Unwrap returns the underlying sentinel chain for errors.Is.
func (e *FieldError) Unwrap() error { return e.err }

type graphQLError struct {
	Message    string              `json:"message"`
	Path       []string            `json:"path,omitempty"`
	Extensions graphQLErrExtension `json:"extensions"`
}

type graphQLErrExtension struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// MarshalJSON renders the GraphQL error object.
func (e *FieldError) MarshalJSON() ([]byte, error) {
	out := graphQLError{
		Message: e.Message,
		Extensions: graphQLErrExtension{
			Code:   e.Code,
			Reason: string(e.Kind),
		},
	}
	if e.Path != "" {
		out.Path = []string{e.Path}
	}
	return json.Marshal(out)
}

// GraphQLResponse renders {"data":null,"errors":[...]} for a denied operation.
func (e *FieldError) GraphQLResponse() ([]byte, error) {
	return json.Marshal(struct {
		Data   any           `json:"data"`
		Errors []*FieldError `json:"errors"`
	}{Errors: []*FieldError{e}})
}

// NewFieldError classifies err into a client-safe GraphQL error.
func NewFieldError(err error) *FieldError {
	return newFieldError(err, "")
}

// newFieldError classifies err into a client-safe error.
func newFieldError(err error, path string) *FieldError {
	kind := KindOf(err)
	fe := &FieldError{Kind: kind, Path: path, err: err}
	switch {
	case kind == KindClaimRequirementNotMet:
		fe.Message = "Unauthorized"
		fe.Code = CodeUnauthorized
	case kind == KindInvalidDirective || kind == KindInternal || kind == KindInvalidConfiguration:
		fe.Message = "Internal server error"
		fe.Code = CodeInternal
	default:
		fe.Message = "Unauthenticated"
		fe.Code = CodeUnauthenticated
	}
	return fe
}
