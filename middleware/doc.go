// Package middleware adapts a gqlAuth.Extension to net/http so a GraphQL
// endpoint can carry request headers into resolver contexts and, when wanted,
// reject bad tokens before the GraphQL layer runs.
//
// # Handlers
//
//   - [Context] attaches headers and client IP so field-level checks can read the token.
//   - [Guard] requires a valid token for every request.
//   - [Optional] verifies a token when one is sent and lets anonymous requests through.
//   - [RequireDirective] applies one directive to the whole endpoint.
//
// Rejections are written as GraphQL error responses with 401, 403 or 500.
//
// # What this package must NOT do
//
//   - Parse or verify JWTs itself.
//   - Decide anything the Extension did not decide.
package middleware
