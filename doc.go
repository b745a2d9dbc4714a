// Package gqlAuth authenticates and authorizes GraphQL field resolution with
// JWT bearer tokens verified against a static or remote JSON Web Key Set.
//
// An [Extension] is built once per gateway process through [Builder.Build] and
// is safe to call from any number of goroutines afterwards. For every
// protected field it reads the bearer token from the request context, verifies
// it ([jwt.Verifier]), evaluates the field's directive ([policy.Requirement])
// and returns a [FieldResult] whose error renders in GraphQL error shape.
//
// # Architecture boundaries
//
// gqlAuth is the public surface: [Builder], [Config], [Settings], [Extension]
// and the result and metric value types. Key caching lives in keyset, token
// verification in jwt, directive evaluation in policy and audit buffering in
// internal/audit.
//
// # What this package must NOT do
//
//   - Issue, refresh or revoke tokens.
//   - Put raw tokens, claim values or key material into errors, logs or audit events.
//   - Perform I/O in Build. The key set is fetched lazily or through Warm.
//
// # Performance contract
//
// With a fresh key set, Authorize is lock-free and performs no I/O.
package gqlAuth
