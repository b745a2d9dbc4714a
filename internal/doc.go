// Package internal groups helpers private to gqlAuth.
//
//   - audit: asynchronous event dispatch and sinks
//   - rate: Redis fixed-window counters for the shared JWKS fetch budget
//   - testissuer: a signing issuer with a JWKS endpoint for tests and demos
package internal
