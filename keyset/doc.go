// Package keyset resolves JWT verification keys from static configuration or a
// remote JWKS endpoint and caches them for a bounded time.
//
// # Architecture boundaries
//
// A [KeySet] is immutable once built. The [Resolver] owns the only mutable
// reference to the current set and swaps it atomically on refresh, so readers
// always observe a complete set. Remote fetches run without holding any lock.
//
// # What this package must NOT do
//
//   - Verify signatures or inspect token claims (the jwt package does).
//   - Log or return key material in error strings.
//   - Let a cancelled caller abort a refresh other callers are waiting on.
package keyset
