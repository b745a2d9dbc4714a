// Package jwt verifies compact JWS tokens: a closed algorithm registry backed by
// golang-jwt signing methods, a byte-exact compact parser, and a Verifier that
// applies algorithm allow-listing, key-shape checks, temporal claims with clock
// skew, and issuer/audience matching.
package jwt
