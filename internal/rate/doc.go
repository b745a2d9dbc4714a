// Package rate implements fixed-window counters in Redis.
//
// Each window is an INCR on "<prefix>:rl:<sha256(id)>" with an EXPIRE set on
// the first hit. The extension uses it to cap upstream JWKS fetches across
// gateway replicas that share a key set cache.
package rate
