package keyset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares fetched JWKS documents between gateway instances.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache returns a DocumentCache backed by client. Keys are
// "<prefix>:jwks:<sha256(url)>".
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "gqlauth"
	}
	return &RedisCache{client: client, prefix: prefix}
}

// Get returns the cached document for url, if any.
func (c *RedisCache) Get(ctx context.Context, url string) ([]byte, bool, error) {
	doc, err := c.client.Get(ctx, c.key(url)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// Set stores doc for ttl.
func (c *RedisCache) Set(ctx context.Context, url string, doc []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(url), doc, ttl).Err()
}

func (c *RedisCache) key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return c.prefix + ":jwks:" + hex.EncodeToString(sum[:])
}
