package rate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts events per id in fixed windows held in Redis, so the budget
// is shared by every process using the same prefix.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

// New creates a [Limiter] allowing max events per window for each id.
func New(redisClient redis.UniversalClient, prefix string, max int, window time.Duration) *Limiter {
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
		max:    max,
		window: window,
	}
}

// Allow records one event for id and reports whether it is within budget.
func (l *Limiter) Allow(ctx context.Context, id string) (bool, error) {
	count, err := l.incrementWithTTL(ctx, l.key(id), l.window)
	if err != nil {
		return false, err
	}
	return count <= int64(l.max), nil
}

// Count returns the events recorded for id in the current window.
func (l *Limiter) Count(ctx context.Context, id string) (int, error) {
	count, err := l.redis.Get(ctx, l.key(id)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// Reset clears the window for id.
func (l *Limiter) Reset(ctx context.Context, id string) error {
	if err := l.redis.Del(ctx, l.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) key(id string) string {
	sum := sha256.Sum256([]byte(id))
	return l.prefix + ":rl:" + hex.EncodeToString(sum[:])
}

// incrScript increments the window counter and attaches the window TTL to any
// counter that lacks one, so a counter whose expiry was lost still rolls over.
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := incrScript.Run(ctx, l.redis, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return count, nil
}
