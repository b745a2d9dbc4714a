package rate

import "errors"

// ErrRedisUnavailable wraps any Redis failure.
var ErrRedisUnavailable = errors.New("redis unavailable")
