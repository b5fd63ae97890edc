package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// rateCounter is the slice of the redis client the login and forgot-password
// throttles depend on.
type rateCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// incrWithTTL bumps a rolling counter and arms its expiry when the window
// opens. Callers treat an error as a zero count, so an unreachable redis
// never blocks sign-in.
func incrWithTTL(ctx context.Context, client rateCounter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}
