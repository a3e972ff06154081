package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// The first hit of a window creates the counter and arms its expiry, so the
// key vanishing is the window reset.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

type RedisRateLimiter struct {
	client *redis.Client
	window time.Duration
	now    func() time.Time
}

func NewRedisRateLimiter(client *redis.Client, windowSize time.Duration) *RedisRateLimiter {
	if windowSize <= 0 {
		windowSize = time.Minute
	}
	return &RedisRateLimiter{client: client, window: windowSize, now: time.Now}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	res, err := fixedWindowScript.Run(ctx, r.client, []string{"chatgw:ratelimit:" + key}, r.window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, err
	}

	count, ttl := int(res[0]), res[1]
	if ttl < 0 {
		ttl = r.window.Milliseconds()
	}
	resetAt := r.now().Add(time.Duration(ttl) * time.Millisecond)

	if count > limit {
		return false, 0, resetAt, nil
	}
	return true, limit - count, resetAt, nil
}
