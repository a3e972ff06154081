//go:build integration

package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisRateLimiter_Allow(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	key := "test-" + time.Now().Format("150405.000000") + ":chat"
	t.Cleanup(func() { client.Del(ctx, "chatgw:ratelimit:"+key) })

	rl := NewRedisRateLimiter(client, time.Minute)

	for i := 0; i < 3; i++ {
		allowed, remaining, resetAt, err := rl.Allow(ctx, key, 3)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if remaining != 2-i {
			t.Errorf("remaining = %d, want %d", remaining, 2-i)
		}
		if time.Until(resetAt) > time.Minute {
			t.Errorf("resetAt too far in the future: %v", resetAt)
		}
	}

	allowed, _, _, err := rl.Allow(ctx, key, 3)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed {
		t.Error("fourth request should be limited")
	}
}
