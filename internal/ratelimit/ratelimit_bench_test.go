package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func BenchmarkInMemoryRateLimiter_Allow(b *testing.B) {
	rl := NewInMemoryRateLimiter(time.Minute)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rl.Allow(ctx, "u1:chat", 1<<30)
	}
}

func BenchmarkInMemoryRateLimiter_ManyUsers(b *testing.B) {
	rl := NewInMemoryRateLimiter(time.Minute)
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			rl.Allow(ctx, Key(fmt.Sprintf("user-%d", i%100), "chat"), 1<<30)
			i++
		}
	})
}
