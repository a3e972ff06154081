package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKey(t *testing.T) {
	if got := Key("u1", "chat"); got != "u1:chat" {
		t.Errorf("Key = %q", got)
	}
}

func TestInMemoryRateLimiter_Allow(t *testing.T) {
	rl := NewInMemoryRateLimiter(time.Minute)
	ctx := context.Background()

	allowed, remaining, _, err := rl.Allow(ctx, "u1:chat", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Error("expected allowed to be true")
	}
	if remaining != 2 {
		t.Errorf("expected remaining 2, got %d", remaining)
	}

	rl.Allow(ctx, "u1:chat", 3)
	rl.Allow(ctx, "u1:chat", 3)

	allowed, remaining, _, err = rl.Allow(ctx, "u1:chat", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Error("expected allowed to be false after limit exceeded")
	}
	if remaining != 0 {
		t.Errorf("expected remaining 0, got %d", remaining)
	}
}

func TestInMemoryRateLimiter_KeysIndependent(t *testing.T) {
	rl := NewInMemoryRateLimiter(time.Minute)
	ctx := context.Background()

	rl.Allow(ctx, Key("u1", "chat"), 1)

	if allowed, _, _, _ := rl.Allow(ctx, Key("u1", "chat"), 1); allowed {
		t.Error("u1 chat should be limited")
	}
	if allowed, _, _, _ := rl.Allow(ctx, Key("u2", "chat"), 1); !allowed {
		t.Error("u2 should not be limited")
	}
	if allowed, _, _, _ := rl.Allow(ctx, Key("u1", "models"), 1); !allowed {
		t.Error("other endpoint should not be limited")
	}
}

func TestInMemoryRateLimiter_WindowResetsWholesale(t *testing.T) {
	rl := NewInMemoryRateLimiter(time.Minute)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	_, _, resetAt, _ := rl.Allow(ctx, "k", 2)
	if !resetAt.Equal(start.Add(time.Minute)) {
		t.Errorf("resetAt = %v, want window start + 1m", resetAt)
	}
	rl.Allow(ctx, "k", 2)

	now = start.Add(59 * time.Second)
	if allowed, _, _, _ := rl.Allow(ctx, "k", 2); allowed {
		t.Error("expected limit inside window")
	}

	now = start.Add(time.Minute)
	allowed, remaining, _, _ := rl.Allow(ctx, "k", 2)
	if !allowed || remaining != 1 {
		t.Errorf("after reset: allowed=%v remaining=%d", allowed, remaining)
	}
}

func TestInMemoryRateLimiter_ConcurrentBurst(t *testing.T) {
	rl := NewInMemoryRateLimiter(time.Minute)
	ctx := context.Background()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, _, _ := rl.Allow(ctx, "u1:chat", 60); ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 60 {
		t.Errorf("admitted = %d, want 60", got)
	}
}

func TestInMemoryRateLimiter_Sweep(t *testing.T) {
	rl := NewInMemoryRateLimiter(time.Second)
	now := time.Now()
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	rl.Allow(ctx, "a", 1)
	rl.Allow(ctx, "b", 1)

	now = now.Add(2 * time.Second)
	if n := rl.Sweep(); n != 2 {
		t.Errorf("Sweep removed %d, want 2", n)
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		resetAt time.Time
		want    int
	}{
		{"whole seconds", now.Add(30 * time.Second), 30},
		{"rounds up", now.Add(1500 * time.Millisecond), 2},
		{"already past", now.Add(-time.Second), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RetryAfter(tt.resetAt, now); got != tt.want {
				t.Errorf("RetryAfter = %d, want %d", got, tt.want)
			}
		})
	}
}
