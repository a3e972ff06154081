// Package ratelimit guards endpoints with a fixed request window per key.
// Keys are built as "<user_id>:<endpoint>". The counter resets wholesale once
// the window ends, so a burst straddling the boundary can briefly admit up to
// twice the limit.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int) (allowed bool, remaining int, resetAt time.Time, err error)
}

func Key(userID, endpoint string) string {
	return userID + ":" + endpoint
}

// InMemoryRateLimiter is the single-instance backend. The check and the
// increment happen under one lock.
type InMemoryRateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

func NewInMemoryRateLimiter(windowSize time.Duration) *InMemoryRateLimiter {
	if windowSize <= 0 {
		windowSize = time.Minute
	}
	return &InMemoryRateLimiter{
		window:  windowSize,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (r *InMemoryRateLimiter) Allow(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	w, ok := r.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(r.window)}
		r.windows[key] = w
	}

	if w.count >= limit {
		return false, 0, w.resetAt, nil
	}

	w.count++
	return true, limit - w.count, w.resetAt, nil
}

// Sweep drops windows that have already ended. The server calls it
// periodically so idle users don't accumulate.
func (r *InMemoryRateLimiter) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for k, w := range r.windows {
		if !now.Before(w.resetAt) {
			delete(r.windows, k)
			removed++
		}
	}
	return removed
}

// RetryAfter is the whole number of seconds until resetAt, never below 1.
func RetryAfter(resetAt, now time.Time) int {
	d := resetAt.Sub(now)
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
