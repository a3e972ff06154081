package budget

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AlertDeduplicator keeps one notification per project and level, across
// every gateway instance that shares the backend.
type AlertDeduplicator interface {
	// ShouldAlert reports whether this caller won the right to send the alert.
	ShouldAlert(ctx context.Context, projectID string, level AlertLevel) bool
	// ClearAlert forgets every level once spend drops below the warning ratio.
	ClearAlert(ctx context.Context, projectID string)
}

type InMemoryDeduplicator struct {
	mu   sync.Mutex
	sent map[string]map[AlertLevel]bool
}

func NewInMemoryDeduplicator() *InMemoryDeduplicator {
	return &InMemoryDeduplicator{sent: make(map[string]map[AlertLevel]bool)}
}

func (d *InMemoryDeduplicator) ShouldAlert(ctx context.Context, projectID string, level AlertLevel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	levels, ok := d.sent[projectID]
	if !ok {
		levels = make(map[AlertLevel]bool)
		d.sent[projectID] = levels
	}
	if levels[level] {
		return false
	}
	levels[level] = true
	return true
}

func (d *InMemoryDeduplicator) ClearAlert(ctx context.Context, projectID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sent, projectID)
}

// RedisDeduplicator claims each alert with SETNX; the key expires after ttl
// so a project that stays over its threshold is reminded periodically.
type RedisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduplicator(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, ttl: ttl}
}

func alertKey(projectID string, level AlertLevel) string {
	return "chatgw:budget:alert:" + projectID + ":" + string(level)
}

func (d *RedisDeduplicator) ShouldAlert(ctx context.Context, projectID string, level AlertLevel) bool {
	acquired, err := d.client.SetNX(ctx, alertKey(projectID, level), time.Now().Unix(), d.ttl).Result()
	if err != nil {
		slog.WarnContext(ctx, "alert dedup unavailable, sending anyway", "project_id", projectID, "error", err)
		return true
	}
	return acquired
}

func (d *RedisDeduplicator) ClearAlert(ctx context.Context, projectID string) {
	keys := make([]string, len(alertLevels))
	for i, l := range alertLevels {
		keys[i] = alertKey(projectID, l)
	}
	if err := d.client.Del(ctx, keys...).Err(); err != nil {
		slog.WarnContext(ctx, "failed to clear budget alerts", "project_id", projectID, "error", err)
	}
}
