package circuitbreaker

import (
	"context"
	"log/slog"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Breaker state lives in one hash per provider:
// state, failures, successes, opened_at (unix seconds, Redis clock).

var allowScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state') or 'closed'
if state ~= 'open' then
    return state
end
local openedAt = tonumber(redis.call('HGET', KEYS[1], 'opened_at') or '0')
local now = tonumber(redis.call('TIME')[1])
if now - openedAt >= tonumber(ARGV[1]) then
    redis.call('HSET', KEYS[1], 'state', 'half-open', 'successes', 0)
    return 'half-open'
end
return 'open'
`)

var successScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state') or 'closed'
if state == 'half-open' then
    local n = redis.call('HINCRBY', KEYS[1], 'successes', 1)
    if n >= tonumber(ARGV[1]) then
        redis.call('HSET', KEYS[1], 'state', 'closed', 'failures', 0, 'successes', 0)
        return 'closed'
    end
    return state
end
if state == 'closed' then
    redis.call('HSET', KEYS[1], 'failures', 0)
end
return state
`)

var failureScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state') or 'closed'
local now = redis.call('TIME')[1]
if state == 'half-open' then
    redis.call('HSET', KEYS[1], 'state', 'open', 'opened_at', now, 'successes', 0)
    return 'open'
end
if state == 'closed' then
    local n = redis.call('HINCRBY', KEYS[1], 'failures', 1)
    if n >= tonumber(ARGV[1]) then
        redis.call('HSET', KEYS[1], 'state', 'open', 'opened_at', now, 'successes', 0)
        return 'open'
    end
end
return state
`)

// Redis is a breaker shared by every gateway instance. Redis errors fail
// open: the breaker protects providers, it must not take the gateway down.
type Redis struct {
	client *redis.Client
	key    string
	cfg    Config
}

func NewRedis(client *redis.Client, provider domain.Provider, cfg Config) *Redis {
	return &Redis{
		client: client,
		key:    "chatgw:cb:" + string(provider),
		cfg:    cfg,
	}
}

func (b *Redis) Allow(ctx context.Context) error {
	state, err := allowScript.Run(ctx, b.client, []string{b.key}, int(b.cfg.Cooldown.Seconds())).Text()
	if err != nil {
		slog.WarnContext(ctx, "circuit breaker check failed", "key", b.key, "error", err)
		return nil
	}
	if state == "open" {
		return domain.ErrCircuitBreakerOpen
	}
	return nil
}

func (b *Redis) RecordSuccess(ctx context.Context) {
	if err := successScript.Run(ctx, b.client, []string{b.key}, b.cfg.SuccessThreshold).Err(); err != nil {
		slog.WarnContext(ctx, "circuit breaker success not recorded", "key", b.key, "error", err)
	}
}

func (b *Redis) RecordFailure(ctx context.Context) {
	if err := failureScript.Run(ctx, b.client, []string{b.key}, b.cfg.FailureThreshold).Err(); err != nil {
		slog.WarnContext(ctx, "circuit breaker failure not recorded", "key", b.key, "error", err)
	}
}

func (b *Redis) State(ctx context.Context) State {
	s, err := b.client.HGet(ctx, b.key, "state").Result()
	if err != nil {
		return StateClosed
	}
	return parseState(s)
}

// Reset closes the breaker.
func (b *Redis) Reset(ctx context.Context) error {
	return b.client.Del(ctx, b.key).Err()
}
