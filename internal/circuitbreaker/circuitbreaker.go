// Package circuitbreaker makes an unhealthy provider fail fast instead of
// holding every turn until the upstream times out.
//
// A breaker starts closed. FailureThreshold consecutive failures open it;
// after Cooldown the next caller is let through in half-open state, and
// SuccessThreshold successes close it again. Any failure while half-open
// reopens it.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"github.com/felipepmaragno/chat-gateway/internal/metrics"
)

type Breaker interface {
	// Allow returns domain.ErrCircuitBreakerOpen while the breaker is open.
	Allow(ctx context.Context) error
	RecordSuccess(ctx context.Context)
	RecordFailure(ctx context.Context)
	State(ctx context.Context) State
}

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func parseState(s string) State {
	switch s {
	case "open":
		return StateOpen
	case "half-open":
		return StateHalfOpen
	default:
		return StateClosed
	}
}

type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// InMemory is a single-process breaker.
type InMemory struct {
	mu        sync.Mutex
	cfg       Config
	state     State
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time
}

func NewInMemory(cfg Config) *InMemory {
	return &InMemory{cfg: cfg, now: time.Now}
}

func (b *InMemory) Allow(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}
	if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
		return domain.ErrCircuitBreakerOpen
	}
	b.state = StateHalfOpen
	b.successes = 0
	return nil
}

func (b *InMemory) RecordSuccess(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *InMemory) RecordFailure(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		b.trip()
	}
}

func (b *InMemory) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.successes = 0
}

func (b *InMemory) State(ctx context.Context) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Manager hands out one breaker per provider and mirrors state changes into
// the circuit breaker gauge.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[domain.Provider]Breaker
	factory  func(p domain.Provider) Breaker
}

type Option func(*Manager)

// WithFactory replaces the default in-memory breaker constructor, e.g. with
// a Redis-backed one shared by every gateway instance.
func WithFactory(f func(p domain.Provider, cfg Config) Breaker) Option {
	return func(m *Manager) {
		m.factory = func(p domain.Provider) Breaker { return f(p, m.cfg) }
	}
}

func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		breakers: make(map[domain.Provider]Breaker),
	}
	m.factory = func(domain.Provider) Breaker { return NewInMemory(m.cfg) }
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Get(p domain.Provider) Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.breakers[p]
	if !ok {
		b = m.factory(p)
		m.breakers[p] = b
	}
	return b
}

// Allow checks the provider's breaker.
func (m *Manager) Allow(ctx context.Context, p domain.Provider) error {
	b := m.Get(p)
	err := b.Allow(ctx)
	metrics.SetCircuitBreakerState(string(p), int(b.State(ctx)))
	return err
}

func (m *Manager) Success(ctx context.Context, p domain.Provider) {
	b := m.Get(p)
	b.RecordSuccess(ctx)
	metrics.SetCircuitBreakerState(string(p), int(b.State(ctx)))
}

func (m *Manager) Failure(ctx context.Context, p domain.Provider) {
	b := m.Get(p)
	b.RecordFailure(ctx)
	metrics.SetCircuitBreakerState(string(p), int(b.State(ctx)))
}

// States reports every breaker created so far, for the health endpoint.
func (m *Manager) States(ctx context.Context) map[string]string {
	m.mu.Lock()
	snapshot := make(map[domain.Provider]Breaker, len(m.breakers))
	for p, b := range m.breakers {
		snapshot[p] = b
	}
	m.mu.Unlock()

	out := make(map[string]string, len(snapshot))
	for p, b := range snapshot {
		out[string(p)] = b.State(ctx).String()
	}
	return out
}
