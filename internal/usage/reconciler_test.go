package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felipepmaragno/chat-gateway/internal/cost"
	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dailyRow struct {
	tokens int
	cost   float64
	count  int
}

type fakeStore struct {
	mu      sync.Mutex
	events  map[string]domain.UsageEvent
	daily   map[string]*dailyRow
	credits map[string]float64

	eventErr error
	dailyErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:  make(map[string]domain.UsageEvent),
		daily:   make(map[string]*dailyRow),
		credits: make(map[string]float64),
	}
}

func (s *fakeStore) RecordUsageEvent(ctx context.Context, e domain.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventErr != nil {
		return s.eventErr
	}
	if _, ok := s.events[e.ID]; ok {
		return domain.ErrDuplicateUsageEvent
	}
	s.events[e.ID] = e
	return nil
}

func (s *fakeStore) AddDailyUsage(ctx context.Context, userID, date string, tokens int, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dailyErr != nil {
		return s.dailyErr
	}
	key := userID + "|" + date
	row, ok := s.daily[key]
	if !ok {
		row = &dailyRow{}
		s.daily[key] = row
	}
	row.tokens += tokens
	row.cost += cost
	row.count++
	return nil
}

func (s *fakeStore) ChargeCredits(ctx context.Context, userID string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits[userID] += amount
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.UsageEvent
	err    error
}

func (p *fakePublisher) PublishUsage(ctx context.Context, e domain.UsageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

var sonnet = domain.ModelDescriptor{ID: "anthropic/claude-sonnet-4-5", Provider: domain.ProviderAnthropic}

func newTestReconciler(store Store, opts ...Option) *Reconciler {
	r := NewReconciler(store, cost.NewCalculator(), opts...)
	r.now = func() time.Time { return time.Date(2026, 5, 4, 23, 30, 0, 0, time.UTC) }
	return r
}

func TestReconcile_RecordsEventAndAggregate(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	r := newTestReconciler(store, WithPublisher(pub))

	event, err := r.Reconcile(context.Background(), Turn{
		RequestID:     "req-1",
		UserID:        "u1",
		ProjectID:     "p1",
		Model:         sonnet,
		Usage:         domain.Usage{InputTokens: 1000, OutputTokens: 2000},
		UsageCaptured: true,
		Metadata:      map[string]any{"mode": "deep", "dialect": "gulf"},
	})
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, "req-1", event.ID)
	assert.Equal(t, 3000, event.TotalTokens)
	assert.InDelta(t, 1000.0/1e6*3+2000.0/1e6*15, event.Cost, 1e-12)
	assert.Equal(t, "deep", event.Metadata["mode"])

	row := store.daily["u1|2026-05-04"]
	require.NotNil(t, row)
	assert.Equal(t, 3000, row.tokens)
	assert.Equal(t, 1, row.count)
	assert.InDelta(t, event.Cost, store.credits["u1"], 1e-12)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "req-1", pub.events[0].ID)
}

func TestReconcile_MissingUsageDefaultsToZero(t *testing.T) {
	store := newFakeStore()
	r := newTestReconciler(store)

	event, err := r.Reconcile(context.Background(), Turn{RequestID: "req-2", UserID: "u1", Model: sonnet})
	require.NoError(t, err)

	assert.Zero(t, event.TotalTokens)
	assert.Zero(t, event.Cost)
	assert.Equal(t, 1, store.daily["u1|2026-05-04"].count)
	assert.NotContains(t, store.credits, "u1")
}

func TestReconcile_AbortedWithoutUsageSkipped(t *testing.T) {
	store := newFakeStore()
	r := newTestReconciler(store)

	event, err := r.Reconcile(context.Background(), Turn{RequestID: "req-3", UserID: "u1", Model: sonnet, Aborted: true})
	require.NoError(t, err)

	assert.Nil(t, event)
	assert.Empty(t, store.events)
	assert.Empty(t, store.daily)
}

func TestReconcile_AbortedWithUsagePersisted(t *testing.T) {
	store := newFakeStore()
	r := newTestReconciler(store)

	_, err := r.Reconcile(context.Background(), Turn{
		RequestID:     "req-4",
		UserID:        "u1",
		Model:         sonnet,
		Usage:         domain.Usage{InputTokens: 500},
		UsageCaptured: true,
		Aborted:       true,
	})
	require.NoError(t, err)

	assert.Contains(t, store.events, "req-4")
}

func TestReconcile_DuplicateNotAggregatedTwice(t *testing.T) {
	store := newFakeStore()
	r := newTestReconciler(store)
	turn := Turn{RequestID: "req-5", UserID: "u1", Model: sonnet, Usage: domain.Usage{InputTokens: 10, OutputTokens: 10}, UsageCaptured: true}

	_, err := r.Reconcile(context.Background(), turn)
	require.NoError(t, err)
	_, err = r.Reconcile(context.Background(), turn)
	require.NoError(t, err)

	assert.Equal(t, 1, store.daily["u1|2026-05-04"].count)
	assert.Equal(t, 20, store.daily["u1|2026-05-04"].tokens)
}

func TestReconcile_EventWriteFailure(t *testing.T) {
	store := newFakeStore()
	store.eventErr = errors.New("db down")
	pub := &fakePublisher{}
	r := newTestReconciler(store, WithPublisher(pub))

	_, err := r.Reconcile(context.Background(), Turn{RequestID: "req-6", UserID: "u1", Model: sonnet})

	assert.ErrorIs(t, err, store.eventErr)
	assert.Empty(t, store.daily)
	assert.Empty(t, pub.events)
}

func TestReconcile_LaterStepsRunAfterPartialFailure(t *testing.T) {
	store := newFakeStore()
	store.dailyErr = errors.New("deadlock")
	pub := &fakePublisher{}
	r := newTestReconciler(store, WithPublisher(pub))

	_, err := r.Reconcile(context.Background(), Turn{RequestID: "req-7", UserID: "u1", Model: sonnet, Usage: domain.Usage{OutputTokens: 100}, UsageCaptured: true})

	assert.ErrorIs(t, err, store.dailyErr)
	assert.Positive(t, store.credits["u1"])
	assert.Len(t, pub.events, 1)
}

func TestGo_SurvivesCancelledRequest(t *testing.T) {
	store := newFakeStore()
	r := newTestReconciler(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r.Go(ctx, Turn{RequestID: "req-8", UserID: "u1", Model: sonnet, UsageCaptured: true})
	r.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Contains(t, store.events, "req-8")
}
