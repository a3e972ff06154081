// Package usage records what a finished turn cost. It runs after the stream
// has been delivered, so nothing here can fail the response.
package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felipepmaragno/chat-gateway/internal/cost"
	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"github.com/felipepmaragno/chat-gateway/internal/metrics"
)

type Store interface {
	// RecordUsageEvent appends the event. An id that was already recorded
	// yields domain.ErrDuplicateUsageEvent and nothing is written.
	RecordUsageEvent(ctx context.Context, event domain.UsageEvent) error
	// AddDailyUsage adds to the (user, date) aggregate, creating it if needed.
	AddDailyUsage(ctx context.Context, userID, date string, tokens int, cost float64) error
	ChargeCredits(ctx context.Context, userID string, amount float64) error
}

// Publisher exports recorded events to downstream billing.
type Publisher interface {
	PublishUsage(ctx context.Context, event domain.UsageEvent) error
}

// Turn is everything the reconciler needs from one completed stream.
type Turn struct {
	RequestID     string
	UserID        string
	ProjectID     string
	Model         domain.ModelDescriptor
	Usage         domain.Usage
	UsageCaptured bool
	Aborted       bool
	Metadata      map[string]any
}

type Reconciler struct {
	store     Store
	pricing   *cost.Calculator
	publisher Publisher
	timeout   time.Duration
	now       func() time.Time

	wg sync.WaitGroup
}

type Option func(*Reconciler)

func WithPublisher(p Publisher) Option {
	return func(r *Reconciler) { r.publisher = p }
}

func WithTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.timeout = d }
}

func NewReconciler(store Store, pricing *cost.Calculator, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:   store,
		pricing: pricing,
		timeout: 10 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Go reconciles in the background. The request context only contributes its
// values: the client disconnecting must not cancel the writes.
func (r *Reconciler) Go(ctx context.Context, turn Turn) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		if _, err := r.Reconcile(ctx, turn); err != nil {
			slog.WarnContext(ctx, "usage reconciliation failed",
				"request_id", turn.RequestID,
				"user_id", turn.UserID,
				"model", turn.Model.ID,
				"error", err,
			)
		}
	}()
}

// Wait blocks until every reconciliation started with Go has finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// Reconcile prices the turn and writes it. It returns a nil event when the
// turn was skipped: an aborted stream that never reported usage has nothing
// to bill.
func (r *Reconciler) Reconcile(ctx context.Context, turn Turn) (*domain.UsageEvent, error) {
	if turn.Aborted && !turn.UsageCaptured {
		slog.DebugContext(ctx, "skipping reconciliation for aborted turn without usage", "request_id", turn.RequestID)
		return nil, nil
	}

	now := r.now().UTC()
	provider := string(turn.Model.Provider)
	price := r.pricing.Calculate(turn.Model.ID, turn.Usage)

	event := domain.UsageEvent{
		ID:           turn.RequestID,
		UserID:       turn.UserID,
		ProjectID:    turn.ProjectID,
		Model:        turn.Model.ID,
		InputTokens:  turn.Usage.InputTokens,
		OutputTokens: turn.Usage.OutputTokens,
		TotalTokens:  turn.Usage.Total(),
		Cost:         price,
		Metadata:     turn.Metadata,
		CreatedAt:    now,
	}

	if err := r.store.RecordUsageEvent(ctx, event); err != nil {
		if errors.Is(err, domain.ErrDuplicateUsageEvent) {
			slog.InfoContext(ctx, "usage event already recorded", "request_id", turn.RequestID)
			return &event, nil
		}
		metrics.RecordUsageWriteFailure("event")
		return nil, fmt.Errorf("record usage event: %w", err)
	}

	metrics.RecordTokens(provider, turn.Model.ID, event.InputTokens, event.OutputTokens)
	metrics.RecordCost(provider, turn.Model.ID, price)

	var errs []error
	if err := r.store.AddDailyUsage(ctx, turn.UserID, now.Format(time.DateOnly), event.TotalTokens, price); err != nil {
		metrics.RecordUsageWriteFailure("daily")
		errs = append(errs, fmt.Errorf("add daily usage: %w", err))
	}
	if price > 0 {
		if err := r.store.ChargeCredits(ctx, turn.UserID, price); err != nil {
			metrics.RecordUsageWriteFailure("credits")
			errs = append(errs, fmt.Errorf("charge credits: %w", err))
		}
	}
	if r.publisher != nil {
		if err := r.publisher.PublishUsage(ctx, event); err != nil {
			metrics.RecordUsageWriteFailure("publish")
			errs = append(errs, fmt.Errorf("publish usage: %w", err))
		}
	}

	slog.InfoContext(ctx, "usage reconciled",
		"request_id", turn.RequestID,
		"user_id", turn.UserID,
		"model", turn.Model.ID,
		"input_tokens", event.InputTokens,
		"output_tokens", event.OutputTokens,
		"cost", price,
	)

	return &event, errors.Join(errs...)
}
