// Package budget decides, before any provider is called, whether an account
// may spend on another turn.
package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"github.com/felipepmaragno/chat-gateway/internal/metrics"
)

type Reason string

const (
	ReasonDailyBudget   Reason = "DAILY_BUDGET_EXCEEDED"
	ReasonCreditLimit   Reason = "CREDIT_LIMIT_EXCEEDED"
	ReasonProjectBudget Reason = "PROJECT_BUDGET_EXCEEDED"
)

// WarningCode is attached to allowed turns once a project passes the soft
// warning ratio.
const WarningCode = "PROJECT_BUDGET_WARNING"

// ExceededError is returned by Check when a rule denies the turn.
type ExceededError struct {
	Reason  Reason
	Details map[string]any
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: %s", e.Reason)
}

// StateReader is the part of the persistence collaborator the guard reads.
// Every call must hit the store: spend moves under concurrent turns.
type StateReader interface {
	GetBudgetState(ctx context.Context, userID string) (*domain.BudgetState, error)
	GetProject(ctx context.Context, userID, projectID string) (*domain.Project, error)
	ProjectSpendSince(ctx context.Context, projectID string, since time.Time) (float64, error)
}

type Limits struct {
	DailyBudget   float64
	CreditLimit   float64
	ProjectWindow time.Duration
	Thresholds    Thresholds
}

func DefaultLimits() Limits {
	return Limits{
		DailyBudget:   5.00,
		CreditLimit:   100.00,
		ProjectWindow: 30 * 24 * time.Hour,
		Thresholds:    DefaultThresholds(),
	}
}

type Thresholds struct {
	Warning  float64
	Critical float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Warning:  0.8,
		Critical: 0.95,
	}
}

type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelExceeded AlertLevel = "exceeded"
)

var alertLevels = []AlertLevel{AlertLevelWarning, AlertLevelCritical, AlertLevelExceeded}

type Alert struct {
	UserID     string
	ProjectID  string
	Level      AlertLevel
	Limit      float64
	Spend      float64
	Percentage float64
	Timestamp  time.Time
}

type AlertHandler func(ctx context.Context, alert Alert)

// Warning is the soft signal attached to an allowed turn.
type Warning struct {
	ProjectID string
	Spend     float64
	Limit     float64
	Percent   float64
}

type Decision struct {
	Warning *Warning
}

type Guard struct {
	store  StateReader
	limits Limits
	dedup  AlertDeduplicator
	now    func() time.Time

	mu       sync.RWMutex
	handlers []AlertHandler

	alertTimeout time.Duration
	alerts       sync.WaitGroup
}

func NewGuard(store StateReader, limits Limits, dedup AlertDeduplicator) *Guard {
	if dedup == nil {
		dedup = NewInMemoryDeduplicator()
	}
	return &Guard{
		store:  store,
		limits: limits,
		dedup:  dedup,
		now:    time.Now,

		alertTimeout: 10 * time.Second,
	}
}

func (g *Guard) OnAlert(h AlertHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers = append(g.handlers, h)
}

// Check applies the rules in order and stops at the first violation:
// daily spend, then credit, then the project's trailing window. A denial is
// an *ExceededError; any other error is a store failure and the turn must
// not proceed.
func (g *Guard) Check(ctx context.Context, userID, projectID string) (Decision, error) {
	state, err := g.store.GetBudgetState(ctx, userID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		state = &domain.BudgetState{UserID: userID}
	} else if err != nil {
		return Decision{}, fmt.Errorf("read budget state: %w", err)
	}

	dailyBudget := valueOr(state.DailyBudget, g.limits.DailyBudget)
	if state.DailySpend >= dailyBudget {
		return Decision{}, g.deny(ReasonDailyBudget, map[string]any{
			"daily_spend":  state.DailySpend,
			"daily_budget": dailyBudget,
		})
	}

	creditLimit := valueOr(state.CreditLimit, g.limits.CreditLimit)
	if state.CreditBalance >= creditLimit {
		return Decision{}, g.deny(ReasonCreditLimit, map[string]any{
			"credit_balance": state.CreditBalance,
			"credit_limit":   creditLimit,
		})
	}

	if projectID == "" {
		return Decision{}, nil
	}
	return g.checkProject(ctx, userID, projectID)
}

func (g *Guard) checkProject(ctx context.Context, userID, projectID string) (Decision, error) {
	project, err := g.store.GetProject(ctx, userID, projectID)
	if errors.Is(err, domain.ErrProjectNotFound) {
		slog.DebugContext(ctx, "project not found, skipping project budget", "project_id", projectID, "user_id", userID)
		return Decision{}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("read project: %w", err)
	}
	if project.BudgetLimit == nil || *project.BudgetLimit <= 0 {
		return Decision{}, nil
	}
	limit := *project.BudgetLimit

	spend, err := g.store.ProjectSpendSince(ctx, projectID, g.now().Add(-g.limits.ProjectWindow))
	if err != nil {
		return Decision{}, fmt.Errorf("read project spend: %w", err)
	}

	ratio := spend / limit
	g.alert(ctx, Alert{
		UserID:     userID,
		ProjectID:  projectID,
		Limit:      limit,
		Spend:      spend,
		Percentage: ratio * 100,
		Timestamp:  g.now(),
	}, ratio)

	if spend >= limit {
		return Decision{}, g.deny(ReasonProjectBudget, map[string]any{
			"project_id":    projectID,
			"project_spend": spend,
			"budget_limit":  limit,
		})
	}

	if ratio >= g.limits.Thresholds.Warning {
		metrics.RecordBudgetWarning()
		return Decision{Warning: &Warning{
			ProjectID: projectID,
			Spend:     spend,
			Limit:     limit,
			Percent:   ratio * 100,
		}}, nil
	}
	return Decision{}, nil
}

func (g *Guard) deny(reason Reason, details map[string]any) error {
	metrics.RecordBudgetRejection(string(reason))
	return &ExceededError{Reason: reason, Details: details}
}

// alert notifies handlers once per project and level.
func (g *Guard) alert(ctx context.Context, a Alert, ratio float64) {
	switch {
	case ratio >= 1:
		a.Level = AlertLevelExceeded
	case ratio >= g.limits.Thresholds.Critical:
		a.Level = AlertLevelCritical
	case ratio >= g.limits.Thresholds.Warning:
		a.Level = AlertLevelWarning
	default:
		g.dedup.ClearAlert(ctx, a.ProjectID)
		return
	}

	if !g.dedup.ShouldAlert(ctx, a.ProjectID, a.Level) {
		return
	}

	g.mu.RLock()
	handlers := make([]AlertHandler, len(g.handlers))
	copy(handlers, g.handlers)
	g.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	// Handlers run off the request path and outlive the request context.
	g.alerts.Add(1)
	go func() {
		defer g.alerts.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.alertTimeout)
		defer cancel()

		for _, h := range handlers {
			h(ctx, a)
		}
	}()
}

// Wait blocks until every alert dispatched so far has been handled.
func (g *Guard) Wait() {
	g.alerts.Wait()
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func LogAlertHandler(ctx context.Context, a Alert) {
	slog.WarnContext(ctx, "project budget alert",
		"user_id", a.UserID,
		"project_id", a.ProjectID,
		"level", a.Level,
		"budget_limit", a.Limit,
		"spend", a.Spend,
		"percentage", a.Percentage,
	)
}
