package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
)

type mockStore struct {
	state      *domain.BudgetState
	stateErr   error
	project    *domain.Project
	projectErr error
	spend      float64
	spendErr   error

	spendSince time.Time
	spendCalls int
}

func (m *mockStore) GetBudgetState(ctx context.Context, userID string) (*domain.BudgetState, error) {
	if m.stateErr != nil {
		return nil, m.stateErr
	}
	if m.state == nil {
		return nil, domain.ErrAccountNotFound
	}
	return m.state, nil
}

func (m *mockStore) GetProject(ctx context.Context, userID, projectID string) (*domain.Project, error) {
	if m.projectErr != nil {
		return nil, m.projectErr
	}
	if m.project == nil {
		return nil, domain.ErrProjectNotFound
	}
	return m.project, nil
}

func (m *mockStore) ProjectSpendSince(ctx context.Context, projectID string, since time.Time) (float64, error) {
	m.spendCalls++
	m.spendSince = since
	return m.spend, m.spendErr
}

func ptr(f float64) *float64 { return &f }

func reasonOf(t *testing.T, err error) Reason {
	t.Helper()
	var ee *ExceededError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *ExceededError, got %v", err)
	}
	return ee.Reason
}

func TestDefaultLimits(t *testing.T) {
	l := DefaultLimits()

	if l.DailyBudget != 5.00 {
		t.Errorf("DailyBudget = %v, want 5.00", l.DailyBudget)
	}
	if l.CreditLimit != 100.00 {
		t.Errorf("CreditLimit = %v, want 100.00", l.CreditLimit)
	}
	if l.ProjectWindow != 30*24*time.Hour {
		t.Errorf("ProjectWindow = %v, want 30 days", l.ProjectWindow)
	}
	if l.Thresholds.Warning != 0.8 {
		t.Errorf("Warning threshold = %v, want 0.8", l.Thresholds.Warning)
	}
}

func TestGuard_Check(t *testing.T) {
	tests := []struct {
		name       string
		store      *mockStore
		projectID  string
		wantReason Reason
		wantWarn   bool
	}{
		{
			name:  "fresh account allowed with defaults",
			store: &mockStore{},
		},
		{
			name:       "daily spend at default budget",
			store:      &mockStore{state: &domain.BudgetState{DailySpend: 5.00}},
			wantReason: ReasonDailyBudget,
		},
		{
			name:  "daily spend under explicit budget",
			store: &mockStore{state: &domain.BudgetState{DailySpend: 7, DailyBudget: ptr(10)}},
		},
		{
			name:       "daily checked before credit",
			store:      &mockStore{state: &domain.BudgetState{DailySpend: 6, CreditBalance: 500}},
			wantReason: ReasonDailyBudget,
		},
		{
			name:       "credit limit reached",
			store:      &mockStore{state: &domain.BudgetState{CreditBalance: 25, CreditLimit: ptr(25)}},
			wantReason: ReasonCreditLimit,
		},
		{
			name: "project exceeded",
			store: &mockStore{
				state:   &domain.BudgetState{},
				project: &domain.Project{ID: "p1", BudgetLimit: ptr(10)},
				spend:   10,
			},
			projectID:  "p1",
			wantReason: ReasonProjectBudget,
		},
		{
			name: "project at 85 percent warns",
			store: &mockStore{
				state:   &domain.BudgetState{},
				project: &domain.Project{ID: "p1", BudgetLimit: ptr(20)},
				spend:   17,
			},
			projectID: "p1",
			wantWarn:  true,
		},
		{
			name: "project under warning ratio",
			store: &mockStore{
				state:   &domain.BudgetState{},
				project: &domain.Project{ID: "p1", BudgetLimit: ptr(20)},
				spend:   5,
			},
			projectID: "p1",
		},
		{
			name: "project without budget",
			store: &mockStore{
				state:   &domain.BudgetState{},
				project: &domain.Project{ID: "p1"},
				spend:   1000,
			},
			projectID: "p1",
		},
		{
			name:      "unknown project skipped",
			store:     &mockStore{state: &domain.BudgetState{}},
			projectID: "missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuard(tt.store, DefaultLimits(), nil)
			decision, err := g.Check(context.Background(), "u1", tt.projectID)

			if tt.wantReason != "" {
				if got := reasonOf(t, err); got != tt.wantReason {
					t.Errorf("reason = %s, want %s", got, tt.wantReason)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (decision.Warning != nil) != tt.wantWarn {
				t.Errorf("warning = %+v, wantWarn %v", decision.Warning, tt.wantWarn)
			}
		})
	}
}

func TestGuard_WarningDetails(t *testing.T) {
	store := &mockStore{
		state:   &domain.BudgetState{},
		project: &domain.Project{ID: "p1", BudgetLimit: ptr(20)},
		spend:   17,
	}
	g := NewGuard(store, DefaultLimits(), nil)
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	decision, err := g.Check(context.Background(), "u1", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decision.Warning.Percent != 85 {
		t.Errorf("Percent = %v, want 85", decision.Warning.Percent)
	}
	if want := now.AddDate(0, 0, -30); !store.spendSince.Equal(want) {
		t.Errorf("spend window start = %v, want %v", store.spendSince, want)
	}
}

func TestGuard_DenialDetails(t *testing.T) {
	g := NewGuard(&mockStore{state: &domain.BudgetState{DailySpend: 6.5}}, DefaultLimits(), nil)

	_, err := g.Check(context.Background(), "u1", "")

	var ee *ExceededError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *ExceededError, got %v", err)
	}
	if ee.Details["daily_spend"] != 6.5 || ee.Details["daily_budget"] != 5.0 {
		t.Errorf("unexpected details: %v", ee.Details)
	}
}

func TestGuard_StoreFailureFailsClosed(t *testing.T) {
	storeErr := errors.New("connection refused")

	tests := []struct {
		name  string
		store *mockStore
	}{
		{"state", &mockStore{stateErr: storeErr}},
		{"project", &mockStore{state: &domain.BudgetState{}, projectErr: storeErr}},
		{"spend", &mockStore{
			state:    &domain.BudgetState{},
			project:  &domain.Project{ID: "p1", BudgetLimit: ptr(1)},
			spendErr: storeErr,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGuard(tt.store, DefaultLimits(), nil).Check(context.Background(), "u1", "p1")
			if !errors.Is(err, storeErr) {
				t.Errorf("expected wrapped store error, got %v", err)
			}
			var ee *ExceededError
			if errors.As(err, &ee) {
				t.Error("store failure must not look like a budget denial")
			}
		})
	}
}

func TestGuard_NoProjectLookupWithoutProjectID(t *testing.T) {
	store := &mockStore{state: &domain.BudgetState{}}
	if _, err := NewGuard(store, DefaultLimits(), nil).Check(context.Background(), "u1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.spendCalls != 0 {
		t.Errorf("spend lookups = %d, want 0", store.spendCalls)
	}
}

func TestGuard_AlertsOncePerLevel(t *testing.T) {
	store := &mockStore{
		state:   &domain.BudgetState{},
		project: &domain.Project{ID: "p1", BudgetLimit: ptr(100)},
		spend:   82,
	}
	g := NewGuard(store, DefaultLimits(), NewInMemoryDeduplicator())

	var (
		mu     sync.Mutex
		alerts []Alert
	)
	g.OnAlert(func(ctx context.Context, a Alert) {
		mu.Lock()
		defer mu.Unlock()
		alerts = append(alerts, a)
	})

	ctx := context.Background()
	check := func() {
		g.Check(ctx, "u1", "p1")
		g.Wait()
	}
	check()
	check()

	store.spend = 96
	check()

	store.spend = 100
	check()

	if len(alerts) != 3 {
		t.Fatalf("alerts = %d, want 3", len(alerts))
	}
	want := []AlertLevel{AlertLevelWarning, AlertLevelCritical, AlertLevelExceeded}
	for i, a := range alerts {
		if a.Level != want[i] {
			t.Errorf("alert %d level = %s, want %s", i, a.Level, want[i])
		}
		if a.ProjectID != "p1" || a.UserID != "u1" {
			t.Errorf("alert %d = %+v", i, a)
		}
	}

	// Dropping below the warning ratio re-arms the alerts.
	store.spend = 10
	check()
	store.spend = 85
	check()

	if len(alerts) != 4 {
		t.Errorf("alerts after re-arm = %d, want 4", len(alerts))
	}
}

func TestGuard_AlertHandlersRunOffRequestPath(t *testing.T) {
	store := &mockStore{
		state:   &domain.BudgetState{},
		project: &domain.Project{ID: "p1", BudgetLimit: ptr(100)},
		spend:   90,
	}
	g := NewGuard(store, DefaultLimits(), NewInMemoryDeduplicator())

	release := make(chan struct{})
	handlerErr := make(chan error, 1)
	g.OnAlert(func(ctx context.Context, a Alert) {
		<-release
		handlerErr <- ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := g.Check(ctx, "u1", "p1"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Check blocked on a slow alert handler")
	}

	// The request finishing must not cancel delivery.
	cancel()
	close(release)
	g.Wait()

	if err := <-handlerErr; err != nil {
		t.Errorf("handler context error = %v", err)
	}
}
