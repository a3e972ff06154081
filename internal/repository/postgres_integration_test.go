//go:build integration

package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"github.com/felipepmaragno/chat-gateway/internal/repository"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}
	if err := repository.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func limit(f float64) *float64 { return &f }

func TestPostgresStore_BudgetState(t *testing.T) {
	db := getTestDB(t)
	store := repository.NewPostgresStore(db)
	ctx := context.Background()
	userID := "test-user-" + uuid.NewString()

	if _, err := store.GetBudgetState(ctx, userID); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	if err := store.SaveAccount(ctx, repository.Account{UserID: userID, DailyBudget: limit(10)}); err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}
	today := time.Now().UTC().Format(time.DateOnly)
	if err := store.AddDailyUsage(ctx, userID, today, 100, 1.25); err != nil {
		t.Fatalf("AddDailyUsage: %v", err)
	}
	if err := store.AddDailyUsage(ctx, userID, today, 50, 0.75); err != nil {
		t.Fatalf("AddDailyUsage: %v", err)
	}
	if err := store.ChargeCredits(ctx, userID, 2); err != nil {
		t.Fatalf("ChargeCredits: %v", err)
	}

	state, err := store.GetBudgetState(ctx, userID)
	if err != nil {
		t.Fatalf("GetBudgetState: %v", err)
	}
	if state.DailySpend != 2 {
		t.Errorf("DailySpend = %v, want 2", state.DailySpend)
	}
	if state.CreditBalance != 2 {
		t.Errorf("CreditBalance = %v, want 2", state.CreditBalance)
	}
	if state.DailyBudget == nil || *state.DailyBudget != 10 {
		t.Errorf("DailyBudget = %v", state.DailyBudget)
	}
	if state.CreditLimit != nil {
		t.Errorf("CreditLimit should be NULL")
	}

	agg, err := store.DailyUsage(ctx, userID, today)
	if err != nil {
		t.Fatalf("DailyUsage: %v", err)
	}
	if agg.TotalTokens != 150 || agg.MessageCount != 2 {
		t.Errorf("aggregate = %+v", agg)
	}
}

func TestPostgresStore_UsageEventsAreIdempotent(t *testing.T) {
	db := getTestDB(t)
	store := repository.NewPostgresStore(db)
	ctx := context.Background()

	projectID := "test-project-" + uuid.NewString()
	event := domain.UsageEvent{
		ID:           uuid.NewString(),
		UserID:       "u1",
		ProjectID:    projectID,
		Model:        "openai/gpt-4o-mini",
		InputTokens:  10,
		OutputTokens: 20,
		TotalTokens:  30,
		Cost:         0.5,
		Metadata:     map[string]any{"mode": "standard"},
		CreatedAt:    time.Now(),
	}

	if err := store.RecordUsageEvent(ctx, event); err != nil {
		t.Fatalf("RecordUsageEvent: %v", err)
	}
	if err := store.RecordUsageEvent(ctx, event); !errors.Is(err, domain.ErrDuplicateUsageEvent) {
		t.Fatalf("expected ErrDuplicateUsageEvent, got %v", err)
	}

	spend, err := store.ProjectSpendSince(ctx, projectID, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ProjectSpendSince: %v", err)
	}
	if spend != 0.5 {
		t.Errorf("spend = %v, want 0.5", spend)
	}
}

func TestPostgresStore_ProjectsAndMemories(t *testing.T) {
	db := getTestDB(t)
	store := repository.NewPostgresStore(db)
	ctx := context.Background()

	userID := "test-user-" + uuid.NewString()
	projectID := "test-project-" + uuid.NewString()

	if err := store.SaveProject(ctx, domain.Project{ID: projectID, OwnerID: userID, Name: "Demo", Instructions: "Answer in Gulf Arabic.", BudgetLimit: limit(20)}); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	if _, err := store.GetProject(ctx, "someone-else", projectID); !errors.Is(err, domain.ErrProjectNotFound) {
		t.Errorf("expected ErrProjectNotFound for foreign owner, got %v", err)
	}
	p, err := store.GetProject(ctx, userID, projectID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if p.BudgetLimit == nil || *p.BudgetLimit != 20 {
		t.Errorf("BudgetLimit = %v", p.BudgetLimit)
	}

	memories := []domain.MemoryRecord{
		{ID: uuid.NewString(), UserID: userID, ProjectID: projectID, Scope: domain.ScopeProject, Status: domain.StatusApproved, Active: true, Confidence: 0.9, Content: "deploys on Fridays", Category: "process"},
		{ID: uuid.NewString(), UserID: userID, ProjectID: projectID, Scope: domain.ScopeProject, Status: domain.StatusRejected, Active: true, Confidence: 1, Content: "rejected"},
		{ID: uuid.NewString(), UserID: userID, Scope: domain.ScopeGlobal, Status: domain.StatusApproved, Active: true, Confidence: 0.5, Content: "prefers Arabic numerals"},
		{ID: uuid.NewString(), UserID: userID, ConversationID: "c1", Scope: domain.ScopeConversationSummary, Status: domain.StatusApproved, Active: true, Content: "discussed pricing"},
	}
	for _, m := range memories {
		if err := store.SaveMemory(ctx, m); err != nil {
			t.Fatalf("SaveMemory: %v", err)
		}
	}

	project, err := store.ListProjectMemories(ctx, userID, projectID, 5)
	if err != nil {
		t.Fatalf("ListProjectMemories: %v", err)
	}
	if len(project) != 1 || project[0].Category != "process" {
		t.Errorf("project memories = %+v", project)
	}

	global, err := store.ListGlobalMemories(ctx, userID, 3)
	if err != nil {
		t.Fatalf("ListGlobalMemories: %v", err)
	}
	if len(global) != 1 {
		t.Errorf("global memories = %+v", global)
	}

	summary, err := store.LatestConversationSummary(ctx, userID, "c1")
	if err != nil {
		t.Fatalf("LatestConversationSummary: %v", err)
	}
	if summary == nil || summary.Content != "discussed pricing" {
		t.Errorf("summary = %+v", summary)
	}

	if err := store.TouchMemories(ctx, []string{project[0].ID, global[0].ID}, time.Now()); err != nil {
		t.Fatalf("TouchMemories: %v", err)
	}
}
