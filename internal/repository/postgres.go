package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felipepmaragno/chat-gateway/internal/domain"
	"github.com/lib/pq"
)

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) today() string {
	return s.now().UTC().Format(time.DateOnly)
}

func (s *PostgresStore) GetBudgetState(ctx context.Context, userID string) (*domain.BudgetState, error) {
	query := `
		SELECT a.daily_budget, a.credit_balance, a.credit_limit, COALESCE(d.total_cost, 0)
		FROM accounts a
		LEFT JOIN daily_usage d ON d.user_id = a.user_id AND d.date = $2
		WHERE a.user_id = $1
	`

	var dailyBudget, creditLimit sql.NullFloat64
	state := domain.BudgetState{UserID: userID}

	err := s.db.QueryRowContext(ctx, query, userID, s.today()).Scan(
		&dailyBudget,
		&state.CreditBalance,
		&creditLimit,
		&state.DailySpend,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query budget state: %w", err)
	}

	state.DailyBudget = nullFloat(dailyBudget)
	state.CreditLimit = nullFloat(creditLimit)
	return &state, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, userID, projectID string) (*domain.Project, error) {
	query := `
		SELECT id, owner_id, name, instructions, budget_limit
		FROM projects
		WHERE id = $1 AND owner_id = $2
	`

	var p domain.Project
	var limit sql.NullFloat64

	err := s.db.QueryRowContext(ctx, query, projectID, userID).Scan(
		&p.ID,
		&p.OwnerID,
		&p.Name,
		&p.Instructions,
		&limit,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query project: %w", err)
	}

	p.BudgetLimit = nullFloat(limit)
	return &p, nil
}

func (s *PostgresStore) ProjectSpendSince(ctx context.Context, projectID string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost), 0)
		FROM usage_events
		WHERE project_id = $1 AND created_at >= $2
	`

	var total float64
	if err := s.db.QueryRowContext(ctx, query, projectID, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("query project spend: %w", err)
	}
	return total, nil
}

const memoryColumns = `id, user_id, project_id, conversation_id, content, category, scope, status, is_active, confidence, last_used, created_at`

func (s *PostgresStore) LatestConversationSummary(ctx context.Context, userID, conversationID string) (*domain.MemoryRecord, error) {
	query := `
		SELECT ` + memoryColumns + `
		FROM memories
		WHERE user_id = $1 AND conversation_id = $2 AND scope = $3
		  AND status = $4 AND is_active
		ORDER BY created_at DESC
		LIMIT 1
	`

	m, err := scanMemory(s.db.QueryRowContext(ctx, query, userID, conversationID, domain.ScopeConversationSummary, domain.StatusApproved))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation summary: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListProjectMemories(ctx context.Context, userID, projectID string, limit int) ([]domain.MemoryRecord, error) {
	query := `
		SELECT ` + memoryColumns + `
		FROM memories
		WHERE user_id = $1 AND project_id = $2 AND scope = $3
		  AND status = $4 AND is_active
		ORDER BY confidence DESC, created_at DESC
		LIMIT $5
	`
	return s.listMemories(ctx, query, userID, projectID, domain.ScopeProject, domain.StatusApproved, limit)
}

func (s *PostgresStore) ListGlobalMemories(ctx context.Context, userID string, limit int) ([]domain.MemoryRecord, error) {
	query := `
		SELECT ` + memoryColumns + `
		FROM memories
		WHERE user_id = $1 AND scope = $2
		  AND status = $3 AND is_active
		ORDER BY confidence DESC, created_at DESC
		LIMIT $4
	`
	return s.listMemories(ctx, query, userID, domain.ScopeGlobal, domain.StatusApproved, limit)
}

func (s *PostgresStore) listMemories(ctx context.Context, query string, args ...any) ([]domain.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var records []domain.MemoryRecord
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		records = append(records, *m)
	}

	return records, rows.Err()
}

func (s *PostgresStore) TouchMemories(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE memories SET last_used = $2 WHERE id = ANY($1)`

	if _, err := s.db.ExecContext(ctx, query, pq.Array(ids), at); err != nil {
		return fmt.Errorf("touch memories: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordUsageEvent(ctx context.Context, e domain.UsageEvent) error {
	query := `
		INSERT INTO usage_events (id, user_id, project_id, model, input_tokens, output_tokens, total_tokens, cost, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	var metadata any
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode usage metadata: %w", err)
		}
		metadata = string(b)
	}

	result, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.UserID,
		sql.NullString{String: e.ProjectID, Valid: e.ProjectID != ""},
		e.Model,
		e.InputTokens,
		e.OutputTokens,
		e.TotalTokens,
		e.Cost,
		metadata,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrDuplicateUsageEvent
	}
	return nil
}

func (s *PostgresStore) AddDailyUsage(ctx context.Context, userID, date string, tokens int, cost float64) error {
	query := `
		INSERT INTO daily_usage (user_id, date, total_tokens, total_cost, message_count)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (user_id, date) DO UPDATE
		SET total_tokens  = daily_usage.total_tokens + EXCLUDED.total_tokens,
		    total_cost    = daily_usage.total_cost + EXCLUDED.total_cost,
		    message_count = daily_usage.message_count + 1
	`

	if _, err := s.db.ExecContext(ctx, query, userID, date, tokens, cost); err != nil {
		return fmt.Errorf("upsert daily usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) ChargeCredits(ctx context.Context, userID string, amount float64) error {
	query := `
		INSERT INTO accounts (user_id, credit_balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET credit_balance = accounts.credit_balance + EXCLUDED.credit_balance
	`

	if _, err := s.db.ExecContext(ctx, query, userID, amount); err != nil {
		return fmt.Errorf("charge credits: %w", err)
	}
	return nil
}

func (s *PostgresStore) DailyUsage(ctx context.Context, userID, date string) (*domain.DailyUsageAggregate, error) {
	query := `
		SELECT user_id, to_char(date, 'YYYY-MM-DD'), total_tokens, total_cost, message_count
		FROM daily_usage
		WHERE user_id = $1 AND date = $2
	`

	var agg domain.DailyUsageAggregate
	err := s.db.QueryRowContext(ctx, query, userID, date).Scan(
		&agg.UserID,
		&agg.Date,
		&agg.TotalTokens,
		&agg.TotalCost,
		&agg.MessageCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query daily usage: %w", err)
	}
	return &agg, nil
}

func (s *PostgresStore) SaveAccount(ctx context.Context, a Account) error {
	query := `
		INSERT INTO accounts (user_id, daily_budget, credit_balance, credit_limit)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET daily_budget = EXCLUDED.daily_budget,
		    credit_balance = EXCLUDED.credit_balance,
		    credit_limit = EXCLUDED.credit_limit
	`

	_, err := s.db.ExecContext(ctx, query, a.UserID, floatArg(a.DailyBudget), a.CreditBalance, floatArg(a.CreditLimit))
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveProject(ctx context.Context, p domain.Project) error {
	query := `
		INSERT INTO projects (id, owner_id, name, instructions, budget_limit)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    instructions = EXCLUDED.instructions,
		    budget_limit = EXCLUDED.budget_limit
	`

	_, err := s.db.ExecContext(ctx, query, p.ID, p.OwnerID, p.Name, p.Instructions, floatArg(p.BudgetLimit))
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveMemory(ctx context.Context, m domain.MemoryRecord) error {
	query := `
		INSERT INTO memories (` + memoryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	var lastUsed sql.NullTime
	if m.LastUsed != nil {
		lastUsed = sql.NullTime{Time: *m.LastUsed, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		m.ID,
		m.UserID,
		sql.NullString{String: m.ProjectID, Valid: m.ProjectID != ""},
		sql.NullString{String: m.ConversationID, Valid: m.ConversationID != ""},
		m.Content,
		sql.NullString{String: m.Category, Valid: m.Category != ""},
		m.Scope,
		m.Status,
		m.Active,
		m.Confidence,
		lastUsed,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*domain.MemoryRecord, error) {
	var m domain.MemoryRecord
	var projectID, conversationID, category sql.NullString
	var lastUsed sql.NullTime

	err := row.Scan(
		&m.ID,
		&m.UserID,
		&projectID,
		&conversationID,
		&m.Content,
		&category,
		&m.Scope,
		&m.Status,
		&m.Active,
		&m.Confidence,
		&lastUsed,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.ProjectID = projectID.String
	m.ConversationID = conversationID.String
	m.Category = category.String
	if lastUsed.Valid {
		t := lastUsed.Time
		m.LastUsed = &t
	}
	return &m, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func floatArg(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
