package repository

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id        TEXT PRIMARY KEY,
	daily_budget   NUMERIC(12, 6),
	credit_balance NUMERIC(12, 6) NOT NULL DEFAULT 0,
	credit_limit   NUMERIC(12, 6),
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS projects (
	id           TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	instructions TEXT NOT NULL DEFAULT '',
	budget_limit NUMERIC(12, 6),
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS memories (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	project_id      TEXT,
	conversation_id TEXT,
	content         TEXT NOT NULL,
	category        TEXT,
	scope           TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'proposed',
	is_active       BOOLEAN NOT NULL DEFAULT true,
	confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_used       TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memories_lookup ON memories (user_id, scope, status, is_active);

CREATE TABLE IF NOT EXISTS usage_events (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	project_id    TEXT,
	model         TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	total_tokens  INTEGER NOT NULL,
	cost          NUMERIC(12, 6) NOT NULL,
	metadata      JSONB,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_events_project ON usage_events (project_id, created_at);

CREATE TABLE IF NOT EXISTS daily_usage (
	user_id       TEXT NOT NULL,
	date          DATE NOT NULL,
	total_tokens  BIGINT NOT NULL DEFAULT 0,
	total_cost    NUMERIC(12, 6) NOT NULL DEFAULT 0,
	message_count BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, date)
);
`

// Migrate creates the tables the gateway needs. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
