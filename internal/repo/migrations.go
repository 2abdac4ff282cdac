package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema — идемпотентная схема БД. Применяется по порядку.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS workflows (
		id            UUID PRIMARY KEY,
		owner_id      TEXT NOT NULL,
		name          TEXT NOT NULL,
		description   TEXT,
		trigger       JSONB NOT NULL,
		event_type    TEXT NOT NULL,
		retry         JSONB,
		status        TEXT NOT NULL,
		error         TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		activated_at  TIMESTAMPTZ,
		started_at    TIMESTAMPTZ,
		completed_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workflows_active_event
		ON workflows (event_type) WHERE status = 'ACTIVE'`,
	`CREATE INDEX IF NOT EXISTS idx_workflows_owner ON workflows (owner_id)`,

	`CREATE TABLE IF NOT EXISTS workflow_steps (
		id           UUID PRIMARY KEY,
		workflow_id  UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
		position     INTEGER NOT NULL,
		name         TEXT NOT NULL,
		type         TEXT NOT NULL,
		config       JSONB,
		condition    TEXT,
		retry        JSONB,
		timeout_sec  INTEGER NOT NULL DEFAULT 0,
		status       TEXT NOT NULL,
		result       JSONB,
		error        TEXT,
		attempts     INTEGER NOT NULL DEFAULT 0,
		started_at   TIMESTAMPTZ,
		finished_at  TIMESTAMPTZ,
		UNIQUE (workflow_id, position),
		UNIQUE (workflow_id, name)
	)`,
	// "следующий PENDING шаг workflow X"
	`CREATE INDEX IF NOT EXISTS idx_workflow_steps_pending
		ON workflow_steps (workflow_id, position) WHERE status = 'PENDING'`,

	`CREATE TABLE IF NOT EXISTS workflow_activations (
		workflow_id   UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
		event_id      TEXT NOT NULL,
		event_type    TEXT NOT NULL,
		sequence      BIGINT NOT NULL,
		payload       JSONB,
		activated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (workflow_id, event_id)
	)`,

	// Ссылка на шаг слабая: без FK, записи очереди чистятся отдельно.
	// UNIQUE (workflow_id) — не больше одного задания на workflow.
	`CREATE TABLE IF NOT EXISTS queue_tasks (
		id            UUID PRIMARY KEY,
		step_id       UUID NOT NULL UNIQUE,
		workflow_id   UUID NOT NULL UNIQUE,
		position      INTEGER NOT NULL,
		available_at  TIMESTAMPTZ NOT NULL,
		attempt       INTEGER NOT NULL DEFAULT 0,
		lease_token   UUID,
		leased_by     TEXT,
		leased_until  TIMESTAMPTZ,
		last_error    TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_queue_tasks_available ON queue_tasks (available_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_tasks_token
		ON queue_tasks (lease_token) WHERE lease_token IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS dead_letters (
		id           UUID PRIMARY KEY,
		task_id      UUID NOT NULL,
		step_id      UUID NOT NULL,
		workflow_id  UUID NOT NULL,
		attempts     INTEGER NOT NULL,
		reason       TEXT NOT NULL,
		failed_at    TIMESTAMPTZ NOT NULL,
		replayed_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dead_letters_open
		ON dead_letters (failed_at) WHERE replayed_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS ledger_cursors (
		source      TEXT PRIMARY KEY,
		sequence    BIGINT NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate применяет схему. Безопасно вызывать при каждом старте.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
