package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Statements are idempotent so both binaries can run Migrate at startup.
var migrations = []string{
	`CREATE SCHEMA IF NOT EXISTS quillpost`,

	`CREATE TABLE IF NOT EXISTS quillpost.idempotency (
		actor_id         TEXT        NOT NULL,
		key              TEXT        NOT NULL,
		status           TEXT        NOT NULL DEFAULT 'in_progress',
		response_payload JSONB,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (actor_id, key)
	)`,

	`CREATE TABLE IF NOT EXISTS quillpost.newsletter_issue (
		id           UUID        PRIMARY KEY,
		title        TEXT        NOT NULL,
		html_content TEXT        NOT NULL,
		text_content TEXT        NOT NULL,
		published_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS quillpost.delivery_task (
		id                 UUID        PRIMARY KEY DEFAULT gen_random_uuid(),
		issue_id           UUID        NOT NULL REFERENCES quillpost.newsletter_issue(id),
		recipient          TEXT        NOT NULL,
		subject            TEXT        NOT NULL,
		html_body          TEXT        NOT NULL,
		text_body          TEXT        NOT NULL,
		status             TEXT        NOT NULL DEFAULT 'pending',
		attempt_count      INT         NOT NULL DEFAULT 0,
		next_eligible_time TIMESTAMPTZ NOT NULL DEFAULT now(),
		locked_by          TEXT,
		locked_at          TIMESTAMPTZ,
		last_error         TEXT,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_delivery_task_claim
		ON quillpost.delivery_task (next_eligible_time)
		WHERE status = 'pending'`,

	`CREATE INDEX IF NOT EXISTS idx_delivery_task_issue
		ON quillpost.delivery_task (issue_id)`,

	`CREATE TABLE IF NOT EXISTS quillpost.subscribers (
		id            UUID        PRIMARY KEY,
		email         TEXT        NOT NULL UNIQUE,
		name          TEXT        NOT NULL,
		status        TEXT        NOT NULL DEFAULT 'pending',
		subscribed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS quillpost.subscription_tokens (
		token         TEXT PRIMARY KEY,
		subscriber_id UUID NOT NULL REFERENCES quillpost.subscribers(id)
	)`,
}

// Migrate applies the schema. Safe to call on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
