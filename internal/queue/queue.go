// Package queue is the durable, shared table of delivery tasks. All
// cross-worker coordination goes through row-level locks here; there is
// no in-memory lease that can leak when a worker dies.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Queue struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

// EnqueueBatch inserts one pending task per recipient inside the
// caller's transaction, so the fan-out commits or rolls back with the
// idempotency record.
func (q *Queue) EnqueueBatch(ctx context.Context, tx pgx.Tx, issueID uuid.UUID, content IssueContent, recipients []string) (int, error) {
	batch := &pgx.Batch{}
	for _, r := range recipients {
		batch.Queue(`
			INSERT INTO quillpost.delivery_task (issue_id, recipient, subject, html_body, text_body, status)
			VALUES ($1, $2, $3, $4, $5, 'pending')`,
			issueID, r, content.Subject, content.HTMLBody, content.TextBody,
		)
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for range recipients {
		if _, err := br.Exec(); err != nil {
			return 0, fmt.Errorf("enqueue task: %w", err)
		}
	}
	return len(recipients), nil
}

// ClaimNext atomically claims one eligible pending task for workerID.
// FOR UPDATE SKIP LOCKED keeps concurrent claimers off the same row;
// when nothing is eligible it returns (nil, nil) without blocking.
func (q *Queue) ClaimNext(ctx context.Context, workerID string) (*Task, error) {
	var t Task
	err := q.pool.QueryRow(ctx, `
		WITH next AS (
			SELECT id
			FROM quillpost.delivery_task
			WHERE status = 'pending' AND next_eligible_time <= now()
			ORDER BY next_eligible_time
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE quillpost.delivery_task t
		SET status = 'claimed', locked_by = $1, locked_at = now(), updated_at = now()
		FROM next
		WHERE t.id = next.id
		RETURNING t.id, t.issue_id, t.recipient, t.subject, t.html_body, t.text_body, t.attempt_count`,
		workerID,
	).Scan(&t.ID, &t.IssueID, &t.Recipient, &t.Subject, &t.HTMLBody, &t.TextBody, &t.AttemptCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	t.Status = StatusClaimed
	t.LockedBy = workerID
	return &t, nil
}

// MarkDone finishes a claimed task. Terminal.
func (q *Queue) MarkDone(ctx context.Context, taskID uuid.UUID) error {
	ct, err := q.pool.Exec(ctx, `
		UPDATE quillpost.delivery_task
		SET status = 'done', locked_by = NULL, locked_at = NULL, last_error = NULL, updated_at = now()
		WHERE id = $1 AND status = 'claimed'`,
		taskID,
	)
	if err != nil {
		return fmt.Errorf("mark task done: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("task %s not claimed", taskID)
	}
	return nil
}

// Reschedule returns a claimed task to pending after a transient
// failure, bumping the attempt count and pushing eligibility out by
// delay.
func (q *Queue) Reschedule(ctx context.Context, taskID uuid.UUID, delay time.Duration, lastError string) error {
	ct, err := q.pool.Exec(ctx, `
		UPDATE quillpost.delivery_task
		SET status = 'pending',
		    attempt_count = attempt_count + 1,
		    next_eligible_time = now() + $2,
		    locked_by = NULL, locked_at = NULL,
		    last_error = $3,
		    updated_at = now()
		WHERE id = $1 AND status = 'claimed'`,
		taskID, delay, lastError,
	)
	if err != nil {
		return fmt.Errorf("reschedule task: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("task %s not claimed", taskID)
	}
	return nil
}

// Quarantine parks a task permanently. The attempt that triggered it
// still counts, so attempt_count reflects the total attempts made.
func (q *Queue) Quarantine(ctx context.Context, taskID uuid.UUID, reason string) error {
	ct, err := q.pool.Exec(ctx, `
		UPDATE quillpost.delivery_task
		SET status = 'quarantined',
		    attempt_count = attempt_count + 1,
		    locked_by = NULL, locked_at = NULL,
		    last_error = $2,
		    updated_at = now()
		WHERE id = $1 AND status = 'claimed'`,
		taskID, reason,
	)
	if err != nil {
		return fmt.Errorf("quarantine task: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("task %s not claimed", taskID)
	}
	return nil
}

// ReleaseStale returns tasks claimed by crashed workers to the pending
// pool. A claim older than olderThan with no resolution means the
// worker died mid-attempt; the task must become claimable again.
func (q *Queue) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	ct, err := q.pool.Exec(ctx, `
		UPDATE quillpost.delivery_task
		SET status = 'pending', locked_by = NULL, locked_at = NULL, updated_at = now()
		WHERE status = 'claimed' AND locked_at < now() - $1`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return ct.RowsAffected(), nil
}

// CountByStatus reports queue depth per status for metrics and
// operational inspection.
func (q *Queue) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM quillpost.delivery_task
		GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int64)
	for rows.Next() {
		var s string
		var n int64
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[Status(s)] = n
	}
	return counts, rows.Err()
}

// List returns tasks filtered by issue and/or status, newest first.
// Quarantined tasks are not surfaced synchronously at publish time, so
// this is how operators find them.
func (q *Queue) List(ctx context.Context, issueID uuid.UUID, status Status, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 50
	}
	args := []any{}
	where := "1=1"
	argn := 0
	if issueID != uuid.Nil {
		argn++
		where += fmt.Sprintf(" AND issue_id = $%d", argn)
		args = append(args, issueID)
	}
	if status != "" {
		argn++
		where += fmt.Sprintf(" AND status = $%d", argn)
		args = append(args, string(status))
	}
	argn++
	args = append(args, limit)

	rows, err := q.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, issue_id, recipient, subject, status, attempt_count, next_eligible_time,
		       COALESCE(locked_by, ''), COALESCE(last_error, '')
		FROM quillpost.delivery_task
		WHERE %s
		ORDER BY updated_at DESC
		LIMIT $%d`, where, argn),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var s string
		if err := rows.Scan(&t.ID, &t.IssueID, &t.Recipient, &t.Subject, &s, &t.AttemptCount,
			&t.NextEligible, &t.LockedBy, &t.LastError); err != nil {
			return nil, err
		}
		t.Status = Status(s)
		out = append(out, t)
	}
	return out, rows.Err()
}
