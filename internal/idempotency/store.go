// Package idempotency persists one record per (actor, key) pair so a
// retransmitted publish request can never re-run the fan-out. Records
// move in_progress -> completed exactly once; retention is an external
// policy and nothing here deletes them.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConcurrentDuplicate signals that another request with the same
// (actor, key) is in progress right now. The caller must surface a
// conflict, not run the action twice.
var ErrConcurrentDuplicate = errors.New("a request with this idempotency key is already in progress")

// Response is the saved outcome replayed to duplicate submissions.
type Response struct {
	IssueID     uuid.UUID `json:"issue_id"`
	TasksQueued int       `json:"tasks_queued"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

type State int

const (
	StateFresh State = iota
	StateInProgress
	StateCompleted
)

// BeginResult reports what Begin found for the (actor, key) pair.
type BeginResult struct {
	State State
	Saved *Response // set only when State == StateCompleted
}

// Store reads and writes idempotency records. All methods operate on
// the caller's transaction so completion commits atomically with the
// task fan-out.
type Store struct{}

func NewStore() *Store { return &Store{} }

// Begin atomically inserts an in_progress marker for (actor, key). If
// the pair already exists it returns the completed response, or
// StateInProgress when another submission holds the marker without
// having completed.
func (s *Store) Begin(ctx context.Context, tx pgx.Tx, actorID, key string) (BeginResult, error) {
	ct, err := tx.Exec(ctx, `
		INSERT INTO quillpost.idempotency (actor_id, key, status)
		VALUES ($1, $2, 'in_progress')
		ON CONFLICT (actor_id, key) DO NOTHING`,
		actorID, key,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost an insert race with a concurrent submission.
			return BeginResult{State: StateInProgress}, nil
		}
		return BeginResult{}, fmt.Errorf("insert idempotency marker: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return BeginResult{State: StateFresh}, nil
	}

	var status string
	var payload []byte
	err = tx.QueryRow(ctx, `
		SELECT status, response_payload
		FROM quillpost.idempotency
		WHERE actor_id = $1 AND key = $2`,
		actorID, key,
	).Scan(&status, &payload)
	if err != nil {
		return BeginResult{}, fmt.Errorf("read idempotency record: %w", err)
	}

	if status != "completed" {
		return BeginResult{State: StateInProgress}, nil
	}
	var saved Response
	if err := json.Unmarshal(payload, &saved); err != nil {
		return BeginResult{}, fmt.Errorf("decode saved response: %w", err)
	}
	return BeginResult{State: StateCompleted, Saved: &saved}, nil
}

// Complete transitions in_progress -> completed, storing the response
// to replay. Must run in the same transaction as the enqueue; a failure
// here rolls the whole publish back.
func (s *Store) Complete(ctx context.Context, tx pgx.Tx, actorID, key string, resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	ct, err := tx.Exec(ctx, `
		UPDATE quillpost.idempotency
		SET status = 'completed', response_payload = $3
		WHERE actor_id = $1 AND key = $2 AND status = 'in_progress'`,
		actorID, key, payload,
	)
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("idempotency record for actor %s not in progress", actorID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
