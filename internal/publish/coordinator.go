// Package publish turns one admin action into a durable fan-out. The
// idempotency record and every per-subscriber task are written in a
// single transaction: either all of them exist afterwards or none do.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/quillpost/quillpost/internal/domain"
	"github.com/quillpost/quillpost/internal/idempotency"
	"github.com/quillpost/quillpost/internal/logging"
	"github.com/quillpost/quillpost/internal/metrics"
	"github.com/quillpost/quillpost/internal/queue"
	"github.com/quillpost/quillpost/internal/tracing"
)

// IdempotencyStore is the subset of the idempotency package the
// coordinator needs; tests substitute fakes.
type IdempotencyStore interface {
	Begin(ctx context.Context, tx pgx.Tx, actorID, key string) (idempotency.BeginResult, error)
	Complete(ctx context.Context, tx pgx.Tx, actorID, key string, resp idempotency.Response) error
}

// Enqueuer creates the per-subscriber tasks inside the transaction.
type Enqueuer interface {
	EnqueueBatch(ctx context.Context, tx pgx.Tx, issueID uuid.UUID, content queue.IssueContent, recipients []string) (int, error)
}

// IssueRecorder persists the issue itself alongside its tasks.
type IssueRecorder interface {
	Insert(ctx context.Context, tx pgx.Tx, issueID uuid.UUID, content queue.IssueContent) error
}

// TxRunner provides the single transaction everything runs inside.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

type Status string

const (
	// StatusAccepted means this request created the issue and its tasks.
	StatusAccepted Status = "accepted"
	// StatusReplayed means an earlier identical request already did, and
	// its recorded outcome is being returned.
	StatusReplayed Status = "replayed"
)

// Outcome is what the publish-action handler maps to an HTTP response.
type Outcome struct {
	Status   Status
	Response idempotency.Response
}

type Coordinator struct {
	runner TxRunner
	idem   IdempotencyStore
	issues IssueRecorder
	tasks  Enqueuer
	logger *logging.Logger
}

func NewCoordinator(runner TxRunner, idem IdempotencyStore, issues IssueRecorder, tasks Enqueuer, logger *logging.Logger) *Coordinator {
	return &Coordinator{runner: runner, idem: idem, issues: issues, tasks: tasks, logger: logger}
}

// Publish accepts one issue for delivery to the given recipients.
// Duplicate submissions with the same (actor, key) replay the original
// outcome; a concurrent duplicate gets idempotency.ErrConcurrentDuplicate.
// The email transport is never touched here — publish only enqueues.
func (c *Coordinator) Publish(ctx context.Context, actorID, key string, content queue.IssueContent, recipients []domain.SubscriberEmail) (Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "publish.Publish",
		attribute.String("actor_id", actorID),
		attribute.Int("recipient_count", len(recipients)),
	)
	defer span.End()

	if key == "" {
		return Outcome{}, &domain.ValidationError{Field: "idempotency_key", Reason: "must not be empty"}
	}

	addrs := make([]string, len(recipients))
	for i, r := range recipients {
		addrs[i] = r.String()
	}

	var outcome Outcome
	err := c.runner.InTx(ctx, func(tx pgx.Tx) error {
		res, err := c.idem.Begin(ctx, tx, actorID, key)
		if err != nil {
			return err
		}
		switch res.State {
		case idempotency.StateCompleted:
			tracing.AddSpanEvent(ctx, "idempotency.replayed")
			outcome = Outcome{Status: StatusReplayed, Response: *res.Saved}
			return nil
		case idempotency.StateInProgress:
			return idempotency.ErrConcurrentDuplicate
		}

		issueID := uuid.New()
		if err := c.issues.Insert(ctx, tx, issueID, content); err != nil {
			return err
		}
		n, err := c.tasks.EnqueueBatch(ctx, tx, issueID, content, addrs)
		if err != nil {
			return fmt.Errorf("fan out issue %s: %w", issueID, err)
		}
		resp := idempotency.Response{
			IssueID:     issueID,
			TasksQueued: n,
			AcceptedAt:  time.Now().UTC(),
		}
		if err := c.idem.Complete(ctx, tx, actorID, key, resp); err != nil {
			return err
		}
		tracing.AddSpanEvent(ctx, "issue.enqueued", attribute.Int("tasks_queued", n))
		outcome = Outcome{Status: StatusAccepted, Response: resp}
		return nil
	})
	if err != nil {
		tracing.SetSpanError(ctx, err)
		if errors.Is(err, idempotency.ErrConcurrentDuplicate) {
			metrics.RecordDuplicate("concurrent")
			c.logger.WithContext(ctx).WithActor(actorID).Warn("concurrent duplicate publish rejected")
			return Outcome{}, err
		}
		return Outcome{}, err
	}

	switch outcome.Status {
	case StatusAccepted:
		metrics.RecordPublish()
		c.logger.WithContext(ctx).
			WithActor(actorID).
			WithIssue(outcome.Response.IssueID.String()).
			WithField("tasks_queued", outcome.Response.TasksQueued).
			Info("issue accepted for delivery")
	case StatusReplayed:
		metrics.RecordDuplicate("replayed")
		c.logger.WithContext(ctx).
			WithActor(actorID).
			WithIssue(outcome.Response.IssueID.String()).
			Info("duplicate publish replayed recorded outcome")
	}
	return outcome, nil
}
