// Package delivery runs the worker pool that drains the task queue.
// Workers coordinate only through the queue's row locks; if one dies
// mid-attempt its claim goes stale and the janitor releases it.
//
// Known tradeoff: a worker that sends the email and crashes before
// MarkDone leaves the task pending, so another worker may send it
// again. Delivery is at-least-once; narrowing that window further would
// need provider-side deduplication.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/quillpost/quillpost/internal/domain"
	"github.com/quillpost/quillpost/internal/email"
	"github.com/quillpost/quillpost/internal/logging"
	"github.com/quillpost/quillpost/internal/metrics"
	"github.com/quillpost/quillpost/internal/queue"
	"github.com/quillpost/quillpost/internal/tracing"
)

// TaskQueue is the queue surface a worker needs; tests substitute fakes.
type TaskQueue interface {
	ClaimNext(ctx context.Context, workerID string) (*queue.Task, error)
	MarkDone(ctx context.Context, taskID uuid.UUID) error
	Reschedule(ctx context.Context, taskID uuid.UUID, delay time.Duration, lastError string) error
	Quarantine(ctx context.Context, taskID uuid.UUID, reason string) error
}

// Sender delivers one email. Classification lives in the transport;
// retry policy lives here.
type Sender interface {
	Send(ctx context.Context, to domain.SubscriberEmail, subject, htmlBody, textBody string) (email.Outcome, error)
}

type Config struct {
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	JitterPercent float64
	IdlePoll      time.Duration
}

type Worker struct {
	id     string
	tasks  TaskQueue
	sender Sender
	cfg    Config
	logger *logging.Logger
}

func NewWorker(id string, tasks TaskQueue, sender Sender, cfg Config, logger *logging.Logger) *Worker {
	return &Worker{id: id, tasks: tasks, sender: sender, cfg: cfg, logger: logger}
}

// Run claims and executes tasks until ctx is cancelled. When the queue
// is empty the poll interval backs off up to 8x to avoid hammering the
// database, and resets as soon as work appears.
func (w *Worker) Run(ctx context.Context) {
	idle := w.cfg.IdlePoll
	maxIdle := 8 * w.cfg.IdlePoll
	for {
		if ctx.Err() != nil {
			return
		}
		task, err := w.tasks.ClaimNext(ctx, w.id)
		if err != nil {
			// Store unavailable: retry on the idle cycle, never crash.
			w.logger.Plain().WithWorker(w.id).WithError(err).Error("claim failed")
			if !sleepCtx(ctx, idle) {
				return
			}
			continue
		}
		if task == nil {
			if !sleepCtx(ctx, idle) {
				return
			}
			if idle < maxIdle {
				idle *= 2
			}
			continue
		}
		idle = w.cfg.IdlePoll
		w.processTask(ctx, task)
	}
}

// processTask drives one attempt: Claimed -> Done | Retry | Quarantined.
func (w *Worker) processTask(ctx context.Context, t *queue.Task) {
	ctx, span := tracing.StartSpan(ctx, "delivery.attempt",
		attribute.String("task_id", t.ID.String()),
		attribute.String("issue_id", t.IssueID.String()),
		attribute.Int("attempt", t.AttemptCount+1),
	)
	defer span.End()

	log := w.logger.WithContext(ctx).
		WithWorker(w.id).
		WithTask(t.ID.String()).
		WithIssue(t.IssueID.String()).
		WithRecipient(t.Recipient)

	recipient, err := domain.NewSubscriberEmail(t.Recipient)
	if err != nil {
		// A recipient that fails validation will never send.
		w.resolve(ctx, log, t, email.OutcomePermanentFailure, fmt.Errorf("stored recipient invalid: %w", err), 0)
		return
	}

	start := time.Now()
	outcome, sendErr := w.sender.Send(ctx, recipient, t.Subject, t.HTMLBody, t.TextBody)
	w.resolve(ctx, log, t, outcome, sendErr, time.Since(start))
}

func (w *Worker) resolve(ctx context.Context, log *logging.LogEntry, t *queue.Task, outcome email.Outcome, sendErr error, latency time.Duration) {
	attemptsMade := t.AttemptCount + 1

	switch outcome {
	case email.OutcomeSuccess:
		if err := w.tasks.MarkDone(ctx, t.ID); err != nil {
			log.WithError(err).Error("mark done failed")
			tracing.SetSpanError(ctx, err)
			return
		}
		metrics.RecordDelivery("delivered", latency)
		log.WithField("attempt", attemptsMade).Info("delivered")

	case email.OutcomeTransientFailure:
		if attemptsMade >= w.cfg.MaxAttempts {
			reason := fmt.Sprintf("attempts exhausted (%d): %v", attemptsMade, sendErr)
			if err := w.tasks.Quarantine(ctx, t.ID, reason); err != nil {
				log.WithError(err).Error("quarantine failed")
				return
			}
			metrics.RecordDelivery("quarantined", latency)
			metrics.RecordQuarantine("exhausted")
			log.WithField("attempt", attemptsMade).WithError(sendErr).Warn("task quarantined after exhausting retries")
			return
		}
		delay := Backoff(attemptsMade, w.cfg.BaseBackoff, w.cfg.MaxBackoff, w.cfg.JitterPercent)
		if err := w.tasks.Reschedule(ctx, t.ID, delay, errString(sendErr)); err != nil {
			log.WithError(err).Error("reschedule failed")
			return
		}
		metrics.RecordDelivery("retried", latency)
		metrics.RecordRetry("transient")
		log.WithFields(map[string]any{
			"attempt": attemptsMade,
			"delay":   delay.String(),
		}).WithError(sendErr).Info("transient failure, rescheduled")

	case email.OutcomePermanentFailure:
		// Retrying a request the provider always rejects only delays
		// the rest of the queue.
		reason := fmt.Sprintf("permanent failure: %v", sendErr)
		if err := w.tasks.Quarantine(ctx, t.ID, reason); err != nil {
			log.WithError(err).Error("quarantine failed")
			return
		}
		metrics.RecordDelivery("quarantined", latency)
		metrics.RecordQuarantine("permanent")
		log.WithField("attempt", attemptsMade).WithError(sendErr).Warn("task quarantined on permanent failure")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// sleepCtx sleeps for d or until ctx is done; false means shut down.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
