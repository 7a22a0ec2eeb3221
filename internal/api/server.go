// Package api is the HTTP surface: the admin publish action, the
// subscription signup flow, and operational task inspection. It owns
// request parsing and response mapping only; consistency lives in the
// publish coordinator and the stores.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/quillpost/quillpost/internal/auth"
	"github.com/quillpost/quillpost/internal/domain"
	"github.com/quillpost/quillpost/internal/idempotency"
	"github.com/quillpost/quillpost/internal/logging"
	"github.com/quillpost/quillpost/internal/publish"
	"github.com/quillpost/quillpost/internal/queue"
	"github.com/quillpost/quillpost/internal/subscribers"
)

// IdempotencyKeyHeader carries the client-supplied key that
// deduplicates retried publish submissions.
const IdempotencyKeyHeader = "Idempotency-Key"

// Publisher is the coordinator surface the handler needs.
type Publisher interface {
	Publish(ctx context.Context, actorID, key string, content queue.IssueContent, recipients []domain.SubscriberEmail) (publish.Outcome, error)
}

// Directory supplies and mutates the subscriber list.
type Directory interface {
	InsertPending(ctx context.Context, sub domain.NewSubscriber) (string, error)
	Confirm(ctx context.Context, token string) error
	ListConfirmed(ctx context.Context) ([]subscribers.Subscriber, error)
}

// TaskLister exposes task state for operator inspection.
type TaskLister interface {
	List(ctx context.Context, issueID uuid.UUID, status queue.Status, limit int) ([]queue.Task, error)
}

// Middleware wraps the admin routes; nil leaves them open (dev only).
type Middleware func(http.Handler) http.Handler

type Server struct {
	publisher Publisher
	directory Directory
	tasks     TaskLister
	adminMW   Middleware
	logger    *logging.Logger
}

func NewServer(publisher Publisher, directory Directory, tasks TaskLister, adminMW Middleware, logger *logging.Logger) *Server {
	return &Server{
		publisher: publisher,
		directory: directory,
		tasks:     tasks,
		adminMW:   adminMW,
		logger:    logger,
	}
}

// Routes registers the API handlers on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	admin := http.NewServeMux()
	admin.HandleFunc("POST /admin/newsletters", s.handlePublish)
	admin.HandleFunc("GET /admin/tasks", s.handleListTasks)
	admin.HandleFunc("GET /admin/subscribers", s.handleListSubscribers)

	var adminHandler http.Handler = admin
	if s.adminMW != nil {
		adminHandler = s.adminMW(admin)
	}
	mux.Handle("/admin/", adminHandler)

	mux.HandleFunc("POST /subscriptions", s.handleSubscribe)
	mux.HandleFunc("GET /subscriptions/confirm", s.handleConfirm)
}

type publishRequest struct {
	Title       string `json:"title"`
	HTMLContent string `json:"html_content"`
	TextContent string `json:"text_content"`
}

type publishResponse struct {
	Status      string `json:"status"`
	IssueID     string `json:"issue_id"`
	TasksQueued int    `json:"tasks_queued"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing "+IdempotencyKeyHeader+" header")
		return
	}
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.Title == "" || (req.HTMLContent == "" && req.TextContent == "") {
		writeError(w, http.StatusBadRequest, "title and at least one of html_content/text_content are required")
		return
	}

	actorID := auth.ActorFromContext(ctx)
	if actorID == "" {
		actorID = "anonymous"
	}

	subs, err := s.directory.ListConfirmed(ctx)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("list subscribers failed")
		writeError(w, http.StatusInternalServerError, "subscriber directory unavailable")
		return
	}
	recipients := make([]domain.SubscriberEmail, 0, len(subs))
	for _, sub := range subs {
		addr, err := domain.NewSubscriberEmail(sub.Email)
		if err != nil {
			// Stored before validation tightened; skip rather than
			// poison the whole issue.
			s.logger.WithContext(ctx).WithRecipient(sub.Email).WithError(err).Warn("skipping invalid stored subscriber")
			continue
		}
		recipients = append(recipients, addr)
	}

	outcome, err := s.publisher.Publish(ctx, actorID, key, queue.IssueContent{
		Subject:  req.Title,
		HTMLBody: req.HTMLContent,
		TextBody: req.TextContent,
	}, recipients)
	if err != nil {
		var verr *domain.ValidationError
		switch {
		case errors.Is(err, idempotency.ErrConcurrentDuplicate):
			writeError(w, http.StatusConflict, "a publish with this idempotency key is already in progress")
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Error())
		default:
			s.logger.WithContext(ctx).WithActor(actorID).WithError(err).Error("publish failed")
			writeError(w, http.StatusInternalServerError, "publish failed")
		}
		return
	}

	status := http.StatusAccepted
	if outcome.Status == publish.StatusReplayed {
		status = http.StatusOK
	}
	writeJSON(w, status, publishResponse{
		Status:      string(outcome.Status),
		IssueID:     outcome.Response.IssueID.String(),
		TasksQueued: outcome.Response.TasksQueued,
	})
}

type taskView struct {
	ID           string `json:"id"`
	IssueID      string `json:"issue_id"`
	Recipient    string `json:"recipient"`
	Status       string `json:"status"`
	AttemptCount int    `json:"attempt_count"`
	NextEligible string `json:"next_eligible_time"`
	LastError    string `json:"last_error,omitempty"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	issueID := uuid.Nil
	if v := q.Get("issue_id"); v != "" {
		parsed, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid issue_id")
			return
		}
		issueID = parsed
	}
	status := queue.Status(q.Get("status"))
	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	tasks, err := s.tasks.List(r.Context(), issueID, status, limit)
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Error("list tasks failed")
		writeError(w, http.StatusInternalServerError, "task listing unavailable")
		return
	}
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, taskView{
			ID:           t.ID.String(),
			IssueID:      t.IssueID.String(),
			Recipient:    t.Recipient,
			Status:       string(t.Status),
			AttemptCount: t.AttemptCount,
			NextEligible: t.NextEligible.String(),
			LastError:    t.LastError,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": views})
}

type subscriberView struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	SubscribedAt string `json:"subscribed_at"`
}

func (s *Server) handleListSubscribers(w http.ResponseWriter, r *http.Request) {
	subs, err := s.directory.ListConfirmed(r.Context())
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Error("list subscribers failed")
		writeError(w, http.StatusInternalServerError, "subscriber directory unavailable")
		return
	}
	views := make([]subscriberView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, subscriberView{
			ID:           sub.ID.String(),
			Email:        sub.Email,
			Name:         sub.Name,
			Status:       sub.Status,
			SubscribedAt: sub.SubscribedAt.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscribers": views})
}

type subscribeRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	name, err := domain.NewSubscriberName(req.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	addr, err := domain.NewSubscriberEmail(req.Email)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := s.directory.InsertPending(r.Context(), domain.NewSubscriber{Email: addr, Name: name})
	if err != nil {
		if errors.Is(err, subscribers.ErrAlreadySubscribed) {
			writeError(w, http.StatusConflict, "email is already subscribed")
			return
		}
		s.logger.WithContext(r.Context()).WithError(err).Error("subscribe failed")
		writeError(w, http.StatusInternalServerError, "subscription failed")
		return
	}

	// TODO: send the confirmation link by email through the delivery
	// pipeline instead of returning it in the response.
	writeJSON(w, http.StatusCreated, map[string]string{"confirmation_token": token})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}
	if err := s.directory.Confirm(r.Context(), token); err != nil {
		if errors.Is(err, subscribers.ErrTokenNotFound) {
			writeError(w, http.StatusNotFound, "unknown confirmation token")
			return
		}
		s.logger.WithContext(r.Context()).WithError(err).Error("confirm failed")
		writeError(w, http.StatusInternalServerError, "confirmation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
