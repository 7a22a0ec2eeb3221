package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quillpost/quillpost/internal/domain"
	"github.com/quillpost/quillpost/internal/idempotency"
	"github.com/quillpost/quillpost/internal/logging"
	"github.com/quillpost/quillpost/internal/publish"
	"github.com/quillpost/quillpost/internal/queue"
	"github.com/quillpost/quillpost/internal/subscribers"
)

type fakePublisher struct {
	outcome publish.Outcome
	err     error

	gotActor      string
	gotKey        string
	gotContent    queue.IssueContent
	gotRecipients []domain.SubscriberEmail
	calls         int
}

func (f *fakePublisher) Publish(_ context.Context, actorID, key string, content queue.IssueContent, recipients []domain.SubscriberEmail) (publish.Outcome, error) {
	f.calls++
	f.gotActor = actorID
	f.gotKey = key
	f.gotContent = content
	f.gotRecipients = recipients
	return f.outcome, f.err
}

type fakeDirectory struct {
	confirmed  []subscribers.Subscriber
	listErr    error
	token      string
	insertErr  error
	confirmErr error

	gotInsert domain.NewSubscriber
	gotToken  string
}

func (f *fakeDirectory) InsertPending(_ context.Context, sub domain.NewSubscriber) (string, error) {
	f.gotInsert = sub
	return f.token, f.insertErr
}

func (f *fakeDirectory) Confirm(_ context.Context, token string) error {
	f.gotToken = token
	return f.confirmErr
}

func (f *fakeDirectory) ListConfirmed(context.Context) ([]subscribers.Subscriber, error) {
	return f.confirmed, f.listErr
}

type fakeTaskLister struct {
	tasks []queue.Task
	err   error

	gotIssueID uuid.UUID
	gotStatus  queue.Status
	gotLimit   int
}

func (f *fakeTaskLister) List(_ context.Context, issueID uuid.UUID, status queue.Status, limit int) ([]queue.Task, error) {
	f.gotIssueID = issueID
	f.gotStatus = status
	f.gotLimit = limit
	return f.tasks, f.err
}

func newTestServer(p *fakePublisher, d *fakeDirectory, tl *fakeTaskLister) http.Handler {
	if p == nil {
		p = &fakePublisher{}
	}
	if d == nil {
		d = &fakeDirectory{}
	}
	if tl == nil {
		tl = &fakeTaskLister{}
	}
	logger := logging.NewWithWriter("api-test", io.Discard)
	mux := http.NewServeMux()
	NewServer(p, d, tl, nil, logger).Routes(mux)
	return mux
}

func publishBody() string {
	return `{"title":"Issue 9","html_content":"<p>hi</p>","text_content":"hi"}`
}

func TestHandlePublish(t *testing.T) {
	issueID := uuid.New()

	t.Run("accepted returns 202", func(t *testing.T) {
		p := &fakePublisher{outcome: publish.Outcome{
			Status: publish.StatusAccepted,
			Response: idempotency.Response{
				IssueID:     issueID,
				TasksQueued: 2,
				AcceptedAt:  time.Now().UTC(),
			},
		}}
		d := &fakeDirectory{confirmed: []subscribers.Subscriber{
			{Email: "a@example.com"},
			{Email: "b@example.com"},
		}}
		srv := newTestServer(p, d, nil)

		req := httptest.NewRequest(http.MethodPost, "/admin/newsletters", strings.NewReader(publishBody()))
		req.Header.Set(IdempotencyKeyHeader, "key-1")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
		}
		var resp publishResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Status != "accepted" || resp.IssueID != issueID.String() || resp.TasksQueued != 2 {
			t.Errorf("response = %+v", resp)
		}
		if p.gotKey != "key-1" {
			t.Errorf("key = %q", p.gotKey)
		}
		if len(p.gotRecipients) != 2 {
			t.Errorf("recipients = %d, want 2", len(p.gotRecipients))
		}
		if p.gotContent.Subject != "Issue 9" {
			t.Errorf("subject = %q", p.gotContent.Subject)
		}
	})

	t.Run("replay returns 200 with recorded outcome", func(t *testing.T) {
		p := &fakePublisher{outcome: publish.Outcome{
			Status:   publish.StatusReplayed,
			Response: idempotency.Response{IssueID: issueID, TasksQueued: 5},
		}}
		srv := newTestServer(p, nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/admin/newsletters", strings.NewReader(publishBody()))
		req.Header.Set(IdempotencyKeyHeader, "key-1")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var resp publishResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Status != "replayed" || resp.TasksQueued != 5 {
			t.Errorf("response = %+v", resp)
		}
	})

	t.Run("concurrent duplicate returns 409", func(t *testing.T) {
		p := &fakePublisher{err: idempotency.ErrConcurrentDuplicate}
		srv := newTestServer(p, nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/admin/newsletters", strings.NewReader(publishBody()))
		req.Header.Set(IdempotencyKeyHeader, "key-1")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("missing idempotency key returns 400 without publishing", func(t *testing.T) {
		p := &fakePublisher{}
		srv := newTestServer(p, nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/admin/newsletters", strings.NewReader(publishBody()))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
		if p.calls != 0 {
			t.Errorf("publisher called %d times, want 0", p.calls)
		}
	})

	t.Run("empty body fields return 400", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/admin/newsletters", strings.NewReader(`{"title":""}`))
		req.Header.Set(IdempotencyKeyHeader, "key-1")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("validation error from coordinator returns 400", func(t *testing.T) {
		p := &fakePublisher{err: &domain.ValidationError{Field: "idempotency_key", Reason: "must not be empty"}}
		srv := newTestServer(p, nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/admin/newsletters", strings.NewReader(publishBody()))
		req.Header.Set(IdempotencyKeyHeader, "key-1")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("invalid stored subscriber is skipped not fatal", func(t *testing.T) {
		p := &fakePublisher{outcome: publish.Outcome{Status: publish.StatusAccepted}}
		d := &fakeDirectory{confirmed: []subscribers.Subscriber{
			{Email: "good@example.com"},
			{Email: "not-an-email"},
		}}
		srv := newTestServer(p, d, nil)

		req := httptest.NewRequest(http.MethodPost, "/admin/newsletters", strings.NewReader(publishBody()))
		req.Header.Set(IdempotencyKeyHeader, "key-1")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", rec.Code)
		}
		if len(p.gotRecipients) != 1 {
			t.Errorf("recipients = %d, want 1", len(p.gotRecipients))
		}
	})

	t.Run("directory failure returns 500", func(t *testing.T) {
		d := &fakeDirectory{listErr: errors.New("db down")}
		srv := newTestServer(nil, d, nil)

		req := httptest.NewRequest(http.MethodPost, "/admin/newsletters", strings.NewReader(publishBody()))
		req.Header.Set(IdempotencyKeyHeader, "key-1")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})
}

func TestHandleListTasks(t *testing.T) {
	issueID := uuid.New()
	tl := &fakeTaskLister{tasks: []queue.Task{{
		ID:           uuid.New(),
		IssueID:      issueID,
		Recipient:    "a@example.com",
		Status:       queue.StatusPending,
		AttemptCount: 1,
		NextEligible: time.Now().UTC(),
	}}}
	srv := newTestServer(nil, nil, tl)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/admin/tasks?issue_id="+issueID.String()+"&status=pending&limit=10", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if tl.gotIssueID != issueID || tl.gotStatus != queue.StatusPending || tl.gotLimit != 10 {
		t.Errorf("lister got issue=%s status=%s limit=%d", tl.gotIssueID, tl.gotStatus, tl.gotLimit)
	}
	var body struct {
		Tasks []taskView `json:"tasks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Tasks) != 1 || body.Tasks[0].Recipient != "a@example.com" {
		t.Errorf("tasks = %+v", body.Tasks)
	}
}

func TestHandleListTasksBadIssueID(t *testing.T) {
	srv := newTestServer(nil, nil, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/tasks?issue_id=nope", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleListSubscribers(t *testing.T) {
	d := &fakeDirectory{confirmed: []subscribers.Subscriber{
		{ID: uuid.New(), Email: "a@example.com", Name: "Ada", Status: "confirmed", SubscribedAt: time.Now().UTC()},
	}}
	srv := newTestServer(nil, d, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/subscribers", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Subscribers []subscriberView `json:"subscribers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Subscribers) != 1 || body.Subscribers[0].Email != "a@example.com" {
		t.Errorf("subscribers = %+v", body.Subscribers)
	}
}

func TestHandleSubscribe(t *testing.T) {
	t.Run("valid signup returns token", func(t *testing.T) {
		d := &fakeDirectory{token: "tok-123"}
		srv := newTestServer(nil, d, nil)

		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/subscriptions",
			strings.NewReader(`{"email":"ursula@example.com","name":"Ursula Le Guin"}`)))

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
		}
		var body map[string]string
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["confirmation_token"] != "tok-123" {
			t.Errorf("token = %q", body["confirmation_token"])
		}
		if d.gotInsert.Email.String() != "ursula@example.com" {
			t.Errorf("stored email = %q", d.gotInsert.Email)
		}
	})

	t.Run("invalid name returns 400", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/subscriptions",
			strings.NewReader(`{"email":"a@example.com","name":"<script>"}`)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("invalid email returns 400", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/subscriptions",
			strings.NewReader(`{"email":"not-an-email","name":"Ada"}`)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("duplicate email returns 409", func(t *testing.T) {
		d := &fakeDirectory{insertErr: subscribers.ErrAlreadySubscribed}
		srv := newTestServer(nil, d, nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/subscriptions",
			strings.NewReader(`{"email":"a@example.com","name":"Ada"}`)))
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rec.Code)
		}
	})
}

func TestHandleConfirm(t *testing.T) {
	t.Run("known token confirms", func(t *testing.T) {
		d := &fakeDirectory{}
		srv := newTestServer(nil, d, nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscriptions/confirm?token=tok-1", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
		if d.gotToken != "tok-1" {
			t.Errorf("token = %q", d.gotToken)
		}
	})

	t.Run("unknown token returns 404", func(t *testing.T) {
		d := &fakeDirectory{confirmErr: subscribers.ErrTokenNotFound}
		srv := newTestServer(nil, d, nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscriptions/confirm?token=nope", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("missing token returns 400", func(t *testing.T) {
		srv := newTestServer(nil, nil, nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscriptions/confirm", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestAdminRoutesUseMiddleware(t *testing.T) {
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusUnauthorized)
		})
	}
	logger := logging.NewWithWriter("api-test", io.Discard)
	mux := http.NewServeMux()
	NewServer(&fakePublisher{}, &fakeDirectory{}, &fakeTaskLister{}, deny, logger).Routes(mux)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/newsletters", strings.NewReader(publishBody()))
	req.Header.Set(IdempotencyKeyHeader, "key-1")
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("admin route status = %d, want 401", rec.Code)
	}

	// Subscription routes stay public.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/subscriptions",
		strings.NewReader(`{"email":"a@example.com","name":"Ada"}`)))
	if rec.Code == http.StatusUnauthorized {
		t.Error("subscription route unexpectedly behind admin middleware")
	}
}
