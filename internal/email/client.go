// Package email sends a single issue email through the provider's HTTP
// API and classifies the result. Retry policy lives in the worker, not
// here, so backoff stays centralized and testable.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/quillpost/quillpost/internal/domain"
)

// AuthHeader carries the provider token on every send request.
const AuthHeader = "X-Authorization-Token"

// Outcome classifies a send attempt for the worker's state machine.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransientFailure
	OutcomePermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransientFailure:
		return "transient_failure"
	case OutcomePermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// ClassifyStatus maps a provider HTTP status to an outcome. Client
// errors will not succeed on retry; everything else that is not a 2xx
// fails toward retry rather than silent loss.
func ClassifyStatus(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status >= 400 && status < 500:
		return OutcomePermanentFailure
	default:
		return OutcomeTransientFailure
	}
}

// The provider expects PascalCase field names.
type sendEmailRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// Client posts to the provider's /email endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	sender     domain.SubscriberEmail
	authToken  domain.SecretString
}

func NewClient(baseURL string, sender domain.SubscriberEmail, authToken domain.SecretString, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		sender:     sender,
		authToken:  authToken,
	}
}

// Send delivers one email. The returned error carries diagnostic detail
// for logging; the Outcome alone drives the caller's retry decision.
func (c *Client) Send(ctx context.Context, to domain.SubscriberEmail, subject, htmlBody, textBody string) (Outcome, error) {
	body, err := json.Marshal(sendEmailRequest{
		From:     c.sender.String(),
		To:       to.String(),
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	})
	if err != nil {
		return OutcomePermanentFailure, fmt.Errorf("encode send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/email", bytes.NewReader(body))
	if err != nil {
		return OutcomePermanentFailure, fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(AuthHeader, c.authToken.Reveal())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts, refused connections, DNS failures: all retryable.
		return OutcomeTransientFailure, fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	outcome := ClassifyStatus(resp.StatusCode)
	if outcome == OutcomeSuccess {
		return OutcomeSuccess, nil
	}
	return outcome, fmt.Errorf("provider returned status %d", resp.StatusCode)
}
