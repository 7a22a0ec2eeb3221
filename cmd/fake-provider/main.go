// fake-provider is a stand-in email provider for local runs and smoke
// tests. It speaks the same /email contract as the real provider and
// can simulate flakiness (FAIL_FIRST_N) and slow responses
// (RESPONSE_DELAY_MS) to exercise worker retry behavior end to end.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/quillpost/quillpost/internal/config"
	"github.com/quillpost/quillpost/internal/email"
)

var reqCount atomic.Int64

type sendRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HTMLBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

func main() {
	cfg := config.FromEnv()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("POST /email", func(w http.ResponseWriter, r *http.Request) {
		handleEmail(w, r, cfg.FakeProvider)
	})

	log.Printf("fake-provider listening on %s", cfg.FakeProvider.Port)
	log.Fatal(http.ListenAndServe(cfg.FakeProvider.Port, mux))
}

func handleEmail(w http.ResponseWriter, r *http.Request, cfg config.FakeProvider) {
	n := reqCount.Add(1)

	if cfg.ResponseDelayMS > 0 {
		time.Sleep(time.Duration(cfg.ResponseDelayMS) * time.Millisecond)
	}

	if cfg.Token != "" && r.Header.Get(email.AuthHeader) != cfg.Token {
		log.Printf("fake-provider rejected request: bad %s", email.AuthHeader)
		http.Error(w, "invalid auth token", http.StatusUnauthorized)
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusUnprocessableEntity)
		return
	}
	if msg := validate(req); msg != "" {
		log.Printf("fake-provider rejected request: %s", msg)
		http.Error(w, msg, http.StatusUnprocessableEntity)
		return
	}

	// Simulate flakiness: first N requests -> 500
	if n <= int64(cfg.FailFirstN) {
		log.Printf("FAILING (%d/%d) to=%s subject=%q", n, cfg.FailFirstN, req.To, req.Subject)
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	log.Printf("fake-provider OK to=%s subject=%q", req.To, req.Subject)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"MessageID": fmt.Sprintf("fake-%d", n)})
}

func validate(req sendRequest) string {
	if req.From == "" {
		return "missing From"
	}
	if req.To == "" {
		return "missing To"
	}
	if req.Subject == "" {
		return "missing Subject"
	}
	if req.HTMLBody == "" && req.TextBody == "" {
		return "missing body"
	}
	return ""
}
