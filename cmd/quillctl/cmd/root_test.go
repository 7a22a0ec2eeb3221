package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"
)

func TestCheckJQAvailable(t *testing.T) {
	want := func() bool {
		_, err := exec.LookPath("jq")
		return err == nil
	}()

	if got := checkJQAvailable(); got != want {
		t.Errorf("checkJQAvailable() = %v, want %v", got, want)
	}
}

func TestFormatWithJQ(t *testing.T) {
	tests := []struct {
		name     string
		jsonData []byte
		wantErr  bool
	}{
		{
			name:     "valid json",
			jsonData: []byte(`{"key":"value","number":42}`),
			wantErr:  false,
		},
		{
			name:     "invalid json",
			jsonData: []byte(`{"key":"value",}`),
			wantErr:  true,
		},
		{
			name:     "empty json object",
			jsonData: []byte(`{}`),
			wantErr:  false,
		},
		{
			name:     "json array",
			jsonData: []byte(`[1,2,3]`),
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !checkJQAvailable() {
				t.Skip("jq not available, skipping test")
			}

			got, err := formatWithJQ(tt.jsonData)
			if (err != nil) != tt.wantErr {
				t.Errorf("formatWithJQ() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got == "" {
				t.Errorf("formatWithJQ() returned empty string for valid JSON")
			}
		})
	}
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		path string
		want string
	}{
		{
			name: "plain base",
			base: "http://localhost:8080",
			path: "/healthz",
			want: "http://localhost:8080/healthz",
		},
		{
			name: "base with trailing slash",
			base: "http://localhost:8080/",
			path: "/admin/tasks",
			want: "http://localhost:8080/admin/tasks",
		},
		{
			name: "path with query",
			base: "http://api.example.com",
			path: "/admin/tasks?status=pending",
			want: "http://api.example.com/admin/tasks?status=pending",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildURL(tt.base, tt.path); got != tt.want {
				t.Errorf("buildURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMakeRequest(t *testing.T) {
	var gotAuth, gotKey, gotContentType string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"accepted"}`))
	}))
	defer srv.Close()

	origServer, origToken, origTimeout := serverAddr, adminToken, timeout
	serverAddr = srv.URL
	adminToken = "test-token"
	timeout = 5 * time.Second
	defer func() {
		serverAddr, adminToken, timeout = origServer, origToken, origTimeout
	}()

	resp, err := makeRequest(http.MethodPost, "/admin/newsletters",
		map[string]string{"Idempotency-Key": "key-1"},
		map[string]string{"title": "Issue 1"})
	if err != nil {
		t.Fatalf("makeRequest() error = %v", err)
	}
	body, err := decodeResponse(resp)
	if err != nil {
		t.Fatalf("decodeResponse() error = %v", err)
	}

	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotKey != "key-1" {
		t.Errorf("Idempotency-Key = %q", gotKey)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotBody["title"] != "Issue 1" {
		t.Errorf("body = %v", gotBody)
	}
	if body["status"] != "accepted" {
		t.Errorf("decoded response = %v", body)
	}
}

func TestDecodeResponseNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	origServer, origTimeout := serverAddr, timeout
	serverAddr = srv.URL
	timeout = 5 * time.Second
	defer func() { serverAddr, timeout = origServer, origTimeout }()

	resp, err := makeRequest(http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		t.Fatalf("makeRequest() error = %v", err)
	}
	if _, err := decodeResponse(resp); err == nil {
		t.Error("decodeResponse() expected error for non-JSON body")
	}
}
