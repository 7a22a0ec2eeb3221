package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPHandlerWithoutPool(t *testing.T) {
	handler := HTTPHandler("quillpost-api", nil)
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	var st Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !st.OK {
		t.Error("OK = false, want true")
	}
	if st.Service != "quillpost-api" {
		t.Errorf("Service = %q", st.Service)
	}
}
