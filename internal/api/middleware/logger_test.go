package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/agentrelay/agentrelay/internal/api/middleware"
)

// captureLog redirects the global logger into a buffer for the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := zlog.Logger
	zlog.Logger = zerolog.New(&buf)
	t.Cleanup(func() { zlog.Logger = prev })
	return &buf
}

func TestLogger_EmitsRequestIDAndUserID(t *testing.T) {
	buf := captureLog(t)

	// The production chain: chi request ID, then identity, then logging.
	handler := chimw.RequestID(middleware.IdentityExtractor(middleware.Logger(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte("ok"))
		}))))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", nil)
	req.Header.Set("X-User-Id", "user-42")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line not JSON: %v (%q)", err, buf.String())
	}
	if line["user_id"] != "user-42" {
		t.Errorf("user_id = %v, want user-42", line["user_id"])
	}
	if id, _ := line["request_id"].(string); id == "" {
		t.Error("request_id missing from log line")
	}
	if line["status"] != float64(http.StatusCreated) {
		t.Errorf("status = %v, want %d", line["status"], http.StatusCreated)
	}
	if line["bytes"] != float64(2) {
		t.Errorf("bytes = %v, want 2", line["bytes"])
	}
}

func TestLogger_ErrorStatusLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "info"},
		{http.StatusNotFound, "warn"},
		{http.StatusInternalServerError, "error"},
	}
	for _, tt := range tests {
		buf := captureLog(t)
		handler := middleware.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

		var line map[string]interface{}
		if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
			t.Fatalf("status %d: log line not JSON: %v", tt.status, err)
		}
		if line["level"] != tt.level {
			t.Errorf("status %d: level = %v, want %s", tt.status, line["level"], tt.level)
		}
	}
}
