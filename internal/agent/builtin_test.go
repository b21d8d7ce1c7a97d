package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agentrelay/agentrelay/pkg/models"
)

func TestWebSearchAgent_CountParam(t *testing.T) {
	tests := []struct {
		name  string
		count interface{}
		want  string
	}{
		{"int", 5, "5"},
		{"json number", float64(7), "7"},
		{"absent", nil, ""},
		{"wrong type", "many", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotCount string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotCount = r.URL.Query().Get("count")
				w.Write([]byte(`{"results":[]}`))
			}))
			defer srv.Close()

			a := &webSearchAgent{
				cfg:      models.AgentConfig{ID: "ws", Type: models.AgentWebSearch},
				endpoint: srv.URL,
				client:   srv.Client(),
			}
			params := map[string]interface{}{"query": "go"}
			if tt.count != nil {
				params["count"] = tt.count
			}
			_, err := a.Execute(context.Background(), &models.AgentExecutionRequest{
				Type:    models.AgentWebSearch,
				Context: models.ExecutionContext{Query: "go", Parameters: params},
			})
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			if gotCount != tt.want {
				t.Errorf("count param = %q, want %q", gotCount, tt.want)
			}
		})
	}
}

func TestTruncateContent_RuneBoundary(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short untouched", "héllo", 100, "héllo"},
		{"ascii exact cut", "abcdef", 3, "abc"},
		{"multi-byte not split", "aé", 2, "a"},
		{"cut lands on rune start", "日本語", 6, "日本"},
		{"cut inside rune walks back", "日本語", 5, "日本"},
	}
	for _, tt := range tests {
		got := truncateContent(tt.in, tt.max)
		if got != tt.want {
			t.Errorf("%s: truncateContent(%q, %d) = %q, want %q", tt.name, tt.in, tt.max, got, tt.want)
		}
		if !strings.HasPrefix(tt.in, got) {
			t.Errorf("%s: result %q is not a prefix of input", tt.name, got)
		}
	}
}
