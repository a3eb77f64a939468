package agentclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kandev/sandboxctl/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "debug", Format: "console"})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	return log
}

func TestHTTPClientExecuteRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.RunID != "run-1" {
			t.Fatalf("unexpected run id: %q", req.RunID)
		}
		commit := "abc123"
		_ = json.NewEncoder(w).Encode(runResponse{
			FinalText: "done",
			Diff:      "diff --git a b",
			ThreadID:  "thread-1",
			GitCommit: &commit,
		})
	}))
	defer server.Close()

	c := NewHTTPClient(newTestLogger(t))
	addr := server.Listener.Addr().String()

	result, err := c.Execute(context.Background(), ExecuteRequest{
		WorkspaceID: "ws-1",
		RunID:       "run-1",
		Prompt:      "fix the bug",
		Address:     addr,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.FinalText != "done" || result.ThreadID != "thread-1" || result.GitCommit == nil || *result.GitCommit != "abc123" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestHTTPClientExecuteNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	c := NewHTTPClient(newTestLogger(t))
	_, err := c.Execute(context.Background(), ExecuteRequest{
		RunID:   "run-1",
		Prompt:  "x",
		Address: server.Listener.Addr().String(),
	})
	if err == nil {
		t.Fatalf("expected error on non-200 response")
	}
}

func TestHTTPClientExecuteMissingAddress(t *testing.T) {
	c := NewHTTPClient(newTestLogger(t))
	_, err := c.Execute(context.Background(), ExecuteRequest{RunID: "run-1"})
	if err == nil {
		t.Fatalf("expected error for missing address")
	}
}

func TestMockClientThreadIDDefaultsToWorkspaceID(t *testing.T) {
	m := NewMockClient(newTestLogger(t))
	res, err := m.Execute(context.Background(), ExecuteRequest{WorkspaceID: "ws-1", RunID: "run-1", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ThreadID != "ws-1" {
		t.Fatalf("expected thread id to default to workspace id, got %q", res.ThreadID)
	}
}
