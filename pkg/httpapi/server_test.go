package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/taskorch/pkg/config"
	"github.com/kadirpekel/taskorch/pkg/orchestrator"
)

// newTestOrchestrator wires an orchestrator around a fake chat-completions
// endpoint that always classifies the request as chat and replies with a
// fixed message, so HandleRequest can run end to end without a real LLM
// or MCP server.
func newTestOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()

	var calls int
	llmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		content := `{"mode": "chat"}`
		if calls > 1 {
			content = "hello from the assistant"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
	t.Cleanup(llmServer.Close)

	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.LLM.Endpoint = llmServer.URL
	cfg.LLM.Queue.MinInterRequestDelay = time.Millisecond
	cfg.LLM.Queue.MaxConcurrent = 1
	require.NoError(t, cfg.Validate())

	orch, err := orchestrator.New(cfg, slog.Default())
	require.NoError(t, err)
	return orch
}

func TestHandleHealthReturnsOK(t *testing.T) {
	orch := newTestOrchestrator(t)
	srv := NewServer("127.0.0.1:0", orch, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestHandleRequestStreamsStatusAndDoneFrames(t *testing.T) {
	orch := newTestOrchestrator(t)
	srv := NewServer("127.0.0.1:0", orch, slog.Default())

	body := strings.NewReader(`{"session_id": "s1", "message": "hi there"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/requests", body)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	scanner := bufio.NewScanner(rec.Body)
	var sawStatus, sawDone bool
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: status") {
			sawStatus = true
		}
		if strings.HasPrefix(line, "event: done") {
			sawDone = true
		}
	}
	assert.True(t, sawStatus, "expected a status frame")
	assert.True(t, sawDone, "expected a done frame")
}

func TestHandleRequestRejectsEmptyMessage(t *testing.T) {
	orch := newTestOrchestrator(t)
	srv := NewServer("127.0.0.1:0", orch, slog.Default())

	body := strings.NewReader(`{"message": ""}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/requests", body)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCancelUnknownSessionReturnsNotFound(t *testing.T) {
	orch := newTestOrchestrator(t)
	srv := NewServer("127.0.0.1:0", orch, slog.Default())

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/does-not-exist/cancel", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListenAndServeShutsDownOnContextCancel(t *testing.T) {
	orch := newTestOrchestrator(t)
	srv := NewServer("127.0.0.1:0", orch, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not shut down after context cancellation")
	}
}
