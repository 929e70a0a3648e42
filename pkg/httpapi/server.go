// Package httpapi is the reference web layer around the orchestrator
// core (spec.md §1 scopes the web/HTTP layer itself as an external
// collaborator; this package is the thin, swappable adapter a real
// deployment would replace — chi handlers and an SSE writer, nothing
// the workflow/MCP/validate packages depend on).
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/taskorch/pkg/orchestrator"
)

// Server hosts the HTTP entry point described in spec.md §6: a POST
// endpoint that streams progress frames over SSE, a POST endpoint that
// cancels a session, a health check and a Prometheus scrape endpoint.
type Server struct {
	orch    *orchestrator.Orchestrator
	metrics *Metrics
	log     *slog.Logger
	http    *http.Server
}

// NewServer builds a Server bound to addr, routing through orch.
func NewServer(addr string, orch *orchestrator.Orchestrator, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{orch: orch, metrics: NewMetrics(), log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)
	Mount(r, orch, s.metrics)

	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

// Mount registers the orchestrator's HTTP surface onto an
// already-constructed chi.Router, letting a real deployment's own web
// layer host these routes alongside its own (spec.md §9 Design Notes:
// "narrow publish interface owned by the web layer").
func Mount(r chi.Router, orch *orchestrator.Orchestrator, metrics *Metrics) {
	h := &handler{orch: orch, metrics: metrics}
	r.Post("/v1/requests", h.handleRequest)
	r.Post("/v1/sessions/{id}/cancel", h.handleCancel)
	r.Get("/healthz", h.handleHealth)
	if metrics != nil {
		r.Get("/metrics", metrics.Handler().ServeHTTP)
	}
}

// ListenAndServe starts the HTTP server, blocking until ctx is
// cancelled or an unrecoverable error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.metrics.observeRequest(route, http.StatusText(rw.status), time.Since(start))
	})
}

// statusWriter captures the response status for the metrics
// middleware (spec.md §9; mirrors the hector transport package's
// response-wrapper idiom).
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush lets SSE handlers flush through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type handler struct {
	orch    *orchestrator.Orchestrator
	metrics *Metrics
}

type requestBody struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Mode      string `json:"mode,omitempty"`
}

// handleRequest implements spec.md §6's request entry point: HTTP POST
// with body {session_id?, message, mode?}, response is an SSE stream
// of status/agent_message/tool_started/tool_result/verification/
// summary/error/done frames.
func (h *handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sink, ok := newSSESink(w, h.metrics)
	if !ok {
		// ResponseWriter doesn't support flushing (e.g. some test
		// harnesses); fall back to a buffering no-op rather than panic.
		sink = &sseSink{w: w, flusher: noopFlusher{}, metrics: h.metrics}
	}

	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = r.Header.Get("X-Session-Id")
	}

	if h.metrics != nil {
		h.metrics.activeRuns.Inc()
		defer h.metrics.activeRuns.Dec()
	}
	if _, err := h.orch.HandleRequest(r.Context(), sessionID, body.Message, sink); err != nil {
		sink.Publish(orchestrator.Event{Type: orchestrator.EventError, Data: map[string]any{"error": err.Error()}})
	}
}

func (h *handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.orch.CancelSession(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type noopFlusher struct{}

func (noopFlusher) Flush() {}
