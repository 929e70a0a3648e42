package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/taskorch/pkg/orchestrator"
)

func TestNewSSESinkRejectsNonFlushingWriter(t *testing.T) {
	_, ok := newSSESink(&nonFlushingWriter{rec: httptest.NewRecorder()}, nil)
	assert.False(t, ok)
}

func TestSSESinkWritesEventFrameAndFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	sink, ok := newSSESink(rec, nil)
	require.True(t, ok)

	sink.Publish(orchestrator.Event{Type: orchestrator.EventStatus, Data: map[string]any{"state": "CHAT"}})

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: status\ndata: "))
	assert.Contains(t, body, `"state":"CHAT"`)
	assert.True(t, strings.HasSuffix(body, "\n\n"))
}

func TestSSESinkIncrementsEventsSentMetric(t *testing.T) {
	m := NewMetrics()
	rec := httptest.NewRecorder()
	sink, ok := newSSESink(rec, m)
	require.True(t, ok)

	sink.Publish(orchestrator.Event{Type: orchestrator.EventDone, Data: map[string]any{}})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.eventsSent.WithLabelValues(string(orchestrator.EventDone))))
}

// nonFlushingWriter wraps a ResponseRecorder without promoting its Flush
// method, so it satisfies http.ResponseWriter but not http.Flusher.
type nonFlushingWriter struct {
	rec *httptest.ResponseRecorder
}

func (w *nonFlushingWriter) Header() http.Header         { return w.rec.Header() }
func (w *nonFlushingWriter) Write(b []byte) (int, error) { return w.rec.Write(b) }
func (w *nonFlushingWriter) WriteHeader(status int)      { w.rec.WriteHeader(status) }
