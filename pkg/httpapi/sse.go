package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kadirpekel/taskorch/pkg/orchestrator"
)

// sseSink is the narrow EventSink implementation owned by the web
// layer (spec.md §9 Design Notes): it writes each Event as one SSE
// frame and flushes immediately so the client sees progress as it
// happens rather than buffered at the end of the run.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	metrics *Metrics
}

func newSSESink(w http.ResponseWriter, metrics *Metrics) (*sseSink, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseSink{w: w, flusher: flusher, metrics: metrics}, true
}

func (s *sseSink) Publish(e orchestrator.Event) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		payload = []byte(`{}`)
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", e.Type, payload)
	s.flusher.Flush()
	if s.metrics != nil {
		s.metrics.eventsSent.WithLabelValues(string(e.Type)).Inc()
	}
}
