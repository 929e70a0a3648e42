package httpapi

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersSeries(t *testing.T) {
	m := NewMetrics()
	require.NotNil(t, m.registry)

	m.observeRequest("/v1/requests", "200 OK", 15*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("/v1/requests", "200 OK")))
}

func TestMetricsHandlerServesScrapeFormat(t *testing.T) {
	m := NewMetrics()
	m.observeRequest("/healthz", "200 OK", time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "taskorch_http_requests_total")
}
