package httpapi

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the HTTP-facing Prometheus series for the
// orchestrator's request entry point (spec.md §6): request counts and
// latency by route/status, plus the event frames streamed per run.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	eventsSent  *prometheus.CounterVec
	activeRuns  prometheus.Gauge
}

// NewMetrics builds a Metrics registered against a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskorch_http_requests_total",
			Help: "HTTP requests handled by the orchestrator's entry point, by route and status.",
		}, []string{"route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskorch_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		eventsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskorch_events_sent_total",
			Help: "Event frames published to SSE clients, by type.",
		}, []string{"type"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskorch_active_runs",
			Help: "HandleRequest calls currently in flight.",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.eventsSent, m.activeRuns)
	return m
}

// Handler exposes the Prometheus /metrics endpoint via the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeRequest(route, status string, d time.Duration) {
	m.requests.WithLabelValues(route, status).Inc()
	m.duration.WithLabelValues(route).Observe(d.Seconds())
}
