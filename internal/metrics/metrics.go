package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so lower layers can be used without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	upstreamCalls   *prometheus.CounterVec
	upstreamRetries *prometheus.CounterVec
	poolSelections  *prometheus.CounterVec
	gatewayOutcomes *prometheus.CounterVec
	streamLines     prometheus.Counter
	streamErrors    prometheus.Counter
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qwenmock_http_requests_total",
			Help: "Inbound HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qwenmock_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"route"}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qwenmock_upstream_attempts_total",
			Help: "Upstream HTTP attempts by operation and outcome.",
		}, []string{"operation", "outcome"}),
		upstreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qwenmock_upstream_retries_total",
			Help: "Upstream retries scheduled by operation and reason.",
		}, []string{"operation", "reason"}),
		poolSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qwenmock_pool_selections_total",
			Help: "Credential pool selections by credential fingerprint.",
		}, []string{"credential"}),
		gatewayOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qwenmock_chat_requests_total",
			Help: "Chat completion requests by mode and outcome kind.",
		}, []string{"mode", "outcome"}),
		streamLines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qwenmock_stream_lines_total",
			Help: "Upstream stream lines relayed to callers.",
		}),
		streamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qwenmock_stream_errors_total",
			Help: "Streams that ended with an inline error event.",
		}),
	}
	r.MustRegister(
		m.httpRequests, m.httpLatency,
		m.upstreamCalls, m.upstreamRetries,
		m.poolSelections, m.gatewayOutcomes,
		m.streamLines, m.streamErrors,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHTTP(route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(route).Observe(dur.Seconds())
}

func (m *Metrics) ObserveUpstreamAttempt(operation, outcome string) {
	if m == nil {
		return
	}
	m.upstreamCalls.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveRetry(operation, reason string) {
	if m == nil {
		return
	}
	m.upstreamRetries.WithLabelValues(operation, reason).Inc()
}

func (m *Metrics) ObservePoolSelection(fingerprint string) {
	if m == nil {
		return
	}
	m.poolSelections.WithLabelValues(fingerprint).Inc()
}

func (m *Metrics) ObserveChat(mode, outcome string) {
	if m == nil {
		return
	}
	m.gatewayOutcomes.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) ObserveStream(lines int, failed bool) {
	if m == nil {
		return
	}
	m.streamLines.Add(float64(lines))
	if failed {
		m.streamErrors.Inc()
	}
}
