// Package metrics exposes Prometheus collectors for the analyst server.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "analyst"

// Metrics holds every collector on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	modelCallsTotal   *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec
	modelRetriesTotal *prometheus.CounterVec
	modelTokensTotal  *prometheus.CounterVec

	cacheLookupsTotal *prometheus.CounterVec
	cacheSweptTotal   prometheus.Counter

	chunksUploadedTotal prometheus.Counter
	usageDroppedTotal   *prometheus.CounterVec
}

// New creates the collectors and registers them.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests processed.",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		requestInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "in_flight_requests",
				Help:      "Number of in-flight HTTP requests.",
			},
		),
		modelCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "calls_total",
				Help:      "Model service calls by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		modelCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "call_duration_seconds",
				Help:      "Model service call duration including retry waits.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"operation"},
		),
		modelRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "rate_limit_retries_total",
				Help:      "Retries after the model service rate-limited a call.",
			},
			[]string{"operation"},
		),
		modelTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "tokens_total",
				Help:      "Token usage by direction.",
			},
			[]string{"direction"},
		),
		cacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Result cache lookups by query kind and result.",
			},
			[]string{"kind", "result"},
		),
		cacheSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "swept_total",
				Help:      "Expired cache entries deleted by the sweeper.",
			},
		),
		chunksUploadedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "documents",
				Name:      "chunks_uploaded_total",
				Help:      "PDF chunks uploaded to the model service.",
			},
		),
		usageDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "usage",
				Name:      "dropped_events_total",
				Help:      "Usage events that could not be stored.",
			},
			[]string{"event_type"},
		),
	}

	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.requestInFlight,
		m.modelCallsTotal,
		m.modelCallDuration,
		m.modelRetriesTotal,
		m.modelTokensTotal,
		m.cacheLookupsTotal,
		m.cacheSweptTotal,
		m.chunksUploadedTotal,
		m.usageDroppedTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts, durations and in-flight requests.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(rec, r)

		m.requestTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses numeric ids so label cardinality stays bounded.
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// ObserveCall records one model service call.
func (m *Metrics) ObserveCall(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.modelCallsTotal.WithLabelValues(operation, outcome).Inc()
	m.modelCallDuration.WithLabelValues(operation).Observe(seconds)
}

// ObserveRetry records a rate-limit retry.
func (m *Metrics) ObserveRetry(operation string) {
	if m == nil {
		return
	}
	m.modelRetriesTotal.WithLabelValues(operation).Inc()
}

// ObserveTokens adds token usage of one response.
func (m *Metrics) ObserveTokens(input, output int) {
	if m == nil {
		return
	}
	if input > 0 {
		m.modelTokensTotal.WithLabelValues("in").Add(float64(input))
	}
	if output > 0 {
		m.modelTokensTotal.WithLabelValues("out").Add(float64(output))
	}
}

// CacheLookup records a result cache hit or miss.
func (m *Metrics) CacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(kind, result).Inc()
}

// CacheSwept adds entries removed by a sweep.
func (m *Metrics) CacheSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheSweptTotal.Add(float64(n))
}

// ChunksUploaded adds uploaded PDF chunks.
func (m *Metrics) ChunksUploaded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.chunksUploadedTotal.Add(float64(n))
}

// UsageDropped records a usage event that failed to persist.
func (m *Metrics) UsageDropped(eventType string) {
	if m == nil {
		return
	}
	m.usageDroppedTotal.WithLabelValues(eventType).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
