// Package metrics provides Prometheus metrics for the kauth login service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Common labels used across metrics.
const (
	LabelService  = "service"
	LabelMethod   = "method"
	LabelPath     = "path"
	LabelStatus   = "status"
	LabelProvider = "provider"
	LabelOutcome  = "outcome"
)

// Metrics contains all Prometheus metrics for the service.
type Metrics struct {
	serviceName string
	registry    *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Login flow metrics
	loginStarted  *prometheus.CounterVec
	loginResults  *prometheus.CounterVec
	loginDuration *prometheus.HistogramVec

	// Connection pool metrics
	dbConnectionsActive *prometheus.GaugeVec
	dbConnectionsIdle   *prometheus.GaugeVec
}

// Config holds metrics configuration.
type Config struct {
	ServiceName string
	Namespace   string
	Subsystem   string
}

// New creates a new Metrics instance.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "kauth"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		serviceName: cfg.ServiceName,
		registry:    registry,
	}

	factory := promauto.With(registry)

	m.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{LabelService, LabelMethod, LabelPath, LabelStatus},
	)

	m.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelMethod, LabelPath, LabelStatus},
	)

	m.httpRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed.",
		},
	)

	m.loginStarted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "login_started_total",
			Help:      "Total number of login redirects issued.",
		},
		[]string{LabelProvider},
	)

	m.loginResults = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "login_results_total",
			Help:      "Total number of completed login callbacks by outcome (success or error kind).",
		},
		[]string{LabelProvider, LabelOutcome},
	)

	m.loginDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "login_callback_duration_seconds",
			Help:      "Login callback handling latency (exchange plus profile fetch) in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelProvider},
	)

	m.dbConnectionsActive = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "db_connections_active",
			Help:      "Number of active database connections.",
		},
		[]string{"component"},
	)

	m.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections.",
		},
		[]string{"component"},
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordLoginStart records an issued login redirect. Implements the
// engine's MetricsRecorder.
func (m *Metrics) RecordLoginStart(provider string) {
	m.loginStarted.WithLabelValues(provider).Inc()
}

// RecordLoginResult records a completed login callback.
func (m *Metrics) RecordLoginResult(provider, outcome string, duration time.Duration) {
	m.loginResults.WithLabelValues(provider, outcome).Inc()
	m.loginDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(m.serviceName, method, path, statusStr).Inc()
	m.httpRequestDuration.WithLabelValues(m.serviceName, method, path, statusStr).Observe(duration.Seconds())
}

// SetDBConnections sets the database connection counts.
func (m *Metrics) SetDBConnections(component string, active, idle int) {
	m.dbConnectionsActive.WithLabelValues(component).Set(float64(active))
	m.dbConnectionsIdle.WithLabelValues(component).Set(float64(idle))
}

// HTTPMiddleware returns an HTTP middleware that records request metrics.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Global metrics instance for convenience.
var globalMetrics *Metrics

// Init initializes the global metrics instance.
func Init(cfg Config) *Metrics {
	globalMetrics = New(cfg)
	return globalMetrics
}

// Default returns the global metrics instance.
func Default() *Metrics {
	return globalMetrics
}
