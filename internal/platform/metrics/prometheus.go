// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPActiveRequests  *prometheus.GaugeVec

	// Launcher metrics
	ExecutionsStarted *prometheus.CounterVec
	InputsCreated     prometheus.Counter

	// Input handler metrics
	InputTicksTotal   *prometheus.CounterVec
	InputsDispatched  prometheus.Counter
	ContextBuildSkips prometheus.Counter
	WaitFactorBumps   prometheus.Counter
	PollIntervalSecs  *prometheus.GaugeVec
	DispatchDuration  prometheus.Histogram
	ContextDuration   prometheus.Histogram

	// Output handler metrics
	ResultsTotal      *prometheus.CounterVec
	Finalizations     *prometheus.CounterVec
	ResultDuration    prometheus.Histogram
	InvalidResults    prometheus.Counter
	DependencyDecrems prometheus.Counter

	// Engine queue metrics
	EngineSubmissions      prometheus.Counter
	EngineSubmissionRetry  prometheus.Counter
	EngineSubmissionErrors prometheus.Counter
	EnginePollBatches      prometheus.Counter

	// Event metrics
	EventsPublished     *prometheus.CounterVec
	EventPublishErrors  prometheus.Counter
	WebsocketClients    prometheus.Gauge
	WebsocketBroadcasts prometheus.Counter

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBQueryErrors      *prometheus.CounterVec

	// System metrics
	SystemCPUUsage    prometheus.Gauge
	SystemMemoryUsage prometheus.Gauge
	SystemGoroutines  prometheus.Gauge
}

// New creates all metrics and registers them with the default
// registerer.
func New(namespace string) *Metrics {
	return NewWith(namespace, prometheus.DefaultRegisterer)
}

// NewWith creates all metrics and registers them with reg. Tests pass
// a fresh registry so repeated construction does not collide.
func NewWith(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPActiveRequests: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_active_requests",
				Help:      "Number of active HTTP requests",
			},
			[]string{"method"},
		),

		ExecutionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_started_total",
				Help:      "Total number of executions launched",
			},
			[]string{"trigger_type"},
		),
		InputsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "execution_inputs_created_total",
				Help:      "Total number of execution inputs created at launch",
			},
		),

		InputTicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "input_ticks_total",
				Help:      "Input handler ticks by outcome",
			},
			[]string{"outcome"},
		),
		InputsDispatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inputs_dispatched_total",
				Help:      "Total number of inputs submitted to the engine",
			},
		),
		ContextBuildSkips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "context_build_skips_total",
				Help:      "Inputs skipped because context resolution failed",
			},
		),
		WaitFactorBumps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wait_factor_bumps_total",
				Help:      "Ready inputs aged because they missed a batch",
			},
		),
		PollIntervalSecs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "poll_interval_seconds",
				Help:      "Current adaptive polling interval per handler",
			},
			[]string{"handler"},
		),
		DispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of one input handler tick",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		ContextDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "context_build_duration_seconds",
				Help:      "Duration of parameter context resolution per input",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),

		ResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "results_total",
				Help:      "Engine results processed by status",
			},
			[]string{"status"},
		),
		Finalizations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "execution_finalizations_total",
				Help:      "Executions driven to a terminal status",
			},
			[]string{"status"},
		),
		ResultDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "result_processing_duration_seconds",
				Help:      "Duration of one result application",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		InvalidResults: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalid_results_total",
				Help:      "Engine results rejected by validation",
			},
		),
		DependencyDecrems: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dependency_decrements_total",
				Help:      "Successor dependency counters decremented",
			},
		),

		EngineSubmissions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_submissions_total",
				Help:      "Task batches submitted to the engine queue",
			},
		),
		EngineSubmissionRetry: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_submission_retries_total",
				Help:      "Engine submissions retried after failure",
			},
		),
		EngineSubmissionErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_submission_errors_total",
				Help:      "Engine submissions that exhausted retries",
			},
		),
		EnginePollBatches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_poll_batches_total",
				Help:      "Non-empty result batches polled from the engine",
			},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Lifecycle events published to Kafka",
			},
			[]string{"event_type"},
		),
		EventPublishErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_publish_errors_total",
				Help:      "Lifecycle events that failed to publish",
			},
		),
		WebsocketClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_clients",
				Help:      "Connected websocket event feed clients",
			},
		),
		WebsocketBroadcasts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_broadcasts_total",
				Help:      "Messages broadcast to the event feed",
			},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections_open",
				Help:      "Open database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections_in_use",
				Help:      "Database connections currently in use",
			},
		),
		DBQueryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_query_errors_total",
				Help:      "Database query errors by operation",
			},
			[]string{"operation"},
		),

		SystemCPUUsage: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_cpu_usage_percent",
				Help:      "System CPU usage percentage",
			},
		),
		SystemMemoryUsage: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_memory_usage_percent",
				Help:      "System memory usage percentage",
			},
		),
		SystemGoroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_goroutines",
				Help:      "Number of goroutines",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPActiveRequests,
		m.ExecutionsStarted,
		m.InputsCreated,
		m.InputTicksTotal,
		m.InputsDispatched,
		m.ContextBuildSkips,
		m.WaitFactorBumps,
		m.PollIntervalSecs,
		m.DispatchDuration,
		m.ContextDuration,
		m.ResultsTotal,
		m.Finalizations,
		m.ResultDuration,
		m.InvalidResults,
		m.DependencyDecrems,
		m.EngineSubmissions,
		m.EngineSubmissionRetry,
		m.EngineSubmissionErrors,
		m.EnginePollBatches,
		m.EventsPublished,
		m.EventPublishErrors,
		m.WebsocketClients,
		m.WebsocketBroadcasts,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBQueryErrors,
		m.SystemCPUUsage,
		m.SystemMemoryUsage,
		m.SystemGoroutines,
	)

	return m
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// HTTPMetricsMiddleware returns middleware that collects HTTP metrics.
func (m *Metrics) HTTPMetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			m.HTTPActiveRequests.WithLabelValues(r.Method).Inc()
			defer m.HTTPActiveRequests.WithLabelValues(r.Method).Dec()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			status := strconv.Itoa(wrapped.statusCode)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}

// SampleDBStats copies pool statistics into the database gauges.
func (m *Metrics) SampleDBStats(open, inUse int) {
	m.DBConnectionsOpen.Set(float64(open))
	m.DBConnectionsInUse.Set(float64(inUse))
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the metrics wrapper.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}
