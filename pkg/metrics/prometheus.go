// Package metrics provides Prometheus metrics for the revscore service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the revscore service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Scoring requests
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	stageFailures  *prometheus.CounterVec

	// Upstream document API
	upstreamCalls   *prometheus.CounterVec
	upstreamRetries *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec

	// Worker pool
	poolSize        prometheus.Gauge
	poolInflight    prometheus.Gauge
	poolTasks       *prometheus.CounterVec
	poolTaskLatency prometheus.Histogram
	poolRecreations prometheus.Counter
	queueSize       prometheus.Gauge

	// Event emission
	eventsEmitted    *prometheus.CounterVec
	eventEmitLatency prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "revscore",
		subsystem:        "",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	auto := promauto.With(m.registry)

	m.requests = m.counterVec("requests_total",
		"Scoring requests by model and outcome (ok, invalid_input, inference, error)",
		"model", "outcome")
	m.requestLatency = m.histogramVec("request_latency_milliseconds",
		"End-to-end scoring pipeline latency in milliseconds", "model")
	m.stageFailures = m.counterVec("stage_failures_total",
		"Pipeline failures by stage and error kind", "stage", "kind")

	m.upstreamCalls = m.counterVec("upstream_calls_total",
		"Upstream document API calls by endpoint and outcome", "endpoint", "outcome")
	m.upstreamRetries = m.counterVec("upstream_retries_total",
		"Retries of transient upstream failures", "endpoint")
	m.upstreamLatency = m.histogramVec("upstream_latency_milliseconds",
		"Upstream document API call latency in milliseconds", "endpoint")

	m.poolSize = m.gauge("worker_pool_size", "Configured number of pool workers")
	m.poolInflight = m.gauge("worker_pool_inflight", "Tasks currently submitted to the pool")
	m.poolTasks = m.counterVec("worker_pool_tasks_total",
		"Pool tasks by outcome (ok, error, crashed, abandoned)", "outcome")
	m.poolTaskLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "worker_task_latency_milliseconds",
		Help:        "Time spent by a pool worker on one task",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	})
	m.poolRecreations = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "worker_pool_recreations_total",
		Help:        "Times a broken worker pool was replaced",
		ConstLabels: m.customLabels,
	})
	m.queueSize = m.gauge("worker_queue_size", "Tasks waiting for a free worker")

	m.eventsEmitted = m.counterVec("events_emitted_total",
		"Score events posted downstream by outcome", "outcome")
	m.eventEmitLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "event_emit_latency_milliseconds",
		Help:        "Latency of posting a score event",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	})

	m.httpRequests = m.counterVec("http_requests_total",
		"HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", "endpoint", "method", "status_code")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total",
		"HTTP errors by endpoint, method and error type", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "system_gc_pause_milliseconds",
		Help:        "Average GC pause time in milliseconds",
		Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		ConstLabels: m.customLabels,
	})
}

// Request metrics.

// RecordRequest counts one finished scoring request.
func RecordRequest(model, outcome string, latencyMs float64) {
	globalManager.requests.WithLabelValues(model, outcome).Inc()
	globalManager.requestLatency.WithLabelValues(model).Observe(latencyMs)
}

// RecordStageFailure counts a pipeline failure in the given stage.
func RecordStageFailure(stage, kind string) {
	globalManager.stageFailures.WithLabelValues(stage, kind).Inc()
}

// Upstream metrics.

// RecordUpstreamCall records one upstream attempt.
func RecordUpstreamCall(endpoint, outcome string, latencyMs float64) {
	globalManager.upstreamCalls.WithLabelValues(endpoint, outcome).Inc()
	globalManager.upstreamLatency.WithLabelValues(endpoint).Observe(latencyMs)
}

// RecordUpstreamRetry counts a retry scheduled after a transient failure.
func RecordUpstreamRetry(endpoint string) {
	globalManager.upstreamRetries.WithLabelValues(endpoint).Inc()
}

// Worker pool metrics.

// UpdateWorkerPoolSize sets the configured pool size.
func UpdateWorkerPoolSize(size int) {
	globalManager.poolSize.Set(float64(size))
}

// AddWorkerInflight adjusts the number of submitted, unfinished tasks.
func AddWorkerInflight(delta int) {
	globalManager.poolInflight.Add(float64(delta))
}

// RecordWorkerTask records the outcome and duration of one pool task.
func RecordWorkerTask(outcome string, latencyMs float64) {
	globalManager.poolTasks.WithLabelValues(outcome).Inc()
	globalManager.poolTaskLatency.Observe(latencyMs)
}

// RecordWorkerPoolRecreation counts a pool replacement.
func RecordWorkerPoolRecreation() {
	globalManager.poolRecreations.Inc()
}

// UpdateQueueSize sets the number of tasks waiting for a worker.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// Event metrics.

// RecordEventEmitted records one score event delivery attempt.
func RecordEventEmitted(outcome string, latencyMs float64) {
	globalManager.eventsEmitted.WithLabelValues(outcome).Inc()
	globalManager.eventEmitLatency.Observe(latencyMs)
}

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System metrics.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
