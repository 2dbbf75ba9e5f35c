package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pgexec"

// Metrics holds all Prometheus metrics. Each instance owns its registry so
// several collectors can coexist in one process (tests, embedded use).
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Execution metrics
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ExecutionMemory   *prometheus.HistogramVec
	PoolRejections    *prometheus.CounterVec

	// Pool metrics
	PoolInUse     *prometheus.GaugeVec
	PoolAvailable *prometheus.GaugeVec

	// Capability metrics
	CapabilityCalls    *prometheus.CounterVec
	CapabilityDuration *prometheus.HistogramVec
	BreakerState       *prometheus.GaugeVec

	startTime time.Time

	// Snapshot for JSON API
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds running totals for the JSON API
type Snapshot struct {
	TotalExecutions  int64   `json:"totalExecutions"`
	FailedExecutions int64   `json:"failedExecutions"`
	Rejections       int64   `json:"rejections"`
	CapabilityCalls  int64   `json:"capabilityCalls"`
	TotalRequests    int64   `json:"totalRequests"`
	UptimeSeconds    float64 `json:"uptimeSeconds"`
}

// NewMetrics creates a metrics collector with its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		ExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of script executions",
			},
			[]string{"mode", "status"},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Script wall time in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"mode"},
		),
		ExecutionMemory: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_memory_megabytes",
				Help:      "Memory attributed to a script execution",
				Buckets:   []float64{1, 4, 16, 32, 64, 128, 256, 512},
			},
			[]string{"mode"},
		),
		PoolRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_rejections_total",
				Help:      "Executions rejected by the pool",
			},
			[]string{"mode", "reason"},
		),

		PoolInUse: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_in_use",
				Help:      "Execution units checked out",
			},
			[]string{"mode"},
		),
		PoolAvailable: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_available",
				Help:      "Execution units available",
			},
			[]string{"mode"},
		),

		CapabilityCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capability_calls_total",
				Help:      "Host capability calls made by scripts",
			},
			[]string{"group", "method", "status"},
		),
		CapabilityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "capability_duration_seconds",
				Help:      "Host capability call duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"group", "method"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state per capability group (0 closed, 1 half-open, 2 open)",
			},
			[]string{"group"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry metrics are registered with
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.mu.Unlock()
}

// RecordExecution records a finished script execution
func (m *Metrics) RecordExecution(mode string, success bool, wall time.Duration, memoryMB float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.ExecutionsTotal.WithLabelValues(mode, status).Inc()
	m.ExecutionDuration.WithLabelValues(mode).Observe(wall.Seconds())
	m.ExecutionMemory.WithLabelValues(mode).Observe(memoryMB)

	m.mu.Lock()
	m.snapshot.TotalExecutions++
	if !success {
		m.snapshot.FailedExecutions++
	}
	m.mu.Unlock()
}

// RecordRejection records an execution the pool refused
func (m *Metrics) RecordRejection(mode, reason string) {
	m.PoolRejections.WithLabelValues(mode, reason).Inc()

	m.mu.Lock()
	m.snapshot.Rejections++
	m.mu.Unlock()
}

// SetPool publishes pool utilization
func (m *Metrics) SetPool(mode string, inUse, available int) {
	m.PoolInUse.WithLabelValues(mode).Set(float64(inUse))
	m.PoolAvailable.WithLabelValues(mode).Set(float64(available))
}

// RecordCapabilityCall records a host capability call
func (m *Metrics) RecordCapabilityCall(group, method, status string, duration time.Duration) {
	m.CapabilityCalls.WithLabelValues(group, method, status).Inc()
	m.CapabilityDuration.WithLabelValues(group, method).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.CapabilityCalls++
	m.mu.Unlock()
}

// SetBreakerState publishes a breaker state as a number
func (m *Metrics) SetBreakerState(group string, state int) {
	m.BreakerState.WithLabelValues(group).Set(float64(state))
}

// Snapshot returns the running totals
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
