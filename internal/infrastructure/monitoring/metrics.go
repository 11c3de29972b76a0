package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/NexusCore/backend/internal/domain/supervisor"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Supervisor metrics
	Transitions        *prometheus.CounterVec
	Rollbacks          *prometheus.CounterVec
	Confirmations      prometheus.Counter
	Integrity          prometheus.Gauge
	GenerationDuration *prometheus.HistogramVec

	// Conduit metrics
	ConduitSent       *prometheus.CounterVec
	ConduitReconciled prometheus.Counter

	// Service metrics
	ServiceCalls    *prometheus.CounterVec
	ServiceDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	ActiveConnections int64   `json:"active_connections"`
	Rollbacks         int64   `json:"rollbacks"`
	Confirmations     int64   `json:"confirmations"`
	Generations       int64   `json:"generations"`
	FailedGenerations int64   `json:"failed_generations"`
	AvgDurationMs     float64 `json:"avg_duration_ms"`
	UptimeSeconds     float64 `json:"uptime_seconds"`

	totalDuration float64
}

// NewMetrics creates a metrics collector on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Supervisor metrics
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_supervisor_transitions_total",
				Help: "Supervisor state transitions",
			},
			[]string{"from", "to"},
		),
		Rollbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_supervisor_rollbacks_total",
				Help: "Rollbacks of staged versions",
			},
			[]string{"reason"},
		),
		Confirmations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "backend_supervisor_confirmations_total",
				Help: "Staged versions confirmed healthy",
			},
		),
		Integrity: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "backend_supervisor_integrity",
				Help: "Current system integrity (10-100)",
			},
		),
		GenerationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_generation_duration_seconds",
				Help:    "Generator call duration in seconds",
				Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"kind", "status"},
		),

		// Conduit metrics
		ConduitSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_conduit_messages_total",
				Help: "Messages appended to the conduit log",
			},
			[]string{"type"},
		),
		ConduitReconciled: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "backend_conduit_reconciled_total",
				Help: "Messages delivered to tabs by reconciliation",
			},
		),

		// Service metrics
		ServiceCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_service_calls_total",
				Help: "Total number of service calls",
			},
			[]string{"service", "method", "status"},
		),
		ServiceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_service_duration_seconds",
				Help:    "Service call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service", "method"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "backend_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "backend_uptime_seconds",
			Help: "Backend uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)
	m.Integrity.Set(100)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Snapshot returns the JSON view of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	if s.TotalRequests > 0 {
		s.AvgDurationMs = s.totalDuration / float64(s.TotalRequests) * 1000
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordTransition records a supervisor state change.
func (m *Metrics) RecordTransition(from, to string) {
	m.Transitions.WithLabelValues(from, to).Inc()
}

// RecordRollback records a rollback. Free-form reasons from the document
// are folded into one label value.
func (m *Metrics) RecordRollback(reason string) {
	m.Rollbacks.WithLabelValues(rollbackLabel(reason)).Inc()
	m.mu.Lock()
	m.snapshot.Rollbacks++
	m.mu.Unlock()
}

// RecordConfirmation records a confirmed version.
func (m *Metrics) RecordConfirmation() {
	m.Confirmations.Inc()
	m.mu.Lock()
	m.snapshot.Confirmations++
	m.mu.Unlock()
}

// RecordGeneration records one generator call.
func (m *Metrics) RecordGeneration(kind string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.GenerationDuration.WithLabelValues(kind, status).Observe(d.Seconds())
	m.mu.Lock()
	m.snapshot.Generations++
	if err != nil {
		m.snapshot.FailedGenerations++
	}
	m.mu.Unlock()
}

// SetIntegrity updates the integrity gauge.
func (m *Metrics) SetIntegrity(v int) {
	m.Integrity.Set(float64(v))
}

// RecordConduitSend records a message appended by a local tab.
func (m *Metrics) RecordConduitSend(msgType string) {
	m.ConduitSent.WithLabelValues(msgType).Inc()
}

// RecordConduitReconcile records messages delivered by one reconciliation.
func (m *Metrics) RecordConduitReconcile(n int) {
	m.ConduitReconciled.Add(float64(n))
}

// RecordServiceCall records a service call
func (m *Metrics) RecordServiceCall(service, method, status string, duration time.Duration) {
	m.ServiceCalls.WithLabelValues(service, method, status).Inc()
	m.ServiceDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

func rollbackLabel(reason string) string {
	switch reason {
	case supervisor.TimeoutReason:
		return "timeout"
	case supervisor.CrashReason:
		return "crash"
	default:
		return "error"
	}
}
