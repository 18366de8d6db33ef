package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SessionMetrics contains Prometheus metrics for session, interface and device lifecycle
type SessionMetrics struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec

	transitionsTotal *prometheus.CounterVec
	callbacksTotal   *prometheus.CounterVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewSessionMetrics creates and registers new session metrics
func NewSessionMetrics(registry *prometheus.Registry) (*SessionMetrics, error) {
	m := &SessionMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *SessionMetrics) initMetrics() {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agm_session_operations_total",
			Help: "Total number of session operations by outcome",
		},
		[]string{"operation", "status"},
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agm_session_operation_duration_seconds",
			Help:    "Time taken by session operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12),
		},
		[]string{"operation"},
	)

	m.operationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agm_session_errors_total",
			Help: "Total number of failed session operations by error category",
		},
		[]string{"operation", "error_type"},
	)

	m.transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agm_state_transitions_total",
			Help: "Total number of state transitions of sessions, interfaces and devices",
		},
		[]string{"entity", "from", "to"},
	)

	m.callbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agm_callbacks_delivered_total",
			Help: "Total number of events delivered to client callbacks",
		},
		[]string{"kind"},
	)

	m.collectors = []prometheus.Collector{
		m.operationsTotal,
		m.operationDuration,
		m.operationErrors,
		m.transitionsTotal,
		m.callbacksTotal,
	}
}

// Describe implements the Collector interface
func (m *SessionMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *SessionMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordOperation records a session operation outcome
func (m *SessionMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration records how long an operation took
func (m *SessionMetrics) RecordDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError records a failed operation by error category
func (m *SessionMetrics) RecordError(operation, errorType string) {
	m.operationErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordTransition records a lifecycle state change
func (m *SessionMetrics) RecordTransition(entity, from, to string) {
	m.transitionsTotal.WithLabelValues(entity, from, to).Inc()
}

// RecordCallback records one callback delivery
func (m *SessionMetrics) RecordCallback(kind string) {
	m.callbacksTotal.WithLabelValues(kind).Inc()
}
