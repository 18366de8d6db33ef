package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionMetrics(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	m, err := NewSessionMetrics(registry)
	require.NoError(t, err)

	tests := []struct {
		name   string
		record func()
		metric prometheus.Collector
		want   float64
	}{
		{
			name:   "operation success",
			record: func() { m.RecordOperation("open", StatusSuccess) },
			metric: m.operationsTotal.WithLabelValues("open", StatusSuccess),
			want:   1,
		},
		{
			name:   "operation error",
			record: func() { m.RecordError("start", "state") },
			metric: m.operationErrors.WithLabelValues("start", "state"),
			want:   1,
		},
		{
			name: "transitions",
			record: func() {
				m.RecordTransition("session", "closed", "opened")
				m.RecordTransition("session", "closed", "opened")
			},
			metric: m.transitionsTotal.WithLabelValues("session", "closed", "opened"),
			want:   2,
		},
		{
			name:   "callbacks",
			record: func() { m.RecordCallback("data_path") },
			metric: m.callbacksTotal.WithLabelValues("data_path"),
			want:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.record()
			assert.InDelta(t, tt.want, testutil.ToFloat64(tt.metric), 0.0001)
		})
	}
}

func TestSessionMetricsDuration(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	m, err := NewSessionMetrics(registry)
	require.NoError(t, err)

	m.RecordDuration("open", 0.002)
	m.RecordDuration("open", 0.004)

	families, err := registry.Gather()
	require.NoError(t, err)
	var hist *dto.Histogram
	for _, mf := range families {
		if mf.GetName() == "agm_session_operation_duration_seconds" {
			hist = mf.GetMetric()[0].GetHistogram()
		}
	}
	require.NotNil(t, hist)
	assert.Equal(t, uint64(2), hist.GetSampleCount())
	assert.InDelta(t, 0.006, hist.GetSampleSum(), 0.0001)
}

func TestSessionMetricsDoubleRegistration(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	_, err := NewSessionMetrics(registry)
	require.NoError(t, err)
	_, err = NewSessionMetrics(registry)
	assert.Error(t, err)
}

func TestHTTPAndMQTTMetrics(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	h, err := NewHTTPMetrics(registry)
	require.NoError(t, err)
	q, err := NewMQTTMetrics(registry)
	require.NoError(t, err)

	h.RecordHTTPRequest("GET", "/api/v1/sessions", 200, 0.01)
	h.RecordHTTPRequestError("POST", "/api/v1/sessions/:id/start", "state")
	assert.InDelta(t, 1, testutil.ToFloat64(h.httpRequestsTotal.WithLabelValues("GET", "/api/v1/sessions", "200")), 0.0001)
	assert.InDelta(t, 1, testutil.ToFloat64(h.httpRequestErrors.WithLabelValues("POST", "/api/v1/sessions/:id/start", "state")), 0.0001)

	q.UpdateConnectionStatus(true)
	q.IncrementMessagesDelivered()
	q.StartPublishTimer().ObserveDuration()
	assert.InDelta(t, 1, testutil.ToFloat64(q.ConnectionStatus), 0.0001)
	assert.InDelta(t, 1, testutil.ToFloat64(q.MessagesDelivered), 0.0001)
	assert.Positive(t, testutil.ToFloat64(q.LastConnectTime))
	q.UpdateConnectionStatus(false)
	assert.InDelta(t, 0, testutil.ToFloat64(q.ConnectionStatus), 0.0001)
}
