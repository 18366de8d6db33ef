package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTT operation label values
const (
	MQTTOpConnect        = "connect"
	MQTTOpPublish        = "publish"
	MQTTOpConnectionLost = "connection_lost"
)

// MQTTMetrics tracks the lifecycle publisher's broker connection
type MQTTMetrics struct {
	Connected         prometheus.Gauge
	LastConnectTime   prometheus.Gauge
	MessagesDelivered prometheus.Counter
	MessagesDropped   prometheus.Counter
	ReconnectAttempts prometheus.Counter
	Errors            *prometheus.CounterVec
	MessageSize       prometheus.Histogram
	PublishLatency    prometheus.Histogram
}

// NewMQTTMetrics creates and registers the publisher metrics
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agm_mqtt_connected",
			Help: "1 while the publisher holds a broker connection",
		}),
		LastConnectTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agm_mqtt_last_connect_time_seconds",
			Help: "Unix time of the last successful broker connection",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agm_mqtt_messages_delivered_total",
			Help: "Lifecycle messages acknowledged by the broker",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agm_mqtt_messages_dropped_total",
			Help: "Lifecycle messages discarded while disconnected",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agm_mqtt_reconnect_attempts_total",
			Help: "Automatic reconnection attempts",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agm_mqtt_errors_total",
			Help: "Broker errors by operation",
		}, []string{"operation"}),
		MessageSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agm_mqtt_message_size_bytes",
			Help:    "Size of published payloads",
			Buckets: prometheus.ExponentialBuckets(BucketStart64B, BucketFactor2, BucketCount10),
		}),
		PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agm_mqtt_publish_latency_seconds",
			Help:    "Time from publish to broker acknowledgement",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

func (m *MQTTMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Connected,
		m.LastConnectTime,
		m.MessagesDelivered,
		m.MessagesDropped,
		m.ReconnectAttempts,
		m.Errors,
		m.MessageSize,
		m.PublishLatency,
	}
}

// Describe implements prometheus.Collector
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// SetConnected flips the connection gauge, stamping the connect time on
// the way up
func (m *MQTTMetrics) SetConnected(connected bool) {
	if !connected {
		m.Connected.Set(0)
		return
	}
	m.Connected.Set(1)
	m.LastConnectTime.SetToCurrentTime()
}

// RecordError counts a failure of operation
func (m *MQTTMetrics) RecordError(operation string) {
	m.Errors.WithLabelValues(operation).Inc()
}

// RecordPublish records one acknowledged message
func (m *MQTTMetrics) RecordPublish(sizeBytes int, seconds float64) {
	m.MessagesDelivered.Inc()
	m.MessageSize.Observe(float64(sizeBytes))
	m.PublishLatency.Observe(seconds)
}

// RecordDropped counts a message that was never sent
func (m *MQTTMetrics) RecordDropped() {
	m.MessagesDropped.Inc()
}

// RecordReconnect counts an automatic reconnection attempt
func (m *MQTTMetrics) RecordReconnect() {
	m.ReconnectAttempts.Inc()
}
