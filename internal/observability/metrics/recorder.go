// Package metrics provides custom Prometheus metrics for the agm service.
package metrics

// Recorder defines a minimal interface for recording metrics.
// Components depend on this abstraction rather than on concrete collectors.
type Recorder interface {
	// RecordOperation records an operation with its status ("success", "error").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its category.
	RecordError(operation, errorType string)
}

// LifecycleRecorder extends Recorder with state machine and callback metrics.
type LifecycleRecorder interface {
	Recorder

	// RecordTransition records a state change of a session, interface or device.
	RecordTransition(entity, from, to string)

	// RecordCallback records one event delivered to a client callback.
	RecordCallback(kind string)
}

var _ LifecycleRecorder = (*SessionMetrics)(nil)
