package events

import (
	"time"
)

// Event is anything the bus can carry
type Event interface {
	// GetComponent returns the component that produced the event
	GetComponent() string

	// GetTimestamp returns when the event happened
	GetTimestamp() time.Time
}

// ErrorEvent is implemented by *errors.EnhancedError
type ErrorEvent interface {
	Event

	GetCategory() string

	GetContext() map[string]any

	GetError() error

	GetMessage() string

	IsReported() bool

	MarkReported()
}

// EventConsumer processes events delivered by the bus
type EventConsumer interface {
	// Name returns the unique consumer name
	Name() string

	// ProcessEvent handles one event. Errors are counted and logged, never retried.
	ProcessEvent(event Event) error
}

// EventBusStats contains runtime counters
type EventBusStats struct {
	EventsReceived  uint64
	EventsProcessed uint64
	EventsDropped   uint64
	ConsumerErrors  uint64
}
