package events

import (
	"github.com/tphakala/agm/internal/errors"
)

// EventPublisherAdapter adapts the EventBus to errors.EventPublisher so the
// errors package can publish without importing this package.
type EventPublisherAdapter struct {
	eventBus *EventBus
}

// NewEventPublisherAdapter creates a new adapter
func NewEventPublisherAdapter(eventBus *EventBus) *EventPublisherAdapter {
	return &EventPublisherAdapter{eventBus: eventBus}
}

// TryPublish accepts any value and forwards it if it is an Event
func (a *EventPublisherAdapter) TryPublish(event any) bool {
	if a == nil || a.eventBus == nil {
		return false
	}
	e, ok := event.(Event)
	if !ok {
		return false
	}
	return a.eventBus.TryPublish(e)
}

// InitializeErrorsIntegration routes built errors through eb
func InitializeErrorsIntegration(eb *EventBus) {
	if eb == nil {
		return
	}
	errors.SetEventPublisher(NewEventPublisherAdapter(eb))
}

// TelemetryConsumer forwards error events to a telemetry reporter
type TelemetryConsumer struct {
	reporter errors.TelemetryReporter
}

// NewTelemetryConsumer creates a consumer reporting through reporter
func NewTelemetryConsumer(reporter errors.TelemetryReporter) *TelemetryConsumer {
	return &TelemetryConsumer{reporter: reporter}
}

func (c *TelemetryConsumer) Name() string { return "telemetry" }

// ProcessEvent reports enhanced errors and ignores everything else
func (c *TelemetryConsumer) ProcessEvent(event Event) error {
	ee, ok := event.(*errors.EnhancedError)
	if !ok || c.reporter == nil || !c.reporter.IsEnabled() {
		return nil
	}
	c.reporter.ReportError(ee)
	return nil
}
