package events

import (
	"time"
)

// Entity kinds carried in StateEvent
const (
	EntitySession = "session"
	EntityAIF     = "aif"
	EntityDevice  = "device"
)

// StateEvent records a lifecycle transition of a session, an audio
// interface or a device.
type StateEvent struct {
	Component string    `json:"component"`
	Entity    string    `json:"entity"`
	SessionID uint32    `json:"session_id"`
	EntityID  uint32    `json:"entity_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStateEvent creates a StateEvent stamped with the current time
func NewStateEvent(component, entity string, sessionID, entityID uint32, operation, from, to string) *StateEvent {
	return &StateEvent{
		Component: component,
		Entity:    entity,
		SessionID: sessionID,
		EntityID:  entityID,
		From:      from,
		To:        to,
		Operation: operation,
		Timestamp: time.Now(),
	}
}

func (e *StateEvent) GetComponent() string    { return e.Component }
func (e *StateEvent) GetTimestamp() time.Time { return e.Timestamp }
