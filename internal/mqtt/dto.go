package mqtt

import (
	"time"

	"github.com/tphakala/agm/internal/device"
	"github.com/tphakala/agm/internal/events"
	"github.com/tphakala/agm/internal/metadata"
)

// StatePayload is published on every lifecycle transition.
//
// Field names are part of the topic contract consumed by dashboards.
type StatePayload struct {
	Entity    string `json:"entity"`
	SessionID uint32 `json:"sessionId"`
	EntityID  uint32 `json:"entityId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Operation string `json:"operation"`
	Component string `json:"component"`
	Timestamp string `json:"timestamp"` // RFC3339 with nanoseconds
}

// DevicePayload is the retained description of a catalog device
type DevicePayload struct {
	ID    uint32        `json:"id"`
	Name  string        `json:"name"`
	Class string        `json:"class"`
	GKV   []metadata.KV `json:"gkv,omitempty"`
}

// NewStatePayload converts a lifecycle event to its wire form
func NewStatePayload(ev *events.StateEvent) StatePayload {
	return StatePayload{
		Entity:    ev.Entity,
		SessionID: ev.SessionID,
		EntityID:  ev.EntityID,
		From:      ev.From,
		To:        ev.To,
		Operation: ev.Operation,
		Component: ev.Component,
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// NewDevicePayload describes d
func NewDevicePayload(d *device.Device) DevicePayload {
	p := DevicePayload{ID: d.ID(), Name: d.Name(), Class: d.Class().String()}
	if md := d.Metadata(); md != nil {
		p.GKV = md.GKV
	}
	return p
}
