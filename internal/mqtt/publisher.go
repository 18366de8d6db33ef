package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tphakala/agm/internal/device"
	"github.com/tphakala/agm/internal/errors"
	"github.com/tphakala/agm/internal/events"
	"github.com/tphakala/agm/internal/logger"
)

// Publisher forwards lifecycle events from the event bus to the broker.
// It implements events.EventConsumer.
type Publisher struct {
	client  Client
	topic   string
	timeout time.Duration
}

var _ events.EventConsumer = (*Publisher)(nil)

// NewPublisher publishes through client below baseTopic
func NewPublisher(client Client, baseTopic string, timeout time.Duration) *Publisher {
	baseTopic = strings.TrimSuffix(baseTopic, "/")
	if baseTopic == "" {
		baseTopic = DefaultTopic
	}
	if timeout <= 0 {
		timeout = DefaultConfig().PublishTimeout
	}
	return &Publisher{client: client, topic: baseTopic, timeout: timeout}
}

// Name implements events.EventConsumer
func (p *Publisher) Name() string { return "mqtt" }

// StateTopic returns the topic a transition is published on:
//
//	<base>/sessions/<sid>/state
//	<base>/sessions/<sid>/aif/<aif>/state
//	<base>/devices/<id>/state
func (p *Publisher) StateTopic(ev *events.StateEvent) string {
	switch ev.Entity {
	case events.EntityDevice:
		return fmt.Sprintf("%s/devices/%d/state", p.topic, ev.EntityID)
	case events.EntityAIF:
		return fmt.Sprintf("%s/sessions/%d/aif/%d/state", p.topic, ev.SessionID, ev.EntityID)
	default:
		return fmt.Sprintf("%s/sessions/%d/state", p.topic, ev.SessionID)
	}
}

// ProcessEvent publishes state events and ignores everything else
func (p *Publisher) ProcessEvent(event events.Event) error {
	se, ok := event.(*events.StateEvent)
	if !ok {
		return nil
	}
	if !p.client.IsConnected() {
		// the bus counts the failure; transitions are not replayed
		return ErrNotConnected
	}

	payload, err := json.Marshal(NewStatePayload(se))
	if err != nil {
		return errors.New(err).Component(ComponentMQTT).Category(errors.CategoryMQTTPublish).Build()
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.client.Publish(ctx, p.StateTopic(se), payload)
}

// Announce publishes a description of every device to
// <base>/devices/<id>/config. Failures are joined.
func (p *Publisher) Announce(ctx context.Context, devices []*device.Device) error {
	var errs []error
	for _, d := range devices {
		payload, err := json.Marshal(NewDevicePayload(d))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		topic := fmt.Sprintf("%s/devices/%d/config", p.topic, d.ID())
		if err := p.client.Publish(ctx, topic, payload); err != nil {
			GetLogger().Warn("device announcement failed", logger.DeviceID(d.ID()), logger.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
