// conf/validate.go

package conf

import (
	"fmt"
	"math"
	"net"
	"strings"

	"github.com/tphakala/agm/internal/device"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		validatePoolSettings,
		validateDeviceSettings,
		validateAPISettings,
		validateMetricsSettings,
		validateMQTTSettings,
		validateSentrySettings,
		validateEventBusSettings,
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validatePoolSettings(s *Settings) error {
	var errs []string
	if s.Pool.Backend != BackendSim {
		errs = append(errs, fmt.Sprintf("unknown device backend %q", s.Pool.Backend))
	}
	if s.Pool.Engine != EngineSim {
		errs = append(errs, fmt.Sprintf("unknown graph engine %q", s.Pool.Engine))
	}
	if s.Pool.SimBufferSize <= 0 {
		errs = append(errs, "pool simbuffersize must be positive")
	}
	if s.Pool.EventQueueSize < 0 {
		errs = append(errs, "pool eventqueuesize must not be negative")
	}
	return joinErrors("pool", errs)
}

func validateDeviceSettings(s *Settings) error {
	var errs []string
	seen := make(map[uint32]bool, len(s.Devices))
	for _, d := range s.Devices {
		if d.ID == math.MaxUint32 {
			errs = append(errs, fmt.Sprintf("device id %d is reserved", d.ID))
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Sprintf("duplicate device id %d", d.ID))
		}
		seen[d.ID] = true
		if _, err := device.ParseClass(d.Class); err != nil {
			errs = append(errs, fmt.Sprintf("device %d: unknown class %q", d.ID, d.Class))
		}
	}
	return joinErrors("devices", errs)
}

func validateAPISettings(s *Settings) error {
	if !s.API.Enabled {
		return nil
	}
	var errs []string
	if _, _, err := net.SplitHostPort(s.API.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("invalid listen address %q", s.API.Listen))
	}
	if s.API.EventTTL <= 0 {
		errs = append(errs, "eventttl must be positive")
	}
	if s.API.EventBacklog <= 0 {
		errs = append(errs, "eventbacklog must be positive")
	}
	return joinErrors("api", errs)
}

func validateMetricsSettings(s *Settings) error {
	if !s.Metrics.Enabled || s.Metrics.Listen == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Metrics.Listen); err != nil {
		return fmt.Errorf("metrics: invalid listen address %q", s.Metrics.Listen)
	}
	return nil
}

func validateMQTTSettings(s *Settings) error {
	if !s.MQTT.Enabled {
		return nil
	}
	var errs []string
	if s.MQTT.Broker == "" {
		errs = append(errs, "broker is required")
	}
	if s.MQTT.Topic == "" {
		errs = append(errs, "topic is required")
	}
	if s.MQTT.QoS > 2 {
		errs = append(errs, fmt.Sprintf("qos %d out of range 0-2", s.MQTT.QoS))
	}
	return joinErrors("mqtt", errs)
}

func validateSentrySettings(s *Settings) error {
	if !s.Sentry.Enabled {
		return nil
	}
	var errs []string
	if s.Sentry.DSN == "" {
		errs = append(errs, "dsn is required")
	}
	if s.Sentry.SampleRate < 0 || s.Sentry.SampleRate > 1 {
		errs = append(errs, "samplerate must be between 0 and 1")
	}
	return joinErrors("sentry", errs)
}

func validateEventBusSettings(s *Settings) error {
	if !s.EventBus.Enabled {
		return nil
	}
	var errs []string
	if s.EventBus.BufferSize <= 0 {
		errs = append(errs, "buffersize must be positive")
	}
	if s.EventBus.Workers <= 0 {
		errs = append(errs, "workers must be positive")
	}
	return joinErrors("eventbus", errs)
}

func joinErrors(section string, errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %s", section, strings.Join(errs, ", "))
}
