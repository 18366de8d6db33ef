package session

import (
	"fmt"

	"github.com/tphakala/agm/internal/device"
	"github.com/tphakala/agm/internal/errors"
)

// ComponentSession identifies errors from this package
const ComponentSession = "session"

var (
	// ErrSessionNotFound is returned by Pool.Get for unknown session ids
	ErrSessionNotFound = errors.New(errors.NewStd("session not found")).
				Component(ComponentSession).
				Category(errors.CategoryNotFound).
				Build()

	// ErrAIFNotFound is returned for interface ids the session never referenced
	ErrAIFNotFound = errors.New(errors.NewStd("audio interface not found")).
			Component(ComponentSession).
			Category(errors.CategoryNotFound).
			Build()

	// ErrDeviceNotFound is returned for endpoint ids missing from the catalog
	ErrDeviceNotFound = device.ErrDeviceNotFound

	// ErrInvalidState is returned when the lifecycle state forbids an operation
	ErrInvalidState = errors.New(errors.NewStd("invalid session state")).
			Component(ComponentSession).
			Category(errors.CategoryState).
			Build()

	// ErrAlreadyApplied is the invalid-state subcase of re-requesting a state
	// that is already in effect. It also matches ErrInvalidState.
	ErrAlreadyApplied = errors.New(fmt.Errorf("already applied: %w", ErrInvalidState)).
				Component(ComponentSession).
				Category(errors.CategoryConflict).
				Build()

	// ErrInvalidArgument is returned for malformed caller input
	ErrInvalidArgument = errors.New(errors.NewStd("invalid argument")).
				Component(ComponentSession).
				Category(errors.CategoryValidation).
				Build()

	// ErrPoolClosed is returned by a pool after Close
	ErrPoolClosed = errors.New(errors.NewStd("session pool closed")).
			Component(ComponentSession).
			Category(errors.CategoryState).
			Build()
)

func (s *Session) invalidState(operation string) error {
	return errors.New(fmt.Errorf("session %d: %s in state %s: %w", s.id, operation, s.state, ErrInvalidState)).
		Component(ComponentSession).
		Category(errors.CategoryState).
		Context("operation", operation).
		Context("session_id", s.id).
		Context("state", s.state.String()).
		Build()
}

func (s *Session) alreadyApplied(operation string) error {
	return errors.New(fmt.Errorf("session %d: %s: %w", s.id, operation, ErrAlreadyApplied)).
		Component(ComponentSession).
		Category(errors.CategoryConflict).
		Context("operation", operation).
		Context("session_id", s.id).
		Build()
}

// graphError wraps an engine failure
func (s *Session) graphError(err error, operation string) error {
	return errors.New(err).
		Component(ComponentSession).
		Category(errors.CategoryGraph).
		Context("operation", "graph_"+operation).
		Context("session_id", s.id).
		Build()
}

// deviceError adds session context to a failure from the device layer,
// keeping its category
func (s *Session) deviceError(err error, aif *AudioInterface, operation string) error {
	return errors.New(err).
		Component(ComponentSession).
		Context("operation", "device_"+operation).
		Context("session_id", s.id).
		Context("aif_id", aif.id).
		Build()
}

func invalidArgument(operation, format string, args ...any) error {
	return errors.New(fmt.Errorf(format+": %w", append(args, ErrInvalidArgument)...)).
		Component(ComponentSession).
		Category(errors.CategoryValidation).
		Context("operation", operation).
		Build()
}
