// Package device models the shared hardware endpoints that sessions attach
// to. A Device exists once per endpoint id for the life of the process, no
// matter how many sessions reference it.
package device

import (
	"context"
	"sync"

	"github.com/tphakala/agm/internal/errors"
	"github.com/tphakala/agm/internal/metadata"
)

// State is the lifecycle state of a device
type State int

const (
	StateClosed State = iota
	StateOpened
	StatePrepared
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpened:
		return "opened"
	case StatePrepared:
		return "prepared"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Class describes start-ordering requirements of an endpoint
type Class int

const (
	// ClassGeneric endpoints start after the graph
	ClassGeneric Class = iota
	// ClassSlave endpoints (SLIMBUS and similar) need slave-side setup and
	// must be prepared and started before the graph starts
	ClassSlave
)

func (c Class) String() string {
	if c == ClassSlave {
		return "slave"
	}
	return "generic"
}

// ParseClass maps catalog strings to a Class
func ParseClass(s string) (Class, error) {
	switch s {
	case "", "generic":
		return ClassGeneric, nil
	case "slave", "slimbus":
		return ClassSlave, nil
	default:
		return ClassGeneric, errors.Newf("unknown device class %q", s).
			Component(ComponentDevice).
			Category(errors.CategoryValidation).
			Build()
	}
}

// Observer is notified after every lifecycle change of a device
type Observer func(d *Device, operation string, from, to State)

// Device is one hardware endpoint.
//
// Lifecycle methods (Open/Prepare/Start/Stop/Close) call into the Backend
// and must be serialized by the caller; the session layer does that with
// its hardware-endpoint lock. The device mutex only guards the fields
// below and is never held across a Backend call.
type Device struct {
	id      uint32
	name    string
	class   Class
	backend Backend

	mu       sync.Mutex
	state    State
	users    int // sessions that opened this device
	starters int // sessions that started this device
	md       *metadata.Metadata
	params   []byte
	observer Observer
}

func newDevice(spec Spec, backend Backend, observer Observer) *Device {
	return &Device{
		id:       spec.ID,
		name:     spec.Name,
		class:    spec.Class,
		backend:  backend,
		md:       spec.Metadata.Clone(),
		observer: observer,
	}
}

// ID returns the endpoint identifier
func (d *Device) ID() uint32 { return d.id }

// Name returns the catalog name
func (d *Device) Name() string { return d.name }

// Class returns the hardware class
func (d *Device) Class() Class { return d.class }

// State returns the tracked lifecycle state
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Users returns how many sessions currently hold the device open
func (d *Device) Users() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.users
}

// Starters returns how many sessions currently run the device
func (d *Device) Starters() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starters
}

// HardwareState asks the backend for the endpoint's own view of its state
func (d *Device) HardwareState() State {
	return d.backend.State(d)
}

// Metadata returns a copy of the device-level metadata
func (d *Device) Metadata() *metadata.Metadata {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.md.Clone()
}

// SetMetadata replaces the device-level metadata
func (d *Device) SetMetadata(md *metadata.Metadata) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.md = md.Clone()
}

// SetMetadataBlob replaces the device-level metadata from an encoded blob
func (d *Device) SetMetadataBlob(blob []byte) error {
	md, err := metadata.Decode(blob)
	if err != nil {
		return err
	}
	d.SetMetadata(md)
	return nil
}

// UpdateCal applies a calibration change to the device-level metadata
func (d *Device) UpdateCal(ckv []metadata.KV) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.md.UpdateCal(ckv)
}

// SetParams caches a parameter blob. It is pushed to a graph by the next
// connect of any session that attaches this device.
func (d *Device) SetParams(blob []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.params = append([]byte(nil), blob...)
}

// HasPendingParams reports whether a cached parameter blob is waiting
func (d *Device) HasPendingParams() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params != nil
}

// ApplyCachedConfig pushes the cached parameter blob through push if the
// device is not closed. The cache is dropped whatever push returns.
func (d *Device) ApplyCachedConfig(ctx context.Context, push func(ctx context.Context, blob []byte) error) error {
	d.mu.Lock()
	if d.state == StateClosed || d.params == nil {
		d.mu.Unlock()
		return nil
	}
	blob := d.params
	d.params = nil
	d.mu.Unlock()

	return push(ctx, blob)
}

// Open opens the endpoint for one more user; the hardware is only opened
// for the first.
func (d *Device) Open(ctx context.Context) error {
	d.mu.Lock()
	first := d.users == 0
	d.mu.Unlock()

	if first {
		if err := d.backend.Open(ctx, d); err != nil {
			return backendError(err, d, "open")
		}
		d.transition("open", StateOpened)
	}

	d.mu.Lock()
	d.users++
	d.mu.Unlock()
	return nil
}

// Prepare prepares an opened or stopped endpoint; other states are left alone
func (d *Device) Prepare(ctx context.Context) error {
	switch d.State() {
	case StateOpened, StateStopped:
	default:
		return nil
	}
	if err := d.backend.Prepare(ctx, d); err != nil {
		return backendError(err, d, "prepare")
	}
	d.transition("prepare", StatePrepared)
	return nil
}

// Start starts the endpoint for one more user; the hardware only starts once
func (d *Device) Start(ctx context.Context) error {
	if d.State() != StateStarted {
		if err := d.backend.Start(ctx, d); err != nil {
			return backendError(err, d, "start")
		}
		d.transition("start", StateStarted)
	}
	d.mu.Lock()
	d.starters++
	d.mu.Unlock()
	return nil
}

// Stop releases one start; the hardware stops when the last starter leaves
func (d *Device) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.state != StateStarted {
		d.mu.Unlock()
		return nil
	}
	if d.starters > 1 {
		d.starters--
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if err := d.backend.Stop(ctx, d); err != nil {
		return backendError(err, d, "stop")
	}
	d.mu.Lock()
	d.starters = 0
	d.mu.Unlock()
	d.transition("stop", StateStopped)
	return nil
}

// Close releases one user; the hardware closes when the last user leaves
func (d *Device) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.users == 0 {
		d.mu.Unlock()
		return nil
	}
	d.users--
	last := d.users == 0
	d.mu.Unlock()

	if !last {
		return nil
	}
	err := d.backend.Close(ctx, d)
	d.mu.Lock()
	d.starters = 0
	d.mu.Unlock()
	d.transition("close", StateClosed)
	if err != nil {
		return backendError(err, d, "close")
	}
	return nil
}

func (d *Device) transition(operation string, to State) {
	d.mu.Lock()
	from := d.state
	d.state = to
	observer := d.observer
	d.mu.Unlock()

	if observer != nil && from != to {
		observer(d, operation, from, to)
	}
}

func backendError(err error, d *Device, operation string) error {
	return errors.New(err).
		Component(ComponentDevice).
		Category(errors.CategoryDevice).
		Context("operation", "device_"+operation).
		Context("device_id", d.id).
		Build()
}
