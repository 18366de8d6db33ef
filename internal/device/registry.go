package device

import (
	"context"
	"slices"
	"sync"

	"github.com/tphakala/agm/internal/errors"
	"github.com/tphakala/agm/internal/metadata"
)

// ComponentDevice identifies errors from this package
const ComponentDevice = "device"

var (
	// ErrDeviceNotFound is returned for endpoint ids missing from the catalog
	ErrDeviceNotFound = errors.New(nil).
				Component(ComponentDevice).
				Category(errors.CategoryNotFound).
				Context("resource", "device").
				Build()

	// ErrDeviceExists is returned when a catalog entry is registered twice
	ErrDeviceExists = errors.New(nil).
			Component(ComponentDevice).
			Category(errors.CategoryConflict).
			Context("resource", "device").
			Build()
)

// Backend drives the hardware side of an endpoint
type Backend interface {
	Open(ctx context.Context, d *Device) error
	Prepare(ctx context.Context, d *Device) error
	Start(ctx context.Context, d *Device) error
	Stop(ctx context.Context, d *Device) error
	Close(ctx context.Context, d *Device) error
	State(d *Device) State
}

// Spec is a catalog entry describing one endpoint
type Spec struct {
	ID       uint32
	Name     string
	Class    Class
	Metadata *metadata.Metadata
}

// Registry resolves endpoint ids to their process-wide Device. Devices are
// materialized on first lookup and live until the registry is dropped.
type Registry struct {
	backend Backend

	mu       sync.RWMutex
	specs    map[uint32]Spec
	order    []uint32
	devices  map[uint32]*Device
	observer Observer
}

// NewRegistry creates a registry over a catalog of endpoints
func NewRegistry(backend Backend, specs ...Spec) (*Registry, error) {
	r := &Registry{
		backend: backend,
		specs:   make(map[uint32]Spec, len(specs)),
		devices: make(map[uint32]*Device, len(specs)),
	}
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// SetObserver installs a lifecycle observer for devices created afterwards
func (r *Registry) SetObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = o
}

// Register adds a catalog entry
func (r *Registry) Register(spec Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.specs[spec.ID]; ok {
		return errors.New(ErrDeviceExists).
			Component(ComponentDevice).
			Context("device_id", spec.ID).
			Build()
	}
	r.specs[spec.ID] = spec
	r.order = append(r.order, spec.ID)
	return nil
}

// Get returns the Device for id, creating it on first reference
func (r *Registry) Get(id uint32) (*Device, error) {
	r.mu.RLock()
	d, ok := r.devices[id]
	r.mu.RUnlock()
	if ok {
		return d, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		return d, nil
	}
	spec, ok := r.specs[id]
	if !ok {
		return nil, errors.New(ErrDeviceNotFound).
			Component(ComponentDevice).
			Context("device_id", id).
			Build()
	}
	d = newDevice(spec, r.backend, r.observer)
	r.devices[id] = d
	return d, nil
}

// List returns every catalog device in registration order
func (r *Registry) List() []*Device {
	r.mu.RLock()
	ids := slices.Clone(r.order)
	r.mu.RUnlock()

	out := make([]*Device, 0, len(ids))
	for _, id := range ids {
		if d, err := r.Get(id); err == nil {
			out = append(out, d)
		}
	}
	return out
}
