package conf

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/agm/internal/device"
	"github.com/tphakala/agm/internal/metadata"
)

// Collaborator implementations selectable in pool settings
const (
	BackendSim = "sim"
	EngineSim  = "sim"
)

type deviceCatalog struct {
	Devices []DeviceSettings `yaml:"devices"`
}

// LoadDeviceCatalog reads a standalone device catalog file
func LoadDeviceCatalog(path string) ([]DeviceSettings, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("error reading device catalog %s: %w", path, err)
	}
	var catalog deviceCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("error parsing device catalog %s: %w", path, err)
	}
	return catalog.Devices, nil
}

// Spec converts catalog settings to a registry spec
func (d DeviceSettings) Spec() (device.Spec, error) {
	class, err := device.ParseClass(d.Class)
	if err != nil {
		return device.Spec{}, err
	}
	spec := device.Spec{ID: d.ID, Name: d.Name, Class: class}
	if len(d.GKV) > 0 || len(d.CKV) > 0 {
		spec.Metadata = &metadata.Metadata{GKV: d.GKV, CKV: d.CKV}
	}
	return spec, nil
}

// DeviceSpecs converts the whole catalog
func (s *Settings) DeviceSpecs() ([]device.Spec, error) {
	specs := make([]device.Spec, 0, len(s.Devices))
	for _, d := range s.Devices {
		spec, err := d.Spec()
		if err != nil {
			return nil, fmt.Errorf("device %d: %w", d.ID, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
