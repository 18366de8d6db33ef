// internal/api/v1/devices.go
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/agm/internal/device"
	"github.com/tphakala/agm/internal/metadata"
)

// DeviceInfo is the JSON view of a catalog device
type DeviceInfo struct {
	ID            uint32             `json:"id"`
	Name          string             `json:"name"`
	Class         string             `json:"class"`
	State         string             `json:"state"`
	Users         int                `json:"users"`
	PendingParams bool               `json:"pending_params"`
	Metadata      *metadata.Metadata `json:"metadata"`
}

func deviceInfo(d *device.Device) DeviceInfo {
	return DeviceInfo{
		ID:            d.ID(),
		Name:          d.Name(),
		Class:         d.Class().String(),
		State:         d.State().String(),
		Users:         d.Users(),
		PendingParams: d.HasPendingParams(),
		Metadata:      d.Metadata(),
	}
}

func (c *Controller) initDeviceRoutes() {
	g := c.Group.Group("/devices")
	g.GET("", c.ListDevices)
	g.GET("/:id", c.GetDevice)
	g.PUT("/:id/metadata", c.SetDeviceMetadata)
	g.PUT("/:id/params", c.SetDeviceParams)
}

func (c *Controller) lookupDevice(ctx echo.Context) (*device.Device, error) {
	id, err := uintParam(ctx, "id")
	if err != nil {
		return nil, err
	}
	return c.Pool.Registry().Get(id)
}

// ListDevices handles GET /api/v1/devices
func (c *Controller) ListDevices(ctx echo.Context) error {
	devices := c.Pool.Registry().List()
	out := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceInfo(d))
	}
	return ctx.JSON(http.StatusOK, out)
}

// GetDevice handles GET /api/v1/devices/:id
func (c *Controller) GetDevice(ctx echo.Context) error {
	d, err := c.lookupDevice(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "device lookup failed")
	}
	return ctx.JSON(http.StatusOK, deviceInfo(d))
}

// SetDeviceMetadata handles PUT /api/v1/devices/:id/metadata
func (c *Controller) SetDeviceMetadata(ctx echo.Context) error {
	var md metadata.Metadata
	if err := bind(ctx, &md); err != nil {
		return c.HandleError(ctx, err, "device metadata update failed")
	}
	d, err := c.lookupDevice(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "device metadata update failed")
	}
	d.SetMetadata(&md)
	return ctx.JSON(http.StatusOK, deviceInfo(d))
}

// SetDeviceParams handles PUT /api/v1/devices/:id/params. The blob is
// applied the next time a session connects the device.
func (c *Controller) SetDeviceParams(ctx echo.Context) error {
	var req ParamsRequest
	if err := bind(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "device params update failed")
	}
	d, err := c.lookupDevice(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "device params update failed")
	}
	d.SetParams(req.Blob)
	return ctx.JSON(http.StatusAccepted, deviceInfo(d))
}
