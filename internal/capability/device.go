package capability

import (
	"context"
)

// DeviceInfo is the static description returned by the device.info command.
type DeviceInfo struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Platform string `json:"platform"`
	Family   string `json:"family"`
	Version  string `json:"version,omitempty"`
}

// Status is the device.status payload.
type Status struct {
	BatteryLevel int    `json:"battery_level,omitempty"`
	Charging     bool   `json:"charging,omitempty"`
	Network      string `json:"network,omitempty"`
	UptimeSec    int64  `json:"uptime_sec,omitempty"`
}

// Location is the device.location payload.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// Capture is the device.camera payload. Data is base64-handled by the JSON
// encoder ([]byte marshals as base64).
type Capture struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// InfoSource supplies the static device description.
type InfoSource interface {
	DeviceInfo() DeviceInfo
}

// StatusSource supplies the live device status.
type StatusSource interface {
	DeviceStatus(ctx context.Context) (Status, error)
}

// LocationSource supplies the device's current location.
type LocationSource interface {
	CurrentLocation(ctx context.Context) (Location, error)
}

// CameraSource captures a camera frame.
type CameraSource interface {
	CaptureFrame(ctx context.Context) (Capture, error)
}

// RegisterDeviceHandlers wires the platform-provided sources into the
// registry. device.info is always registered; the remaining handlers are
// registered only for non-nil sources, so the advertised command list
// reflects what the platform actually supports.
func RegisterDeviceHandlers(reg *Registry, info InfoSource, status StatusSource, location LocationSource, camera CameraSource) {
	reg.Register("device.info", func(ctx context.Context, params map[string]interface{}) Envelope {
		return Ok(info.DeviceInfo())
	})

	if status != nil {
		reg.Register("device.status", func(ctx context.Context, params map[string]interface{}) Envelope {
			s, err := status.DeviceStatus(ctx)
			if err != nil {
				return Fail("status unavailable: %v", err)
			}
			return Ok(s)
		})
	}

	if location != nil {
		reg.Register("device.location", func(ctx context.Context, params map[string]interface{}) Envelope {
			loc, err := location.CurrentLocation(ctx)
			if err != nil {
				return Fail("location unavailable: %v", err)
			}
			return Ok(loc)
		})
	}

	if camera != nil {
		reg.Register("device.camera", func(ctx context.Context, params map[string]interface{}) Envelope {
			capture, err := camera.CaptureFrame(ctx)
			if err != nil {
				return Fail("camera unavailable: %v", err)
			}
			return Ok(capture)
		})
	}
}
