package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// CameraState is the Alpaca CameraState value.
type CameraState int

const (
	CameraIdle CameraState = iota
	CameraWaiting
	CameraExposing
	CameraReading
	CameraDownload
	CameraError
)

// Camera is an Alpaca camera client.
type Camera struct {
	device
}

// NewCamera creates a camera client for the given device number.
func NewCamera(t *Transport, number int) *Camera {
	return &Camera{device: newDevice(t, TypeCamera, number)}
}

// StartExposure starts an exposure of duration seconds. light is false for
// dark and bias frames so the shutter stays closed.
// Implements: PUT /api/v1/camera/{device_number}/startexposure
func (c *Camera) StartExposure(ctx context.Context, duration float64, light bool) error {
	params := url.Values{}
	params.Set("Duration", formatFloat(duration))
	params.Set("Light", strconv.FormatBool(light))
	if err := c.call(ctx, "startexposure", params); err != nil {
		return fmt.Errorf("failed to start exposure: %w", err)
	}
	return nil
}

// AbortExposure stops the current exposure and discards the image.
func (c *Camera) AbortExposure(ctx context.Context) error {
	if err := c.call(ctx, "abortexposure", nil); err != nil {
		return fmt.Errorf("failed to abort exposure: %w", err)
	}
	return nil
}

// ImageReady reports whether an image can be downloaded.
func (c *Camera) ImageReady(ctx context.Context) (bool, error) {
	return c.getBool(ctx, "imageready")
}

// State returns the camera state.
func (c *Camera) State(ctx context.Context) (CameraState, error) {
	v, err := c.getInt(ctx, "camerastate")
	return CameraState(v), err
}

// ImageData is a downloaded image in row-major order.
type ImageData struct {
	Width  int
	Height int
	Pixels []int32
}

// ImageArray downloads the last image. Alpaca returns the array indexed
// [x][y]; the result is transposed to rows.
// Implements: GET /api/v1/camera/{device_number}/imagearray
func (c *Camera) ImageArray(ctx context.Context) (*ImageData, error) {
	resp, err := c.t.get(ctx, c.deviceType, c.number, "imagearray", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	return decodeImageArray(resp.Value)
}

func decodeImageArray(raw json.RawMessage) (*ImageData, error) {
	var cols [][]int32
	if err := json.Unmarshal(raw, &cols); err != nil {
		return nil, fmt.Errorf("unsupported image array: %w", err)
	}
	if len(cols) == 0 || len(cols[0]) == 0 {
		return nil, fmt.Errorf("empty image array")
	}
	w, h := len(cols), len(cols[0])
	img := &ImageData{Width: w, Height: h, Pixels: make([]int32, w*h)}
	for x, col := range cols {
		if len(col) != h {
			return nil, fmt.Errorf("ragged image array at column %d", x)
		}
		for y, v := range col {
			img.Pixels[y*w+x] = v
		}
	}
	return img, nil
}

// SetSubframe sets the readout region in binned pixels.
func (c *Camera) SetSubframe(ctx context.Context, startX, startY, numX, numY int) error {
	for _, p := range []struct {
		endpoint, name string
		v              int
	}{
		{"startx", "StartX", startX},
		{"starty", "StartY", startY},
		{"numx", "NumX", numX},
		{"numy", "NumY", numY},
	} {
		if err := c.setInt(ctx, p.endpoint, p.name, p.v); err != nil {
			return fmt.Errorf("failed to set %s: %w", p.name, err)
		}
	}
	return nil
}

// SetBinning sets the horizontal and vertical binning.
func (c *Camera) SetBinning(ctx context.Context, binX, binY int) error {
	if err := c.setInt(ctx, "binx", "BinX", binX); err != nil {
		return fmt.Errorf("failed to set BinX: %w", err)
	}
	if err := c.setInt(ctx, "biny", "BinY", binY); err != nil {
		return fmt.Errorf("failed to set BinY: %w", err)
	}
	return nil
}

// SensorSize returns the unbinned sensor size in pixels.
func (c *Camera) SensorSize(ctx context.Context) (int, int, error) {
	w, err := c.getInt(ctx, "cameraxsize")
	if err != nil {
		return 0, 0, err
	}
	h, err := c.getInt(ctx, "cameraysize")
	return w, h, err
}

// ExposureLimits returns the minimum and maximum exposure in seconds.
func (c *Camera) ExposureLimits(ctx context.Context) (float64, float64, error) {
	lo, err := c.getFloat(ctx, "exposuremin")
	if err != nil {
		return 0, 0, err
	}
	hi, err := c.getFloat(ctx, "exposuremax")
	return lo, hi, err
}

// CanSetCCDTemperature reports whether the camera has a regulated cooler.
func (c *Camera) CanSetCCDTemperature(ctx context.Context) (bool, error) {
	return c.getBool(ctx, "cansetccdtemperature")
}

// CCDTemperature returns the sensor temperature in °C.
func (c *Camera) CCDTemperature(ctx context.Context) (float64, error) {
	return c.getFloat(ctx, "ccdtemperature")
}

// SetCCDTemperature sets the cooler setpoint in °C.
func (c *Camera) SetCCDTemperature(ctx context.Context, celsius float64) error {
	return c.setFloat(ctx, "setccdtemperature", "SetCCDTemperature", celsius)
}

// CoolerOn returns the cooler power state.
func (c *Camera) CoolerOn(ctx context.Context) (bool, error) {
	return c.getBool(ctx, "cooleron")
}

// SetCoolerOn switches the cooler.
func (c *Camera) SetCoolerOn(ctx context.Context, on bool) error {
	return c.setBool(ctx, "cooleron", "CoolerOn", on)
}
