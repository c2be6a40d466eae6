package devices

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/unklstewy/skycapture/internal/capture"
	"github.com/unklstewy/skycapture/pkg/alpaca"
)

// Camera adapts an Alpaca camera to capture.Camera.
type Camera struct {
	b   *Bridge
	cam *alpaca.Camera
	id  string

	minExposure float64
	maxExposure float64
	hasCooler   bool

	mu          sync.Mutex
	stopExpose  context.CancelFunc
	stopCooling context.CancelFunc
	exposing    bool
}

func (b *Bridge) openCamera(ctx context.Context, n int) (*Camera, error) {
	c := &Camera{b: b, cam: alpaca.NewCamera(b.transport, n), minExposure: 0, maxExposure: 3600}
	if err := b.connect(ctx, c.cam); err != nil {
		return nil, err
	}

	c.id = fmt.Sprintf("camera-%d", n)
	if name, err := c.cam.Name(ctx); err == nil && name != "" {
		c.id = name
	}
	if lo, hi, err := c.cam.ExposureLimits(ctx); err == nil && hi > 0 {
		c.minExposure, c.maxExposure = lo, hi
	} else if err != nil && !alpaca.IsNotImplemented(err) {
		b.log.Warn("could not read exposure limits", "camera", c.id, "error", err)
	}
	if ok, err := c.cam.CanSetCCDTemperature(ctx); err == nil {
		c.hasCooler = ok
	}

	b.log.Info("camera connected", "camera", c.id, "min_exposure", c.minExposure,
		"max_exposure", c.maxExposure, "cooler", c.hasCooler)
	return c, nil
}

func (c *Camera) ID() string { return c.id }

func (c *Camera) ExposureLimits() (float64, float64) {
	return c.minExposure, c.maxExposure
}

func (c *Camera) HasCooler() bool { return c.hasCooler }

// StartExposure applies the frame geometry, exposes, waits for the image
// and downloads it. Completion: ExposureDone or ExposureFailed.
func (c *Camera) StartExposure(req capture.ExposureRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exposing {
		return fmt.Errorf("%w: camera %s is already exposing", capture.ErrCommandRejected, c.id)
	}
	c.exposing = true
	c.stopExpose = c.b.goOperation(func(ctx context.Context) {
		defer c.finishExposure()
		img, err := c.expose(ctx, req)
		switch {
		case err == nil:
			c.b.post(capture.ExposureDone{Image: *img})
		case cancelled(err):
		case c.b.lost("camera", err):
			c.b.post(capture.ExposureFailed{Err: err, Fatal: true})
		default:
			c.b.post(capture.ExposureFailed{Err: err})
		}
	})
	return nil
}

func (c *Camera) finishExposure() {
	c.mu.Lock()
	c.exposing = false
	c.stopExpose = nil
	c.mu.Unlock()
}

func (c *Camera) expose(ctx context.Context, req capture.ExposureRequest) (*capture.Image, error) {
	if !req.Frame.IsZero() {
		if err := c.applyFrame(ctx, req.Frame); err != nil {
			return nil, err
		}
	}

	light := req.FrameType == capture.FrameLight || req.FrameType == capture.FrameFlat
	data, err := c.captureImage(ctx, req.Duration, light)
	if err != nil {
		return nil, err
	}

	return &capture.Image{
		Pixels:  data.Pixels,
		Width:   data.Width,
		Height:  data.Height,
		MeanADU: MeanADU(data.Pixels),
		HFR:     MedianHFR(data.Pixels, data.Width, data.Height),
		Frame:   req.Frame,
	}, nil
}

// captureImage runs one exposure and downloads it. The focuser uses it
// directly for its sample frames.
func (c *Camera) captureImage(ctx context.Context, duration float64, light bool) (*alpaca.ImageData, error) {
	if err := c.cam.StartExposure(ctx, duration, light); err != nil {
		return nil, err
	}

	// Nothing to poll for during most of the exposure.
	wait := time.Duration(duration * float64(time.Second))
	select {
	case <-ctx.Done():
		c.abort()
		return nil, ctx.Err()
	case <-time.After(wait):
	}

	err := c.b.waitFor(ctx, func(ctx context.Context) (bool, error) {
		return c.cam.ImageReady(ctx)
	})
	if err != nil {
		if ctx.Err() != nil {
			c.abort()
		}
		return nil, err
	}
	return c.cam.ImageArray(ctx)
}

func (c *Camera) applyFrame(ctx context.Context, f capture.FrameSettings) error {
	if f.BinX > 0 && f.BinY > 0 {
		if err := c.cam.SetBinning(ctx, f.BinX, f.BinY); err != nil {
			return err
		}
	}
	if f.Width > 0 && f.Height > 0 {
		if err := c.cam.SetSubframe(ctx, f.X, f.Y, f.Width, f.Height); err != nil {
			return err
		}
	}
	return nil
}

// abort stops the camera after the exposure context ended.
func (c *Camera) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	if err := c.cam.AbortExposure(ctx); err != nil && !alpaca.IsNotImplemented(err) {
		c.b.log.Warn("abort exposure failed", "camera", c.id, "error", err)
	}
}

// AbortExposure cancels the running exposure. No completion event follows.
func (c *Camera) AbortExposure() error {
	c.mu.Lock()
	stop := c.stopExpose
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
	return nil
}

func (c *Camera) SetCoolerEnabled(enabled bool) error {
	if !c.hasCooler {
		return fmt.Errorf("%w: camera %s has no cooler", capture.ErrCommandRejected, c.id)
	}
	ctx, cancel := c.b.query()
	defer cancel()
	return c.cam.SetCoolerOn(ctx, enabled)
}

// SetTemperature sets the cooler setpoint and watches the sensor until it is
// within tolerance. Completion: TemperatureReached.
func (c *Camera) SetTemperature(celsius float64) error {
	if !c.hasCooler {
		return fmt.Errorf("%w: camera %s has no cooler", capture.ErrCommandRejected, c.id)
	}
	tolerance := c.b.cfg.TemperatureTolerance
	if tolerance <= 0 {
		tolerance = 0.5
	}

	c.mu.Lock()
	if c.stopCooling != nil {
		c.stopCooling()
	}
	c.stopCooling = c.b.goOperation(func(ctx context.Context) {
		err := c.regulate(ctx, celsius, tolerance)
		if cancelled(err) {
			return
		}
		c.b.lost("camera", err)
		c.b.post(capture.TemperatureReached{Err: err})
	})
	c.mu.Unlock()
	return nil
}

func (c *Camera) regulate(ctx context.Context, celsius, tolerance float64) error {
	if on, err := c.cam.CoolerOn(ctx); err == nil && !on {
		if err := c.cam.SetCoolerOn(ctx, true); err != nil {
			return err
		}
	}
	if err := c.cam.SetCCDTemperature(ctx, celsius); err != nil {
		return err
	}
	return c.b.waitFor(ctx, func(ctx context.Context) (bool, error) {
		t, err := c.cam.CCDTemperature(ctx)
		if err != nil {
			return false, err
		}
		return math.Abs(t-celsius) <= tolerance, nil
	})
}
