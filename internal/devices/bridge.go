// Package devices binds Alpaca hardware and the PHD2 guider to the capture
// sequencer. Every adapter method returns as soon as the command has been
// handed to a goroutine; that goroutine polls the device and posts the
// completion event to the sequencer.
package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/unklstewy/skycapture/internal/capture"
	"github.com/unklstewy/skycapture/pkg/alpaca"
	"github.com/unklstewy/skycapture/pkg/config"
	"github.com/unklstewy/skycapture/pkg/coordinates"
)

// queryTimeout bounds synchronous queries made from the sequencer loop.
const queryTimeout = 5 * time.Second

// Bridge owns the Alpaca transport and the adapters built on it.
type Bridge struct {
	cfg       config.AlpacaConfig
	transport *alpaca.Transport
	observer  coordinates.Observer
	log       *slog.Logger
	poll      time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	sink capture.EventSink

	connected []connector
}

// NewBridge creates a bridge for the Alpaca server in cfg. Nothing is
// contacted until Open.
func NewBridge(cfg config.AlpacaConfig, observer coordinates.Observer, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		cfg:       cfg,
		transport: alpaca.NewTransport(cfg),
		observer:  observer,
		log:       logger.With("component", "alpaca"),
		poll:      cfg.PollInterval(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Attach sets the sink that receives completion events. It must be called
// before the first command is issued.
func (b *Bridge) Attach(sink capture.EventSink) {
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
}

func (b *Bridge) post(ev capture.Event) {
	b.mu.RLock()
	sink := b.sink
	b.mu.RUnlock()
	if sink == nil {
		b.log.Warn("dropping device event, no sink attached", "event", fmt.Sprintf("%T", ev))
		return
	}
	sink.Post(ev)
}

// Open connects every bound device role and returns the adapters. Roles
// with a negative device number stay nil. The camera is required.
func (b *Bridge) Open(ctx context.Context) (capture.Devices, error) {
	var devs capture.Devices

	if b.cfg.CameraDeviceNumber < 0 {
		return devs, fmt.Errorf("%w: no camera bound", capture.ErrDeviceUnavailable)
	}
	cam, err := b.openCamera(ctx, b.cfg.CameraDeviceNumber)
	if err != nil {
		return devs, err
	}
	devs.Camera = cam

	if n := b.cfg.FilterWheelDeviceNumber; n >= 0 {
		fw, err := b.openFilterWheel(ctx, n)
		if err != nil {
			return devs, err
		}
		devs.FilterWheel = fw
	}

	if n := b.cfg.TelescopeDeviceNumber; n >= 0 {
		m, err := b.openMount(ctx, n)
		if err != nil {
			return devs, err
		}
		devs.Mount = m
		devs.Aligner = &GotoAligner{mount: m}
	}

	if n := b.cfg.DomeDeviceNumber; n >= 0 {
		d := &Dome{b: b, dome: alpaca.NewDome(b.transport, n)}
		if err := b.connect(ctx, d.dome); err != nil {
			return devs, err
		}
		devs.Dome = d
	}

	if n := b.cfg.CoverCalibratorDeviceNumber; n >= 0 {
		dustCap, box, err := b.openCoverCalibrator(ctx, n)
		if err != nil {
			return devs, err
		}
		if dustCap != nil {
			devs.DustCap = dustCap
		}
		if box != nil {
			devs.LightBox = box
		}
	}

	if n := b.cfg.RotatorDeviceNumber; n >= 0 {
		r := &Rotator{b: b, rot: alpaca.NewRotator(b.transport, n)}
		if err := b.connect(ctx, r.rot); err != nil {
			return devs, err
		}
		devs.Rotator = r
	}

	if n := b.cfg.FocuserDeviceNumber; n >= 0 {
		f := newFocuser(b, alpaca.NewFocuser(b.transport, n), cam)
		if err := b.connect(ctx, f.foc); err != nil {
			return devs, err
		}
		devs.Focuser = f
	}

	return devs, nil
}

type connector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

func (b *Bridge) connect(ctx context.Context, d connector) error {
	if err := d.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}
	b.connected = append(b.connected, d)
	return nil
}

// Close stops all pending operations and disconnects the devices.
func (b *Bridge) Close() error {
	b.cancel()
	b.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	var errs []error
	for _, d := range b.connected {
		if err := d.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	b.connected = nil
	return errors.Join(errs...)
}

// query returns a context for a short synchronous call.
func (b *Bridge) query() (context.Context, context.CancelFunc) {
	return context.WithTimeout(b.ctx, queryTimeout)
}

// goOperation runs op in a goroutine bounded by the operation timeout. The
// returned cancel func stops it early.
func (b *Bridge) goOperation(op func(ctx context.Context)) context.CancelFunc {
	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.OperationTimeout())
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()
		op(ctx)
	}()
	return cancel
}

// waitFor polls done until it reports true, fails or ctx ends.
func (b *Bridge) waitFor(ctx context.Context, done func(ctx context.Context) (bool, error)) error {
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()
	for {
		ok, err := done(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// lost posts DeviceLost when err means the device went away, and reports
// whether it did.
func (b *Bridge) lost(role string, err error) bool {
	if !errors.Is(err, alpaca.ErrNotConnected) {
		return false
	}
	b.log.Error("device disconnected", "role", role, "error", err)
	b.post(capture.DeviceLost{Role: role, Err: err})
	return true
}

// cancelled reports whether err is only the result of an abort or shutdown.
func cancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
