package devices

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/unklstewy/skycapture/internal/capture"
	"github.com/unklstewy/skycapture/pkg/alpaca"
)

// ErrNoStars means an autofocus sample frame had no measurable stars.
var ErrNoStars = errors.New("no stars detected")

// Focuser runs a V-curve autofocus with an Alpaca focuser and the imaging
// camera.
type Focuser struct {
	b   *Bridge
	foc *alpaca.Focuser
	cam *Camera

	mu   sync.Mutex
	stop context.CancelFunc
}

func newFocuser(b *Bridge, foc *alpaca.Focuser, cam *Camera) *Focuser {
	return &Focuser{b: b, foc: foc, cam: cam}
}

// RequestAutofocus measures the star size at the current position. When
// the result is above hfrLimit it sweeps the focuser and settles on the
// best position. A zero limit only measures. Completion: FocusComplete.
func (f *Focuser) RequestAutofocus(hfrLimit float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop != nil {
		return fmt.Errorf("%w: autofocus already running", capture.ErrCommandRejected)
	}
	f.stop = f.b.goOperation(func(ctx context.Context) {
		hfr, err := f.autofocus(ctx, hfrLimit)

		f.mu.Lock()
		f.stop = nil
		f.mu.Unlock()

		if cancelled(err) {
			return
		}
		f.b.lost("focuser", err)
		f.b.post(capture.FocusComplete{HFR: hfr, Err: err})
	})
	return nil
}

func (f *Focuser) AbortAutofocus() error {
	f.mu.Lock()
	stop := f.stop
	f.mu.Unlock()
	if stop == nil {
		return nil
	}
	stop()
	ctx, cancel := f.b.query()
	defer cancel()
	if err := f.foc.Halt(ctx); err != nil && !alpaca.IsNotImplemented(err) {
		return err
	}
	return nil
}

// MoveRelative shifts the focuser by steps, clamped to its travel.
// Completion: FocuserMoved.
func (f *Focuser) MoveRelative(steps int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stop != nil {
		return fmt.Errorf("%w: autofocus running", capture.ErrCommandRejected)
	}
	f.b.goOperation(func(ctx context.Context) {
		err := f.moveBy(ctx, steps)
		if cancelled(err) {
			return
		}
		f.b.lost("focuser", err)
		f.b.post(capture.FocuserMoved{Err: err})
	})
	return nil
}

func (f *Focuser) moveBy(ctx context.Context, steps int) error {
	pos, err := f.foc.Position(ctx)
	if err != nil {
		return err
	}
	maxStep, err := f.foc.MaxStep(ctx)
	if err != nil {
		return err
	}
	target := max(0, min(pos+steps, maxStep))
	f.b.log.Debug("focuser offset", "from", pos, "to", target)
	return f.moveTo(ctx, target)
}

func (f *Focuser) autofocus(ctx context.Context, limit float64) (float64, error) {
	hfr, err := f.sample(ctx)
	if err != nil {
		return 0, err
	}
	if limit <= 0 || hfr <= limit {
		return hfr, nil
	}

	start, err := f.foc.Position(ctx)
	if err != nil {
		return 0, err
	}
	maxStep, err := f.foc.MaxStep(ctx)
	if err != nil {
		return 0, err
	}

	step := f.b.cfg.FocusStepSize
	if step <= 0 {
		step = 100
	}
	n := f.b.cfg.FocusSamplesPerSide
	if n <= 0 {
		n = 4
	}

	var curve []focusSample
	for i := -n; i <= n; i++ {
		pos := start + i*step
		if pos < 0 || pos > maxStep {
			continue
		}
		if err := f.moveTo(ctx, pos); err != nil {
			return 0, err
		}
		h, err := f.sample(ctx)
		if errors.Is(err, ErrNoStars) {
			f.b.log.Debug("autofocus sample without stars", "position", pos)
			continue
		}
		if err != nil {
			return 0, err
		}
		curve = append(curve, focusSample{position: pos, hfr: h})
	}
	if len(curve) == 0 {
		return 0, ErrNoStars
	}

	best := bestFocus(curve, step)
	if best < 0 {
		best = 0
	} else if best > maxStep {
		best = maxStep
	}
	if err := f.moveTo(ctx, best); err != nil {
		return 0, err
	}
	hfr, err = f.sample(ctx)
	if err != nil {
		return 0, err
	}
	f.b.log.Info("autofocus finished", "position", best, "hfr", hfr, "samples", len(curve))
	return hfr, nil
}

func (f *Focuser) moveTo(ctx context.Context, pos int) error {
	if err := f.foc.Move(ctx, pos); err != nil {
		return err
	}
	return f.b.waitFor(ctx, func(ctx context.Context) (bool, error) {
		moving, err := f.foc.IsMoving(ctx)
		return !moving, err
	})
}

func (f *Focuser) sample(ctx context.Context) (float64, error) {
	exposure := f.b.cfg.FocusExposureSeconds
	if exposure <= 0 {
		exposure = 3
	}
	img, err := f.cam.captureImage(ctx, exposure, true)
	if err != nil {
		return 0, err
	}
	hfr := MedianHFR(img.Pixels, img.Width, img.Height)
	if hfr <= 0 {
		return 0, ErrNoStars
	}
	return hfr, nil
}

type focusSample struct {
	position int
	hfr      float64
}

// bestFocus returns the vertex of a parabola through the smallest sample
// and its neighbours, or the smallest sample itself at the curve edges.
func bestFocus(curve []focusSample, step int) int {
	lo := 0
	for i, s := range curve {
		if s.hfr < curve[lo].hfr {
			lo = i
		}
	}
	if lo == 0 || lo == len(curve)-1 {
		return curve[lo].position
	}
	a, b, c := curve[lo-1], curve[lo], curve[lo+1]
	if a.position+step != b.position || b.position+step != c.position {
		return b.position
	}
	denom := a.hfr - 2*b.hfr + c.hfr
	if denom <= 0 {
		return b.position
	}
	offset := float64(step) * (a.hfr - c.hfr) / (2 * denom)
	return b.position + int(offset+0.5*sign(offset))
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
