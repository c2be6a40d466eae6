package devices

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/unklstewy/skycapture/internal/capture"
	"github.com/unklstewy/skycapture/pkg/alpaca"
)

// openCoverCalibrator splits one Alpaca cover calibrator into the dust cap
// and light box roles. Either is nil when the device reports it absent.
func (b *Bridge) openCoverCalibrator(ctx context.Context, n int) (*DustCap, *LightBox, error) {
	cc := alpaca.NewCoverCalibrator(b.transport, n)
	if err := b.connect(ctx, cc); err != nil {
		return nil, nil, err
	}

	var (
		dustCap *DustCap
		box     *LightBox
	)
	if state, err := cc.CoverState(ctx); err != nil {
		return nil, nil, err
	} else if state != alpaca.CoverNotPresent {
		dustCap = &DustCap{b: b, cc: cc}
		dustCap.parked.Store(state == alpaca.CoverClosed)
	}

	if state, err := cc.CalibratorState(ctx); err != nil {
		return nil, nil, err
	} else if state != alpaca.CalibratorNotPresent {
		brightness := b.cfg.CalibratorBrightness
		if brightness <= 0 {
			if brightness, err = cc.MaxBrightness(ctx); err != nil {
				return nil, nil, err
			}
		}
		box = &LightBox{b: b, cc: cc, brightness: brightness}
		box.on.Store(state == alpaca.CalibratorReady)
	}

	b.log.Info("cover calibrator connected", "dust_cap", dustCap != nil, "light_box", box != nil)
	return dustCap, box, nil
}

// DustCap is the motorised cover of a cover calibrator.
type DustCap struct {
	b      *Bridge
	cc     *alpaca.CoverCalibrator
	parked atomic.Bool
}

func (d *DustCap) IsParked() bool { return d.parked.Load() }

// Park closes the cover. Completion: DustCapParked.
func (d *DustCap) Park() error {
	d.move(alpaca.CoverClosed, d.cc.CloseCover, func(err error) capture.Event {
		return capture.DustCapParked{Err: err}
	})
	return nil
}

// Unpark opens the cover. Completion: DustCapUnparked.
func (d *DustCap) Unpark() error {
	d.move(alpaca.CoverOpen, d.cc.OpenCover, func(err error) capture.Event {
		return capture.DustCapUnparked{Err: err}
	})
	return nil
}

func (d *DustCap) move(want alpaca.CoverState, start func(ctx context.Context) error, done func(err error) capture.Event) {
	d.b.goOperation(func(ctx context.Context) {
		err := start(ctx)
		if err == nil {
			err = d.b.waitFor(ctx, func(ctx context.Context) (bool, error) {
				state, err := d.cc.CoverState(ctx)
				if err != nil {
					return false, err
				}
				if state == alpaca.CoverError {
					return false, fmt.Errorf("cover reported an error state")
				}
				return state == want, nil
			})
		}
		if cancelled(err) {
			return
		}
		if err == nil {
			d.parked.Store(want == alpaca.CoverClosed)
		}
		d.b.lost("dust cap", err)
		d.b.post(done(err))
	})
}

// LightBox is the flat panel of a cover calibrator.
type LightBox struct {
	b          *Bridge
	cc         *alpaca.CoverCalibrator
	brightness int
	on         atomic.Bool
}

func (l *LightBox) IsLightEnabled() bool { return l.on.Load() }

// SetLightEnabled completion: LightBoxChanged.
func (l *LightBox) SetLightEnabled(enabled bool) error {
	l.b.goOperation(func(ctx context.Context) {
		var err error
		want := alpaca.CalibratorOff
		if enabled {
			want = alpaca.CalibratorReady
			err = l.cc.CalibratorOn(ctx, l.brightness)
		} else {
			err = l.cc.CalibratorOff(ctx)
		}
		if err == nil {
			err = l.b.waitFor(ctx, func(ctx context.Context) (bool, error) {
				state, err := l.cc.CalibratorState(ctx)
				if err != nil {
					return false, err
				}
				if state == alpaca.CalibratorError {
					return false, fmt.Errorf("calibrator reported an error state")
				}
				return state == want, nil
			})
		}
		if cancelled(err) {
			return
		}
		if err == nil {
			l.on.Store(enabled)
		}
		l.b.lost("light box", err)
		l.b.post(capture.LightBoxChanged{Enabled: enabled, Err: err})
	})
	return nil
}
