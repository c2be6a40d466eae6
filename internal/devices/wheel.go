package devices

import (
	"context"
	"fmt"
	"math"

	"github.com/unklstewy/skycapture/internal/capture"
	"github.com/unklstewy/skycapture/pkg/alpaca"
)

// FilterWheel adapts an Alpaca filter wheel to capture.FilterWheel.
type FilterWheel struct {
	b     *Bridge
	fw    *alpaca.FilterWheel
	names []string
}

func (b *Bridge) openFilterWheel(ctx context.Context, n int) (*FilterWheel, error) {
	fw := &FilterWheel{b: b, fw: alpaca.NewFilterWheel(b.transport, n)}
	if err := b.connect(ctx, fw.fw); err != nil {
		return nil, err
	}
	names, err := fw.fw.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read filter names: %w", err)
	}
	fw.names = names
	b.log.Info("filter wheel connected", "filters", names)
	return fw, nil
}

func (f *FilterWheel) FilterNames() []string {
	return append([]string(nil), f.names...)
}

// SetFilter completion: FilterChanged.
func (f *FilterWheel) SetFilter(slot int) error {
	if slot < 0 || slot >= len(f.names) {
		return fmt.Errorf("%w: filter slot %d out of range", capture.ErrCommandRejected, slot)
	}
	f.b.goOperation(func(ctx context.Context) {
		err := f.fw.SetPosition(ctx, slot)
		if err == nil {
			// Position reads -1 while the wheel turns.
			err = f.b.waitFor(ctx, func(ctx context.Context) (bool, error) {
				pos, err := f.fw.Position(ctx)
				return pos == slot, err
			})
		}
		if cancelled(err) {
			return
		}
		f.b.lost("filter wheel", err)
		f.b.post(capture.FilterChanged{Err: err})
	})
	return nil
}

// Rotator adapts an Alpaca rotator to capture.Rotator.
type Rotator struct {
	b   *Bridge
	rot *alpaca.Rotator
}

// SetAngle completion: RotatorReached.
func (r *Rotator) SetAngle(degrees float64) error {
	target := math.Mod(degrees, 360)
	if target < 0 {
		target += 360
	}
	r.b.goOperation(func(ctx context.Context) {
		err := r.rot.MoveAbsolute(ctx, target)
		if err == nil {
			err = r.b.waitFor(ctx, func(ctx context.Context) (bool, error) {
				moving, err := r.rot.IsMoving(ctx)
				return !moving, err
			})
		}
		if cancelled(err) {
			return
		}
		r.b.lost("rotator", err)
		r.b.post(capture.RotatorReached{Err: err})
	})
	return nil
}
