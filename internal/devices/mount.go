package devices

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/unklstewy/skycapture/internal/capture"
	"github.com/unklstewy/skycapture/pkg/alpaca"
	"github.com/unklstewy/skycapture/pkg/coordinates"
	"github.com/unklstewy/skycapture/pkg/tracking"
)

// Mount adapts an Alpaca telescope to capture.Mount.
type Mount struct {
	b   *Bridge
	tel *alpaca.Telescope

	mu       sync.Mutex
	stopSlew context.CancelFunc
}

func (b *Bridge) openMount(ctx context.Context, n int) (*Mount, error) {
	m := &Mount{b: b, tel: alpaca.NewTelescope(b.transport, n)}
	if err := b.connect(ctx, m.tel); err != nil {
		return nil, err
	}
	if status, err := m.tel.Status(ctx); err == nil {
		b.log.Info("mount connected", "ra", status.RightAscension, "dec", status.Declination,
			"pier_side", pierSide(status.SideOfPier), "parked", status.AtPark)
	}
	return m, nil
}

func (m *Mount) Coordinates() (capture.Coordinates, error) {
	ctx, cancel := m.b.query()
	defer cancel()
	ra, err := m.tel.RightAscension(ctx)
	if err != nil {
		return capture.Coordinates{}, err
	}
	dec, err := m.tel.Declination(ctx)
	if err != nil {
		return capture.Coordinates{}, err
	}
	return capture.Coordinates{RA: ra, Dec: dec}, nil
}

// HourAngle uses the mount's sidereal time, or computes it from the
// observer longitude when the driver does not report one.
func (m *Mount) HourAngle() (float64, error) {
	ctx, cancel := m.b.query()
	defer cancel()
	ra, err := m.tel.RightAscension(ctx)
	if err != nil {
		return 0, err
	}
	lst, err := m.tel.SiderealTime(ctx)
	if err != nil {
		if !alpaca.IsNotImplemented(err) {
			return 0, err
		}
		lst = m.b.observer.LocalSiderealTime(time.Now())
	}
	return tracking.HourAngle(lst, ra), nil
}

func (m *Mount) PierSide() (tracking.PierSide, error) {
	ctx, cancel := m.b.query()
	defer cancel()
	side, err := m.tel.SideOfPier(ctx)
	if alpaca.IsNotImplemented(err) {
		return tracking.PierUnknown, nil
	}
	if err != nil {
		return tracking.PierUnknown, err
	}
	return pierSide(side), nil
}

func pierSide(side alpaca.PierSide) tracking.PierSide {
	switch side {
	case alpaca.PierEast:
		return tracking.PierEast
	case alpaca.PierWest:
		return tracking.PierWest
	}
	return tracking.PierUnknown
}

// Slew completion: MountSlewDone.
func (m *Mount) Slew(target capture.Coordinates) error {
	m.startSlew(func(ctx context.Context) error {
		return m.slewTo(ctx, target)
	}, func(err error) capture.Event { return capture.MountSlewDone{Err: err} })
	return nil
}

// SlewAltAz falls back to an equatorial slew when the driver has no
// alt/az goto. Completion: MountSlewDone.
func (m *Mount) SlewAltAz(altitude, azimuth float64) error {
	m.startSlew(func(ctx context.Context) error {
		err := m.tel.SlewToAltAzAsync(ctx, altitude, azimuth)
		if alpaca.IsNotImplemented(err) {
			eq := m.b.observer.ToEquatorial(coordinates.AltAz{Alt: altitude, Az: azimuth}, time.Now())
			return m.slewTo(ctx, capture.Coordinates{RA: eq.RA, Dec: eq.Dec})
		}
		if err != nil {
			return err
		}
		return m.waitSlew(ctx)
	}, func(err error) capture.Event { return capture.MountSlewDone{Err: err} })
	return nil
}

// Flip re-slews to the current target so that the mount changes pier side.
// Completion: MountFlipDone.
func (m *Mount) Flip(target capture.Coordinates) error {
	m.startSlew(func(ctx context.Context) error {
		before, err := m.tel.SideOfPier(ctx)
		if err != nil && !alpaca.IsNotImplemented(err) {
			return err
		}
		if err := m.slewTo(ctx, target); err != nil {
			return err
		}
		after, err := m.tel.SideOfPier(ctx)
		if err != nil || before == alpaca.PierUnknown {
			// Pier side unavailable; trust the slew.
			return nil
		}
		if after == before {
			return fmt.Errorf("mount stayed on pier side %s", pierSide(after))
		}
		return nil
	}, func(err error) capture.Event { return capture.MountFlipDone{Err: err} })
	return nil
}

// Park completion: MountParked.
func (m *Mount) Park() error {
	m.startSlew(func(ctx context.Context) error {
		if err := m.tel.Park(ctx); err != nil {
			return err
		}
		return m.b.waitFor(ctx, func(ctx context.Context) (bool, error) {
			return m.tel.AtPark(ctx)
		})
	}, func(err error) capture.Event { return capture.MountParked{Err: err} })
	return nil
}

func (m *Mount) AbortSlew() error {
	m.mu.Lock()
	stop := m.stopSlew
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
	ctx, cancel := m.b.query()
	defer cancel()
	return m.tel.AbortSlew(ctx)
}

// startSlew runs one motion at a time; a new command cancels the last.
func (m *Mount) startSlew(run func(ctx context.Context) error, done func(err error) capture.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopSlew != nil {
		m.stopSlew()
	}
	m.stopSlew = m.b.goOperation(func(ctx context.Context) {
		err := run(ctx)
		if cancelled(err) {
			return
		}
		m.b.lost("mount", err)
		m.b.post(done(err))
	})
}

func (m *Mount) slewTo(ctx context.Context, target capture.Coordinates) error {
	if at, err := m.tel.AtPark(ctx); err == nil && at {
		if err := m.tel.Unpark(ctx); err != nil {
			return err
		}
	}
	if err := m.tel.SlewToCoordinatesAsync(ctx, target.RA, target.Dec); err != nil {
		return err
	}
	return m.waitSlew(ctx)
}

func (m *Mount) waitSlew(ctx context.Context) error {
	return m.b.waitFor(ctx, func(ctx context.Context) (bool, error) {
		slewing, err := m.tel.Slewing(ctx)
		return !slewing, err
	})
}

// GotoAligner re-centers by repeating the goto to the target. It stands in
// for plate-solving when no solver is available. Completion: AlignDone.
type GotoAligner struct {
	mount *Mount
}

func (a *GotoAligner) Realign(target capture.Coordinates) error {
	m := a.mount
	m.startSlew(func(ctx context.Context) error {
		return m.slewTo(ctx, target)
	}, func(err error) capture.Event { return capture.AlignDone{Err: err} })
	return nil
}

func (a *GotoAligner) Abort() error {
	return a.mount.AbortSlew()
}

// Dome adapts an Alpaca dome to capture.Dome.
type Dome struct {
	b    *Bridge
	dome *alpaca.Dome
}

// Park completion: DomeParked.
func (d *Dome) Park() error {
	d.b.goOperation(func(ctx context.Context) {
		err := d.dome.Park(ctx)
		if err == nil {
			err = d.b.waitFor(ctx, func(ctx context.Context) (bool, error) {
				return d.dome.AtPark(ctx)
			})
		}
		if cancelled(err) {
			return
		}
		d.b.lost("dome", err)
		d.b.post(capture.DomeParked{Err: err})
	})
	return nil
}
