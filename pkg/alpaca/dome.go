package alpaca

import (
	"context"
	"fmt"
)

// Dome is an Alpaca dome client.
type Dome struct {
	device
}

// NewDome creates a dome client for the given device number.
func NewDome(t *Transport, number int) *Dome {
	return &Dome{device: newDevice(t, TypeDome, number)}
}

// Park moves the dome to its park position.
func (d *Dome) Park(ctx context.Context) error {
	if err := d.call(ctx, "park", nil); err != nil {
		return fmt.Errorf("failed to park dome: %w", err)
	}
	return nil
}

// AtPark reports whether the dome is parked.
func (d *Dome) AtPark(ctx context.Context) (bool, error) {
	return d.getBool(ctx, "atpark")
}

// Slewing reports whether the dome is moving.
func (d *Dome) Slewing(ctx context.Context) (bool, error) {
	return d.getBool(ctx, "slewing")
}

// AbortSlew stops dome motion.
func (d *Dome) AbortSlew(ctx context.Context) error {
	return d.call(ctx, "abortslew", nil)
}
