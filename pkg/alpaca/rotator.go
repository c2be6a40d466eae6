package alpaca

import (
	"context"
	"fmt"
)

// Rotator is an Alpaca camera rotator client.
type Rotator struct {
	device
}

// NewRotator creates a rotator client for the given device number.
func NewRotator(t *Transport, number int) *Rotator {
	return &Rotator{device: newDevice(t, TypeRotator, number)}
}

// Position returns the sky position angle in degrees.
func (r *Rotator) Position(ctx context.Context) (float64, error) {
	return r.getFloat(ctx, "position")
}

// IsMoving reports whether the rotator is moving.
func (r *Rotator) IsMoving(ctx context.Context) (bool, error) {
	return r.getBool(ctx, "ismoving")
}

// MoveAbsolute starts a move to a position angle in degrees.
func (r *Rotator) MoveAbsolute(ctx context.Context, degrees float64) error {
	if err := r.setFloat(ctx, "moveabsolute", "Position", degrees); err != nil {
		return fmt.Errorf("failed to move rotator: %w", err)
	}
	return nil
}

// Halt stops rotator motion.
func (r *Rotator) Halt(ctx context.Context) error {
	return r.call(ctx, "halt", nil)
}
