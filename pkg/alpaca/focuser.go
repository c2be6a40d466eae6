package alpaca

import (
	"context"
	"fmt"
)

// Focuser is an Alpaca focuser client.
type Focuser struct {
	device
}

// NewFocuser creates a focuser client for the given device number.
func NewFocuser(t *Transport, number int) *Focuser {
	return &Focuser{device: newDevice(t, TypeFocuser, number)}
}

// Position returns the current step position.
func (f *Focuser) Position(ctx context.Context) (int, error) {
	return f.getInt(ctx, "position")
}

// MaxStep returns the highest reachable position.
func (f *Focuser) MaxStep(ctx context.Context) (int, error) {
	return f.getInt(ctx, "maxstep")
}

// IsMoving reports whether the focuser is moving.
func (f *Focuser) IsMoving(ctx context.Context) (bool, error) {
	return f.getBool(ctx, "ismoving")
}

// Move starts a move to an absolute position.
// Implements: PUT /api/v1/focuser/{device_number}/move
func (f *Focuser) Move(ctx context.Context, position int) error {
	if position < 0 {
		return fmt.Errorf("invalid focuser position %d", position)
	}
	if err := f.setInt(ctx, "move", "Position", position); err != nil {
		return fmt.Errorf("failed to move focuser: %w", err)
	}
	return nil
}

// Halt stops focuser motion.
func (f *Focuser) Halt(ctx context.Context) error {
	return f.call(ctx, "halt", nil)
}

// Temperature returns the focuser's ambient temperature in °C.
func (f *Focuser) Temperature(ctx context.Context) (float64, error) {
	return f.getFloat(ctx, "temperature")
}
