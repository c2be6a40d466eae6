package alpaca

import (
	"context"
	"fmt"
)

// FilterWheel is an Alpaca filter wheel client.
type FilterWheel struct {
	device
}

// NewFilterWheel creates a filter wheel client for the given device number.
func NewFilterWheel(t *Transport, number int) *FilterWheel {
	return &FilterWheel{device: newDevice(t, TypeFilterWheel, number)}
}

// Names returns the filter names indexed by slot.
// Implements: GET /api/v1/filterwheel/{device_number}/names
func (fw *FilterWheel) Names(ctx context.Context) ([]string, error) {
	names, err := fw.getStrings(ctx, "names")
	if err != nil {
		return nil, fmt.Errorf("failed to get filter names: %w", err)
	}
	return names, nil
}

// Position returns the current slot, or -1 while the wheel is moving.
func (fw *FilterWheel) Position(ctx context.Context) (int, error) {
	return fw.getInt(ctx, "position")
}

// SetPosition starts moving to slot.
// Implements: PUT /api/v1/filterwheel/{device_number}/position
func (fw *FilterWheel) SetPosition(ctx context.Context, slot int) error {
	if slot < 0 {
		return fmt.Errorf("invalid filter slot %d", slot)
	}
	if err := fw.setInt(ctx, "position", "Position", slot); err != nil {
		return fmt.Errorf("failed to set filter position: %w", err)
	}
	return nil
}
