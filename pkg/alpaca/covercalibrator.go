package alpaca

import (
	"context"
	"fmt"
)

// CoverState is the Alpaca CoverState value.
type CoverState int

const (
	CoverNotPresent CoverState = iota
	CoverClosed
	CoverMoving
	CoverOpen
	CoverUnknown
	CoverError
)

func (s CoverState) String() string {
	switch s {
	case CoverNotPresent:
		return "NotPresent"
	case CoverClosed:
		return "Closed"
	case CoverMoving:
		return "Moving"
	case CoverOpen:
		return "Open"
	case CoverUnknown:
		return "Unknown"
	case CoverError:
		return "Error"
	}
	return fmt.Sprintf("CoverState(%d)", int(s))
}

// CalibratorState is the Alpaca CalibratorState value.
type CalibratorState int

const (
	CalibratorNotPresent CalibratorState = iota
	CalibratorOff
	CalibratorNotReady
	CalibratorReady
	CalibratorUnknown
	CalibratorError
)

// CoverCalibrator is an Alpaca cover/calibrator client: a motorised dust
// cap with an optional flat panel.
type CoverCalibrator struct {
	device
}

// NewCoverCalibrator creates a cover calibrator client for the given device number.
func NewCoverCalibrator(t *Transport, number int) *CoverCalibrator {
	return &CoverCalibrator{device: newDevice(t, TypeCoverCalibrator, number)}
}

// CoverState returns the cover position.
func (c *CoverCalibrator) CoverState(ctx context.Context) (CoverState, error) {
	v, err := c.getInt(ctx, "coverstate")
	return CoverState(v), err
}

// CalibratorState returns the panel state.
func (c *CoverCalibrator) CalibratorState(ctx context.Context) (CalibratorState, error) {
	v, err := c.getInt(ctx, "calibratorstate")
	return CalibratorState(v), err
}

// MaxBrightness returns the highest panel brightness.
func (c *CoverCalibrator) MaxBrightness(ctx context.Context) (int, error) {
	return c.getInt(ctx, "maxbrightness")
}

// OpenCover starts opening the cover.
func (c *CoverCalibrator) OpenCover(ctx context.Context) error {
	if err := c.call(ctx, "opencover", nil); err != nil {
		return fmt.Errorf("failed to open cover: %w", err)
	}
	return nil
}

// CloseCover starts closing the cover.
func (c *CoverCalibrator) CloseCover(ctx context.Context) error {
	if err := c.call(ctx, "closecover", nil); err != nil {
		return fmt.Errorf("failed to close cover: %w", err)
	}
	return nil
}

// HaltCover stops cover motion.
func (c *CoverCalibrator) HaltCover(ctx context.Context) error {
	return c.call(ctx, "haltcover", nil)
}

// CalibratorOn switches the panel on at brightness.
// Implements: PUT /api/v1/covercalibrator/{device_number}/calibratoron
func (c *CoverCalibrator) CalibratorOn(ctx context.Context, brightness int) error {
	if err := c.setInt(ctx, "calibratoron", "Brightness", brightness); err != nil {
		return fmt.Errorf("failed to switch calibrator on: %w", err)
	}
	return nil
}

// CalibratorOff switches the panel off.
func (c *CoverCalibrator) CalibratorOff(ctx context.Context) error {
	if err := c.call(ctx, "calibratoroff", nil); err != nil {
		return fmt.Errorf("failed to switch calibrator off: %w", err)
	}
	return nil
}
