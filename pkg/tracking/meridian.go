package tracking

import (
	"fmt"
	"math"
)

// PierSide is the pointing state of a German equatorial mount, using the
// ASCOM convention.
type PierSide int

const (
	// PierUnknown means the mount cannot report its pointing state.
	PierUnknown PierSide = -1

	// PierEast is the normal pointing state: tube on the east side of the
	// pier, looking west. Targets past the meridian are tracked here.
	PierEast PierSide = 0

	// PierWest is the through-the-pole state: tube on the west side,
	// looking east. Targets crossing the meridian need a flip from here.
	PierWest PierSide = 1
)

func (p PierSide) String() string {
	switch p {
	case PierEast:
		return "East"
	case PierWest:
		return "West"
	case PierUnknown:
		return "Unknown"
	}
	return fmt.Sprintf("PierSide(%d)", int(p))
}

// NormalizeHourAngle wraps an hour angle into [-12, 12).
func NormalizeHourAngle(ha float64) float64 {
	ha = math.Mod(ha, 24.0)
	if ha >= 12.0 {
		ha -= 24.0
	} else if ha < -12.0 {
		ha += 24.0
	}
	return ha
}

// HourAngle returns the hour angle of a target at right ascension ra
// (hours) for local sidereal time lst (hours). Positive is west of the
// meridian.
func HourAngle(lst, ra float64) float64 {
	return NormalizeHourAngle(lst - ra)
}

// FlipRequired reports whether a mount tracking at hour angle ha has passed
// limit hours west of the meridian while still on the east-looking side.
// When the pier side is unknown, only the hour angle is considered.
func FlipRequired(ha, limit float64, side PierSide) bool {
	if side == PierEast {
		return false
	}
	return NormalizeHourAngle(ha) >= limit
}
