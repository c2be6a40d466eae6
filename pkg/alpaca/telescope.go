package alpaca

import (
	"context"
	"fmt"
	"net/url"
)

// PierSide is the Alpaca SideOfPier value.
type PierSide int

const (
	PierUnknown PierSide = -1
	PierEast    PierSide = 0
	PierWest    PierSide = 1
)

// TelescopeStatus is a snapshot of the mount position.
type TelescopeStatus struct {
	Slewing        bool     `json:"slewing"`
	AtPark         bool     `json:"atPark"`
	Tracking       bool     `json:"tracking"`
	RightAscension float64  `json:"rightAscension"` // Hours
	Declination    float64  `json:"declination"`    // Degrees
	SiderealTime   float64  `json:"siderealTime"`   // Hours
	SideOfPier     PierSide `json:"sideOfPier"`
}

// Telescope is an Alpaca telescope (mount) client.
type Telescope struct {
	device
}

// NewTelescope creates a telescope client for the given device number.
func NewTelescope(t *Transport, number int) *Telescope {
	return &Telescope{device: newDevice(t, TypeTelescope, number)}
}

// RightAscension returns the mount RA in hours.
func (c *Telescope) RightAscension(ctx context.Context) (float64, error) {
	return c.getFloat(ctx, "rightascension")
}

// Declination returns the mount declination in degrees.
func (c *Telescope) Declination(ctx context.Context) (float64, error) {
	return c.getFloat(ctx, "declination")
}

// SiderealTime returns the mount's local apparent sidereal time in hours.
func (c *Telescope) SiderealTime(ctx context.Context) (float64, error) {
	return c.getFloat(ctx, "siderealtime")
}

// SideOfPier returns the pointing state of a German equatorial mount.
func (c *Telescope) SideOfPier(ctx context.Context) (PierSide, error) {
	v, err := c.getInt(ctx, "sideofpier")
	if err != nil {
		return PierUnknown, err
	}
	return PierSide(v), nil
}

// DestinationSideOfPier predicts the pier side after slewing to ra/dec.
// Implements: GET /api/v1/telescope/{device_number}/destinationsideofpier
func (c *Telescope) DestinationSideOfPier(ctx context.Context, ra, dec float64) (PierSide, error) {
	params := url.Values{}
	params.Set("RightAscension", formatFloat(ra))
	params.Set("Declination", formatFloat(dec))
	resp, err := c.t.get(ctx, c.deviceType, c.number, "destinationsideofpier", params)
	if err != nil {
		return PierUnknown, err
	}
	var v int
	if err := resp.decode(&v); err != nil {
		return PierUnknown, err
	}
	return PierSide(v), nil
}

// Slewing reports whether the mount is moving.
func (c *Telescope) Slewing(ctx context.Context) (bool, error) {
	return c.getBool(ctx, "slewing")
}

// AtPark reports whether the mount is parked.
func (c *Telescope) AtPark(ctx context.Context) (bool, error) {
	return c.getBool(ctx, "atpark")
}

// Tracking returns the tracking state.
func (c *Telescope) Tracking(ctx context.Context) (bool, error) {
	return c.getBool(ctx, "tracking")
}

// SetTracking enables or disables sidereal tracking.
func (c *Telescope) SetTracking(ctx context.Context, enabled bool) error {
	return c.setBool(ctx, "tracking", "Tracking", enabled)
}

// SlewToCoordinatesAsync starts a slew to ra (hours) and dec (degrees).
// Implements: PUT /api/v1/telescope/{device_number}/slewtocoordinatesasync
func (c *Telescope) SlewToCoordinatesAsync(ctx context.Context, ra, dec float64) error {
	params := url.Values{}
	params.Set("RightAscension", formatFloat(ra))
	params.Set("Declination", formatFloat(dec))
	if err := c.call(ctx, "slewtocoordinatesasync", params); err != nil {
		return fmt.Errorf("failed to slew telescope: %w", err)
	}
	return nil
}

// SlewToAltAzAsync starts a slew to a horizontal position in degrees.
func (c *Telescope) SlewToAltAzAsync(ctx context.Context, altitude, azimuth float64) error {
	params := url.Values{}
	params.Set("Azimuth", formatFloat(azimuth))
	params.Set("Altitude", formatFloat(altitude))
	if err := c.call(ctx, "slewtoaltazasync", params); err != nil {
		return fmt.Errorf("failed to slew telescope: %w", err)
	}
	return nil
}

// AbortSlew immediately stops any telescope motion.
func (c *Telescope) AbortSlew(ctx context.Context) error {
	if err := c.call(ctx, "abortslew", nil); err != nil {
		return fmt.Errorf("failed to abort slew: %w", err)
	}
	return nil
}

// Park moves the mount to its park position.
func (c *Telescope) Park(ctx context.Context) error {
	if err := c.call(ctx, "park", nil); err != nil {
		return fmt.Errorf("failed to park telescope: %w", err)
	}
	return nil
}

// Unpark releases the mount from its park position.
func (c *Telescope) Unpark(ctx context.Context) error {
	if err := c.call(ctx, "unpark", nil); err != nil {
		return fmt.Errorf("failed to unpark telescope: %w", err)
	}
	return nil
}

// Status reads the mount position in one pass.
func (c *Telescope) Status(ctx context.Context) (*TelescopeStatus, error) {
	var s TelescopeStatus
	var err error
	if s.RightAscension, err = c.RightAscension(ctx); err != nil {
		return nil, err
	}
	if s.Declination, err = c.Declination(ctx); err != nil {
		return nil, err
	}
	if s.Slewing, err = c.Slewing(ctx); err != nil {
		return nil, err
	}
	// Optional members
	s.AtPark, _ = c.AtPark(ctx)
	s.Tracking, _ = c.Tracking(ctx)
	s.SiderealTime, _ = c.SiderealTime(ctx)
	if s.SideOfPier, err = c.SideOfPier(ctx); err != nil {
		s.SideOfPier = PierUnknown
	}
	return &s, nil
}
