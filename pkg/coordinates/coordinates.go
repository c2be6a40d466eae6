// Package coordinates holds the sky geometry an observing site needs:
// sidereal time, conversion between horizontal and equatorial positions,
// and the sun's altitude for scheduling twilight flats.
package coordinates

import (
	"math"
	"time"
)

const (
	deg = math.Pi / 180.0

	// Julian date of the J2000.0 epoch and of the Unix epoch.
	j2000     = 2451545.0
	unixEpoch = 2440587.5
)

// Observer is an observing site. Latitude and Longitude are in degrees,
// north and east positive. Elevation is in meters.
type Observer struct {
	Latitude  float64
	Longitude float64
	Elevation float64
}

// NewObserver builds an Observer from degrees and meters.
func NewObserver(latitude, longitude, elevation float64) Observer {
	return Observer{Latitude: latitude, Longitude: longitude, Elevation: elevation}
}

// AltAz is a horizontal position in degrees. Azimuth runs from north
// through east.
type AltAz struct {
	Alt float64
	Az  float64
}

// RADec is an equatorial position, RA in hours and Dec in degrees.
type RADec struct {
	RA  float64
	Dec float64
}

// LocalSiderealTime returns the right ascension on the site's meridian at
// t, in hours [0, 24).
func (o Observer) LocalSiderealTime(t time.Time) float64 {
	gmst := wrap(18.697374558+24.06570982441908*daysSinceJ2000(t), 24)
	return wrap(gmst+o.Longitude/15.0, 24)
}

// ToEquatorial converts a horizontal position seen from the site at t.
func (o Observer) ToEquatorial(h AltAz, t time.Time) RADec {
	lat := o.Latitude * deg
	alt, az := h.Alt*deg, h.Az*deg

	ha := math.Atan2(-math.Sin(az)*math.Cos(alt),
		math.Cos(lat)*math.Sin(alt)-math.Sin(lat)*math.Cos(alt)*math.Cos(az))
	dec := math.Asin(math.Sin(lat)*math.Sin(alt) + math.Cos(lat)*math.Cos(alt)*math.Cos(az))

	return RADec{
		RA:  wrap(o.LocalSiderealTime(t)-ha/deg/15.0, 24),
		Dec: dec / deg,
	}
}

// ToHorizontal converts an equatorial position to where it appears from
// the site at t. Refraction is not applied.
func (o Observer) ToHorizontal(e RADec, t time.Time) AltAz {
	lat := o.Latitude * deg
	dec := e.Dec * deg
	ha := (o.LocalSiderealTime(t) - e.RA) * 15.0 * deg

	alt := math.Asin(math.Sin(dec)*math.Sin(lat) + math.Cos(dec)*math.Cos(lat)*math.Cos(ha))
	az := math.Atan2(-math.Sin(ha)*math.Cos(dec),
		math.Sin(dec)*math.Cos(lat)-math.Cos(dec)*math.Sin(lat)*math.Cos(ha))

	return AltAz{Alt: alt / deg, Az: wrap(az/deg, 360)}
}

// julianDate includes the sub-second part of t.
func julianDate(t time.Time) float64 {
	return float64(t.UnixNano())/float64(24*time.Hour) + unixEpoch
}

func daysSinceJ2000(t time.Time) float64 {
	return julianDate(t) - j2000
}

// wrap reduces x into [0, period).
func wrap(x, period float64) float64 {
	x = math.Mod(x, period)
	if x < 0 {
		x += period
	}
	return x
}
