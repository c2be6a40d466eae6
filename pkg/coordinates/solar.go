package coordinates

import (
	"math"
	"time"
)

// SunPosition is the apparent position of the sun from a site.
type SunPosition struct {
	Altitude float64
	Azimuth  float64
	Time     time.Time
}

// sunEquatorial is the low precision solar ephemeris from the Astronomical
// Almanac, good to about one arcminute for several decades around J2000.
func sunEquatorial(t time.Time) RADec {
	n := daysSinceJ2000(t)
	meanLong := wrap(280.460+0.9856474*n, 360)
	anomaly := wrap(357.528+0.9856003*n, 360) * deg
	lambda := (meanLong + 1.915*math.Sin(anomaly) + 0.020*math.Sin(2*anomaly)) * deg
	obliquity := (23.439 - 0.0000004*n) * deg

	ra := math.Atan2(math.Cos(obliquity)*math.Sin(lambda), math.Cos(lambda))
	dec := math.Asin(math.Sin(obliquity) * math.Sin(lambda))
	return RADec{RA: wrap(ra/deg/15.0, 24), Dec: dec / deg}
}

// SunAt returns the sun's position from observer at t, with refraction
// applied near the horizon.
func SunAt(observer Observer, t time.Time) SunPosition {
	h := observer.ToHorizontal(sunEquatorial(t), t)
	if h.Alt > -1 {
		// Saemundsson's refraction, in arcminutes.
		h.Alt += 1.02 / math.Tan((h.Alt+10.3/(h.Alt+5.11))*deg) / 60.0
	}
	return SunPosition{Altitude: h.Alt, Azimuth: h.Az, Time: t}
}

// AboveHorizon counts the sun's upper limb.
func (sp SunPosition) AboveHorizon() bool {
	return sp.Altitude > -0.833
}

// Twilight classifies the sky brightness by the sun's altitude.
type Twilight int

const (
	TwilightDay          Twilight = iota // sun above the horizon
	TwilightCivil                        // 0° to -6°
	TwilightNautical                     // -6° to -12°
	TwilightAstronomical                 // -12° to -18°
	TwilightNight                        // below -18°
)

func (tw Twilight) String() string {
	switch tw {
	case TwilightDay:
		return "day"
	case TwilightCivil:
		return "civil twilight"
	case TwilightNautical:
		return "nautical twilight"
	case TwilightAstronomical:
		return "astronomical twilight"
	case TwilightNight:
		return "night"
	}
	return "unknown"
}

// TwilightFor returns the twilight phase for a sun altitude in degrees.
func TwilightFor(sunAltitude float64) Twilight {
	switch {
	case sunAltitude > -0.833:
		return TwilightDay
	case sunAltitude > -6:
		return TwilightCivil
	case sunAltitude > -12:
		return TwilightNautical
	case sunAltitude > -18:
		return TwilightAstronomical
	}
	return TwilightNight
}

// Sun altitude range, in degrees, in which the twilight sky is even and
// bright enough for dawn/dusk flats.
const (
	SkyFlatSunHigh = -2.0
	SkyFlatSunLow  = -10.0
)

// InSkyFlatWindow reports whether the sky is usable for flats.
func (sp SunPosition) InSkyFlatWindow() bool {
	return sp.Altitude <= SkyFlatSunHigh && sp.Altitude >= SkyFlatSunLow
}

// NextSkyFlatWindow finds the next dawn or dusk flat window starting at or
// after from, searching one day ahead at one-minute resolution. ok is false
// at latitudes where the sun never enters the window.
func NextSkyFlatWindow(observer Observer, from time.Time) (start, end time.Time, ok bool) {
	const step = time.Minute
	limit := from.Add(24 * time.Hour)

	t := from
	for ; t.Before(limit); t = t.Add(step) {
		if SunAt(observer, t).InSkyFlatWindow() {
			break
		}
	}
	if !t.Before(limit) {
		return time.Time{}, time.Time{}, false
	}
	start = t
	for t = t.Add(step); t.Before(start.Add(12 * time.Hour)); t = t.Add(step) {
		if !SunAt(observer, t).InSkyFlatWindow() {
			break
		}
	}
	return start, t, true
}
