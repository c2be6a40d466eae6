package capture

import "github.com/unklstewy/skycapture/pkg/tracking"

// Device interfaces used by the sequencer. Every command returns immediately;
// completion is reported later as an Event through the EventSink the device
// adapter was given. A returned error means the command was refused outright.

// ExposureRequest describes one exposure.
type ExposureRequest struct {
	Duration  float64
	FrameType FrameType
	Frame     FrameSettings
	// Trial marks flat calibration exposures that are never stored.
	Trial bool
}

// Camera is the imaging camera. Completion: ExposureDone or ExposureFailed.
type Camera interface {
	ID() string
	StartExposure(req ExposureRequest) error
	AbortExposure() error
	// ExposureLimits returns the shortest and longest supported exposure in seconds.
	ExposureLimits() (min, max float64)
	HasCooler() bool
	SetCoolerEnabled(enabled bool) error
	// SetTemperature starts regulation. Completion: TemperatureReached.
	SetTemperature(celsius float64) error
}

// FilterWheel completion: FilterChanged.
type FilterWheel interface {
	FilterNames() []string
	SetFilter(slot int) error
}

// Mount is the telescope mount.
type Mount interface {
	Coordinates() (Coordinates, error)
	// HourAngle returns the current hour angle in hours, normalized to -12..12.
	HourAngle() (float64, error)
	PierSide() (tracking.PierSide, error)
	// Slew completion: MountSlewDone.
	Slew(target Coordinates) error
	// SlewAltAz completion: MountSlewDone.
	SlewAltAz(altitude, azimuth float64) error
	// Flip completion: MountFlipDone.
	Flip(target Coordinates) error
	// Park completion: MountParked.
	Park() error
	AbortSlew() error
}

// Dome completion: DomeParked.
type Dome interface {
	Park() error
}

// DustCap completion: DustCapParked / DustCapUnparked.
type DustCap interface {
	IsParked() bool
	Park() error
	Unpark() error
}

// LightBox completion: LightBoxChanged.
type LightBox interface {
	IsLightEnabled() bool
	SetLightEnabled(enabled bool) error
}

// Rotator completion: RotatorReached.
type Rotator interface {
	SetAngle(degrees float64) error
}

// Focuser runs an autofocus routine. Completion: FocusComplete.
type Focuser interface {
	// RequestAutofocus starts focusing. A zero limit only measures the current HFR.
	RequestAutofocus(hfrLimit float64) error
	AbortAutofocus() error
	// MoveRelative shifts the focuser by steps. Completion: FocuserMoved.
	MoveRelative(steps int) error
}

// Guider is the autoguider.
type Guider interface {
	IsGuiding() bool
	// Dither completion: DitherSettled.
	Dither() error
	Suspend() error
	// Resume completion: GuideResumed.
	Resume() error
}

// Aligner re-centers the target after a flip. Completion: AlignDone.
type Aligner interface {
	Realign(target Coordinates) error
	Abort() error
}

// Devices is the set of bound hardware. Nil members are absent and the
// features that need them are skipped or rejected.
type Devices struct {
	Camera      Camera
	FilterWheel FilterWheel
	Mount       Mount
	Dome        Dome
	DustCap     DustCap
	LightBox    LightBox
	Rotator     Rotator
	Focuser     Focuser
	Guider      Guider
	Aligner     Aligner
}

// EventSink accepts completion events from device adapters. It is safe for
// concurrent use.
type EventSink interface {
	Post(ev Event)
}
