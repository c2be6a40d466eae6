package capture

// Event is anything delivered to the sequencer loop.
type Event interface {
	event()
}

// Image is a downloaded frame.
type Image struct {
	// Pixels holds Width*Height values in row-major order.
	Pixels  []int32
	Width   int
	Height  int
	MeanADU float64
	// HFR is the median half-flux radius if the adapter measured it, else 0.
	HFR   float64
	Frame FrameSettings
	// RemotePath is where the camera host stored the image, if it did.
	RemotePath string
}

type (
	// ExposureDone reports a finished and downloaded exposure.
	ExposureDone struct{ Image Image }

	// ExposureFailed reports a failed exposure. Fatal means the camera is gone.
	ExposureFailed struct {
		Err   error
		Fatal bool
	}

	FilterChanged      struct{ Err error }
	TemperatureReached struct{ Err error }
	RotatorReached     struct{ Err error }
	DustCapParked      struct{ Err error }
	DustCapUnparked    struct{ Err error }

	LightBoxChanged struct {
		Enabled bool
		Err     error
	}

	MountSlewDone struct{ Err error }
	MountFlipDone struct{ Err error }
	MountParked   struct{ Err error }
	DomeParked    struct{ Err error }

	// GuideDeviation is a guiding error sample in arcseconds.
	GuideDeviation struct{ RA, Dec float64 }

	DitherSettled struct{ Err error }
	GuideResumed  struct{ Err error }

	FocusComplete struct {
		HFR float64
		Err error
	}

	// HFRMeasured reports the star size of a captured frame.
	HFRMeasured struct{ HFR float64 }

	AlignDone struct{ Err error }

	// DeviceLost reports a disconnected device by role name ("camera", "mount", ...).
	DeviceLost struct {
		Role string
		Err  error
	}

	FileSaved struct {
		Path string
		Err  error
	}

	// ScriptDone reports the exit of a post-capture script.
	ScriptDone struct {
		Err error
		run uint64
	}

	// FocuserMoved reports the end of a relative focuser move.
	FocuserMoved struct{ Err error }

	timerFired struct {
		kind timerKind
		gen  uint64
	}
)

func (ExposureDone) event()       {}
func (ExposureFailed) event()     {}
func (FilterChanged) event()      {}
func (TemperatureReached) event() {}
func (RotatorReached) event()     {}
func (DustCapParked) event()      {}
func (DustCapUnparked) event()    {}
func (LightBoxChanged) event()    {}
func (MountSlewDone) event()      {}
func (MountFlipDone) event()      {}
func (MountParked) event()        {}
func (DomeParked) event()         {}
func (GuideDeviation) event()     {}
func (DitherSettled) event()      {}
func (GuideResumed) event()       {}
func (FocusComplete) event()      {}
func (HFRMeasured) event()        {}
func (AlignDone) event()          {}
func (DeviceLost) event()         {}
func (FileSaved) event()          {}
func (ScriptDone) event()         {}
func (FocuserMoved) event()       {}
func (timerFired) event()         {}
