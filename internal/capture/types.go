package capture

import (
	"fmt"
	"strings"
)

// FrameType is the kind of image a job produces.
type FrameType int

const (
	FrameLight FrameType = iota
	FrameBias
	FrameDark
	FrameFlat
)

var frameTypeNames = map[FrameType]string{
	FrameLight: "Light",
	FrameBias:  "Bias",
	FrameDark:  "Dark",
	FrameFlat:  "Flat",
}

func (f FrameType) String() string {
	if name, ok := frameTypeNames[f]; ok {
		return name
	}
	return fmt.Sprintf("FrameType(%d)", int(f))
}

// ParseFrameType converts a frame type name (case-insensitive) to a FrameType.
func ParseFrameType(s string) (FrameType, error) {
	for ft, name := range frameTypeNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return ft, nil
		}
	}
	return 0, fmt.Errorf("unknown frame type %q", s)
}

// JobState is the per-job lifecycle state. Only the sequencer changes it.
type JobState int

const (
	JobIdle JobState = iota
	JobInProgress
	JobAborted
	JobComplete
	JobError
)

func (s JobState) String() string {
	switch s {
	case JobIdle:
		return "Idle"
	case JobInProgress:
		return "In Progress"
	case JobAborted:
		return "Aborted"
	case JobComplete:
		return "Complete"
	case JobError:
		return "Error"
	default:
		return fmt.Sprintf("JobState(%d)", int(s))
	}
}

// Status is the overall state of the sequencer.
type Status int

const (
	StatusIdle Status = iota
	StatusPaused
	StatusCapturing
	StatusSuspended
	StatusCalibratingFocus
	StatusCalibratingFlat
	StatusMeridianFlipping
	StatusComplete
	StatusAborted
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusPaused:
		return "Paused"
	case StatusCapturing:
		return "Capturing"
	case StatusSuspended:
		return "Suspended"
	case StatusCalibratingFocus:
		return "Focusing"
	case StatusCalibratingFlat:
		return "Calibrating"
	case StatusMeridianFlipping:
		return "Meridian Flipping"
	case StatusComplete:
		return "Complete"
	case StatusAborted:
		return "Aborted"
	case StatusError:
		return "Error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// active reports whether the status belongs to a running sequence.
func (s Status) active() bool {
	switch s {
	case StatusPaused, StatusCapturing, StatusSuspended, StatusCalibratingFocus,
		StatusCalibratingFlat, StatusMeridianFlipping:
		return true
	}
	return false
}

// UploadMode selects where captured images are stored.
type UploadMode int

const (
	// UploadClient writes images locally through the sequencer.
	UploadClient UploadMode = iota
	// UploadLocal leaves images on the camera host.
	UploadLocal
	// UploadBoth does both.
	UploadBoth
)

var uploadModeNames = map[UploadMode]string{
	UploadClient: "Client",
	UploadLocal:  "Local",
	UploadBoth:   "Both",
}

func (u UploadMode) String() string {
	if name, ok := uploadModeNames[u]; ok {
		return name
	}
	return fmt.Sprintf("UploadMode(%d)", int(u))
}

// ParseUploadMode converts an upload mode name (case-insensitive).
// An empty string selects UploadClient.
func ParseUploadMode(s string) (UploadMode, error) {
	if strings.TrimSpace(s) == "" {
		return UploadClient, nil
	}
	for mode, name := range uploadModeNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("unknown upload mode %q", s)
}

// FlatSource is the illumination used for calibration frames.
type FlatSource int

const (
	SourceManual FlatSource = iota
	SourceDustCap
	SourceLightBox
	SourceWall
	SourceDawnDusk
	SourceDarkCap
)

var flatSourceNames = map[FlatSource]string{
	SourceManual:   "Manual",
	SourceDustCap:  "DustCap",
	SourceLightBox: "LightBox",
	SourceWall:     "Wall",
	SourceDawnDusk: "DawnDusk",
	SourceDarkCap:  "DarkCap",
}

func (f FlatSource) String() string {
	if name, ok := flatSourceNames[f]; ok {
		return name
	}
	return fmt.Sprintf("FlatSource(%d)", int(f))
}

// ParseFlatSource converts a source name (case-insensitive). Empty means Manual.
func ParseFlatSource(s string) (FlatSource, error) {
	if strings.TrimSpace(s) == "" {
		return SourceManual, nil
	}
	for src, name := range flatSourceNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return src, nil
		}
	}
	return 0, fmt.Errorf("unknown calibration source %q", s)
}

// FlatDuration selects how flat exposure time is determined.
type FlatDuration int

const (
	DurationManual FlatDuration = iota
	DurationADU
)

func (d FlatDuration) String() string {
	if d == DurationADU {
		return "ADU"
	}
	return "Manual"
}

// ParseFlatDuration converts "Manual" or "ADU" (case-insensitive). Empty means Manual.
func ParseFlatDuration(s string) (FlatDuration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "manual":
		return DurationManual, nil
	case "adu":
		return DurationADU, nil
	}
	return 0, fmt.Errorf("unknown flat duration mode %q", s)
}

// FrameSettings is the sensor region and binning used for an exposure.
// The zero value means "use the last confirmed settings for this camera".
type FrameSettings struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
	BinX   int `json:"bin_x" yaml:"bin_x"`
	BinY   int `json:"bin_y" yaml:"bin_y"`
}

// IsZero reports whether no frame geometry was specified.
func (f FrameSettings) IsZero() bool {
	return f == FrameSettings{}
}

// Coordinates is an equatorial position: RA in hours, Dec in degrees.
type Coordinates struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}
