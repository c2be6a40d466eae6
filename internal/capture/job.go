package capture

import (
	"fmt"
)

// DefaultADUTolerance is used when a flat job does not set its own tolerance.
const DefaultADUTolerance = 1000

// Calibration describes how a calibration frame is illuminated and exposed.
type Calibration struct {
	Source       FlatSource
	Duration     FlatDuration
	TargetADU    float64
	ADUTolerance float64

	// Wall panel position, used with SourceWall.
	WallAltitude float64
	WallAzimuth  float64

	PreMountPark bool
	PreDomePark  bool
}

// FileTemplate controls where and under which name images are written.
type FileTemplate struct {
	// Prefix replaces the sequence target name in file names when set.
	Prefix         string
	Directory      string
	FilterInName   bool
	ExposureInName bool
	Timestamp      bool
}

// SequenceJob is one line of the capture queue: Count frames of one kind.
type SequenceJob struct {
	ID int

	Exposure  float64
	Count     int
	Completed int
	// Delay is the pause between frames in seconds.
	Delay     float64
	FrameType FrameType
	// Filter is the filter name; empty leaves the wheel untouched.
	Filter string

	TargetTemperature *float64
	RotatorAngle      *float64

	Frame       FrameSettings
	Calibration Calibration
	File        FileTemplate
	Upload      UploadMode

	// PostCaptureScript runs after every stored frame with the image path
	// as its argument. Empty falls back to the configured script.
	PostCaptureScript string

	State JobState

	nextIndex   int
	indexPrefix string
}

// Validate checks the job's static invariants.
func (j *SequenceJob) Validate() error {
	if j.Count <= 0 {
		return fmt.Errorf("%w: count must be positive, got %d", ErrInvalidJob, j.Count)
	}
	if j.Completed < 0 || j.Completed > j.Count {
		return fmt.Errorf("%w: completed %d outside 0..%d", ErrInvalidJob, j.Completed, j.Count)
	}
	if j.Exposure < 0 {
		return fmt.Errorf("%w: negative exposure %v", ErrInvalidJob, j.Exposure)
	}
	if j.FrameType != FrameBias && j.Exposure == 0 && !j.usesADU() {
		return fmt.Errorf("%w: %s frames need an exposure time", ErrInvalidJob, j.FrameType)
	}
	if j.Delay < 0 {
		return fmt.Errorf("%w: negative delay %v", ErrInvalidJob, j.Delay)
	}
	if j.usesADU() {
		if j.Calibration.TargetADU <= 0 {
			return fmt.Errorf("%w: ADU flats need a positive target ADU", ErrInvalidJob)
		}
		if j.Calibration.ADUTolerance < 0 {
			return fmt.Errorf("%w: negative ADU tolerance", ErrInvalidJob)
		}
	}
	if j.Calibration.Source == SourceDarkCap && j.FrameType != FrameDark && j.FrameType != FrameBias {
		return fmt.Errorf("%w: dark cap source only applies to dark and bias frames", ErrInvalidJob)
	}
	return nil
}

// Remaining returns the number of frames still to capture.
func (j *SequenceJob) Remaining() int {
	return j.Count - j.Completed
}

// Clone returns a copy of the job detached from any queue.
func (j *SequenceJob) Clone() *SequenceJob {
	c := *j
	if j.TargetTemperature != nil {
		t := *j.TargetTemperature
		c.TargetTemperature = &t
	}
	if j.RotatorAngle != nil {
		a := *j.RotatorAngle
		c.RotatorAngle = &a
	}
	return &c
}

func (j *SequenceJob) usesADU() bool {
	return j.FrameType == FrameFlat && j.Calibration.Duration == DurationADU
}

func (j *SequenceJob) aduTolerance() float64 {
	if j.Calibration.ADUTolerance > 0 {
		return j.Calibration.ADUTolerance
	}
	return DefaultADUTolerance
}

// needsCalibration reports whether the job runs through the calibration stages.
func (j *SequenceJob) needsCalibration() bool {
	switch j.FrameType {
	case FrameFlat:
		return true
	case FrameDark, FrameBias:
		return j.Calibration.Source == SourceDarkCap || j.Calibration.PreMountPark || j.Calibration.PreDomePark
	}
	return false
}

// runnable reports whether the job can be picked up by Start.
func (j *SequenceJob) runnable() bool {
	return (j.State == JobIdle || j.State == JobAborted) && j.Completed < j.Count
}
