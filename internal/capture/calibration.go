package capture

import (
	"fmt"
	"math"
)

// CalibrationStage is the position in the pre-capture pipeline for
// calibration frames. Stages only move forward within one job.
type CalibrationStage int

const (
	CalNone CalibrationStage = iota
	CalDustcapParking
	CalDustcapParked
	CalLightboxOn
	CalSlewing
	CalSlewComplete
	CalMountParking
	CalMountParked
	CalDomeParking
	CalDomeParked
	CalPrecaptureComplete
	CalCalibrating
	CalCalibrationComplete
	CalCapturing
	CalDustcapUnparking
	CalDustcapUnparked
)

var calibrationStageNames = [...]string{
	"None", "Dust cap parking", "Dust cap parked", "Light box on", "Slewing",
	"Slew complete", "Mount parking", "Mount parked", "Dome parking", "Dome parked",
	"Precapture complete", "Calibrating", "Calibration complete", "Capturing",
	"Dust cap unparking", "Dust cap unparked",
}

func (c CalibrationStage) String() string {
	if c < 0 || int(c) >= len(calibrationStageNames) {
		return fmt.Sprintf("CalibrationStage(%d)", int(c))
	}
	return calibrationStageNames[c]
}

// precapturePipeline lists the stages that issue work, in order. Stages in
// between are the completion states of the previous one.
var precapturePipeline = []CalibrationStage{
	CalDustcapParking,
	CalLightboxOn,
	CalSlewing,
	CalMountParking,
	CalDomeParking,
	CalPrecaptureComplete,
	CalCalibrating,
	CalCalibrationComplete,
	CalCapturing,
}

type aduSample struct {
	exposure float64
	adu      float64
}

type calibration struct {
	jobID int
	stage CalibrationStage
	// waiting is set while a device command of the current stage is outstanding.
	waiting bool

	// parkedCap and litBox record hardware the sequencer changed and must restore.
	parkedCap bool
	litBox    bool
	finishing bool

	samples  []aduSample
	trials   int
	exposure float64
}

func (s *Sequencer) setCalibrationStage(stage CalibrationStage) {
	s.cal.stage = stage
	s.log.Debug("calibration stage", "stage", stage.String())
	s.emit(Update{Kind: UpdateCalibration, Stage: stage.String(), JobID: s.cal.jobID})
}

func (s *Sequencer) beginCalibration(job *SequenceJob) {
	s.cal.jobID = job.ID
	s.setStatus(StatusCalibratingFlat)
	s.advanceCalibration(job)
}

// calibrationStepApplies reports whether a pipeline stage has work to do for
// job with the bound hardware.
func (s *Sequencer) calibrationStepApplies(job *SequenceJob, stage CalibrationStage) bool {
	src := job.Calibration.Source
	switch stage {
	case CalDustcapParking:
		return s.devices.DustCap != nil && (src == SourceDustCap || src == SourceDarkCap) && !s.devices.DustCap.IsParked()
	case CalLightboxOn:
		return job.FrameType == FrameFlat && s.devices.LightBox != nil &&
			(src == SourceDustCap || src == SourceLightBox || src == SourceWall) &&
			!s.devices.LightBox.IsLightEnabled()
	case CalSlewing:
		return src == SourceWall && s.devices.Mount != nil
	case CalMountParking:
		return job.Calibration.PreMountPark && s.devices.Mount != nil
	case CalDomeParking:
		return job.Calibration.PreDomePark && s.devices.Dome != nil
	case CalCalibrating:
		return job.usesADU()
	}
	return true
}

// advanceCalibration moves to the next applicable stage and issues its
// command, or starts capturing once the pipeline is through.
func (s *Sequencer) advanceCalibration(job *SequenceJob) {
	for _, next := range precapturePipeline {
		if next <= s.cal.stage || !s.calibrationStepApplies(job, next) {
			continue
		}
		s.setCalibrationStage(next)

		var err error
		switch next {
		case CalDustcapParking:
			s.info("parking dust cap")
			s.cal.parkedCap = true
			err = s.devices.DustCap.Park()
		case CalLightboxOn:
			s.info("turning light box on")
			s.cal.litBox = true
			err = s.devices.LightBox.SetLightEnabled(true)
		case CalSlewing:
			s.info("slewing to flat panel", "alt", job.Calibration.WallAltitude, "az", job.Calibration.WallAzimuth)
			err = s.devices.Mount.SlewAltAz(job.Calibration.WallAltitude, job.Calibration.WallAzimuth)
		case CalMountParking:
			s.info("parking mount")
			err = s.devices.Mount.Park()
		case CalDomeParking:
			s.info("parking dome")
			err = s.devices.Dome.Park()
		case CalPrecaptureComplete, CalCalibrationComplete:
			continue
		case CalCalibrating:
			s.cal.samples = nil
			s.cal.trials = 0
			lo, hi := s.devices.Camera.ExposureLimits()
			start := job.Exposure
			if start <= 0 {
				start = 1
			}
			s.cal.exposure = clampExposure(start, lo, hi)
			s.info("calibrating flat exposure", "target_adu", job.Calibration.TargetADU, "first_trial", s.cal.exposure)
			s.captureOne()
			return
		case CalCapturing:
			s.setStatus(StatusCapturing)
			s.captureOne()
			return
		}
		if err != nil {
			s.fail(fmt.Errorf("%w: %s: %v", ErrCommandRejected, next, err))
			return
		}
		s.cal.waiting = true
		return
	}
}

// completeCalibrationStep accepts the completion event for stage.
func (s *Sequencer) completeCalibrationStep(stage, done CalibrationStage, err error) {
	if s.cal.stage != stage || !s.cal.waiting {
		return
	}
	s.cal.waiting = false
	if err != nil {
		s.fail(fmt.Errorf("%w: %s: %v", ErrCommandRejected, stage, err))
		return
	}
	job := s.activeJob()
	if job == nil {
		return
	}
	if done != stage {
		s.setCalibrationStage(done)
	}
	s.advanceCalibration(job)
}

func (s *Sequencer) onDustCapParked(err error) {
	s.completeCalibrationStep(CalDustcapParking, CalDustcapParked, err)
}

func (s *Sequencer) onLightBoxChanged(e LightBoxChanged) {
	if !e.Enabled {
		return
	}
	s.completeCalibrationStep(CalLightboxOn, CalLightboxOn, e.Err)
}

func (s *Sequencer) onWallSlewDone(err error) {
	s.completeCalibrationStep(CalSlewing, CalSlewComplete, err)
}

func (s *Sequencer) onMountParked(err error) {
	s.completeCalibrationStep(CalMountParking, CalMountParked, err)
}

func (s *Sequencer) onDomeParked(err error) {
	s.completeCalibrationStep(CalDomeParking, CalDomeParked, err)
}

// onCalibrationFrame evaluates one ADU trial and issues the next one.
// Trial images are never stored.
func (s *Sequencer) onCalibrationFrame(job *SequenceJob, img Image) {
	s.cal.trials++
	s.cal.samples = append(s.cal.samples, aduSample{exposure: s.cal.exposure, adu: img.MeanADU})

	target := job.Calibration.TargetADU
	s.info("flat trial", "exposure", s.cal.exposure, "adu", img.MeanADU, "target", target, "trial", s.cal.trials)
	s.emit(Update{Kind: UpdateCalibration, Stage: s.cal.stage.String(), JobID: job.ID, Exposure: s.cal.exposure, ADU: img.MeanADU})

	if math.Abs(img.MeanADU-target) <= job.aduTolerance() {
		s.info("flat exposure calibrated", "exposure", s.cal.exposure)
		s.setCalibrationStage(CalCalibrationComplete)
		if err := s.reindexCalibratedJob(job); err != nil {
			s.fail(fmt.Errorf("%w: %v", ErrFileWriteFailed, err))
			return
		}
		s.advanceCalibration(job)
		return
	}

	maxTrials := s.cfg.FlatMaxTrials
	if maxTrials > 0 && s.cal.trials >= maxTrials {
		s.fail(fmt.Errorf("%w: ADU %.0f after %d trials, target %.0f", ErrCalibrationFailed, img.MeanADU, s.cal.trials, target))
		return
	}

	lo, hi := s.devices.Camera.ExposureLimits()
	s.cal.exposure = nextFlatExposure(s.cal.samples, target, lo, hi)
	s.captureOne()
}

// beginCalibrationRestore reverts hardware the sequencer changed for the
// finished job, then moves on to the next job.
func (s *Sequencer) beginCalibrationRestore() {
	if s.cal.litBox {
		s.cal.litBox = false
		if s.devices.LightBox != nil {
			s.info("turning light box off")
			if err := s.devices.LightBox.SetLightEnabled(false); err != nil {
				s.warn("light box off failed", "error", err)
			}
		}
	}
	if s.cal.parkedCap && s.devices.DustCap != nil {
		s.setCalibrationStage(CalDustcapUnparking)
		s.info("unparking dust cap")
		if err := s.devices.DustCap.Unpark(); err != nil {
			s.warn("unpark dust cap failed", "error", err)
			s.cal.parkedCap = false
			s.setCalibrationStage(CalDustcapUnparked)
			s.finishJob()
			return
		}
		s.cal.waiting = true
		return
	}
	s.cal.parkedCap = false
	s.finishJob()
}

func (s *Sequencer) onDustCapUnparked(err error) {
	if s.cal.stage != CalDustcapUnparking || !s.cal.waiting {
		return
	}
	s.cal.waiting = false
	s.cal.parkedCap = false
	if err != nil {
		s.warn("unpark dust cap failed", "error", err)
	}
	s.setCalibrationStage(CalDustcapUnparked)
	if s.cal.finishing {
		s.finishJob()
	}
}

// restoreCalibrationHardware reverts changed hardware without waiting for it.
func (s *Sequencer) restoreCalibrationHardware() {
	if s.cal.litBox && s.devices.LightBox != nil {
		if err := s.devices.LightBox.SetLightEnabled(false); err != nil {
			s.log.Warn("light box off failed", "error", err)
		}
	}
	if s.cal.parkedCap && s.devices.DustCap != nil {
		if err := s.devices.DustCap.Unpark(); err != nil {
			s.log.Warn("unpark dust cap failed", "error", err)
		}
	}
	s.cal.litBox = false
	s.cal.parkedCap = false
}

// fitADU fits adu = slope*exposure + intercept by least squares.
func fitADU(samples []aduSample) (slope, intercept float64, ok bool) {
	n := float64(len(samples))
	if n < 2 {
		return 0, 0, false
	}
	var sx, sy, sxx, sxy float64
	for _, p := range samples {
		sx += p.exposure
		sy += p.adu
		sxx += p.exposure * p.exposure
		sxy += p.exposure * p.adu
	}
	denom := n*sxx - sx*sx
	if denom == 0 {
		return 0, 0, false
	}
	slope = (n*sxy - sx*sy) / denom
	intercept = (sy - slope*sx) / n
	return slope, intercept, true
}

// nextFlatExposure predicts the exposure that reaches target ADU. With one
// sample it scales proportionally; with more it solves the fitted line.
func nextFlatExposure(samples []aduSample, target, lo, hi float64) float64 {
	last := samples[len(samples)-1]
	next := last.exposure
	if slope, intercept, ok := fitADU(samples); ok && slope > 0 {
		next = (target - intercept) / slope
	} else if last.adu > 0 {
		next = last.exposure * target / last.adu
	}
	return clampExposure(next, lo, hi)
}

func clampExposure(v, lo, hi float64) float64 {
	if hi > 0 && v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
