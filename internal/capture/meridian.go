package capture

import (
	"fmt"
	"time"

	"github.com/unklstewy/skycapture/pkg/tracking"
)

// MeridianFlipStage is the position in a meridian flip.
type MeridianFlipStage int

const (
	FlipNone MeridianFlipStage = iota
	FlipInitiated
	FlipFlipping
	FlipSlewing
	FlipAligning
	FlipGuiding
)

func (m MeridianFlipStage) String() string {
	switch m {
	case FlipNone:
		return "None"
	case FlipInitiated:
		return "Initiated"
	case FlipFlipping:
		return "Flipping"
	case FlipSlewing:
		return "Slewing"
	case FlipAligning:
		return "Aligning"
	case FlipGuiding:
		return "Guiding"
	}
	return fmt.Sprintf("MeridianFlipStage(%d)", int(m))
}

type meridianFlip struct {
	stage  MeridianFlipStage
	target Coordinates

	resumeGuiding bool
	realign       bool
	// due is set when the flip point passed while focusing or while the
	// last frame is still being stored.
	due bool
	// flipped records a completed flip for mounts that cannot report pier side.
	flipped bool
}

const defaultFlipPoll = time.Minute

func (s *Sequencer) startMeridianPolling() {
	if !s.cfg.MeridianFlip.Enabled || s.devices.Mount == nil {
		s.cancelTimer(timerMeridianPoll)
		return
	}
	interval := time.Duration(s.cfg.MeridianFlip.CheckIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultFlipPoll
	}
	s.armTimer(timerMeridianPoll, interval)
}

func (s *Sequencer) flipStageTimeout() time.Duration {
	if s.cfg.MeridianFlip.StageTimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.cfg.MeridianFlip.StageTimeoutSeconds) * time.Second
}

// pollMeridian checks the mount's hour angle against the flip limit.
func (s *Sequencer) pollMeridian() {
	job := s.activeJob()
	if job == nil || !s.status.active() {
		return
	}
	s.startMeridianPolling()

	if s.flip.stage != FlipNone || job.FrameType != FrameLight {
		return
	}
	ha, err := s.devices.Mount.HourAngle()
	if err != nil {
		s.log.Warn("hour angle unavailable", "error", err)
		return
	}
	side, err := s.devices.Mount.PierSide()
	if err != nil {
		side = tracking.PierUnknown
	}
	if side == tracking.PierUnknown && s.flip.flipped {
		return
	}
	if !tracking.FlipRequired(ha, s.cfg.MeridianFlip.HourAngle, side) {
		return
	}

	switch {
	case s.status == StatusCalibratingFocus:
		s.deferFlip("meridian flip will start after focusing", ha)
	case s.awaitingSave || s.pending == resumeAfterScript:
		s.deferFlip("meridian flip will start once the frame is stored", ha)
	case s.status == StatusCapturing, s.status == StatusSuspended:
		s.info("meridian flip required", "hour_angle", ha, "limit", s.cfg.MeridianFlip.HourAngle)
		s.beginFlip()
	}
}

func (s *Sequencer) deferFlip(msg string, ha float64) {
	if s.flip.due {
		return
	}
	s.flip.due = true
	s.info(msg, "hour_angle", ha)
}

func (s *Sequencer) setFlipStage(stage MeridianFlipStage) {
	s.flip.stage = stage
	s.emit(Update{Kind: UpdateFlip, Stage: stage.String()})
	if stage != FlipNone && stage != FlipInitiated {
		s.armTimer(timerFlipStage, s.flipStageTimeout())
	}
}

// beginFlip discards any in-flight exposure and commands the flip.
func (s *Sequencer) beginFlip() {
	held := s.guideHeld
	s.flip.due = false
	s.setFlipStage(FlipInitiated)
	s.setStatus(StatusMeridianFlipping)

	s.abortExposure()
	s.cancelTimer(timerFrameDelay)
	s.cancelTimer(timerDitherSettle)
	s.cancelTimer(timerDeviationSettle)
	s.deviation = deviationMonitor{}
	s.pending = resumeNone

	g := s.devices.Guider
	s.flip.resumeGuiding = g != nil && (g.IsGuiding() || held)
	if s.flip.resumeGuiding {
		if err := g.Suspend(); err != nil {
			s.log.Warn("suspend guiding failed", "error", err)
		}
	}
	s.flip.realign = s.cfg.MeridianFlip.Realign && s.devices.Aligner != nil

	target, err := s.devices.Mount.Coordinates()
	if err != nil {
		s.flipFailed(fmt.Errorf("%w: read mount position: %v", ErrCommandRejected, err))
		return
	}
	s.flip.target = target

	s.setFlipStage(FlipFlipping)
	if err := s.devices.Mount.Flip(target); err != nil {
		s.flipFailed(fmt.Errorf("%w: flip: %v", ErrCommandRejected, err))
	}
}

func (s *Sequencer) onMountFlipped(err error) {
	if s.flip.stage != FlipFlipping {
		return
	}
	if err != nil {
		s.flipFailed(fmt.Errorf("%w: flip: %v", ErrCommandRejected, err))
		return
	}
	s.setFlipStage(FlipSlewing)
	if err := s.devices.Mount.Slew(s.flip.target); err != nil {
		s.flipFailed(fmt.Errorf("%w: slew: %v", ErrCommandRejected, err))
	}
}

func (s *Sequencer) onFlipSlewDone(err error) {
	if err != nil {
		s.flipFailed(fmt.Errorf("%w: slew: %v", ErrCommandRejected, err))
		return
	}
	if s.flip.realign {
		s.setFlipStage(FlipAligning)
		if err := s.devices.Aligner.Realign(s.flip.target); err != nil {
			s.flipFailed(fmt.Errorf("%w: realign: %v", ErrCommandRejected, err))
		}
		return
	}
	s.resumeGuidingAfterFlip()
}

func (s *Sequencer) onAlignDone(err error) {
	if s.flip.stage != FlipAligning {
		return
	}
	if err != nil {
		s.flipFailed(fmt.Errorf("%w: realign: %v", ErrCommandRejected, err))
		return
	}
	s.resumeGuidingAfterFlip()
}

func (s *Sequencer) resumeGuidingAfterFlip() {
	if !s.flip.resumeGuiding {
		s.completeFlip()
		return
	}
	s.setFlipStage(FlipGuiding)
	if err := s.devices.Guider.Resume(); err != nil {
		s.flipFailed(fmt.Errorf("%w: %v", ErrGuidingLost, err))
	}
}

func (s *Sequencer) onGuideResumed(err error) {
	if s.flip.stage != FlipGuiding {
		return
	}
	if err != nil {
		s.flipFailed(fmt.Errorf("%w: %v", ErrGuidingLost, err))
		return
	}
	s.completeFlip()
}

// completeFlip returns to capturing with a fresh exposure.
func (s *Sequencer) completeFlip() {
	s.cancelTimer(timerFlipStage)
	s.flip = meridianFlip{flipped: true}
	s.emit(Update{Kind: UpdateFlip, Stage: FlipNone.String()})
	s.info("meridian flip complete")
	if s.activeJob() == nil {
		return
	}
	s.setStatus(StatusCapturing)
	if s.pauseRequested {
		s.enterPause()
		return
	}
	s.captureOne()
}

// abortFlipHardware stops whatever the current flip stage is driving.
func (s *Sequencer) abortFlipHardware() {
	switch s.flip.stage {
	case FlipFlipping, FlipSlewing:
		if err := s.devices.Mount.AbortSlew(); err != nil {
			s.log.Warn("abort slew failed", "error", err)
		}
	case FlipAligning:
		if err := s.devices.Aligner.Abort(); err != nil {
			s.log.Warn("abort alignment failed", "error", err)
		}
	}
	s.cancelTimer(timerFlipStage)
}

// flipFailed leaves the job in progress but halts capture until the
// operator restarts or stops the sequence.
func (s *Sequencer) flipFailed(err error) {
	s.abortFlipHardware()
	s.flip = meridianFlip{flipped: s.flip.flipped}
	s.cancelTimer(timerMeridianPoll)
	s.emit(Update{Kind: UpdateFlip, Stage: FlipNone.String()})
	s.setStatus(StatusError)
	s.errorf("meridian flip failed: "+err.Error(), "error", err)
}
