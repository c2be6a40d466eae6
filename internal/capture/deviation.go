package capture

import (
	"fmt"
	"math"
	"time"
)

type deviationState int

const (
	deviationNominal deviationState = iota
	// deviationSpike: over the limit, settle window running before suspending.
	deviationSpike
	deviationSuspended
	// deviationRecovering: back under the limit, settle window running before resuming.
	deviationRecovering
)

func (d deviationState) String() string {
	switch d {
	case deviationNominal:
		return "nominal"
	case deviationSpike:
		return "spike"
	case deviationSuspended:
		return "suspended"
	case deviationRecovering:
		return "recovering"
	}
	return fmt.Sprintf("deviationState(%d)", int(d))
}

type deviationMonitor struct {
	state deviationState
	last  float64
}

func (d deviationMonitor) suspended() bool {
	return d.state == deviationSuspended || d.state == deviationRecovering
}

func (s *Sequencer) deviationWindow() time.Duration {
	return seconds(s.cfg.GuideDeviation.SettleSeconds)
}

// onGuideDeviation debounces guiding error samples. Capture is suspended
// only after the error stays over the limit for the settle window, and
// resumes after it stays under the limit for the same window.
func (s *Sequencer) onGuideDeviation(e GuideDeviation) {
	dev := math.Hypot(e.RA, e.Dec)
	s.deviation.last = dev
	s.emit(Update{Kind: UpdateGuide, RA: e.RA, Dec: e.Dec, Deviation: dev})

	if !s.cfg.GuideDeviation.Enabled || s.activeJob() == nil || s.flip.stage != FlipNone {
		return
	}
	if s.status != StatusCapturing && s.status != StatusSuspended {
		return
	}

	over := dev > s.cfg.GuideDeviation.MaxArcsec
	window := s.deviationWindow()

	switch s.deviation.state {
	case deviationNominal:
		if !over {
			return
		}
		if window <= 0 {
			s.suspendForDeviation()
			return
		}
		s.deviation.state = deviationSpike
		s.armTimer(timerDeviationSettle, window)
		s.log.Debug("guide deviation spike", "deviation", dev, "limit", s.cfg.GuideDeviation.MaxArcsec)
	case deviationSpike:
		if !over {
			s.deviation.state = deviationNominal
			s.cancelTimer(timerDeviationSettle)
		}
	case deviationSuspended:
		if over {
			return
		}
		if window <= 0 {
			s.resumeFromDeviation()
			return
		}
		s.deviation.state = deviationRecovering
		s.armTimer(timerDeviationSettle, window)
	case deviationRecovering:
		if over {
			s.deviation.state = deviationSuspended
			s.cancelTimer(timerDeviationSettle)
		}
	}
}

func (s *Sequencer) onDeviationWindowElapsed() {
	if s.pending == resumeAfterFocus || s.status == StatusCalibratingFocus {
		s.dropDeviationSpike()
		return
	}
	switch s.deviation.state {
	case deviationSpike:
		s.suspendForDeviation()
	case deviationRecovering:
		s.resumeFromDeviation()
	}
}

// dropDeviationSpike forgets a spike whose settle window has not elapsed.
// Samples taken while capture is held start a new window once it resumes.
func (s *Sequencer) dropDeviationSpike() {
	if s.deviation.state != deviationSpike {
		return
	}
	s.deviation.state = deviationNominal
	s.cancelTimer(timerDeviationSettle)
}

// suspendForDeviation discards the in-flight exposure and holds the job.
func (s *Sequencer) suspendForDeviation() {
	s.deviation.state = deviationSuspended
	s.abortExposure()
	s.cancelTimer(timerFrameDelay)
	s.cancelTimer(timerDitherSettle)
	// A running post-capture script still reports back to the frame boundary.
	if s.pending != resumeAfterScript {
		s.pending = resumeNone
	}
	s.setStatus(StatusSuspended)
	s.warn("guide deviation over limit, capture suspended",
		"deviation", s.deviation.last, "limit", s.cfg.GuideDeviation.MaxArcsec)
}

func (s *Sequencer) resumeFromDeviation() {
	s.deviation.state = deviationNominal
	s.cancelTimer(timerDeviationSettle)
	s.setStatus(StatusCapturing)
	s.info("guide deviation recovered, resuming capture", "deviation", s.deviation.last)
	if s.pending == resumeAfterScript {
		return
	}
	if s.pauseRequested {
		s.enterPause()
		return
	}
	s.captureOne()
}
