package capture

import (
	"strings"
	"time"
)

type focusState struct {
	hasBaseline bool
	baselineHFR float64
	lastHFR     float64
	framesSince int
	lastFocus   time.Time
}

type ditherState struct {
	framesSince int
}

// hfrLimit is the HFR above which focus is requested. A configured limit of
// zero falls back to the baseline measured by the first focus run.
func (s *Sequencer) hfrLimit() float64 {
	if s.cfg.InSequenceFocus.HFRLimit > 0 {
		return s.cfg.InSequenceFocus.HFRLimit
	}
	return s.focus.baselineHFR
}

func (s *Sequencer) focusDue(job *SequenceJob) bool {
	cfg := s.cfg.InSequenceFocus
	if !cfg.Enabled || s.devices.Focuser == nil || job.FrameType != FrameLight {
		return false
	}
	if !s.focus.hasBaseline {
		return true
	}
	if cfg.EveryNFrames > 0 && s.focus.framesSince >= cfg.EveryNFrames {
		return true
	}
	if cfg.EveryNMinutes > 0 && s.clock.Now().Sub(s.focus.lastFocus) >= time.Duration(cfg.EveryNMinutes)*time.Minute {
		return true
	}
	limit := s.hfrLimit()
	return limit > 0 && s.focus.lastHFR > limit
}

// requestFocus asks the focuser for a run and holds capture until it ends.
// The first run passes a zero limit so it only measures the baseline.
func (s *Sequencer) requestFocus() {
	limit := 0.0
	if s.focus.hasBaseline {
		limit = s.hfrLimit()
	}
	if err := s.devices.Focuser.RequestAutofocus(limit); err != nil {
		s.warn("autofocus request rejected, continuing", "error", err)
		s.markFocused(0)
		s.resume(resumeNextExposure)
		return
	}
	s.dropDeviationSpike()
	s.pending = resumeAfterFocus
	s.setStatus(StatusCalibratingFocus)
	s.info("autofocus requested", "hfr", s.focus.lastHFR, "limit", limit)
}

func (s *Sequencer) markFocused(hfr float64) {
	if !s.focus.hasBaseline {
		s.focus.hasBaseline = true
		s.focus.baselineHFR = hfr
	}
	if hfr > 0 {
		s.focus.lastHFR = hfr
	}
	s.focus.framesSince = 0
	s.focus.lastFocus = s.clock.Now()
}

func (s *Sequencer) onFocusComplete(e FocusComplete) {
	if s.status != StatusCalibratingFocus || s.pending != resumeAfterFocus {
		return
	}
	if e.Err != nil {
		s.warn("autofocus failed, continuing with current focus", "error", e.Err)
		s.markFocused(0)
	} else {
		s.info("autofocus complete", "hfr", e.HFR)
		s.markFocused(e.HFR)
	}
	s.resume(resumeAfterFocus)
}

func (s *Sequencer) ditherDue(job *SequenceJob) bool {
	cfg := s.cfg.Dither
	if !cfg.Enabled || cfg.EveryNFrames <= 0 || job.FrameType != FrameLight {
		return false
	}
	g := s.devices.Guider
	if g == nil || !g.IsGuiding() {
		return false
	}
	return s.dither.framesSince >= cfg.EveryNFrames
}

// requestDither asks the guider to dither and holds capture until it settles
// or the settle timeout passes.
func (s *Sequencer) requestDither() {
	s.dither.framesSince = 0
	if err := s.devices.Guider.Dither(); err != nil {
		s.warn("dither rejected, continuing", "error", err)
		s.resume(resumeNextExposure)
		return
	}
	s.pending = resumeAfterDither
	timeout := time.Duration(s.cfg.Dither.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	s.armTimer(timerDitherSettle, timeout)
	s.log.Debug("dithering")
}

func (s *Sequencer) onDitherSettled(err error) {
	if s.pending != resumeAfterDither {
		return
	}
	if err != nil {
		s.warn("dither did not settle, continuing", "error", err)
	}
	s.resume(resumeAfterDither)
}

// applyFocusOffset moves the focuser by the difference between the offsets
// of the new filter and the filter it was last adjusted for.
func (s *Sequencer) applyFocusOffset(filter string) error {
	f := s.devices.Focuser
	if f == nil || len(s.cfg.FilterFocusOffsets) == 0 {
		return nil
	}
	target := 0
	for name, offset := range s.cfg.FilterFocusOffsets {
		if strings.EqualFold(name, filter) {
			target = offset
			break
		}
	}
	delta := target - s.focusOffset
	if delta == 0 {
		return nil
	}
	if err := f.MoveRelative(delta); err != nil {
		return err
	}
	s.focusOffset = target
	s.prep |= prepFocusOffset
	s.info("applying filter focus offset", "filter", filter, "steps", delta)
	return nil
}
