package capture

import (
	"fmt"
)

// Start begins (or resumes) the sequence. It resumes a paused sequence and a
// sequence halted by a failed meridian flip; otherwise it picks the first job
// in queue order that still has frames to take.
func (s *Sequencer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.devices.Camera == nil {
		s.setStatus(StatusError)
		s.errorf("cannot start sequence without a camera")
		return ErrDeviceUnavailable
	}

	active := s.activeJob()
	switch {
	case s.status == StatusPaused && active != nil:
		s.pauseRequested = false
		s.setStatus(StatusCapturing)
		s.info("sequence resumed")
		s.pending = resumeNone
		s.cancelTimer(timerFrameDelay)
		s.captureOne()
		return nil
	case s.status == StatusError && active != nil && active.State == JobInProgress:
		s.info("resuming sequence after meridian flip failure")
		s.setStatus(StatusCapturing)
		s.startMeridianPolling()
		s.captureOne()
		return nil
	case s.status.active():
		if s.pauseRequested {
			s.pauseRequested = false
			s.info("pause cancelled")
			return nil
		}
		return ErrBusy
	}

	job := s.nextRunnable()
	if job == nil {
		s.setStatus(StatusError)
		s.errorf("no pending jobs in queue")
		return ErrQueueEmpty
	}

	s.retries = 0
	s.pauseRequested = false
	s.pending = resumeNone
	s.deviation = deviationMonitor{}
	s.flip = meridianFlip{}
	s.dither = ditherState{}
	s.focus.framesSince = 0
	s.focus.lastFocus = s.clock.Now()

	s.info("sequence started", "jobs", len(s.jobs), "target", s.target)
	s.startMeridianPolling()
	s.startJob(job)
	return nil
}

// Stop halts the sequence and leaves the current job resumable.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop(false)
}

// Abort halts the sequence and marks the current job aborted.
func (s *Sequencer) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop(true)
}

func (s *Sequencer) stop(abort bool) {
	wasActive := s.status.active() || s.activeJob() != nil

	s.cancelAllTimers()
	s.abortExposure()
	s.detachSave()

	if s.flip.stage != FlipNone {
		s.abortFlipHardware()
	}
	s.flip = meridianFlip{flipped: s.flip.flipped}
	if s.status == StatusCalibratingFocus && s.devices.Focuser != nil {
		if err := s.devices.Focuser.AbortAutofocus(); err != nil {
			s.log.Warn("abort autofocus failed", "error", err)
		}
	}
	s.restoreCalibrationHardware()
	s.cal = calibration{}
	s.deviation = deviationMonitor{}
	s.pending = resumeNone
	s.pauseRequested = false
	s.prep = 0

	if job := s.activeJob(); job != nil && job.State == JobInProgress {
		if abort {
			job.State = JobAborted
		} else {
			job.State = JobIdle
		}
		s.emitJob(job)
	}
	s.activeID = 0

	if !wasActive {
		return
	}
	if abort {
		s.setStatus(StatusAborted)
		s.info("sequence aborted")
	} else {
		s.setStatus(StatusIdle)
		s.info("sequence stopped")
	}
}

// Pause lets the current exposure finish, then waits for Start.
func (s *Sequencer) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.status.active() || s.status == StatusPaused {
		return
	}
	s.pauseRequested = true
	s.info("sequence will pause after the current exposure")

	if !s.exposing && !s.awaitingSave && s.pending == resumeNextExposure {
		s.cancelTimer(timerFrameDelay)
		s.enterPause()
	}
}

func (s *Sequencer) enterPause() {
	s.pauseRequested = false
	s.pending = resumeNone
	s.setStatus(StatusPaused)
	s.info("sequence paused")
}

// AddJob validates job, appends a copy to the queue and returns its ID.
func (s *Sequencer) AddJob(job *SequenceJob) (int, error) {
	if err := job.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j := job.Clone()
	j.ID = s.nextJobID
	s.nextJobID++
	j.nextIndex = 0
	if j.Completed == j.Count {
		j.State = JobComplete
	} else {
		j.State = JobIdle
	}
	s.jobs = append(s.jobs, j)
	s.emitJob(j)
	return j.ID, nil
}

// RemoveJob deletes a job. The running job cannot be removed.
func (s *Sequencer) RemoveJob(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.jobIndex(id)
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrNoSuchJob, id)
	}
	if id == s.activeID && s.status.active() {
		return ErrBusy
	}
	s.jobs = append(s.jobs[:idx], s.jobs[idx+1:]...)
	if id == s.activeID {
		s.activeID = 0
	}
	return nil
}

// MoveJob moves a job to position pos (0-based, clamped to the queue).
func (s *Sequencer) MoveJob(id, pos int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.jobIndex(id)
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrNoSuchJob, id)
	}
	job := s.jobs[idx]
	s.jobs = append(s.jobs[:idx], s.jobs[idx+1:]...)
	pos = max(0, min(pos, len(s.jobs)))
	s.jobs = append(s.jobs[:pos], append([]*SequenceJob{job}, s.jobs[pos:]...)...)
	return nil
}

// ResetJobs clears progress on every job.
func (s *Sequencer) ResetJobs() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.active() {
		return ErrBusy
	}
	for _, job := range s.jobs {
		job.Completed = 0
		job.State = JobIdle
		job.nextIndex = 0
	}
	s.activeID = 0
	s.setStatus(StatusIdle)
	return nil
}

// ClearQueue removes every job.
func (s *Sequencer) ClearQueue() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.active() {
		return ErrBusy
	}
	s.jobs = nil
	s.activeID = 0
	s.setStatus(StatusIdle)
	return nil
}

// LoadSequence replaces the queue with the jobs of a sequence file. Nothing
// changes if the file is invalid.
func (s *Sequencer) LoadSequence(path string) error {
	seq, err := LoadSequenceFile(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.active() {
		return ErrBusy
	}
	s.jobs = nil
	s.activeID = 0
	for _, job := range seq.Jobs {
		j := job.Clone()
		j.ID = s.nextJobID
		s.nextJobID++
		if j.Completed == j.Count {
			j.State = JobComplete
		} else {
			j.State = JobIdle
		}
		s.jobs = append(s.jobs, j)
	}
	if seq.Target != "" {
		s.target = seq.Target
	}
	if seq.Observer != "" {
		s.observer = seq.Observer
	}
	if seq.GuideDeviation != nil {
		s.cfg.GuideDeviation.Enabled = seq.GuideDeviation.Enabled
		s.cfg.GuideDeviation.MaxArcsec = seq.GuideDeviation.Value
	}
	if seq.InSequenceFocus != nil {
		s.cfg.InSequenceFocus.Enabled = seq.InSequenceFocus.Enabled
		s.cfg.InSequenceFocus.HFRLimit = seq.InSequenceFocus.Value
	}
	if seq.MeridianFlip != nil {
		s.cfg.MeridianFlip.Enabled = seq.MeridianFlip.Enabled
		s.cfg.MeridianFlip.HourAngle = seq.MeridianFlip.Value
	}
	s.setStatus(StatusIdle)
	s.info("sequence loaded", "path", path, "jobs", len(s.jobs))
	return nil
}

// SaveSequence writes the queue and its settings to path.
func (s *Sequencer) SaveSequence(path string) error {
	s.mu.Lock()
	seq := &Sequence{
		Target:          s.target,
		Observer:        s.observer,
		GuideDeviation:  &ToggleSetting{Enabled: s.cfg.GuideDeviation.Enabled, Value: s.cfg.GuideDeviation.MaxArcsec},
		InSequenceFocus: &ToggleSetting{Enabled: s.cfg.InSequenceFocus.Enabled, Value: s.cfg.InSequenceFocus.HFRLimit},
		MeridianFlip:    &ToggleSetting{Enabled: s.cfg.MeridianFlip.Enabled, Value: s.cfg.MeridianFlip.HourAngle},
	}
	for _, job := range s.jobs {
		seq.Jobs = append(seq.Jobs, job.Clone())
	}
	s.mu.Unlock()

	return SaveSequenceFile(path, seq)
}

// SetTargetName sets the name used in file names.
func (s *Sequencer) SetTargetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = name
}

// SetObserverName sets the observer recorded in image metadata.
func (s *Sequencer) SetObserverName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = name
}

// SetSession tags subsequent updates with a session identifier.
func (s *Sequencer) SetSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = id
}

// SetIgnoreHistory makes new jobs number their files from 1 instead of
// continuing after existing files.
func (s *Sequencer) SetIgnoreHistory(ignore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.IgnoreHistory = ignore
}

// SetGuideDeviation configures the guide deviation monitor.
func (s *Sequencer) SetGuideDeviation(enabled bool, maxArcsec float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.GuideDeviation.Enabled = enabled
	s.cfg.GuideDeviation.MaxArcsec = maxArcsec
	if !enabled && s.deviation.state != deviationNominal {
		s.cancelTimer(timerDeviationSettle)
		wasSuspended := s.deviation.state == deviationSuspended || s.deviation.state == deviationRecovering
		s.deviation = deviationMonitor{}
		if wasSuspended && s.status == StatusSuspended {
			s.resumeFromDeviation()
		}
	}
}

// SetInSequenceFocus configures HFR-triggered autofocus. A zero limit uses
// the first measured HFR.
func (s *Sequencer) SetInSequenceFocus(enabled bool, hfrLimit float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.InSequenceFocus.Enabled = enabled
	s.cfg.InSequenceFocus.HFRLimit = hfrLimit
}

// SetMeridianFlip configures the automatic meridian flip.
func (s *Sequencer) SetMeridianFlip(enabled bool, hourAngle float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MeridianFlip.Enabled = enabled
	s.cfg.MeridianFlip.HourAngle = hourAngle
	if s.status.active() {
		s.startMeridianPolling()
	}
}

// SetDither configures dithering between light frames.
func (s *Sequencer) SetDither(enabled bool, everyNFrames int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Dither.Enabled = enabled
	s.cfg.Dither.EveryNFrames = everyNFrames
}

// ClearAutoFocusHFR forgets the baseline HFR so the next focus run measures a new one.
func (s *Sequencer) ClearAutoFocusHFR() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focus.hasBaseline = false
	s.focus.baselineHFR = 0
}

// HasCoolerControl reports whether the bound camera can regulate temperature.
func (s *Sequencer) HasCoolerControl() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices.Camera != nil && s.devices.Camera.HasCooler()
}

// SetCoolerEnabled switches the camera cooler.
func (s *Sequencer) SetCoolerEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.devices.Camera == nil || !s.devices.Camera.HasCooler() {
		return ErrDeviceUnavailable
	}
	if err := s.devices.Camera.SetCoolerEnabled(enabled); err != nil {
		return fmt.Errorf("%w: %v", ErrCommandRejected, err)
	}
	return nil
}
