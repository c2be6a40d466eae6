package capture

import (
	"fmt"
	"slices"
	"strings"
)

// imageStats keeps the measurements of the image being stored.
type imageStats struct {
	adu float64
	hfr float64
}

// startJob makes job active and issues its preparation commands: filter,
// temperature and rotator. Capture starts once all of them complete.
func (s *Sequencer) startJob(job *SequenceJob) {
	s.activeID = job.ID
	job.State = JobInProgress
	s.retries = 0
	s.prep = 0
	s.cal = calibration{jobID: job.ID}

	if job.nextIndex == 0 && job.Upload != UploadLocal {
		if err := s.assignFileIndex(job); err != nil {
			s.fail(fmt.Errorf("%w: %v", ErrFileWriteFailed, err))
			return
		}
	}

	s.setStatus(StatusCapturing)
	s.info(fmt.Sprintf("starting %s job", job.FrameType), "job", job.ID, "exposure", job.Exposure,
		"count", job.Count, "completed", job.Completed, "filter", job.Filter)
	s.emitJob(job)

	if job.Filter != "" {
		fw := s.devices.FilterWheel
		if fw == nil {
			s.fail(fmt.Errorf("%w: filter %q requested without a filter wheel", ErrDeviceUnavailable, job.Filter))
			return
		}
		slot := filterSlot(fw.FilterNames(), job.Filter)
		if slot < 0 {
			s.fail(fmt.Errorf("%w: unknown filter %q", ErrInvalidJob, job.Filter))
			return
		}
		if slot != s.filterSlot {
			if err := fw.SetFilter(slot); err != nil {
				s.fail(fmt.Errorf("%w: set filter %q: %v", ErrCommandRejected, job.Filter, err))
				return
			}
			s.filterSlot = slot
			s.prep |= prepFilter
			if err := s.applyFocusOffset(job.Filter); err != nil {
				s.fail(fmt.Errorf("%w: filter focus offset: %v", ErrCommandRejected, err))
				return
			}
		}
	}

	if job.TargetTemperature != nil {
		cam := s.devices.Camera
		if cam.HasCooler() {
			if err := cam.SetTemperature(*job.TargetTemperature); err != nil {
				s.fail(fmt.Errorf("%w: set temperature: %v", ErrCommandRejected, err))
				return
			}
			s.prep |= prepTemperature
		} else {
			s.warn("camera has no cooler, ignoring target temperature")
		}
	}

	if job.RotatorAngle != nil {
		if s.devices.Rotator == nil {
			s.warn("no rotator bound, ignoring rotator angle")
		} else {
			if err := s.devices.Rotator.SetAngle(*job.RotatorAngle); err != nil {
				s.fail(fmt.Errorf("%w: set rotator angle: %v", ErrCommandRejected, err))
				return
			}
			s.prep |= prepRotator
		}
	}

	if s.prep == 0 {
		s.prepared()
	}
}

func filterSlot(names []string, filter string) int {
	for i, name := range names {
		if strings.EqualFold(name, filter) {
			return i
		}
	}
	return -1
}

func (s *Sequencer) onPrepared(flag prepFlags, err error) {
	if s.prep&flag == 0 {
		return
	}
	s.prep &^= flag
	if err != nil {
		if flag == prepFilter {
			s.filterSlot = -1
		}
		s.fail(fmt.Errorf("%w: job preparation: %v", ErrCommandRejected, err))
		return
	}
	if s.prep == 0 {
		s.prepared()
	}
}

func (s *Sequencer) prepared() {
	job := s.activeJob()
	if job == nil {
		return
	}
	if job.needsCalibration() {
		s.beginCalibration(job)
		return
	}
	s.captureOne()
}

// captureOne issues the next exposure of the active job. It does nothing
// while a flip or a guiding suspension is in progress.
func (s *Sequencer) captureOne() {
	job := s.activeJob()
	if job == nil || s.exposing || s.awaitingSave {
		return
	}
	if s.flip.stage != FlipNone || s.deviation.suspended() {
		return
	}

	trial := s.cal.stage == CalCalibrating
	exposure := s.exposureFor(job)
	req := ExposureRequest{
		Duration:  exposure,
		FrameType: job.FrameType,
		Frame:     s.frameFor(job),
		Trial:     trial,
	}

	if trial {
		s.setStatus(StatusCalibratingFlat)
	} else {
		s.setStatus(StatusCapturing)
	}

	s.exposing = true
	s.exposureStart = s.clock.Now()
	s.exposureLength = exposure
	s.lastFrame = req.Frame

	if err := s.devices.Camera.StartExposure(req); err != nil {
		s.exposureFailed(fmt.Errorf("%w: %v", ErrCommandRejected, err), false)
		return
	}
	s.armTimer(timerExposureWatchdog, seconds(exposure)+seconds(float64(s.cfg.DownloadTimeoutSeconds)))
	if s.cfg.SuspendGuideOnDownload && !trial {
		s.armTimer(timerDownload, seconds(exposure))
	}
	s.log.Debug("exposure started", "job", job.ID, "exposure", exposure, "trial", trial)
}

// abortExposure cancels the in-flight exposure. Its result is discarded.
func (s *Sequencer) abortExposure() {
	if !s.exposing {
		return
	}
	s.exposing = false
	s.cancelTimer(timerExposureWatchdog)
	if err := s.devices.Camera.AbortExposure(); err != nil {
		s.log.Warn("abort exposure failed", "error", err)
	}
	s.releaseGuiding()
}

// holdGuidingForDownload pauses the guider while the sensor is read out.
func (s *Sequencer) holdGuidingForDownload() {
	g := s.devices.Guider
	if !s.exposing || g == nil || !g.IsGuiding() {
		return
	}
	if err := g.Suspend(); err != nil {
		s.log.Warn("suspend guiding for download failed", "error", err)
		return
	}
	s.guideHeld = true
	s.log.Debug("guiding suspended for download")
}

// releaseGuiding resumes guiding held for a download. A meridian flip
// takes over the guider, so nothing is sent while one runs.
func (s *Sequencer) releaseGuiding() {
	s.cancelTimer(timerDownload)
	if !s.guideHeld {
		return
	}
	s.guideHeld = false
	if s.flip.stage != FlipNone {
		return
	}
	if err := s.devices.Guider.Resume(); err != nil {
		s.warn("resume guiding after download failed", "error", err)
	}
}

func (s *Sequencer) onExposureFailed(err error, fatal bool) {
	if !s.exposing {
		return
	}
	s.exposureFailed(err, fatal)
}

func (s *Sequencer) exposureFailed(err error, fatal bool) {
	s.exposing = false
	s.cancelTimer(timerExposureWatchdog)
	s.releaseGuiding()

	if fatal {
		s.fail(fmt.Errorf("%w: %w", ErrDeviceUnavailable, err))
		return
	}
	if s.retries < s.cfg.ExposureRetries {
		s.retries++
		s.warn("exposure failed, retrying", "attempt", s.retries, "error", err)
		s.captureOne()
		return
	}
	s.fail(fmt.Errorf("%w: exposure failed after %d retries: %w", ErrCommandRejected, s.retries, err))
}

func (s *Sequencer) onExposureDone(e ExposureDone) {
	if !s.exposing {
		return
	}
	s.exposing = false
	s.cancelTimer(timerExposureWatchdog)
	s.releaseGuiding()
	s.retries = 0

	job := s.activeJob()
	if job == nil {
		return
	}

	frame := e.Image.Frame
	if frame.IsZero() {
		frame = s.lastFrame
	}
	s.frames.store(s.devices.Camera.ID(), frame)
	if e.Image.HFR > 0 {
		s.focus.lastHFR = e.Image.HFR
	}

	if s.cal.stage == CalCalibrating {
		s.onCalibrationFrame(job, e.Image)
		return
	}

	s.lastStats = imageStats{adu: e.Image.MeanADU, hfr: e.Image.HFR}
	if job.Upload == UploadLocal {
		s.frameStored(job, e.Image.RemotePath)
		return
	}
	if s.store == nil {
		s.fail(fmt.Errorf("%w: no image store configured", ErrFileWriteFailed))
		return
	}

	path := s.nextFilePath(job)
	meta := ImageMeta{
		Target:    s.target,
		Observer:  s.observer,
		FrameType: job.FrameType,
		Filter:    job.Filter,
		Exposure:  s.exposureFor(job),
		Time:      s.exposureStart,
	}
	// The name is taken as soon as the write is issued.
	if !job.File.Timestamp {
		job.nextIndex++
	}
	store, img := s.store, e.Image
	s.awaitingSave = true
	s.savePath = path
	s.spawn(func() {
		err := store.Save(path, img, meta)
		s.Post(FileSaved{Path: path, Err: err})
	})
}

func (s *Sequencer) onFileSaved(e FileSaved) {
	if !s.awaitingSave || e.Path != s.savePath {
		s.onDetachedSave(e)
		return
	}
	s.awaitingSave = false
	s.savePath = ""
	job := s.activeJob()
	if job == nil {
		return
	}
	if e.Err != nil {
		s.fail(fmt.Errorf("%w: %s: %v", ErrFileWriteFailed, e.Path, e.Err))
		return
	}
	s.frameStored(job, e.Path)
}

type pendingSave struct {
	path  string
	jobID int
}

// detachSave stops waiting for the in-flight save. The file may still be
// written, so its name stays taken and a late success is still counted.
func (s *Sequencer) detachSave() {
	if !s.awaitingSave {
		return
	}
	s.detached = append(s.detached, pendingSave{path: s.savePath, jobID: s.activeID})
	s.awaitingSave = false
	s.savePath = ""
}

func (s *Sequencer) onDetachedSave(e FileSaved) {
	i := slices.IndexFunc(s.detached, func(p pendingSave) bool { return p.path == e.Path })
	if i < 0 {
		return
	}
	p := s.detached[i]
	s.detached = slices.Delete(s.detached, i, i+1)
	if e.Err != nil {
		s.warn("image save failed after capture stopped", "path", e.Path, "error", e.Err)
		return
	}
	job := s.jobByID(p.jobID)
	if job == nil || job.Completed >= job.Count {
		return
	}
	job.Completed++
	if job.Completed == job.Count && (job.State == JobIdle || job.State == JobAborted) {
		job.State = JobComplete
	}
	s.info("image saved after capture stopped", "path", e.Path, "job", job.ID, "completed", job.Completed, "count", job.Count)
	s.emit(Update{
		Kind:      UpdateImage,
		JobID:     job.ID,
		FrameType: job.FrameType.String(),
		Filter:    job.Filter,
		Exposure:  s.exposureFor(job),
		Completed: job.Completed,
		Count:     job.Count,
		Path:      e.Path,
	})
	s.emitJob(job)
}

// frameStored counts a captured frame and decides what happens next.
func (s *Sequencer) frameStored(job *SequenceJob, path string) {
	job.Completed++
	if job.FrameType == FrameLight {
		s.focus.framesSince++
		s.dither.framesSince++
	}

	s.info("image saved", "path", path, "job", job.ID, "completed", job.Completed, "count", job.Count)
	s.emit(Update{
		Kind:      UpdateImage,
		JobID:     job.ID,
		FrameType: job.FrameType.String(),
		Filter:    job.Filter,
		Exposure:  s.exposureFor(job),
		Completed: job.Completed,
		Count:     job.Count,
		Path:      path,
		ADU:       s.lastStats.adu,
		HFR:       s.lastStats.hfr,
	})
	s.emitJob(job)
	if script := s.postCaptureScript(job); script != "" {
		s.runScript(script, path)
		return
	}
	s.afterFrame(job)
}

// afterFrame runs at every frame boundary. Priority: meridian flip, pause,
// focus, dither. A running flip or guiding suspension restarts capture itself.
func (s *Sequencer) afterFrame(job *SequenceJob) {
	if job.Completed >= job.Count {
		s.completeJob(job)
		return
	}
	if s.flip.due && s.flip.stage == FlipNone {
		s.beginFlip()
		return
	}
	if s.flip.stage != FlipNone || s.deviation.suspended() {
		return
	}
	if s.pauseRequested {
		s.enterPause()
		return
	}
	if s.focusDue(job) {
		s.requestFocus()
		return
	}
	if s.ditherDue(job) {
		s.requestDither()
		return
	}
	s.resume(resumeNextExposure)
}

// resume continues the sequence from a completed intermediate step.
func (s *Sequencer) resume(p resumePoint) {
	job := s.activeJob()
	if job == nil {
		return
	}
	switch p {
	case resumeAfterFocus:
		s.pending = resumeNone
		s.setStatus(StatusCapturing)
		if s.flip.due {
			s.flip.due = false
			s.beginFlip()
			return
		}
		if s.pauseRequested {
			s.enterPause()
			return
		}
		if s.ditherDue(job) {
			s.requestDither()
			return
		}
		s.resume(resumeNextExposure)
	case resumeAfterDither:
		s.pending = resumeNone
		s.cancelTimer(timerDitherSettle)
		if s.pauseRequested {
			s.enterPause()
			return
		}
		s.resume(resumeNextExposure)
	case resumeNextExposure:
		if job.Delay > 0 {
			s.pending = resumeNextExposure
			s.armTimer(timerFrameDelay, seconds(job.Delay))
			return
		}
		s.pending = resumeNone
		s.captureOne()
	}
}

func (s *Sequencer) completeJob(job *SequenceJob) {
	job.State = JobComplete
	s.info(fmt.Sprintf("%s job complete", job.FrameType), "job", job.ID, "count", job.Count)
	s.emitJob(job)

	if s.cal.parkedCap || s.cal.litBox {
		s.cal.finishing = true
		s.beginCalibrationRestore()
		return
	}
	s.finishJob()
}

// finishJob moves to the next runnable job, or completes the sequence.
func (s *Sequencer) finishJob() {
	s.cal = calibration{}
	s.activeID = 0
	if s.flip.stage != FlipNone {
		s.abortFlipHardware()
	}
	s.flip = meridianFlip{flipped: s.flip.flipped}

	next := s.nextRunnable()
	if next == nil {
		s.cancelAllTimers()
		s.setStatus(StatusComplete)
		s.info("sequence complete")
		return
	}
	s.startJob(next)
}

// fail halts the sequence and marks the active job as failed.
func (s *Sequencer) fail(err error) {
	s.cancelAllTimers()
	s.abortExposure()
	s.detachSave()
	s.pending = resumeNone
	s.prep = 0
	s.pauseRequested = false

	if s.flip.stage != FlipNone {
		s.abortFlipHardware()
		s.flip = meridianFlip{}
	}
	s.restoreCalibrationHardware()
	s.cal = calibration{}
	s.deviation = deviationMonitor{}

	if job := s.activeJob(); job != nil {
		job.State = JobError
		s.emitJob(job)
	}
	s.activeID = 0
	s.setStatus(StatusError)
	s.errorf("sequence halted: "+err.Error(), "error", err)
}
