package capture

import "math"

// exposureFor is the exposure time the next frame of job will use.
func (s *Sequencer) exposureFor(job *SequenceJob) float64 {
	if job.usesADU() && s.cal.jobID == job.ID && s.cal.exposure > 0 {
		return s.cal.exposure
	}
	return job.Exposure
}

// jobRemaining estimates the seconds left for a job.
func (s *Sequencer) jobRemaining(job *SequenceJob) float64 {
	if job.State == JobComplete || job.State == JobError {
		return 0
	}
	exposure := s.exposureFor(job)
	perFrame := exposure + job.Delay + s.cfg.FrameOverheadSeconds
	rem := float64(job.Remaining()) * perFrame

	if s.exposing && s.activeID == job.ID {
		elapsed := s.clock.Now().Sub(s.exposureStart).Seconds()
		rem -= math.Min(math.Max(elapsed, 0), exposure)
	}
	return math.Max(rem, 0)
}

// overallRemaining sums the estimates of every job not yet finished.
func (s *Sequencer) overallRemaining() float64 {
	total := 0.0
	for _, job := range s.jobs {
		if job.State == JobIdle || job.State == JobInProgress {
			total += s.jobRemaining(job)
		}
	}
	return total
}
