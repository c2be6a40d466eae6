package capture

import "fmt"

// QueueStatus summarizes the whole queue.
type QueueStatus int

const (
	QueueInvalid QueueStatus = iota
	QueueIdle
	QueueComplete
	QueueAborted
	QueueSuspended
	QueueError
	QueueRunning
)

var queueStatusNames = [...]string{"Invalid", "Idle", "Complete", "Aborted", "Suspended", "Error", "Running"}

func (q QueueStatus) String() string {
	if q < 0 || int(q) >= len(queueStatusNames) {
		return fmt.Sprintf("QueueStatus(%d)", int(q))
	}
	return queueStatusNames[q]
}

// JobSnapshot is a read-only view of a job.
type JobSnapshot struct {
	ID        int     `json:"id"`
	State     string  `json:"state"`
	FrameType string  `json:"frame_type"`
	Filter    string  `json:"filter,omitempty"`
	Exposure  float64 `json:"exposure"`
	Count     int     `json:"count"`
	Completed int     `json:"completed"`
	Delay     float64 `json:"delay,omitempty"`
	Remaining float64 `json:"remaining_seconds"`
}

// Snapshot is a consistent read-only view of the sequencer.
type Snapshot struct {
	Status           string        `json:"status"`
	Queue            string        `json:"queue"`
	Target           string        `json:"target"`
	ActiveJobID      int           `json:"active_job_id,omitempty"`
	Progress         float64       `json:"progress"`
	RemainingSeconds float64       `json:"remaining_seconds"`
	ExposureLeft     float64       `json:"exposure_left,omitempty"`
	FlipStage        string        `json:"meridian_flip_stage"`
	CalibrationStage string        `json:"calibration_stage"`
	Jobs             []JobSnapshot `json:"jobs"`
}

// Snapshot returns the current state of the sequencer.
func (s *Sequencer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Status:           s.status.String(),
		Queue:            s.queueStatus().String(),
		Target:           s.target,
		ActiveJobID:      s.activeID,
		Progress:         s.progress(),
		RemainingSeconds: s.overallRemaining(),
		ExposureLeft:     s.exposureLeft(),
		FlipStage:        s.flip.stage.String(),
		CalibrationStage: s.cal.stage.String(),
		Jobs:             make([]JobSnapshot, 0, len(s.jobs)),
	}
	for _, job := range s.jobs {
		snap.Jobs = append(snap.Jobs, JobSnapshot{
			ID:        job.ID,
			State:     job.State.String(),
			FrameType: job.FrameType.String(),
			Filter:    job.Filter,
			Exposure:  s.exposureFor(job),
			Count:     job.Count,
			Completed: job.Completed,
			Delay:     job.Delay,
			Remaining: s.jobRemaining(job),
		})
	}
	return snap
}

// Status returns the overall sequencer status.
func (s *Sequencer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// QueueStatus summarizes all jobs.
func (s *Sequencer) QueueStatus() QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueStatus()
}

func (s *Sequencer) queueStatus() QueueStatus {
	if len(s.jobs) == 0 {
		return QueueInvalid
	}
	switch s.status {
	case StatusPaused, StatusSuspended:
		return QueueSuspended
	case StatusError:
		return QueueError
	}
	if s.status.active() {
		return QueueRunning
	}
	complete, aborted := 0, 0
	for _, job := range s.jobs {
		switch job.State {
		case JobError:
			return QueueError
		case JobComplete:
			complete++
		case JobAborted:
			aborted++
		}
	}
	switch {
	case complete == len(s.jobs):
		return QueueComplete
	case aborted > 0:
		return QueueAborted
	}
	return QueueIdle
}

// ProgressPercentage is the share of all queued frames already captured.
func (s *Sequencer) ProgressPercentage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress()
}

func (s *Sequencer) progress() float64 {
	total, done := 0, 0
	for _, job := range s.jobs {
		total += job.Count
		done += job.Completed
	}
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}

// ActiveJobID returns the ID of the running job, or 0.
func (s *Sequencer) ActiveJobID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// JobCount returns the number of queued jobs.
func (s *Sequencer) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// PendingJobCount returns the number of jobs that still have frames to take.
func (s *Sequencer) PendingJobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, job := range s.jobs {
		if job.State != JobComplete && job.State != JobError {
			n++
		}
	}
	return n
}

// Job returns a copy of the job with the given ID.
func (s *Sequencer) Job(id int) (*SequenceJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobByID(id)
	if job == nil {
		return nil, ErrNoSuchJob
	}
	return job.Clone(), nil
}

// Jobs returns copies of all queued jobs in queue order.
func (s *Sequencer) Jobs() []*SequenceJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SequenceJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	return out
}

// JobState returns the state of a job.
func (s *Sequencer) JobState(id int) (JobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobByID(id)
	if job == nil {
		return 0, ErrNoSuchJob
	}
	return job.State, nil
}

// JobImageProgress returns completed and requested frame counts for a job.
func (s *Sequencer) JobImageProgress(id int) (completed, count int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobByID(id)
	if job == nil {
		return 0, 0, ErrNoSuchJob
	}
	return job.Completed, job.Count, nil
}

// JobExposureDuration returns the exposure time a job's next frame uses.
func (s *Sequencer) JobExposureDuration(id int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobByID(id)
	if job == nil {
		return 0, ErrNoSuchJob
	}
	return s.exposureFor(job), nil
}

// JobExposureProgress returns the seconds left on the job's current exposure,
// or 0 if it is not exposing.
func (s *Sequencer) JobExposureProgress(id int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobByID(id) == nil {
		return 0, ErrNoSuchJob
	}
	if id != s.activeID {
		return 0, nil
	}
	return s.exposureLeft(), nil
}

func (s *Sequencer) exposureLeft() float64 {
	if !s.exposing {
		return 0
	}
	left := s.exposureLength - s.clock.Now().Sub(s.exposureStart).Seconds()
	return max(left, 0)
}

// JobRemainingTime estimates the seconds a job still needs.
func (s *Sequencer) JobRemainingTime(id int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobByID(id)
	if job == nil {
		return 0, ErrNoSuchJob
	}
	return s.jobRemaining(job), nil
}

// OverallRemainingTime estimates the seconds left for the whole queue.
func (s *Sequencer) OverallRemainingTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overallRemaining()
}

// MeridianFlipStage returns the current flip stage.
func (s *Sequencer) MeridianFlipStage() MeridianFlipStage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flip.stage
}

// CalibrationStage returns the current calibration stage.
func (s *Sequencer) CalibrationStage() CalibrationStage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cal.stage
}

// TargetName returns the target used in file names.
func (s *Sequencer) TargetName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}
