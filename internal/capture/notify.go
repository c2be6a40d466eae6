package capture

import "time"

// UpdateKind classifies an Update.
type UpdateKind string

const (
	UpdateStatus      UpdateKind = "status"
	UpdateJob         UpdateKind = "job"
	UpdateImage       UpdateKind = "image"
	UpdateGuide       UpdateKind = "guide"
	UpdateFlip        UpdateKind = "meridian_flip"
	UpdateCalibration UpdateKind = "calibration"
	UpdateLog         UpdateKind = "log"
)

// Update is an observable change in the sequencer. Only the fields relevant
// to Kind are set.
type Update struct {
	Kind    UpdateKind `json:"kind"`
	Time    time.Time  `json:"time"`
	Status  string     `json:"status,omitempty"`
	Target  string     `json:"target,omitempty"`
	Session string     `json:"session,omitempty"`

	JobID     int     `json:"job_id,omitempty"`
	JobState  string  `json:"job_state,omitempty"`
	FrameType string  `json:"frame_type,omitempty"`
	Filter    string  `json:"filter,omitempty"`
	Exposure  float64 `json:"exposure,omitempty"`
	Completed int     `json:"completed,omitempty"`
	Count     int     `json:"count,omitempty"`

	Path string  `json:"path,omitempty"`
	ADU  float64 `json:"adu,omitempty"`
	HFR  float64 `json:"hfr,omitempty"`

	RA        float64 `json:"ra,omitempty"`
	Dec       float64 `json:"dec,omitempty"`
	Deviation float64 `json:"deviation,omitempty"`

	Stage string `json:"stage,omitempty"`

	RemainingJob     float64 `json:"remaining_job,omitempty"`
	RemainingOverall float64 `json:"remaining_overall,omitempty"`

	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
}

// Notifier receives updates from the sequencer loop. Implementations must
// not block and must not call back into the Sequencer.
type Notifier interface {
	Notify(u Update)
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(u Update)

func (f NotifierFunc) Notify(u Update) { f(u) }

// Notifiers fans an update out to several notifiers.
type Notifiers []Notifier

func (n Notifiers) Notify(u Update) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.Notify(u)
		}
	}
}

func (s *Sequencer) emit(u Update) {
	if s.notifier == nil {
		return
	}
	u.Time = s.clock.Now()
	u.Target = s.target
	u.Session = s.session
	if u.Status == "" {
		u.Status = s.status.String()
	}
	s.notifier.Notify(u)
}

func (s *Sequencer) emitJob(job *SequenceJob) {
	s.emit(Update{
		Kind:             UpdateJob,
		JobID:            job.ID,
		JobState:         job.State.String(),
		FrameType:        job.FrameType.String(),
		Filter:           job.Filter,
		Exposure:         s.exposureFor(job),
		Completed:        job.Completed,
		Count:            job.Count,
		RemainingJob:     s.jobRemaining(job),
		RemainingOverall: s.overallRemaining(),
	})
}

func (s *Sequencer) setStatus(st Status) {
	if s.status == st {
		return
	}
	s.status = st
	s.emit(Update{Kind: UpdateStatus})
}

// info records a message in the log and publishes it to observers.
func (s *Sequencer) info(msg string, args ...any) {
	s.log.Info(msg, args...)
	s.emit(Update{Kind: UpdateLog, Level: "info", Message: msg})
}

func (s *Sequencer) warn(msg string, args ...any) {
	s.log.Warn(msg, args...)
	s.emit(Update{Kind: UpdateLog, Level: "warn", Message: msg})
}

func (s *Sequencer) errorf(msg string, args ...any) {
	s.log.Error(msg, args...)
	s.emit(Update{Kind: UpdateLog, Level: "error", Message: msg})
}
