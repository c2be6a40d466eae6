package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/unklstewy/skycapture/internal/capture"
)

const recorderBuffer = 256

// Recorder is a capture.Notifier that writes sessions and saved frames to
// the database from its own goroutine. Notify never blocks the sequencer;
// updates are dropped if the writer falls behind by more than the buffer.
type Recorder struct {
	sessions *SessionRepository
	frames   *FrameRepository
	log      *slog.Logger

	// SequenceFile and Observer are stored on new sessions. Set before Run.
	SequenceFile string
	Observer     string

	updates chan capture.Update
	known   map[string]string // session id -> last recorded target
}

// NewRecorder creates a recorder writing to db.
func NewRecorder(db *DB, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		sessions: NewSessionRepository(db),
		frames:   NewFrameRepository(db),
		log:      logger.With("component", "recorder"),
		updates:  make(chan capture.Update, recorderBuffer),
		known:    make(map[string]string),
	}
}

// Notify queues status and image updates that belong to a session.
func (r *Recorder) Notify(u capture.Update) {
	if u.Session == "" {
		return
	}
	if u.Kind != capture.UpdateStatus && u.Kind != capture.UpdateImage {
		return
	}
	select {
	case r.updates <- u:
	default:
		r.log.Warn("recorder queue full, dropping update", "kind", u.Kind, "session", u.Session)
	}
}

// Run writes queued updates until ctx is cancelled, then flushes what is
// already queued.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case u := <-r.updates:
			r.record(ctx, u)
		case <-ctx.Done():
			flush, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				select {
				case u := <-r.updates:
					r.record(flush, u)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) record(ctx context.Context, u capture.Update) {
	if err := r.ensureSession(ctx, u); err != nil {
		r.log.Error("failed to record session", "session", u.Session, "error", err)
		return
	}

	switch u.Kind {
	case capture.UpdateStatus:
		if !terminal(u.Status) {
			return
		}
		if err := r.sessions.Finish(ctx, u.Session, u.Status, u.Time); err != nil {
			r.log.Error("failed to finish session", "session", u.Session, "error", err)
		}
	case capture.UpdateImage:
		frame := &Frame{
			ID:         uuid.NewString(),
			SessionID:  u.Session,
			JobID:      u.JobID,
			Target:     u.Target,
			FrameType:  u.FrameType,
			Filter:     u.Filter,
			Exposure:   u.Exposure,
			Path:       u.Path,
			MeanADU:    u.ADU,
			HFR:        u.HFR,
			CapturedAt: u.Time,
		}
		if err := r.frames.Insert(ctx, frame); err != nil {
			r.log.Error("failed to record frame", "path", u.Path, "error", err)
		}
	}
}

func (r *Recorder) ensureSession(ctx context.Context, u capture.Update) error {
	target, ok := r.known[u.Session]
	if !ok {
		err := r.sessions.Create(ctx, &Session{
			ID:           u.Session,
			SequenceFile: r.SequenceFile,
			Target:       u.Target,
			Observer:     r.Observer,
			StartedAt:    u.Time,
		})
		if err != nil && !errors.Is(err, ErrSessionExists) {
			return err
		}
		r.known[u.Session] = u.Target
		return nil
	}
	if u.Target != "" && u.Target != target {
		if err := r.sessions.UpdateTarget(ctx, u.Session, u.Target); err != nil {
			return err
		}
		r.known[u.Session] = u.Target
	}
	return nil
}

func terminal(status string) bool {
	switch status {
	case capture.StatusComplete.String(), capture.StatusAborted.String(), capture.StatusError.String():
		return true
	}
	return false
}
