package db

import (
	"context"
	"fmt"
	"time"
)

// Frame is one image written by the sequencer.
type Frame struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	JobID      int       `json:"job_id"`
	Target     string    `json:"target"`
	FrameType  string    `json:"frame_type"`
	Filter     string    `json:"filter"`
	Exposure   float64   `json:"exposure_seconds"`
	Path       string    `json:"path"`
	MeanADU    float64   `json:"mean_adu"`
	HFR        float64   `json:"hfr"`
	CapturedAt time.Time `json:"captured_at"`
}

// Integration is the total exposure collected for one target and filter.
type Integration struct {
	Target  string  `json:"target"`
	Filter  string  `json:"filter"`
	Frames  int     `json:"frames"`
	Seconds float64 `json:"seconds"`
}

// FrameRepository stores captured frames.
type FrameRepository struct {
	db *DB
}

// NewFrameRepository creates a new frame repository
func NewFrameRepository(db *DB) *FrameRepository {
	return &FrameRepository{db: db}
}

// Insert records a frame.
func (r *FrameRepository) Insert(ctx context.Context, f *Frame) error {
	query := r.db.rebind(`
		INSERT INTO captured_frames (
			id, session_id, job_id, target, frame_type, filter,
			exposure_seconds, path, mean_adu, hfr, captured_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		f.ID, f.SessionID, f.JobID, f.Target, f.FrameType, f.Filter,
		f.Exposure, f.Path, f.MeanADU, f.HFR, f.CapturedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert frame: %w", err)
	}
	return nil
}

// ListBySession returns a session's frames in capture order.
func (r *FrameRepository) ListBySession(ctx context.Context, sessionID string) ([]*Frame, error) {
	query := r.db.rebind(`
		SELECT id, session_id, job_id, target, frame_type, filter,
		       exposure_seconds, path, mean_adu, hfr, captured_at
		FROM captured_frames
		WHERE session_id = ?
		ORDER BY captured_at, path
	`)
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	defer rows.Close()

	var frames []*Frame
	for rows.Next() {
		f := &Frame{}
		err := rows.Scan(
			&f.ID, &f.SessionID, &f.JobID, &f.Target, &f.FrameType, &f.Filter,
			&f.Exposure, &f.Path, &f.MeanADU, &f.HFR, &f.CapturedAt,
		)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// IntegrationByTarget sums light frame exposure per filter for a target
// across all sessions.
func (r *FrameRepository) IntegrationByTarget(ctx context.Context, target string) ([]Integration, error) {
	query := r.db.rebind(`
		SELECT target, filter, COUNT(*), SUM(exposure_seconds)
		FROM captured_frames
		WHERE target = ? AND frame_type = 'Light'
		GROUP BY target, filter
		ORDER BY filter
	`)
	rows, err := r.db.QueryContext(ctx, query, target)
	if err != nil {
		return nil, fmt.Errorf("failed to sum integration: %w", err)
	}
	defer rows.Close()

	var totals []Integration
	for rows.Next() {
		var in Integration
		if err := rows.Scan(&in.Target, &in.Filter, &in.Frames, &in.Seconds); err != nil {
			return nil, err
		}
		totals = append(totals, in)
	}
	return totals, rows.Err()
}
