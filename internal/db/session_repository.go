// Package db records capture history: one row per sequencer session and one
// per saved frame. PostgreSQL and SQLite are supported.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Session is one run of the capture queue.
type Session struct {
	ID           string     `json:"id"`
	SequenceFile string     `json:"sequence_file"`
	Target       string     `json:"target"`
	Observer     string     `json:"observer"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

var (
	// ErrSessionNotFound is returned when a session id is unknown
	ErrSessionNotFound = errors.New("capture session not found")
	// ErrSessionExists is returned when creating a duplicate session
	ErrSessionExists = errors.New("capture session already exists")
)

// SessionRepository stores capture sessions.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, s *Session) error {
	if s.Status == "" {
		s.Status = "Capturing"
	}
	query := r.db.rebind(`
		INSERT INTO capture_sessions (id, sequence_file, target, observer, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.SequenceFile, s.Target, s.Observer, s.Status, s.StartedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSessionExists
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// UpdateTarget records the target name once the sequence reports it.
func (r *SessionRepository) UpdateTarget(ctx context.Context, id, target string) error {
	return r.exec(ctx, `UPDATE capture_sessions SET target = ? WHERE id = ?`, target, id)
}

// Finish sets the final status and end time.
func (r *SessionRepository) Finish(ctx context.Context, id, status string, endedAt time.Time) error {
	return r.exec(ctx,
		`UPDATE capture_sessions SET status = ?, ended_at = ? WHERE id = ?`,
		status, endedAt.UTC(), id,
	)
}

func (r *SessionRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// GetByID retrieves a session.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*Session, error) {
	query := r.db.rebind(`
		SELECT id, sequence_file, target, observer, status, started_at, ended_at
		FROM capture_sessions
		WHERE id = ?
	`)
	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListRecent returns the newest sessions first.
func (r *SessionRepository) ListRecent(ctx context.Context, limit int) ([]*Session, error) {
	query := r.db.rebind(`
		SELECT id, sequence_file, target, observer, status, started_at, ended_at
		FROM capture_sessions
		ORDER BY started_at DESC
		LIMIT ?
	`)
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	s := &Session{}
	var ended sql.NullTime
	err := row.Scan(&s.ID, &s.SequenceFile, &s.Target, &s.Observer, &s.Status, &s.StartedAt, &ended)
	if err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	return s, nil
}

// isUniqueViolation matches the duplicate-key errors of both drivers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
