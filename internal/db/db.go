package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/unklstewy/skycapture/pkg/config"
)

//go:embed schema_postgres.sql schema_sqlite.sql
var schemaSQL embed.FS

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// DB wraps a database connection with helper methods.
type DB struct {
	*sql.DB
	config config.DatabaseConfig
}

// Connect opens and pings the configured database.
func Connect(cfg config.DatabaseConfig) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
		cfg.Driver = driver
	}
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if driver == DriverSQLite && cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open(driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// One writer; a second connection to :memory: would be a different database.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: sqlDB, config: cfg}, nil
}

// Driver returns the database/sql driver name in use.
func (db *DB) Driver() string {
	return db.config.Driver
}

// InitSchema creates the capture history tables if they do not exist.
func (db *DB) InitSchema(ctx context.Context) error {
	name := "schema_sqlite.sql"
	if db.Driver() == DriverPostgres {
		name = "schema_postgres.sql"
	}
	schemaBytes, err := schemaSQL.ReadFile(name)
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	if _, err := db.ExecContext(ctx, string(schemaBytes)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (db *DB) rebind(query string) string {
	if db.Driver() != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CleanupOldSessions deletes sessions (and their frames) that ended before
// maxAge ago.
func (db *DB) CleanupOldSessions(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	_, err := db.ExecContext(ctx, db.rebind(
		`DELETE FROM captured_frames WHERE session_id IN
			(SELECT id FROM capture_sessions WHERE ended_at IS NOT NULL AND ended_at < ?)`),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old frames: %w", err)
	}

	res, err := db.ExecContext(ctx, db.rebind(
		`DELETE FROM capture_sessions WHERE ended_at IS NOT NULL AND ended_at < ?`),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sessions: %w", err)
	}
	return res.RowsAffected()
}

// GetStats returns row counts and total integration time.
func (db *DB) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var sessions int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM capture_sessions`).Scan(&sessions); err != nil {
		return nil, err
	}
	stats["sessions"] = sessions

	var frames int64
	var integration float64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(exposure_seconds), 0) FROM captured_frames`,
	).Scan(&frames, &integration)
	if err != nil {
		return nil, err
	}
	stats["frames"] = frames
	stats["integration_seconds"] = integration

	return stats, nil
}
