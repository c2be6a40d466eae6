package db

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/unklstewy/skycapture/pkg/config"
	"github.com/unklstewy/skycapture/pkg/retry"
)

// ReconnectWithRetry connects with exponential backoff so that a database
// that is still starting does not abort the capture run.
func ReconnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, rc retry.RetryConfig, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	attempt := 0
	return retry.RetryWithBackoffResult(ctx, rc, func() (*DB, error) {
		attempt++
		logger.Info("database connection attempt", "attempt", attempt, "driver", cfg.Driver)
		db, err := Connect(cfg)
		if err != nil {
			logger.Warn("database connection failed", "attempt", attempt, "error", err)
			return nil, err
		}
		return db, nil
	})
}

// EnsureConnection pings db and reconnects if it is nil or dead.
func EnsureConnection(ctx context.Context, db *DB, cfg config.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	if db == nil {
		return ReconnectWithRetry(ctx, cfg, retry.DefaultRetryConfig(), logger)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if logger != nil {
			logger.Warn("database connection lost, reconnecting", "error", err)
		}
		db.Close()
		return ReconnectWithRetry(ctx, cfg, retry.DefaultRetryConfig(), logger)
	}
	return db, nil
}

// HealthCheck reports whether the database answers a trivial query.
func HealthCheck(ctx context.Context, db *DB) bool {
	if db == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return false
	}
	return result == 1
}

var connErrors = []string{
	"connection refused",
	"broken pipe",
	"no connection",
	"connection reset",
	"eof",
	"timeout",
	"database is locked",
}

// isConnError reports whether err looks like a transient connection failure.
func isConnError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range connErrors {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// WithRetry runs operation, retrying only connection failures.
func WithRetry(ctx context.Context, rc retry.RetryConfig, operation func() error) error {
	return retry.RetryWithBackoff(ctx, rc, func() error {
		err := operation()
		if err != nil && !isConnError(err) {
			return retry.Permanent(err)
		}
		return err
	})
}
