package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// isBusy reports SQLite lock contention, the only error worth retrying
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// withRetry runs op, retrying with exponential backoff while SQLite reports lock contention.
func withRetry(ctx context.Context, op func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = op(); err == nil || !isBusy(err) {
			return err
		}
		select {
		case <-time.After(baseDelay * time.Duration(1<<i)): // 50ms, 100ms, 200ms
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Wrapf(err, "still locked after %d attempts", maxRetries)
}
