package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// withRetry runs fn until it succeeds, fails with a non-busy error, or the retry budget is spent.
func (d *Database) withRetry(ctx context.Context, operation string, fn func() error) error {
	var err error

	for attempt := 1; attempt <= d.retries; attempt++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}

		d.log.WarnContext(ctx, "Database is busy",
			"error", err,
			"operation", operation,
			"attempt", attempt,
			"maxAttempts", d.retries)

		if attempt == d.retries {
			break
		}

		select {
		case <-time.After(time.Duration(attempt) * d.retryDelay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", operation, ctx.Err())
		}
	}

	return fmt.Errorf("%s: retries exhausted: %w", operation, err)
}
