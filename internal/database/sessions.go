package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// EnsureSession creates the session row if missing and bumps last_accessed otherwise.
// It reports whether the row was created.
func (d *Database) EnsureSession(ctx context.Context, sessionID string) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, errors.New("session ID is empty")
	}

	var created bool
	err := d.withRetry(ctx, "EnsureSession", func() error {
		res, err := d.db.ExecContext(ctx,
			"insert or ignore into sessions (id) values (?)",
			sessionID)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n > 0

		if created {
			return nil
		}

		_, err = d.db.ExecContext(ctx,
			"update sessions set last_accessed = current_timestamp where id = ?",
			sessionID)

		return err
	})
	if err != nil {
		return false, fmt.Errorf("ensure session: %w", err)
	}

	return created, nil
}

func (d *Database) Subscribe(ctx context.Context, sessionID string, feedID int64) error {
	err := d.withRetry(ctx, "Subscribe", func() error {
		_, err := d.db.ExecContext(ctx,
			"insert or ignore into user_feeds (session_id, feed_id) values (?, ?)",
			sessionID, feedID)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}

	return nil
}

func (d *Database) Unsubscribe(ctx context.Context, sessionID string, feedID int64) error {
	err := d.withRetry(ctx, "Unsubscribe", func() error {
		_, err := d.db.ExecContext(ctx,
			"delete from user_feeds where session_id = ? and feed_id = ?",
			sessionID, feedID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}

	return nil
}

// SubscribeToAllFeeds subscribes a session to every known feed and returns how many
// subscriptions were added.
func (d *Database) SubscribeToAllFeeds(ctx context.Context, sessionID string) (int, error) {
	var added int64
	err := d.withRetry(ctx, "SubscribeToAllFeeds", func() error {
		res, err := d.db.ExecContext(ctx,
			`insert or ignore into user_feeds (session_id, feed_id)
			select ?, id from feeds`,
			sessionID)
		if err != nil {
			return err
		}

		added, err = res.RowsAffected()

		return err
	})
	if err != nil {
		return 0, fmt.Errorf("subscribe to all feeds: %w", err)
	}

	return int(added), nil
}
