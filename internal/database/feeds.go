package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"rssreader/internal/domain"
)

const feedColumns = "id, url, title, description, last_updated, etag, last_modified, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (domain.Feed, error) {
	var (
		f            domain.Feed
		lastUpdated  sql.NullTime
		etag         sql.NullString
		lastModified sql.NullString
	)

	if err := row.Scan(
		&f.ID,
		&f.URL,
		&f.Title,
		&f.Description,
		&lastUpdated,
		&etag,
		&lastModified,
		&f.CreatedAt,
	); err != nil {
		return domain.Feed{}, err
	}

	f.URL = strings.TrimSpace(f.URL)
	f.Title = strings.TrimSpace(f.Title)
	f.LastUpdated = timePtr(lastUpdated)
	f.ETag = etag.String
	f.LastModified = lastModified.String

	return f, nil
}

// CreateFeed inserts a feed or returns the id of the existing row with the same URL.
// An existing non-empty title is kept.
func (d *Database) CreateFeed(
	ctx context.Context,
	feedURL string,
	title string,
	description string,
) (int64, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return 0, errors.New("feed URL is empty")
	}

	query := `insert into feeds (url, title, description)
	values (?, ?, ?)
	on conflict (url) do update
	set title = coalesce(nullif(feeds.title, ''), excluded.title)
	returning id`

	var id int64
	err := d.withRetry(ctx, "CreateFeed", func() error {
		return d.db.QueryRowContext(ctx, query,
			feedURL,
			strings.TrimSpace(title),
			strings.TrimSpace(description),
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("insert feed: %w", err)
	}

	return id, nil
}

func (d *Database) GetFeed(ctx context.Context, feedID int64) (domain.Feed, error) {
	query := "select " + feedColumns + " from feeds where id = ?"

	f, err := scanFeed(d.db.QueryRowContext(ctx, query, feedID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Feed{}, fmt.Errorf("feed %d: %w", feedID, ErrNotFound)
	}
	if err != nil {
		return domain.Feed{}, fmt.Errorf("select feed: %w", err)
	}

	return f, nil
}

func (d *Database) GetFeedByURL(ctx context.Context, feedURL string) (domain.Feed, error) {
	query := "select " + feedColumns + " from feeds where url = ?"

	f, err := scanFeed(d.db.QueryRowContext(ctx, query, strings.TrimSpace(feedURL)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Feed{}, fmt.Errorf("feed %q: %w", feedURL, ErrNotFound)
	}
	if err != nil {
		return domain.Feed{}, fmt.Errorf("select feed: %w", err)
	}

	return f, nil
}

func (d *Database) ListFeeds(ctx context.Context) ([]domain.Feed, error) {
	query := "select " + feedColumns + " from feeds order by id"

	return d.queryFeeds(ctx, "ListFeeds", query)
}

func (d *Database) ListSessionFeeds(ctx context.Context, sessionID string) ([]domain.Feed, error) {
	query := `select f.id, f.url, f.title, f.description, f.last_updated, f.etag, f.last_modified, f.created_at
	from feeds as f
	join user_feeds as uf
	on uf.feed_id = f.id
	where uf.session_id = ?
	order by f.title collate nocase, f.id`

	return d.queryFeeds(ctx, "ListSessionFeeds", query, sessionID)
}

func (d *Database) queryFeeds(
	ctx context.Context,
	operation string,
	query string,
	args ...any,
) ([]domain.Feed, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"operation", operation)
		}
	}()

	var feeds []domain.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		feeds = append(feeds, f)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return feeds, nil
}

// UpdateFeedMetadata records a successful fetch. Empty title and description keep the stored values.
func (d *Database) UpdateFeedMetadata(
	ctx context.Context,
	feedID int64,
	meta domain.FeedMetadata,
) error {
	updatedAt := meta.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := `update feeds
	set title = coalesce(nullif(?, ''), title),
	description = coalesce(nullif(?, ''), description),
	etag = ?,
	last_modified = ?,
	last_updated = ?
	where id = ?`

	var affected int64
	err := d.withRetry(ctx, "UpdateFeedMetadata", func() error {
		res, err := d.db.ExecContext(ctx, query,
			strings.TrimSpace(meta.Title),
			strings.TrimSpace(meta.Description),
			nullString(meta.ETag),
			nullString(meta.LastModified),
			updatedAt.UTC(),
			feedID,
		)
		if err != nil {
			return err
		}

		affected, err = res.RowsAffected()

		return err
	})
	if err != nil {
		return fmt.Errorf("update feed metadata: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("feed %d: %w", feedID, ErrNotFound)
	}

	return nil
}

// CleanupDuplicateFeeds collapses feeds whose URLs differ only in scheme/host case or a trailing
// slash. The most recently updated row survives and inherits the subscriptions of the others.
func (d *Database) CleanupDuplicateFeeds(ctx context.Context) (domain.DuplicateCleanup, error) {
	var result domain.DuplicateCleanup

	feeds, err := d.ListFeeds(ctx)
	if err != nil {
		return result, fmt.Errorf("list feeds: %w", err)
	}

	groups := make(map[string][]domain.Feed)
	var order []string
	for _, f := range feeds {
		key := CanonicalFeedURL(f.URL)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], f)
	}

	for _, key := range order {
		group := groups[key]
		if len(group) < 2 {
			continue
		}

		keep := group[0]
		for _, f := range group[1:] {
			if newerFeed(f, keep) {
				keep = f
			}
		}

		var drop []int64
		for _, f := range group {
			if f.ID != keep.ID {
				drop = append(drop, f.ID)
			}
		}

		var migrated int
		err = d.withRetry(ctx, "CleanupDuplicateFeeds", func() error {
			var txErr error
			migrated, txErr = d.mergeFeeds(ctx, keep.ID, drop)
			return txErr
		})
		if err != nil {
			return result, fmt.Errorf("merge duplicates of %q: %w", key, err)
		}

		d.log.InfoContext(ctx, "Merged duplicate feeds",
			"url", keep.URL,
			"keptFeedID", keep.ID,
			"removed", len(drop),
			"migratedSubscriptions", migrated)

		result.DuplicateURLs++
		result.FeedsRemoved += len(drop)
		result.SubscriptionsMigrated += migrated
	}

	return result, nil
}

func (d *Database) mergeFeeds(ctx context.Context, keepID int64, drop []int64) (int, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	migrated := 0
	for _, id := range drop {
		res, err := tx.ExecContext(ctx,
			`insert or ignore into user_feeds (session_id, feed_id)
			select session_id, ? from user_feeds where feed_id = ?`,
			keepID, id)
		if err != nil {
			return 0, fmt.Errorf("migrate subscriptions: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("migrate subscriptions: %w", err)
		}
		migrated += int(n)

		if _, err = tx.ExecContext(ctx, "delete from feeds where id = ?", id); err != nil {
			return 0, fmt.Errorf("delete feed: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return migrated, nil
}

func newerFeed(a, b domain.Feed) bool {
	switch {
	case a.LastUpdated == nil && b.LastUpdated == nil:
		return a.ID > b.ID
	case a.LastUpdated == nil:
		return false
	case b.LastUpdated == nil:
		return true
	case a.LastUpdated.Equal(*b.LastUpdated):
		return a.ID > b.ID
	default:
		return a.LastUpdated.After(*b.LastUpdated)
	}
}

// CanonicalFeedURL lowercases scheme and host and strips a trailing slash from the path.
func CanonicalFeedURL(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.ToLower(raw), "/")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.Fragment = ""

	return u.String()
}
