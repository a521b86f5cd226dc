package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"rssreader/internal/domain"
)

const defaultPageSize = 50

// UpsertFeedItem inserts an item or refreshes the stored copy keyed on (feed_id, guid).
// The row id survives updates, so per-session state attached to it is kept.
func (d *Database) UpsertFeedItem(ctx context.Context, item domain.FeedItem) (int64, error) {
	item.GUID = strings.TrimSpace(item.GUID)
	item.Title = strings.TrimSpace(item.Title)
	item.Link = strings.TrimSpace(item.Link)

	if item.GUID == "" || item.Title == "" || item.Link == "" {
		return 0, errors.New("item guid, title and link are required")
	}

	query := `insert into feed_items (feed_id, guid, title, link, description, content, published)
	values (?, ?, ?, ?, ?, ?, ?)
	on conflict (feed_id, guid) do update
	set title = excluded.title,
	link = excluded.link,
	description = excluded.description,
	content = excluded.content,
	published = excluded.published
	returning id`

	var id int64
	err := d.withRetry(ctx, "UpsertFeedItem", func() error {
		return d.db.QueryRowContext(ctx, query,
			item.FeedID,
			item.GUID,
			item.Title,
			item.Link,
			nullString(item.Description),
			nullString(item.Content),
			nullTime(item.Published),
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("upsert feed item: %w", err)
	}

	return id, nil
}

func (d *Database) CountFeedItems(ctx context.Context, feedID int64) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, "select count(*) from feed_items where feed_id = ?", feedID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count feed items: %w", err)
	}

	return n, nil
}

const sessionItemSelect = `select fi.id, fi.feed_id, fi.guid, fi.title, fi.link, fi.description, fi.content,
	fi.published, fi.created_at, f.title,
	coalesce(ui.is_read, 0), coalesce(ui.starred, 0), ui.folder_id, coalesce(fo.name, '')
	from feed_items as fi
	join feeds as f
	on f.id = fi.feed_id
	join user_feeds as uf
	on uf.feed_id = fi.feed_id and uf.session_id = ?
	left join user_items as ui
	on ui.item_id = fi.id and ui.session_id = uf.session_id
	left join folders as fo
	on fo.id = ui.folder_id`

func scanSessionItem(row rowScanner) (domain.SessionItem, error) {
	var (
		it          domain.SessionItem
		description sql.NullString
		content     sql.NullString
		published   sql.NullTime
		folderID    sql.NullInt64
	)

	if err := row.Scan(
		&it.ID,
		&it.FeedID,
		&it.GUID,
		&it.Title,
		&it.Link,
		&description,
		&content,
		&published,
		&it.CreatedAt,
		&it.FeedTitle,
		&it.IsRead,
		&it.Starred,
		&folderID,
		&it.FolderName,
	); err != nil {
		return domain.SessionItem{}, err
	}

	it.Description = description.String
	it.Content = content.String
	it.Published = timePtr(published)
	if folderID.Valid {
		id := folderID.Int64
		it.FolderID = &id
	}

	return it, nil
}

// ListSessionItems returns items of the feeds the session subscribes to, newest first,
// merged with the session's read/star/folder overlay.
func (d *Database) ListSessionItems(
	ctx context.Context,
	sessionID string,
	filter domain.ItemFilter,
) ([]domain.SessionItem, error) {
	var (
		where []string
		args  = []any{sessionID}
	)

	if filter.FeedID > 0 {
		where = append(where, "fi.feed_id = ?")
		args = append(args, filter.FeedID)
	}
	if filter.FolderID > 0 {
		where = append(where, "ui.folder_id = ?")
		args = append(args, filter.FolderID)
	}
	if filter.UnreadOnly {
		where = append(where, "coalesce(ui.is_read, 0) = 0")
	}

	query := sessionItemSelect
	if len(where) > 0 {
		query += "\n\twhere " + strings.Join(where, " and ")
	}
	query += "\n\torder by coalesce(fi.published, fi.created_at) desc, fi.id desc\n\tlimit ? offset ?"

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	page := max(filter.Page, 1)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"sessionID", sessionID,
				"operation", "ListSessionItems")
		}
	}()

	var items []domain.SessionItem
	for rows.Next() {
		it, err := scanSessionItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		items = append(items, it)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return items, nil
}

func (d *Database) GetSessionItem(
	ctx context.Context,
	sessionID string,
	itemID int64,
) (domain.SessionItem, error) {
	query := sessionItemSelect + "\n\twhere fi.id = ?"

	it, err := scanSessionItem(d.db.QueryRowContext(ctx, query, sessionID, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionItem{}, fmt.Errorf("item %d: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return domain.SessionItem{}, fmt.Errorf("select item: %w", err)
	}

	return it, nil
}

// ToggleRead flips the read flag and returns the new value. A missing overlay row counts as unread.
func (d *Database) ToggleRead(ctx context.Context, sessionID string, itemID int64) (bool, error) {
	query := `insert into user_items (session_id, item_id, is_read)
	values (?, ?, 1)
	on conflict (session_id, item_id) do update
	set is_read = not user_items.is_read,
	marked_at = current_timestamp
	returning is_read`

	return d.toggle(ctx, "ToggleRead", query, sessionID, itemID)
}

// ToggleStar flips the starred flag and returns the new value.
func (d *Database) ToggleStar(ctx context.Context, sessionID string, itemID int64) (bool, error) {
	query := `insert into user_items (session_id, item_id, starred)
	values (?, ?, 1)
	on conflict (session_id, item_id) do update
	set starred = not user_items.starred,
	marked_at = current_timestamp
	returning starred`

	return d.toggle(ctx, "ToggleStar", query, sessionID, itemID)
}

func (d *Database) toggle(
	ctx context.Context,
	operation string,
	query string,
	sessionID string,
	itemID int64,
) (bool, error) {
	var value bool
	err := d.withRetry(ctx, operation, func() error {
		return d.db.QueryRowContext(ctx, query, sessionID, itemID).Scan(&value)
	})
	if err != nil {
		return false, fmt.Errorf("toggle item state: %w", err)
	}

	return value, nil
}

func (d *Database) SetRead(ctx context.Context, sessionID string, itemID int64, read bool) error {
	query := `insert into user_items (session_id, item_id, is_read)
	values (?, ?, ?)
	on conflict (session_id, item_id) do update
	set is_read = excluded.is_read,
	marked_at = current_timestamp`

	err := d.withRetry(ctx, "SetRead", func() error {
		_, err := d.db.ExecContext(ctx, query, sessionID, itemID, read)
		return err
	})
	if err != nil {
		return fmt.Errorf("set item read: %w", err)
	}

	return nil
}

// MoveToFolder files an item into one of the session's folders, or unfiles it when folderID is nil.
func (d *Database) MoveToFolder(
	ctx context.Context,
	sessionID string,
	itemID int64,
	folderID *int64,
) error {
	var folder sql.NullInt64
	if folderID != nil {
		if _, err := d.getFolder(ctx, sessionID, *folderID); err != nil {
			return err
		}
		folder = sql.NullInt64{Int64: *folderID, Valid: true}
	}

	query := `insert into user_items (session_id, item_id, folder_id)
	values (?, ?, ?)
	on conflict (session_id, item_id) do update
	set folder_id = excluded.folder_id,
	marked_at = current_timestamp`

	err := d.withRetry(ctx, "MoveToFolder", func() error {
		_, err := d.db.ExecContext(ctx, query, sessionID, itemID, folder)
		return err
	})
	if err != nil {
		return fmt.Errorf("move item to folder: %w", err)
	}

	return nil
}
