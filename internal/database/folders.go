package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"rssreader/internal/domain"
)

func (d *Database) CreateFolder(ctx context.Context, sessionID, name string) (domain.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Folder{}, errors.New("folder name is empty")
	}

	var id int64
	err := d.withRetry(ctx, "CreateFolder", func() error {
		return d.db.QueryRowContext(ctx,
			"insert into folders (session_id, name) values (?, ?) returning id",
			sessionID, name).Scan(&id)
	})
	if err != nil {
		return domain.Folder{}, fmt.Errorf("insert folder: %w", err)
	}

	return domain.Folder{ID: id, SessionID: sessionID, Name: name}, nil
}

func (d *Database) ListFolders(ctx context.Context, sessionID string) ([]domain.Folder, error) {
	rows, err := d.db.QueryContext(ctx,
		"select id, name from folders where session_id = ? order by name collate nocase, id",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"sessionID", sessionID,
				"operation", "ListFolders")
		}
	}()

	var folders []domain.Folder
	for rows.Next() {
		f := domain.Folder{SessionID: sessionID}
		if err = rows.Scan(&f.ID, &f.Name); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		folders = append(folders, f)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return folders, nil
}

// DeleteFolder removes a folder; items filed in it become unfiled.
func (d *Database) DeleteFolder(ctx context.Context, sessionID string, folderID int64) error {
	var affected int64
	err := d.withRetry(ctx, "DeleteFolder", func() error {
		res, err := d.db.ExecContext(ctx,
			"delete from folders where id = ? and session_id = ?",
			folderID, sessionID)
		if err != nil {
			return err
		}

		affected, err = res.RowsAffected()

		return err
	})
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("folder %d: %w", folderID, ErrNotFound)
	}

	return nil
}

func (d *Database) getFolder(ctx context.Context, sessionID string, folderID int64) (domain.Folder, error) {
	f := domain.Folder{SessionID: sessionID}

	err := d.db.QueryRowContext(ctx,
		"select id, name from folders where id = ? and session_id = ?",
		folderID, sessionID).Scan(&f.ID, &f.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Folder{}, fmt.Errorf("folder %d: %w", folderID, ErrNotFound)
	}
	if err != nil {
		return domain.Folder{}, fmt.Errorf("select folder: %w", err)
	}

	return f, nil
}
