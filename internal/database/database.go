package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // Required by the library implementation.
)

const (
	defaultRetries    = 5
	defaultRetryDelay = 50 * time.Millisecond
	busyTimeoutMillis = 5000
)

var ErrNotFound = errors.New("not found")

type Database struct {
	db         *sql.DB
	retries    int
	retryDelay time.Duration
	log        *slog.Logger
}

type Option func(*Database)

// WithRetries bounds how many times a write is attempted when SQLite reports busy or locked.
func WithRetries(retries int, delay time.Duration) Option {
	return func(d *Database) {
		if retries > 0 {
			d.retries = retries
		}
		if delay > 0 {
			d.retryDelay = delay
		}
	}
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

func New(ctx context.Context, dbPath string, log *slog.Logger, opts ...Option) (*Database, error) {
	dbFile, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open DB file: %w", err)
	}

	if err = dbFile.PingContext(ctx); err != nil {
		_ = dbFile.Close()
		return nil, fmt.Errorf("ping DB: %w", err)
	}

	dbInstance, err := sqlite3.WithInstance(dbFile, &sqlite3.Config{})
	if err != nil {
		_ = dbFile.Close()
		return nil, fmt.Errorf("create DB instance: %w", err)
	}

	srcInstance, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		_ = dbFile.Close()
		return nil, fmt.Errorf("create source instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcInstance, "sqlite3", dbInstance)
	if err != nil {
		_ = dbFile.Close()
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}

	migrateErr := m.Up()

	version, dirty, versionErr := m.Version()
	fields := []any{
		"dbPath", dbPath,
	}

	if versionErr == nil {
		fields = append(fields, "version", version, "dirty", dirty)
	} else if !errors.Is(versionErr, migrate.ErrNilVersion) {
		log.WarnContext(ctx, "Failed to fetch migration version",
			"error", versionErr,
			"dbPath", dbPath)
	}

	if migrateErr != nil {
		if !errors.Is(migrateErr, migrate.ErrNoChange) {
			_ = dbFile.Close()
			return nil, fmt.Errorf("apply migrations: %w", migrateErr)
		}

		log.InfoContext(ctx, "No migrations to apply", fields...)
	} else {
		log.InfoContext(ctx, "DB is migrated", fields...)
	}

	d := &Database{
		db:         dbFile,
		retries:    defaultRetries,
		retryDelay: defaultRetryDelay,
		log:        log,
	}
	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func dsn(dbPath string) string {
	params := fmt.Sprintf("_foreign_keys=on&_busy_timeout=%d&_journal_mode=WAL", busyTimeoutMillis)

	if strings.Contains(dbPath, "?") {
		return dbPath + "&" + params
	}

	return dbPath + "?" + params
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)

	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	v := t.Time.UTC()

	return &v
}
