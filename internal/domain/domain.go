package domain

import "time"

type Feed struct {
	ID           int64
	URL          string
	Title        string
	Description  string
	LastUpdated  *time.Time
	ETag         string
	LastModified string
	CreatedAt    time.Time
}

// FeedMetadata is what a successful fetch writes back onto a Feed row.
type FeedMetadata struct {
	Title        string
	Description  string
	ETag         string
	LastModified string
	UpdatedAt    time.Time
}

type FeedItem struct {
	ID          int64
	FeedID      int64
	GUID        string
	Title       string
	Link        string
	Description string
	Content     string
	Published   *time.Time
	CreatedAt   time.Time
}

type Folder struct {
	ID        int64
	SessionID string
	Name      string
}

// SessionItem is a FeedItem joined with the per-session overlay.
// A missing user_items row reads as unread, unstarred and unfiled.
type SessionItem struct {
	FeedItem
	FeedTitle  string
	IsRead     bool
	Starred    bool
	FolderID   *int64
	FolderName string
}

type ItemFilter struct {
	FeedID     int64
	FolderID   int64
	UnreadOnly bool
	Page       int
	PageSize   int
}

type FeedJob struct {
	FeedID       int64
	URL          string
	Title        string
	ETag         string
	LastModified string
	LastUpdated  *time.Time
}

func JobForFeed(f Feed) FeedJob {
	return FeedJob{
		FeedID:       f.ID,
		URL:          f.URL,
		Title:        f.Title,
		ETag:         f.ETag,
		LastModified: f.LastModified,
		LastUpdated:  f.LastUpdated,
	}
}

type DuplicateCleanup struct {
	DuplicateURLs         int
	FeedsRemoved          int
	SubscriptionsMigrated int
}
