package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rssreader/internal/domain"
	"rssreader/internal/extract"
	"rssreader/internal/feed"
)

type Limiter interface {
	Acquire(ctx context.Context, domain string) error
}

type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL, etag, lastModified string) feed.Result
}

type FeedSource interface {
	FeedFetcher
	Discover(ctx context.Context, pageURL string) ([]feed.CandidateFeed, error)
}

type ContentExtractor interface {
	Extract(ctx context.Context, input string, placement extract.Placement) string
}

type Store interface {
	FeedLister
	GetFeedByURL(ctx context.Context, feedURL string) (domain.Feed, error)
	CreateFeed(ctx context.Context, feedURL, title, description string) (int64, error)
	UpdateFeedMetadata(ctx context.Context, feedID int64, meta domain.FeedMetadata) error
	UpsertFeedItem(ctx context.Context, item domain.FeedItem) (int64, error)
	Subscribe(ctx context.Context, sessionID string, feedID int64) error
}

type JobResult struct {
	FeedID       int64
	Changed      bool
	ItemsStored  int
	ItemsSkipped int
	ItemsFailed  int
	Err          error
}

const (
	skipMissingGUID  = "missing guid"
	skipMissingTitle = "missing title"
	skipMissingLink  = "missing link"
	skipNoContent    = "no content"
)

// ingester is the fetch-extract-store pipeline shared by queue workers and the add-feed flow.
type ingester struct {
	limiter   Limiter
	fetcher   FeedFetcher
	extractor ContentExtractor
	store     Store
	now       func() time.Time
	log       *slog.Logger
}

func (in *ingester) processOne(ctx context.Context, job domain.FeedJob) JobResult {
	result := JobResult{FeedID: job.FeedID}

	res := in.fetch(ctx, job.URL, job.ETag, job.LastModified)
	if res.Err != nil {
		result.Err = res.Err
		return result
	}
	if !res.Changed {
		return result
	}

	result.Changed = true

	stored, skipped, failed, err := in.persist(ctx, job.FeedID, res)
	result.ItemsStored = stored
	result.ItemsSkipped = skipped
	result.ItemsFailed = failed
	result.Err = err

	return result
}

func (in *ingester) fetch(ctx context.Context, feedURL, etag, lastModified string) feed.Result {
	host := feed.Host(feedURL)
	if host == "" {
		return feed.Result{Err: fmt.Errorf("feed URL %q has no host", feedURL)}
	}

	if err := in.limiter.Acquire(ctx, host); err != nil {
		return feed.Result{Err: fmt.Errorf("acquire rate limit for %s: %w", host, err)}
	}

	return in.fetcher.Fetch(ctx, feedURL, etag, lastModified)
}

// persist records a successful fetch on the feed row and stores its entries.
// Metadata is written even when no entry survives.
func (in *ingester) persist(
	ctx context.Context,
	feedID int64,
	res feed.Result,
) (stored, skipped, failed int, err error) {
	meta := domain.FeedMetadata{
		Title:        res.Feed.Title,
		Description:  res.Feed.Description,
		ETag:         res.ETag,
		LastModified: res.LastModified,
		UpdatedAt:    in.now(),
	}

	if err = in.store.UpdateFeedMetadata(ctx, feedID, meta); err != nil {
		return 0, 0, 0, fmt.Errorf("update feed metadata: %w", err)
	}

	var errs []error
	for _, entry := range res.Feed.Entries {
		item, reason := in.buildItem(ctx, feedID, entry)
		if reason != "" {
			skipped++
			in.log.DebugContext(ctx, "Skipping feed entry",
				"feedID", feedID,
				"reason", reason,
				"entryLink", entry.Link)

			continue
		}

		if _, upsertErr := in.store.UpsertFeedItem(ctx, item); upsertErr != nil {
			failed++
			errs = append(errs, upsertErr)
			in.log.ErrorContext(ctx, "Failed to store feed item",
				"error", upsertErr,
				"feedID", feedID,
				"guid", item.GUID)

			continue
		}

		stored++
	}

	if failed > 0 && stored == 0 {
		return stored, skipped, failed, fmt.Errorf("store feed items: %w", errors.Join(errs...))
	}

	return stored, skipped, failed, nil
}

// buildItem turns a parsed entry into a storable item, or explains why it cannot be stored.
func (in *ingester) buildItem(ctx context.Context, feedID int64, e feed.ParsedEntry) (domain.FeedItem, string) {
	guid := feed.ResolveGUID(e)
	switch {
	case guid == "":
		return domain.FeedItem{}, skipMissingGUID
	case e.Title == "":
		return domain.FeedItem{}, skipMissingTitle
	case e.Link == "":
		return domain.FeedItem{}, skipMissingLink
	}

	description := in.extractor.Extract(ctx, e.Summary, extract.PlaceLeading)
	content := in.extractor.Extract(ctx, e.Content, extract.PlaceAfterFirstParagraph)
	if description == "" && content == "" {
		return domain.FeedItem{}, skipNoContent
	}

	return domain.FeedItem{
		FeedID:      feedID,
		GUID:        guid,
		Title:       e.Title,
		Link:        e.Link,
		Description: description,
		Content:     content,
		Published:   e.Published,
	}, ""
}
