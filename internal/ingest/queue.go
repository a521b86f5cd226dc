package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"rssreader/internal/domain"
)

var ErrQueueFull = errors.New("feed queue is full")

type FeedLister interface {
	ListFeeds(ctx context.Context) ([]domain.Feed, error)
	ListSessionFeeds(ctx context.Context, sessionID string) ([]domain.Feed, error)
}

// QueueManager decides which feeds are stale and keeps every feed at most once in the
// queue or in a worker at any time.
type QueueManager struct {
	feeds         FeedLister
	jobs          chan domain.FeedJob
	staleInterval time.Duration

	mu       sync.Mutex
	inFlight map[int64]struct{}

	now func() time.Time
	log *slog.Logger
}

func NewQueueManager(
	feeds FeedLister,
	size int,
	staleInterval time.Duration,
	log *slog.Logger,
) *QueueManager {
	return &QueueManager{
		feeds:         feeds,
		jobs:          make(chan domain.FeedJob, max(size, 1)),
		staleInterval: staleInterval,
		inFlight:      make(map[int64]struct{}),
		now:           time.Now,
		log:           log,
	}
}

// EnqueueStaleFeedsFor queues the session's feeds that have not been refreshed within the
// stale interval. It returns how many jobs were queued.
func (q *QueueManager) EnqueueStaleFeedsFor(ctx context.Context, sessionID string) (int, error) {
	feeds, err := q.feeds.ListSessionFeeds(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("list session feeds: %w", err)
	}

	return q.enqueueStale(ctx, feeds, q.staleInterval)
}

// EnqueueAllStale queues every feed not refreshed within olderThan, regardless of session.
func (q *QueueManager) EnqueueAllStale(ctx context.Context, olderThan time.Duration) (int, error) {
	feeds, err := q.feeds.ListFeeds(ctx)
	if err != nil {
		return 0, fmt.Errorf("list feeds: %w", err)
	}

	return q.enqueueStale(ctx, feeds, olderThan)
}

func (q *QueueManager) enqueueStale(
	ctx context.Context,
	feeds []domain.Feed,
	interval time.Duration,
) (int, error) {
	now := q.now()
	stale := lo.Filter(feeds, func(f domain.Feed, _ int) bool {
		return isStale(f.LastUpdated, now, interval)
	})

	queued := 0
	var errs []error
	for _, f := range stale {
		ok, err := q.Enqueue(ctx, domain.JobForFeed(f))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			queued++
		}
	}

	if queued > 0 {
		q.log.DebugContext(ctx, "Queued stale feeds",
			"queued", queued,
			"stale", len(stale),
			"depth", q.Depth())
	}

	return queued, errors.Join(errs...)
}

// Enqueue pushes a job unless the feed is already in flight. It reports whether the job was queued.
// A full queue is not waited on: the feed is released and ErrQueueFull returned.
func (q *QueueManager) Enqueue(ctx context.Context, job domain.FeedJob) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	q.mu.Lock()
	if _, ok := q.inFlight[job.FeedID]; ok {
		q.mu.Unlock()
		return false, nil
	}
	q.inFlight[job.FeedID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return true, nil
	default:
		q.OnJobProcessed(job.FeedID)

		q.log.WarnContext(ctx, "Feed queue is full",
			"feedID", job.FeedID,
			"feedURL", job.URL,
			"capacity", cap(q.jobs))

		return false, fmt.Errorf("enqueue feed %d: %w", job.FeedID, ErrQueueFull)
	}
}

// OnJobProcessed releases a feed so it can be queued again.
func (q *QueueManager) OnJobProcessed(feedID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inFlight, feedID)
}

func (q *QueueManager) Jobs() <-chan domain.FeedJob {
	return q.jobs
}

func (q *QueueManager) Depth() int {
	return len(q.jobs)
}

func (q *QueueManager) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.inFlight)
}

func (q *QueueManager) IsInFlight(feedID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.inFlight[feedID]

	return ok
}

func isStale(lastUpdated *time.Time, now time.Time, interval time.Duration) bool {
	if lastUpdated == nil {
		return true
	}

	return now.Sub(*lastUpdated) > interval
}
