package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"rssreader/internal/domain"
)

type fakeLister struct {
	all     []domain.Feed
	session map[string][]domain.Feed
}

func (f *fakeLister) ListFeeds(context.Context) ([]domain.Feed, error) {
	return f.all, nil
}

func (f *fakeLister) ListSessionFeeds(_ context.Context, sessionID string) ([]domain.Feed, error) {
	return f.session[sessionID], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr(t time.Time) *time.Time {
	return &t
}

func TestIsStale(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		lastUpdated *time.Time
		want        bool
	}{
		{"never updated", nil, true},
		{"fresh", ptr(now.Add(-30 * time.Second)), false},
		{"exactly at interval", ptr(now.Add(-time.Minute)), false},
		{"old", ptr(now.Add(-2 * time.Minute)), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := isStale(test.lastUpdated, now, time.Minute); got != test.want {
				t.Errorf("got %v, want %v", got, test.want)
			}
		})
	}
}

func TestEnqueueStaleFeedsForSession(t *testing.T) {
	now := time.Now()
	lister := &fakeLister{
		session: map[string][]domain.Feed{
			"s1": {
				{ID: 1, URL: "https://a/feed"},
				{ID: 2, URL: "https://b/feed", LastUpdated: ptr(now)},
				{ID: 3, URL: "https://c/feed", LastUpdated: ptr(now.Add(-time.Hour))},
			},
		},
	}

	q := NewQueueManager(lister, 10, time.Minute, discardLogger())

	queued, err := q.EnqueueStaleFeedsFor(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if queued != 2 || q.Depth() != 2 {
		t.Fatalf("expected 2 queued, got %d (depth %d)", queued, q.Depth())
	}

	queued, err = q.EnqueueStaleFeedsFor(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if queued != 0 || q.Depth() != 2 {
		t.Fatalf("double enqueue must not add jobs, got %d (depth %d)", queued, q.Depth())
	}

	job := <-q.Jobs()
	q.OnJobProcessed(job.FeedID)

	if q.IsInFlight(job.FeedID) {
		t.Fatalf("feed %d must be released", job.FeedID)
	}

	queued, err = q.EnqueueStaleFeedsFor(context.Background(), "s1")
	if err != nil || queued != 1 {
		t.Fatalf("expected the released feed to be queued again, got %d (%v)", queued, err)
	}
}

func TestEnqueueConcurrentProducers(t *testing.T) {
	lister := &fakeLister{all: []domain.Feed{{ID: 1, URL: "https://a/feed"}}}
	q := NewQueueManager(lister, 10, time.Minute, discardLogger())

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			if _, err := q.EnqueueAllStale(context.Background(), time.Minute); err != nil {
				t.Errorf("enqueue: %v", err)
			}
		})
	}
	wg.Wait()

	if q.Depth() != 1 {
		t.Fatalf("expected exactly one job, got %d", q.Depth())
	}
}

func TestEnqueueFullQueue(t *testing.T) {
	lister := &fakeLister{all: []domain.Feed{
		{ID: 1, URL: "https://a/feed"},
		{ID: 2, URL: "https://b/feed"},
	}}
	q := NewQueueManager(lister, 1, time.Minute, discardLogger())

	queued, err := q.EnqueueAllStale(context.Background(), time.Minute)
	if queued != 1 {
		t.Fatalf("expected 1 queued, got %d", queued)
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.InFlight() != 1 || q.IsInFlight(2) {
		t.Fatalf("dropped feed must leave the in-flight set")
	}
}

func TestEnqueueCancelledContext(t *testing.T) {
	q := NewQueueManager(&fakeLister{}, 1, time.Minute, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Enqueue(ctx, domain.FeedJob{FeedID: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if q.InFlight() != 0 {
		t.Fatalf("cancelled enqueue must not mark the feed")
	}
}

func TestMemoryLevel(t *testing.T) {
	tests := []struct {
		used    float64
		ceiling int
		want    string
	}{
		{10, 100, MemoryNormal},
		{75, 100, MemoryWarning},
		{99, 100, MemoryWarning},
		{100, 100, MemoryCritical},
		{500, 0, MemoryNormal},
	}

	for _, test := range tests {
		if got := memoryLevel(test.used, test.ceiling); got != test.want {
			t.Errorf("memoryLevel(%v, %d) = %q, want %q", test.used, test.ceiling, got, test.want)
		}
	}
}
