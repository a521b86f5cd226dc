package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"rssreader/internal/domain"
)

type fakeRefresher struct {
	enqueued   atomic.Int32
	supervised atomic.Int32
	olderThan  atomic.Int64
	err        error
}

func (f *fakeRefresher) EnqueueAllStale(_ context.Context, olderThan time.Duration) (int, error) {
	f.enqueued.Add(1)
	f.olderThan.Store(int64(olderThan))

	return 3, f.err
}

func (f *fakeRefresher) Supervise(context.Context) int {
	f.supervised.Add(1)

	return 0
}

type fakeCleaner struct {
	calls atomic.Int32
}

func (f *fakeCleaner) CleanupDuplicateFeeds(context.Context) (domain.DuplicateCleanup, error) {
	f.calls.Add(1)

	return domain.DuplicateCleanup{DuplicateURLs: 1, FeedsRemoved: 1}, nil
}

func newTestScheduler(ctx context.Context, r *fakeRefresher, c *fakeCleaner, cfg Config) *Scheduler {
	return New(ctx, cfg, r, c, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestJobsCallCollaborators(t *testing.T) {
	r := &fakeRefresher{}
	c := &fakeCleaner{}
	s := newTestScheduler(context.Background(), r, c, Config{StaleInterval: 15 * time.Minute})

	s.refreshStaleFeeds()
	s.superviseWorkers()
	s.cleanupDuplicates()

	if r.enqueued.Load() != 1 || time.Duration(r.olderThan.Load()) != 15*time.Minute {
		t.Fatalf("refresh not called with interval: %d %v", r.enqueued.Load(), time.Duration(r.olderThan.Load()))
	}
	if r.supervised.Load() != 1 {
		t.Fatalf("supervise not called")
	}
	if c.calls.Load() != 1 {
		t.Fatalf("cleanup not called")
	}
}

func TestJobsSkipWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &fakeRefresher{err: errors.New("unused")}
	c := &fakeCleaner{}
	s := newTestScheduler(ctx, r, c, Config{})

	s.refreshStaleFeeds()
	s.superviseWorkers()
	s.cleanupDuplicates()

	if r.enqueued.Load() != 0 || r.supervised.Load() != 0 || c.calls.Load() != 0 {
		t.Fatalf("jobs must not run after shutdown")
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := newTestScheduler(context.Background(), &fakeRefresher{}, &fakeCleaner{}, Config{
		RefreshSpec:    "not a spec",
		SupervisorSpec: "@every 1m",
	})

	if err := s.Start(); err == nil {
		s.Stop()
		t.Fatalf("expected error for invalid spec")
	}
}

func TestStartAndStop(t *testing.T) {
	r := &fakeRefresher{}
	s := newTestScheduler(context.Background(), r, &fakeCleaner{}, Config{
		RefreshSpec:    "*/15 * * * *",
		SupervisorSpec: "@every 1m",
	})

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
}
