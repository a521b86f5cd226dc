package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"rssreader/internal/domain"
)

const (
	Timezone              = "UTC"
	TimezoneOffsetSeconds = 0
	CleanupSpec           = "@daily"

	refreshTimeout   = 2 * time.Minute
	superviseTimeout = 30 * time.Second
	cleanupTimeout   = 5 * time.Minute
)

type Refresher interface {
	EnqueueAllStale(ctx context.Context, olderThan time.Duration) (int, error)
	Supervise(ctx context.Context) int
}

type DuplicateCleaner interface {
	CleanupDuplicateFeeds(ctx context.Context) (domain.DuplicateCleanup, error)
}

type Config struct {
	RefreshSpec    string
	SupervisorSpec string
	StaleInterval  time.Duration
}

type Scheduler struct {
	ctx       context.Context
	cfg       Config
	cron      *cron.Cron
	refresher Refresher
	cleaner   DuplicateCleaner
	log       *slog.Logger
}

func New(
	ctx context.Context,
	cfg Config,
	refresher Refresher,
	cleaner DuplicateCleaner,
	log *slog.Logger,
) *Scheduler {
	c := cron.New(cron.WithLocation(time.FixedZone(Timezone, TimezoneOffsetSeconds)))

	return &Scheduler{
		ctx:       ctx,
		cfg:       cfg,
		cron:      c,
		refresher: refresher,
		cleaner:   cleaner,
		log:       log,
	}
}

func (s *Scheduler) Start() error {
	jobs := []struct {
		spec string
		fn   func()
	}{
		{s.cfg.RefreshSpec, s.refreshStaleFeeds},
		{s.cfg.SupervisorSpec, s.superviseWorkers},
		{CleanupSpec, s.cleanupDuplicates},
	}

	for _, job := range jobs {
		if _, err := s.cron.AddFunc(job.spec, job.fn); err != nil {
			return fmt.Errorf("add cron job %q: %w", job.spec, err)
		}
	}

	s.cron.Start()

	return nil
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) refreshStaleFeeds() {
	ctx, cancel := context.WithTimeout(s.ctx, refreshTimeout)
	defer cancel()

	if s.isDone(ctx) {
		return
	}

	queued, err := s.refresher.EnqueueAllStale(ctx, s.cfg.StaleInterval)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to queue stale feeds",
			"error", err,
			"queued", queued,
			"olderThan", s.cfg.StaleInterval)

		return
	}

	s.log.InfoContext(ctx, "Queued stale feeds",
		"queued", queued,
		"olderThan", s.cfg.StaleInterval)
}

func (s *Scheduler) superviseWorkers() {
	ctx, cancel := context.WithTimeout(s.ctx, superviseTimeout)
	defer cancel()

	if s.isDone(ctx) {
		return
	}

	if restarted := s.refresher.Supervise(ctx); restarted > 0 {
		s.log.WarnContext(ctx, "Restarted ingestion workers",
			"restarted", restarted)
	}
}

func (s *Scheduler) cleanupDuplicates() {
	ctx, cancel := context.WithTimeout(s.ctx, cleanupTimeout)
	defer cancel()

	if s.isDone(ctx) {
		return
	}

	res, err := s.cleaner.CleanupDuplicateFeeds(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to clean up duplicate feeds",
			"error", err)

		return
	}

	if res.FeedsRemoved > 0 {
		s.log.InfoContext(ctx, "Cleaned up duplicate feeds",
			"duplicateURLs", res.DuplicateURLs,
			"feedsRemoved", res.FeedsRemoved,
			"subscriptionsMigrated", res.SubscriptionsMigrated)
	}
}

func (s *Scheduler) isDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())
		return true
	default:
		return false
	}
}
