package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"rssreader/internal/database"
	"rssreader/internal/feed"
)

type Config struct {
	QueueSize            int
	WorkerCount          int
	StaleInterval        time.Duration
	StartupStaleInterval time.Duration
	HeartbeatInterval    time.Duration
	ShutdownTimeout      time.Duration
	MemoryCeilingMB      int
	DefaultFeeds         []string
}

type AddFeedResult struct {
	Success     bool   `json:"success"`
	FeedID      int64  `json:"feedID,omitempty"`
	Title       string `json:"title,omitempty"`
	URL         string `json:"url,omitempty"`
	Existing    bool   `json:"existing,omitempty"`
	ItemsStored int    `json:"itemsStored"`
	Error       string `json:"error,omitempty"`
}

type Status struct {
	Started    bool           `json:"started"`
	QueueDepth int            `json:"queueDepth"`
	InFlight   int            `json:"inFlight"`
	Workers    []WorkerStatus `json:"workers"`
	Memory     MemoryStatus   `json:"memory"`
}

// Service owns the queue and its workers. Handlers, startup and the scheduler all go through it.
type Service struct {
	cfg    Config
	store  Store
	source FeedSource
	ing    *ingester
	queue  *QueueManager

	mu      sync.Mutex
	started bool
	runCtx  context.Context
	workers []*Worker
	nextID  int

	log *slog.Logger
}

func NewService(
	cfg Config,
	store Store,
	limiter Limiter,
	source FeedSource,
	extractor ContentExtractor,
	log *slog.Logger,
) *Service {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	return &Service{
		cfg:    cfg,
		store:  store,
		source: source,
		ing: &ingester{
			limiter:   limiter,
			fetcher:   source,
			extractor: extractor,
			store:     store,
			now:       time.Now,
			log:       log,
		},
		queue: NewQueueManager(store, cfg.QueueSize, cfg.StaleInterval, log),
		log:   log,
	}
}

// Start launches the workers and queues every feed older than the startup interval.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("ingestion service already started")
	}

	s.started = true
	s.runCtx = context.WithoutCancel(ctx)
	for range s.cfg.WorkerCount {
		s.workers = append(s.workers, s.spawnWorkerLocked())
	}
	s.mu.Unlock()

	s.log.InfoContext(ctx, "Ingestion service started",
		"workers", s.cfg.WorkerCount,
		"queueSize", s.cfg.QueueSize)

	queued, err := s.queue.EnqueueAllStale(ctx, s.cfg.StartupStaleInterval)
	if err != nil {
		s.log.WarnContext(ctx, "Failed to queue some stale feeds at startup", "error", err)
	}

	s.log.InfoContext(ctx, "Queued stale feeds at startup",
		"queued", queued,
		"olderThan", s.cfg.StartupStaleInterval)

	return nil
}

func (s *Service) spawnWorkerLocked() *Worker {
	s.nextID++
	w := newWorker(s.nextID, s.ing, s.queue, s.cfg.HeartbeatInterval, s.cfg.MemoryCeilingMB, s.log)
	w.markRunning()

	go w.Run(s.runCtx)

	return w
}

// Stop signals every worker and waits for them up to the shutdown timeout.
// Workers still busy after that are abandoned.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}

	s.started = false
	workers := s.workers
	s.workers = nil
	s.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	for _, w := range workers {
		select {
		case <-w.Done():
		case <-ctx.Done():
			s.log.WarnContext(ctx, "Workers did not stop in time",
				"timeout", s.cfg.ShutdownTimeout)

			return nil
		}
	}

	s.log.InfoContext(ctx, "Ingestion service stopped")

	return nil
}

// Supervise replaces workers that died or stopped beating. It returns how many were restarted.
func (s *Service) Supervise(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return 0
	}

	restarted := 0
	for i, w := range s.workers {
		if w.Alive() {
			continue
		}

		st := w.Status()
		s.log.WarnContext(ctx, "Restarting unhealthy worker",
			"workerID", st.ID,
			"dead", st.Dead,
			"running", st.Running,
			"lastHeartbeat", st.LastHeartbeat)

		w.Stop()
		s.workers[i] = s.spawnWorkerLocked()

		restarted++
	}

	return restarted
}

func (s *Service) EnqueueStaleFeedsFor(ctx context.Context, sessionID string) (int, error) {
	return s.queue.EnqueueStaleFeedsFor(ctx, sessionID)
}

func (s *Service) EnqueueAllStale(ctx context.Context, olderThan time.Duration) (int, error) {
	return s.queue.EnqueueAllStale(ctx, olderThan)
}

func (s *Service) Subscribe(ctx context.Context, sessionID string, feedID int64) error {
	return s.store.Subscribe(ctx, sessionID, feedID)
}

// AddFeedByURL resolves free-form input to a feed, stores it with its current items and
// reports the outcome. A feed row is only created after its document parsed with a title.
// When the URL itself is not a usable feed, the feeds advertised by the page are tried in order.
func (s *Service) AddFeedByURL(ctx context.Context, input string) AddFeedResult {
	feedURL, ok := feed.ExtractURL(input)
	if !ok {
		return AddFeedResult{Error: "no valid URL found in input"}
	}

	if existing, found := s.existingFeed(ctx, feedURL); found {
		return existing
	}

	res, reason := s.fetchNew(ctx, feedURL)
	if reason == "" {
		return s.storeNewFeed(ctx, feedURL, res)
	}

	candidates, err := s.source.Discover(ctx, feedURL)
	if err != nil {
		s.log.InfoContext(ctx, "Feed discovery failed", "error", err, "pageURL", feedURL)
	}

	for _, c := range candidates {
		if existing, found := s.existingFeed(ctx, c.URL); found {
			return existing
		}

		candidateRes, candidateReason := s.fetchNew(ctx, c.URL)
		if candidateReason != "" {
			s.log.DebugContext(ctx, "Discovered feed is not usable",
				"feedURL", c.URL,
				"reason", candidateReason)

			continue
		}

		return s.storeNewFeed(ctx, c.URL, candidateRes)
	}

	return AddFeedResult{URL: feedURL, Error: reason}
}

func (s *Service) existingFeed(ctx context.Context, feedURL string) (AddFeedResult, bool) {
	f, err := s.store.GetFeedByURL(ctx, feedURL)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			s.log.ErrorContext(ctx, "Failed to look up feed", "error", err, "feedURL", feedURL)
		}

		return AddFeedResult{}, false
	}

	return AddFeedResult{
		Success:  true,
		FeedID:   f.ID,
		Title:    f.Title,
		URL:      f.URL,
		Existing: true,
	}, true
}

// fetchNew fetches a feed that is not stored yet. It returns a failure reason unless the
// document parsed and has a title.
func (s *Service) fetchNew(ctx context.Context, feedURL string) (feed.Result, string) {
	res := s.ing.fetch(ctx, feedURL, "", "")

	switch {
	case res.Err != nil:
		return res, fmt.Sprintf("no feed found at URL: %v", res.Err)
	case !res.Changed:
		return res, "no feed found at URL"
	case strings.TrimSpace(res.Feed.Title) == "":
		return res, "feed has no title"
	}

	return res, ""
}

func (s *Service) storeNewFeed(ctx context.Context, feedURL string, res feed.Result) AddFeedResult {
	feedID, err := s.store.CreateFeed(ctx, feedURL, res.Feed.Title, res.Feed.Description)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to create feed", "error", err, "feedURL", feedURL)
		return AddFeedResult{URL: feedURL, Error: "failed to save feed"}
	}

	stored, skipped, failed, err := s.ing.persist(ctx, feedID, res)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to store new feed items",
			"error", err,
			"feedID", feedID,
			"feedURL", feedURL)
	}

	s.log.InfoContext(ctx, "Added feed",
		"feedID", feedID,
		"feedURL", feedURL,
		"title", res.Feed.Title,
		"stored", stored,
		"skipped", skipped,
		"failed", failed)

	return AddFeedResult{
		Success:     true,
		FeedID:      feedID,
		Title:       res.Feed.Title,
		URL:         feedURL,
		ItemsStored: stored,
	}
}

// SeedFeeds adds the configured default feeds that are not stored yet.
func (s *Service) SeedFeeds(ctx context.Context) error {
	var errs []error

	for _, u := range s.cfg.DefaultFeeds {
		if err := ctx.Err(); err != nil {
			return err
		}

		res := s.AddFeedByURL(ctx, u)
		if !res.Success {
			errs = append(errs, fmt.Errorf("seed %s: %s", u, res.Error))
			continue
		}

		if !res.Existing {
			s.log.InfoContext(ctx, "Seeded default feed",
				"feedID", res.FeedID,
				"feedURL", res.URL,
				"items", res.ItemsStored)
		}
	}

	return errors.Join(errs...)
}

func (s *Service) Status() Status {
	s.mu.Lock()
	workers := make([]WorkerStatus, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w.Status())
	}
	started := s.started
	s.mu.Unlock()

	return Status{
		Started:    started,
		QueueDepth: s.queue.Depth(),
		InFlight:   s.queue.InFlight(),
		Workers:    workers,
		Memory:     s.MemoryStatus(),
	}
}

func (s *Service) MemoryStatus() MemoryStatus {
	return ReadMemory(s.cfg.MemoryCeilingMB)
}

// Queue exposes the queue manager for callers that need direct access to staleness decisions.
func (s *Service) Queue() *QueueManager {
	return s.queue
}
