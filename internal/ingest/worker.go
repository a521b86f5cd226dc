package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"rssreader/internal/domain"
)

const aliveThreshold = 2 * time.Minute

type WorkerStatus struct {
	ID               int       `json:"id"`
	Running          bool      `json:"running"`
	Alive            bool      `json:"alive"`
	Dead             bool      `json:"dead"`
	LastHeartbeat    time.Time `json:"lastHeartbeat"`
	CurrentFeedID    int64     `json:"currentFeedID,omitempty"`
	CurrentFeedURL   string    `json:"currentFeedURL,omitempty"`
	CurrentFeedTitle string    `json:"currentFeedTitle,omitempty"`
	Processed        int       `json:"processed"`
	Failed           int       `json:"failed"`
	LastError        string    `json:"lastError,omitempty"`
	LastMemoryDelta  float64   `json:"lastMemoryDeltaMB"`
}

// Worker drains the shared job channel one feed at a time.
type Worker struct {
	id                int
	ing               *ingester
	queue             *QueueManager
	heartbeatInterval time.Duration
	memoryCeilingMB   int

	quit     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu            sync.Mutex
	running       bool
	dead          bool
	current       *domain.FeedJob
	lastHeartbeat time.Time
	processed     int
	failed        int
	lastError     string
	lastDelta     float64

	log *slog.Logger
}

func newWorker(
	id int,
	ing *ingester,
	queue *QueueManager,
	heartbeatInterval time.Duration,
	memoryCeilingMB int,
	log *slog.Logger,
) *Worker {
	if heartbeatInterval <= 0 {
		heartbeatInterval = time.Minute
	}

	return &Worker{
		id:                id,
		ing:               ing,
		queue:             queue,
		heartbeatInterval: heartbeatInterval,
		memoryCeilingMB:   memoryCeilingMB,
		quit:              make(chan struct{}),
		done:              make(chan struct{}),
		lastHeartbeat:     time.Now(),
		log:               log.With("workerID", id),
	}
}

// Run blocks until Stop is called or ctx is done.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	w.markRunning()

	defer func() {
		if r := recover(); r != nil {
			w.log.ErrorContext(ctx, "Worker loop crashed",
				"panic", r,
				"stack", string(debug.Stack()))

			w.mu.Lock()
			w.dead = true
			w.mu.Unlock()
		}

		w.mu.Lock()
		w.running = false
		w.current = nil
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	w.log.InfoContext(ctx, "Worker started")

	for {
		w.beat()

		select {
		case <-w.quit:
			w.log.InfoContext(ctx, "Worker stopped")
			return
		case <-ctx.Done():
			w.log.InfoContext(ctx, "Worker context done", "error", ctx.Err())
			return
		case job := <-w.queue.Jobs():
			w.ProcessOne(ctx, job)
		case <-ticker.C:
		}
	}
}

// ProcessOne runs a single job. A panic inside the job is recovered and counted as a failure;
// the feed is always released from the in-flight set.
func (w *Worker) ProcessOne(ctx context.Context, job domain.FeedJob) (result JobResult) {
	before := ReadMemory(w.memoryCeilingMB)
	start := time.Now()

	w.mu.Lock()
	w.current = &job
	w.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			w.log.ErrorContext(ctx, "Recovered from panic while processing feed",
				"panic", r,
				"feedID", job.FeedID,
				"feedURL", job.URL)

			result = JobResult{FeedID: job.FeedID, Err: fmt.Errorf("process feed %d: panic: %v", job.FeedID, r)}
		}

		debug.FreeOSMemory()
		after := ReadMemory(w.memoryCeilingMB)

		w.finish(ctx, job, result, after.UsedMB-before.UsedMB, time.Since(start))
		w.queue.OnJobProcessed(job.FeedID)

		if after.Level != MemoryNormal {
			w.log.WarnContext(ctx, "Memory usage is high",
				"usedMB", after.UsedMB,
				"ceilingMB", after.CeilingMB,
				"level", after.Level)
		}
	}()

	return w.ing.processOne(ctx, job)
}

func (w *Worker) finish(
	ctx context.Context,
	job domain.FeedJob,
	result JobResult,
	memoryDelta float64,
	elapsed time.Duration,
) {
	w.mu.Lock()
	w.current = nil
	w.lastDelta = memoryDelta
	w.lastHeartbeat = time.Now()
	if result.Err != nil {
		w.failed++
		w.lastError = result.Err.Error()
	} else {
		w.processed++
	}
	w.mu.Unlock()

	if result.Err != nil {
		w.log.WarnContext(ctx, "Failed to process feed",
			"error", result.Err,
			"feedID", job.FeedID,
			"feedURL", job.URL,
			"elapsed", elapsed)

		return
	}

	w.log.InfoContext(ctx, "Processed feed",
		"feedID", job.FeedID,
		"feedURL", job.URL,
		"changed", result.Changed,
		"stored", result.ItemsStored,
		"skipped", result.ItemsSkipped,
		"failed", result.ItemsFailed,
		"memoryDeltaMB", memoryDelta,
		"elapsed", elapsed)
}

func (w *Worker) beat() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastHeartbeat = time.Now()
}

func (w *Worker) markRunning() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.running = true
	w.lastHeartbeat = time.Now()
}

// Stop asks the loop to exit after the current job. It is safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
	})
}

func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Alive reports whether the loop is running and has beaten recently.
func (w *Worker) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.running && !w.dead && time.Since(w.lastHeartbeat) < aliveThreshold
}

func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := WorkerStatus{
		ID:              w.id,
		Running:         w.running,
		Alive:           w.running && !w.dead && time.Since(w.lastHeartbeat) < aliveThreshold,
		Dead:            w.dead,
		LastHeartbeat:   w.lastHeartbeat,
		Processed:       w.processed,
		Failed:          w.failed,
		LastError:       w.lastError,
		LastMemoryDelta: w.lastDelta,
	}

	if w.current != nil {
		s.CurrentFeedID = w.current.FeedID
		s.CurrentFeedURL = w.current.URL
		s.CurrentFeedTitle = w.current.Title
	}

	return s
}
