package ratelimiter

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type domainLog struct {
	mu     sync.Mutex
	starts []time.Time
}

// RateLimiter allows at most maxRequests request starts per domain in any rolling window.
// Callers for the same domain queue behind each other; different domains never contend.
type RateLimiter struct {
	maxRequests int
	window      time.Duration

	mu      sync.Mutex
	domains map[string]*domainLog

	log *slog.Logger
}

func New(maxRequests int, window time.Duration, log *slog.Logger) *RateLimiter {
	return &RateLimiter{
		maxRequests: max(maxRequests, 1),
		window:      window,
		domains:     make(map[string]*domainLog),
		log:         log,
	}
}

// Acquire blocks until a request to domain may start and records the start.
// It only fails when ctx is done first.
func (rl *RateLimiter) Acquire(ctx context.Context, domain string) error {
	dl := rl.domainLog(strings.ToLower(domain))

	dl.mu.Lock()
	defer dl.mu.Unlock()

	for {
		now := time.Now()
		dl.starts = prune(dl.starts, now, rl.window)

		delay := getDelay(dl.starts, now, rl.maxRequests, rl.window)
		if delay <= 0 {
			dl.starts = append(dl.starts, now)
			return nil
		}

		rl.log.DebugContext(ctx, "Rate limiting request",
			"domain", domain,
			"delay", delay,
			"recent", len(dl.starts))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (rl *RateLimiter) domainLog(domain string) *domainLog {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	dl, ok := rl.domains[domain]
	if !ok {
		dl = &domainLog{}
		rl.domains[domain] = dl
	}

	return dl
}

// prune drops starts that are no longer inside the half-open window (now-window, now].
func prune(starts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)

	i := 0
	for i < len(starts) && !starts[i].After(cutoff) {
		i++
	}

	return append(starts[:0], starts[i:]...)
}

// getDelay returns how long to wait until the oldest start leaves the window, or zero
// when another start fits.
func getDelay(
	starts []time.Time,
	now time.Time,
	maxRequests int,
	window time.Duration,
) time.Duration {
	if len(starts) < maxRequests {
		return 0
	}

	return max(starts[0].Add(window).Sub(now), time.Millisecond)
}
