package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"rssreader/internal/api"
	"rssreader/internal/config"
	"rssreader/internal/database"
	"rssreader/internal/extract"
	"rssreader/internal/feed"
	"rssreader/internal/ingest"
	"rssreader/internal/ratelimiter"
	"rssreader/internal/scheduler"
)

const readHeaderTimeout = 10 * time.Second

func main() {
	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).ErrorContext(ctx, "Failed to load config",
			"error", err)

		return
	}

	level, _ := cfg.SlogLevel()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	debug.SetMemoryLimit(int64(cfg.MemoryCeilingMB) << 20)

	db, err := database.New(ctx, cfg.DBPath, log, database.WithRetries(cfg.StorageRetries, 0))
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize db",
			"error", err,
			"dbPath", cfg.DBPath)

		return
	}
	defer func() {
		if err = db.Close(); err != nil {
			log.ErrorContext(ctx, "Failed to close db",
				"error", err,
				"dbPath", cfg.DBPath)
		}
	}()
	log.InfoContext(ctx, "DB is initialized",
		"dbPath", cfg.DBPath)

	limiter := ratelimiter.New(cfg.RateLimitRequests, cfg.RateLimitWindow, log)
	fetcher := feed.NewFetcher(feed.Config{
		Timeout:     cfg.FeedHTTPTimeout,
		MaxBodySize: cfg.FeedMaxBodyBytes,
		Limiter:     limiter,
	}, log)

	svc := ingest.NewService(ingest.Config{
		QueueSize:            cfg.QueueSize,
		WorkerCount:          cfg.WorkerCount,
		StaleInterval:        cfg.StaleInterval,
		StartupStaleInterval: cfg.StartupStaleInterval,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		ShutdownTimeout:      cfg.ShutdownTimeout,
		MemoryCeilingMB:      cfg.MemoryCeilingMB,
		DefaultFeeds:         cfg.DefaultFeeds,
	}, db, limiter, fetcher, extract.New(log), log)

	if err = svc.Start(ctx); err != nil {
		log.ErrorContext(ctx, "Failed to start ingestion service",
			"error", err)

		return
	}
	log.InfoContext(ctx, "Ingestion service is started",
		"workers", cfg.WorkerCount,
		"rateLimit", cfg.RateLimitRequests,
		"rateWindow", cfg.RateLimitWindow)

	go func() {
		if seedErr := svc.SeedFeeds(ctx); seedErr != nil {
			log.WarnContext(ctx, "Failed to seed some default feeds",
				"error", seedErr)
		}

		res, cleanupErr := db.CleanupDuplicateFeeds(ctx)
		if cleanupErr != nil {
			log.WarnContext(ctx, "Failed to clean up duplicate feeds",
				"error", cleanupErr)

			return
		}
		log.InfoContext(ctx, "Startup feed maintenance is done",
			"defaultFeeds", len(cfg.DefaultFeeds),
			"duplicatesRemoved", res.FeedsRemoved)
	}()

	sched := scheduler.New(ctx, scheduler.Config{
		RefreshSpec:    cfg.RefreshSpec,
		SupervisorSpec: cfg.SupervisorSpec,
		StaleInterval:  cfg.PeriodicStaleInterval,
	}, svc, db, log)

	if err = sched.Start(); err != nil {
		log.ErrorContext(ctx, "Failed to start scheduler",
			"error", err,
			"refreshSpec", cfg.RefreshSpec,
			"supervisorSpec", cfg.SupervisorSpec)

		return
	}
	log.InfoContext(ctx, "Scheduler is started",
		"refreshSpec", cfg.RefreshSpec,
		"supervisorSpec", cfg.SupervisorSpec,
		"timezone", time.FixedZone(scheduler.Timezone, scheduler.TimezoneOffsetSeconds).String())

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.New(db, svc, log).Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.ErrorContext(ctx, "HTTP server failed",
				"error", serveErr,
				"addr", cfg.HTTPAddr)
			cancel()
		}
	}()
	log.InfoContext(ctx, "HTTP server is started",
		"addr", cfg.HTTPAddr)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-c:
		log.InfoContext(ctx, "Shutdown signal is received",
			"signal", sig.String())
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err = httpServer.Shutdown(shutdownCtx); err != nil {
		log.ErrorContext(shutdownCtx, "Failed to shut down HTTP server",
			"error", err)
	}

	sched.Stop()

	if err = svc.Stop(shutdownCtx); err != nil {
		log.ErrorContext(shutdownCtx, "Failed to stop ingestion service",
			"error", err)
	}

	log.InfoContext(shutdownCtx, "Exiting...",
		"uptimeSeconds", time.Since(start).Seconds())
}
