package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DBPath   string `env:"DB_PATH"   envDefault:"db.sqlite"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"10"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW"   envDefault:"60s"`

	FeedMaxBodyBytes int64         `env:"FEED_MAX_BODY_BYTES" envDefault:"512000"`
	FeedHTTPTimeout  time.Duration `env:"FEED_HTTP_TIMEOUT"   envDefault:"30s"`

	StaleInterval         time.Duration `env:"STALE_INTERVAL"          envDefault:"1m"`
	StartupStaleInterval  time.Duration `env:"STARTUP_STALE_INTERVAL"  envDefault:"60m"`
	PeriodicStaleInterval time.Duration `env:"PERIODIC_STALE_INTERVAL" envDefault:"15m"`

	MemoryCeilingMB   int           `env:"MEMORY_CEILING_MB"  envDefault:"256"`
	QueueSize         int           `env:"QUEUE_SIZE"         envDefault:"1000"`
	WorkerCount       int           `env:"WORKER_COUNT"       envDefault:"1"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT"   envDefault:"5s"`
	StorageRetries    int           `env:"STORAGE_RETRIES"    envDefault:"5"`

	RefreshSpec    string `env:"REFRESH_SPEC"    envDefault:"*/15 * * * *"`
	SupervisorSpec string `env:"SUPERVISOR_SPEC" envDefault:"@every 1m"`

	DefaultFeeds []string `env:"DEFAULT_FEEDS" envSeparator:"," envDefault:"https://hnrss.org/frontpage,https://www.reddit.com/r/all/.rss,https://feeds.content.dowjones.io/public/rss/RSSMarketsMain"`
}

func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.DefaultFeeds = normalizeList(cfg.DefaultFeeds)

	if err = cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("DB_PATH is empty"))
	}
	if c.RateLimitRequests <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_REQUESTS must be positive, got %d", c.RateLimitRequests))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimitWindow))
	}
	if c.FeedMaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("FEED_MAX_BODY_BYTES must be positive, got %d", c.FeedMaxBodyBytes))
	}
	if c.FeedHTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("FEED_HTTP_TIMEOUT must be positive, got %s", c.FeedHTTPTimeout))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("QUEUE_SIZE must be positive, got %d", c.QueueSize))
	}
	if c.WorkerCount <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_COUNT must be positive, got %d", c.WorkerCount))
	}
	if c.MemoryCeilingMB <= 0 {
		errs = append(errs, fmt.Errorf("MEMORY_CEILING_MB must be positive, got %d", c.MemoryCeilingMB))
	}
	if c.StorageRetries <= 0 {
		errs = append(errs, fmt.Errorf("STORAGE_RETRIES must be positive, got %d", c.StorageRetries))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL is invalid: %w", err)
	}

	return level, nil
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}

	return out
}
