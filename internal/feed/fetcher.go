package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	UserAgent          = "RSS Reader/1.0 (+https://github.com/user/rss-reader)"
	DefaultTimeout     = 30 * time.Second
	DefaultMaxBodySize = 512000

	acceptHeader = "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.9, */*;q=0.8"
)

var (
	ErrTooLarge    = errors.New("feed body exceeds size limit")
	ErrNotModified = errors.New("feed not modified")
	ErrUnparseable = errors.New("feed could not be parsed")
)

// Limiter gates outgoing discovery requests per host. Feed fetches are gated by the caller.
type Limiter interface {
	Acquire(ctx context.Context, domain string) error
}

type Config struct {
	Timeout     time.Duration
	MaxBodySize int64
	Limiter     Limiter
}

type Fetcher struct {
	client      *http.Client
	maxBodySize int64
	limiter     Limiter
	discoveries *discoveryCache
	log         *slog.Logger
}

// Result describes one fetch. Changed is true only for a 200 whose body parsed.
type Result struct {
	Changed      bool
	StatusCode   int
	Feed         *ParsedFeed
	ETag         string
	LastModified string
	Err          error
}

func NewFetcher(cfg Config, log *slog.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}

	return &Fetcher{
		client:      &http.Client{Timeout: cfg.Timeout},
		maxBodySize: cfg.MaxBodySize,
		limiter:     cfg.Limiter,
		discoveries: newDiscoveryCache(discoveryCacheMaxEntries),
		log:         log,
	}
}

// Fetch performs a conditional GET and parses the body. Failures are reported in Result.Err.
func (f *Fetcher) Fetch(ctx context.Context, feedURL, etag, lastModified string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			f.log.ErrorContext(ctx, "Recovered from panic while fetching feed",
				"panic", r,
				"feedURL", feedURL)

			res = Result{Err: fmt.Errorf("fetch %s: panic: %v", feedURL, r)}
		}
	}()

	body, resp, err := f.get(ctx, feedURL, etag, lastModified)
	if resp != nil {
		res.StatusCode = resp.StatusCode
	}
	if errors.Is(err, ErrNotModified) {
		f.log.DebugContext(ctx, "Feed not modified", "feedURL", feedURL)
		return res
	}
	if err != nil {
		res.Err = err
		return res
	}

	res.ETag = strings.TrimSpace(resp.Header.Get("ETag"))
	res.LastModified = strings.TrimSpace(resp.Header.Get("Last-Modified"))

	parsed, err := ParseFeed(body)
	if err != nil {
		res.Err = fmt.Errorf("parse %s: %w", feedURL, err)
		return res
	}

	if parsed.Bozo {
		f.log.InfoContext(ctx, "Feed parsed after removing illegal characters",
			"feedURL", feedURL)
	}

	res.Changed = true
	res.Feed = parsed

	return res
}

func (f *Fetcher) get(
	ctx context.Context,
	feedURL string,
	etag string,
	lastModified string,
) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", acceptHeader)
	if etag = strings.TrimSpace(etag); etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified = strings.TrimSpace(lastModified); lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("get %s: %w", feedURL, err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			f.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"feedURL", feedURL)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return nil, resp, ErrNotModified
	case resp.StatusCode != http.StatusOK:
		return nil, resp, fmt.Errorf("get %s: http %d", feedURL, resp.StatusCode)
	case resp.ContentLength > f.maxBodySize:
		return nil, resp, fmt.Errorf("get %s: %w (content-length %d)", feedURL, ErrTooLarge, resp.ContentLength)
	}

	body, err := readLimited(resp.Body, f.maxBodySize)
	if err != nil {
		return nil, resp, fmt.Errorf("read %s: %w", feedURL, err)
	}

	return body, resp, nil
}

// readLimited reads at most limit bytes and fails with ErrTooLarge when more are available.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}

	if int64(len(body)) > limit {
		return nil, ErrTooLarge
	}

	return body, nil
}
