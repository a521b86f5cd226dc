package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
)

const (
	discoveryMaxBodySize = 2 << 20
	discoveryCacheTTL    = time.Hour
	probeSniffBytes      = 200
	xmlDeclSniffBytes    = 100
)

type CandidateFeed struct {
	URL   string
	Title string
	Type  string
}

// Discover looks for feeds advertised by an HTML page. Reddit pages advertise nothing,
// so for them the .rss variant of the page is probed instead. Only answers that were not
// caused by a failed request are cached.
func (f *Fetcher) Discover(ctx context.Context, pageURL string) ([]CandidateFeed, error) {
	pageURL = strings.TrimSpace(pageURL)

	now := time.Now()
	if cached, ok := f.discoveries.get(pageURL, now); ok {
		return cached, nil
	}

	candidates, err := f.discover(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	f.discoveries.set(pageURL, candidates, now.Add(discoveryCacheTTL), now)

	return candidates, nil
}

func (f *Fetcher) discover(ctx context.Context, pageURL string) ([]CandidateFeed, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("parse page URL %q: invalid", pageURL)
	}

	candidates, scanErr := f.scanPage(ctx, pageURL)
	if scanErr != nil && !isRedditHost(u.Hostname()) {
		return nil, scanErr
	}
	if len(candidates) > 0 || !isRedditHost(u.Hostname()) {
		return candidates, nil
	}

	probeURL := redditFeedURL(u)
	found, probeErr := f.probeFeed(ctx, probeURL)
	if found {
		f.log.DebugContext(ctx, "Found Reddit feed by probing",
			"pageURL", pageURL,
			"feedURL", probeURL)

		return []CandidateFeed{{URL: probeURL, Type: "application/rss+xml"}}, nil
	}

	if err = errors.Join(scanErr, probeErr); err != nil {
		return nil, fmt.Errorf("discover feeds on %s: %w", pageURL, err)
	}

	return nil, nil
}

func (f *Fetcher) acquire(ctx context.Context, rawURL string) error {
	if f.limiter == nil {
		return nil
	}

	host := Host(rawURL)
	if err := f.limiter.Acquire(ctx, host); err != nil {
		return fmt.Errorf("acquire rate limit for %s: %w", host, err)
	}

	return nil
}

func (f *Fetcher) scanPage(ctx context.Context, pageURL string) ([]CandidateFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	if err = f.acquire(ctx, pageURL); err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", pageURL, err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			f.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"pageURL", pageURL)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: http %d", pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, discoveryMaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", pageURL, err)
	}

	base := resp.Request.URL
	if base == nil {
		base, _ = url.Parse(pageURL)
	}

	return findAlternateLinks(doc, base), nil
}

func findAlternateLinks(doc *goquery.Document, base *url.URL) []CandidateFeed {
	var candidates []CandidateFeed

	doc.Find("link[rel]").Each(func(_ int, s *goquery.Selection) {
		if !hasRel(s.AttrOr("rel", ""), "alternate") {
			return
		}

		typ := strings.ToLower(strings.TrimSpace(s.AttrOr("type", "")))
		if !strings.Contains(typ, "rss") && !strings.Contains(typ, "atom") {
			return
		}

		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}

		candidates = append(candidates, CandidateFeed{
			URL:   base.ResolveReference(ref).String(),
			Title: strings.TrimSpace(s.AttrOr("title", "")),
			Type:  typ,
		})
	})

	return lo.UniqBy(candidates, func(c CandidateFeed) string { return c.URL })
}

func hasRel(rel, want string) bool {
	for _, r := range strings.Fields(strings.ToLower(rel)) {
		if r == want {
			return true
		}
	}

	return false
}

// probeFeed reports whether probeURL serves something feed-like. A failed request is an error;
// a page that answered but is not a feed is not.
func (f *Fetcher) probeFeed(ctx context.Context, probeURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	if err = f.acquire(ctx, probeURL); err != nil {
		return false, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", probeURL, err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			f.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"probeURL", probeURL)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("probe %s: http %d", probeURL, resp.StatusCode)
	}

	head, err := io.ReadAll(io.LimitReader(resp.Body, probeSniffBytes))
	if err != nil {
		return false, fmt.Errorf("read probe %s: %w", probeURL, err)
	}

	return looksLikeFeed(resp.Header.Get("Content-Type"), head), nil
}

func looksLikeFeed(contentType string, head []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "xml") {
		return true
	}

	if len(head) > probeSniffBytes {
		head = head[:probeSniffBytes]
	}
	if strings.Contains(strings.ToLower(string(head)), "rss") {
		return true
	}

	if len(head) > xmlDeclSniffBytes {
		head = head[:xmlDeclSniffBytes]
	}

	return strings.Contains(string(head), "<?xml")
}

func isRedditHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	return host == "reddit.com" || strings.HasSuffix(host, ".reddit.com")
}

func redditFeedURL(u *url.URL) string {
	probe := *u
	probe.RawQuery = ""
	probe.Fragment = ""
	probe.RawPath = ""

	if strings.HasSuffix(probe.Path, "/") {
		probe.Path += ".rss"
	} else {
		probe.Path += "/.rss"
	}

	return probe.String()
}
