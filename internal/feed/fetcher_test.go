package feed_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"rssreader/internal/feed"
)

const rssBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Example Feed</title>
<description>An example</description>
<link>https://example.com/</link>
<item>
<title>First</title>
<link>https://example.com/1</link>
<guid>guid-1</guid>
<description>&lt;p&gt;Hello&lt;/p&gt;</description>
<pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
</item>
<item>
<title>Second</title>
<link>https://example.com/2</link>
<description>No guid here</description>
</item>
</channel>
</rss>`

func newFetcher(maxBody int64) *feed.Fetcher {
	return feed.NewFetcher(
		feed.Config{MaxBodySize: maxBody},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func TestFetchParsesFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != feed.UserAgent {
			t.Errorf("unexpected user agent %q", ua)
		}

		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		_, _ = io.WriteString(w, rssBody)
	}))
	defer srv.Close()

	res := newFetcher(0).Fetch(context.Background(), srv.URL, "", "")
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !res.Changed || res.Feed == nil {
		t.Fatalf("expected changed result, got %+v", res)
	}
	if res.ETag != `"v1"` || res.LastModified == "" {
		t.Fatalf("validators not captured: %+v", res)
	}
	if res.Feed.Title != "Example Feed" || len(res.Feed.Entries) != 2 {
		t.Fatalf("unexpected feed: %+v", res.Feed)
	}

	first := res.Feed.Entries[0]
	if feed.ResolveGUID(first) != "guid-1" {
		t.Fatalf("unexpected guid %q", feed.ResolveGUID(first))
	}
	if first.Published == nil || first.Published.Year() != 2006 {
		t.Fatalf("unexpected published %v", first.Published)
	}

	if got := feed.ResolveGUID(res.Feed.Entries[1]); got != "https://example.com/2" {
		t.Fatalf("expected link fallback, got %q", got)
	}
}

func TestFetchConditionalShortCircuit(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("ETag", `"v1"`)
		_, _ = io.WriteString(w, rssBody)
	}))
	defer srv.Close()

	f := newFetcher(0)

	first := f.Fetch(context.Background(), srv.URL, "", "")
	if !first.Changed {
		t.Fatalf("expected first fetch to change: %+v", first)
	}

	second := f.Fetch(context.Background(), srv.URL, first.ETag, first.LastModified)
	if second.Changed || second.Err != nil || second.Feed != nil {
		t.Fatalf("expected unchanged result, got %+v", second)
	}
	if second.StatusCode != http.StatusNotModified {
		t.Fatalf("unexpected status %d", second.StatusCode)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 requests, got %d", hits.Load())
	}
}

func TestFetchFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		maxBody int64
		check   func(error) bool
	}{
		{
			"not found",
			func(w http.ResponseWriter, _ *http.Request) { http.NotFound(w, nil) },
			0,
			func(err error) bool { return err != nil && strings.Contains(err.Error(), "http 404") },
		},
		{
			"too large by content length",
			func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, strings.Repeat("x", 2048))
			},
			1024,
			func(err error) bool { return errors.Is(err, feed.ErrTooLarge) },
		},
		{
			"too large when streamed",
			func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/rss+xml")
				for range 4 {
					_, _ = io.WriteString(w, strings.Repeat("y", 512))
					w.(http.Flusher).Flush()
				}
			},
			1024,
			func(err error) bool { return errors.Is(err, feed.ErrTooLarge) },
		},
		{
			"not a feed",
			func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, "<html><body>hello</body></html>")
			},
			0,
			func(err error) bool { return errors.Is(err, feed.ErrUnparseable) },
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			srv := httptest.NewServer(test.handler)
			defer srv.Close()

			res := newFetcher(test.maxBody).Fetch(context.Background(), srv.URL, "", "")
			if res.Changed {
				t.Fatalf("failure must not be reported as changed")
			}
			if !test.check(res.Err) {
				t.Fatalf("unexpected error: %v", res.Err)
			}
		})
	}
}

func TestFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := newFetcher(0).Fetch(context.Background(), url, "", "")
	if res.Changed || res.Err == nil {
		t.Fatalf("expected transport error, got %+v", res)
	}
}

func TestFetchRecoversIllegalCharacters(t *testing.T) {
	body := strings.Replace(rssBody, "<title>First</title>", "<title>Fi\x08rst</title>", 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	res := newFetcher(0).Fetch(context.Background(), srv.URL, "", "")
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !res.Feed.Bozo {
		t.Fatalf("expected bozo flag")
	}
	if res.Feed.Entries[0].Title != "First" {
		t.Fatalf("unexpected title %q", res.Feed.Entries[0].Title)
	}
}

func TestParseAtomUsesEntryID(t *testing.T) {
	atom := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<title>Atom Feed</title>
<entry>
<id>urn:uuid:1225c695</id>
<title>Entry</title>
<link href="https://example.com/entry"/>
<updated>2003-12-13T18:30:02Z</updated>
<summary>Summary text</summary>
<content type="html">&lt;p&gt;Body&lt;/p&gt;</content>
</entry>
</feed>`

	parsed, err := feed.ParseFeed([]byte(atom))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(parsed.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(parsed.Entries))
	}

	e := parsed.Entries[0]
	if e.ID != "urn:uuid:1225c695" || feed.ResolveGUID(e) != "urn:uuid:1225c695" {
		t.Fatalf("unexpected id %+v", e)
	}
	if e.Link != "https://example.com/entry" {
		t.Fatalf("unexpected link %q", e.Link)
	}
	if e.Published == nil || e.Published.Year() != 2003 {
		t.Fatalf("unexpected published %v", e.Published)
	}
	if !strings.Contains(e.Content, "Body") || e.Summary != "Summary text" {
		t.Fatalf("unexpected bodies %+v", e)
	}
}

func TestResolveGUID(t *testing.T) {
	tests := []struct {
		entry feed.ParsedEntry
		want  string
	}{
		{feed.ParsedEntry{ID: "id", GUID: "guid", Link: "link"}, "id"},
		{feed.ParsedEntry{ID: " ", GUID: "guid", Link: "link"}, "guid"},
		{feed.ParsedEntry{Link: "link"}, "link"},
		{feed.ParsedEntry{}, ""},
	}

	for i, test := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			if got := feed.ResolveGUID(test.entry); got != test.want {
				t.Errorf("got %q, want %q", got, test.want)
			}
		})
	}
}

func TestExtractURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://example.com/feed.xml", "https://example.com/feed.xml", true},
		{"please add http://example.com/rss thanks", "http://example.com/rss", true},
		{"example.com/feed", "https://example.com/feed", true},
		{"www.example.org", "https://www.example.org", true},
		{"", "", false},
		{"no links here", "", false},
	}

	for _, test := range tests {
		got, ok := feed.ExtractURL(test.in)
		if ok != test.ok || got != test.want {
			t.Errorf("ExtractURL(%q) = %q, %v; want %q, %v", test.in, got, ok, test.want, test.ok)
		}
	}
}
