package feed_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestDiscoverResolvesRelativeLinks(t *testing.T) {
	var hits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/blog/", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `<html><head>
<link rel="alternate" type="application/rss+xml" title="Posts" href="feed.xml">
<link rel="alternate" type="application/atom+xml" href="/atom.xml">
<link rel="alternate" type="application/rss+xml" href="feed.xml">
<link rel="alternate" type="text/html" href="/other">
<link rel="stylesheet" type="text/css" href="/style.css">
</head><body></body></html>`)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := newFetcher(0)

	candidates, err := f.Discover(context.Background(), srv.URL+"/blog/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %+v", candidates)
	}
	if candidates[0].URL != srv.URL+"/blog/feed.xml" || candidates[0].Title != "Posts" {
		t.Fatalf("unexpected first candidate %+v", candidates[0])
	}
	if candidates[1].URL != srv.URL+"/atom.xml" {
		t.Fatalf("unexpected second candidate %+v", candidates[1])
	}

	if _, err = f.Discover(context.Background(), srv.URL+"/blog/"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected cached discovery, page fetched %d times", hits.Load())
	}
}

func TestDiscoverNoFeeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<html><head><title>plain</title></head></html>`)
	}))
	defer srv.Close()

	candidates, err := newFetcher(0).Discover(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected no candidates, got %+v", candidates)
	}
}

func TestDiscoverPageError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := newFetcher(0).Discover(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected error for missing page")
	}
}
