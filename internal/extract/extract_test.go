package extract_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"rssreader/internal/extract"
)

func newExtractor() *extract.Extractor {
	return extract.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExtractEmpty(t *testing.T) {
	e := newExtractor()

	for _, in := range []string{"", "   ", "<div></div>", "<p>  </p>"} {
		if got := e.Extract(context.Background(), in, extract.PlaceLeading); got != "" {
			t.Errorf("Extract(%q) = %q, want empty", in, got)
		}
	}
}

func TestExtractKeepsEveryImage(t *testing.T) {
	e := newExtractor()

	tests := []struct {
		name   string
		html   string
		images int
	}{
		{"single", `<p>Intro text here.</p><img src="https://x/1.png" alt="one">`, 1},
		{"many", `<div><img src="https://x/1.png"><p>Text</p><img src="https://x/2.png" alt="two"><img src="https://x/3.png"></div>`, 3},
		{"images only", `<img src="https://x/1.png"><img src="https://x/2.png">`, 2},
		{"missing src skipped", `<img alt="nothing"><img src="https://x/1.png">`, 1},
		{"inside noscript", `<noscript><img src="https://x/ns.png"></noscript><p>hi</p>`, 1},
		{"lazy with noscript fallback", `<img data-src="https://x/lazy.png"><noscript><img src="https://x/lazy.png" alt="lazy"></noscript>`, 1},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			for _, placement := range []extract.Placement{extract.PlaceLeading, extract.PlaceAfterFirstParagraph} {
				got := e.Extract(context.Background(), test.html, placement)
				if n := strings.Count(got, "!["); n != test.images {
					t.Errorf("placement %d: expected %d images, got %d in %q", placement, test.images, n, got)
				}
			}
		})
	}
}

func TestExtractImageMarkdown(t *testing.T) {
	got := newExtractor().Extract(context.Background(), `<img src="https://x/cat.png" alt="A cat">`, extract.PlaceLeading)

	if got != "![A cat](https://x/cat.png)" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestExtractTextOnly(t *testing.T) {
	got := newExtractor().Extract(context.Background(), `<p>Hello <b>world</b>, see <a href="https://x/">this</a>.</p>`, extract.PlaceLeading)

	if !strings.Contains(got, "Hello") || !strings.Contains(got, "world") {
		t.Fatalf("text lost: %q", got)
	}
	if strings.Contains(got, "<p>") || strings.Contains(got, "<b>") {
		t.Fatalf("markup left in output: %q", got)
	}
	if strings.Contains(got, "![") {
		t.Fatalf("unexpected image in output: %q", got)
	}
}

func TestExtractLeadingPlacement(t *testing.T) {
	got := newExtractor().Extract(context.Background(), `<p>Some words about the picture.</p><img src="https://x/1.png">`, extract.PlaceLeading)

	if !strings.HasPrefix(got, "![](https://x/1.png)") {
		t.Fatalf("expected image first, got %q", got)
	}
	if !strings.Contains(got, "Some words") {
		t.Fatalf("text lost: %q", got)
	}
}

func TestExtractAfterFirstParagraph(t *testing.T) {
	html := `<p>First paragraph of the article.</p><img src="https://x/1.png"><p>Second paragraph of the article.</p>`

	got := newExtractor().Extract(context.Background(), html, extract.PlaceAfterFirstParagraph)

	first := strings.Index(got, "First paragraph")
	image := strings.Index(got, "![](https://x/1.png)")
	if first < 0 || image < 0 {
		t.Fatalf("missing text or image: %q", got)
	}
	if image < first {
		t.Fatalf("image must follow the first paragraph: %q", got)
	}
}

func TestExtractPlainTextInput(t *testing.T) {
	got := newExtractor().Extract(context.Background(), "just some plain text", extract.PlaceLeading)

	if !strings.Contains(got, "just some plain text") {
		t.Fatalf("unexpected output %q", got)
	}
}
