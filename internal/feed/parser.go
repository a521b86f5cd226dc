package feed

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
)

type ParsedFeed struct {
	Title       string
	Description string
	Link        string
	FeedType    string
	Entries     []ParsedEntry
	// Bozo is set when the document only parsed after cleanup.
	Bozo bool
}

type ParsedEntry struct {
	ID        string
	GUID      string
	Link      string
	Title     string
	Summary   string
	Content   string
	Published *time.Time
}

// ResolveGUID picks the identity of an entry: its id, then its guid, then its link.
func ResolveGUID(e ParsedEntry) string {
	for _, v := range []string{e.ID, e.GUID, e.Link} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}

	return ""
}

// ParseFeed parses RSS, Atom or JSON feed bytes. A document rejected as-is gets one more try
// with characters that are illegal in XML removed.
func ParseFeed(body []byte) (*ParsedFeed, error) {
	// gofeed.Parser is not safe for concurrent use.
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err == nil {
		return convertFeed(parsed, false), nil
	}

	cleaned := stripIllegalXMLChars(body)

	parsed, retryErr := gofeed.NewParser().Parse(bytes.NewReader(cleaned))
	if retryErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}

	return convertFeed(parsed, true), nil
}

func convertFeed(parsed *gofeed.Feed, bozo bool) *ParsedFeed {
	out := &ParsedFeed{
		Title:       strings.TrimSpace(parsed.Title),
		Description: strings.TrimSpace(parsed.Description),
		Link:        strings.TrimSpace(parsed.Link),
		FeedType:    parsed.FeedType,
		Entries:     make([]ParsedEntry, 0, len(parsed.Items)),
		Bozo:        bozo,
	}

	for _, item := range parsed.Items {
		if item == nil {
			continue
		}

		out.Entries = append(out.Entries, convertItem(parsed.FeedType, item))
	}

	return out
}

func convertItem(feedType string, item *gofeed.Item) ParsedEntry {
	e := ParsedEntry{
		Link:      strings.TrimSpace(item.Link),
		Title:     strings.TrimSpace(item.Title),
		Summary:   item.Description,
		Content:   item.Content,
		Published: parseDate(item),
	}

	// Atom ids and RSS guids both land in item.GUID.
	if feedType == "atom" {
		e.ID = strings.TrimSpace(item.GUID)
	} else {
		e.GUID = strings.TrimSpace(item.GUID)
	}

	if e.Link == "" {
		for _, l := range item.Links {
			if l = strings.TrimSpace(l); l != "" {
				e.Link = l
				break
			}
		}
	}

	return e
}

// parseDate returns the publish time of an item in UTC, or nil when no date can be read.
func parseDate(item *gofeed.Item) *time.Time {
	for _, t := range []*time.Time{item.PublishedParsed, item.UpdatedParsed} {
		if t != nil && !t.IsZero() {
			v := t.UTC()
			return &v
		}
	}

	for _, raw := range []string{item.Published, item.Updated} {
		if t, ok := parseDateString(raw); ok {
			return &t
		}
	}

	return nil
}

func parseDateString(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	t, err := dateparse.ParseAny(raw)
	if err != nil || t.IsZero() {
		return time.Time{}, false
	}

	return t.UTC(), true
}

func stripIllegalXMLChars(body []byte) []byte {
	out := make([]byte, 0, len(body))

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if (r != utf8.RuneError || size > 1) && isXMLChar(r) {
			out = append(out, body[:size]...)
		}
		body = body[size:]
	}

	return out
}

func isXMLChar(r rune) bool {
	switch {
	case r == '\t' || r == '\n' || r == '\r':
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	case r >= 0x10000 && r <= 0x10FFFF:
		return true
	default:
		return false
	}
}
