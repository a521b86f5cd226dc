package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"rssreader/internal/markdown"
)

// Placement decides where the image block goes relative to the extracted text.
type Placement int

const (
	// PlaceLeading puts images before the text. Used for item summaries.
	PlaceLeading Placement = iota
	// PlaceAfterFirstParagraph puts images after the first text paragraph. Used for full content.
	PlaceAfterFirstParagraph
)

type Extractor struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Extractor {
	return &Extractor{log: log}
}

// Extract turns an HTML fragment into Markdown. Every <img src> of the input is kept,
// including those inside <noscript>. It returns "" when nothing usable remains and never panics.
func (e *Extractor) Extract(ctx context.Context, input string, placement Placement) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}

	doc, err := parse(input)
	if err != nil {
		e.log.DebugContext(ctx, "Failed to parse HTML fragment", "error", err)
		return ""
	}

	images := collectImages(doc)
	doc.Find("img").Remove()

	fragment, err := doc.Find("body").Html()
	if err != nil {
		fragment = ""
	}

	text := e.readabilityText(ctx, fragment)
	if text == "" {
		text = e.directText(ctx, fragment)
	}
	if text == "" {
		text = plainText(doc)
	}

	return combine(images, text, placement)
}

// parse disables scripting so <noscript> children are parsed as elements rather than raw text.
func parse(input string) (doc *goquery.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while parsing: %v", r)
		}
	}()

	root, err := html.ParseWithOptions(strings.NewReader(input), html.ParseOptionEnableScripting(false))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	return goquery.NewDocumentFromNode(root), nil
}

func collectImages(doc *goquery.Document) []string {
	var images []string

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" {
			return
		}

		images = append(images, markdown.Image(s.AttrOr("alt", ""), src))
	})

	return images
}

func (e *Extractor) readabilityText(ctx context.Context, fragment string) (text string) {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.WarnContext(ctx, "Recovered from panic in readability", "panic", r)
			text = ""
		}
	}()

	article, err := readability.FromReader(strings.NewReader("<html><body>"+fragment+"</body></html>"), nil)
	if err != nil || strings.TrimSpace(article.Content) == "" {
		return ""
	}

	return e.toMarkdown(ctx, article.Content)
}

func (e *Extractor) directText(ctx context.Context, fragment string) (text string) {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.WarnContext(ctx, "Recovered from panic in markdown conversion", "panic", r)
			text = ""
		}
	}()

	return e.toMarkdown(ctx, fragment)
}

func (e *Extractor) toMarkdown(ctx context.Context, fragment string) string {
	converter := md.NewConverter("", true, nil)

	out, err := converter.ConvertString(fragment)
	if err != nil {
		e.log.DebugContext(ctx, "Failed to convert HTML to markdown", "error", err)
		return ""
	}

	return markdown.Join(markdown.Paragraphs(out)...)
}

func plainText(doc *goquery.Document) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()

	return strings.Join(strings.Fields(doc.Text()), " ")
}

func combine(images []string, text string, placement Placement) string {
	imageBlock := strings.Join(images, "\n\n")

	switch {
	case imageBlock == "" && text == "":
		return ""
	case imageBlock == "":
		return text
	case text == "":
		return imageBlock
	}

	if placement == PlaceAfterFirstParagraph {
		paragraphs := markdown.Paragraphs(text)
		if len(paragraphs) > 0 {
			return markdown.Join(paragraphs[0], imageBlock, markdown.Join(paragraphs[1:]...))
		}
	}

	return markdown.Join(imageBlock, text)
}
