package ingest

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/veridex-ai/veridex/internal/model"
)

// ExtractReadable runs the primary readable-content extractor over raw HTML.
func ExtractReadable(html, rawURL string) (model.IngestResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return model.IngestResult{}, fmt.Errorf("ingest: parse url: %w", err)
	}

	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return model.IngestResult{}, fmt.Errorf("ingest: readability: %w", err)
	}
	if strings.TrimSpace(article.TextContent) == "" {
		return model.IngestResult{}, fmt.Errorf("ingest: readability produced empty content")
	}

	res := model.IngestResult{
		Body:             article.TextContent,
		Title:            article.Title,
		Author:           article.Byline,
		ExtractionMethod: "readability",
	}
	if article.PublishedTime != nil {
		d := article.PublishedTime.Format("2006-01-02")
		res.PublishedDate = &d
	}
	return res, nil
}

// ExtractParagraphs is the fallback extractor: join the text of all <p>
// elements, skipping navigation/boilerplate containers.
func ExtractParagraphs(html, rawURL string) (model.IngestResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return model.IngestResult{}, fmt.Errorf("ingest: parse html: %w", err)
	}

	doc.Find("nav, header, footer, aside, script, style, noscript").Remove()

	var paragraphs []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if len(text) > 40 {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		return model.IngestResult{}, fmt.Errorf("ingest: no paragraphs found")
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	return model.IngestResult{
		Body:             strings.Join(paragraphs, "\n\n"),
		Title:            title,
		ExtractionMethod: "paragraph_fallback",
	}, nil
}

// Sanitize normalizes extracted text: strips control characters, collapses
// runs of whitespace, and trims.
func Sanitize(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))

	lastSpace := false
	lastNewline := 0
	for _, r := range text {
		switch {
		case r == '\n':
			// Preserve paragraph breaks but collapse 3+ newlines to 2.
			if lastNewline < 2 {
				sb.WriteRune('\n')
				lastNewline++
			}
			lastSpace = true
		case unicode.IsSpace(r):
			if !lastSpace {
				sb.WriteRune(' ')
			}
			lastSpace = true
		case unicode.IsControl(r):
			// Drop.
		default:
			sb.WriteRune(r)
			lastSpace = false
			lastNewline = 0
		}
	}
	return strings.TrimSpace(sb.String())
}
