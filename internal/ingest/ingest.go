// Package ingest fetches and sanitizes source content for the pipeline.
//
// URL inputs are fetched with browser-like UA rotation, run through a
// readable-content extractor (go-readability, with a goquery paragraph
// fallback), and sanitized. Text inputs skip fetch and extraction and are
// sanitized only. A successful ingest always yields a body of at least
// MinBodyChars characters; anything less is a typed failure.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/veridex-ai/veridex/internal/model"
)

// MinBodyChars is the minimum sanitized body length for a successful ingest.
const MinBodyChars = 50

// ErrorKind is the typed ingest failure category. The orchestrator matches
// on the kind to decide refund and retry policy.
type ErrorKind string

const (
	KindFetchFailed ErrorKind = "ingest_fetch_failed"
	KindPaywall     ErrorKind = "ingest_paywall"
	KindBlocked     ErrorKind = "ingest_blocked"
	KindRateLimited ErrorKind = "ingest_rate_limited"
	KindTimeout     ErrorKind = "ingest_timeout"
	KindTooShort    ErrorKind = "ingest_too_short"
)

// Error is a typed ingest failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ingest: %s", e.Kind)
	}
	return fmt.Sprintf("ingest: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from an error chain, or "" if err is not an
// ingest error.
func KindOf(err error) ErrorKind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}

// Ingester fetches and extracts readable article content.
type Ingester struct {
	fetcher *Fetcher
	logger  *slog.Logger
}

// New creates an Ingester. timeout bounds the whole fetch+extract of one URL.
func New(timeout time.Duration, logger *slog.Logger) *Ingester {
	return &Ingester{
		fetcher: NewFetcher(timeout),
		logger:  logger,
	}
}

// Ingest resolves the input to a sanitized IngestResult.
func (i *Ingester) Ingest(ctx context.Context, input model.InputData) (model.IngestResult, error) {
	switch input.Kind {
	case model.InputText:
		return i.ingestText(input.Content)
	case model.InputURL:
		return i.ingestURL(ctx, input.URL)
	default:
		return model.IngestResult{}, &Error{Kind: KindFetchFailed, Err: fmt.Errorf("unknown input kind %q", input.Kind)}
	}
}

func (i *Ingester) ingestText(content string) (model.IngestResult, error) {
	body := Sanitize(content)
	if len(body) < MinBodyChars {
		return model.IngestResult{}, &Error{Kind: KindTooShort, Err: fmt.Errorf("sanitized body is %d chars, need %d", len(body), MinBodyChars)}
	}
	return model.IngestResult{
		Body:             body,
		Title:            deriveTitle(body),
		WordCount:        len(strings.Fields(body)),
		ExtractionMethod: "direct_text",
	}, nil
}

func (i *Ingester) ingestURL(ctx context.Context, rawURL string) (model.IngestResult, error) {
	html, err := i.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return model.IngestResult{}, err
	}

	res, err := ExtractReadable(html, rawURL)
	if err != nil {
		i.logger.Debug("ingest: readability failed, trying paragraph fallback", "url", rawURL, "error", err)
		res, err = ExtractParagraphs(html, rawURL)
		if err != nil {
			return model.IngestResult{}, &Error{Kind: KindFetchFailed, Err: fmt.Errorf("content extraction: %w", err)}
		}
	}

	res.Body = Sanitize(res.Body)
	if looksPaywalled(res.Body) {
		return model.IngestResult{}, &Error{Kind: KindPaywall, Err: fmt.Errorf("paywall markers in extracted body")}
	}
	if len(res.Body) < MinBodyChars {
		return model.IngestResult{}, &Error{Kind: KindTooShort, Err: fmt.Errorf("extracted body is %d chars, need %d", len(res.Body), MinBodyChars)}
	}

	res.WordCount = len(strings.Fields(res.Body))
	res.URL = rawURL
	i.logger.Info("ingest: extracted article",
		"url", rawURL, "words", res.WordCount, "method", res.ExtractionMethod)
	return res, nil
}

// paywallMarkers are phrases that indicate the extractor got a subscription
// wall instead of the article.
var paywallMarkers = []string{
	"subscribe to continue reading",
	"subscribe to read",
	"this article is for subscribers",
	"create a free account to continue",
	"sign in to continue reading",
}

func looksPaywalled(body string) bool {
	if len(body) >= 600 {
		// Long bodies with a stray subscribe phrase are real articles.
		return false
	}
	lower := strings.ToLower(body)
	for _, m := range paywallMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// deriveTitle takes the first sentence (capped) of direct text input as a
// stand-in title for article context.
func deriveTitle(body string) string {
	end := strings.IndexAny(body, ".!?\n")
	if end == -1 || end > 120 {
		if len(body) > 120 {
			return body[:120]
		}
		return body
	}
	return body[:end]
}
