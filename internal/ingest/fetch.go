package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// userAgents is the rotation pool for article fetches. Sites that block the
// first UA with 403/429 are retried with the next one.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0",
}

// maxBodyBytes caps how much of a page we read (articles, not downloads).
const maxBodyBytes = 4 << 20 // 4 MB

// Fetcher downloads article HTML with UA rotation and a shared persistent
// HTTP client.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewFetcher creates a Fetcher. The client is reused across fetches for
// connection pooling.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Fetch downloads the page at rawURL, rotating user agents on 403/429.
// Returns the raw HTML, or a typed ingest error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	var lastStatus int

	for _, ua := range userAgents {
		html, status, err := f.fetchOnce(ctx, rawURL, ua)
		switch {
		case err != nil:
			if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
				return "", &Error{Kind: KindTimeout, Err: err}
			}
			if ctx.Err() != nil {
				return "", &Error{Kind: KindTimeout, Err: ctx.Err()}
			}
			return "", &Error{Kind: KindFetchFailed, Err: err}
		case status == http.StatusForbidden || status == http.StatusTooManyRequests:
			// Try the next UA.
			lastStatus = status
			continue
		case status >= 400:
			return "", &Error{Kind: KindFetchFailed, Err: fmt.Errorf("status %d", status)}
		default:
			return html, nil
		}
	}

	if lastStatus == http.StatusTooManyRequests {
		return "", &Error{Kind: KindRateLimited, Err: fmt.Errorf("status 429 across %d user agents", len(userAgents))}
	}
	return "", &Error{Kind: KindBlocked, Err: fmt.Errorf("status 403 across %d user agents", len(userAgents))}
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL, ua string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return "", resp.StatusCode, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return string(body), resp.StatusCode, nil
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
