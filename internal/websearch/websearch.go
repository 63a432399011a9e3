// Package websearch provides general web search for the retrieval stage.
//
// Two providers are supported, Brave and SerpAPI, behind a common Provider
// interface. Each provider enforces its own request pacing (free-tier plans
// rate-limit aggressively), retries 429 responses with increasing delays,
// and sits behind a circuit breaker so a dead provider fails fast instead of
// burning the stage timeout.
package websearch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/veridex-ai/veridex/internal/model"
)

// Query is one web search request.
type Query struct {
	Text string
	// Freshness restricts result age: "pd", "pw", "pm", "py", or empty.
	Freshness  string
	MaxResults int
}

// Provider executes web searches against one backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]model.SearchResult, error)
}

// pacer serializes request starts for one provider. The lock guards only the
// slot computation; the sleep happens outside it, so concurrent callers queue
// up distinct future slots instead of convoying on the lock.
type pacer struct {
	mu      sync.Mutex
	spacing time.Duration
	warmup  time.Duration
	started bool
	last    time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func newPacer(spacing, warmup time.Duration) *pacer {
	return &pacer{spacing: spacing, warmup: warmup, now: time.Now, sleep: sleepCtx}
}

// wait reserves the next request slot and blocks until it arrives. The first
// request in the process lifetime waits the cold-start warm-up delay.
func (p *pacer) wait(ctx context.Context) error {
	p.mu.Lock()
	now := p.now()
	var wait time.Duration
	if !p.started {
		p.started = true
		wait = p.warmup
	} else {
		wait = p.spacing - now.Sub(p.last)
		if wait < 0 {
			wait = 0
		}
	}
	p.last = now.Add(wait)
	p.mu.Unlock()

	if wait == 0 {
		return ctx.Err()
	}
	return p.sleep(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// rateLimitedError carries the provider's requested retry delay, when given.
type rateLimitedError struct {
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("websearch: rate limited (retry after %s)", e.retryAfter)
}

// retryAfterBackOff overrides the base schedule with the provider's
// Retry-After value for the attempt that saw it.
type retryAfterBackOff struct {
	backoff.BackOff
	override *time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if *b.override > 0 {
		d = *b.override
		*b.override = 0
	}
	return d
}

// ProviderConfig tunes one provider.
type ProviderConfig struct {
	APIKey string
	// BaseURL overrides the provider endpoint; empty uses the real service.
	BaseURL     string
	Timeout     time.Duration
	Spacing     time.Duration
	WarmupDelay time.Duration
	MaxResults  int
	Logger      *slog.Logger

	// RetryBaseInterval is the first 429 retry delay; subsequent delays
	// double. Defaults to 5 seconds.
	RetryBaseInterval time.Duration
}

func (c *ProviderConfig) normalize() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.Spacing <= 0 {
		c.Spacing = 1200 * time.Millisecond
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 10
	}
	if c.RetryBaseInterval <= 0 {
		c.RetryBaseInterval = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

const maxRateLimitRetries = 3

// httpProvider is the shared transport layer under Brave and SerpAPI.
type httpProvider struct {
	name    string
	client  *http.Client
	pacer   *pacer
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger

	retryBase time.Duration
}

func newHTTPProvider(name string, cfg ProviderConfig) *httpProvider {
	return &httpProvider{
		name:   name,
		client: &http.Client{Timeout: cfg.Timeout},
		pacer:  newPacer(cfg.Spacing, cfg.WarmupDelay),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     name,
			Interval: time.Minute,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		logger:    cfg.Logger,
		retryBase: cfg.RetryBaseInterval,
	}
}

// do paces, sends, and retries one request. parse converts the response body
// reader into results; it runs inside the breaker so parse failures count as
// provider failures.
func (h *httpProvider) do(ctx context.Context, build func() (*http.Request, error), parse func(*http.Response) ([]model.SearchResult, error)) ([]model.SearchResult, error) {
	if err := h.pacer.wait(ctx); err != nil {
		return nil, fmt.Errorf("websearch: %s: pacing interrupted: %w", h.name, err)
	}

	var override time.Duration
	sched := backoff.WithContext(
		&retryAfterBackOff{
			BackOff: backoff.WithMaxRetries(&backoff.ExponentialBackOff{
				InitialInterval:     h.retryBase,
				RandomizationFactor: 0,
				Multiplier:          2,
				MaxInterval:         4 * h.retryBase,
				MaxElapsedTime:      0,
				Stop:                backoff.Stop,
				Clock:               backoff.SystemClock,
			}, maxRateLimitRetries),
			override: &override,
		}, ctx)
	sched.Reset()

	var results []model.SearchResult
	op := func() error {
		out, err := h.breaker.Execute(func() (any, error) {
			req, err := build()
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			resp, err := h.client.Do(req.WithContext(ctx))
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				override = retryAfterOf(resp)
				return nil, &rateLimitedError{retryAfter: override}
			case resp.StatusCode != http.StatusOK:
				return nil, fmt.Errorf("websearch: %s: status %d", h.name, resp.StatusCode)
			}
			return parse(resp)
		})
		if err != nil {
			if _, ok := err.(*rateLimitedError); ok {
				h.logger.Warn("websearch: rate limited, retrying", "provider", h.name)
				return err
			}
			// Open breaker and hard failures are not retryable.
			return backoff.Permanent(err)
		}
		results = out.([]model.SearchResult)
		return nil
	}

	if err := backoff.Retry(op, sched); err != nil {
		return nil, fmt.Errorf("websearch: %s: %w", h.name, err)
	}
	return results, nil
}

func retryAfterOf(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// Cascade tries providers in order and returns the first non-empty result
// set. A provider error or empty result falls through to the next provider;
// an error is returned only when every provider failed.
type Cascade struct {
	providers []Provider
	logger    *slog.Logger
}

// NewCascade builds a failover chain, skipping nil providers.
func NewCascade(logger *slog.Logger, providers ...Provider) *Cascade {
	kept := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &Cascade{providers: kept, logger: logger}
}

// Name identifies the cascade in provenance fields.
func (c *Cascade) Name() string { return "web_search" }

// Enabled reports whether at least one provider is configured.
func (c *Cascade) Enabled() bool { return len(c.providers) > 0 }

// Search runs the failover chain.
func (c *Cascade) Search(ctx context.Context, q Query) ([]model.SearchResult, error) {
	var lastErr error
	for _, p := range c.providers {
		results, err := p.Search(ctx, q)
		if err != nil {
			c.logger.Warn("websearch: provider failed, trying next", "provider", p.Name(), "error", err)
			lastErr = err
			continue
		}
		if len(results) > 0 {
			return results, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("websearch: all providers failed: %w", lastErr)
	}
	return nil, nil
}
