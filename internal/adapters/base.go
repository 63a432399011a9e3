package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/veridex-ai/veridex/internal/cache"
	"github.com/veridex-ai/veridex/internal/model"
	"github.com/veridex-ai/veridex/internal/ratelimit"
)

// maxAdapterBodyBytes bounds how much of an API response is read.
const maxAdapterBodyBytes = 2 << 20

// Base carries the plumbing shared by every adapter: one HTTP client, the
// response cache, and the adapter's evidence defaults. Concrete adapters
// embed it and call fetchJSON / cached.
type Base struct {
	name    string
	client  *http.Client
	cache   cache.Cache
	limiter ratelimit.Limiter
	logger  *slog.Logger

	// Evidence defaults; the ranking pipeline recomputes credibility and
	// treats this value as a starting point only.
	tier        model.SourceTier
	credibility float64
	ttl         time.Duration
}

// Deps bundles what every adapter needs at construction.
type Deps struct {
	Client *http.Client
	Cache  cache.Cache
	// Limiter paces outbound calls per adapter name. Most wrapped APIs run
	// on free tiers with per-minute quotas.
	Limiter ratelimit.Limiter
	Logger  *slog.Logger
}

func (d *Deps) normalize() {
	if d.Client == nil {
		d.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if d.Cache == nil {
		d.Cache = cache.Noop{}
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.NoopLimiter{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
}

func newBase(name string, deps Deps, tier model.SourceTier, credibility float64, ttl time.Duration) Base {
	deps.normalize()
	return Base{
		name:        name,
		client:      deps.Client,
		cache:       deps.Cache,
		limiter:     deps.Limiter,
		logger:      deps.Logger,
		tier:        tier,
		credibility: credibility,
		ttl:         ttl,
	}
}

// Name is the adapter identifier and cache namespace.
func (b *Base) Name() string { return b.name }

// cached wraps an adapter search with the response cache. keyParts identify
// the call; fetch runs only on a miss.
func (b *Base) cached(ctx context.Context, keyParts []any, fetch func(context.Context) ([]model.EvidenceSnippet, error)) ([]model.EvidenceSnippet, error) {
	key := cache.Key(keyParts...)
	var hit []model.EvidenceSnippet
	if cache.GetJSON(ctx, b.cache, "adapter:"+b.name, key, &hit) {
		return hit, nil
	}

	snippets, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	cache.SetJSON(ctx, b.cache, "adapter:"+b.name, key, snippets, b.ttl)
	return snippets, nil
}

// fetchJSON performs a GET with optional headers and decodes the JSON body
// into out.
func (b *Base) fetchJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	if err := b.pace(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("adapter %s: build request: %w", b.name, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "veridex/1.0 (fact verification; contact@veridex.ai)")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("adapter %s: request: %w", b.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("adapter %s: status %d", b.name, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxAdapterBodyBytes)
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("adapter %s: decode response: %w", b.name, err)
	}
	return nil
}

// postJSON performs a POST with a JSON body and decodes the JSON response
// into out.
func (b *Base) postJSON(ctx context.Context, rawURL string, headers map[string]string, payload, out any) error {
	if err := b.pace(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("adapter %s: encode request: %w", b.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("adapter %s: build request: %w", b.name, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("adapter %s: request: %w", b.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("adapter %s: status %d", b.name, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxAdapterBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("adapter %s: decode response: %w", b.name, err)
	}
	return nil
}

// pace blocks until the limiter grants a token for this adapter. Limiter
// malfunctions fail open; only context cancellation aborts the call.
func (b *Base) pace(ctx context.Context) error {
	if err := b.limiter.Wait(ctx, b.name); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("adapter %s: %w", b.name, err)
		}
		b.logger.Warn("limiter failed open", "adapter", b.name, "error", err)
	}
	return nil
}

// snippet builds an evidence snippet with the adapter's defaults applied.
func (b *Base) snippet(text, sourceURL, title string, publishedDate *string) model.EvidenceSnippet {
	return model.EvidenceSnippet{
		ID:               uuid.New(),
		Text:             text,
		Source:           b.name,
		URL:              sourceURL,
		Title:            title,
		PublishedDate:    publishedDate,
		RelevanceScore:   0.7,
		CredibilityScore: b.credibility,
		Provider:         b.name,
		Tier:             b.tier,
		IsFactCheck:      b.tier == model.TierFactCheck,
	}
}

// params encodes query parameters.
func params(kv ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			v.Set(kv[i], kv[i+1])
		}
	}
	return v
}

func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// capResults truncates snippets to the request bound.
func capResults(snippets []model.EvidenceSnippet, max int) []model.EvidenceSnippet {
	if max > 0 && len(snippets) > max {
		return snippets[:max]
	}
	return snippets
}
