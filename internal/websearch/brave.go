package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/veridex-ai/veridex/internal/model"
)

const braveBaseURL = "https://api.search.brave.com/res/v1/web/search"

// Brave is the primary web search provider.
type Brave struct {
	http    *httpProvider
	apiKey  string
	baseURL string
	max     int
}

// NewBrave creates a Brave Search provider. Returns nil when no API key is
// configured so the cascade skips it.
func NewBrave(cfg ProviderConfig) *Brave {
	if cfg.APIKey == "" {
		return nil
	}
	cfg.normalize()
	base := cfg.BaseURL
	if base == "" {
		base = braveBaseURL
	}
	return &Brave{
		http:    newHTTPProvider("brave", cfg),
		apiKey:  cfg.APIKey,
		baseURL: base,
		max:     cfg.MaxResults,
	}
}

func (b *Brave) Name() string { return "brave" }

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			PageAge     string `json:"page_age"`
			Profile     struct {
				Name string `json:"name"`
			} `json:"profile"`
		} `json:"results"`
	} `json:"web"`
}

// Search queries the Brave Web Search API.
func (b *Brave) Search(ctx context.Context, q Query) ([]model.SearchResult, error) {
	count := q.MaxResults
	if count <= 0 || count > b.max {
		count = b.max
	}

	build := func() (*http.Request, error) {
		params := url.Values{}
		params.Set("q", q.Text)
		params.Set("count", strconv.Itoa(count))
		if q.Freshness != "" {
			params.Set("freshness", q.Freshness)
		}
		req, err := http.NewRequest(http.MethodGet, b.baseURL+"?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Subscription-Token", b.apiKey)
		return req, nil
	}

	parse := func(resp *http.Response) ([]model.SearchResult, error) {
		var body braveResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("decode brave response: %w", err)
		}
		results := make([]model.SearchResult, 0, len(body.Web.Results))
		for _, r := range body.Web.Results {
			if r.URL == "" {
				continue
			}
			source := r.Profile.Name
			if source == "" {
				source = hostOf(r.URL)
			}
			sr := model.SearchResult{
				Title:   r.Title,
				URL:     r.URL,
				Snippet: r.Description,
				Source:  source,
			}
			if r.PageAge != "" {
				age := r.PageAge
				sr.PublishedDate = &age
			}
			results = append(results, sr)
		}
		return results, nil
	}

	return b.http.do(ctx, build, parse)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Hostname()
}
