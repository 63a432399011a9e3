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

const serpAPIBaseURL = "https://serpapi.com/search.json"

// serpFreshness maps the pipeline freshness codes to Google's tbs values.
var serpFreshness = map[string]string{
	"pd": "qdr:d",
	"pw": "qdr:w",
	"pm": "qdr:m",
	"py": "qdr:y",
}

// SerpAPI is the fallback web search provider.
type SerpAPI struct {
	http    *httpProvider
	apiKey  string
	baseURL string
	max     int
}

// NewSerpAPI creates a SerpAPI provider. Returns nil when no API key is
// configured so the cascade skips it.
func NewSerpAPI(cfg ProviderConfig) *SerpAPI {
	if cfg.APIKey == "" {
		return nil
	}
	cfg.normalize()
	base := cfg.BaseURL
	if base == "" {
		base = serpAPIBaseURL
	}
	return &SerpAPI{
		http:    newHTTPProvider("serpapi", cfg),
		apiKey:  cfg.APIKey,
		baseURL: base,
		max:     cfg.MaxResults,
	}
}

func (s *SerpAPI) Name() string { return "serpapi" }

type serpResponse struct {
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Source  string `json:"source"`
		Date    string `json:"date"`
	} `json:"organic_results"`
}

// Search queries SerpAPI's Google engine.
func (s *SerpAPI) Search(ctx context.Context, q Query) ([]model.SearchResult, error) {
	num := q.MaxResults
	if num <= 0 || num > s.max {
		num = s.max
	}

	build := func() (*http.Request, error) {
		params := url.Values{}
		params.Set("engine", "google")
		params.Set("q", q.Text)
		params.Set("num", strconv.Itoa(num))
		params.Set("api_key", s.apiKey)
		if tbs, ok := serpFreshness[q.Freshness]; ok {
			params.Set("tbs", tbs)
		}
		return http.NewRequest(http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	}

	parse := func(resp *http.Response) ([]model.SearchResult, error) {
		var body serpResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("decode serpapi response: %w", err)
		}
		results := make([]model.SearchResult, 0, len(body.OrganicResults))
		for _, r := range body.OrganicResults {
			if r.Link == "" {
				continue
			}
			source := r.Source
			if source == "" {
				source = hostOf(r.Link)
			}
			sr := model.SearchResult{
				Title:   r.Title,
				URL:     r.Link,
				Snippet: r.Snippet,
				Source:  source,
			}
			if r.Date != "" {
				date := r.Date
				sr.PublishedDate = &date
			}
			results = append(results, sr)
		}
		return results, nil
	}

	return s.http.do(ctx, build, parse)
}
