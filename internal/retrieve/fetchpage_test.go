package retrieve

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridex-ai/veridex/internal/model"
)

func TestPageFetcherDropsThinPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>ok</p></body></html>`))
	}))
	defer srv.Close()

	pf := newPageFetcher(true, slog.Default())
	result := model.SearchResult{URL: srv.URL, Title: "t", Snippet: "a perfectly good snippet"}

	// Extraction succeeded but the body is too thin to quote; the snippet
	// must not stand in for content we could read but found empty.
	_, ok := pf.one(context.Background(), model.Claim{Text: "c"}, result, "web_search", 0)
	assert.False(t, ok)
}

func TestPageFetcherFallsBackWhenBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	pf := newPageFetcher(true, slog.Default())
	result := model.SearchResult{URL: srv.URL, Title: "t", Snippet: "the statistics office reported 4.2 percent"}

	got, ok := pf.one(context.Background(), model.Claim{Text: "c"}, result, "web_search", 0)
	require.True(t, ok)
	assert.True(t, got.IsSnippetFallback)
	assert.Equal(t, model.ExtractionFallbackBlocked, got.ExtractionStatus)
	assert.InDelta(t, snippetFallbackRelevance, got.RelevanceScore, 1e-9)
}

func TestPageFetcherNoFallbackWhenDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	pf := newPageFetcher(false, slog.Default())
	result := model.SearchResult{URL: srv.URL, Snippet: "snippet"}

	_, ok := pf.one(context.Background(), model.Claim{Text: "c"}, result, "web_search", 0)
	assert.False(t, ok)
}
