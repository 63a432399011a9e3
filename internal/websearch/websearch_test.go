package websearch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridex-ai/veridex/internal/model"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func TestPacerColdStartAndSpacing(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	var sleeps []time.Duration

	p := &pacer{
		spacing: 2 * time.Second,
		warmup:  10 * time.Second,
		now:     clk.now,
		sleep: func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			clk.t = clk.t.Add(d)
			return nil
		},
	}

	ctx := context.Background()
	require.NoError(t, p.wait(ctx))
	require.NoError(t, p.wait(ctx))
	require.NoError(t, p.wait(ctx))

	// First request pays the warm-up; the rest are spaced.
	require.Len(t, sleeps, 3)
	assert.Equal(t, 10*time.Second, sleeps[0])
	assert.Equal(t, 2*time.Second, sleeps[1])
	assert.Equal(t, 2*time.Second, sleeps[2])
}

func TestPacerNoWaitAfterIdleGap(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	p := &pacer{
		spacing: 2 * time.Second,
		now:     clk.now,
		sleep: func(_ context.Context, d time.Duration) error {
			clk.t = clk.t.Add(d)
			return nil
		},
	}

	ctx := context.Background()
	require.NoError(t, p.wait(ctx))

	// A gap longer than the spacing means the next slot is immediate.
	clk.t = clk.t.Add(5 * time.Second)
	start := clk.t
	require.NoError(t, p.wait(ctx))
	assert.Equal(t, start, clk.t)
}

func TestRetryAfterBackOffOverride(t *testing.T) {
	override := 7 * time.Second
	b := &retryAfterBackOff{
		BackOff:  backoff.NewConstantBackOff(time.Second),
		override: &override,
	}

	// Provider-requested delay wins once, then the base schedule resumes.
	assert.Equal(t, 7*time.Second, b.NextBackOff())
	assert.Equal(t, time.Second, b.NextBackOff())
}

func braveConfig(srvURL string) ProviderConfig {
	return ProviderConfig{
		APIKey:            "test-key",
		BaseURL:           srvURL,
		Spacing:           time.Millisecond,
		RetryBaseInterval: time.Millisecond,
		Logger:            slog.Default(),
	}
}

func TestBraveSearchParsesResults(t *testing.T) {
	var gotFreshness, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFreshness = r.URL.Query().Get("freshness")
		gotToken = r.Header.Get("X-Subscription-Token")
		_, _ = w.Write([]byte(`{"web":{"results":[
			{"title":"Unemployment falls","url":"https://news.example.com/a","description":"Rate fell to 4.2%","page_age":"2026-08-01","profile":{"name":"Example News"}},
			{"title":"No URL","url":"","description":"dropped"}
		]}}`))
	}))
	defer srv.Close()

	b := NewBrave(braveConfig(srv.URL))
	require.NotNil(t, b)

	results, err := b.Search(context.Background(), Query{Text: "unemployment rate", Freshness: "pm"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "pm", gotFreshness)
	assert.Equal(t, "test-key", gotToken)
	assert.Equal(t, "Example News", results[0].Source)
	require.NotNil(t, results[0].PublishedDate)
	assert.Equal(t, "2026-08-01", *results[0].PublishedDate)
}

func TestBraveRetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"ok","url":"https://example.com","description":"d"}]}}`))
	}))
	defer srv.Close()

	b := NewBrave(braveConfig(srv.URL))
	results, err := b.Search(context.Background(), Query{Text: "q"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBraveServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewBrave(braveConfig(srv.URL))
	_, err := b.Search(context.Background(), Query{Text: "q"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewBrave(braveConfig(srv.URL))
	for i := 0; i < 5; i++ {
		_, err := b.Search(context.Background(), Query{Text: "q"})
		require.Error(t, err)
	}
	served := calls.Load()

	// Breaker is open: the next search fails without reaching the server.
	_, err := b.Search(context.Background(), Query{Text: "q"})
	require.Error(t, err)
	assert.Equal(t, served, calls.Load())
}

func TestNewBraveWithoutKey(t *testing.T) {
	assert.Nil(t, NewBrave(ProviderConfig{}))
	assert.Nil(t, NewSerpAPI(ProviderConfig{}))
}

func TestSerpAPIFreshnessMapping(t *testing.T) {
	var gotTBS string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTBS = r.URL.Query().Get("tbs")
		_, _ = w.Write([]byte(`{"organic_results":[{"title":"t","link":"https://example.com","snippet":"s","source":"Example","date":"Aug 1, 2026"}]}`))
	}))
	defer srv.Close()

	s := NewSerpAPI(ProviderConfig{
		APIKey:  "k",
		BaseURL: srv.URL,
		Spacing: time.Millisecond,
		Logger:  slog.Default(),
	})
	require.NotNil(t, s)

	results, err := s.Search(context.Background(), Query{Text: "q", Freshness: "pw"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "qdr:w", gotTBS)
	assert.Equal(t, "Example", results[0].Source)
}

type stubProvider struct {
	name    string
	results []model.SearchResult
	err     error
	calls   int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Search(context.Context, Query) ([]model.SearchResult, error) {
	s.calls++
	return s.results, s.err
}

func TestCascadeFailsOver(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("down")}
	backup := &stubProvider{name: "backup", results: []model.SearchResult{{URL: "https://example.com"}}}

	c := NewCascade(slog.Default(), primary, nil, backup)
	results, err := c.Search(context.Background(), Query{Text: "q"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, backup.calls)
}

func TestCascadeAllFailed(t *testing.T) {
	c := NewCascade(slog.Default(), &stubProvider{name: "a", err: errors.New("x")})
	_, err := c.Search(context.Background(), Query{Text: "q"})
	require.Error(t, err)
}

func TestCascadeEmptyWithoutProviders(t *testing.T) {
	c := NewCascade(slog.Default())
	assert.False(t, c.Enabled())
	results, err := c.Search(context.Background(), Query{Text: "q"})
	require.NoError(t, err)
	assert.Empty(t, results)
}
