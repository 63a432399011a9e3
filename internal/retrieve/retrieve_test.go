package retrieve

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridex-ai/veridex/internal/model"
	"github.com/veridex-ai/veridex/internal/websearch"
)

func TestDeriveQueryStripsNoise(t *testing.T) {
	got := deriveQuery("The minister said that the budget rose 4% in 2025, without consulting the committee.")
	assert.NotContains(t, got, "without consulting")
	assert.NotContains(t, got, "said that")
	assert.Contains(t, got, "budget")
	assert.Contains(t, got, "2025")
}

func TestCapQueryBreaksOnWordBoundary(t *testing.T) {
	long := strings.Repeat("unemployment ", 40)
	got := capQuery(long)
	assert.LessOrEqual(t, len(got), maxQueryChars)
	assert.False(t, strings.HasSuffix(got, " "))
	assert.True(t, strings.HasSuffix(got, "unemployment"))
}

func TestPlannerFallbackAppendsExclusions(t *testing.T) {
	p := NewPlanner(nil, slog.Default(), true)
	plan := p.Fallback(model.Claim{Text: "UK unemployment was 4.2% in June 2026."})

	require.Len(t, plan.Queries, 1)
	assert.Contains(t, plan.Queries[0], "-site:twitter.com")
	assert.Contains(t, plan.Queries[0], "-site:snopes.com")
	assert.Contains(t, plan.Queries[0], `-"fact check"`)
	assert.Contains(t, plan.Queries[0], `-"fact-check"`)
	assert.LessOrEqual(t, len(plan.Queries[0]), maxQueryChars)
}

func TestPlannerFallbackWithoutFactCheckExclusion(t *testing.T) {
	p := NewPlanner(nil, slog.Default(), false)
	plan := p.Fallback(model.Claim{Text: "UK unemployment was 4.2% in June 2026."})

	require.Len(t, plan.Queries, 1)
	assert.Contains(t, plan.Queries[0], "-site:twitter.com")
	assert.NotContains(t, plan.Queries[0], "-site:snopes.com")
	assert.NotContains(t, plan.Queries[0], `-"fact check"`)
}

func TestPlannerFreshnessFromTemporal(t *testing.T) {
	p := NewPlanner(nil, slog.Default(), false)
	claim := model.Claim{
		Text:     "The rate is 4.2% as of today.",
		Temporal: &model.TemporalAnalysis{IsTimeSensitive: true, Window: model.WindowCurrentMonth, MaxEvidenceAgeDays: 30},
	}
	plan := p.Fallback(claim)
	assert.Equal(t, "pm", plan.Freshness)
	assert.Equal(t, 30, plan.MaxAgeDays)
}

func TestProfileForKnownAndHeuristicDomains(t *testing.T) {
	assert.InDelta(t, 0.95, profileFor("https://www.ons.gov.uk/bulletin").credibility, 1e-9)
	assert.Equal(t, model.TierNewsTier1, profileFor("https://www.reuters.com/article").tier)
	assert.Equal(t, model.TierGovernment, profileFor("https://www.usda.gov/data").tier)
	assert.Equal(t, model.TierAcademic, profileFor("https://physics.ox.ac.uk/paper").tier)
	assert.Equal(t, model.TierBlog, profileFor("https://myblog.wordpress.com/post").tier)
	assert.InDelta(t, defaultCredibility, profileFor("https://random-site.example/post").credibility, 1e-9)
}

func TestAutoExcludeAndFactCheckDetection(t *testing.T) {
	assert.True(t, isAutoExcluded("https://twitter.com/user/status/1"))
	assert.True(t, isAutoExcluded("https://www.reddit.com/r/news"))
	assert.False(t, isAutoExcluded("https://www.reuters.com/a"))
	assert.True(t, isFactCheckSite("https://www.snopes.com/check"))
}

func TestRegistrableDomain(t *testing.T) {
	assert.Equal(t, "theguardian.com", registrableDomain("https://amp.theguardian.com/x"))
	assert.Equal(t, "ons.gov.uk", registrableDomain("https://www.ons.gov.uk/y"))
	assert.Equal(t, "bbc.co.uk", registrableDomain("https://news.bbc.co.uk/z"))
}

func TestRecencyFactor(t *testing.T) {
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	fresh := "2026-08-20"
	assert.InDelta(t, 1.0, recencyFactor(&fresh, 30, now), 1e-9)

	ancient := "2020-01-01"
	assert.InDelta(t, 0.8, recencyFactor(&ancient, 30, now), 1e-9)

	assert.InDelta(t, 1.0, recencyFactor(nil, 30, now), 1e-9)
	assert.InDelta(t, 1.0, recencyFactor(&ancient, 0, now), 1e-9)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.InDelta(t, 0.5, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
}

func testFilterConfig() FilterConfig {
	return FilterConfig{
		SourceCredibilityThreshold: 0.70,
		OutstandingSourceThreshold: 0.95,
		MaxEvidencePerDomain:       2,
		MaxSourcesPerClaim:         10,
		EnableDeduplication:        true,
		EnableSourceDiversity:      true,
		EnableDomainCap:            true,
		EnableSourceValidation:     true,
	}
}

func cand(url string, cred, score float64) candidate {
	return candidate{snippet: model.EvidenceSnippet{
		ID:               uuid.New(),
		Text:             "Some evidence text about the claim from " + url,
		URL:              url,
		CredibilityScore: cred,
		FinalScore:       score,
	}}
}

func TestFilterChainStages(t *testing.T) {
	f := newFilterChain(testFilterConfig(), slog.Default())
	claim := model.Claim{Position: 0}

	cands := []candidate{
		cand("https://twitter.com/a", 0.9, 0.9),        // auto_exclude
		cand("https://lowcred.example/a", 0.5, 0.8),    // credibility
		cand("https://www.reuters.com/a", 0.9, 0.85),   // kept
		cand("https://www.reuters.com/a", 0.9, 0.7),    // dedup (same URL)
		cand("https://www.bbc.co.uk/1", 0.88, 0.82),    // kept
		cand("https://not a url", 0.9, 0.6),            // validation
	}

	kept, raw := f.run(claim, cands)
	require.Len(t, kept, 2)
	assert.Len(t, raw, len(cands))

	stages := map[string]int{}
	for _, rec := range raw {
		if rec.FilterStage != nil {
			stages[*rec.FilterStage]++
		}
	}
	assert.Equal(t, 1, stages[stageAutoExclude])
	assert.Equal(t, 1, stages[stageCredibility])
	assert.Equal(t, 1, stages[stageDedup])
	assert.Equal(t, 1, stages[stageValidation])
}

func TestFilterDomainCapWithOutstandingBypass(t *testing.T) {
	f := newFilterChain(testFilterConfig(), slog.Default())
	claim := model.Claim{Position: 1}

	cands := []candidate{
		cand("https://www.ons.gov.uk/a", 0.95, 0.95),
		cand("https://www.ons.gov.uk/b", 0.95, 0.94),
		cand("https://www.ons.gov.uk/c", 0.95, 0.93),
		cand("https://www.ons.gov.uk/d", 0.95, 0.92),
	}
	kept, _ := f.run(claim, cands)
	// All at or above the outstanding threshold bypass the per-domain cap.
	assert.Len(t, kept, 4)

	cands = []candidate{
		cand("https://www.example-news.com/a", 0.8, 0.9),
		cand("https://www.example-news.com/b", 0.8, 0.85),
		cand("https://www.example-news.com/c", 0.8, 0.8),
	}
	kept, raw := f.run(claim, cands)
	assert.Len(t, kept, 2)
	var capDrops int
	for _, rec := range raw {
		if rec.FilterStage != nil && *rec.FilterStage == stageDomainCap {
			capDrops++
		}
	}
	assert.Equal(t, 1, capDrops)
}

func TestFilterDiversityCapsOwnershipGroup(t *testing.T) {
	f := newFilterChain(testFilterConfig(), slog.Default())
	mk := func(url string, score float64) candidate {
		c := cand(url, 0.88, score)
		c.snippet.IndependenceGroup = "bbc"
		return c
	}
	cands := []candidate{
		mk("https://www.bbc.co.uk/1", 0.9),
		mk("https://www.bbc.com/2", 0.85),
		mk("https://feeds.bbci.co.uk/3", 0.8),
	}
	kept, _ := f.run(model.Claim{}, cands)
	assert.Len(t, kept, 2)
}

func TestFilterTemporalDropsStale(t *testing.T) {
	f := newFilterChain(testFilterConfig(), slog.Default())
	f.now = func() time.Time { return time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC) }

	claim := model.Claim{
		Temporal: &model.TemporalAnalysis{IsTimeSensitive: true, Window: model.WindowCurrentMonth, MaxEvidenceAgeDays: 30},
	}

	stale := cand("https://www.reuters.com/old", 0.9, 0.9)
	old := "2024-01-15"
	stale.snippet.PublishedDate = &old

	fresh := cand("https://www.bbc.co.uk/new", 0.88, 0.85)
	recent := "2026-08-20"
	fresh.snippet.PublishedDate = &recent

	kept, raw := f.run(claim, []candidate{stale, fresh})
	require.Len(t, kept, 1)
	assert.Equal(t, "https://www.bbc.co.uk/new", kept[0].URL)

	var temporalDrop bool
	for _, rec := range raw {
		if rec.FilterStage != nil && *rec.FilterStage == stageTemporal {
			temporalDrop = true
		}
	}
	assert.True(t, temporalDrop)
}

func TestFilterStalePlannedKeptWhenWarnOnly(t *testing.T) {
	cfg := testFilterConfig()
	cfg.DropStalePlanned = false
	f := newFilterChain(cfg, slog.Default())
	f.now = func() time.Time { return time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC) }

	claim := model.Claim{
		Temporal: &model.TemporalAnalysis{IsTimeSensitive: true, Window: model.WindowCurrentMonth, MaxEvidenceAgeDays: 30},
	}

	stale := cand("https://www.reuters.com/old", 0.9, 0.9)
	old := "2024-01-15"
	stale.snippet.PublishedDate = &old
	stale.planned = true

	kept, _ := f.run(claim, []candidate{stale})
	assert.Len(t, kept, 1)
}

func TestFilterDomainDiversityRatio(t *testing.T) {
	cfg := testFilterConfig()
	cfg.MaxEvidencePerDomain = 3
	cfg.DomainDiversityThreshold = 0.5
	f := newFilterChain(cfg, slog.Default())

	// Three of four candidates share a publisher; the 0.5 ratio allows two.
	cands := []candidate{
		cand("https://www.example-news.com/a", 0.8, 0.9),
		cand("https://www.example-news.com/b", 0.8, 0.85),
		cand("https://www.example-news.com/c", 0.8, 0.8),
		cand("https://www.other-news.org/a", 0.8, 0.75),
	}
	kept, raw := f.run(model.Claim{}, cands)
	require.Len(t, kept, 3)

	var capDrops int
	for _, rec := range raw {
		if rec.FilterStage != nil && *rec.FilterStage == stageDomainCap {
			capDrops++
		}
	}
	assert.Equal(t, 1, capDrops)
}

func TestSameArticleURL(t *testing.T) {
	assert.True(t, sameArticleURL("https://www.example.com/story/", "http://example.com/story?utm=1"))
	assert.True(t, sameArticleURL("https://example.com/Story", "https://example.com/story"))
	assert.False(t, sameArticleURL("https://example.com/story", "https://example.com/other"))
	assert.False(t, sameArticleURL("https://a.example.com/story", "https://b.example.com/story"))
	assert.False(t, sameArticleURL("", "https://example.com/story"))
}

func TestDataProviderProfiles(t *testing.T) {
	// Hosts backing the specialized adapters must clear the default
	// credibility filter, not fall to the general default.
	for _, u := range []string{
		"https://api.football-data.org/v4/matches/1",
		"https://www.transfermarkt.com/player/1",
		"https://api.weatherapi.com/v1/history.json",
		"https://api.gbif.org/v1/species/5231190",
		"https://www.alphavantage.co/query",
	} {
		assert.GreaterOrEqual(t, profileFor(u).credibility, 0.8, u)
	}
}

func TestFilterEmptiedSetStaysEmpty(t *testing.T) {
	f := newFilterChain(testFilterConfig(), slog.Default())

	// Every candidate is below the 0.70 credibility floor. Nothing may be
	// readmitted: the judge abstains on an empty set, and restoring dropped
	// sources would hand it evidence the floor already rejected.
	cands := []candidate{
		cand("https://lowcred-one.example/a", 0.30, 0.9),
		cand("https://lowcred-two.example/b", 0.25, 0.85),
	}
	kept, raw := f.run(model.Claim{}, cands)
	assert.Empty(t, kept)

	require.Len(t, raw, 2)
	for _, rec := range raw {
		assert.False(t, rec.IsIncluded)
		require.NotNil(t, rec.FilterStage)
		assert.Equal(t, stageCredibility, *rec.FilterStage)
		assert.NotNil(t, rec.FilterReason)
	}
}

func TestFilterEmptiedByTemporalStaysEmpty(t *testing.T) {
	f := newFilterChain(testFilterConfig(), slog.Default())
	f.now = func() time.Time { return time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC) }

	claim := model.Claim{
		Temporal: &model.TemporalAnalysis{IsTimeSensitive: true, Window: model.WindowCurrentMonth, MaxEvidenceAgeDays: 30},
	}
	stale := cand("https://www.reuters.com/old", 0.9, 0.9)
	old := "2024-01-15"
	stale.snippet.PublishedDate = &old

	// High credibility does not rescue stale evidence.
	kept, raw := f.run(claim, []candidate{stale})
	assert.Empty(t, kept)
	require.Len(t, raw, 1)
	assert.False(t, raw[0].IsIncluded)
	assert.Equal(t, stageTemporal, *raw[0].FilterStage)
}

func TestFilterLogsPerStageCounts(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f := newFilterChain(testFilterConfig(), logger)

	cands := []candidate{
		cand("https://www.reuters.com/a", 0.9, 0.9),
		cand("https://lowcred.example/b", 0.30, 0.85),
	}
	f.run(model.Claim{Position: 2}, cands)

	logged := logBuf.String()
	for _, stage := range []string{stageAutoExclude, stageCredibility, stageTemporal, stageDedup, stageDiversity, stageDomainCap, stageValidation} {
		assert.Contains(t, logged, "stage="+stage)
	}
	// The credibility stage drops one of two candidates.
	assert.Contains(t, logged, "stage=credibility before=2 after=1")
}

type stubSearcher struct {
	results []model.SearchResult
}

func (s stubSearcher) Search(context.Context, websearch.Query) ([]model.SearchResult, error) {
	return s.results, nil
}

func (s stubSearcher) Enabled() bool { return true }

func TestRetrieveEndToEnd(t *testing.T) {
	page := `<!DOCTYPE html><html><head><title>Rate report</title></head><body><article>
<p>The UK unemployment rate was 4.2 percent in June 2026, the statistics office reported,
continuing a gradual decline across the labour market over recent quarters.</p>
<p>Economists said the figure matched forecasts and noted that wage growth remained
stable across both public and private sectors during the same period.</p>
</article></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	searcher := stubSearcher{results: []model.SearchResult{
		{Title: "Rate report", URL: srv.URL + "/a", Snippet: "unemployment 4.2%", Source: "Example"},
	}}

	cfg := Config{Filter: FilterConfig{
		SourceCredibilityThreshold: 0.3,
		MaxSourcesPerClaim:         5,
	}}
	r := New(searcher, nil, nil, nil, nil, nil, cfg, slog.Default())

	claims := []model.Claim{{Text: "UK unemployment was 4.2% in June 2026.", Position: 0}}
	result, err := r.Retrieve(context.Background(), claims, model.FallbackClassification(), "")
	require.NoError(t, err)

	require.Len(t, result.Evidence[0], 1)
	ev := result.Evidence[0][0]
	assert.Contains(t, ev.Text, "unemployment rate")
	assert.Equal(t, "web_search", ev.Provider)
	assert.Equal(t, model.ExtractionOK, ev.ExtractionStatus)
	assert.Positive(t, ev.FinalScore)

	require.Len(t, result.Raw, 1)
	assert.True(t, result.Raw[0].IsIncluded)

	assert.Equal(t, []string{"web_search"}, result.Usage.SourcesUsed)
	assert.Positive(t, result.Usage.CallCount)
}

func TestRetrieveExcludesCheckedArticle(t *testing.T) {
	page := `<!DOCTYPE html><html><head><title>Report</title></head><body><article>
<p>The UK unemployment rate was 4.2 percent in June 2026, the statistics office reported,
continuing a gradual decline across the labour market over recent quarters.</p>
</article></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	articleURL := srv.URL + "/story"
	searcher := stubSearcher{results: []model.SearchResult{
		{Title: "The story itself", URL: articleURL, Snippet: "4.2%", Source: "Example"},
		{Title: "Independent report", URL: srv.URL + "/other", Snippet: "4.2%", Source: "Example"},
	}}

	cfg := Config{Filter: FilterConfig{SourceCredibilityThreshold: 0.3, MaxSourcesPerClaim: 5}}
	r := New(searcher, nil, nil, nil, nil, nil, cfg, slog.Default())

	claims := []model.Claim{{Text: "UK unemployment was 4.2% in June 2026.", Position: 0}}
	result, err := r.Retrieve(context.Background(), claims, model.FallbackClassification(), articleURL)
	require.NoError(t, err)

	require.Len(t, result.Evidence[0], 1)
	assert.Equal(t, srv.URL+"/other", result.Evidence[0][0].URL)

	var selfHit *model.RawEvidence
	for i := range result.Raw {
		if result.Raw[i].URL == articleURL {
			selfHit = &result.Raw[i]
		}
	}
	require.NotNil(t, selfHit)
	assert.False(t, selfHit.IsIncluded)
	require.NotNil(t, selfHit.FilterStage)
	assert.Equal(t, stageAutoExclude, *selfHit.FilterStage)
}

func TestGlobalDomainCap(t *testing.T) {
	cfg := Config{EnableGlobalCap: true, GlobalMaxDomainRatio: 0.4}
	r := New(nil, nil, nil, nil, nil, nil, cfg, slog.Default())

	mk := func(url string, score float64) model.EvidenceSnippet {
		return model.EvidenceSnippet{ID: uuid.New(), URL: url, FinalScore: score}
	}
	result := Result{Evidence: map[int][]model.EvidenceSnippet{
		0: {mk("https://a.example.com/1", 0.9), mk("https://a.example.com/2", 0.8), mk("https://b.example.org/1", 0.7)},
		1: {mk("https://a.example.com/3", 0.6), mk("https://c.example.net/1", 0.5)},
	}}
	for pos, snippets := range result.Evidence {
		for _, s := range snippets {
			result.Raw = append(result.Raw, model.RawEvidence{EvidenceSnippet: s, ClaimPosition: pos, IsIncluded: true})
		}
	}

	r.applyGlobalDomainCap(&result)

	total := 0
	fromA := 0
	for _, snippets := range result.Evidence {
		for _, s := range snippets {
			total++
			if registrableDomain(s.URL) == "example.com" {
				fromA++
			}
		}
	}
	// 5 snippets, 40% ratio: example.com capped at 2 of the original 3.
	assert.Equal(t, 4, total)
	assert.Equal(t, 2, fromA)

	var flipped int
	for _, rec := range result.Raw {
		if !rec.IsIncluded {
			flipped++
			require.NotNil(t, rec.FilterStage)
			assert.Equal(t, stageDomainCap, *rec.FilterStage)
		}
	}
	assert.Equal(t, 1, flipped)
}
