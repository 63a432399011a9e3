package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridex-ai/veridex/internal/model"
)

type memCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemCache() *memCache { return &memCache{m: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, ns, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[ns+":"+key]
	return v, ok
}

func (c *memCache) Set(_ context.Context, ns, key string, value []byte, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[ns+":"+key] = value
}

func (c *memCache) Close() error { return nil }

func claimWith(text string, entities ...model.Entity) model.Claim {
	return model.Claim{Text: text, Entities: entities}
}

func TestEntitiesOfPromotesGenericLabel(t *testing.T) {
	claim := claimWith("c",
		model.Entity{Text: "Arsenal", Label: model.EntityGeneric},
		model.Entity{Text: "Mikel Arteta", Label: model.EntityPerson},
		model.Entity{Text: "London", Label: model.EntityGPE},
	)

	got := entitiesOf(claim, model.EntityPerson)
	assert.Equal(t, []string{"Arsenal", "Mikel Arteta"}, got)
}

func TestRegistrySkipsNilAdapters(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	r := NewRegistry(logger, model.JurisdictionUS)
	r.Register(NewFRED("", Deps{}))        // typed nil: no API key
	r.Register(NewAlphaVantage("", Deps{})) // typed nil: no API key
	r.Register(NewONS(Deps{}))

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []string{"ons"}, r.Names())

	// Skipped adapters are logged by concrete type, never via Name(),
	// which a typed-nil receiver cannot answer.
	logged := logBuf.String()
	assert.Contains(t, logged, "skipped, not configured")
	assert.Contains(t, logged, "adapter=fred")
	assert.Contains(t, logged, "adapter=alphavantage")
}

func TestAdapterTypeName(t *testing.T) {
	assert.Equal(t, "unknown", adapterTypeName(nil))
	assert.Equal(t, "fred", adapterTypeName(NewFRED("", Deps{})))
}

func TestRegistryForClaimRoutesByDomain(t *testing.T) {
	r := NewRegistry(slog.Default(), model.JurisdictionUS)
	r.Register(NewONS(Deps{}))
	r.Register(NewPubMed(Deps{}))
	r.Register(NewWikipedia(Deps{}))

	cls := model.ArticleClassification{
		PrimaryDomain:    model.DomainHealth,
		SecondaryDomains: []model.Domain{model.DomainDemographics},
		Jurisdiction:     model.JurisdictionUK,
	}

	got := r.ForClaim(claimWith("c"), cls)
	names := make([]string, len(got))
	for i, a := range got {
		names[i] = a.Name()
	}
	// Primary-domain adapters first, then secondary, no duplicates.
	assert.Equal(t, []string{"pubmed", "wikipedia", "ons"}, names)
}

func TestRegistryLegalClaimOverride(t *testing.T) {
	r := NewRegistry(slog.Default(), model.JurisdictionUS)
	r.Register(NewHansard(Deps{}))
	r.Register(NewGOVUK(Deps{}))
	r.Register(NewFootballData("key", Deps{}))

	claim := claimWith("The Online Safety Act 2023 bans the practice.")
	claim.Classification = &model.ClaimClassification{
		Type:     model.ClaimLegal,
		Metadata: map[string]any{"jurisdiction": "UK"},
	}

	cls := model.ArticleClassification{
		PrimaryDomain: model.DomainSports,
		Jurisdiction:  model.JurisdictionGlobal,
	}

	got := r.ForClaim(claim, cls)
	names := make([]string, len(got))
	for i, a := range got {
		names[i] = a.Name()
	}
	// Law/UK adapters lead; the article's sports adapter still follows.
	assert.Equal(t, []string{"hansard", "govuk", "football_data"}, names)
}

func TestBaseCachedFetchesOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"items":[{"title":"Labour market overview","uri":"/employment/bulletin","release_date":"2026-08-12","summary":"UK unemployment rate was 4.2% in June 2026."}]}`))
	}))
	defer srv.Close()

	o := NewONS(Deps{Cache: newMemCache()})
	o.baseURL = srv.URL

	req := Request{Claim: claimWith("UK unemployment is 4.2%"), MaxResults: 5}
	first, err := o.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "https://www.ons.gov.uk/employment/bulletin", first[0].URL)
	assert.Equal(t, model.TierGovernment, first[0].Tier)
	assert.InDelta(t, 0.95, first[0].CredibilityScore, 1e-9)

	second, err := o.Search(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGovInfoCitationChain(t *testing.T) {
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req govInfoSearchRequest
		require.NoError(t, decodeBody(r, &req))
		queries = append(queries, req.Query)
		if len(queries) < 3 {
			// Citation-scoped queries miss; the full-text fallback hits.
			_, _ = w.Write([]byte(`{"results":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"title":"Public Law 117-103","packageId":"PLAW-117publ103","dateIssued":"2022-03-15"}]}`))
	}))
	defer srv.Close()

	g := NewGovInfo("key", Deps{})
	require.NotNil(t, g)
	g.baseURL = srv.URL

	claim := claimWith("The Consolidated Appropriations Act was signed in 2022.")
	claim.Classification = &model.ClaimClassification{
		Type: model.ClaimLegal,
		Metadata: map[string]any{
			"citations": []string{"Consolidated Appropriations Act"},
			"year":      2022,
		},
	}

	got, err := g.Search(context.Background(), Request{Claim: claim, MaxResults: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.Len(t, queries, 3)
	assert.Contains(t, queries[0], `"Consolidated Appropriations Act"`)
	assert.Contains(t, queries[0], "publishdate:range(2022-01-01,2022-12-31)")
	assert.Equal(t, `"Consolidated Appropriations Act"`, queries[1])
	assert.Equal(t, claim.Text, queries[2])
	assert.Equal(t, "https://www.govinfo.gov/app/details/PLAW-117publ103", got[0].URL)
}

func TestFactCheckAdapterMarksSnippets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"claims":[{"text":"The Moon landing was staged","claimant":"viral post","claimReview":[{"publisher":{"name":"Snopes","site":"snopes.com"},"url":"https://snopes.com/moon","title":"Moon landing claims","reviewDate":"2024-07-20","textualRating":"False"}]}]}`))
	}))
	defer srv.Close()

	g := NewGoogleFactCheck("key", Deps{})
	require.NotNil(t, g)
	g.baseURL = srv.URL

	got, err := g.Search(context.Background(), Request{Claim: claimWith("The Moon landing was staged"), MaxResults: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsFactCheck)
	assert.Equal(t, model.TierFactCheck, got[0].Tier)
	assert.Equal(t, "False", got[0].Metadata["textual_rating"])
}

func decodeBody(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}
