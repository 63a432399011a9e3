package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/veridex-ai/veridex/internal/model"
)

// GBIF queries the Global Biodiversity Information Facility species
// backbone. Keyless.
type GBIF struct {
	Base
	baseURL string
}

const gbifBaseURL = "https://api.gbif.org/v1"

// NewGBIF creates the GBIF adapter.
func NewGBIF(deps Deps) *GBIF {
	return &GBIF{
		Base:    newBase("gbif", deps, model.TierScientific, 0.9, 7*24*time.Hour),
		baseURL: gbifBaseURL,
	}
}

// RelevantFor matches animal and biodiversity claims.
func (g *GBIF) RelevantFor(domain model.Domain, _ model.Jurisdiction) bool {
	return domain == model.DomainAnimals || domain == model.DomainScience
}

type gbifSpeciesResponse struct {
	Results []struct {
		Key            int    `json:"key"`
		ScientificName string `json:"scientificName"`
		CanonicalName  string `json:"canonicalName"`
		Rank           string `json:"rank"`
		Kingdom        string `json:"kingdom"`
		Family         string `json:"family"`
		TaxonomicStatus string `json:"taxonomicStatus"`
	} `json:"results"`
}

// Search resolves species names from the claim's entities or subject.
func (g *GBIF) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	query := firstEntity(req.Claim)
	if query == "" {
		return nil, nil
	}

	return g.cached(ctx, []any{query}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var resp gbifSpeciesResponse
		u := g.baseURL + "/species/search?" + params("q", query, "limit", "3").Encode()
		if err := g.fetchJSON(ctx, u, nil, &resp); err != nil {
			return nil, err
		}

		var out []model.EvidenceSnippet
		for _, sp := range resp.Results {
			if sp.ScientificName == "" {
				continue
			}
			text := fmt.Sprintf("GBIF taxonomy: %s (%s), rank %s, kingdom %s, family %s.",
				sp.ScientificName, sp.TaxonomicStatus, sp.Rank, sp.Kingdom, sp.Family)
			link := fmt.Sprintf("https://www.gbif.org/species/%d", sp.Key)
			out = append(out, g.snippet(text, link, sp.CanonicalName, nil))
		}
		return capResults(out, req.MaxResults), nil
	})
}
