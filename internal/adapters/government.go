package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/veridex-ai/veridex/internal/model"
)

// GOVUK searches UK government publications and guidance. Keyless.
type GOVUK struct {
	Base
	baseURL string
}

const govUKBaseURL = "https://www.gov.uk/api"

// NewGOVUK creates the GOV.UK adapter.
func NewGOVUK(deps Deps) *GOVUK {
	return &GOVUK{
		Base:    newBase("govuk", deps, model.TierGovernment, 0.95, 24*time.Hour),
		baseURL: govUKBaseURL,
	}
}

// RelevantFor matches UK government domains.
func (g *GOVUK) RelevantFor(domain model.Domain, jurisdiction model.Jurisdiction) bool {
	if jurisdiction != model.JurisdictionUK {
		return false
	}
	switch domain {
	case model.DomainGovernment, model.DomainLaw, model.DomainPolitics, model.DomainHealth:
		return true
	}
	return false
}

type govUKSearchResponse struct {
	Results []struct {
		Title             string `json:"title"`
		Description       string `json:"description"`
		Link              string `json:"link"`
		PublicTimestamp   string `json:"public_timestamp"`
	} `json:"results"`
}

// Search queries the GOV.UK content search API.
func (g *GOVUK) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	query := req.Claim.Text

	return g.cached(ctx, []any{query}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var resp govUKSearchResponse
		u := g.baseURL + "/search.json?" + params("q", query, "count", "5").Encode()
		if err := g.fetchJSON(ctx, u, nil, &resp); err != nil {
			return nil, err
		}

		var out []model.EvidenceSnippet
		for _, r := range resp.Results {
			if r.Description == "" {
				continue
			}
			out = append(out, g.snippet(r.Description, "https://www.gov.uk"+r.Link, r.Title, optStr(r.PublicTimestamp)))
		}
		return capResults(out, req.MaxResults), nil
	})
}

// WHO queries the World Health Organization's Global Health Observatory
// OData API. Keyless.
type WHO struct {
	Base
	baseURL string
}

const whoBaseURL = "https://ghoapi.azureedge.net/api"

// NewWHO creates the WHO adapter.
func NewWHO(deps Deps) *WHO {
	return &WHO{
		Base:    newBase("who", deps, model.TierScientific, 0.95, 7*24*time.Hour),
		baseURL: whoBaseURL,
	}
}

// RelevantFor matches global health.
func (w *WHO) RelevantFor(domain model.Domain, _ model.Jurisdiction) bool {
	return domain == model.DomainHealth
}

type whoIndicatorResponse struct {
	Value []struct {
		IndicatorCode string `json:"IndicatorCode"`
		IndicatorName string `json:"IndicatorName"`
	} `json:"value"`
}

// Search matches health indicators by name against the claim subject.
func (w *WHO) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	subject := req.Claim.SubjectContext
	if subject == "" {
		subject = firstEntity(req.Claim)
	}
	if subject == "" {
		return nil, nil
	}

	return w.cached(ctx, []any{subject}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var resp whoIndicatorResponse
		filter := fmt.Sprintf("contains(IndicatorName,'%s')", odataEscape(subject))
		u := w.baseURL + "/Indicator?" + params("$filter", filter, "$top", "5").Encode()
		if err := w.fetchJSON(ctx, u, nil, &resp); err != nil {
			return nil, err
		}

		var out []model.EvidenceSnippet
		for _, ind := range resp.Value {
			text := fmt.Sprintf("WHO Global Health Observatory tracks: %s (indicator %s).", ind.IndicatorName, ind.IndicatorCode)
			link := "https://www.who.int/data/gho/data/indicators/indicator-details/GHO/" + ind.IndicatorCode
			out = append(out, w.snippet(text, link, ind.IndicatorName, nil))
		}
		return capResults(out, req.MaxResults), nil
	})
}

func odataEscape(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
