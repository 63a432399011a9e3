package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/veridex-ai/veridex/internal/model"
)

// ONS searches the UK Office for National Statistics release catalogue.
// Keyless.
type ONS struct {
	Base
	baseURL string
}

const onsBaseURL = "https://api.beta.ons.gov.uk/v1"

// NewONS creates the ONS adapter.
func NewONS(deps Deps) *ONS {
	return &ONS{
		Base:    newBase("ons", deps, model.TierGovernment, 0.95, 24*time.Hour),
		baseURL: onsBaseURL,
	}
}

// RelevantFor matches UK statistical domains.
func (o *ONS) RelevantFor(domain model.Domain, jurisdiction model.Jurisdiction) bool {
	if jurisdiction != model.JurisdictionUK {
		return false
	}
	switch domain {
	case model.DomainDemographics, model.DomainFinance, model.DomainGovernment:
		return true
	}
	return false
}

type onsSearchResponse struct {
	Items []struct {
		Title       string `json:"title"`
		URI         string `json:"uri"`
		ReleaseDate string `json:"release_date"`
		Summary     string `json:"summary"`
	} `json:"items"`
}

// Search queries ONS bulletins for the claim's subject.
func (o *ONS) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	query := firstEntity(req.Claim, model.EntityOrg)
	if query == "" {
		query = req.Claim.Text
	}

	return o.cached(ctx, []any{query, req.MaxResults}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var resp onsSearchResponse
		u := o.baseURL + "/search?" + params("q", query, "content_type", "bulletin", "limit", "5").Encode()
		if err := o.fetchJSON(ctx, u, nil, &resp); err != nil {
			return nil, err
		}

		var out []model.EvidenceSnippet
		for _, item := range resp.Items {
			if item.Summary == "" {
				continue
			}
			s := o.snippet(item.Summary, "https://www.ons.gov.uk"+item.URI, item.Title, optStr(item.ReleaseDate))
			out = append(out, s)
		}
		return capResults(out, req.MaxResults), nil
	})
}

// FRED searches the St. Louis Fed economic data series and reports the
// latest observation for the best-matching series.
type FRED struct {
	Base
	apiKey  string
	baseURL string
}

const fredBaseURL = "https://api.stlouisfed.org/fred"

// NewFRED creates the FRED adapter; nil without an API key.
func NewFRED(apiKey string, deps Deps) *FRED {
	if apiKey == "" {
		return nil
	}
	return &FRED{
		Base:    newBase("fred", deps, model.TierGovernment, 0.95, 6*time.Hour),
		apiKey:  apiKey,
		baseURL: fredBaseURL,
	}
}

// RelevantFor matches US and global economic domains.
func (f *FRED) RelevantFor(domain model.Domain, jurisdiction model.Jurisdiction) bool {
	if jurisdiction == model.JurisdictionUK || jurisdiction == model.JurisdictionEU {
		return false
	}
	return domain == model.DomainFinance || domain == model.DomainDemographics
}

type fredSearchResponse struct {
	Series []struct {
		ID             string `json:"id"`
		Title          string `json:"title"`
		Units          string `json:"units"`
		ObservationEnd string `json:"observation_end"`
	} `json:"seriess"`
}

type fredObservationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// Search resolves the claim subject to a FRED series and fetches its most
// recent observation.
func (f *FRED) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	query := req.Claim.SubjectContext
	if query == "" {
		query = req.Claim.Text
	}

	return f.cached(ctx, []any{query}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var search fredSearchResponse
		u := f.baseURL + "/series/search?" + params(
			"search_text", query,
			"api_key", f.apiKey,
			"file_type", "json",
			"limit", "3",
			"order_by", "popularity",
			"sort_order", "desc",
		).Encode()
		if err := f.fetchJSON(ctx, u, nil, &search); err != nil {
			return nil, err
		}

		var out []model.EvidenceSnippet
		for _, series := range search.Series {
			var obs fredObservationsResponse
			ou := f.baseURL + "/series/observations?" + params(
				"series_id", series.ID,
				"api_key", f.apiKey,
				"file_type", "json",
				"sort_order", "desc",
				"limit", "1",
			).Encode()
			if err := f.fetchJSON(ctx, ou, nil, &obs); err != nil || len(obs.Observations) == 0 {
				continue
			}

			latest := obs.Observations[0]
			text := fmt.Sprintf("%s was %s %s as of %s (FRED series %s).",
				series.Title, latest.Value, series.Units, latest.Date, series.ID)
			s := f.snippet(text, "https://fred.stlouisfed.org/series/"+series.ID, series.Title, optStr(latest.Date))
			out = append(out, s)
			if len(out) >= 2 {
				break
			}
		}
		return capResults(out, req.MaxResults), nil
	})
}
