package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/veridex-ai/veridex/internal/model"
)

// GovInfo searches US federal documents (statutes, public laws, court
// opinions) on api.govinfo.gov.
type GovInfo struct {
	Base
	apiKey  string
	baseURL string
}

const govInfoBaseURL = "https://api.govinfo.gov"

// NewGovInfo creates the GovInfo adapter; nil without an API key.
func NewGovInfo(apiKey string, deps Deps) *GovInfo {
	if apiKey == "" {
		return nil
	}
	return &GovInfo{
		Base:    newBase("govinfo", deps, model.TierGovernment, 0.95, 7*24*time.Hour),
		apiKey:  apiKey,
		baseURL: govInfoBaseURL,
	}
}

// RelevantFor matches US legal and government domains.
func (g *GovInfo) RelevantFor(domain model.Domain, jurisdiction model.Jurisdiction) bool {
	if jurisdiction == model.JurisdictionUK || jurisdiction == model.JurisdictionEU {
		return false
	}
	return domain == model.DomainLaw || domain == model.DomainGovernment
}

type govInfoSearchRequest struct {
	Query      string `json:"query"`
	PageSize   int    `json:"pageSize"`
	OffsetMark string `json:"offsetMark"`
}

type govInfoSearchResponse struct {
	Results []struct {
		Title        string `json:"title"`
		PackageID    string `json:"packageId"`
		LastModified string `json:"lastModified"`
		DateIssued   string `json:"dateIssued"`
	} `json:"results"`
}

// Search runs the legal query chain: an exact citation query first, narrowed
// by the claim's year when known, then a full-text query over the claim as a
// last resort. The first tier that produces hits wins.
func (g *GovInfo) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	queries := g.queryChain(req.Claim)

	return g.cached(ctx, []any{queries}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		for _, query := range queries {
			snippets, err := g.search(ctx, query)
			if err != nil {
				return nil, err
			}
			if len(snippets) > 0 {
				return capResults(snippets, req.MaxResults), nil
			}
		}
		return nil, nil
	})
}

func (g *GovInfo) queryChain(claim model.Claim) []string {
	var citations []string
	year := 0
	if claim.Classification != nil && claim.Classification.Metadata != nil {
		if cs, ok := claim.Classification.Metadata["citations"].([]string); ok {
			citations = cs
		} else if raw, ok := claim.Classification.Metadata["citations"].([]any); ok {
			for _, c := range raw {
				if s, ok := c.(string); ok {
					citations = append(citations, s)
				}
			}
		}
		if y, ok := claim.Classification.Metadata["year"].(int); ok {
			year = y
		} else if yf, ok := claim.Classification.Metadata["year"].(float64); ok {
			year = int(yf)
		}
	}

	var chain []string
	for _, c := range citations {
		quoted := fmt.Sprintf("%q", c)
		if year > 0 {
			chain = append(chain, fmt.Sprintf("%s publishdate:range(%d-01-01,%d-12-31)", quoted, year, year))
		}
		chain = append(chain, quoted)
	}
	chain = append(chain, claim.Text)
	return chain
}

func (g *GovInfo) search(ctx context.Context, query string) ([]model.EvidenceSnippet, error) {
	var resp govInfoSearchResponse
	u := g.baseURL + "/search?api_key=" + g.apiKey
	payload := govInfoSearchRequest{Query: query, PageSize: 5, OffsetMark: "*"}
	if err := g.postJSON(ctx, u, nil, payload, &resp); err != nil {
		return nil, err
	}

	var out []model.EvidenceSnippet
	for _, r := range resp.Results {
		date := r.DateIssued
		if date == "" {
			date = r.LastModified
		}
		text := fmt.Sprintf("Official US government document: %s (GovInfo %s).", r.Title, r.PackageID)
		s := g.snippet(text, "https://www.govinfo.gov/app/details/"+r.PackageID, r.Title, optStr(date))
		out = append(out, s)
	}
	return out, nil
}

// Hansard searches UK parliamentary debate records.
// Keyless.
type Hansard struct {
	Base
	baseURL string
}

const hansardBaseURL = "https://hansard-api.parliament.uk"

// NewHansard creates the Hansard adapter.
func NewHansard(deps Deps) *Hansard {
	return &Hansard{
		Base:    newBase("hansard", deps, model.TierGovernment, 0.9, 24*time.Hour),
		baseURL: hansardBaseURL,
	}
}

// RelevantFor matches UK political domains.
func (h *Hansard) RelevantFor(domain model.Domain, jurisdiction model.Jurisdiction) bool {
	if jurisdiction != model.JurisdictionUK {
		return false
	}
	return domain == model.DomainPolitics || domain == model.DomainGovernment || domain == model.DomainLaw
}

type hansardResponse struct {
	Results []struct {
		MemberName        string `json:"MemberName"`
		ContributionText  string `json:"ContributionText"`
		SittingDate       string `json:"SittingDate"`
		DebateSection     string `json:"DebateSection"`
		DebateSectionExtID string `json:"DebateSectionExtId"`
	} `json:"Results"`
}

// Search queries spoken contributions. Speaker entities take priority over
// the claim subject so "X said Y in Parliament" claims hit X's actual record.
func (h *Hansard) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	query := firstEntity(req.Claim, model.EntityPerson)
	if query == "" {
		query = req.Claim.Text
	}

	return h.cached(ctx, []any{query}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var resp hansardResponse
		u := h.baseURL + "/search/contributions/Spoken.json?" + params(
			"queryParameters.searchTerm", query,
			"queryParameters.take", "5",
		).Encode()
		if err := h.fetchJSON(ctx, u, nil, &resp); err != nil {
			return nil, err
		}

		var out []model.EvidenceSnippet
		for _, r := range resp.Results {
			text := strings.TrimSpace(r.ContributionText)
			if text == "" {
				continue
			}
			if r.MemberName != "" {
				text = fmt.Sprintf("%s (Hansard, %s): %s", r.MemberName, r.DebateSection, text)
			}
			s := h.snippet(text, "https://hansard.parliament.uk/debates/"+r.DebateSectionExtID, r.DebateSection, optStr(r.SittingDate))
			out = append(out, s)
		}
		return capResults(out, req.MaxResults), nil
	})
}
