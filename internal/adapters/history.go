package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/veridex-ai/veridex/internal/model"
)

// LibraryOfCongress searches the LoC digital collections. Keyless.
type LibraryOfCongress struct {
	Base
	baseURL string
}

const locBaseURL = "https://www.loc.gov"

// NewLibraryOfCongress creates the LoC adapter.
func NewLibraryOfCongress(deps Deps) *LibraryOfCongress {
	return &LibraryOfCongress{
		Base:    newBase("library_of_congress", deps, model.TierGovernment, 0.9, 7*24*time.Hour),
		baseURL: locBaseURL,
	}
}

// RelevantFor matches historical claims outside the UK/EU.
func (l *LibraryOfCongress) RelevantFor(domain model.Domain, jurisdiction model.Jurisdiction) bool {
	if jurisdiction == model.JurisdictionUK || jurisdiction == model.JurisdictionEU {
		return false
	}
	return domain == model.DomainHistory
}

type locResponse struct {
	Results []struct {
		Title       string   `json:"title"`
		URL         string   `json:"url"`
		Date        string   `json:"date"`
		Description []string `json:"description"`
	} `json:"results"`
}

// Search queries the LoC search API.
func (l *LibraryOfCongress) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	query := req.Claim.Text

	return l.cached(ctx, []any{query}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var resp locResponse
		u := l.baseURL + "/search/?" + params("q", query, "fo", "json", "c", "5").Encode()
		if err := l.fetchJSON(ctx, u, nil, &resp); err != nil {
			return nil, err
		}

		var out []model.EvidenceSnippet
		for _, r := range resp.Results {
			text := r.Title
			if len(r.Description) > 0 {
				text = r.Description[0]
			}
			if text == "" {
				continue
			}
			out = append(out, l.snippet(text, r.URL, r.Title, optStr(r.Date)))
		}
		return capResults(out, req.MaxResults), nil
	})
}

// InternetArchive searches archive.org item metadata. Keyless.
type InternetArchive struct {
	Base
	baseURL string
}

const archiveBaseURL = "https://archive.org"

// NewInternetArchive creates the adapter.
func NewInternetArchive(deps Deps) *InternetArchive {
	return &InternetArchive{
		Base:    newBase("internet_archive", deps, model.TierGeneral, 0.75, 7*24*time.Hour),
		baseURL: archiveBaseURL,
	}
}

// RelevantFor matches historical and general claims.
func (i *InternetArchive) RelevantFor(domain model.Domain, _ model.Jurisdiction) bool {
	return domain == model.DomainHistory || domain == model.DomainGeneral
}

type archiveResponse struct {
	Response struct {
		Docs []struct {
			Identifier  string `json:"identifier"`
			Title       string `json:"title"`
			Description string `json:"description"`
			Date        string `json:"date"`
		} `json:"docs"`
	} `json:"response"`
}

// Search queries the advancedsearch endpoint.
func (i *InternetArchive) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	query := req.Claim.Text

	return i.cached(ctx, []any{query}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var resp archiveResponse
		u := i.baseURL + "/advancedsearch.php?" + params(
			"q", query,
			"fl[]", "identifier,title,description,date",
			"rows", "5",
			"output", "json",
		).Encode()
		if err := i.fetchJSON(ctx, u, nil, &resp); err != nil {
			return nil, err
		}

		var out []model.EvidenceSnippet
		for _, doc := range resp.Response.Docs {
			text := doc.Description
			if text == "" {
				text = fmt.Sprintf("Archived item: %s.", doc.Title)
			}
			out = append(out, i.snippet(text, i.baseURL+"/details/"+doc.Identifier, doc.Title, optStr(doc.Date)))
		}
		return capResults(out, req.MaxResults), nil
	})
}
