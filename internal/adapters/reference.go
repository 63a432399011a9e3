package adapters

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/veridex-ai/veridex/internal/model"
)

// Wikipedia searches article summaries. Always relevant: encyclopedic
// context helps almost every claim. Keyless.
type Wikipedia struct {
	Base
	baseURL string
}

const wikipediaBaseURL = "https://en.wikipedia.org"

// NewWikipedia creates the Wikipedia adapter.
func NewWikipedia(deps Deps) *Wikipedia {
	return &Wikipedia{
		Base:    newBase("wikipedia", deps, model.TierGeneral, 0.8, 24*time.Hour),
		baseURL: wikipediaBaseURL,
	}
}

// RelevantFor always matches.
func (w *Wikipedia) RelevantFor(model.Domain, model.Jurisdiction) bool { return true }

type wikipediaSearchResponse struct {
	Query struct {
		Search []struct {
			Title string `json:"title"`
		} `json:"search"`
	} `json:"query"`
}

type wikipediaSummaryResponse struct {
	Title   string `json:"title"`
	Extract string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
	Timestamp string `json:"timestamp"`
}

// Search finds matching articles and fetches their lead-section summaries.
func (w *Wikipedia) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	query := firstEntity(req.Claim, model.EntityPerson, model.EntityOrg, model.EntityGPE)
	if query == "" {
		query = req.Claim.Text
	}

	return w.cached(ctx, []any{query}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var search wikipediaSearchResponse
		u := w.baseURL + "/w/api.php?" + params(
			"action", "query", "list", "search", "srsearch", query,
			"srlimit", "3", "format", "json",
		).Encode()
		if err := w.fetchJSON(ctx, u, nil, &search); err != nil {
			return nil, err
		}

		var out []model.EvidenceSnippet
		for _, hit := range search.Query.Search {
			var summary wikipediaSummaryResponse
			su := w.baseURL + "/api/rest_v1/page/summary/" + url.PathEscape(strings.ReplaceAll(hit.Title, " ", "_"))
			if err := w.fetchJSON(ctx, su, nil, &summary); err != nil || summary.Extract == "" {
				continue
			}
			link := summary.ContentURLs.Desktop.Page
			if link == "" {
				link = w.baseURL + "/wiki/" + url.PathEscape(strings.ReplaceAll(hit.Title, " ", "_"))
			}
			out = append(out, w.snippet(summary.Extract, link, summary.Title, optStr(summary.Timestamp)))
		}
		return capResults(out, req.MaxResults), nil
	})
}

// Wikidata resolves entities to structured facts via the entity search and
// entity data APIs. Keyless.
type Wikidata struct {
	Base
	baseURL string
}

const wikidataBaseURL = "https://www.wikidata.org"

// NewWikidata creates the Wikidata adapter.
func NewWikidata(deps Deps) *Wikidata {
	return &Wikidata{
		Base:    newBase("wikidata", deps, model.TierGeneral, 0.85, 7*24*time.Hour),
		baseURL: wikidataBaseURL,
	}
}

// RelevantFor matches entity-heavy domains where structured facts settle
// claims (dates, memberships, positions held).
func (w *Wikidata) RelevantFor(domain model.Domain, _ model.Jurisdiction) bool {
	switch domain {
	case model.DomainHistory, model.DomainGeneral, model.DomainPolitics,
		model.DomainSports, model.DomainEntertainment, model.DomainDemographics:
		return true
	}
	return false
}

type wikidataSearchResponse struct {
	Search []struct {
		ID          string `json:"id"`
		Label       string `json:"label"`
		Description string `json:"description"`
	} `json:"search"`
}

// Search resolves the claim's entities to Wikidata items; the item label and
// description become a compact structured-fact snippet.
func (w *Wikidata) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	entities := entitiesOf(req.Claim, model.EntityPerson, model.EntityOrg, model.EntityGPE)
	if len(entities) == 0 && req.Claim.SubjectContext != "" {
		entities = []string{req.Claim.SubjectContext}
	}
	if len(entities) > 3 {
		entities = entities[:3]
	}

	return w.cached(ctx, []any{entities}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var out []model.EvidenceSnippet
		for _, entity := range entities {
			var resp wikidataSearchResponse
			u := w.baseURL + "/w/api.php?" + params(
				"action", "wbsearchentities", "search", entity,
				"language", "en", "limit", "2", "format", "json",
			).Encode()
			if err := w.fetchJSON(ctx, u, nil, &resp); err != nil {
				return nil, err
			}
			for _, item := range resp.Search {
				if item.Description == "" {
					continue
				}
				text := fmt.Sprintf("%s: %s (Wikidata %s).", item.Label, item.Description, item.ID)
				out = append(out, w.snippet(text, w.baseURL+"/wiki/"+item.ID, item.Label, nil))
			}
		}
		return capResults(out, req.MaxResults), nil
	})
}
