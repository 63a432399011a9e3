package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/veridex-ai/veridex/internal/model"
)

func academicDomain(domain model.Domain) bool {
	switch domain {
	case model.DomainScience, model.DomainHealth, model.DomainClimate:
		return true
	}
	return false
}

// PubMed searches biomedical literature via NCBI E-utilities. Keyless.
type PubMed struct {
	Base
	baseURL string
}

const pubMedBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// NewPubMed creates the PubMed adapter.
func NewPubMed(deps Deps) *PubMed {
	return &PubMed{
		Base:    newBase("pubmed", deps, model.TierAcademic, 0.95, 7*24*time.Hour),
		baseURL: pubMedBaseURL,
	}
}

// RelevantFor matches health and science in any jurisdiction.
func (p *PubMed) RelevantFor(domain model.Domain, _ model.Jurisdiction) bool {
	return domain == model.DomainHealth || domain == model.DomainScience
}

type pubMedSearchResponse struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type pubMedSummaryResponse struct {
	Result map[string]struct {
		Title   string `json:"title"`
		PubDate string `json:"pubdate"`
		Source  string `json:"source"`
	} `json:"result"`
}

// Search runs the two-step esearch/esummary flow.
func (p *PubMed) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	query := req.Claim.Text

	return p.cached(ctx, []any{query}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var search pubMedSearchResponse
		u := p.baseURL + "/esearch.fcgi?" + params(
			"db", "pubmed", "term", query, "retmode", "json", "retmax", "5", "sort", "relevance",
		).Encode()
		if err := p.fetchJSON(ctx, u, nil, &search); err != nil {
			return nil, err
		}
		ids := search.ESearchResult.IDList
		if len(ids) == 0 {
			return nil, nil
		}

		var summary pubMedSummaryResponse
		su := p.baseURL + "/esummary.fcgi?" + params(
			"db", "pubmed", "id", strings.Join(ids, ","), "retmode", "json",
		).Encode()
		if err := p.fetchJSON(ctx, su, nil, &summary); err != nil {
			return nil, err
		}

		var out []model.EvidenceSnippet
		for _, id := range ids {
			doc, ok := summary.Result[id]
			if !ok || doc.Title == "" {
				continue
			}
			text := fmt.Sprintf("Peer-reviewed study: %s (%s).", doc.Title, doc.Source)
			s := p.snippet(text, "https://pubmed.ncbi.nlm.nih.gov/"+id+"/", doc.Title, optStr(doc.PubDate))
			out = append(out, s)
		}
		return capResults(out, req.MaxResults), nil
	})
}

// CrossRef searches scholarly works metadata. Keyless.
type CrossRef struct {
	Base
	baseURL string
}

const crossRefBaseURL = "https://api.crossref.org"

// NewCrossRef creates the CrossRef adapter.
func NewCrossRef(deps Deps) *CrossRef {
	return &CrossRef{
		Base:    newBase("crossref", deps, model.TierAcademic, 0.9, 7*24*time.Hour),
		baseURL: crossRefBaseURL,
	}
}

func (c *CrossRef) RelevantFor(domain model.Domain, _ model.Jurisdiction) bool {
	return academicDomain(domain)
}

type crossRefResponse struct {
	Message struct {
		Items []struct {
			Title          []string `json:"title"`
			DOI            string   `json:"DOI"`
			URL            string   `json:"URL"`
			Abstract       string   `json:"abstract"`
			ContainerTitle []string `json:"container-title"`
			Issued         struct {
				DateParts [][]int `json:"date-parts"`
			} `json:"issued"`
		} `json:"items"`
	} `json:"message"`
}

// Search queries the works endpoint by bibliographic relevance.
func (c *CrossRef) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	query := req.Claim.Text

	return c.cached(ctx, []any{query}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var resp crossRefResponse
		u := c.baseURL + "/works?" + params("query.bibliographic", query, "rows", "5").Encode()
		if err := c.fetchJSON(ctx, u, nil, &resp); err != nil {
			return nil, err
		}

		var out []model.EvidenceSnippet
		for _, item := range resp.Message.Items {
			if len(item.Title) == 0 {
				continue
			}
			title := item.Title[0]
			venue := ""
			if len(item.ContainerTitle) > 0 {
				venue = item.ContainerTitle[0]
			}
			text := item.Abstract
			if text == "" {
				text = fmt.Sprintf("Published work: %s (%s, doi:%s).", title, venue, item.DOI)
			}
			var date *string
			if dp := item.Issued.DateParts; len(dp) > 0 && len(dp[0]) > 0 {
				date = optStr(fmt.Sprintf("%d", dp[0][0]))
			}
			out = append(out, c.snippet(stripJATS(text), item.URL, title, date))
		}
		return capResults(out, req.MaxResults), nil
	})
}

// stripJATS removes the JATS XML tags CrossRef abstracts arrive in.
func stripJATS(s string) string {
	for {
		start := strings.IndexByte(s, '<')
		if start == -1 {
			return strings.TrimSpace(s)
		}
		end := strings.IndexByte(s[start:], '>')
		if end == -1 {
			return strings.TrimSpace(s[:start])
		}
		s = s[:start] + " " + s[start+end+1:]
	}
}

// SemanticScholar searches the Semantic Scholar academic graph. Keyless
// (rate-limited tier).
type SemanticScholar struct {
	Base
	baseURL string
}

const semanticScholarBaseURL = "https://api.semanticscholar.org/graph/v1"

// NewSemanticScholar creates the Semantic Scholar adapter.
func NewSemanticScholar(deps Deps) *SemanticScholar {
	return &SemanticScholar{
		Base:    newBase("semantic_scholar", deps, model.TierAcademic, 0.9, 7*24*time.Hour),
		baseURL: semanticScholarBaseURL,
	}
}

func (s *SemanticScholar) RelevantFor(domain model.Domain, _ model.Jurisdiction) bool {
	return academicDomain(domain)
}

type semanticScholarResponse struct {
	Data []struct {
		Title    string `json:"title"`
		Abstract string `json:"abstract"`
		URL      string `json:"url"`
		Year     int    `json:"year"`
		Venue    string `json:"venue"`
	} `json:"data"`
}

// Search queries paper search with abstracts.
func (s *SemanticScholar) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	query := req.Claim.Text

	return s.cached(ctx, []any{query}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var resp semanticScholarResponse
		u := s.baseURL + "/paper/search?" + params(
			"query", query, "limit", "5", "fields", "title,abstract,url,year,venue",
		).Encode()
		if err := s.fetchJSON(ctx, u, nil, &resp); err != nil {
			return nil, err
		}

		var out []model.EvidenceSnippet
		for _, paper := range resp.Data {
			text := paper.Abstract
			if text == "" {
				text = fmt.Sprintf("Academic paper: %s (%s, %d).", paper.Title, paper.Venue, paper.Year)
			}
			var date *string
			if paper.Year > 0 {
				date = optStr(fmt.Sprintf("%d", paper.Year))
			}
			out = append(out, s.snippet(text, paper.URL, paper.Title, date))
		}
		return capResults(out, req.MaxResults), nil
	})
}

// OpenAlex searches the OpenAlex scholarly works index. Keyless.
type OpenAlex struct {
	Base
	baseURL string
}

const openAlexBaseURL = "https://api.openalex.org"

// NewOpenAlex creates the OpenAlex adapter.
func NewOpenAlex(deps Deps) *OpenAlex {
	return &OpenAlex{
		Base:    newBase("openalex", deps, model.TierAcademic, 0.9, 7*24*time.Hour),
		baseURL: openAlexBaseURL,
	}
}

func (o *OpenAlex) RelevantFor(domain model.Domain, _ model.Jurisdiction) bool {
	return academicDomain(domain)
}

type openAlexResponse struct {
	Results []struct {
		Title           string `json:"title"`
		DOI             string `json:"doi"`
		PublicationDate string `json:"publication_date"`
		ID              string `json:"id"`
		PrimaryLocation struct {
			LandingPageURL string `json:"landing_page_url"`
		} `json:"primary_location"`
		CitedByCount int `json:"cited_by_count"`
	} `json:"results"`
}

// Search queries works ranked by relevance.
func (o *OpenAlex) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	query := req.Claim.Text

	return o.cached(ctx, []any{query}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var resp openAlexResponse
		u := o.baseURL + "/works?" + params("search", query, "per-page", "5").Encode()
		if err := o.fetchJSON(ctx, u, nil, &resp); err != nil {
			return nil, err
		}

		var out []model.EvidenceSnippet
		for _, w := range resp.Results {
			if w.Title == "" {
				continue
			}
			link := w.PrimaryLocation.LandingPageURL
			if link == "" {
				link = w.DOI
			}
			if link == "" {
				link = w.ID
			}
			text := fmt.Sprintf("Scholarly work: %s (cited by %d).", w.Title, w.CitedByCount)
			out = append(out, o.snippet(text, link, w.Title, optStr(w.PublicationDate)))
		}
		return capResults(out, req.MaxResults), nil
	})
}
