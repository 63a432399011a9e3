package adapters

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/veridex-ai/veridex/internal/model"
)

// AlphaVantage fetches equity quotes and company fundamentals.
type AlphaVantage struct {
	Base
	apiKey  string
	baseURL string
}

const alphaVantageBaseURL = "https://www.alphavantage.co/query"

// NewAlphaVantage creates the adapter; nil without an API key.
func NewAlphaVantage(apiKey string, deps Deps) *AlphaVantage {
	if apiKey == "" {
		return nil
	}
	return &AlphaVantage{
		Base:    newBase("alpha_vantage", deps, model.TierGeneral, 0.85, time.Hour),
		apiKey:  apiKey,
		baseURL: alphaVantageBaseURL,
	}
}

// RelevantFor matches finance in any jurisdiction.
func (a *AlphaVantage) RelevantFor(domain model.Domain, _ model.Jurisdiction) bool {
	return domain == model.DomainFinance
}

type alphaVantageSymbolResponse struct {
	BestMatches []struct {
		Symbol string `json:"1. symbol"`
		Name   string `json:"2. name"`
	} `json:"bestMatches"`
}

type alphaVantageQuoteResponse struct {
	GlobalQuote struct {
		Symbol string `json:"01. symbol"`
		Price  string `json:"05. price"`
		Day    string `json:"07. latest trading day"`
		Change string `json:"10. change percent"`
	} `json:"Global Quote"`
}

// Search resolves a company entity to a ticker, then fetches the quote.
func (a *AlphaVantage) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	company := firstEntity(req.Claim, model.EntityOrg)
	if company == "" {
		return nil, nil
	}

	return a.cached(ctx, []any{company}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var matches alphaVantageSymbolResponse
		u := a.baseURL + "?" + params("function", "SYMBOL_SEARCH", "keywords", company, "apikey", a.apiKey).Encode()
		if err := a.fetchJSON(ctx, u, nil, &matches); err != nil {
			return nil, err
		}
		if len(matches.BestMatches) == 0 {
			return nil, nil
		}

		best := matches.BestMatches[0]
		var quote alphaVantageQuoteResponse
		qu := a.baseURL + "?" + params("function", "GLOBAL_QUOTE", "symbol", best.Symbol, "apikey", a.apiKey).Encode()
		if err := a.fetchJSON(ctx, qu, nil, &quote); err != nil {
			return nil, err
		}
		g := quote.GlobalQuote
		if g.Price == "" {
			return nil, nil
		}

		text := fmt.Sprintf("%s (%s) traded at %s on %s, a daily change of %s.",
			best.Name, g.Symbol, g.Price, g.Day, g.Change)
		link := "https://www.alphavantage.co/query?function=GLOBAL_QUOTE&symbol=" + g.Symbol
		s := a.snippet(text, link, best.Name, optStr(g.Day))
		return capResults([]model.EvidenceSnippet{s}, req.MaxResults), nil
	})
}

// Marketaux searches financial news with entity sentiment.
type Marketaux struct {
	Base
	apiKey  string
	baseURL string
}

const marketauxBaseURL = "https://api.marketaux.com/v1"

// NewMarketaux creates the adapter; nil without an API key.
func NewMarketaux(apiKey string, deps Deps) *Marketaux {
	if apiKey == "" {
		return nil
	}
	return &Marketaux{
		Base:    newBase("marketaux", deps, model.TierNewsTier2, 0.7, time.Hour),
		apiKey:  apiKey,
		baseURL: marketauxBaseURL,
	}
}

// RelevantFor matches finance in any jurisdiction.
func (m *Marketaux) RelevantFor(domain model.Domain, _ model.Jurisdiction) bool {
	return domain == model.DomainFinance
}

type marketauxResponse struct {
	Data []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		Source      string `json:"source"`
		PublishedAt string `json:"published_at"`
	} `json:"data"`
}

// Search queries financial news for the claim's subject.
func (m *Marketaux) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	query := firstEntity(req.Claim, model.EntityOrg)
	if query == "" {
		query = req.Claim.SubjectContext
	}
	if query == "" {
		return nil, nil
	}

	return m.cached(ctx, []any{query}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var resp marketauxResponse
		u := m.baseURL + "/news/all?" + params(
			"search", query, "api_token", m.apiKey, "limit", "5", "language", "en",
		).Encode()
		if err := m.fetchJSON(ctx, u, nil, &resp); err != nil {
			return nil, err
		}

		var out []model.EvidenceSnippet
		for _, article := range resp.Data {
			text := article.Description
			if text == "" {
				text = article.Title
			}
			if text == "" {
				continue
			}
			out = append(out, m.snippet(text, article.URL, article.Title, optStr(article.PublishedAt)))
		}
		return capResults(out, req.MaxResults), nil
	})
}

// CompaniesHouse looks up UK company registrations.
type CompaniesHouse struct {
	Base
	apiKey  string
	baseURL string
}

const companiesHouseBaseURL = "https://api.company-information.service.gov.uk"

// NewCompaniesHouse creates the adapter; nil without an API key.
func NewCompaniesHouse(apiKey string, deps Deps) *CompaniesHouse {
	if apiKey == "" {
		return nil
	}
	return &CompaniesHouse{
		Base:    newBase("companies_house", deps, model.TierGovernment, 0.95, 24*time.Hour),
		apiKey:  apiKey,
		baseURL: companiesHouseBaseURL,
	}
}

// RelevantFor matches UK corporate domains.
func (c *CompaniesHouse) RelevantFor(domain model.Domain, jurisdiction model.Jurisdiction) bool {
	if jurisdiction != model.JurisdictionUK {
		return false
	}
	return domain == model.DomainFinance || domain == model.DomainGovernment
}

type companiesHouseResponse struct {
	Items []struct {
		Title          string `json:"title"`
		CompanyNumber  string `json:"company_number"`
		CompanyStatus  string `json:"company_status"`
		DateOfCreation string `json:"date_of_creation"`
		Address        struct {
			Locality string `json:"locality"`
		} `json:"address"`
	} `json:"items"`
}

// Search queries the company register by entity name. Auth is HTTP basic
// with the key as username.
func (c *CompaniesHouse) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	company := firstEntity(req.Claim, model.EntityOrg)
	if company == "" {
		return nil, nil
	}

	return c.cached(ctx, []any{company}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var resp companiesHouseResponse
		u := c.baseURL + "/search/companies?" + params("q", company, "items_per_page", "3").Encode()
		auth := "Basic " + base64.StdEncoding.EncodeToString([]byte(c.apiKey+":"))
		if err := c.fetchJSON(ctx, u, map[string]string{"Authorization": auth}, &resp); err != nil {
			return nil, err
		}

		var out []model.EvidenceSnippet
		for _, item := range resp.Items {
			text := fmt.Sprintf("%s (company %s) is %s, incorporated %s in %s.",
				item.Title, item.CompanyNumber, item.CompanyStatus, item.DateOfCreation, item.Address.Locality)
			link := "https://find-and-update.company-information.service.gov.uk/company/" + item.CompanyNumber
			out = append(out, c.snippet(text, link, item.Title, optStr(item.DateOfCreation)))
		}
		return capResults(out, req.MaxResults), nil
	})
}
