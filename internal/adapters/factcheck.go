package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/veridex-ai/veridex/internal/model"
)

// GoogleFactCheck searches the Google Fact Check Tools claim index.
// Results carry published verdicts from fact-checking organizations, so
// they are tagged IsFactCheck and get their own tier.
type GoogleFactCheck struct {
	Base
	apiKey  string
	baseURL string
}

const factCheckBaseURL = "https://factchecktools.googleapis.com/v1alpha1"

// NewGoogleFactCheck creates the adapter; nil without an API key.
func NewGoogleFactCheck(apiKey string, deps Deps) *GoogleFactCheck {
	if apiKey == "" {
		return nil
	}
	return &GoogleFactCheck{
		Base:    newBase("google_factcheck", deps, model.TierFactCheck, 0.85, 12*time.Hour),
		apiKey:  apiKey,
		baseURL: factCheckBaseURL,
	}
}

// RelevantFor always matches: published fact-checks can exist for any
// domain.
func (g *GoogleFactCheck) RelevantFor(model.Domain, model.Jurisdiction) bool { return true }

type factCheckResponse struct {
	Claims []struct {
		Text        string `json:"text"`
		Claimant    string `json:"claimant"`
		ClaimDate   string `json:"claimDate"`
		ClaimReview []struct {
			Publisher struct {
				Name string `json:"name"`
				Site string `json:"site"`
			} `json:"publisher"`
			URL           string `json:"url"`
			Title         string `json:"title"`
			ReviewDate    string `json:"reviewDate"`
			TextualRating string `json:"textualRating"`
		} `json:"claimReview"`
	} `json:"claims"`
}

// Search queries the claim index for reviews of similar claims.
func (g *GoogleFactCheck) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	query := req.Claim.Text

	return g.cached(ctx, []any{query}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var resp factCheckResponse
		u := g.baseURL + "/claims:search?" + params(
			"query", query, "key", g.apiKey, "languageCode", "en", "pageSize", "5",
		).Encode()
		if err := g.fetchJSON(ctx, u, nil, &resp); err != nil {
			return nil, err
		}

		var out []model.EvidenceSnippet
		for _, claim := range resp.Claims {
			for _, review := range claim.ClaimReview {
				if review.URL == "" {
					continue
				}
				text := fmt.Sprintf("%s rated the claim %q as %q.",
					review.Publisher.Name, claim.Text, review.TextualRating)
				s := g.snippet(text, review.URL, review.Title, optStr(review.ReviewDate))
				s.Metadata = map[string]any{
					"textual_rating": review.TextualRating,
					"claimant":       claim.Claimant,
					"publisher_site": review.Publisher.Site,
				}
				out = append(out, s)
			}
		}
		return capResults(out, req.MaxResults), nil
	})
}
