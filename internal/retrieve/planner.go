package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/veridex-ai/veridex/internal/classify"
	"github.com/veridex-ai/veridex/internal/llm"
	"github.com/veridex-ai/veridex/internal/model"
)

const plannerSystemPrompt = `You plan web search queries for fact-checking claims.
For each claim, produce up to 3 short keyword queries that would surface
authoritative evidence, a claim_type (statistical, legal, scientific, news,
historical, general), and optionally priority_sources (authoritative domains)
and a site_filter (e.g. "site:ons.gov.uk OR site:gov.uk").

Respond with a JSON object:
{"plans": [{"position": 0, "claim_type": ..., "queries": [...], "priority_sources": [...], "site_filter": ...}]}
The positions must match the input claims.`

// claimTypeFreshness maps planner claim types to search freshness codes.
// Statistical and news claims want recent evidence; legal and historical
// claims are unbounded.
var claimTypeFreshness = map[string]string{
	"statistical": "py",
	"news":        "pm",
	"scientific":  "",
	"legal":       "",
	"historical":  "",
	"general":     "",
}

// maxQueryChars bounds derived queries; providers truncate or reject long
// query strings.
const maxQueryChars = 250

// Planner turns claims into search queries, in one batched LLM call with a
// deterministic per-claim fallback.
type Planner struct {
	completer        llm.ChatCompleter
	logger           *slog.Logger
	excludeFactCheck bool
}

// NewPlanner creates a query planner.
func NewPlanner(completer llm.ChatCompleter, logger *slog.Logger, excludeFactCheck bool) *Planner {
	return &Planner{completer: completer, logger: logger, excludeFactCheck: excludeFactCheck}
}

type plannerResponse struct {
	Plans []struct {
		Position        int      `json:"position"`
		ClaimType       string   `json:"claim_type"`
		Queries         []string `json:"queries"`
		PrioritySources []string `json:"priority_sources"`
		SiteFilter      string   `json:"site_filter"`
	} `json:"plans"`
}

// Plan returns one PlannedQuery per claim, index-aligned with the input.
// Claims the LLM response misses, and the whole batch on LLM failure, get
// the deterministic fallback plan.
func (p *Planner) Plan(ctx context.Context, claims []model.Claim) []model.PlannedQuery {
	plans := make([]model.PlannedQuery, len(claims))
	planned := make([]bool, len(claims))

	if p.completer != nil {
		if resp, err := p.llmPlan(ctx, claims); err != nil {
			p.logger.Warn("retrieve: query planning failed, deriving queries", "error", err)
		} else {
			for _, plan := range resp.Plans {
				if plan.Position < 0 || plan.Position >= len(claims) || len(plan.Queries) == 0 {
					continue
				}
				queries := make([]string, 0, len(plan.Queries))
				for _, q := range plan.Queries {
					queries = append(queries, capQuery(q))
				}
				plans[plan.Position] = model.PlannedQuery{
					ClaimType:       plan.ClaimType,
					PrioritySources: plan.PrioritySources,
					Queries:         queries,
					SiteFilter:      plan.SiteFilter,
					Freshness:       p.freshness(claims[plan.Position], plan.ClaimType),
					MaxAgeDays:      maxAgeDays(claims[plan.Position]),
				}
				planned[plan.Position] = true
			}
		}
	}

	for i := range claims {
		if !planned[i] {
			plans[i] = p.Fallback(claims[i])
		}
	}
	return plans
}

func (p *Planner) llmPlan(ctx context.Context, claims []model.Claim) (plannerResponse, error) {
	var sb strings.Builder
	for _, c := range claims {
		fmt.Fprintf(&sb, "%d: %s\n", c.Position, c.Text)
	}

	raw, err := p.completer.Complete(ctx, llm.Request{
		System:      plannerSystemPrompt,
		User:        sb.String(),
		Temperature: 0.2,
		MaxTokens:   1500,
		ForceJSON:   true,
	})
	if err != nil {
		return plannerResponse{}, fmt.Errorf("retrieve: plan completion: %w", err)
	}

	var resp plannerResponse
	if err := llm.DecodeStrict(raw, &resp); err != nil {
		return plannerResponse{}, fmt.Errorf("retrieve: decode plan: %w", err)
	}
	return resp, nil
}

/// Fallback derives one query from the claim text without an LLM: strip
// clauses that poison keyword search, drop filler verbs, and append the
// site exclusions.
func (p *Planner) Fallback(claim model.Claim) model.PlannedQuery {
	query := deriveQuery(claim.Text)
	query = capQuery(query + p.siteExclusions())

	return model.PlannedQuery{
		ClaimType:  "general",
		Queries:    []string{query},
		Freshness:  p.freshness(claim, "general"),
		MaxAgeDays: maxAgeDays(claim),
	}
}

// freshness resolves the tighter of the claim-type freshness and the claim's
// own temporal window.
func (p *Planner) freshness(claim model.Claim, claimType string) string {
	byType := claimTypeFreshness[claimType]
	byTemporal := ""
	if claim.Temporal != nil {
		byTemporal = classify.FreshnessCode(claim.Temporal.Window)
	}
	return classify.MoreRestrictiveFreshness(byType, byTemporal)
}

func maxAgeDays(claim model.Claim) int {
	if claim.Temporal == nil {
		return 0
	}
	return claim.Temporal.MaxEvidenceAgeDays
}

// primarySiteExclusions is the short list worth spending query characters
// on; the full auto-exclude list is enforced again post-retrieval.
var primarySiteExclusions = []string{"twitter.com", "x.com", "reddit.com", "facebook.com"}

func (p *Planner) siteExclusions() string {
	var sb strings.Builder
	for _, d := range primarySiteExclusions {
		sb.WriteString(" -site:")
		sb.WriteString(d)
	}
	if p.excludeFactCheck {
		for _, d := range factCheckDomains[:4] {
			sb.WriteString(" -site:")
			sb.WriteString(d)
		}
		// Keeps fact-check roundup articles out of the general evidence
		// pool; dedicated fact-check retrieval queries them separately.
		sb.WriteString(` -"fact check" -"fact-check"`)
	}
	return sb.String()
}

var (
	queryNegativeRe = regexp.MustCompile(`(?i),?\s*(without|failed to|did not|didn't|never|refused to)\b[^,.;]*`)
	fillerVerbRe    = regexp.MustCompile(`(?i)\b(said|says|stated|announced|reported|claimed|noted|added)\s+that\b`)
	multiSpaceRe    = regexp.MustCompile(`\s{2,}`)
)

// deriveQuery turns claim text into a keyword query. Procedural-negative
// clauses describe what did not happen and match nothing useful; reporting
// verbs bias results toward coverage of the statement instead of the fact.
func deriveQuery(text string) string {
	q := queryNegativeRe.ReplaceAllString(text, "")
	q = fillerVerbRe.ReplaceAllString(q, "")
	q = strings.TrimRight(strings.TrimSpace(q), ".,;")
	q = multiSpaceRe.ReplaceAllString(q, " ")
	return q
}

func capQuery(q string) string {
	if len(q) <= maxQueryChars {
		return q
	}
	cut := q[:maxQueryChars]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut
}
