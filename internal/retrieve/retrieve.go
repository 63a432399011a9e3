// Package retrieve is the evidence-gathering stage: for each claim it plans
// search queries, fans out to the web search cascade and the domain
// adapters, extracts page content, ranks candidates against the claim, and
// applies the evidence filter chain. Everything inspected ends up in the raw
// evidence audit trail, included or not.
package retrieve

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/veridex-ai/veridex/internal/adapters"
	"github.com/veridex-ai/veridex/internal/embedding"
	"github.com/veridex-ai/veridex/internal/llm"
	"github.com/veridex-ai/veridex/internal/model"
	"github.com/veridex-ai/veridex/internal/websearch"
)

// maxQueriesPerClaim bounds web searches per claim regardless of what the
// planner suggests.
const maxQueriesPerClaim = 2

// Searcher is the web search dependency (the provider cascade).
type Searcher interface {
	Search(ctx context.Context, q websearch.Query) ([]model.SearchResult, error)
	Enabled() bool
}

// VectorStore persists evidence embeddings for later similarity lookups.
// Persistence is best-effort; retrieval never fails on a vector error.
type VectorStore interface {
	UpsertEvidence(ctx context.Context, claim model.Claim, snippets []model.EvidenceSnippet) error
}

// Config tunes the retrieval stage.
type Config struct {
	Filter FilterConfig

	ClaimConcurrency     int
	AdapterMaxResults    int
	EnableQueryPlanning  bool
	EnableCrossEncoder   bool
	EnableGlobalCap      bool
	GlobalMaxDomainRatio float64
}

func (c *Config) normalize() {
	if c.ClaimConcurrency <= 0 {
		c.ClaimConcurrency = 3
	}
	if c.AdapterMaxResults <= 0 {
		c.AdapterMaxResults = 5
	}
	if c.GlobalMaxDomainRatio <= 0 || c.GlobalMaxDomainRatio > 1 {
		c.GlobalMaxDomainRatio = 0.4
	}
}

// Result is the stage output for all claims of one job.
type Result struct {
	// Evidence maps claim position to its kept, score-ordered evidence.
	Evidence map[int][]model.EvidenceSnippet
	Raw      []model.RawEvidence
	Usage    model.APIUsage
}

// Retriever runs evidence gathering for a job's claims.
type Retriever struct {
	searcher Searcher
	registry *adapters.Registry
	planner  *Planner
	ranker   *ranker
	pages    *pageFetcher
	filter   *filterChain
	vectors  VectorStore
	cfg      Config
	logger   *slog.Logger
}

// New creates the retrieval stage. searcher, planner, embedder,
// crossEncoder, and vectors may each be nil; the stage degrades around them.
func New(searcher Searcher, registry *adapters.Registry, planner *Planner, embedder embedding.Provider, crossEncoder llm.ChatCompleter, vectors VectorStore, cfg Config, logger *slog.Logger) *Retriever {
	cfg.normalize()
	if !cfg.EnableCrossEncoder {
		crossEncoder = nil
	}
	return &Retriever{
		searcher: searcher,
		registry: registry,
		planner:  planner,
		ranker:   newRanker(embedder, crossEncoder, logger),
		pages:    newPageFetcher(true, logger),
		filter:   newFilterChain(cfg.Filter, logger),
		vectors:  vectors,
		cfg:      cfg,
		logger:   logger,
	}
}

// SetSnippetFallback toggles the blocked/timeout snippet fallback policy.
func (r *Retriever) SetSnippetFallback(allow bool) {
	r.pages.allowFallback = allow
}

// usageTracker accumulates external-source statistics across goroutines.
type usageTracker struct {
	mu      sync.Mutex
	order   []string
	hits    map[string]bool
	queried map[string]bool
	calls   int
}

func newUsageTracker() *usageTracker {
	return &usageTracker{hits: map[string]bool{}, queried: map[string]bool{}}
}

func (u *usageTracker) record(source string, resultCount int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if !u.queried[source] {
		u.queried[source] = true
	}
	if resultCount > 0 && !u.hits[source] {
		u.hits[source] = true
		u.order = append(u.order, source)
	}
}

func (u *usageTracker) usage() model.APIUsage {
	u.mu.Lock()
	defer u.mu.Unlock()
	coverage := 0.0
	if len(u.queried) > 0 {
		coverage = float64(len(u.hits)) / float64(len(u.queried)) * 100
	}
	return model.APIUsage{
		SourcesUsed:     append([]string(nil), u.order...),
		CallCount:       u.calls,
		CoveragePercent: coverage,
	}
}

// Retrieve gathers evidence for every claim. excludeURL is the URL of the
// article under test; hits pointing back at it never count as evidence.
// Per-claim failures degrade to less evidence rather than failing the stage;
// the error return is reserved for context cancellation.
func (r *Retriever) Retrieve(ctx context.Context, claims []model.Claim, classification model.ArticleClassification, excludeURL string) (Result, error) {
	plans := r.plan(ctx, claims)
	usage := newUsageTracker()

	evidence := make([][]model.EvidenceSnippet, len(claims))
	rawPerClaim := make([][]model.RawEvidence, len(claims))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ClaimConcurrency)
	for i, claim := range claims {
		g.Go(func() error {
			kept, raw := r.retrieveClaim(gctx, claim, plans[i], classification, excludeURL, usage)
			evidence[i] = kept
			rawPerClaim[i] = raw
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	result := Result{Evidence: make(map[int][]model.EvidenceSnippet, len(claims)), Usage: usage.usage()}
	for i, claim := range claims {
		result.Evidence[claim.Position] = evidence[i]
		result.Raw = append(result.Raw, rawPerClaim[i]...)
	}

	if r.cfg.EnableGlobalCap {
		r.applyGlobalDomainCap(&result)
	}
	return result, nil
}

func (r *Retriever) plan(ctx context.Context, claims []model.Claim) []model.PlannedQuery {
	if r.planner == nil {
		plans := make([]model.PlannedQuery, len(claims))
		fallback := NewPlanner(nil, r.logger, r.cfg.Filter.ExcludeFactCheckSites)
		for i, c := range claims {
			plans[i] = fallback.Fallback(c)
		}
		return plans
	}
	if !r.cfg.EnableQueryPlanning {
		plans := make([]model.PlannedQuery, len(claims))
		for i, c := range claims {
			plans[i] = r.planner.Fallback(c)
		}
		return plans
	}
	return r.planner.Plan(ctx, claims)
}

// retrieveClaim runs web search and adapter search for one claim in
// parallel, then ranks and filters the combined candidates.
func (r *Retriever) retrieveClaim(ctx context.Context, claim model.Claim, plan model.PlannedQuery, classification model.ArticleClassification, excludeURL string, usage *usageTracker) ([]model.EvidenceSnippet, []model.RawEvidence) {
	var mu sync.Mutex
	var cands []candidate

	add := func(snippets []model.EvidenceSnippet, planned bool) {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range snippets {
			cands = append(cands, candidate{snippet: s, planned: planned})
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if r.searcher != nil && r.searcher.Enabled() {
		queries := plan.Queries
		if len(queries) > maxQueriesPerClaim {
			queries = queries[:maxQueriesPerClaim]
		}
		for _, query := range queries {
			g.Go(func() error {
				q := query
				if plan.SiteFilter != "" {
					q = capQuery(q + " " + plan.SiteFilter)
				}
				results, err := r.searcher.Search(gctx, websearch.Query{
					Text:      q,
					Freshness: plan.Freshness,
				})
				if err != nil {
					r.logger.Warn("retrieve: web search failed", "claim_position", claim.Position, "error", err)
					usage.record("web_search", 0)
					return nil
				}
				usage.record("web_search", len(results))
				add(r.pages.snippets(gctx, claim, results, "web_search"), true)
				return nil
			})
		}
	}

	if r.registry != nil {
		for _, adapter := range r.registry.ForClaim(claim, classification) {
			g.Go(func() error {
				snippets, err := adapter.Search(gctx, adapters.Request{
					Claim:        claim,
					Domain:       classification.PrimaryDomain,
					Jurisdiction: classification.Jurisdiction,
					MaxResults:   r.cfg.AdapterMaxResults,
				})
				if err != nil {
					r.logger.Warn("retrieve: adapter failed", "adapter", adapter.Name(), "claim_position", claim.Position, "error", err)
					usage.record(adapter.Name(), 0)
					return nil
				}
				usage.record(adapter.Name(), len(snippets))
				add(snippets, false)
				return nil
			})
		}
	}

	_ = g.Wait()

	// The article being checked cannot corroborate itself; drop it before
	// scoring so the audit trail still records the hit.
	if excludeURL != "" {
		for i := range cands {
			if sameArticleURL(cands[i].snippet.URL, excludeURL) {
				cands[i].drop(stageAutoExclude, "evidence points back at the checked article")
			}
		}
	}

	snippets := make([]model.EvidenceSnippet, len(cands))
	for i := range cands {
		snippets[i] = cands[i].snippet
	}
	r.ranker.score(ctx, claim, snippets)
	r.ranker.rescore(ctx, claim, snippets)
	for i := range cands {
		cands[i].snippet = snippets[i]
	}

	kept, raw := r.filter.run(claim, cands)

	if r.vectors != nil && len(kept) > 0 {
		if err := r.vectors.UpsertEvidence(ctx, claim, kept); err != nil {
			r.logger.Warn("retrieve: vector upsert failed", "claim_position", claim.Position, "error", err)
		}
	}
	return kept, raw
}

// applyGlobalDomainCap enforces the cross-claim publisher ratio: no single
// publisher domain may supply more than the configured share of all kept
// evidence. The lowest-scored offenders are dropped and their audit records
// updated.
func (r *Retriever) applyGlobalDomainCap(result *Result) {
	type ref struct {
		position int
		index    int
		score    float64
	}

	total := 0
	byDomain := map[string][]ref{}
	for pos, snippets := range result.Evidence {
		for i, s := range snippets {
			domain := registrableDomain(s.URL)
			byDomain[domain] = append(byDomain[domain], ref{pos, i, s.FinalScore})
			total++
		}
	}
	if total == 0 {
		return
	}

	maxPerDomain := int(float64(total) * r.cfg.GlobalMaxDomainRatio)
	if maxPerDomain < 1 {
		maxPerDomain = 1
	}

	dropped := map[int]map[int]bool{}
	for domain, refs := range byDomain {
		if len(refs) <= maxPerDomain {
			continue
		}
		sort.Slice(refs, func(i, j int) bool { return refs[i].score > refs[j].score })
		for _, victim := range refs[maxPerDomain:] {
			if dropped[victim.position] == nil {
				dropped[victim.position] = map[int]bool{}
			}
			dropped[victim.position][victim.index] = true
		}
		r.logger.Info("retrieve: global domain cap applied",
			"domain", domain, "kept", maxPerDomain, "dropped", len(refs)-maxPerDomain)
	}
	if len(dropped) == 0 {
		return
	}

	droppedIDs := map[string]bool{}
	for pos, indices := range dropped {
		snippets := result.Evidence[pos]
		kept := snippets[:0]
		for i, s := range snippets {
			if indices[i] {
				droppedIDs[s.ID.String()] = true
				continue
			}
			kept = append(kept, s)
		}
		result.Evidence[pos] = kept
	}

	stage := stageDomainCap
	reason := "global publisher ratio cap"
	for i := range result.Raw {
		if result.Raw[i].IsIncluded && droppedIDs[result.Raw[i].ID.String()] {
			result.Raw[i].IsIncluded = false
			result.Raw[i].FilterStage = &stage
			result.Raw[i].FilterReason = &reason
		}
	}
}
