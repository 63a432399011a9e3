package retrieve

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/veridex-ai/veridex/internal/model"
)

// Filter stage names, recorded on dropped raw evidence.
const (
	stageAutoExclude = "auto_exclude"
	stageCredibility = "credibility"
	stageTemporal    = "temporal"
	stageDedup       = "dedup"
	stageDiversity   = "diversity"
	stageDomainCap   = "domain_cap"
	stageValidation  = "validation"
)

// maxPerIndependenceGroup bounds how many snippets from commonly-owned
// outlets count toward one claim.
const maxPerIndependenceGroup = 2

// FilterConfig tunes the evidence filter chain.
type FilterConfig struct {
	SourceCredibilityThreshold float64
	OutstandingSourceThreshold float64
	MaxEvidencePerDomain       int
	MaxSourcesPerClaim         int

	// DomainDiversityThreshold bounds one publisher's share of a claim's
	// final evidence set (0.5 means no domain may supply more than half).
	// The tighter of this ratio and MaxEvidencePerDomain wins.
	DomainDiversityThreshold float64

	EnableDeduplication    bool
	EnableSourceDiversity  bool
	EnableDomainCap        bool
	EnableSourceValidation bool
	ExcludeFactCheckSites  bool

	// DropStalePlanned controls stale evidence from planner-directed
	// queries: false logs a warning and keeps it, true drops it like any
	// other stale hit.
	DropStalePlanned bool
}

// candidate is one evidence snippet moving through the filter chain.
type candidate struct {
	snippet model.EvidenceSnippet
	// planned marks evidence found by a planner-directed query.
	planned bool

	dropped bool
	stage   string
	reason  string
}

func (c *candidate) drop(stage, reason string) {
	if !c.dropped {
		c.dropped = true
		c.stage = stage
		c.reason = reason
	}
}

// filterChain applies the fixed filter order to one claim's candidates:
// auto-exclude, credibility floor, temporal staleness, dedup, source
// diversity, per-domain cap, URL validation. Every candidate comes out the
// other side as a RawEvidence audit record.
type filterChain struct {
	cfg    FilterConfig
	logger *slog.Logger
	now    func() time.Time
}

func newFilterChain(cfg FilterConfig, logger *slog.Logger) *filterChain {
	return &filterChain{cfg: cfg, logger: logger, now: time.Now}
}

// run filters candidates for one claim. Candidates must already be scored;
// they are sorted by final score before capping stages so the best evidence
// survives.
func (f *filterChain) run(claim model.Claim, cands []candidate) ([]model.EvidenceSnippet, []model.RawEvidence) {
	total := len(cands)

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].snippet.FinalScore > cands[j].snippet.FinalScore
	})

	live := total
	f.applyAutoExclude(cands)
	live = f.logStage(claim, stageAutoExclude, live, cands)
	f.applyCredibility(cands)
	live = f.logStage(claim, stageCredibility, live, cands)
	f.applyTemporal(claim, cands)
	live = f.logStage(claim, stageTemporal, live, cands)
	if f.cfg.EnableDeduplication {
		f.applyDedup(cands)
		live = f.logStage(claim, stageDedup, live, cands)
	}
	if f.cfg.EnableSourceDiversity {
		f.applyDiversity(cands)
		live = f.logStage(claim, stageDiversity, live, cands)
	}
	if f.cfg.EnableDomainCap {
		f.applyDomainCap(cands)
		live = f.logStage(claim, stageDomainCap, live, cands)
	}
	if f.cfg.EnableSourceValidation {
		f.applyValidation(cands)
		f.logStage(claim, stageValidation, live, cands)
	}

	kept := f.collect(claim, cands)

	// An emptied set stays empty: the judge abstains on zero evidence, and
	// re-admitting dropped candidates would hand it sub-threshold sources.
	// The audit trail keeps every drop's stage and reason.
	if len(kept) == 0 && total > 0 {
		f.logger.Warn("retrieve: filters removed all evidence",
			"claim_position", claim.Position, "candidates", total)
	}

	raw := f.audit(claim, cands)

	f.logger.Info("retrieve: filter chain complete",
		"claim_position", claim.Position, "before", total, "after", len(kept))
	return kept, raw
}

func (f *filterChain) logStage(claim model.Claim, stage string, before int, cands []candidate) int {
	after := alive(cands)
	f.logger.Debug("retrieve: filter stage",
		"claim_position", claim.Position, "stage", stage, "before", before, "after", after)
	return after
}

func alive(cands []candidate) int {
	n := 0
	for i := range cands {
		if !cands[i].dropped {
			n++
		}
	}
	return n
}

func (f *filterChain) applyAutoExclude(cands []candidate) {
	for i := range cands {
		c := &cands[i]
		if c.dropped {
			continue
		}
		switch {
		case c.snippet.AutoExclude || isAutoExcluded(c.snippet.URL):
			c.drop(stageAutoExclude, "source is never usable as evidence")
		case f.cfg.ExcludeFactCheckSites && !c.snippet.IsFactCheck && isFactCheckSite(c.snippet.URL):
			c.drop(stageAutoExclude, "fact-check site excluded from general evidence")
		}
	}
}

func (f *filterChain) applyCredibility(cands []candidate) {
	for i := range cands {
		c := &cands[i]
		if c.dropped {
			continue
		}
		if c.snippet.CredibilityScore < f.cfg.SourceCredibilityThreshold {
			c.drop(stageCredibility, "source credibility below threshold")
		}
	}
}

func (f *filterChain) applyTemporal(claim model.Claim, cands []candidate) {
	maxAge := maxAgeDays(claim)
	if maxAge <= 0 {
		return
	}
	cutoff := f.now().AddDate(0, 0, -maxAge)

	for i := range cands {
		c := &cands[i]
		if c.dropped || c.snippet.PublishedDate == nil {
			continue
		}
		published, ok := parseEvidenceDate(*c.snippet.PublishedDate)
		if !ok || !published.Before(cutoff) {
			continue
		}
		if c.planned && !f.cfg.DropStalePlanned {
			f.logger.Warn("retrieve: stale evidence from planned query kept",
				"claim_position", claim.Position, "url", c.snippet.URL, "published", *c.snippet.PublishedDate)
			continue
		}
		c.drop(stageTemporal, "evidence older than the claim's temporal window")
	}
}

func (f *filterChain) applyDedup(cands []candidate) {
	seenURL := map[string]bool{}
	seenText := map[string]bool{}
	for i := range cands {
		c := &cands[i]
		if c.dropped {
			continue
		}
		urlKey := strings.TrimRight(strings.ToLower(c.snippet.URL), "/")
		textKey := normalizeForDedup(c.snippet.Text)
		if seenURL[urlKey] || (textKey != "" && seenText[textKey]) {
			c.drop(stageDedup, "duplicate of higher-scored evidence")
			continue
		}
		seenURL[urlKey] = true
		if textKey != "" {
			seenText[textKey] = true
		}
	}
}

func (f *filterChain) applyDiversity(cands []candidate) {
	groupCount := map[string]int{}
	for i := range cands {
		c := &cands[i]
		if c.dropped {
			continue
		}
		group := c.snippet.IndependenceGroup
		if group == "" {
			continue
		}
		groupCount[group]++
		if groupCount[group] > maxPerIndependenceGroup {
			c.drop(stageDiversity, "too many sources under common ownership")
		}
	}
}

func (f *filterChain) applyDomainCap(cands []candidate) {
	limit := f.domainLimit(cands)
	if limit <= 0 {
		return
	}
	domainCount := map[string]int{}
	for i := range cands {
		c := &cands[i]
		if c.dropped {
			continue
		}
		// Outstanding sources bypass the cap: dropping a 0.95+ source to
		// enforce variety loses more than it gains.
		if c.snippet.CredibilityScore >= f.cfg.OutstandingSourceThreshold {
			continue
		}
		domain := registrableDomain(c.snippet.URL)
		domainCount[domain]++
		if domainCount[domain] > limit {
			c.drop(stageDomainCap, "per-domain evidence cap reached")
		}
	}
}

// domainLimit resolves the effective per-domain cap: the absolute
// MaxEvidencePerDomain, tightened by DomainDiversityThreshold applied to the
// size of the set the claim will actually keep.
func (f *filterChain) domainLimit(cands []candidate) int {
	limit := f.cfg.MaxEvidencePerDomain
	if f.cfg.DomainDiversityThreshold <= 0 || f.cfg.DomainDiversityThreshold >= 1 {
		return limit
	}

	n := alive(cands)
	if f.cfg.MaxSourcesPerClaim > 0 && n > f.cfg.MaxSourcesPerClaim {
		n = f.cfg.MaxSourcesPerClaim
	}

	ratioLimit := int(math.Ceil(f.cfg.DomainDiversityThreshold * float64(n)))
	if ratioLimit < 1 {
		ratioLimit = 1
	}
	if limit <= 0 || ratioLimit < limit {
		return ratioLimit
	}
	return limit
}

func (f *filterChain) applyValidation(cands []candidate) {
	for i := range cands {
		c := &cands[i]
		if c.dropped {
			continue
		}
		if err := c.snippet.ValidateURL(); err != nil {
			c.drop(stageValidation, "invalid evidence url")
		}
		if strings.TrimSpace(c.snippet.Text) == "" {
			c.drop(stageValidation, "empty evidence text")
		}
	}
}

// collect gathers survivors in score order, capped per claim, and computes
// the kept set's diversity score.
func (f *filterChain) collect(claim model.Claim, cands []candidate) []model.EvidenceSnippet {
	var kept []model.EvidenceSnippet
	for i := range cands {
		if cands[i].dropped {
			continue
		}
		kept = append(kept, cands[i].snippet)
		if f.cfg.MaxSourcesPerClaim > 0 && len(kept) >= f.cfg.MaxSourcesPerClaim {
			// Excess survivors fall under the per-claim cap.
			for j := i + 1; j < len(cands); j++ {
				if !cands[j].dropped {
					cands[j].drop(stageDomainCap, "per-claim source cap reached")
				}
			}
			break
		}
	}

	if len(kept) > 0 {
		groups := map[string]bool{}
		for _, s := range kept {
			groups[s.IndependenceGroup] = true
		}
		diversity := float64(len(groups)) / float64(len(kept))
		for i := range kept {
			kept[i].DiversityScore = diversity
		}
	}
	return kept
}

func (f *filterChain) audit(claim model.Claim, cands []candidate) []model.RawEvidence {
	raw := make([]model.RawEvidence, 0, len(cands))
	for i := range cands {
		c := cands[i]
		record := model.RawEvidence{
			EvidenceSnippet: c.snippet,
			ClaimPosition:   claim.Position,
			IsIncluded:      !c.dropped,
		}
		if c.dropped {
			stage, reason := c.stage, c.reason
			record.FilterStage = &stage
			record.FilterReason = &reason
		}
		raw = append(raw, record)
	}
	return raw
}

func normalizeForDedup(text string) string {
	text = strings.ToLower(strings.Join(strings.Fields(text), " "))
	if len(text) > 120 {
		text = text[:120]
	}
	return text
}
