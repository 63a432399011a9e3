// Package judge is the final pipeline stage: a deterministic abstention gate
// over the verification signals, then an LLM judgment with a rule-based
// fallback, then the article-level overall assessment.
package judge

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veridex-ai/veridex/internal/cache"
	"github.com/veridex-ai/veridex/internal/llm"
	"github.com/veridex-ai/veridex/internal/model"
)

const (
	judgmentCacheTTL = 6 * time.Hour
	// maxSupportingEvidence bounds the evidence echoed back on a judgment.
	maxSupportingEvidence = 3
	// ruleBasedMaxConfidence caps the deterministic fallback; only the LLM
	// path may exceed it.
	ruleBasedMaxConfidence = 80
)

// Config tunes the judgment stage.
type Config struct {
	ClaimConcurrency int

	// Abstention gate thresholds.
	MinSourcesForVerdict    int
	MinCredibilityThreshold float64
	MinConsensusStrength    float64
	EnableAbstention        bool

	// EnableExplainability attaches the confidence breakdown and decision
	// trail to every judgment.
	EnableExplainability bool
}

func (c *Config) normalize() {
	if c.ClaimConcurrency <= 0 {
		c.ClaimConcurrency = 3
	}
	if c.MinSourcesForVerdict <= 0 {
		c.MinSourcesForVerdict = 3
	}
	if c.MinCredibilityThreshold <= 0 {
		c.MinCredibilityThreshold = 0.75
	}
	if c.MinConsensusStrength <= 0 {
		c.MinConsensusStrength = 0.65
	}
}

// Judge produces the final verdict for each claim.
type Judge struct {
	completer llm.ChatCompleter
	cache     cache.Cache
	cfg       Config
	logger    *slog.Logger
}

// New creates the judgment stage. completer may be a Noop; every LLM failure
// lands on the rule-based path.
func New(completer llm.ChatCompleter, c cache.Cache, cfg Config, logger *slog.Logger) *Judge {
	cfg.normalize()
	if completer == nil {
		completer = llm.Noop{}
	}
	if c == nil {
		c = cache.Noop{}
	}
	return &Judge{completer: completer, cache: c, cfg: cfg, logger: logger}
}

// JudgeAll judges every claim concurrently, keyed by claim position.
func (j *Judge) JudgeAll(ctx context.Context, claims []model.Claim, evidence map[int][]model.EvidenceSnippet, signals map[int]model.VerificationSignals) (map[int]model.JudgmentResult, error) {
	out := make([]model.JudgmentResult, len(claims))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.ClaimConcurrency)
	for i, claim := range claims {
		g.Go(func() error {
			out[i] = j.JudgeClaim(gctx, claim, evidence[claim.Position], signals[claim.Position])
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make(map[int]model.JudgmentResult, len(claims))
	for i, claim := range claims {
		result[claim.Position] = out[i]
	}
	return result, nil
}

// JudgeClaim produces the final judgment for one claim: abstention gate,
// then cached LLM judgment, then the rule-based fallback.
func (j *Judge) JudgeClaim(ctx context.Context, claim model.Claim, evidence []model.EvidenceSnippet, signals model.VerificationSignals) model.JudgmentResult {
	consensus := consensusStrength(signals, evidence)

	if j.cfg.EnableAbstention {
		if abstention := j.abstain(claim, evidence, signals, consensus); abstention != nil {
			result := model.JudgmentResult{
				Verdict:            abstention.verdict,
				Confidence:         0,
				Rationale:          abstention.reason,
				SupportingEvidence: topEvidence(evidence),
				ConsensusStrength:  consensus,
				Abstention:         &model.AbstentionInfo{Rule: abstention.rule, Reason: abstention.reason},
				Method:             "abstention",
			}
			if j.cfg.EnableExplainability {
				result.Explanation = j.explain(evidence, signals, consensus, result)
			}
			return result
		}
	}

	key := j.cacheKey(claim, evidence, signals)
	var cached model.JudgmentResult
	if cache.GetJSON(ctx, j.cache, cache.NamespaceJudgment, key, &cached) {
		cached.SupportingEvidence = topEvidence(evidence)
		if j.cfg.EnableExplainability {
			cached.Explanation = j.explain(evidence, signals, consensus, cached)
		}
		return cached
	}

	result, err := j.llmJudgment(ctx, claim, evidence, signals)
	if err != nil {
		j.logger.Warn("judge: llm judgment failed, using rule-based verdict",
			"claim_position", claim.Position, "error", err)
		result = ruleBased(signals)
	}

	result.Confidence = clampConfidence(result.Confidence)
	result.ConsensusStrength = consensus
	cache.SetJSON(ctx, j.cache, cache.NamespaceJudgment, key, result, judgmentCacheTTL)

	result.SupportingEvidence = topEvidence(evidence)
	if j.cfg.EnableExplainability {
		result.Explanation = j.explain(evidence, signals, consensus, result)
	}
	return result
}

// cacheKey identifies a judgment by the inputs that determine it: the claim,
// the verification outcome, and the evidence set's shape.
func (j *Judge) cacheKey(claim model.Claim, evidence []model.EvidenceSnippet, signals model.VerificationSignals) string {
	urls := make([]string, 0, 3)
	for i := 0; i < len(evidence) && i < 3; i++ {
		u := evidence[i].URL
		if len(u) > 60 {
			u = u[:60]
		}
		urls = append(urls, u)
	}
	text := claim.Text
	if len(text) > 100 {
		text = text[:100]
	}
	return cache.Key(text, string(signals.OverallVerdict), math.Round(signals.Confidence*100)/100, len(evidence), urls)
}

type abstentionRule struct {
	rule    string
	verdict model.Verdict
	reason  string
}

// abstain applies the deterministic gate in fixed order. The first matching
// rule wins; nil means the claim proceeds to judgment.
func (j *Judge) abstain(claim model.Claim, evidence []model.EvidenceSnippet, signals model.VerificationSignals, consensus float64) *abstentionRule {
	if len(evidence) < j.cfg.MinSourcesForVerdict {
		return &abstentionRule{
			rule:    "min_sources",
			verdict: model.VerdictInsufficientEvidence,
			reason:  fmt.Sprintf("only %d sources found; %d required for a verdict", len(evidence), j.cfg.MinSourcesForVerdict),
		}
	}

	credible := 0
	for _, e := range evidence {
		if e.CredibilityScore >= j.cfg.MinCredibilityThreshold {
			credible++
		}
	}
	if credible == 0 {
		return &abstentionRule{
			rule:    "min_credibility",
			verdict: model.VerdictInsufficientEvidence,
			reason:  fmt.Sprintf("no source meets the %.2f credibility floor", j.cfg.MinCredibilityThreshold),
		}
	}

	if consensus < j.cfg.MinConsensusStrength {
		return &abstentionRule{
			rule:    "consensus",
			verdict: model.VerdictConflictingExperts,
			reason:  fmt.Sprintf("source consensus %.2f below the %.2f floor", consensus, j.cfg.MinConsensusStrength),
		}
	}

	if mixedHighCredibility(evidence, signals, j.cfg.MinCredibilityThreshold) {
		return &abstentionRule{
			rule:    "mixed_stances",
			verdict: model.VerdictConflictingExperts,
			reason:  "high-credibility sources disagree on this claim",
		}
	}

	if signals.TemporalFlag == model.TemporalFlagOutdated {
		return &abstentionRule{
			rule:    "outdated",
			verdict: model.VerdictOutdatedClaim,
			reason:  "all evidence predates the claim's validity window",
		}
	}
	return nil
}

// consensusStrength is the credibility-weighted share of the dominant
// non-neutral stance. No non-neutral evidence means zero consensus.
func consensusStrength(signals model.VerificationSignals, evidence []model.EvidenceSnippet) float64 {
	var supporting, contradicting float64
	for _, e := range evidence {
		switch signals.Stances[e.ID] {
		case model.StanceSupporting:
			supporting += e.CredibilityScore
		case model.StanceContradicting:
			contradicting += e.CredibilityScore
		}
	}
	total := supporting + contradicting
	if total == 0 {
		return 0
	}
	return math.Max(supporting, contradicting) / total
}

// mixedHighCredibility reports whether credible sources take both sides.
func mixedHighCredibility(evidence []model.EvidenceSnippet, signals model.VerificationSignals, threshold float64) bool {
	var sup, con bool
	for _, e := range evidence {
		if e.CredibilityScore < threshold {
			continue
		}
		switch signals.Stances[e.ID] {
		case model.StanceSupporting:
			sup = true
		case model.StanceContradicting:
			con = true
		}
	}
	return sup && con
}

// ruleBased is the deterministic judgment used when no LLM is reachable.
func ruleBased(signals model.VerificationSignals) model.JudgmentResult {
	switch {
	case signals.SupportingCount > signals.ContradictingCount &&
		signals.MaxEntailment > 0.75 && signals.EvidenceQuality != model.QualityLow:
		return model.JudgmentResult{
			Verdict:    model.VerdictSupported,
			Confidence: minInt(ruleBasedMaxConfidence, int(85*signals.MaxEntailment)),
			Rationale:  "Multiple sources support this claim with strong entailment.",
			Method:     "rule_based",
		}
	case signals.ContradictingCount > signals.SupportingCount &&
		signals.MaxContradiction > 0.75 && signals.EvidenceQuality != model.QualityLow:
		return model.JudgmentResult{
			Verdict:    model.VerdictContradicted,
			Confidence: minInt(ruleBasedMaxConfidence, int(85*signals.MaxContradiction)),
			Rationale:  "Multiple sources contradict this claim with strong signal.",
			Method:     "rule_based",
		}
	}
	return model.JudgmentResult{
		Verdict:    model.VerdictUncertain,
		Confidence: 40,
		Rationale:  "The available evidence does not clearly support or contradict this claim.",
		Method:     "rule_based",
	}
}

const judgePrompt = `You are the final judge in a fact-checking pipeline.
Given a claim, its evidence passages, and aggregate NLI signals, deliver a
verdict: "supported", "contradicted", or "uncertain". Confidence is an
integer 0-100. Ground the rationale in the evidence; never speculate beyond it.

For numerical claims, apply tolerance before calling a mismatch a
contradiction: if the claim hedges with "about", "around", "roughly",
"nearly", or "approximately", treat figures within 15-20 percent as a match;
if the claim states a figure as exact ("exactly", "precisely", or a
to-the-digit value), require an exact match; otherwise allow up to 10
percent. A figure outside the tolerance contradicts the claim even when the
surrounding facts agree.

Respond with a JSON object:
{"verdict": ..., "confidence": ..., "rationale": ...,
 "key_evidence_points": [...],
 "certainty_factors": {"source_quality": "high|medium|low",
   "evidence_consensus": "strong|mixed|weak",
   "temporal_relevance": "current|recent|outdated"}}`

type judgeResponse struct {
	Verdict           string   `json:"verdict"`
	Confidence        int      `json:"confidence"`
	Rationale         string   `json:"rationale"`
	KeyEvidencePoints []string `json:"key_evidence_points"`
	CertaintyFactors  struct {
		SourceQuality     string `json:"source_quality"`
		EvidenceConsensus string `json:"evidence_consensus"`
		TemporalRelevance string `json:"temporal_relevance"`
	} `json:"certainty_factors"`
}

func (j *Judge) llmJudgment(ctx context.Context, claim model.Claim, evidence []model.EvidenceSnippet, signals model.VerificationSignals) (model.JudgmentResult, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Claim: %s\n\n", claim.Text)
	fmt.Fprintf(&sb, "Signals: supporting=%d contradicting=%d neutral=%d max_entailment=%.2f max_contradiction=%.2f quality=%s\n\nEvidence:\n",
		signals.SupportingCount, signals.ContradictingCount, signals.NeutralCount,
		signals.MaxEntailment, signals.MaxContradiction, signals.EvidenceQuality)
	for i, e := range evidence {
		text := e.Text
		if len(text) > 500 {
			text = text[:500]
		}
		fmt.Fprintf(&sb, "%d. [%s, credibility %.2f] %s\n", i+1, e.Source, e.CredibilityScore, text)
	}

	raw, err := j.completer.Complete(ctx, llm.Request{
		System:      judgePrompt,
		User:        sb.String(),
		Temperature: 0.1,
		MaxTokens:   700,
		ForceJSON:   true,
	})
	if err != nil {
		return model.JudgmentResult{}, fmt.Errorf("judge: completion: %w", err)
	}

	var resp judgeResponse
	if err := llm.DecodeStrict(raw, &resp); err != nil {
		return model.JudgmentResult{}, err
	}

	verdict := model.Verdict(resp.Verdict)
	switch verdict {
	case model.VerdictSupported, model.VerdictContradicted, model.VerdictUncertain:
	default:
		return model.JudgmentResult{}, fmt.Errorf("judge: unknown verdict %q", resp.Verdict)
	}

	return model.JudgmentResult{
		Verdict:           verdict,
		Confidence:        resp.Confidence,
		Rationale:         resp.Rationale,
		KeyEvidencePoints: resp.KeyEvidencePoints,
		CertaintyFactors: &model.CertaintyFactors{
			SourceQuality:     resp.CertaintyFactors.SourceQuality,
			EvidenceConsensus: resp.CertaintyFactors.EvidenceConsensus,
			TemporalRelevance: resp.CertaintyFactors.TemporalRelevance,
		},
		Method: "llm",
	}, nil
}

// topEvidence returns the highest-scored snippets for display.
func topEvidence(evidence []model.EvidenceSnippet) []model.EvidenceSnippet {
	if len(evidence) == 0 {
		return nil
	}
	sorted := append([]model.EvidenceSnippet(nil), evidence...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FinalScore > sorted[j].FinalScore })
	if len(sorted) > maxSupportingEvidence {
		sorted = sorted[:maxSupportingEvidence]
	}
	return sorted
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
