package model

import "github.com/google/uuid"

// Verdict is the final judgment for a claim. Beyond the three base verdicts,
// the abstention values indicate the system cannot responsibly answer.
type Verdict string

const (
	VerdictSupported    Verdict = "supported"
	VerdictContradicted Verdict = "contradicted"
	VerdictUncertain    Verdict = "uncertain"

	// Abstention verdicts. Confidence is always 0 for these.
	VerdictInsufficientEvidence Verdict = "insufficient_evidence"
	VerdictConflictingExperts   Verdict = "conflicting_expert_opinion"
	VerdictOutdatedClaim        Verdict = "outdated_claim"
	VerdictNeedsPrimarySource   Verdict = "needs_primary_source"
	VerdictLacksContext         Verdict = "lacks_context"
)

// IsAbstention reports whether v is an abstention category.
func (v Verdict) IsAbstention() bool {
	switch v {
	case VerdictInsufficientEvidence, VerdictConflictingExperts,
		VerdictOutdatedClaim, VerdictNeedsPrimarySource, VerdictLacksContext:
		return true
	}
	return false
}

// CountsAsUncertain reports whether v tallies into the uncertain bucket of
// the overall assessment (base uncertain plus every abstention).
func (v Verdict) CountsAsUncertain() bool {
	return v == VerdictUncertain || v.IsAbstention()
}

// Relationship is the NLI label for a (claim, evidence) pair.
type Relationship string

const (
	RelEntails     Relationship = "entails"
	RelContradicts Relationship = "contradicts"
	RelNeutral     Relationship = "neutral"
)

// Stance is the per-evidence position derived from Relationship.
type Stance string

const (
	StanceSupporting    Stance = "supporting"
	StanceContradicting Stance = "contradicting"
	StanceNeutral       Stance = "neutral"
)

// StanceOf maps an NLI relationship to its evidence stance.
func StanceOf(r Relationship) Stance {
	switch r {
	case RelEntails:
		return StanceSupporting
	case RelContradicts:
		return StanceContradicting
	}
	return StanceNeutral
}

// NLIResult is the per-pair inference output. The three probabilities sum
// to 1; Relationship is the argmax and Confidence its probability.
type NLIResult struct {
	EvidenceID    uuid.UUID    `json:"evidence_id"`
	Entailment    float64      `json:"entailment"`
	Contradiction float64      `json:"contradiction"`
	Neutral       float64      `json:"neutral"`
	Relationship  Relationship `json:"relationship"`
	Confidence    float64      `json:"confidence"`
}

// EvidenceQuality buckets the strength of a claim's NLI evidence set.
type EvidenceQuality string

const (
	QualityHigh   EvidenceQuality = "high"
	QualityMedium EvidenceQuality = "medium"
	QualityLow    EvidenceQuality = "low"
)

// TemporalFlag values carried on VerificationSignals.
const (
	TemporalFlagOutdated = "outdated"
)

// VerificationSignals aggregates NLI results for one claim. It is the input
// to Judge's abstention gate and consensus calculation.
type VerificationSignals struct {
	SupportingCount    int     `json:"supporting_count"`
	ContradictingCount int     `json:"contradicting_count"`
	NeutralCount       int     `json:"neutral_count"`
	MaxEntailment      float64 `json:"max_entailment"`
	MaxContradiction   float64 `json:"max_contradiction"`
	AvgConfidence      float64 `json:"avg_confidence"`

	EvidenceQuality EvidenceQuality `json:"evidence_quality"`
	OverallVerdict  Verdict         `json:"overall_verdict"`
	Confidence      float64         `json:"confidence"`

	// Stances maps evidence ID → stance; required by Judge's consensus
	// strength calculation.
	Stances map[uuid.UUID]Stance `json:"evidence_stances"`

	// TemporalFlag is "outdated" when the claim's evidence window indicates
	// the claim no longer holds.
	TemporalFlag string `json:"temporal_flag,omitempty"`
}

// CertaintyFactors is the judge LLM's self-reported certainty breakdown.
type CertaintyFactors struct {
	SourceQuality     string `json:"source_quality"`      // high | medium | low
	EvidenceConsensus string `json:"evidence_consensus"`  // strong | mixed | weak
	TemporalRelevance string `json:"temporal_relevance"`  // current | recent | outdated
}

// AbstentionInfo records why the deterministic gate abstained.
type AbstentionInfo struct {
	Rule   string `json:"rule"`
	Reason string `json:"reason"`
}

// ConfidenceBreakdown itemizes the inputs behind a judgment's confidence.
type ConfidenceBreakdown struct {
	EvidenceCount     int             `json:"evidence_count"`
	AvgCredibility    float64         `json:"avg_credibility"`
	ConsensusStrength float64         `json:"consensus_strength"`
	EvidenceQuality   EvidenceQuality `json:"evidence_quality"`
}

// Explanation is the optional explainability enrichment attached to a
// judgment: why the verdict is uncertain (when it is), what fed the
// confidence number, and the decisions taken on the way to it.
type Explanation struct {
	Uncertainty   string              `json:"uncertainty,omitempty"`
	Breakdown     ConfidenceBreakdown `json:"confidence_breakdown"`
	DecisionTrail []string            `json:"decision_trail"`
}

// JudgmentResult is the final per-claim output of the Judge stage.
type JudgmentResult struct {
	Verdict Verdict `json:"verdict"`
	// Confidence is an integer percentage in [0, 100]; 0 on abstention.
	Confidence int    `json:"confidence"`
	Rationale  string `json:"rationale"`

	// SupportingEvidence is the top 3 evidence snippets by final score.
	SupportingEvidence []EvidenceSnippet `json:"supporting_evidence,omitempty"`
	KeyEvidencePoints  []string          `json:"key_evidence_points,omitempty"`
	CertaintyFactors   *CertaintyFactors `json:"certainty_factors,omitempty"`

	ConsensusStrength float64         `json:"consensus_strength"`
	Abstention        *AbstentionInfo `json:"abstention,omitempty"`
	Explanation       *Explanation    `json:"explanation,omitempty"`

	// Method records which path produced the judgment:
	// "llm", "llm_fallback", "rule_based", or "abstention".
	Method string `json:"method"`
}

// OverallAssessment summarizes a completed job.
type OverallAssessment struct {
	Summary string `json:"summary"`
	// CredibilityScore is the confidence-weighted article score in [0, 100].
	CredibilityScore    int `json:"credibility_score"`
	ClaimsSupported     int `json:"claims_supported"`
	ClaimsContradicted  int `json:"claims_contradicted"`
	ClaimsUncertain     int `json:"claims_uncertain"`
	ClaimsTotal         int `json:"claims_total"`
}
