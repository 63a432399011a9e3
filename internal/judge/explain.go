package judge

import (
	"fmt"

	"github.com/veridex-ai/veridex/internal/model"
)

// explain assembles the explainability enrichment for a finished judgment:
// the confidence breakdown, a gate-by-gate decision trail, and a plain
// description of what keeps an uncertain verdict uncertain.
func (j *Judge) explain(evidence []model.EvidenceSnippet, signals model.VerificationSignals, consensus float64, result model.JudgmentResult) *model.Explanation {
	exp := &model.Explanation{
		Breakdown: model.ConfidenceBreakdown{
			EvidenceCount:     len(evidence),
			AvgCredibility:    avgCredibility(evidence),
			ConsensusStrength: consensus,
			EvidenceQuality:   signals.EvidenceQuality,
		},
		DecisionTrail: j.decisionTrail(evidence, consensus, result),
	}
	if result.Verdict.CountsAsUncertain() {
		exp.Uncertainty = uncertaintyNote(signals, consensus, result)
	}
	return exp
}

// decisionTrail narrates the path to the verdict in evaluation order.
func (j *Judge) decisionTrail(evidence []model.EvidenceSnippet, consensus float64, result model.JudgmentResult) []string {
	var trail []string
	if j.cfg.EnableAbstention {
		if result.Abstention != nil {
			trail = append(trail,
				fmt.Sprintf("abstention gate %q triggered: %s", result.Abstention.Rule, result.Abstention.Reason))
			return trail
		}
		trail = append(trail,
			fmt.Sprintf("abstention gates passed: %d sources, consensus %.2f", len(evidence), consensus))
	}
	switch result.Method {
	case "llm":
		trail = append(trail, "verdict rendered by the language model")
	case "rule_based":
		trail = append(trail, "language model unavailable; verdict from deterministic evidence rules")
	default:
		trail = append(trail, "verdict method: "+result.Method)
	}
	trail = append(trail, fmt.Sprintf("confidence %d from %d evidence passages", result.Confidence, len(evidence)))
	return trail
}

// uncertaintyNote says in one sentence why the system is not committing to
// supported or contradicted.
func uncertaintyNote(signals model.VerificationSignals, consensus float64, result model.JudgmentResult) string {
	if result.Abstention != nil {
		return result.Abstention.Reason
	}
	switch {
	case signals.SupportingCount == 0 && signals.ContradictingCount == 0:
		return "no evidence takes a clear position on this claim"
	case signals.SupportingCount > 0 && signals.ContradictingCount > 0:
		return fmt.Sprintf("sources disagree: %d support, %d contradict (consensus %.2f)",
			signals.SupportingCount, signals.ContradictingCount, consensus)
	default:
		return "the evidence leans one way but not strongly enough for a verdict"
	}
}
