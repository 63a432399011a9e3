package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/veridex-ai/veridex/internal/llm"
	"github.com/veridex-ai/veridex/internal/model"
)

// Verdict anchor scores for the article credibility calculation. Each
// claim's anchor is weighted by judgment confidence and evidence
// credibility, so a shaky "supported" moves the article score less than a
// confident one.
const (
	anchorSupported    = 100.0
	anchorContradicted = 0.0
	anchorAbstention   = 30.0
	anchorUncertain    = 40.0

	// minClaimWeight keeps zero-confidence claims (abstentions) from
	// vanishing out of the article score entirely.
	minClaimWeight = 0.1
)

const summaryPrompt = `You summarize fact-check results for an article.
Write 2-3 sentences covering how many claims were checked, how they fared,
and what a reader should take away. Plain prose, no lists, no JSON.`

// Assess builds the article-level assessment: deterministic tallies and
// credibility score, plus an LLM-written summary with a templated fallback.
func (j *Judge) Assess(ctx context.Context, judged []model.JudgedClaim) model.OverallAssessment {
	assessment := model.OverallAssessment{ClaimsTotal: len(judged)}

	var weightedSum, weightTotal float64
	for _, jc := range judged {
		verdict := jc.Judgment.Verdict
		switch {
		case verdict == model.VerdictSupported:
			assessment.ClaimsSupported++
		case verdict == model.VerdictContradicted:
			assessment.ClaimsContradicted++
		case verdict.CountsAsUncertain():
			assessment.ClaimsUncertain++
		}

		weight := float64(jc.Judgment.Confidence) / 100 * avgCredibility(jc.Evidence)
		if weight < minClaimWeight {
			weight = minClaimWeight
		}
		weightedSum += anchorFor(verdict) * weight
		weightTotal += weight
	}

	if weightTotal > 0 {
		assessment.CredibilityScore = int(weightedSum/weightTotal + 0.5)
	}

	assessment.Summary = j.summary(ctx, assessment, judged)
	return assessment
}

func anchorFor(v model.Verdict) float64 {
	switch {
	case v == model.VerdictSupported:
		return anchorSupported
	case v == model.VerdictContradicted:
		return anchorContradicted
	case v.IsAbstention():
		return anchorAbstention
	}
	return anchorUncertain
}

func avgCredibility(evidence []model.EvidenceSnippet) float64 {
	if len(evidence) == 0 {
		return 0.5
	}
	var sum float64
	for _, e := range evidence {
		sum += e.CredibilityScore
	}
	return sum / float64(len(evidence))
}

func (j *Judge) summary(ctx context.Context, a model.OverallAssessment, judged []model.JudgedClaim) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Checked %d claims: %d supported, %d contradicted, %d uncertain. Credibility score %d/100.\n\nVerdicts:\n",
		a.ClaimsTotal, a.ClaimsSupported, a.ClaimsContradicted, a.ClaimsUncertain, a.CredibilityScore)
	for _, jc := range judged {
		fmt.Fprintf(&sb, "- [%s, %d%%] %s\n", jc.Judgment.Verdict, jc.Judgment.Confidence, jc.Claim.Text)
	}

	out, err := j.completer.Complete(ctx, llm.Request{
		System:      summaryPrompt,
		User:        sb.String(),
		Temperature: 0.3,
		MaxTokens:   300,
	})
	if err != nil || strings.TrimSpace(out) == "" {
		return templatedSummary(a)
	}
	return strings.TrimSpace(out)
}

// templatedSummary is the deterministic fallback summary.
func templatedSummary(a model.OverallAssessment) string {
	if a.ClaimsTotal == 0 {
		return "No verifiable claims were found in this article."
	}
	return fmt.Sprintf(
		"Of %d claims checked, %d were supported by the evidence, %d were contradicted, and %d could not be resolved. Overall article credibility: %d/100.",
		a.ClaimsTotal, a.ClaimsSupported, a.ClaimsContradicted, a.ClaimsUncertain, a.CredibilityScore)
}

const queryAnswerPrompt = `You answer a reader's question about an article using
only the fact-check results provided. If the results do not answer the
question, say so plainly. 2-4 sentences, plain prose.`

// AnswerQuery answers the user's optional question from the judged claims.
// It runs after judging and never influences any verdict. Empty string on
// failure; the caller treats the answer as optional.
func (j *Judge) AnswerQuery(ctx context.Context, query string, judged []model.JudgedClaim, assessment model.OverallAssessment) string {
	if strings.TrimSpace(query) == "" {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\n%s\n\nPer-claim verdicts:\n", query, templatedSummary(assessment))
	for _, jc := range judged {
		fmt.Fprintf(&sb, "- [%s, %d%%] %s — %s\n", jc.Judgment.Verdict, jc.Judgment.Confidence, jc.Claim.Text, jc.Judgment.Rationale)
	}

	out, err := j.completer.Complete(ctx, llm.Request{
		System:      queryAnswerPrompt,
		User:        sb.String(),
		Temperature: 0.3,
		MaxTokens:   400,
	})
	if err != nil {
		j.logger.Warn("judge: query answer failed", "error", err)
		return ""
	}
	return strings.TrimSpace(out)
}
