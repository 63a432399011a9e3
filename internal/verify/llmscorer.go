package verify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/veridex-ai/veridex/internal/llm"
)

const stancePrompt = `You perform natural language inference for fact-checking.
For each evidence passage, estimate the probability that it ENTAILS the claim,
CONTRADICTS the claim, or is NEUTRAL toward it. The three probabilities for a
passage must sum to 1.0.

Respond with a JSON object:
{"results": [{"index": 0, "entailment": 0.0, "contradiction": 0.0, "neutral": 0.0}]}
with one entry per passage, in order.`

// LLMScorer approximates NLI with a chat completion. It is the fallback when
// no inference service is configured; slower and noisier, but it keeps the
// verification stage functional on LLM keys alone.
type LLMScorer struct {
	completer llm.ChatCompleter
	logger    *slog.Logger
}

// NewLLMScorer wraps a chat completer as a stance scorer.
func NewLLMScorer(completer llm.ChatCompleter, logger *slog.Logger) *LLMScorer {
	return &LLMScorer{completer: completer, logger: logger}
}

// Name identifies the scorer in logs and judgment methods.
func (s *LLMScorer) Name() string { return "llm_nli" }

type stanceResponse struct {
	Results []struct {
		Index         int     `json:"index"`
		Entailment    float64 `json:"entailment"`
		Contradiction float64 `json:"contradiction"`
		Neutral       float64 `json:"neutral"`
	} `json:"results"`
}

// Score rates the batch in one completion call.
func (s *LLMScorer) Score(ctx context.Context, claim string, evidence []string) ([]Probs, error) {
	if len(evidence) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Claim: %s\n\nPassages:\n", claim)
	for i, ev := range evidence {
		fmt.Fprintf(&sb, "%d: %s\n\n", i, truncateTokens(ev, maxNLITokens))
	}

	raw, err := s.completer.Complete(ctx, llm.Request{
		System:      stancePrompt,
		User:        sb.String(),
		Temperature: 0,
		MaxTokens:   120 * len(evidence),
		ForceJSON:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("verify: stance completion: %w", err)
	}

	var resp stanceResponse
	if err := llm.DecodeStrict(raw, &resp); err != nil {
		return nil, err
	}

	probs := make([]Probs, len(evidence))
	seen := make([]bool, len(evidence))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(evidence) || seen[r.Index] {
			continue
		}
		probs[r.Index] = normalize(Probs{
			Entailment:    r.Entailment,
			Contradiction: r.Contradiction,
			Neutral:       r.Neutral,
		})
		seen[r.Index] = true
	}
	for i := range seen {
		if !seen[i] {
			return nil, fmt.Errorf("verify: stance response missing passage %d", i)
		}
	}
	return probs, nil
}

// normalize clamps negatives and rescales the triple to sum to 1. A degenerate
// all-zero triple becomes uniform neutral.
func normalize(p Probs) Probs {
	if p.Entailment < 0 {
		p.Entailment = 0
	}
	if p.Contradiction < 0 {
		p.Contradiction = 0
	}
	if p.Neutral < 0 {
		p.Neutral = 0
	}
	sum := p.Entailment + p.Contradiction + p.Neutral
	if sum == 0 {
		return uniformProbs()
	}
	return Probs{
		Entailment:    p.Entailment / sum,
		Contradiction: p.Contradiction / sum,
		Neutral:       p.Neutral / sum,
	}
}

// uniformProbs is the degraded triple for pairs the scorer could not rate.
// Neutral gets the remainder so the argmax is unambiguous.
func uniformProbs() Probs {
	return Probs{Entailment: 0.33, Contradiction: 0.33, Neutral: 0.34}
}
