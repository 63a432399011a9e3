package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/veridex-ai/veridex/internal/embedding"
	"github.com/veridex-ai/veridex/internal/llm"
	"github.com/veridex-ai/veridex/internal/model"
)

// ranker scores evidence candidates against a claim: bi-encoder semantic
// similarity blended with provider relevance, scaled by source credibility
// and recency. A cross-encoder rescoring pass is optional and LLM-backed.
type ranker struct {
	embedder     embedding.Provider
	crossEncoder llm.ChatCompleter
	logger       *slog.Logger
	now          func() time.Time
}

func newRanker(embedder embedding.Provider, crossEncoder llm.ChatCompleter, logger *slog.Logger) *ranker {
	return &ranker{embedder: embedder, crossEncoder: crossEncoder, logger: logger, now: time.Now}
}

// score computes per-snippet scores in place. Embedding failures degrade to
// provider relevance alone; ranking never drops evidence by itself.
func (r *ranker) score(ctx context.Context, claim model.Claim, snippets []model.EvidenceSnippet) {
	sims := r.similarities(ctx, claim.Text, snippets)
	maxAge := maxAgeDays(claim)

	for i := range snippets {
		s := &snippets[i]

		// Source profile always wins over adapter-reported defaults.
		profile := profileFor(s.URL)
		s.CredibilityScore = profile.credibility
		if s.Tier == "" || s.Tier == model.TierGeneral {
			s.Tier = profile.tier
		}
		if profile.group != "" {
			s.IndependenceGroup = profile.group
		} else {
			s.IndependenceGroup = registrableDomain(s.URL)
		}

		combined := s.RelevanceScore
		if sims != nil {
			s.SemanticSimilarity = sims[i]
			combined = (s.RelevanceScore + sims[i]) / 2
		}

		recency := recencyFactor(s.PublishedDate, maxAge, r.now())
		s.FinalScore = combined * s.CredibilityScore * recency
	}
}

// similarities embeds the claim and snippets in one batch and returns cosine
// similarities, or nil when embeddings are unavailable.
func (r *ranker) similarities(ctx context.Context, claimText string, snippets []model.EvidenceSnippet) []float64 {
	if r.embedder == nil || len(snippets) == 0 {
		return nil
	}

	texts := make([]string, 0, len(snippets)+1)
	texts = append(texts, claimText)
	for _, s := range snippets {
		texts = append(texts, s.Text)
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil || len(vectors) != len(texts) {
		r.logger.Warn("retrieve: embedding failed, ranking on relevance only", "error", err)
		return nil
	}

	claimVec := vectors[0]
	sims := make([]float64, len(snippets))
	for i := range snippets {
		sims[i] = cosine(claimVec, vectors[i+1])
	}
	return sims
}

const crossEncoderPrompt = `You rate how relevant an evidence passage is for verifying a claim.
Score each passage 0.0-1.0: 1.0 directly confirms or refutes the claim, 0.0 is unrelated.
Respond with a JSON object: {"scores": [0.0, ...]} in passage order.`

// rescore runs the optional cross-encoder pass over already-scored
// snippets, blending an LLM relevance judgment into the final score.
// Failures leave the bi-encoder scores untouched.
func (r *ranker) rescore(ctx context.Context, claim model.Claim, snippets []model.EvidenceSnippet) {
	if r.crossEncoder == nil || len(snippets) == 0 {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Claim: %s\n\nPassages:\n", claim.Text)
	for i, s := range snippets {
		fmt.Fprintf(&sb, "%d: %s\n", i, truncate(s.Text, 400))
	}

	raw, err := r.crossEncoder.Complete(ctx, llm.Request{
		System:      crossEncoderPrompt,
		User:        sb.String(),
		Temperature: 0,
		MaxTokens:   300,
		ForceJSON:   true,
	})
	if err != nil {
		r.logger.Warn("retrieve: cross-encoder failed, keeping bi-encoder scores", "error", err)
		return
	}

	var resp struct {
		Scores []float64 `json:"scores"`
	}
	if err := llm.DecodeStrict(raw, &resp); err != nil || len(resp.Scores) != len(snippets) {
		r.logger.Warn("retrieve: cross-encoder response unusable", "error", err)
		return
	}

	for i := range snippets {
		score := resp.Scores[i]
		if score < 0 {
			score = 0
		} else if score > 1 {
			score = 1
		}
		snippets[i].CrossEncoderScore = score
		snippets[i].FinalScore = (snippets[i].FinalScore + score*snippets[i].CredibilityScore) / 2
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// cosine returns similarity normalized to [0, 1].
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return (sim + 1) / 2
}
