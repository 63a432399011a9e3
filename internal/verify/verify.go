package verify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/veridex-ai/veridex/internal/cache"
	"github.com/veridex-ai/veridex/internal/model"
)

// Thresholds for the provisional verdict and quality buckets.
const (
	// strongSignal is the probability above which a single pair counts as
	// decisive evidence for its direction.
	strongSignal = 0.7
	// highConfidencePair marks a pair as high-quality evidence.
	highConfidencePair = 0.8
	// maxProvisionalConfidence caps the stage's own confidence; certainty
	// above this belongs to the judge, not the scorer.
	maxProvisionalConfidence = 0.95

	pairCacheTTL = 24 * time.Hour
)

// Config tunes the verification stage.
type Config struct {
	ClaimConcurrency int
	BatchSize        int
}

func (c *Config) normalize() {
	if c.ClaimConcurrency <= 0 {
		c.ClaimConcurrency = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 8
	}
}

// Verification is the stage output for one claim.
type Verification struct {
	Results []model.NLIResult         `json:"nli_results"`
	Signals model.VerificationSignals `json:"signals"`
}

// Verifier scores each claim against its evidence and aggregates the
// results into verification signals.
type Verifier struct {
	scorer StanceScorer
	cache  cache.Cache
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates the verification stage. cache may be a Noop.
func New(scorer StanceScorer, c cache.Cache, cfg Config, logger *slog.Logger) *Verifier {
	cfg.normalize()
	if c == nil {
		c = cache.Noop{}
	}
	return &Verifier{scorer: scorer, cache: c, cfg: cfg, logger: logger, now: time.Now}
}

// Verify scores all claims concurrently. Scorer failures degrade affected
// pairs to uniform neutral rather than failing the stage; the error return
// is reserved for context cancellation.
func (v *Verifier) Verify(ctx context.Context, claims []model.Claim, evidence map[int][]model.EvidenceSnippet) (map[int]Verification, error) {
	out := make([]Verification, len(claims))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.ClaimConcurrency)
	for i, claim := range claims {
		g.Go(func() error {
			out[i] = v.verifyClaim(gctx, claim, evidence[claim.Position])
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make(map[int]Verification, len(claims))
	for i, claim := range claims {
		result[claim.Position] = out[i]
	}
	return result, nil
}

func (v *Verifier) verifyClaim(ctx context.Context, claim model.Claim, snippets []model.EvidenceSnippet) Verification {
	probs := v.scorePairs(ctx, claim, snippets)

	results := make([]model.NLIResult, len(snippets))
	for i, s := range snippets {
		results[i] = toResult(s.ID, probs[i])
	}

	return Verification{
		Results: results,
		Signals: v.aggregate(claim, snippets, results),
	}
}

// scorePairs resolves each pair from the cache first, then scores the
// remainder in batches. A failed batch degrades to uniform neutral.
func (v *Verifier) scorePairs(ctx context.Context, claim model.Claim, snippets []model.EvidenceSnippet) []Probs {
	probs := make([]Probs, len(snippets))
	var missing []int

	keys := make([]string, len(snippets))
	for i, s := range snippets {
		keys[i] = cache.Key(claim.Text + "|||" + s.Text)
		var cached Probs
		if cache.GetJSON(ctx, v.cache, cache.NamespaceNLIVerification, keys[i], &cached) {
			probs[i] = cached
			continue
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += v.cfg.BatchSize {
		end := start + v.cfg.BatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		texts := make([]string, len(batch))
		for j, idx := range batch {
			texts[j] = snippets[idx].Text
		}

		scored, err := v.scorer.Score(ctx, claim.Text, texts)
		if err != nil || len(scored) != len(batch) {
			v.logger.Warn("verify: stance batch failed, scoring pairs as neutral",
				"claim_position", claim.Position, "pairs", len(batch), "scorer", v.scorer.Name(), "error", err)
			for _, idx := range batch {
				probs[idx] = uniformProbs()
			}
			continue
		}

		for j, idx := range batch {
			probs[idx] = scored[j]
			cache.SetJSON(ctx, v.cache, cache.NamespaceNLIVerification, keys[idx], scored[j], pairCacheTTL)
		}
	}
	return probs
}

// toResult converts a probability triple into an NLIResult with the argmax
// relationship. Ties resolve toward neutral.
func toResult(id uuid.UUID, p Probs) model.NLIResult {
	r := model.NLIResult{
		EvidenceID:    id,
		Entailment:    p.Entailment,
		Contradiction: p.Contradiction,
		Neutral:       p.Neutral,
		Relationship:  model.RelNeutral,
		Confidence:    p.Neutral,
	}
	if p.Entailment > r.Confidence {
		r.Relationship = model.RelEntails
		r.Confidence = p.Entailment
	}
	if p.Contradiction > r.Confidence {
		r.Relationship = model.RelContradicts
		r.Confidence = p.Contradiction
	}
	return r
}

// aggregate folds per-pair results into the claim's verification signals.
func (v *Verifier) aggregate(claim model.Claim, snippets []model.EvidenceSnippet, results []model.NLIResult) model.VerificationSignals {
	signals := model.VerificationSignals{
		Stances: make(map[uuid.UUID]model.Stance, len(results)),
	}

	if len(results) == 0 {
		signals.EvidenceQuality = model.QualityLow
		signals.OverallVerdict = model.VerdictUncertain
		signals.Confidence = 0.0
		return signals
	}

	var confSum float64
	var highConf int
	for _, r := range results {
		stance := model.StanceOf(r.Relationship)
		signals.Stances[r.EvidenceID] = stance
		switch stance {
		case model.StanceSupporting:
			signals.SupportingCount++
		case model.StanceContradicting:
			signals.ContradictingCount++
		default:
			signals.NeutralCount++
		}
		if r.Entailment > signals.MaxEntailment {
			signals.MaxEntailment = r.Entailment
		}
		if r.Contradiction > signals.MaxContradiction {
			signals.MaxContradiction = r.Contradiction
		}
		confSum += r.Confidence
		if r.Confidence > highConfidencePair {
			highConf++
		}
	}
	signals.AvgConfidence = confSum / float64(len(results))

	switch {
	case highConf >= 2:
		signals.EvidenceQuality = model.QualityHigh
	case highConf >= 1:
		signals.EvidenceQuality = model.QualityMedium
	default:
		signals.EvidenceQuality = model.QualityLow
	}

	total := float64(len(results))
	switch {
	case signals.MaxEntailment > strongSignal && signals.SupportingCount > signals.ContradictingCount:
		signals.OverallVerdict = model.VerdictSupported
		signals.Confidence = capConfidence(signals.MaxEntailment * float64(signals.SupportingCount) / total)
	case signals.MaxContradiction > strongSignal && signals.ContradictingCount > signals.SupportingCount:
		signals.OverallVerdict = model.VerdictContradicted
		signals.Confidence = capConfidence(signals.MaxContradiction * float64(signals.ContradictingCount) / total)
	default:
		signals.OverallVerdict = model.VerdictUncertain
		signals.Confidence = capConfidence(signals.AvgConfidence / 2)
	}

	if v.isOutdated(claim, snippets) {
		signals.TemporalFlag = model.TemporalFlagOutdated
	}
	return signals
}

func capConfidence(c float64) float64 {
	if c > maxProvisionalConfidence {
		return maxProvisionalConfidence
	}
	return c
}

// isOutdated reports whether a time-sensitive claim is supported only by
// evidence older than its window. Undated evidence does not count either way.
func (v *Verifier) isOutdated(claim model.Claim, snippets []model.EvidenceSnippet) bool {
	if !claim.TimeSensitive() || claim.Temporal.MaxEvidenceAgeDays <= 0 {
		return false
	}
	cutoff := v.now().AddDate(0, 0, -claim.Temporal.MaxEvidenceAgeDays)

	dated := 0
	for _, s := range snippets {
		if s.PublishedDate == nil {
			continue
		}
		published, ok := parseDate(*s.PublishedDate)
		if !ok {
			continue
		}
		dated++
		if !published.Before(cutoff) {
			return false
		}
	}
	return dated > 0
}

var dateFormats = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", "2006-01", "2006"}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
