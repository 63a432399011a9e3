// Package extract turns a sanitized article into a bounded list of atomic,
// verifiable claims. An LLM does the heavy lifting; a sentence-heuristic
// fallback keeps the pipeline alive when the LLM path is down. Every
// candidate, from either path, goes through the same deterministic
// refinement chain before it is kept.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/veridex-ai/veridex/internal/cache"
	"github.com/veridex-ai/veridex/internal/classify"
	"github.com/veridex-ai/veridex/internal/llm"
	"github.com/veridex-ai/veridex/internal/model"
)

const extractionSystemPrompt = `You extract factual claims from news articles for verification.

A good claim is atomic (one checkable assertion), self-contained (no unresolved
pronouns; name the subject explicitly), and specific (dates, numbers, named
people or organizations). Skip opinions, predictions, and vague statements.

For each claim report:
- text: the claim, rewritten to be self-contained
- confidence: 0.0-1.0, how clearly the article asserts it as fact
- subject_context: one short phrase naming what the claim is about
- key_entities: the named entities the claim depends on

Respond with a JSON object: {"claims": [{"text": ..., "confidence": ..., "subject_context": ..., "key_entities": [...]}]}`

const extractionCacheTTL = 7 * 24 * time.Hour

var (
	// ErrNoContent means the article body was empty after sanitization.
	ErrNoContent = errors.New("extract: no content to analyze")
	// ErrNoClaims means neither the LLM nor the sentence heuristics found a
	// single checkable claim. Retrying the same content will not change that.
	ErrNoClaims = errors.New("extract: no checkable claims found")
)

// rawClaim is a pre-refinement candidate from either extraction path.
type rawClaim struct {
	Text           string   `json:"text"`
	Confidence     float64  `json:"confidence"`
	SubjectContext string   `json:"subject_context,omitempty"`
	KeyEntities    []string `json:"key_entities,omitempty"`
	Method         string   `json:"-"`
}

type extractionResponse struct {
	Claims []rawClaim `json:"claims"`
}

// Options tunes the extractor. Zero values fall back to safe defaults.
type Options struct {
	// MaxClaims caps how many claims survive extraction.
	MaxClaims int
	// MaxContentWords truncates the article body before the LLM sees it.
	MaxContentWords int
	// ClassifyClaims enables per-claim type classification.
	ClassifyClaims bool
	// LegalDefaultJurisdiction applies to legal claims with no jurisdiction cue.
	LegalDefaultJurisdiction string
}

func (o *Options) normalize() {
	if o.MaxClaims <= 0 {
		o.MaxClaims = 12
	}
	if o.MaxContentWords <= 0 {
		o.MaxContentWords = 2500
	}
	if o.LegalDefaultJurisdiction == "" {
		o.LegalDefaultJurisdiction = "US"
	}
}

// Extractor is the claim-extraction stage.
type Extractor struct {
	completer llm.ChatCompleter
	cache     cache.Cache
	logger    *slog.Logger
	opts      Options
}

// New creates an extractor.
func New(completer llm.ChatCompleter, c cache.Cache, logger *slog.Logger, opts Options) *Extractor {
	opts.normalize()
	if c == nil {
		c = cache.Noop{}
	}
	return &Extractor{completer: completer, cache: c, logger: logger, opts: opts}
}

// Extract produces refined, annotated claims from the article. Empty content
// and an article with nothing checkable in it are terminal failures
// (ErrNoContent, ErrNoClaims): the same input will never yield more claims.
func (e *Extractor) Extract(ctx context.Context, article model.IngestResult, classification model.ArticleClassification) ([]model.Claim, error) {
	body := truncateWords(article.Body, e.opts.MaxContentWords)
	if strings.TrimSpace(body) == "" {
		return nil, ErrNoContent
	}

	key := cache.Key(body, e.opts.MaxClaims, e.opts.ClassifyClaims)
	var cached []model.Claim
	if cache.GetJSON(ctx, e.cache, cache.NamespaceClaimExtraction, key, &cached) && len(cached) > 0 {
		e.logger.Debug("extract: cache hit", "claims", len(cached))
		return e.attachArticle(cached, article, classification), nil
	}

	candidates, err := e.llmCandidates(ctx, article.Title, body)
	if err != nil {
		e.logger.Warn("extract: llm path failed, using sentence heuristics", "error", err)
		candidates = fallbackSentences(body, e.opts.MaxClaims*2)
	}
	if len(candidates) == 0 {
		candidates = fallbackSentences(body, e.opts.MaxClaims*2)
	}

	claims := e.refineAll(candidates)
	if len(claims) == 0 {
		return nil, ErrNoClaims
	}
	if len(claims) > e.opts.MaxClaims {
		claims = claims[:e.opts.MaxClaims]
	}

	cache.SetJSON(ctx, e.cache, cache.NamespaceClaimExtraction, key, claims, extractionCacheTTL)
	return e.attachArticle(claims, article, classification), nil
}

func (e *Extractor) llmCandidates(ctx context.Context, title, body string) ([]rawClaim, error) {
	user := fmt.Sprintf("Title: %s\n\nArticle:\n%s\n\nExtract at most %d claims.", title, body, e.opts.MaxClaims)
	raw, err := e.completer.Complete(ctx, llm.Request{
		System:      extractionSystemPrompt,
		User:        user,
		Temperature: 0.2,
		MaxTokens:   2000,
		ForceJSON:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("extract: completion: %w", err)
	}

	var resp extractionResponse
	if err := llm.DecodeStrict(raw, &resp); err != nil {
		return nil, fmt.Errorf("extract: decode response: %w", err)
	}
	for i := range resp.Claims {
		resp.Claims[i].Method = "llm"
	}
	return resp.Claims, nil
}

// refineAll runs the refinement chain over every candidate, annotates the
// survivors, and renumbers positions contiguously from zero.
func (e *Extractor) refineAll(candidates []rawClaim) []model.Claim {
	claims := make([]model.Claim, 0, len(candidates))
	for _, cand := range candidates {
		res := Refine(cand.Text, cand.Confidence, false)
		if !res.Kept {
			e.logger.Debug("extract: claim dropped", "reason", res.DropReason, "text", cand.Text)
			continue
		}

		claim := model.Claim{
			Text:                  res.Text,
			Position:              len(claims),
			Confidence:            res.Confidence,
			SubjectContext:        cand.SubjectContext,
			KeyEntities:           cand.KeyEntities,
			Entities:              LabelEntities(cand.KeyEntities),
			HasSubjectiveLanguage: res.Subjective,
			ExtractionMethod:      cand.Method,
		}

		temporal := classify.AnalyzeTemporal(res.Text)
		claim.Temporal = &temporal

		if e.opts.ClassifyClaims {
			cc := ClassifyClaim(res.Text, e.opts.LegalDefaultJurisdiction)
			claim.Classification = &cc
		}

		claims = append(claims, claim)
	}
	return claims
}

// attachArticle copies article-level context onto each claim. Done after the
// cache read so cached claims pick up the live classification pointer.
func (e *Extractor) attachArticle(claims []model.Claim, article model.IngestResult, classification model.ArticleClassification) []model.Claim {
	date := ""
	if article.PublishedDate != nil {
		date = *article.PublishedDate
	}
	for i := range claims {
		claims[i].Article = &classification
		claims[i].ArticleTitle = article.Title
		claims[i].ArticleURL = article.URL
		claims[i].ArticleDate = date
	}
	return claims
}

func truncateWords(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ")
}
