// Package classify tags articles with a domain and jurisdiction, and detects
// temporal sensitivity in claim text.
//
// The article classifier runs once per job; its output drives adapter
// routing in the retrieval stage. On any failure it degrades to
// General/Global with zero confidence rather than failing the pipeline.
package classify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veridex-ai/veridex/internal/llm"
	"github.com/veridex-ai/veridex/internal/model"
)

const classifierSystemPrompt = `You classify news articles for a fact-checking system.
Given a title, URL, and the opening of an article, identify:
- primary_domain: exactly one of Finance, Health, Science, Climate, Sports, Law, Politics, Government, History, Weather, Animals, Entertainment, Demographics, General
- secondary_domains: zero or more additional domains from the same list, most relevant first
- jurisdiction: one of US, UK, EU, Global
- confidence: 0.0-1.0

Respond with a JSON object: {"primary_domain": ..., "secondary_domains": [...], "jurisdiction": ..., "confidence": ...}`

// maxExcerptChars bounds how much article text the classifier sees.
const maxExcerptChars = 2000

// Classifier produces one ArticleClassification per job.
type Classifier struct {
	completer llm.ChatCompleter
	logger    *slog.Logger
}

// NewClassifier creates an article classifier.
func NewClassifier(completer llm.ChatCompleter, logger *slog.Logger) *Classifier {
	return &Classifier{completer: completer, logger: logger}
}

type classifierResponse struct {
	PrimaryDomain    string   `json:"primary_domain"`
	SecondaryDomains []string `json:"secondary_domains"`
	Jurisdiction     string   `json:"jurisdiction"`
	Confidence       float64  `json:"confidence"`
}

// Classify tags the article. Never returns an error: any failure degrades
// to the heuristic fallback classification.
func (c *Classifier) Classify(ctx context.Context, article model.IngestResult) model.ArticleClassification {
	excerpt := article.Body
	if len(excerpt) > maxExcerptChars {
		excerpt = excerpt[:maxExcerptChars]
	}

	user := fmt.Sprintf("Title: %s\nURL: %s\n\nArticle opening:\n%s", article.Title, article.URL, excerpt)
	raw, err := c.completer.Complete(ctx, llm.Request{
		System:      classifierSystemPrompt,
		User:        user,
		Temperature: 0.1,
		MaxTokens:   300,
		ForceJSON:   true,
	})
	if err != nil {
		c.logger.Warn("classify: llm call failed, using fallback", "error", err)
		return model.FallbackClassification()
	}

	var resp classifierResponse
	if err := llm.DecodeStrict(raw, &resp); err != nil {
		c.logger.Warn("classify: unparseable response, using fallback", "error", err)
		return model.FallbackClassification()
	}

	primary := model.Domain(resp.PrimaryDomain)
	if !model.ValidDomain(primary) {
		c.logger.Warn("classify: unknown primary domain, using fallback", "domain", resp.PrimaryDomain)
		return model.FallbackClassification()
	}

	jurisdiction := model.Jurisdiction(resp.Jurisdiction)
	if !model.ValidJurisdiction(jurisdiction) {
		jurisdiction = model.JurisdictionGlobal
	}

	// Keep only valid, non-duplicate secondaries, preserving order.
	var secondaries []model.Domain
	seen := map[model.Domain]bool{primary: true}
	for _, s := range resp.SecondaryDomains {
		d := model.Domain(s)
		if model.ValidDomain(d) && !seen[d] {
			secondaries = append(secondaries, d)
			seen[d] = true
		}
	}

	confidence := resp.Confidence
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	return model.ArticleClassification{
		PrimaryDomain:    primary,
		SecondaryDomains: secondaries,
		Jurisdiction:     jurisdiction,
		Confidence:       confidence,
		Source:           model.ClassificationLLM,
	}
}
