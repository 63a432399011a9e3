package model

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

// SourceTier buckets evidence publishers by institutional authority.
type SourceTier string

const (
	TierAcademic   SourceTier = "academic"
	TierScientific SourceTier = "scientific"
	TierGovernment SourceTier = "government"
	TierNewsTier1  SourceTier = "news_tier1"
	TierNewsTier2  SourceTier = "news_tier2"
	TierGeneral    SourceTier = "general"
	TierFactCheck  SourceTier = "factcheck"
	TierBlog       SourceTier = "blog"
)

// ExtractionStatus records how an evidence snippet's text was obtained when
// full-page extraction did not succeed normally.
const (
	ExtractionOK              = "ok"
	ExtractionFallbackBlocked = "fallback_blocked"
	ExtractionFallbackTimeout = "fallback_timeout"
)

// EvidenceSnippet is one candidate piece of evidence for a claim.
//
// CredibilityScore is always computed by the ranking pipeline from source
// tier, URL, and primary-source signals; a value reported by an adapter is a
// default, never trusted as final.
type EvidenceSnippet struct {
	ID            uuid.UUID `json:"id"`
	Text          string    `json:"text"`
	Source        string    `json:"source"`
	URL           string    `json:"url"`
	Title         string    `json:"title,omitempty"`
	PublishedDate *string   `json:"published_date,omitempty"`

	RelevanceScore   float64 `json:"relevance_score"`
	CredibilityScore float64 `json:"credibility_score"`

	// Scores derived during ranking.
	SemanticSimilarity float64 `json:"semantic_similarity,omitempty"`
	CrossEncoderScore  float64 `json:"cross_encoder_score,omitempty"`
	FinalScore         float64 `json:"final_score,omitempty"`

	// Provenance.
	Provider    string     `json:"external_source_provider"`
	IsFactCheck bool       `json:"is_factcheck,omitempty"`
	Tier        SourceTier `json:"tier,omitempty"`

	// Snippet-fallback bookkeeping for blocked or timed-out page fetches.
	IsSnippetFallback bool   `json:"is_snippet_fallback,omitempty"`
	ExtractionStatus  string `json:"extraction_status,omitempty"`

	// AutoExclude marks sources that are never usable as evidence
	// (social media, satire, known low-quality).
	AutoExclude bool `json:"auto_exclude,omitempty"`

	// Source-diversity annotations.
	IndependenceGroup string  `json:"independence_group,omitempty"`
	DiversityScore    float64 `json:"diversity_score,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// ValidateURL checks the snippet URL is a well-formed http(s) URL.
func (e EvidenceSnippet) ValidateURL() error {
	u, err := url.Parse(e.URL)
	if err != nil {
		return fmt.Errorf("model: evidence url %q: %w", e.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("model: evidence url %q: scheme must be http or https", e.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("model: evidence url %q: missing host", e.URL)
	}
	return nil
}

// RawEvidence is the audit record for every source inspected during
// retrieval, preserved verbatim whether or not it survived filtering.
type RawEvidence struct {
	EvidenceSnippet

	ClaimPosition int  `json:"claim_position"`
	IsIncluded    bool `json:"is_included"`
	// FilterStage names the first filter that dropped the snippet; nil when
	// the snippet was included.
	FilterStage  *string `json:"filter_stage,omitempty"`
	FilterReason *string `json:"filter_reason,omitempty"`
}

// SearchResult is the provider-neutral shape of one web search hit, before
// page fetch and content extraction.
type SearchResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Snippet       string  `json:"snippet"`
	Source        string  `json:"source"`
	PublishedDate *string `json:"published_date,omitempty"`
}

// PlannedQuery is the query planner's per-claim output.
type PlannedQuery struct {
	ClaimType       string   `json:"claim_type"`
	PrioritySources []string `json:"priority_sources,omitempty"`
	Queries         []string `json:"queries"`
	// SiteFilter is an optional domain restriction appended to each query,
	// e.g. "site:bls.gov OR site:census.gov".
	SiteFilter string `json:"site_filter,omitempty"`
	// Freshness is the provider freshness code resolved from ClaimType
	// ("pd", "pw", "pm", "py", or empty for unbounded).
	Freshness  string `json:"freshness,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}
