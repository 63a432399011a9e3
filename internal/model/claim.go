package model

// TemporalWindow buckets how fresh evidence must be for a time-sensitive claim.
type TemporalWindow string

const (
	WindowCurrentDay   TemporalWindow = "current_day"
	WindowCurrentWeek  TemporalWindow = "current_week"
	WindowCurrentMonth TemporalWindow = "current_month"
	WindowCurrentYear  TemporalWindow = "current_year"
	WindowAny          TemporalWindow = "any"
	WindowHistorical   TemporalWindow = "historical"
)

// TemporalAnalysis annotates a claim with detected time sensitivity.
type TemporalAnalysis struct {
	IsTimeSensitive bool           `json:"is_time_sensitive"`
	Window          TemporalWindow `json:"temporal_window"`
	// Markers are the matched temporal phrases ("as of today", "in 2019").
	Markers []string `json:"markers,omitempty"`
	// MaxEvidenceAgeDays bounds evidence age; 0 means unbounded.
	MaxEvidenceAgeDays int `json:"max_evidence_age_days,omitempty"`
}

// ClaimType categorizes a claim for routing and verifiability decisions.
type ClaimType string

const (
	ClaimFactual    ClaimType = "factual"
	ClaimLegal      ClaimType = "legal"
	ClaimOpinion    ClaimType = "opinion"
	ClaimPrediction ClaimType = "prediction"
)

// ClaimClassification annotates a claim with its type and verifiability.
type ClaimClassification struct {
	Type         ClaimType      `json:"claim_type"`
	IsVerifiable bool           `json:"is_verifiable"`
	// Metadata carries type-specific extractions; for legal claims: year,
	// jurisdiction, and citation patterns.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EntityLabel is a named-entity category. Adapters consume labelled entities
// instead of carrying closed-world name lists.
type EntityLabel string

const (
	EntityPerson  EntityLabel = "PERSON"
	EntityOrg     EntityLabel = "ORG"
	EntityGPE     EntityLabel = "GPE"
	EntityLoc     EntityLabel = "LOC"
	EntityDate    EntityLabel = "DATE"
	EntityGeneric EntityLabel = "ENTITY"
)

// Entity is a named entity detected in a claim.
type Entity struct {
	Text  string      `json:"text"`
	Label EntityLabel `json:"label"`
}

// Claim is an atomic, self-contained, verifiable assertion extracted from
// the input content. Claims are immutable after extraction; only Judge
// attaches a verdict, and it does so on JudgedClaim rather than mutating.
//
// Invariants enforced by the extractor's refinement pass: no unresolved
// pronoun tokens, at least one specificity marker (year, digit run, or
// proper noun), and no leading procedural-negative clause.
type Claim struct {
	Text string `json:"text"`
	// Position is the 0-based index in extraction order, renumbered after
	// refinement filtering. All downstream stages key results by Position.
	Position   int     `json:"position"`
	Confidence float64 `json:"confidence"`

	SubjectContext string   `json:"subject_context,omitempty"`
	KeyEntities    []string `json:"key_entities,omitempty"`
	// Entities is the labelled NER view of KeyEntities, used to drive
	// adapter queries.
	Entities []Entity `json:"entities,omitempty"`

	HasSubjectiveLanguage bool   `json:"has_subjective_language,omitempty"`
	ExtractionMethod      string `json:"extraction_method"`

	Temporal       *TemporalAnalysis    `json:"temporal_analysis,omitempty"`
	Classification *ClaimClassification `json:"classification,omitempty"`

	// Article-level context attached by reference to every kept claim.
	Article      *ArticleClassification `json:"-"`
	ArticleTitle string                 `json:"article_title,omitempty"`
	ArticleURL   string                 `json:"article_url,omitempty"`
	ArticleDate  string                 `json:"article_date,omitempty"`
}

// IsLegal reports whether the claim was classified as legal. Legal claims
// override adapter routing to the Law domain.
func (c Claim) IsLegal() bool {
	return c.Classification != nil && c.Classification.Type == ClaimLegal
}

// TimeSensitive reports whether temporal analysis flagged the claim.
func (c Claim) TimeSensitive() bool {
	return c.Temporal != nil && c.Temporal.IsTimeSensitive
}
