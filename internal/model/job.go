// Package model defines the core data model for the verification pipeline.
// The model is a tree rooted at CheckJob: one job owns one article
// classification, one overall assessment, a list of claims, and the raw
// evidence audit trail.
package model

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a CheckJob. Progression is monotonic
// (pending → processing → completed|failed); completed and failed are terminal.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// InputKind is the shape of user-submitted content.
type InputKind string

const (
	InputText InputKind = "text"
	InputURL  InputKind = "url"
)

// InputData describes what the user submitted for checking.
type InputData struct {
	Kind    InputKind `json:"input_type"`
	Content string    `json:"content,omitempty"`
	URL     string    `json:"url,omitempty"`
	// UserQuery, when present, triggers the query-answer stage after judging.
	// It never participates in the verdict path.
	UserQuery string `json:"user_query,omitempty"`
}

// CheckJob is a single fact-check request owned by a user.
type CheckJob struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	Input  InputData `json:"input_data"`
	Status JobStatus `json:"status"`

	// CreditsUsed is the number of credits charged for this job. On
	// transition to failed it is zeroed and the same amount is returned to
	// the user's balance, exactly once.
	CreditsUsed int `json:"credits_used"`

	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// IngestResult is the sanitized article body plus extraction metadata.
type IngestResult struct {
	Body             string  `json:"body"`
	Title            string  `json:"title"`
	Author           string  `json:"author,omitempty"`
	PublishedDate    *string `json:"published_date,omitempty"`
	URL              string  `json:"url,omitempty"`
	WordCount        int     `json:"word_count"`
	ExtractionMethod string  `json:"extraction_method"`
}

// APIUsage aggregates which external sources contributed to a finished job.
type APIUsage struct {
	// SourcesUsed lists every adapter or search provider that returned at
	// least one hit, in first-seen order.
	SourcesUsed []string `json:"api_sources_used"`
	// CallCount is the total number of external queries issued.
	CallCount int `json:"api_call_count"`
	// CoveragePercent is the share of queried sources that produced hits.
	CoveragePercent float64 `json:"api_coverage_percentage"`
}

// JudgedClaim pairs a claim with everything the pipeline derived for it.
type JudgedClaim struct {
	Claim    Claim               `json:"claim"`
	Evidence []EvidenceSnippet   `json:"evidence"`
	NLI      []NLIResult         `json:"nli_results,omitempty"`
	Signals  VerificationSignals `json:"signals"`
	Judgment JudgmentResult      `json:"judgment"`
}

// CheckResult is the full assembly persisted when a job completes.
type CheckResult struct {
	JobID            uuid.UUID             `json:"job_id"`
	Classification   ArticleClassification `json:"classification"`
	Claims           []JudgedClaim         `json:"claims"`
	RawEvidence      []RawEvidence         `json:"raw_evidence"`
	Assessment       OverallAssessment     `json:"assessment"`
	APIUsage         APIUsage              `json:"api_usage"`
	ArticleExcerpt   string                `json:"article_excerpt"`
	QueryResponse    *string               `json:"query_response,omitempty"`
	ProcessingTimeMS int64                 `json:"processing_time_ms"`
}
