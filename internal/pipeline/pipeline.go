// Package pipeline orchestrates a check job through the five stages:
// ingest, extract (with classification), retrieve, verify, judge. Each stage
// runs under its own deadline; stage failures either reschedule the job
// (transient) or fail it with a refund (permanent).
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/veridex-ai/veridex/internal/extract"
	"github.com/veridex-ai/veridex/internal/ingest"
	"github.com/veridex-ai/veridex/internal/model"
	"github.com/veridex-ai/veridex/internal/retrieve"
	"github.com/veridex-ai/veridex/internal/verify"
)

const (
	judgePerClaimTimeout = 15 * time.Second
	judgeMaxTimeout      = 120 * time.Second
	excerptBytes         = 5 * 1024

	// refundSuffix is appended to every user-facing failure message because
	// FailJob returns the charged credits in the same transaction.
	refundSuffix = " Your credit has been returned."
)

// Ingester fetches and sanitizes the submitted content.
type Ingester interface {
	Ingest(ctx context.Context, input model.InputData) (model.IngestResult, error)
}

// Classifier categorizes the article; it degrades instead of erroring.
type Classifier interface {
	Classify(ctx context.Context, article model.IngestResult) model.ArticleClassification
}

// Extractor produces checkable claims from the article body.
type Extractor interface {
	Extract(ctx context.Context, article model.IngestResult, classification model.ArticleClassification) ([]model.Claim, error)
}

// Retriever gathers evidence for every claim. excludeURL is the checked
// article's own URL, which never counts as evidence for its own claims.
type Retriever interface {
	Retrieve(ctx context.Context, claims []model.Claim, classification model.ArticleClassification, excludeURL string) (retrieve.Result, error)
}

// Verifier scores claims against their evidence.
type Verifier interface {
	Verify(ctx context.Context, claims []model.Claim, evidence map[int][]model.EvidenceSnippet) (map[int]verify.Verification, error)
}

// Judger renders verdicts and the overall assessment.
type Judger interface {
	JudgeAll(ctx context.Context, claims []model.Claim, evidence map[int][]model.EvidenceSnippet, signals map[int]model.VerificationSignals) (map[int]model.JudgmentResult, error)
	Assess(ctx context.Context, judged []model.JudgedClaim) model.OverallAssessment
	AnswerQuery(ctx context.Context, query string, judged []model.JudgedClaim, assessment model.OverallAssessment) string
}

// Store is the slice of the storage layer the orchestrator drives.
type Store interface {
	CompleteJob(ctx context.Context, id uuid.UUID, result model.CheckResult) error
	FailJob(ctx context.Context, id uuid.UUID, message string) error
	RescheduleJob(ctx context.Context, id uuid.UUID, delay time.Duration) error
	JobAttempts(ctx context.Context, id uuid.UUID) (int, error)
}

// Config carries the orchestrator's timeout and retry policy.
type Config struct {
	IngestTimeout       time.Duration
	VerificationTimeout time.Duration // Per claim; multiplied by claim count.
	JobRetryDelay       time.Duration
	JobMaxRetries       int
}

func (c *Config) normalize() {
	if c.IngestTimeout <= 0 {
		c.IngestTimeout = 20 * time.Second
	}
	if c.VerificationTimeout <= 0 {
		c.VerificationTimeout = 30 * time.Second
	}
	if c.JobRetryDelay <= 0 {
		c.JobRetryDelay = time.Minute
	}
	if c.JobMaxRetries < 0 {
		c.JobMaxRetries = 0
	}
}

// Pipeline wires the stages together and owns job completion bookkeeping.
type Pipeline struct {
	ingester   Ingester
	classifier Classifier
	extractor  Extractor
	retriever  Retriever
	verifier   Verifier
	judge      Judger
	store      Store
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

func New(ingester Ingester, classifier Classifier, extractor Extractor, retriever Retriever, verifier Verifier, judge Judger, store Store, cfg Config, logger *slog.Logger) *Pipeline {
	cfg.normalize()
	return &Pipeline{
		ingester:   ingester,
		classifier: classifier,
		extractor:  extractor,
		retriever:  retriever,
		verifier:   verifier,
		judge:      judge,
		store:      store,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Process runs one claimed job end to end and records the outcome. Stage
// failures are fully handled here (reschedule or fail with refund); the
// returned error covers only bookkeeping that itself failed.
func (p *Pipeline) Process(ctx context.Context, job model.CheckJob) error {
	start := p.now()
	result, serr := p.run(ctx, job)
	if serr != nil {
		return p.handleFailure(ctx, job, serr)
	}

	result.ProcessingTimeMS = p.now().Sub(start).Milliseconds()
	if err := p.store.CompleteJob(ctx, job.ID, result); err != nil {
		return p.handleFailure(ctx, job, stageErr(StagePersist, err, true,
			"An internal error prevented saving the result."))
	}

	p.logger.Info("job completed",
		"job_id", job.ID,
		"claims", len(result.Claims),
		"credibility_score", result.Assessment.CredibilityScore,
		"duration_ms", result.ProcessingTimeMS)
	return nil
}

func (p *Pipeline) run(ctx context.Context, job model.CheckJob) (model.CheckResult, *StageError) {
	ictx, cancel := context.WithTimeout(ctx, p.cfg.IngestTimeout)
	article, err := p.ingester.Ingest(ictx, job.Input)
	cancel()
	if err != nil {
		kind := ingest.KindOf(err)
		return model.CheckResult{}, stageErr(StageIngest, err, ingestTransient(kind), ingestMessage(kind))
	}

	classification := p.classifier.Classify(ctx, article)

	claims, err := p.extractor.Extract(ctx, article, classification)
	if err != nil {
		return model.CheckResult{}, stageErr(StageExtract, err, extractTransient(err), extractMessage(err))
	}

	result := model.CheckResult{
		JobID:          job.ID,
		Classification: classification,
		ArticleExcerpt: excerpt(article.Body),
	}

	claimBudget := p.cfg.VerificationTimeout * time.Duration(len(claims))

	rctx, cancel := context.WithTimeout(ctx, claimBudget)
	retrieved, err := p.retriever.Retrieve(rctx, claims, classification, article.URL)
	cancel()
	if err != nil {
		return model.CheckResult{}, stageErr(StageRetrieve, err, true,
			"Evidence retrieval did not finish in time.")
	}

	vctx, cancel := context.WithTimeout(ctx, claimBudget)
	verifications, err := p.verifier.Verify(vctx, claims, retrieved.Evidence)
	cancel()
	if err != nil {
		return model.CheckResult{}, stageErr(StageVerify, err, isDeadline(err),
			"Claim verification did not finish in time.")
	}

	signals := make(map[int]model.VerificationSignals, len(verifications))
	for i, v := range verifications {
		signals[i] = v.Signals
	}

	jctx, cancel := context.WithTimeout(ctx, judgeBudget(len(claims)))
	judgments, err := p.judge.JudgeAll(jctx, claims, retrieved.Evidence, signals)
	cancel()
	if err != nil {
		return model.CheckResult{}, stageErr(StageJudge, err, isDeadline(err),
			"Verdict rendering did not finish in time.")
	}

	judged := make([]model.JudgedClaim, len(claims))
	for i, c := range claims {
		v := verifications[i]
		judged[i] = model.JudgedClaim{
			Claim:    c,
			Evidence: retrieved.Evidence[i],
			NLI:      v.Results,
			Signals:  v.Signals,
			Judgment: judgments[i],
		}
	}

	result.Claims = judged
	result.RawEvidence = retrieved.Raw
	result.APIUsage = retrieved.Usage
	result.Assessment = p.judge.Assess(ctx, judged)

	// The optional user query is answered from the finished verdicts only.
	if q := strings.TrimSpace(job.Input.UserQuery); q != "" {
		if answer := p.judge.AnswerQuery(ctx, q, judged, result.Assessment); answer != "" {
			result.QueryResponse = &answer
		}
	}

	return result, nil
}

func (p *Pipeline) handleFailure(ctx context.Context, job model.CheckJob, serr *StageError) error {
	p.logger.Warn("job stage failed",
		"job_id", job.ID,
		"stage", serr.Stage,
		"transient", serr.Transient,
		"error", serr.Err)

	if serr.Transient {
		attempts, err := p.store.JobAttempts(ctx, job.ID)
		if err == nil && attempts <= p.cfg.JobMaxRetries {
			if err := p.store.RescheduleJob(ctx, job.ID, p.cfg.JobRetryDelay); err == nil {
				p.logger.Info("job rescheduled",
					"job_id", job.ID, "attempt", attempts, "delay", p.cfg.JobRetryDelay)
				return nil
			}
			p.logger.Error("reschedule failed, failing job", "job_id", job.ID, "error", err)
		}
	}

	if err := p.store.FailJob(ctx, job.ID, serr.UserMessage+refundSuffix); err != nil {
		return errors.Join(serr, err)
	}
	return nil
}

func judgeBudget(claimCount int) time.Duration {
	budget := judgePerClaimTimeout * time.Duration(claimCount)
	if budget > judgeMaxTimeout {
		return judgeMaxTimeout
	}
	return budget
}

func ingestTransient(kind ingest.ErrorKind) bool {
	switch kind {
	case ingest.KindFetchFailed, ingest.KindRateLimited, ingest.KindTimeout:
		return true
	}
	return false
}

func ingestMessage(kind ingest.ErrorKind) string {
	switch kind {
	case ingest.KindPaywall:
		return "The article appears to be paywalled and could not be read."
	case ingest.KindBlocked:
		return "The site blocked automated access to the article."
	case ingest.KindRateLimited:
		return "The source temporarily rate-limited our requests."
	case ingest.KindTimeout:
		return "Fetching the article timed out."
	case ingest.KindTooShort:
		return "The content is too short to contain checkable claims."
	default:
		return "We could not fetch the article."
	}
}

// extractTransient: content that yields no claims today yields no claims
// tomorrow, so those failures are terminal; only deadline errors retry.
func extractTransient(err error) bool {
	if errors.Is(err, extract.ErrNoContent) || errors.Is(err, extract.ErrNoClaims) {
		return false
	}
	return isDeadline(err)
}

func extractMessage(err error) string {
	switch {
	case errors.Is(err, extract.ErrNoContent):
		return "The submission contained no readable content to check."
	case errors.Is(err, extract.ErrNoClaims):
		return "We could not find any checkable factual claims in the content."
	default:
		return "We could not extract checkable claims from the content."
	}
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// excerpt keeps the first 5 KB of the article body for the stored result,
// cut back to a rune boundary so a multi-byte character is never split.
func excerpt(body string) string {
	if len(body) <= excerptBytes {
		return body
	}
	cut := excerptBytes
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return strings.TrimSpace(body[:cut]) + "..."
}
