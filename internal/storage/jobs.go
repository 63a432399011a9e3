package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/veridex-ai/veridex/internal/model"
)

// Multi-statement job transactions retry on serialization failures and
// deadlocks; concurrent workers touching the same user row make both real.
const (
	txMaxRetries     = 3
	txRetryBaseDelay = 25 * time.Millisecond
)

// validTransition enforces the monotonic job lifecycle. The only backwards
// move is processing → pending, used to reschedule a job after a transient
// failure.
func validTransition(from, to model.JobStatus) bool {
	switch from {
	case model.JobPending:
		return to == model.JobProcessing
	case model.JobProcessing:
		return to == model.JobCompleted || to == model.JobFailed || to == model.JobPending
	}
	// Terminal states admit nothing.
	return false
}

// CreateJob charges the user and enqueues a check job in one transaction,
// then notifies workers. The charge and the enqueue succeed or fail together.
func (db *DB) CreateJob(ctx context.Context, userID uuid.UUID, input model.InputData, cost int) (model.CheckJob, error) {
	job := model.CheckJob{
		ID:          uuid.New(),
		UserID:      userID,
		Input:       input,
		Status:      model.JobPending,
		CreditsUsed: cost,
		CreatedAt:   time.Now().UTC(),
	}

	if err := WithRetry(ctx, txMaxRetries, txRetryBaseDelay, func() error {
		return db.createJobTx(ctx, job, cost)
	}); err != nil {
		return model.CheckJob{}, err
	}

	if err := db.Notify(ctx, ChannelJobs, job.ID.String()); err != nil {
		// The poll loop picks the job up anyway; a lost wakeup only adds latency.
		db.logger.Warn("storage: job notify failed", "job_id", job.ID, "error", err)
	}
	return job, nil
}

func (db *DB) createJobTx(ctx context.Context, job model.CheckJob, cost int) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin create job: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE users SET credits = credits - $1 WHERE id = $2 AND credits >= $1`,
		cost, job.UserID,
	)
	if err != nil {
		return fmt.Errorf("storage: charge credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s needs %d credits", ErrInsufficientCredits, job.UserID, cost)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO check_jobs (id, user_id, input_data, status, credits_used, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.UserID, job.Input, string(job.Status), job.CreditsUsed, job.CreatedAt,
	); err != nil {
		return fmt.Errorf("storage: insert job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (model.CheckJob, error) {
	var job model.CheckJob
	var status string
	err := db.pool.QueryRow(ctx,
		`SELECT id, user_id, input_data, status, credits_used, error_message, created_at, completed_at
		 FROM check_jobs WHERE id = $1`, id,
	).Scan(&job.ID, &job.UserID, &job.Input, &status, &job.CreditsUsed,
		&job.ErrorMessage, &job.CreatedAt, &job.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CheckJob{}, fmt.Errorf("%w: job %s", ErrNotFound, id)
		}
		return model.CheckJob{}, fmt.Errorf("storage: get job: %w", err)
	}
	job.Status = model.JobStatus(status)
	return job, nil
}

// DequeueJob claims the oldest due pending job and moves it to processing.
// FOR UPDATE SKIP LOCKED lets concurrent workers claim distinct jobs without
// blocking each other. Returns ErrNoPendingJobs when the queue is empty.
func (db *DB) DequeueJob(ctx context.Context) (model.CheckJob, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.CheckJob{}, fmt.Errorf("storage: begin dequeue: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var job model.CheckJob
	var status string
	err = tx.QueryRow(ctx,
		`SELECT id, user_id, input_data, status, credits_used, created_at
		 FROM check_jobs
		 WHERE status = 'pending' AND next_attempt_at <= now()
		 ORDER BY created_at
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
	).Scan(&job.ID, &job.UserID, &job.Input, &status, &job.CreditsUsed, &job.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CheckJob{}, ErrNoPendingJobs
		}
		return model.CheckJob{}, fmt.Errorf("storage: dequeue select: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE check_jobs SET status = 'processing', attempts = attempts + 1 WHERE id = $1`,
		job.ID,
	); err != nil {
		return model.CheckJob{}, fmt.Errorf("storage: dequeue claim: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.CheckJob{}, fmt.Errorf("storage: commit dequeue: %w", err)
	}
	job.Status = model.JobProcessing
	return job, nil
}

// JobAttempts returns how many times a job has been claimed.
func (db *DB) JobAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := db.pool.QueryRow(ctx, `SELECT attempts FROM check_jobs WHERE id = $1`, id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: job %s", ErrNotFound, id)
		}
		return 0, fmt.Errorf("storage: job attempts: %w", err)
	}
	return attempts, nil
}

// RescheduleJob returns a processing job to pending with a delayed next
// attempt, for transient failures worth retrying.
func (db *DB) RescheduleJob(ctx context.Context, id uuid.UUID, delay time.Duration) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE check_jobs SET status = 'pending', next_attempt_at = now() + $1
		 WHERE id = $2 AND status = 'processing'`,
		delay, id,
	)
	if err != nil {
		return fmt.Errorf("storage: reschedule job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s is not processing", ErrInvalidTransition, id)
	}
	return nil
}

// CompleteJob atomically persists the result and marks the job completed.
// A partially-written completion is impossible: either both the result row
// and the terminal status land, or neither does.
func (db *DB) CompleteJob(ctx context.Context, id uuid.UUID, result model.CheckResult) error {
	return WithRetry(ctx, txMaxRetries, txRetryBaseDelay, func() error {
		return db.completeJobTx(ctx, id, result)
	})
}

func (db *DB) completeJobTx(ctx context.Context, id uuid.UUID, result model.CheckResult) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin complete: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var status string
	if err := tx.QueryRow(ctx,
		`SELECT status FROM check_jobs WHERE id = $1 FOR UPDATE`, id,
	).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: job %s", ErrNotFound, id)
		}
		return fmt.Errorf("storage: complete select: %w", err)
	}
	if !validTransition(model.JobStatus(status), model.JobCompleted) {
		return fmt.Errorf("%w: %s -> completed", ErrInvalidTransition, status)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO check_results (job_id, result) VALUES ($1, $2)`,
		id, result,
	); err != nil {
		return fmt.Errorf("storage: insert result: %w", err)
	}

	if err := insertClaimRows(ctx, tx, id, result); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE check_jobs SET status = 'completed', completed_at = now() WHERE id = $1`,
		id,
	); err != nil {
		return fmt.Errorf("storage: mark completed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit complete: %w", err)
	}
	return nil
}

// insertClaimRows writes the queryable per-claim, per-evidence, and audit
// rows mirroring the JSONB result, batched into the completion transaction.
func insertClaimRows(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, result model.CheckResult) error {
	batch := &pgx.Batch{}
	for _, jc := range result.Claims {
		batch.Queue(
			`INSERT INTO claims (job_id, position, text, confidence, extraction_method,
			                     verdict, verdict_confidence, rationale, judgment)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			jobID, jc.Claim.Position, jc.Claim.Text, jc.Claim.Confidence, jc.Claim.ExtractionMethod,
			string(jc.Judgment.Verdict), jc.Judgment.Confidence, jc.Judgment.Rationale, jc.Judgment,
		)
		for _, e := range jc.Evidence {
			batch.Queue(
				`INSERT INTO evidence (id, job_id, claim_position, url, source, provider,
				                       credibility_score, final_score, snippet)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				e.ID, jobID, jc.Claim.Position, e.URL, e.Source, e.Provider,
				e.CredibilityScore, e.FinalScore, e,
			)
		}
	}
	for _, r := range result.RawEvidence {
		batch.Queue(
			`INSERT INTO raw_evidence (id, job_id, claim_position, url, is_included,
			                           filter_stage, filter_reason, snippet)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			r.ID, jobID, r.ClaimPosition, r.URL, r.IsIncluded,
			r.FilterStage, r.FilterReason, r.EvidenceSnippet,
		)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("storage: insert claim rows: %w", err)
	}
	return nil
}

// FailJob marks a processing job failed and refunds its credits, exactly
// once. The refund and the terminal status are one transaction; a second
// FailJob on the same job returns ErrInvalidTransition and moves no money.
func (db *DB) FailJob(ctx context.Context, id uuid.UUID, message string) error {
	return WithRetry(ctx, txMaxRetries, txRetryBaseDelay, func() error {
		return db.failJobTx(ctx, id, message)
	})
}

func (db *DB) failJobTx(ctx context.Context, id uuid.UUID, message string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin fail: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var status string
	var userID uuid.UUID
	var creditsUsed int
	var refunded bool
	if err := tx.QueryRow(ctx,
		`SELECT status, user_id, credits_used, credits_refunded
		 FROM check_jobs WHERE id = $1 FOR UPDATE`, id,
	).Scan(&status, &userID, &creditsUsed, &refunded); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: job %s", ErrNotFound, id)
		}
		return fmt.Errorf("storage: fail select: %w", err)
	}
	if !validTransition(model.JobStatus(status), model.JobFailed) {
		return fmt.Errorf("%w: %s -> failed", ErrInvalidTransition, status)
	}

	if !refunded && creditsUsed > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE users SET credits = credits + $1 WHERE id = $2`,
			creditsUsed, userID,
		); err != nil {
			return fmt.Errorf("storage: refund credits: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE check_jobs
		 SET status = 'failed', credits_used = 0, credits_refunded = TRUE,
		     error_message = $1, completed_at = now()
		 WHERE id = $2`,
		message, id,
	); err != nil {
		return fmt.Errorf("storage: mark failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit fail: %w", err)
	}
	return nil
}
