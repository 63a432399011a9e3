package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/veridex-ai/veridex/internal/model"
)

// GetResult retrieves the completed result for a job. Results exist only for
// completed jobs; CompleteJob writes them atomically with the status change.
func (db *DB) GetResult(ctx context.Context, jobID uuid.UUID) (model.CheckResult, error) {
	var result model.CheckResult
	err := db.pool.QueryRow(ctx,
		`SELECT result FROM check_results WHERE job_id = $1`, jobID,
	).Scan(&result)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CheckResult{}, fmt.Errorf("%w: result for job %s", ErrNotFound, jobID)
		}
		return model.CheckResult{}, fmt.Errorf("storage: get result: %w", err)
	}
	return result, nil
}
