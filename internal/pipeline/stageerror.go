package pipeline

import "fmt"

// Stage names the pipeline stage an error originated in.
type Stage string

const (
	StageIngest   Stage = "ingest"
	StageClassify Stage = "classify"
	StageExtract  Stage = "extract"
	StageRetrieve Stage = "retrieve"
	StageVerify   Stage = "verify"
	StageJudge    Stage = "judge"
	StagePersist  Stage = "persist"
)

// StageError wraps a stage failure with retry semantics: transient errors
// (timeouts, rate limits, unreachable services) reschedule the job, anything
// else fails it and refunds the credit.
type StageError struct {
	Stage     Stage
	Err       error
	Transient bool
	// UserMessage is shown to the job owner; it never leaks internals.
	UserMessage string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error, transient bool, userMessage string) *StageError {
	return &StageError{Stage: stage, Err: err, Transient: transient, UserMessage: userMessage}
}
