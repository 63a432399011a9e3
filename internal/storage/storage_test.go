package storage_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/veridex-ai/veridex/internal/model"
	"github.com/veridex-ai/veridex/internal/storage"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "veridex",
			"POSTGRES_PASSWORD": "veridex",
			"POSTGRES_DB":       "veridex",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://veridex:veridex@%s:%s/veridex?sslmode=disable", host, port.Port())

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	testDB, err = storage.New(ctx, dsn, "", logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create DB: %v\n", err)
		os.Exit(1)
	}

	if err := testDB.RunMigrations(ctx, os.DirFS("../../migrations")); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close(ctx)
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func newUser(t *testing.T, credits int) storage.User {
	t.Helper()
	u, err := testDB.CreateUser(context.Background(),
		fmt.Sprintf("user-%d@example.org", time.Now().UnixNano()), credits)
	require.NoError(t, err)
	return u
}

func textInput(content string) model.InputData {
	return model.InputData{Kind: model.InputText, Content: content}
}

// drainQueue claims every pending job so a test starts from an empty queue.
// Claimed leftovers stay in processing, invisible to later dequeues.
func drainQueue(t *testing.T) {
	t.Helper()
	for {
		_, err := testDB.DequeueJob(context.Background())
		if err != nil {
			require.ErrorIs(t, err, storage.ErrNoPendingJobs)
			return
		}
	}
}

func TestCreateJobChargesCredits(t *testing.T) {
	ctx := context.Background()
	u := newUser(t, 5)

	job, err := testDB.CreateJob(ctx, u.ID, textInput("some article"), 1)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)
	assert.Equal(t, 1, job.CreditsUsed)

	after, err := testDB.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, after.Credits)

	got, err := testDB.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "some article", got.Input.Content)
}

func TestCreateJobInsufficientCredits(t *testing.T) {
	ctx := context.Background()
	u := newUser(t, 0)

	_, err := testDB.CreateJob(ctx, u.ID, textInput("x"), 1)
	require.ErrorIs(t, err, storage.ErrInsufficientCredits)

	// The failed charge must not have enqueued anything for this user.
	after, err := testDB.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.Credits)
}

func TestDequeueClaimsOldestPending(t *testing.T) {
	ctx := context.Background()
	drainQueue(t)
	u := newUser(t, 10)

	first, err := testDB.CreateJob(ctx, u.ID, textInput("first"), 1)
	require.NoError(t, err)
	_, err = testDB.CreateJob(ctx, u.ID, textInput("second"), 1)
	require.NoError(t, err)

	claimed, err := testDB.DequeueJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, model.JobProcessing, claimed.Status)

	// The claimed job is no longer visible to a second dequeue.
	second, err := testDB.DequeueJob(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestDequeueEmptyQueue(t *testing.T) {
	drainQueue(t)
	_, err := testDB.DequeueJob(context.Background())
	require.ErrorIs(t, err, storage.ErrNoPendingJobs)
}

func TestCompleteJobAtomically(t *testing.T) {
	ctx := context.Background()
	drainQueue(t)
	u := newUser(t, 5)

	job, err := testDB.CreateJob(ctx, u.ID, textInput("article"), 1)
	require.NoError(t, err)
	claimed, err := testDB.DequeueJob(ctx)
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)

	result := model.CheckResult{
		JobID:      job.ID,
		Assessment: model.OverallAssessment{ClaimsTotal: 2, ClaimsSupported: 2, CredibilityScore: 95},
	}
	require.NoError(t, testDB.CompleteJob(ctx, job.ID, result))

	got, err := testDB.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	// Completion never refunds.
	after, err := testDB.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, after.Credits)

	stored, err := testDB.GetResult(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 95, stored.Assessment.CredibilityScore)

	// Completed is terminal.
	err = testDB.CompleteJob(ctx, job.ID, result)
	require.ErrorIs(t, err, storage.ErrInvalidTransition)
	err = testDB.FailJob(ctx, job.ID, "late failure")
	require.ErrorIs(t, err, storage.ErrInvalidTransition)
}

func TestCompleteRequiresProcessing(t *testing.T) {
	ctx := context.Background()
	u := newUser(t, 5)

	job, err := testDB.CreateJob(ctx, u.ID, textInput("article"), 1)
	require.NoError(t, err)

	err = testDB.CompleteJob(ctx, job.ID, model.CheckResult{JobID: job.ID})
	require.ErrorIs(t, err, storage.ErrInvalidTransition)

	// No result row may exist after the failed completion.
	_, err = testDB.GetResult(ctx, job.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFailJobRefundsOnce(t *testing.T) {
	ctx := context.Background()
	drainQueue(t)
	u := newUser(t, 3)

	job, err := testDB.CreateJob(ctx, u.ID, textInput("article"), 2)
	require.NoError(t, err)
	_, err = testDB.DequeueJob(ctx)
	require.NoError(t, err)

	require.NoError(t, testDB.FailJob(ctx, job.ID, "ingest failed"))

	after, err := testDB.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, after.Credits)

	got, err := testDB.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, got.Status)
	assert.Zero(t, got.CreditsUsed)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "ingest failed", *got.ErrorMessage)

	// A second failure is rejected and moves no money.
	err = testDB.FailJob(ctx, job.ID, "again")
	require.ErrorIs(t, err, storage.ErrInvalidTransition)
	after, err = testDB.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, after.Credits)
}

func TestRescheduleJob(t *testing.T) {
	ctx := context.Background()
	drainQueue(t)
	u := newUser(t, 5)

	job, err := testDB.CreateJob(ctx, u.ID, textInput("article"), 1)
	require.NoError(t, err)
	_, err = testDB.DequeueJob(ctx)
	require.NoError(t, err)

	require.NoError(t, testDB.RescheduleJob(ctx, job.ID, 0))

	got, err := testDB.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, got.Status)

	attempts, err := testDB.JobAttempts(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	// Reclaimable after the delay elapses.
	claimed, err := testDB.DequeueJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, claimed.ID)

	attempts, err = testDB.JobAttempts(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	require.NoError(t, testDB.FailJob(ctx, job.ID, "done with it"))
}

func TestCompleteJobWritesClaimRows(t *testing.T) {
	ctx := context.Background()
	drainQueue(t)
	u := newUser(t, 5)

	job, err := testDB.CreateJob(ctx, u.ID, textInput("article"), 1)
	require.NoError(t, err)
	_, err = testDB.DequeueJob(ctx)
	require.NoError(t, err)

	evID := uuid.New()
	stage, reason := "credibility", "source credibility below threshold"
	result := model.CheckResult{
		JobID: job.ID,
		Claims: []model.JudgedClaim{{
			Claim: model.Claim{Text: "the figure was 4.2%", Position: 0, Confidence: 0.9},
			Evidence: []model.EvidenceSnippet{{
				ID: evID, Text: "evidence", URL: "https://example.org/e",
				CredibilityScore: 0.9, FinalScore: 0.8, Provider: "web_search",
			}},
			Judgment: model.JudgmentResult{Verdict: model.VerdictSupported, Confidence: 85, Method: "llm"},
		}},
		RawEvidence: []model.RawEvidence{
			{EvidenceSnippet: model.EvidenceSnippet{ID: evID, URL: "https://example.org/e"}, ClaimPosition: 0, IsIncluded: true},
			{EvidenceSnippet: model.EvidenceSnippet{ID: uuid.New(), URL: "https://low.example/e"}, ClaimPosition: 0,
				IsIncluded: false, FilterStage: &stage, FilterReason: &reason},
		},
	}
	require.NoError(t, testDB.CompleteJob(ctx, job.ID, result))

	var verdict string
	var confidence int
	err = testDB.Pool().QueryRow(ctx,
		`SELECT verdict, verdict_confidence FROM claims WHERE job_id = $1 AND position = 0`, job.ID,
	).Scan(&verdict, &confidence)
	require.NoError(t, err)
	assert.Equal(t, "supported", verdict)
	assert.Equal(t, 85, confidence)

	var evidenceCount, rawCount, droppedCount int
	require.NoError(t, testDB.Pool().QueryRow(ctx,
		`SELECT count(*) FROM evidence WHERE job_id = $1`, job.ID).Scan(&evidenceCount))
	require.NoError(t, testDB.Pool().QueryRow(ctx,
		`SELECT count(*) FROM raw_evidence WHERE job_id = $1`, job.ID).Scan(&rawCount))
	require.NoError(t, testDB.Pool().QueryRow(ctx,
		`SELECT count(*) FROM raw_evidence WHERE job_id = $1 AND NOT is_included`, job.ID).Scan(&droppedCount))
	assert.Equal(t, 1, evidenceCount)
	assert.Equal(t, 2, rawCount)
	assert.Equal(t, 1, droppedCount)
}

func TestAddCredits(t *testing.T) {
	ctx := context.Background()
	u := newUser(t, 1)

	require.NoError(t, testDB.AddCredits(ctx, u.ID, 4))
	after, err := testDB.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, after.Credits)
}
