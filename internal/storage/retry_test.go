package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetriable(t *testing.T) {
	assert.True(t, isRetriable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, isRetriable(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, isRetriable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isRetriable(errors.New("not a pg error")))
	assert.False(t, isRetriable(nil))
}

func TestWithRetryRetriesSerializationFailures(t *testing.T) {
	serialization := &pgconn.PgError{Code: "40001"}

	attempts := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return serialization
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryGivesUpAfterMaxRetries(t *testing.T) {
	deadlock := &pgconn.PgError{Code: "40P01"}

	attempts := 0
	err := WithRetry(context.Background(), 2, time.Millisecond, func() error {
		attempts++
		return deadlock
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, deadlock)
	// Initial attempt plus two retries.
	assert.Equal(t, 3, attempts)
}

func TestWithRetryDoesNotRetryNonRetriable(t *testing.T) {
	boom := errors.New("constraint violation")

	attempts := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestWithRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := WithRetry(ctx, 3, 10*time.Millisecond, func() error {
		attempts++
		return &pgconn.PgError{Code: "40001"}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
