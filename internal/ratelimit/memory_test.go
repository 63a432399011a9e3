package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestLimiter builds a limiter with an injected clock so tests never
// sleep for real.
func newTestLimiter(rate float64, burst int) (*MemoryLimiter, *time.Time) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	m.now = func() time.Time { return now }
	m.sleep = func(_ context.Context, d time.Duration) error {
		now = now.Add(d)
		return nil
	}
	return m, &now
}

func TestAllowConsumesBurst(t *testing.T) {
	m, _ := newTestLimiter(1, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "wikidata")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}
	ok, err := m.Allow(ctx, "wikidata")
	require.NoError(t, err)
	assert.False(t, ok, "burst exhausted")
}

func TestAllowRefillsOverTime(t *testing.T) {
	m, now := newTestLimiter(2, 1)
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "courtlistener")
	require.True(t, ok)
	ok, _ = m.Allow(ctx, "courtlistener")
	require.False(t, ok)

	// Half a second refills one token at 2/s.
	*now = now.Add(500 * time.Millisecond)
	ok, _ = m.Allow(ctx, "courtlistener")
	assert.True(t, ok)
}

func TestKeysAreIndependent(t *testing.T) {
	m, _ := newTestLimiter(1, 1)
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "openalex")
	require.True(t, ok)
	ok, _ = m.Allow(ctx, "openalex")
	require.False(t, ok)

	// A different provider still has its full bucket.
	ok, _ = m.Allow(ctx, "pubmed")
	assert.True(t, ok)
}

func TestWaitBlocksUntilRefill(t *testing.T) {
	m, _ := newTestLimiter(10, 1)
	ctx := context.Background()

	require.NoError(t, m.Wait(ctx, "sec-edgar"))
	// Bucket empty now; Wait advances the injected clock until a token lands.
	require.NoError(t, m.Wait(ctx, "sec-edgar"))
}

func TestWaitHonorsContext(t *testing.T) {
	m, _ := newTestLimiter(0.001, 1)
	m.sleep = sleepCtx // real sleeps, so cancellation is what ends the wait

	ctx := context.Background()
	require.NoError(t, m.Wait(ctx, "noaa"))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err := m.Wait(canceled, "noaa")
	require.ErrorIs(t, err, context.Canceled)
}

func TestEvictStale(t *testing.T) {
	m, now := newTestLimiter(1, 1)
	ctx := context.Background()

	_, _ = m.Allow(ctx, "old")
	*now = now.Add(staleThreshold + time.Minute)
	_, _ = m.Allow(ctx, "fresh")

	m.evictStale()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.NotContains(t, m.buckets, "old")
	assert.Contains(t, m.buckets, "fresh")
}

func TestConcurrentAllow(t *testing.T) {
	m := NewMemoryLimiter(1000, 100)
	defer m.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	allowed := make([]bool, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := m.Allow(ctx, "shared")
			require.NoError(t, err)
			allowed[i] = ok
		}(i)
	}
	wg.Wait()

	granted := 0
	for _, ok := range allowed {
		if ok {
			granted++
		}
	}
	// Exactly the burst is granted; refill during the test adds at most a few.
	assert.GreaterOrEqual(t, granted, 100)
	assert.Less(t, granted, 120)
}

func TestNoopLimiter(t *testing.T) {
	var l Limiter = NoopLimiter{}
	ok, err := l.Allow(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Wait(context.Background(), "anything"))
	require.NoError(t, l.Close())
}
