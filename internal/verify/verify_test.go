package verify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridex-ai/veridex/internal/llm"
	"github.com/veridex-ai/veridex/internal/model"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) Get(_ context.Context, ns, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[ns+":"+key]
	return v, ok
}

func (m *memCache) Set(_ context.Context, ns, key string, value []byte, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[ns+":"+key] = value
}

func (m *memCache) Close() error { return nil }

type stubScorer struct {
	mu    sync.Mutex
	calls int
	probs []Probs
	err   error
}

func (s *stubScorer) Score(_ context.Context, _ string, evidence []string) ([]Probs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]Probs, len(evidence))
	for i := range evidence {
		out[i] = s.probs[i%len(s.probs)]
	}
	return out, nil
}

func (s *stubScorer) Name() string { return "stub" }

func snippetWith(text string) model.EvidenceSnippet {
	return model.EvidenceSnippet{ID: uuid.New(), Text: text, URL: "https://example.org/" + text}
}

func TestNLIServiceLabelOrders(t *testing.T) {
	var gotPairs int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req nliRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotPairs = len(req.Pairs)
		rows := make([][]float64, len(req.Pairs))
		for i := range rows {
			rows[i] = []float64{0.1, 0.2, 0.7}
		}
		_ = json.NewEncoder(w).Encode(nliResponse{Probabilities: rows})
	}))
	defer srv.Close()

	cne := NewNLIService(srv.URL, "cne", time.Second, slog.Default())
	probs, err := cne.Score(context.Background(), "claim", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, gotPairs)
	assert.InDelta(t, 0.7, probs[0].Entailment, 1e-9)
	assert.InDelta(t, 0.1, probs[0].Contradiction, 1e-9)

	enc := NewNLIService(srv.URL, "enc", time.Second, slog.Default())
	probs, err = enc.Score(context.Background(), "claim", []string{"a"})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, probs[0].Entailment, 1e-9)
	assert.InDelta(t, 0.7, probs[0].Contradiction, 1e-9)
}

func TestNLIServiceRowCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(nliResponse{Probabilities: [][]float64{{0.1, 0.2, 0.7}}})
	}))
	defer srv.Close()

	svc := NewNLIService(srv.URL, "cne", time.Second, slog.Default())
	_, err := svc.Score(context.Background(), "claim", []string{"a", "b"})
	assert.Error(t, err)
}

func TestNLIServiceNilWithoutURL(t *testing.T) {
	assert.Nil(t, NewNLIService("", "cne", time.Second, slog.Default()))
}

func TestTruncateTokens(t *testing.T) {
	assert.Equal(t, "a b", truncateTokens("a b", 512))
	got := truncateTokens("one two three four", 2)
	assert.Equal(t, "one two", got)
}

type stubCompleter struct {
	response string
	err      error
}

func (s stubCompleter) Complete(context.Context, llm.Request) (string, error) {
	return s.response, s.err
}

func (s stubCompleter) Name() string { return "stub" }

func TestLLMScorerParsesAndNormalizes(t *testing.T) {
	scorer := NewLLMScorer(stubCompleter{response: `{"results": [
		{"index": 0, "entailment": 0.8, "contradiction": 0.1, "neutral": 0.1},
		{"index": 1, "entailment": 0.2, "contradiction": 0.2, "neutral": 0.0}
	]}`}, slog.Default())

	probs, err := scorer.Score(context.Background(), "claim", []string{"a", "b"})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, probs[0].Entailment, 1e-9)
	// 0.2 + 0.2 + 0.0 rescales to sum 1.
	assert.InDelta(t, 0.5, probs[1].Entailment, 1e-9)
	assert.InDelta(t, 0.5, probs[1].Contradiction, 1e-9)
}

func TestLLMScorerMissingPassageFails(t *testing.T) {
	scorer := NewLLMScorer(stubCompleter{response: `{"results": [{"index": 0, "entailment": 1, "contradiction": 0, "neutral": 0}]}`}, slog.Default())
	_, err := scorer.Score(context.Background(), "claim", []string{"a", "b"})
	assert.Error(t, err)
}

func TestVerifySupportedVerdict(t *testing.T) {
	scorer := &stubScorer{probs: []Probs{{Entailment: 0.9, Contradiction: 0.05, Neutral: 0.05}}}
	v := New(scorer, newMemCache(), Config{}, slog.Default())

	claims := []model.Claim{{Text: "The rate fell to 4.2%.", Position: 0}}
	evidence := map[int][]model.EvidenceSnippet{
		0: {snippetWith("a"), snippetWith("b"), snippetWith("c")},
	}

	out, err := v.Verify(context.Background(), claims, evidence)
	require.NoError(t, err)

	sig := out[0].Signals
	assert.Equal(t, model.VerdictSupported, sig.OverallVerdict)
	assert.Equal(t, 3, sig.SupportingCount)
	assert.Equal(t, model.QualityHigh, sig.EvidenceQuality)
	assert.InDelta(t, 0.9, sig.MaxEntailment, 1e-9)
	// 0.9 * 3/3 = 0.9, under the cap.
	assert.InDelta(t, 0.9, sig.Confidence, 1e-9)
	assert.Len(t, sig.Stances, 3)
	assert.Len(t, out[0].Results, 3)
}

func TestVerifyConfidenceCap(t *testing.T) {
	scorer := &stubScorer{probs: []Probs{{Entailment: 0.99, Contradiction: 0.005, Neutral: 0.005}}}
	v := New(scorer, newMemCache(), Config{}, slog.Default())

	out, err := v.Verify(context.Background(),
		[]model.Claim{{Text: "c", Position: 0}},
		map[int][]model.EvidenceSnippet{0: {snippetWith("a"), snippetWith("b")}})
	require.NoError(t, err)
	assert.InDelta(t, 0.95, out[0].Signals.Confidence, 1e-9)
}

func TestVerifyContradictedVerdict(t *testing.T) {
	scorer := &stubScorer{probs: []Probs{{Entailment: 0.05, Contradiction: 0.85, Neutral: 0.1}}}
	v := New(scorer, newMemCache(), Config{}, slog.Default())

	out, err := v.Verify(context.Background(),
		[]model.Claim{{Text: "c", Position: 0}},
		map[int][]model.EvidenceSnippet{0: {snippetWith("a"), snippetWith("b")}})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictContradicted, out[0].Signals.OverallVerdict)
	assert.Equal(t, 2, out[0].Signals.ContradictingCount)
}

func TestVerifyZeroEvidence(t *testing.T) {
	v := New(&stubScorer{probs: []Probs{{Neutral: 1}}}, newMemCache(), Config{}, slog.Default())

	out, err := v.Verify(context.Background(),
		[]model.Claim{{Text: "c", Position: 0}},
		map[int][]model.EvidenceSnippet{})
	require.NoError(t, err)
	assert.Equal(t, model.VerdictUncertain, out[0].Signals.OverallVerdict)
	assert.Zero(t, out[0].Signals.Confidence)
	assert.Equal(t, model.QualityLow, out[0].Signals.EvidenceQuality)
}

func TestVerifyScorerFailureDegradesToNeutral(t *testing.T) {
	scorer := &stubScorer{err: errors.New("service down")}
	v := New(scorer, newMemCache(), Config{}, slog.Default())

	out, err := v.Verify(context.Background(),
		[]model.Claim{{Text: "c", Position: 0}},
		map[int][]model.EvidenceSnippet{0: {snippetWith("a"), snippetWith("b")}})
	require.NoError(t, err)

	sig := out[0].Signals
	assert.Equal(t, model.VerdictUncertain, sig.OverallVerdict)
	assert.Equal(t, 2, sig.NeutralCount)
	for _, r := range out[0].Results {
		assert.Equal(t, model.RelNeutral, r.Relationship)
		assert.InDelta(t, 0.34, r.Confidence, 1e-9)
	}
}

func TestVerifyPairCacheSkipsScorer(t *testing.T) {
	scorer := &stubScorer{probs: []Probs{{Entailment: 0.9, Contradiction: 0.05, Neutral: 0.05}}}
	c := newMemCache()
	v := New(scorer, c, Config{}, slog.Default())

	claims := []model.Claim{{Text: "c", Position: 0}}
	evidence := map[int][]model.EvidenceSnippet{0: {snippetWith("a")}}

	_, err := v.Verify(context.Background(), claims, evidence)
	require.NoError(t, err)
	assert.Equal(t, 1, scorer.calls)

	// Same claim/evidence text: served from cache, scorer untouched.
	_, err = v.Verify(context.Background(), claims, evidence)
	require.NoError(t, err)
	assert.Equal(t, 1, scorer.calls)
}

func TestVerifyBatching(t *testing.T) {
	scorer := &stubScorer{probs: []Probs{{Entailment: 0.9, Contradiction: 0.05, Neutral: 0.05}}}
	v := New(scorer, newMemCache(), Config{BatchSize: 3}, slog.Default())

	var snippets []model.EvidenceSnippet
	for _, s := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		snippets = append(snippets, snippetWith(s))
	}
	_, err := v.Verify(context.Background(),
		[]model.Claim{{Text: "c", Position: 0}},
		map[int][]model.EvidenceSnippet{0: snippets})
	require.NoError(t, err)
	// 7 pairs at batch size 3: three scorer calls.
	assert.Equal(t, 3, scorer.calls)
}

func TestVerifyOutdatedTemporalFlag(t *testing.T) {
	scorer := &stubScorer{probs: []Probs{{Entailment: 0.9, Contradiction: 0.05, Neutral: 0.05}}}
	v := New(scorer, newMemCache(), Config{}, slog.Default())
	v.now = func() time.Time { return time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC) }

	old := "2024-02-01"
	ev := snippetWith("a")
	ev.PublishedDate = &old

	claim := model.Claim{
		Text:     "The rate is 4.2% as of today.",
		Position: 0,
		Temporal: &model.TemporalAnalysis{IsTimeSensitive: true, Window: model.WindowCurrentMonth, MaxEvidenceAgeDays: 30},
	}
	out, err := v.Verify(context.Background(), []model.Claim{claim}, map[int][]model.EvidenceSnippet{0: {ev}})
	require.NoError(t, err)
	assert.Equal(t, model.TemporalFlagOutdated, out[0].Signals.TemporalFlag)

	// One in-window snippet clears the flag.
	recent := "2026-08-20"
	fresh := snippetWith("b")
	fresh.PublishedDate = &recent
	out, err = v.Verify(context.Background(), []model.Claim{claim}, map[int][]model.EvidenceSnippet{0: {ev, fresh}})
	require.NoError(t, err)
	assert.Empty(t, out[0].Signals.TemporalFlag)
}

func TestToResultArgmax(t *testing.T) {
	r := toResult(uuid.New(), Probs{Entailment: 0.2, Contradiction: 0.7, Neutral: 0.1})
	assert.Equal(t, model.RelContradicts, r.Relationship)
	assert.InDelta(t, 0.7, r.Confidence, 1e-9)

	r = toResult(uuid.New(), Probs{Entailment: 0.33, Contradiction: 0.33, Neutral: 0.34})
	assert.Equal(t, model.RelNeutral, r.Relationship)
}
