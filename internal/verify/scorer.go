// Package verify is the stance-scoring stage: every (claim, evidence) pair
// gets an NLI-style probability triple, aggregated per claim into the
// verification signals the judge consumes.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Probs is one pair's probability triple. The three values sum to 1.
type Probs struct {
	Entailment    float64 `json:"entailment"`
	Contradiction float64 `json:"contradiction"`
	Neutral       float64 `json:"neutral"`
}

// StanceScorer scores a claim against a batch of evidence passages. The
// returned slice is index-aligned with evidence. A scorer error fails the
// whole batch; the verifier degrades failed batches to uniform neutral.
type StanceScorer interface {
	Score(ctx context.Context, claim string, evidence []string) ([]Probs, error)
	Name() string
}

// maxNLITokens bounds passage length sent to the inference service. Tokens
// are approximated by whitespace fields; the service truncates the rest.
const maxNLITokens = 512

func truncateTokens(s string, max int) string {
	fields := strings.Fields(s)
	if len(fields) <= max {
		return s
	}
	return strings.Join(fields[:max], " ")
}

// NLIService scores pairs against a dedicated NLI inference HTTP service
// (a cross-encoder checkpoint behind a /predict endpoint). The label order
// of the returned probability rows varies by checkpoint and is configured,
// not assumed.
type NLIService struct {
	baseURL    string
	labelOrder string
	client     *http.Client
	logger     *slog.Logger
}

// NewNLIService returns nil when no service URL is configured, so callers
// can fall through to the LLM scorer.
func NewNLIService(baseURL, labelOrder string, timeout time.Duration, logger *slog.Logger) *NLIService {
	if baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &NLIService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		labelOrder: labelOrder,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Name identifies the scorer in logs and judgment methods.
func (n *NLIService) Name() string { return "nli_service" }

type nliRequest struct {
	Pairs []nliPair `json:"pairs"`
}

type nliPair struct {
	Premise    string `json:"premise"`
	Hypothesis string `json:"hypothesis"`
}

type nliResponse struct {
	Probabilities [][]float64 `json:"probabilities"`
}

// Score posts the batch to the inference service. Evidence is the premise
// and the claim the hypothesis, per NLI convention.
func (n *NLIService) Score(ctx context.Context, claim string, evidence []string) ([]Probs, error) {
	if len(evidence) == 0 {
		return nil, nil
	}

	reqBody := nliRequest{Pairs: make([]nliPair, len(evidence))}
	hypothesis := truncateTokens(claim, maxNLITokens)
	for i, ev := range evidence {
		reqBody.Pairs[i] = nliPair{
			Premise:    truncateTokens(ev, maxNLITokens),
			Hypothesis: hypothesis,
		}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("verify: encode nli request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("verify: build nli request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify: nli service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("verify: nli service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out nliResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("verify: decode nli response: %w", err)
	}
	if len(out.Probabilities) != len(evidence) {
		return nil, fmt.Errorf("verify: nli service returned %d rows for %d pairs", len(out.Probabilities), len(evidence))
	}

	probs := make([]Probs, len(evidence))
	for i, row := range out.Probabilities {
		if len(row) != 3 {
			return nil, fmt.Errorf("verify: nli row %d has %d labels", i, len(row))
		}
		probs[i] = n.mapLabels(row)
	}
	return probs, nil
}

// mapLabels applies the configured checkpoint label order to one row.
func (n *NLIService) mapLabels(row []float64) Probs {
	if n.labelOrder == "enc" {
		return Probs{Entailment: row[0], Neutral: row[1], Contradiction: row[2]}
	}
	// "cne": contradiction, neutral, entailment (DeBERTa-MNLI default).
	return Probs{Contradiction: row[0], Neutral: row[1], Entailment: row[2]}
}
