package retrieve

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/veridex-ai/veridex/internal/ingest"
	"github.com/veridex-ai/veridex/internal/model"
)

const (
	// pageFetchTimeout bounds one page download within the stage budget.
	pageFetchTimeout = 8 * time.Second
	// pageFetchConcurrency bounds parallel downloads per claim.
	pageFetchConcurrency = 4
	// snippetFallbackRelevance is the discounted relevance for evidence
	// built from the search snippet instead of page content.
	snippetFallbackRelevance = 0.4
	// maxPassageChars bounds extracted evidence text.
	maxPassageChars = 1200
)

// pageFetcher converts search results into evidence candidates by
// downloading and extracting each page. Blocked and timed-out fetches fall
// back to the search snippet at reduced relevance when the policy allows;
// other failures drop the result.
type pageFetcher struct {
	fetcher       *ingest.Fetcher
	allowFallback bool
	logger        *slog.Logger
}

func newPageFetcher(allowFallback bool, logger *slog.Logger) *pageFetcher {
	return &pageFetcher{
		fetcher:       ingest.NewFetcher(pageFetchTimeout),
		allowFallback: allowFallback,
		logger:        logger,
	}
}

// snippets fetches all results in parallel and returns the evidence
// candidates that survive.
func (pf *pageFetcher) snippets(ctx context.Context, claim model.Claim, results []model.SearchResult, provider string) []model.EvidenceSnippet {
	out := make([]model.EvidenceSnippet, len(results))
	keep := make([]bool, len(results))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pageFetchConcurrency)
	for i, result := range results {
		g.Go(func() error {
			if s, ok := pf.one(gctx, claim, result, provider, i); ok {
				out[i] = s
				keep[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	kept := make([]model.EvidenceSnippet, 0, len(results))
	for i := range out {
		if keep[i] {
			kept = append(kept, out[i])
		}
	}
	return kept
}

func (pf *pageFetcher) one(ctx context.Context, claim model.Claim, result model.SearchResult, provider string, rank int) (model.EvidenceSnippet, bool) {
	// Relevance decays with search rank; page content keeps it, snippet
	// fallback discounts it.
	relevance := 0.9 - 0.05*float64(rank)
	if relevance < 0.5 {
		relevance = 0.5
	}

	snippet := model.EvidenceSnippet{
		ID:               uuid.New(),
		Source:           result.Source,
		URL:              result.URL,
		Title:            result.Title,
		PublishedDate:    result.PublishedDate,
		RelevanceScore:   relevance,
		Provider:         provider,
		ExtractionStatus: model.ExtractionOK,
	}

	fctx, cancel := context.WithTimeout(ctx, pageFetchTimeout)
	defer cancel()

	html, err := pf.fetcher.Fetch(fctx, result.URL)
	if err != nil {
		status := ""
		switch ingest.KindOf(err) {
		case ingest.KindBlocked, ingest.KindRateLimited:
			status = model.ExtractionFallbackBlocked
		case ingest.KindTimeout:
			status = model.ExtractionFallbackTimeout
		}
		if status == "" || !pf.allowFallback || strings.TrimSpace(result.Snippet) == "" {
			pf.logger.Debug("retrieve: page fetch failed, result dropped", "url", result.URL, "error", err)
			return model.EvidenceSnippet{}, false
		}
		snippet.Text = ingest.Sanitize(result.Snippet)
		snippet.RelevanceScore = snippetFallbackRelevance
		snippet.IsSnippetFallback = true
		snippet.ExtractionStatus = status
		return snippet, true
	}

	// The snippet fallback covers blocked and timed-out fetches only. A page
	// we downloaded but could not extract usable text from is dropped: its
	// snippet describes content we cannot actually read.
	res, err := ingest.ExtractReadable(html, result.URL)
	if err != nil {
		res, err = ingest.ExtractParagraphs(html, result.URL)
	}
	if err != nil || len(strings.TrimSpace(res.Body)) < ingest.MinBodyChars {
		pf.logger.Debug("retrieve: page extraction failed, result dropped", "url", result.URL, "error", err)
		return model.EvidenceSnippet{}, false
	}

	snippet.Text = bestPassage(ingest.Sanitize(res.Body), claim.Text)
	if snippet.PublishedDate == nil && res.PublishedDate != nil {
		snippet.PublishedDate = res.PublishedDate
	}
	if snippet.Title == "" {
		snippet.Title = res.Title
	}
	return snippet, true
}

// bestPassage picks the paragraph with the highest keyword overlap with the
// claim, falling back to the document head.
func bestPassage(body, claimText string) string {
	paragraphs := strings.Split(body, "\n\n")
	if len(paragraphs) <= 1 {
		return truncate(body, maxPassageChars)
	}

	terms := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(claimText)) {
		if len(w) > 3 {
			terms[strings.Trim(w, ".,;:\"'()")] = true
		}
	}

	bestIdx, bestScore := 0, -1
	for i, p := range paragraphs {
		if len(p) < 80 {
			continue
		}
		score := 0
		for _, w := range strings.Fields(strings.ToLower(p)) {
			if terms[strings.Trim(w, ".,;:\"'()")] {
				score++
			}
		}
		if score > bestScore {
			bestIdx, bestScore = i, score
		}
	}

	// Include the following paragraph for context when it fits.
	passage := paragraphs[bestIdx]
	if bestIdx+1 < len(paragraphs) && len(passage)+len(paragraphs[bestIdx+1]) < maxPassageChars {
		passage += "\n\n" + paragraphs[bestIdx+1]
	}
	return truncate(passage, maxPassageChars)
}
