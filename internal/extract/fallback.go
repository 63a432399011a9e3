package extract

import (
	"regexp"
	"strings"
)

// Heuristic extraction used when the LLM path is unavailable or returns
// nothing usable. Sentences with factual signal (digits, percentages,
// currency, reporting verbs) become low-confidence claims; the refinement
// pass still applies afterwards.

const (
	fallbackConfidence   = 0.5
	fallbackMinWords     = 6
	fallbackMaxWords     = 60
	heuristicMethodLabel = "heuristic_fallback"
)

// periodMask temporarily replaces abbreviation periods so the splitter
// does not break on them.
const periodMask = "\x01"

var (
	sentenceSplitRe = regexp.MustCompile(`(?m)([.!?])\s+`)
	abbreviations   = []string{"Mr.", "Mrs.", "Ms.", "Dr.", "Prof.", "St.", "U.S.", "U.K.", "vs.", "etc.", "Inc.", "Ltd.", "No."}

	factualSignalRe = regexp.MustCompile(`(?i)\d|%|[$£€]|\b(announced|reported|confirmed|according to|found that|study|survey|data)\b`)
)

// splitSentences breaks text into sentences, tolerating common
// abbreviations so "Dr. Smith said" stays one sentence.
func splitSentences(text string) []string {
	masked := text
	for _, abbr := range abbreviations {
		masked = strings.ReplaceAll(masked, abbr, strings.ReplaceAll(abbr, ".", periodMask))
	}

	parts := sentenceSplitRe.Split(masked, -1)
	terms := sentenceSplitRe.FindAllStringSubmatch(masked, -1)

	sentences := make([]string, 0, len(parts))
	for i, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		if i < len(terms) {
			s += terms[i][1]
		}
		sentences = append(sentences, strings.ReplaceAll(s, periodMask, "."))
	}
	return sentences
}

// fallbackSentences selects sentences that look like checkable statements.
func fallbackSentences(body string, maxClaims int) []rawClaim {
	var out []rawClaim
	for _, s := range splitSentences(body) {
		words := len(strings.Fields(s))
		if words < fallbackMinWords || words > fallbackMaxWords {
			continue
		}
		if !factualSignalRe.MatchString(s) {
			continue
		}
		out = append(out, rawClaim{
			Text:       s,
			Confidence: fallbackConfidence,
			Method:     heuristicMethodLabel,
		})
		if len(out) >= maxClaims {
			break
		}
	}
	return out
}
