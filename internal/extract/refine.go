package extract

import (
	"regexp"
	"strings"
)

// Confidence multipliers applied by refinement.
const (
	proceduralNegativePenalty = 0.85
	subjectivePenalty         = 0.75
	minFactualCoreChars       = 20
	minClaimChars             = 10
)

// proceduralNegativeRe matches clauses describing an action not taken
// ("without consulting", "failed to disclose"). Such clauses are
// unverifiable in isolation and are stripped before search.
var proceduralNegativeRe = regexp.MustCompile(
	`(?i)(,?\s*(without|failed to|did not|didn't|never|refused to|neglected to|omitted to)\b[^,.;]*)`)

// leadingNegativeRe detects a procedural negative that starts the claim;
// these cannot be stripped into a useful factual core.
var leadingNegativeRe = regexp.MustCompile(
	`(?i)^\s*(without|failed to|did not|didn't|never|refused to|neglected to|omitted to)\b`)

// unresolvedPronouns are tokens that make a claim not self-contained.
var unresolvedPronouns = map[string]bool{
	"he": true, "she": true, "they": true, "it": true,
	"this": true, "that": true, "these": true, "those": true,
}

// subjectiveMarkers soften a claim below verifiability; their presence
// scales confidence down and flags the claim.
var subjectiveMarkers = []string{
	"controversial", "arguably", "seems", "appears", "might", "could",
	"possibly", "probably", "likely", "reportedly", "allegedly",
}

var (
	yearRe     = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	digitRunRe = regexp.MustCompile(`\d+`)
	monthRe    = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\b`)
	tokenRe    = regexp.MustCompile(`[A-Za-z']+`)
)

// RefineResult is the outcome of refining one extracted claim.
type RefineResult struct {
	Text       string
	Confidence float64
	Subjective bool
	Kept       bool
	DropReason string
}

// Refine applies the deterministic refinement-and-filter chain to one
// extracted claim:
//
//  1. Strip procedural-negative clauses; keep only if a factual core of at
//     least 20 chars remains (confidence ×0.85).
//  2. Drop on any unresolved pronoun token.
//  3. Require at least one specificity marker (year, month, digit run, or
//     proper noun).
//  4. Scale confidence ×0.75 on subjective markers and flag the claim.
//
// Refinement is idempotent: passing an already-refined claim (with its
// already-scaled confidence and subjective flag) returns identical output.
func Refine(text string, confidence float64, alreadySubjective bool) RefineResult {
	text = strings.TrimSpace(text)

	// Step 1: procedural negatives.
	if proceduralNegativeRe.MatchString(text) {
		if leadingNegativeRe.MatchString(text) {
			return RefineResult{DropReason: "leading_procedural_negative"}
		}
		stripped := strings.TrimSpace(proceduralNegativeRe.ReplaceAllString(text, ""))
		stripped = strings.TrimRight(stripped, ",;")
		if len(stripped) < minFactualCoreChars {
			return RefineResult{DropReason: "no_factual_core_after_strip"}
		}
		text = stripped
		confidence *= proceduralNegativePenalty
	}

	// Step 2: unresolved pronouns.
	for _, tok := range tokenRe.FindAllString(text, -1) {
		if unresolvedPronouns[strings.ToLower(tok)] {
			return RefineResult{DropReason: "unresolved_pronoun"}
		}
	}

	// Step 3: specificity markers.
	if !hasSpecificityMarker(text) {
		return RefineResult{DropReason: "no_specificity_marker"}
	}

	// Step 4: subjective language. The subjective flag prevents repeated
	// scaling when a refined claim passes through again.
	subjective := alreadySubjective
	if !alreadySubjective && hasSubjectiveMarker(text) {
		confidence *= subjectivePenalty
		subjective = true
	}

	if len(text) < minClaimChars {
		return RefineResult{DropReason: "too_short"}
	}

	return RefineResult{Text: text, Confidence: confidence, Subjective: subjective, Kept: true}
}

func hasSpecificityMarker(text string) bool {
	if yearRe.MatchString(text) || monthRe.MatchString(text) || digitRunRe.MatchString(text) {
		return true
	}
	// Proper-noun heuristic: any capitalized word beyond sentence start.
	words := strings.Fields(text)
	for i, w := range words {
		trimmed := strings.Trim(w, `.,;:"'()`)
		if trimmed == "" {
			continue
		}
		first := rune(trimmed[0])
		if first >= 'A' && first <= 'Z' && i > 0 {
			return true
		}
	}
	return false
}

func hasSubjectiveMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range subjectiveMarkers {
		if containsWord(lower, m) {
			return true
		}
	}
	return false
}

// containsWord reports whether word appears in text at word boundaries.
func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i == -1 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isLetter(text[start-1])
		afterOK := end == len(text) || !isLetter(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
