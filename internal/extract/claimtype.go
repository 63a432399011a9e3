package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/veridex-ai/veridex/internal/model"
)

// Legal citation patterns. A match on any of these classifies the claim as
// legal and the matches travel in the classification metadata so the
// retrieval stage can build citation-first queries.
var (
	caseCitationRe    = regexp.MustCompile(`\b[A-Z][A-Za-z.]+ v\.? [A-Z][A-Za-z.]+\b`)
	statuteCitationRe = regexp.MustCompile(`\b\d+\s+U\.?S\.?C\.?\s+§+\s*\d+[a-z]*\b|§+\s*\d+[a-z.()]*`)
	actNameRe         = regexp.MustCompile(`\b[A-Z][A-Za-z]+(?: [A-Z][A-Za-z]+)* Act(?: of \d{4}| \d{4})?\b`)
	legalKeywordRe    = regexp.MustCompile(`(?i)\b(supreme court|court of appeals|appellate|ruled|ruling|statute|legislation|plaintiff|defendant|unconstitutional|overturned)\b`)

	ukJurisdictionRe = regexp.MustCompile(`(?i)\b(uk|united kingdom|house of (lords|commons)|parliament|england and wales|crown court)\b`)
	euJurisdictionRe = regexp.MustCompile(`(?i)\b(eu|european union|cjeu|european court|gdpr|european commission)\b`)

	predictionRe = regexp.MustCompile(`(?i)\b(will|is (expected|projected|forecast|predicted) to|by 20\d{2})\b`)
	opinionRe    = regexp.MustCompile(`(?i)\b(best|worst|greatest|most (beautiful|important)|should|ought to|believes?|thinks?)\b`)
)

// ClassifyClaim assigns a claim type with rule-based patterns. Legal claims
// get year, jurisdiction, and citation metadata; defaultJurisdiction applies
// when the text carries no jurisdiction cue.
func ClassifyClaim(text string, defaultJurisdiction string) model.ClaimClassification {
	var citations []string
	citations = append(citations, caseCitationRe.FindAllString(text, -1)...)
	citations = append(citations, statuteCitationRe.FindAllString(text, -1)...)
	citations = append(citations, actNameRe.FindAllString(text, -1)...)

	if len(citations) > 0 || legalKeywordRe.MatchString(text) {
		meta := map[string]any{
			"jurisdiction": legalJurisdiction(text, defaultJurisdiction),
		}
		if len(citations) > 0 {
			meta["citations"] = citations
		}
		if y := yearRe.FindString(text); y != "" {
			if year, err := strconv.Atoi(y); err == nil {
				meta["year"] = year
			}
		}
		return model.ClaimClassification{Type: model.ClaimLegal, IsVerifiable: true, Metadata: meta}
	}

	if predictionRe.MatchString(text) {
		return model.ClaimClassification{Type: model.ClaimPrediction, IsVerifiable: false}
	}
	if opinionRe.MatchString(text) {
		return model.ClaimClassification{Type: model.ClaimOpinion, IsVerifiable: false}
	}
	return model.ClaimClassification{Type: model.ClaimFactual, IsVerifiable: true}
}

func legalJurisdiction(text, fallback string) string {
	switch {
	case ukJurisdictionRe.MatchString(text):
		return "UK"
	case euJurisdictionRe.MatchString(text):
		return "EU"
	case strings.Contains(text, "U.S.") || legalUSRe.MatchString(text):
		return "US"
	}
	return fallback
}

var legalUSRe = regexp.MustCompile(`(?i)\b(united states|congress|federal|scotus|u\.s\.c\.)\b`)
