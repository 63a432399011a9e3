package extract

import (
	"regexp"
	"strings"

	"github.com/veridex-ai/veridex/internal/model"
)

// Lightweight NER over the extractor's key entities. Labels are heuristic;
// adapters that need a stricter view (team vs. player, company vs. agency)
// promote ENTITY labels themselves based on their own context.
var (
	orgSuffixRe = regexp.MustCompile(`(?i)\b(inc|ltd|llc|plc|corp|corporation|company|agency|bureau|department|ministry|university|institute|bank|fc|united|city)\.?$`)
	dateWordRe  = regexp.MustCompile(`(?i)^(january|february|march|april|may|june|july|august|september|october|november|december)\b|^\d{4}$`)
)

// knownGPEs covers jurisdictions and common country references the adapters
// route on. Anything else capitalized stays ENTITY.
var knownGPEs = map[string]bool{
	"us": true, "usa": true, "uk": true, "eu": true,
	"united states": true, "united kingdom": true, "england": true,
	"scotland": true, "wales": true, "france": true, "germany": true,
	"china": true, "india": true, "japan": true, "russia": true,
}

// LabelEntities converts the extractor's plain entity strings into labelled
// entities.
func LabelEntities(names []string) []model.Entity {
	entities := make([]model.Entity, 0, len(names))
	seen := map[string]bool{}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		entities = append(entities, model.Entity{Text: name, Label: labelFor(name)})
	}
	return entities
}

func labelFor(name string) model.EntityLabel {
	lower := strings.ToLower(name)
	switch {
	case knownGPEs[lower]:
		return model.EntityGPE
	case dateWordRe.MatchString(name):
		return model.EntityDate
	case orgSuffixRe.MatchString(name):
		return model.EntityOrg
	case looksLikePersonName(name):
		return model.EntityPerson
	}
	return model.EntityGeneric
}

// looksLikePersonName matches two or three capitalized words with no digits
// or org suffixes ("Neil Armstrong", "Rachel Reeves").
func looksLikePersonName(name string) bool {
	words := strings.Fields(name)
	if len(words) < 2 || len(words) > 3 {
		return false
	}
	for _, w := range words {
		if w == "" || w[0] < 'A' || w[0] > 'Z' {
			return false
		}
		if strings.ContainsAny(w, "0123456789") {
			return false
		}
	}
	return true
}
