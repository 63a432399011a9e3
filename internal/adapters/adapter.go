// Package adapters integrates authoritative external data sources into the
// retrieval stage. Each adapter wraps one public API, declares which article
// domains and jurisdictions it serves, and returns evidence snippets in the
// pipeline's common shape.
//
// Adapters are best-effort by contract: a failing adapter logs and returns
// an error, and the retrieval stage carries on with whatever the other
// sources produced.
package adapters

import (
	"context"
	"net/url"
	"strings"

	"github.com/veridex-ai/veridex/internal/model"
)

// Request is one adapter search for one claim.
type Request struct {
	Claim        model.Claim
	Domain       model.Domain
	Jurisdiction model.Jurisdiction
	MaxResults   int
}

// Adapter is one external evidence source.
type Adapter interface {
	// Name is the adapter's stable identifier, used for provenance and as
	// its cache namespace.
	Name() string

	// RelevantFor reports whether the adapter serves this domain and
	// jurisdiction combination.
	RelevantFor(domain model.Domain, jurisdiction model.Jurisdiction) bool

	// Search returns evidence snippets for the claim. An empty result with
	// nil error means the source had nothing relevant.
	Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error)
}

// entitiesOf returns the claim's entities with the given labels. The
// generic ENTITY label is promoted to any requested label: upstream entity
// labelling is heuristic and adapters should not lose entities to it.
func entitiesOf(claim model.Claim, labels ...model.EntityLabel) []string {
	want := make(map[model.EntityLabel]bool, len(labels))
	for _, l := range labels {
		want[l] = true
	}
	var out []string
	for _, e := range claim.Entities {
		if want[e.Label] || e.Label == model.EntityGeneric {
			out = append(out, e.Text)
		}
	}
	return out
}

// firstEntity returns the first entity matching labels, or the claim's
// subject context, or empty.
func firstEntity(claim model.Claim, labels ...model.EntityLabel) string {
	if es := entitiesOf(claim, labels...); len(es) > 0 {
		return es[0]
	}
	return claim.SubjectContext
}

// anyEntityMatches reports whether any entity and the candidate name contain
// each other, case-insensitively ("Arsenal" matches "Arsenal FC").
func anyEntityMatches(entities []string, name string) bool {
	lowerName := strings.ToLower(name)
	for _, e := range entities {
		le := strings.ToLower(e)
		if strings.Contains(lowerName, le) || strings.Contains(le, lowerName) {
			return true
		}
	}
	return false
}

func pathEscape(s string) string { return url.PathEscape(s) }
