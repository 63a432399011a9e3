package adapters

import (
	"log/slog"
	"reflect"
	"strings"

	"github.com/veridex-ai/veridex/internal/model"
)

// Registry holds the configured adapters and routes claims to them.
type Registry struct {
	adapters []Adapter
	logger   *slog.Logger

	// legalJurisdiction is forced onto legal claims that carry no
	// jurisdiction cue of their own.
	legalJurisdiction model.Jurisdiction
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, legalJurisdiction model.Jurisdiction) *Registry {
	if !model.ValidJurisdiction(legalJurisdiction) {
		legalJurisdiction = model.JurisdictionUS
	}
	return &Registry{logger: logger, legalJurisdiction: legalJurisdiction}
}

// Register adds an adapter. Nil adapters (missing API key) are skipped with
// a log line so operators can see what is disabled.
func (r *Registry) Register(a Adapter) {
	if a == nil || isNilAdapter(a) {
		r.logger.Warn("adapters: skipped, not configured", "adapter", adapterTypeName(a))
		return
	}
	r.adapters = append(r.adapters, a)
	r.logger.Info("adapters: registered", "adapter", a.Name())
}

// Len reports how many adapters are active.
func (r *Registry) Len() int { return len(r.adapters) }

// Names lists active adapters in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.adapters))
	for i, a := range r.adapters {
		names[i] = a.Name()
	}
	return names
}

// ForClaim selects the adapters relevant to one claim: adapters matching the
// article's primary domain, then its secondary domains, deduplicated in that
// order. Legal claims override the article domain with Law and the
// configured default jurisdiction, so statutes and case law are searched
// even inside, say, a sports article.
func (r *Registry) ForClaim(claim model.Claim, classification model.ArticleClassification) []Adapter {
	domains := append([]model.Domain{classification.PrimaryDomain}, classification.SecondaryDomains...)
	jurisdiction := classification.Jurisdiction

	if claim.IsLegal() {
		domains = append([]model.Domain{model.DomainLaw}, domains...)
		if j := legalClaimJurisdiction(claim); j != "" {
			jurisdiction = j
		} else {
			jurisdiction = r.legalJurisdiction
		}
	}

	var out []Adapter
	seen := map[string]bool{}
	for _, d := range domains {
		for _, a := range r.adapters {
			if seen[a.Name()] || !a.RelevantFor(d, jurisdiction) {
				continue
			}
			seen[a.Name()] = true
			out = append(out, a)
		}
	}
	return out
}

func legalClaimJurisdiction(claim model.Claim) model.Jurisdiction {
	if claim.Classification == nil || claim.Classification.Metadata == nil {
		return ""
	}
	if j, ok := claim.Classification.Metadata["jurisdiction"].(string); ok && model.ValidJurisdiction(model.Jurisdiction(j)) {
		return model.Jurisdiction(j)
	}
	return ""
}

// isNilAdapter detects typed-nil adapters; constructors return a nil
// concrete pointer when a required API key is absent.
func isNilAdapter(a Adapter) bool {
	v := reflect.ValueOf(a)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// adapterTypeName names an adapter from its concrete type. A typed-nil
// adapter cannot answer Name(), so the log line uses the type instead.
func adapterTypeName(a Adapter) string {
	if a == nil {
		return "unknown"
	}
	t := reflect.TypeOf(a)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return strings.ToLower(t.Name())
}
