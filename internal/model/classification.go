package model

// Domain is the closed set of article subject domains used for adapter routing.
type Domain string

const (
	DomainFinance       Domain = "Finance"
	DomainHealth        Domain = "Health"
	DomainScience       Domain = "Science"
	DomainClimate       Domain = "Climate"
	DomainSports        Domain = "Sports"
	DomainLaw           Domain = "Law"
	DomainPolitics      Domain = "Politics"
	DomainGovernment    Domain = "Government"
	DomainHistory       Domain = "History"
	DomainWeather       Domain = "Weather"
	DomainAnimals       Domain = "Animals"
	DomainEntertainment Domain = "Entertainment"
	DomainDemographics  Domain = "Demographics"
	DomainGeneral       Domain = "General"
)

// Domains is every valid domain, used to validate LLM classifier output.
var Domains = []Domain{
	DomainFinance, DomainHealth, DomainScience, DomainClimate, DomainSports,
	DomainLaw, DomainPolitics, DomainGovernment, DomainHistory, DomainWeather,
	DomainAnimals, DomainEntertainment, DomainDemographics, DomainGeneral,
}

// ValidDomain reports whether d is a member of the closed domain set.
func ValidDomain(d Domain) bool {
	for _, known := range Domains {
		if d == known {
			return true
		}
	}
	return false
}

// Jurisdiction scopes adapter routing to a regulatory region.
type Jurisdiction string

const (
	JurisdictionUS     Jurisdiction = "US"
	JurisdictionUK     Jurisdiction = "UK"
	JurisdictionEU     Jurisdiction = "EU"
	JurisdictionGlobal Jurisdiction = "Global"
)

// ValidJurisdiction reports whether j is a known jurisdiction.
func ValidJurisdiction(j Jurisdiction) bool {
	switch j {
	case JurisdictionUS, JurisdictionUK, JurisdictionEU, JurisdictionGlobal:
		return true
	}
	return false
}

// ClassificationSource records how an ArticleClassification was produced.
type ClassificationSource string

const (
	ClassificationLLM       ClassificationSource = "llm"
	ClassificationHeuristic ClassificationSource = "heuristic"
)

// ArticleClassification is the one-shot domain/jurisdiction tag for a job.
// Its single purpose is adapter routing: the registry is consulted once per
// article rather than once per claim.
type ArticleClassification struct {
	PrimaryDomain    Domain               `json:"primary_domain"`
	SecondaryDomains []Domain             `json:"secondary_domains,omitempty"`
	Jurisdiction     Jurisdiction         `json:"jurisdiction"`
	Confidence       float64              `json:"confidence"`
	Source           ClassificationSource `json:"source"`
}

// FallbackClassification is the degraded classification used when the LLM
// call fails: General / Global with zero confidence.
func FallbackClassification() ArticleClassification {
	return ArticleClassification{
		PrimaryDomain: DomainGeneral,
		Jurisdiction:  JurisdictionGlobal,
		Confidence:    0.0,
		Source:        ClassificationHeuristic,
	}
}
