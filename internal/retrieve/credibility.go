package retrieve

import (
	"net/url"
	"strings"
	"time"

	"github.com/veridex-ai/veridex/internal/model"
)

// sourceProfile is the credibility record for one publisher domain.
type sourceProfile struct {
	tier        model.SourceTier
	credibility float64
	// group identifies shared ownership; evidence from the same group does
	// not count as independent corroboration.
	group string
}

// sourceProfiles maps publisher domains (matched by suffix) to credibility.
// The table is deliberately coarse: unknown domains get the general default
// and heuristic boosts below.
var sourceProfiles = map[string]sourceProfile{
	// Government and official statistics.
	"ons.gov.uk":      {model.TierGovernment, 0.95, "uk_gov"},
	"gov.uk":          {model.TierGovernment, 0.95, "uk_gov"},
	"parliament.uk":   {model.TierGovernment, 0.93, "uk_gov"},
	"stlouisfed.org":  {model.TierGovernment, 0.95, "us_gov"},
	"federalreserve.gov": {model.TierGovernment, 0.95, "us_gov"},
	"bls.gov":         {model.TierGovernment, 0.95, "us_gov"},
	"census.gov":      {model.TierGovernment, 0.95, "us_gov"},
	"govinfo.gov":     {model.TierGovernment, 0.95, "us_gov"},
	"loc.gov":         {model.TierGovernment, 0.92, "us_gov"},
	"noaa.gov":        {model.TierGovernment, 0.95, "us_gov"},
	"ncei.noaa.gov":   {model.TierGovernment, 0.95, "us_gov"},
	"nasa.gov":        {model.TierGovernment, 0.95, "us_gov"},
	"cdc.gov":         {model.TierGovernment, 0.95, "us_gov"},
	"nih.gov":         {model.TierScientific, 0.96, "us_gov"},
	"europa.eu":       {model.TierGovernment, 0.93, "eu_gov"},
	"who.int":         {model.TierScientific, 0.95, "who"},

	// Academic and scientific.
	"pubmed.ncbi.nlm.nih.gov": {model.TierAcademic, 0.95, "nih"},
	"nature.com":              {model.TierAcademic, 0.95, "springer"},
	"science.org":             {model.TierAcademic, 0.95, "aaas"},
	"sciencedirect.com":       {model.TierAcademic, 0.9, "elsevier"},
	"springer.com":            {model.TierAcademic, 0.9, "springer"},
	"wiley.com":               {model.TierAcademic, 0.9, "wiley"},
	"arxiv.org":               {model.TierScientific, 0.8, "arxiv"},
	"doi.org":                 {model.TierAcademic, 0.88, ""},
	"semanticscholar.org":     {model.TierAcademic, 0.88, ""},
	"openalex.org":            {model.TierAcademic, 0.88, ""},

	// Tier-1 news.
	"reuters.com":    {model.TierNewsTier1, 0.9, "thomson_reuters"},
	"apnews.com":     {model.TierNewsTier1, 0.9, "ap"},
	"bbc.co.uk":      {model.TierNewsTier1, 0.88, "bbc"},
	"bbc.com":        {model.TierNewsTier1, 0.88, "bbc"},
	"ft.com":         {model.TierNewsTier1, 0.87, "nikkei"},
	"economist.com":  {model.TierNewsTier1, 0.87, "economist"},
	"nytimes.com":    {model.TierNewsTier1, 0.85, "nyt"},
	"wsj.com":        {model.TierNewsTier1, 0.85, "newscorp"},
	"theguardian.com": {model.TierNewsTier1, 0.83, "gmg"},
	"washingtonpost.com": {model.TierNewsTier1, 0.83, "wapo"},

	// Tier-2 news.
	"cnn.com":       {model.TierNewsTier2, 0.75, "wbd"},
	"nbcnews.com":   {model.TierNewsTier2, 0.75, "nbcu"},
	"cbsnews.com":   {model.TierNewsTier2, 0.75, "paramount"},
	"skynews.com":   {model.TierNewsTier2, 0.73, "comcast"},
	"news.sky.com":  {model.TierNewsTier2, 0.73, "comcast"},
	"politico.com":  {model.TierNewsTier2, 0.75, "axel_springer"},
	"businessinsider.com": {model.TierNewsTier2, 0.65, "axel_springer"},

	// Fact-checkers.
	"snopes.com":        {model.TierFactCheck, 0.85, "snopes"},
	"politifact.com":    {model.TierFactCheck, 0.85, "poynter"},
	"factcheck.org":     {model.TierFactCheck, 0.85, "annenberg"},
	"fullfact.org":      {model.TierFactCheck, 0.85, "fullfact"},

	// Structured data providers backing the specialized adapters. These hosts
	// appear as evidence URLs on adapter hits, so they need profiles of their
	// own or the ranker would reset them to the general default.
	"football-data.org": {model.TierGeneral, 0.85, "football_data"},
	"transfermarkt.com": {model.TierGeneral, 0.8, "transfermarkt"},
	"weatherapi.com":    {model.TierGeneral, 0.85, "weatherapi"},
	"gbif.org":          {model.TierScientific, 0.9, "gbif"},
	"alphavantage.co":   {model.TierGeneral, 0.85, "alphavantage"},

	// Reference.
	"wikipedia.org": {model.TierGeneral, 0.8, "wikimedia"},
	"wikidata.org":  {model.TierGeneral, 0.85, "wikimedia"},
	"britannica.com": {model.TierGeneral, 0.85, "britannica"},
	"archive.org":   {model.TierGeneral, 0.75, "archive"},
}

// autoExcludeDomains never count as evidence: user-generated content,
// satire, and link aggregators.
var autoExcludeDomains = []string{
	"twitter.com", "x.com", "facebook.com", "instagram.com", "tiktok.com",
	"reddit.com", "youtube.com", "pinterest.com", "quora.com",
	"medium.com", "substack.com", "tumblr.com",
	"theonion.com", "babylonbee.com", "dailymash.co.uk", "newsthump.com",
	"answers.com", "ehow.com",
}

// factCheckDomains identifies fact-checking publishers when the search
// pipeline should exclude them from regular evidence (they enter through the
// dedicated fact-check adapter instead).
var factCheckDomains = []string{
	"snopes.com", "politifact.com", "factcheck.org", "fullfact.org",
	"leadstories.com", "checkyourfact.com",
}

const (
	defaultCredibility = 0.6
	blogCredibility    = 0.4
)

// profileFor resolves the credibility profile for a URL.
func profileFor(rawURL string) sourceProfile {
	host := hostname(rawURL)
	if host == "" {
		return sourceProfile{model.TierGeneral, defaultCredibility, ""}
	}

	for domain, p := range sourceProfiles {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return p
		}
	}

	// Heuristic boosts for institutional TLD families.
	switch {
	case strings.HasSuffix(host, ".gov") || strings.Contains(host, ".gov."):
		return sourceProfile{model.TierGovernment, 0.9, ""}
	case strings.HasSuffix(host, ".edu") || strings.HasSuffix(host, ".ac.uk"):
		return sourceProfile{model.TierAcademic, 0.85, ""}
	case strings.Contains(host, "blog") || strings.HasSuffix(host, ".wordpress.com") || strings.HasSuffix(host, ".blogspot.com"):
		return sourceProfile{model.TierBlog, blogCredibility, ""}
	}
	return sourceProfile{model.TierGeneral, defaultCredibility, ""}
}

func isAutoExcluded(rawURL string) bool {
	return hostMatchesAny(rawURL, autoExcludeDomains)
}

func isFactCheckSite(rawURL string) bool {
	return hostMatchesAny(rawURL, factCheckDomains)
}

func hostMatchesAny(rawURL string, domains []string) bool {
	host := hostname(rawURL)
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// sameArticleURL reports whether two URLs identify the same page, ignoring
// scheme, a www prefix, trailing slashes, and query/fragment noise.
func sameArticleURL(a, b string) bool {
	ha, hb := hostname(a), hostname(b)
	if ha == "" || ha != hb {
		return false
	}
	return articlePath(a) == articlePath(b)
}

func articlePath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimRight(strings.ToLower(u.Path), "/")
}

func hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// registrableDomain collapses a hostname to its publisher domain for the
// per-domain evidence cap ("amp.theguardian.com" and "theguardian.com" are
// one publisher).
func registrableDomain(rawURL string) string {
	host := hostname(rawURL)
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	// Keep three labels for multi-part public suffixes (co.uk, gov.uk, ...).
	suffix := parts[len(parts)-2] + "." + parts[len(parts)-1]
	switch suffix {
	case "co.uk", "gov.uk", "ac.uk", "org.uk", "com.au", "co.jp":
		return strings.Join(parts[len(parts)-3:], ".")
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

// recencyFactor scales final scores by evidence age for time-sensitive
// claims: fresh evidence keeps 1.0, evidence beyond the claim's window decays
// to a floor of 0.8. Undated evidence is left alone rather than punished.
func recencyFactor(publishedDate *string, maxAgeDays int, now time.Time) float64 {
	if publishedDate == nil || maxAgeDays <= 0 {
		return 1.0
	}
	published, ok := parseEvidenceDate(*publishedDate)
	if !ok {
		return 1.0
	}
	age := now.Sub(published)
	window := time.Duration(maxAgeDays) * 24 * time.Hour
	if age <= window {
		return 1.0
	}
	// Linear decay from 1.0 to 0.8 over one extra window.
	excess := float64(age-window) / float64(window)
	if excess > 1 {
		excess = 1
	}
	return 1.0 - 0.2*excess
}

// evidenceDateFormats covers the date shapes providers actually emit.
var evidenceDateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 January 2006",
}

func parseEvidenceDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range evidenceDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
