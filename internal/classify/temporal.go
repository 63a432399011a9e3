package classify

import (
	"regexp"
	"strconv"
	"time"

	"github.com/veridex-ai/veridex/internal/model"
)

// Temporal pattern classes. Each detected class maps to an evidence window
// and a maximum evidence age used both for search freshness filters and for
// post-retrieval staleness rejection.
var (
	presentPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(is|are|remains?|stands? at|currently|as of (today|now)|right now|at present)\b`),
		regexp.MustCompile(`(?i)\b(today|this (week|morning|month))\b`),
	}
	recentPastPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(recently|last (week|month)|in recent (weeks|months)|earlier this (year|month))\b`),
		regexp.MustCompile(`(?i)\b(just|newly) (announced|released|published|reported)\b`),
	}
	specificYearPattern = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	historicalPatterns  = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(historically|in the (19|20)th century|decades? ago|was (the )?(first|last))\b`),
		regexp.MustCompile(`(?i)\b(founded|established|invented|discovered) in\b`),
	}
	futurePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(will|is (expected|projected|forecast) to|by (20\d{2})|next (year|month|week))\b`),
	}
)

// Age bounds per temporal class, in days. Zero means unbounded.
const (
	maxAgePresent    = 30
	maxAgeRecentPast = 90
	maxAgeSpecYear   = 365
)

// AnalyzeTemporal inspects claim text for time sensitivity.
func AnalyzeTemporal(text string) model.TemporalAnalysis {
	markers := collect(text, presentPatterns)
	if len(markers) > 0 {
		return model.TemporalAnalysis{
			IsTimeSensitive:    true,
			Window:             model.WindowCurrentMonth,
			Markers:            markers,
			MaxEvidenceAgeDays: maxAgePresent,
		}
	}

	if markers = collect(text, recentPastPatterns); len(markers) > 0 {
		return model.TemporalAnalysis{
			IsTimeSensitive:    true,
			Window:             model.WindowCurrentYear,
			Markers:            markers,
			MaxEvidenceAgeDays: maxAgeRecentPast,
		}
	}

	if markers = collect(text, futurePatterns); len(markers) > 0 {
		// Predictions are flagged but evidence age is unbounded: forecasts
		// and announcements about the future can be arbitrarily old.
		return model.TemporalAnalysis{
			IsTimeSensitive: true,
			Window:          model.WindowAny,
			Markers:         markers,
		}
	}

	if m := specificYearPattern.FindString(text); m != "" {
		if year, err := strconv.Atoi(m); err == nil && year < time.Now().Year()-2 {
			return model.TemporalAnalysis{
				IsTimeSensitive: false,
				Window:          model.WindowHistorical,
				Markers:         []string{m},
			}
		}
		return model.TemporalAnalysis{
			IsTimeSensitive:    true,
			Window:             model.WindowCurrentYear,
			Markers:            []string{m},
			MaxEvidenceAgeDays: maxAgeSpecYear,
		}
	}

	if markers = collect(text, historicalPatterns); len(markers) > 0 {
		return model.TemporalAnalysis{
			IsTimeSensitive: false,
			Window:          model.WindowHistorical,
			Markers:         markers,
		}
	}

	return model.TemporalAnalysis{IsTimeSensitive: false, Window: model.WindowAny}
}

// FreshnessCode maps a temporal window to the web-search freshness filter
// ("pd" past day, "pw" past week, "pm" past month, "py" past year).
func FreshnessCode(w model.TemporalWindow) string {
	switch w {
	case model.WindowCurrentDay:
		return "pd"
	case model.WindowCurrentWeek:
		return "pw"
	case model.WindowCurrentMonth:
		return "pm"
	case model.WindowCurrentYear:
		return "py"
	}
	return ""
}

// MoreRestrictiveFreshness returns the tighter of two freshness codes.
// An empty code means unbounded.
func MoreRestrictiveFreshness(a, b string) string {
	rank := func(code string) int {
		switch code {
		case "pd":
			return 1
		case "pw":
			return 2
		case "pm":
			return 3
		case "py":
			return 4
		}
		return 5
	}
	if rank(a) <= rank(b) {
		return a
	}
	return b
}

func collect(text string, patterns []*regexp.Regexp) []string {
	var markers []string
	for _, p := range patterns {
		if m := p.FindString(text); m != "" {
			markers = append(markers, m)
		}
	}
	return markers
}
