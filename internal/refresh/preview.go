package refresh

import (
	"time"
)

// Age categories reported by Preview.
const (
	CategoryUpcoming    = "upcoming"
	CategoryCurrentYear = "current_year"
	CategoryLastYear    = "last_year"
	CategoryRecent      = "recent"
	CategoryOlder       = "older"
	CategoryUnknown     = "unknown"
)

// AgeCategory buckets a publication year relative to the current year.
func AgeCategory(year *int, currentYear int) string {
	switch {
	case year == nil:
		return CategoryUnknown
	case *year > currentYear:
		return CategoryUpcoming
	case *year == currentYear:
		return CategoryCurrentYear
	case *year == currentYear-1:
		return CategoryLastYear
	case *year >= currentYear-5:
		return CategoryRecent
	default:
		return CategoryOlder
	}
}

// CategoryStats counts items in one age category.
type CategoryStats struct {
	Items        int     `json:"items" yaml:"items"`
	Due          int     `json:"due" yaml:"due"`
	NeverFetched int     `json:"never_fetched" yaml:"never_fetched"`
}

// PreviewReport summarizes what the next refresh run would do without fetching anything.
type PreviewReport struct {
	GeneratedAt    time.Time                `json:"generated_at" yaml:"generated_at"`
	CurrentYear    int                      `json:"current_year" yaml:"current_year"`
	TotalItems     int                      `json:"total_items" yaml:"total_items"`
	NeverFetched   int                      `json:"never_fetched" yaml:"never_fetched"`
	DueForRefresh  int                      `json:"due_for_refresh" yaml:"due_for_refresh"`
	Selected       int                      `json:"selected" yaml:"selected"`
	EstimatedCalls int                      `json:"estimated_api_calls" yaml:"estimated_api_calls"`
	Categories     map[string]CategoryStats `json:"categories" yaml:"categories"`
}

// Preview evaluates candidates the way a run would and reports counts per age category.
// Parameters:
//   - candidates: every known item evaluated at now.
//   - now: evaluation instant.
// Returns:
//   - PreviewReport: counts plus the number of remote calls the next batch would cost.
func (p Policy) Preview(candidates []Candidate, now time.Time) PreviewReport {
	currentYear := now.UTC().Year()
	report := PreviewReport{
		GeneratedAt: now,
		CurrentYear: currentYear,
		TotalItems:  len(candidates),
		Categories:  make(map[string]CategoryStats),
	}

	for _, c := range candidates {
		cat := AgeCategory(c.PublicationYear, currentYear)
		stats := report.Categories[cat]
		stats.Items++
		switch {
		case c.NeverFetched:
			stats.NeverFetched++
			report.NeverFetched++
		case c.Due:
			stats.Due++
			report.DueForRefresh++
		}
		report.Categories[cat] = stats
	}

	report.Selected = len(Select(candidates, p.BatchSize))
	if p.ChunkSize > 0 {
		report.EstimatedCalls = (report.Selected + p.ChunkSize - 1) / p.ChunkSize
	}
	return report
}
