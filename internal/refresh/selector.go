package refresh

import (
	"sort"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
)

// Candidate is an item evaluated against a policy at a given instant.
type Candidate struct {
	ItemID          int64         `json:"item_id"`
	PublicationYear *int          `json:"publication_year,omitempty"`
	LastFetch       time.Time     `json:"last_fetch,omitempty"`
	NeverFetched    bool          `json:"never_fetched"`
	Interval        time.Duration `json:"interval"`
	Overdue         time.Duration `json:"overdue"`
	Due             bool          `json:"due"`
	Saturated       bool          `json:"saturated"`
}

// Evaluate computes interval, due-ness and overdue magnitude for one item.
// Parameters:
//   - item: the item and its publication year, if known.
//   - lastFetch: latest fetch time across all of the item's fetch events; zero when never fetched.
//   - now: evaluation instant; its UTC year is the current year.
// Returns:
//   - Candidate: the evaluated item.
func (p Policy) Evaluate(item domain.Item, lastFetch time.Time, now time.Time) Candidate {
	currentYear := now.UTC().Year()
	c := Candidate{
		ItemID:          item.ItemID,
		PublicationYear: item.PublicationYear,
		LastFetch:       lastFetch,
		NeverFetched:    lastFetch.IsZero(),
		Interval:        p.Interval(item.PublicationYear, currentYear),
		Saturated:       p.Saturated(item.PublicationYear, currentYear),
	}
	if c.NeverFetched {
		c.Due = true
		return c
	}
	age := now.Sub(lastFetch)
	c.Overdue = age - c.Interval
	c.Due = age >= c.Interval
	return c
}

// lowestTier holds due items whose age cannot refine their priority: saturated
// items all share MaxInterval and unknown-year items have no age at all.
func (c Candidate) lowestTier() bool {
	return c.Saturated || c.PublicationYear == nil
}

// Select picks at most limit due candidates in priority order.
// Never-fetched items come first by ascending id. The remaining budget goes to due
// items by publication year descending then overdue magnitude descending; saturated
// and unknown-year items follow as one tier ordered by overdue magnitude.
// Parameters:
//   - candidates: evaluated items; entries that are not due are ignored.
//   - limit: batch budget; non-positive selects nothing.
// Returns:
//   - []Candidate: the selection in processing order.
func Select(candidates []Candidate, limit int) []Candidate {
	if limit <= 0 {
		return nil
	}

	var never, due []Candidate
	for _, c := range candidates {
		switch {
		case c.NeverFetched:
			never = append(never, c)
		case c.Due:
			due = append(due, c)
		}
	}

	sort.Slice(never, func(i, j int) bool { return never[i].ItemID < never[j].ItemID })
	sort.Slice(due, func(i, j int) bool { return dueBefore(due[i], due[j]) })

	selected := make([]Candidate, 0, min(limit, len(never)+len(due)))
	for _, group := range [][]Candidate{never, due} {
		for _, c := range group {
			if len(selected) == limit {
				return selected
			}
			selected = append(selected, c)
		}
	}
	return selected
}

func dueBefore(a, b Candidate) bool {
	aLow, bLow := a.lowestTier(), b.lowestTier()
	if aLow != bLow {
		return !aLow
	}
	if !aLow && *a.PublicationYear != *b.PublicationYear {
		return *a.PublicationYear > *b.PublicationYear
	}
	if a.Overdue != b.Overdue {
		return a.Overdue > b.Overdue
	}
	return a.ItemID < b.ItemID
}
