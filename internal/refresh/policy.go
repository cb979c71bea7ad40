package refresh

import (
	"fmt"
	"math"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
)

// Day is the unit refresh intervals are configured in.
const Day = 24 * time.Hour

// MaxChunkSize is the largest id batch the remote service accepts per request.
const MaxChunkSize = 20

// Policy holds the refresh configuration for one run. It is immutable once built;
// intervals are always recomputed from it and never stored per item.
type Policy struct {
	BaseInterval     time.Duration
	DecayFactor      float64
	MaxInterval      time.Duration
	UpcomingInterval time.Duration
	UnknownInterval  time.Duration
	BatchSize        int
	ChunkSize        int
	AttemptCap       int
	ClaimTTL         time.Duration
}

// DefaultPolicy returns the production defaults.
// Parameters: none.
// Returns:
//   - Policy: weekly refresh for current-year items, doubling per year of age up to 90 days.
func DefaultPolicy() Policy {
	return Policy{
		BaseInterval:     7 * Day,
		DecayFactor:      2.0,
		MaxInterval:      90 * Day,
		UpcomingInterval: 3 * Day,
		UnknownInterval:  30 * Day,
		BatchSize:        1000,
		ChunkSize:        MaxChunkSize,
		AttemptCap:       3,
		ClaimTTL:         30 * time.Minute,
	}
}

// Validate checks that the policy can drive a run.
// Parameters: none.
// Returns:
//   - error: wraps domain.ErrInvalidPolicy describing the first bad field.
func (p Policy) Validate() error {
	switch {
	case p.BaseInterval <= 0:
		return fmt.Errorf("%w: base interval must be positive", domain.ErrInvalidPolicy)
	case p.MaxInterval < p.BaseInterval:
		return fmt.Errorf("%w: max interval %s below base interval %s", domain.ErrInvalidPolicy, p.MaxInterval, p.BaseInterval)
	case p.UpcomingInterval <= 0:
		return fmt.Errorf("%w: upcoming interval must be positive", domain.ErrInvalidPolicy)
	case p.UnknownInterval <= 0:
		return fmt.Errorf("%w: unknown-year interval must be positive", domain.ErrInvalidPolicy)
	case p.DecayFactor < 1 || math.IsNaN(p.DecayFactor) || math.IsInf(p.DecayFactor, 0):
		return fmt.Errorf("%w: decay factor %v must be a finite value >= 1", domain.ErrInvalidPolicy, p.DecayFactor)
	case p.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive", domain.ErrInvalidPolicy)
	case p.ChunkSize <= 0 || p.ChunkSize > MaxChunkSize:
		return fmt.Errorf("%w: chunk size %d outside [1, %d]", domain.ErrInvalidPolicy, p.ChunkSize, MaxChunkSize)
	case p.AttemptCap <= 0:
		return fmt.Errorf("%w: attempt cap must be positive", domain.ErrInvalidPolicy)
	case p.ClaimTTL <= 0:
		return fmt.Errorf("%w: claim ttl must be positive", domain.ErrInvalidPolicy)
	}
	return nil
}

// SaturationAge returns the smallest age in years whose decayed interval reaches
// MaxInterval. Every older item refreshes at MaxInterval.
// The logarithm only gives a starting point; the search uses the same
// comparison as Interval so both agree at exact boundaries.
func (p Policy) SaturationAge() int {
	if p.BaseInterval >= p.MaxInterval {
		return 0
	}
	if p.DecayFactor <= 1 {
		return math.MaxInt32
	}
	ratio := float64(p.MaxInterval) / float64(p.BaseInterval)
	age := max(int(math.Floor(math.Log(ratio)/math.Log(p.DecayFactor)))-1, 0)
	for age > 0 && p.raw(age-1) >= float64(p.MaxInterval) {
		age--
	}
	for p.raw(age) < float64(p.MaxInterval) {
		age++
	}
	return age
}

func (p Policy) raw(age int) float64 {
	return float64(p.BaseInterval) * math.Pow(p.DecayFactor, float64(age))
}

// Interval returns how long an item may go without a fetch.
// Parameters:
//   - year: publication year, nil when unknown.
//   - currentYear: calendar year of "now".
// Returns:
//   - time.Duration: the refresh interval under this policy.
func (p Policy) Interval(year *int, currentYear int) time.Duration {
	if year == nil {
		return p.UnknownInterval
	}
	if *year > currentYear {
		return p.UpcomingInterval
	}
	if p.Saturated(year, currentYear) {
		return p.MaxInterval
	}
	raw := p.raw(currentYear - *year)
	if raw >= float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(raw)
}

// Saturated reports whether an item of the given year refreshes at MaxInterval
// because of its age. Unknown and upcoming years are never saturated.
// The year is compared against a cutoff rather than subtracted, so ancient
// years cannot overflow into a negative age.
func (p Policy) Saturated(year *int, currentYear int) bool {
	if year == nil || *year > currentYear {
		return false
	}
	sat := p.SaturationAge()
	if currentYear < math.MinInt+sat {
		return false
	}
	return *year <= currentYear-sat
}
