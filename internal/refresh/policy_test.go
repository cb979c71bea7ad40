package refresh

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
)

func yearPtr(y int) *int { return &y }

func testPolicy() Policy {
	p := DefaultPolicy()
	p.BaseInterval = 7 * Day
	p.DecayFactor = 2.0
	p.MaxInterval = 90 * Day
	p.UpcomingInterval = 3 * Day
	p.UnknownInterval = 30 * Day
	return p
}

// TestIntervalDecaySchedule checks the documented decay table for 2025.
func TestIntervalDecaySchedule(t *testing.T) {
	p := testPolicy()
	testCases := []struct {
		name string
		year int
		want time.Duration
	}{
		{name: "current year", year: 2025, want: 7 * Day},
		{name: "one year old", year: 2024, want: 14 * Day},
		{name: "two years old", year: 2023, want: 28 * Day},
		{name: "three years old", year: 2022, want: 56 * Day},
		{name: "raw 112 capped", year: 2021, want: 90 * Day},
		{name: "saturated", year: 2020, want: 90 * Day},
		{name: "upcoming", year: 2026, want: 3 * Day},
		{name: "ancient", year: -3000, want: 90 * Day},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := p.Interval(yearPtr(tc.year), 2025)
			if got != tc.want {
				t.Errorf("Interval(%d): got %s, want %s", tc.year, got, tc.want)
			}
		})
	}
}

// TestIntervalUnknownYear verifies unknown years use their own tier.
func TestIntervalUnknownYear(t *testing.T) {
	p := testPolicy()
	got := p.Interval(nil, 2025)
	if got != p.UnknownInterval {
		t.Errorf("unknown year: got %s, want %s", got, p.UnknownInterval)
	}
	if got == p.BaseInterval || got == p.UpcomingInterval {
		t.Errorf("unknown year tier %s collides with another tier", got)
	}
}

// TestIntervalMonotonic verifies intervals never shrink as items get older and never exceed the max.
func TestIntervalMonotonic(t *testing.T) {
	policies := []Policy{testPolicy()}
	slow := testPolicy()
	slow.DecayFactor = 1.1
	policies = append(policies, slow)
	flat := testPolicy()
	flat.DecayFactor = 1.0
	policies = append(policies, flat)

	for _, p := range policies {
		prev := time.Duration(0)
		for year := 2025; year >= 1800; year-- {
			got := p.Interval(yearPtr(year), 2025)
			if got < prev {
				t.Fatalf("decay %v: Interval(%d)=%s shorter than newer year's %s", p.DecayFactor, year, got, prev)
			}
			if got > p.MaxInterval {
				t.Fatalf("decay %v: Interval(%d)=%s exceeds max %s", p.DecayFactor, year, got, p.MaxInterval)
			}
			prev = got
		}
	}
}

// TestIntervalBoundaries checks the base and upcoming edges.
func TestIntervalBoundaries(t *testing.T) {
	p := testPolicy()
	if got := p.Interval(yearPtr(2030), 2030); got != p.BaseInterval {
		t.Errorf("current year: got %s, want %s", got, p.BaseInterval)
	}
	if got := p.Interval(yearPtr(2031), 2030); got != p.UpcomingInterval {
		t.Errorf("next year: got %s, want %s", got, p.UpcomingInterval)
	}
}

func TestSaturationAge(t *testing.T) {
	p := testPolicy()
	if got := p.SaturationAge(); got != 4 {
		t.Errorf("SaturationAge: got %d, want 4", got)
	}
	if p.Saturated(yearPtr(2022), 2025) {
		t.Error("2022 should not be saturated")
	}
	if !p.Saturated(yearPtr(2021), 2025) {
		t.Error("2021 should be saturated")
	}
	if p.Saturated(nil, 2025) {
		t.Error("unknown year should not be saturated")
	}
}

// TestIntervalAncientYears checks that extreme years clamp to MaxInterval
// instead of overflowing into a negative age.
func TestIntervalAncientYears(t *testing.T) {
	p := testPolicy()
	for _, year := range []int{math.MinInt, math.MinInt + 10, -1_000_000_000, -3000} {
		if got := p.Interval(yearPtr(year), 2025); got != p.MaxInterval {
			t.Errorf("Interval(%d): got %s, want %s", year, got, p.MaxInterval)
		}
		if !p.Saturated(yearPtr(year), 2025) {
			t.Errorf("Saturated(%d): got false, want true", year)
		}
	}
}

// TestSaturationAgeExactBoundary covers ratios where the logarithm lands just
// above an integer: base 3d, decay 3 reaches 243d exactly at age 4.
func TestSaturationAgeExactBoundary(t *testing.T) {
	p := testPolicy()
	p.BaseInterval = 3 * Day
	p.DecayFactor = 3
	p.MaxInterval = 243 * Day

	if got := p.SaturationAge(); got != 4 {
		t.Errorf("SaturationAge: got %d, want 4", got)
	}
	for age := 0; age <= 8; age++ {
		year := 2025 - age
		atMax := p.Interval(yearPtr(year), 2025) == p.MaxInterval
		if atMax != p.Saturated(yearPtr(year), 2025) {
			t.Errorf("age %d: interval at max=%v, saturated=%v", age, atMax, !atMax)
		}
	}
}

func TestPolicyValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(p *Policy)
		valid  bool
	}{
		{name: "defaults", mutate: func(p *Policy) {}, valid: true},
		{name: "zero base", mutate: func(p *Policy) { p.BaseInterval = 0 }},
		{name: "max below base", mutate: func(p *Policy) { p.MaxInterval = Day }},
		{name: "decay below one", mutate: func(p *Policy) { p.DecayFactor = 0.5 }},
		{name: "chunk too large", mutate: func(p *Policy) { p.ChunkSize = 21 }},
		{name: "zero batch", mutate: func(p *Policy) { p.BatchSize = 0 }},
		{name: "zero attempt cap", mutate: func(p *Policy) { p.AttemptCap = 0 }},
		{name: "zero claim ttl", mutate: func(p *Policy) { p.ClaimTTL = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultPolicy()
			tc.mutate(&p)
			err := p.Validate()
			if tc.valid && err != nil {
				t.Errorf("expected valid policy, got %v", err)
			}
			if !tc.valid && !errors.Is(err, domain.ErrInvalidPolicy) {
				t.Errorf("expected ErrInvalidPolicy, got %v", err)
			}
		})
	}
}
