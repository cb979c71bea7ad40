package fetch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is the request budget shared by every fetch worker of a run.
// It is a token bucket that never exceeds its configured ceiling. Throttle
// responses halve the rate (down to a floor) and pause all callers for a
// cool-off; successes step the rate back up towards the ceiling.
type Limiter struct {
	mu        sync.Mutex
	lim       *rate.Limiter
	curr      rate.Limit
	min, max  rate.Limit
	step      rate.Limit
	okEvery   int
	okCount   int
	coolOff   time.Duration
	coolUntil time.Time
}

// LimiterConfig configures a Limiter.
type LimiterConfig struct {
	RatePerSecond float64       // ceiling, default 2
	MinRate       float64       // floor after throttling, default RatePerSecond/4
	CoolOff       time.Duration // pause after a throttle response
	RecoverEvery  int           // successes needed per step back up
}

// NewLimiter creates a limiter starting at its ceiling.
// Parameters:
//   - cfg: rate ceiling, floor and recovery settings; zero fields take defaults.
// Returns:
//   - *Limiter: limiter safe for concurrent use.
func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 2
	}
	if cfg.MinRate <= 0 || cfg.MinRate > cfg.RatePerSecond {
		cfg.MinRate = cfg.RatePerSecond / 4
	}
	if cfg.RecoverEvery <= 0 {
		cfg.RecoverEvery = 10
	}
	ceiling := rate.Limit(cfg.RatePerSecond)
	return &Limiter{
		lim:     rate.NewLimiter(ceiling, 1),
		curr:    ceiling,
		min:     rate.Limit(cfg.MinRate),
		max:     ceiling,
		step:    rate.Limit((cfg.RatePerSecond - cfg.MinRate) / 4),
		okEvery: cfg.RecoverEvery,
		coolOff: cfg.CoolOff,
	}
}

// Wait blocks until a request may be sent. It only fails when ctx ends.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	cool := l.coolUntil
	lim := l.lim
	l.mu.Unlock()

	if d := time.Until(cool); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lim.Wait(ctx)
}

// OnSuccess records a non-throttled response.
func (l *Limiter) OnSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.okCount++
	if l.okCount < l.okEvery {
		return
	}
	l.okCount = 0
	next := min(l.curr+l.step, l.max)
	if next != l.curr {
		l.curr = next
		l.lim.SetLimit(next)
	}
}

// OnThrottle records a too-many-requests response.
// Parameters:
//   - retryAfter: server-suggested pause; the cool-off is the larger of it and the configured one.
func (l *Limiter) OnThrottle(retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := max(l.curr/2, l.min)
	if next != l.curr {
		l.curr = next
		l.lim.SetLimit(next)
	}
	l.okCount = 0
	pause := max(l.coolOff, retryAfter)
	if until := time.Now().Add(pause); until.After(l.coolUntil) {
		l.coolUntil = until
	}
}

// Rate returns the current requests-per-second budget.
func (l *Limiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return float64(l.curr)
}
