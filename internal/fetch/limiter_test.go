package fetch

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLimiterThrottleAndRecover(t *testing.T) {
	l := NewLimiter(LimiterConfig{RatePerSecond: 2, MinRate: 0.5, RecoverEvery: 2})

	l.OnThrottle(0)
	if got := l.Rate(); got != 1 {
		t.Fatalf("after throttle: got %.2f, want 1", got)
	}
	l.OnThrottle(0)
	l.OnThrottle(0)
	if got := l.Rate(); got != 0.5 {
		t.Fatalf("floor: got %.2f, want 0.5", got)
	}

	for i := 0; i < 20; i++ {
		l.OnSuccess()
	}
	if got := l.Rate(); got != 2 {
		t.Errorf("after recovery: got %.2f, want ceiling 2", got)
	}
}

// TestLimiterSharedAcrossWorkers checks concurrent waiters respect one budget.
func TestLimiterSharedAcrossWorkers(t *testing.T) {
	l := NewLimiter(LimiterConfig{RatePerSecond: 50})
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 4; i++ {
				if err := l.Wait(ctx); err != nil {
					t.Errorf("Wait: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	// 20 requests at 50/s with a burst of one need at least 19 intervals of 20ms.
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("20 waits finished in %s, budget not shared", elapsed)
	}
}

func TestLimiterCoolOffHonoursContext(t *testing.T) {
	l := NewLimiter(LimiterConfig{RatePerSecond: 100, CoolOff: time.Hour})
	l.OnThrottle(0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Error("expected Wait to fail when the context ends during cool-off")
	}
}
