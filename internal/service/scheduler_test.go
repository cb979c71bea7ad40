package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/refresh"
)

func TestSchedulerRecordsEveryDefinitiveOutcome(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	h.sight(t, 1, 2, 3, 4, 5)
	h.serve(1, 2020)
	h.serve(2, 2024)
	h.serve(3, 1995)

	stats, err := h.scheduler.Run(ctx, RunOptions{Mode: RunModeAll})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Selected != 5 || stats.Claimed != 5 {
		t.Errorf("selected/claimed: got %d/%d, want 5/5", stats.Selected, stats.Claimed)
	}
	if stats.Success != 3 || stats.Empty != 2 {
		t.Errorf("success/empty: got %d/%d, want 3/2", stats.Success, stats.Empty)
	}
	if got := pendingIDs(t, h.tracker); len(got) != 3 {
		t.Errorf("pending: got %v, want 3 payloads", got)
	}

	// Everything was just fetched, so nothing is due.
	again, err := h.scheduler.Run(ctx, RunOptions{Mode: RunModeAll})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if again.Selected != 0 {
		t.Errorf("second run selected %d, want 0", again.Selected)
	}
}

func TestSchedulerHonoursLimitAndChunkSize(t *testing.T) {
	h := newHarness(t, 1)
	ids := make([]int64, 45)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	h.sight(t, ids...)

	stats, err := h.scheduler.Run(context.Background(), RunOptions{Limit: 30})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Selected != 30 || stats.Chunks != 2 {
		t.Errorf("selected/chunks: got %d/%d, want 30/2", stats.Selected, stats.Chunks)
	}
	for _, chunk := range h.remote.requested {
		if len(chunk) > refresh.MaxChunkSize {
			t.Errorf("chunk of %d ids exceeds %d", len(chunk), refresh.MaxChunkSize)
		}
	}
	if h.remote.requested[0][0] != 1 {
		t.Errorf("first requested id: got %d, want 1", h.remote.requested[0][0])
	}
}

func TestSchedulerTransientFailuresStayDue(t *testing.T) {
	h := newHarness(t, 1)
	h.sight(t, 1, 2)
	h.remote.status = http.StatusServiceUnavailable

	stats, err := h.scheduler.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Transient != 2 {
		t.Errorf("transient: got %d, want 2", stats.Transient)
	}

	due, err := h.tracker.UnfetchedOrDue(context.Background(), h.clock.Now(), 10)
	if err != nil {
		t.Fatalf("UnfetchedOrDue: %v", err)
	}
	if len(due) != 2 || !due[0].NeverFetched {
		t.Errorf("after transient failure: got %+v, want both still never fetched", due)
	}
}

func TestSchedulerAbortsOnFatalAuth(t *testing.T) {
	h := newHarness(t, 1)
	ids := make([]int64, 50)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	h.sight(t, ids...)
	h.remote.status = http.StatusUnauthorized

	stats, err := h.scheduler.Run(context.Background(), RunOptions{})
	if !errors.Is(err, domain.ErrFatalAuth) {
		t.Fatalf("got %v, want ErrFatalAuth", err)
	}
	if h.remote.calls() != 1 {
		t.Errorf("remote calls: got %d, want 1", h.remote.calls())
	}
	if stats.Fatal != 20 {
		t.Errorf("fatal outcomes: got %d, want 20", stats.Fatal)
	}

	// Claims are released, so a later run can pick the items up again.
	claims, err := h.tracker.ActiveClaims(context.Background(), domain.StageFetch, h.clock.Now())
	if err != nil {
		t.Fatalf("ActiveClaims: %v", err)
	}
	if len(claims) != 0 {
		t.Errorf("active claims after run: got %d, want 0", len(claims))
	}
}

func TestSchedulerDryRunWritesNothing(t *testing.T) {
	h := newHarness(t, 1)
	h.sight(t, 1, 2, 3)
	before := h.store.Len()

	stats, err := h.scheduler.Run(context.Background(), RunOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(stats.Candidates) != 3 {
		t.Errorf("candidates: got %d, want 3", len(stats.Candidates))
	}
	if h.store.Len() != before || h.remote.calls() != 0 {
		t.Errorf("dry run wrote %d rows and made %d calls", h.store.Len()-before, h.remote.calls())
	}
}

func TestSchedulerModes(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	h.sight(t, 1)
	h.serve(1, 2024)
	if _, err := h.scheduler.Run(ctx, RunOptions{}); err != nil {
		t.Fatalf("initial Run: %v", err)
	}

	// Item 1 has an unknown year until processed, so it is due after 30 days.
	h.clock.Advance(31 * refresh.Day)
	h.sight(t, 2)
	h.serve(2, 2025)

	refreshStats, err := h.scheduler.Run(ctx, RunOptions{Mode: RunModeRefresh, DryRun: true})
	if err != nil {
		t.Fatalf("refresh Run: %v", err)
	}
	if len(refreshStats.Candidates) != 1 || refreshStats.Candidates[0].ItemID != 1 {
		t.Errorf("refresh mode: got %+v, want only item 1", refreshStats.Candidates)
	}

	newStats, err := h.scheduler.Run(ctx, RunOptions{Mode: RunModeNew, DryRun: true})
	if err != nil {
		t.Fatalf("new Run: %v", err)
	}
	if len(newStats.Candidates) != 1 || newStats.Candidates[0].ItemID != 2 {
		t.Errorf("new mode: got %+v, want only item 2", newStats.Candidates)
	}
}
