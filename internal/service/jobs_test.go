package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/refresh"
	"github.com/timmy/catalogsync/internal/tracker"
)

type staticDiscoverer struct {
	sightings []domain.Sighting
}

func (d *staticDiscoverer) Name() string { return "static" }

func (d *staticDiscoverer) Discover(ctx context.Context) ([]domain.Sighting, error) {
	return d.sightings, nil
}

func newRunner(h *harness, ids ...int64) *JobRunner {
	d := &staticDiscoverer{}
	for _, id := range ids {
		d.sightings = append(d.sightings, domain.Sighting{ItemID: id, ItemType: "boardgame"})
	}
	return NewJobRunner(NewDiscoveryService(h.tracker, d), h.scheduler, h.pipeline, time.Minute)
}

func TestJobAllStopsBeforeProcessing(t *testing.T) {
	h := newHarness(t, 2)
	h.serve(1, 2020)
	h.serve(2, 2021)
	runner := newRunner(h, 1, 2, 3)

	res, err := runner.Run(context.Background(), JobAll, JobOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Discovery == nil || res.Discovery.New != 3 {
		t.Errorf("discovery: got %+v, want 3 new", res.Discovery)
	}
	if res.Fetch == nil || res.Fetch.Success != 2 || res.Fetch.Empty != 1 {
		t.Errorf("fetch: got %+v, want 2 success 1 empty", res.Fetch)
	}
	if res.Process != nil {
		t.Errorf("process: got %+v, want no processing stage", res.Process)
	}
	if res.Running || res.FinishedAt == nil {
		t.Errorf("result not finished: %+v", res)
	}
	if status := runner.Status(); status == nil || status.ID != res.ID {
		t.Errorf("Status: got %+v, want last result", status)
	}
	if got := pendingIDs(t, h.tracker); len(got) != 2 {
		t.Errorf("pending after all: got %v, want 2 payloads", got)
	}

	res, err = runner.Run(context.Background(), JobProcess, JobOptions{})
	if err != nil {
		t.Fatalf("Run process: %v", err)
	}
	if res.Process == nil || res.Process.Processed != 2 {
		t.Errorf("process: got %+v, want 2 processed", res.Process)
	}
}

// TestProcessInvocationWaitsForVisibilityLag runs processing through a second
// tracker over the same store, as a separate invocation would.
func TestProcessInvocationWaitsForVisibilityLag(t *testing.T) {
	lag := 90 * time.Minute
	h := newLaggedHarness(t, 1, lag)
	h.serve(1, 2020)
	h.serve(2, 2021)
	h.sight(t, 1, 2)

	fetcher := NewJobRunner(nil, h.scheduler, h.pipeline, time.Minute)
	if _, err := fetcher.Run(context.Background(), JobFetch, JobOptions{}); err != nil {
		t.Fatalf("Run fetch: %v", err)
	}

	other := tracker.New(h.store, refresh.DefaultPolicy(), tracker.WithClock(h.clock.Now), tracker.WithWorker("processor"))
	processor := NewJobRunner(nil, h.scheduler,
		NewProcessingPipeline(other, h.payloads, h.catalog, &PipelineConfig{Workers: 1, BatchSize: 100}), time.Minute)

	res, err := processor.Run(context.Background(), JobProcess, JobOptions{})
	if err != nil {
		t.Fatalf("Run process: %v", err)
	}
	if res.Process.Pending != 0 {
		t.Errorf("pending before lag: got %d, want 0", res.Process.Pending)
	}

	h.clock.Advance(lag + time.Minute)
	res, err = processor.Run(context.Background(), JobProcess, JobOptions{})
	if err != nil {
		t.Fatalf("Run process: %v", err)
	}
	if res.Process.Processed != 2 {
		t.Errorf("processed after lag: got %d, want 2", res.Process.Processed)
	}
}

func TestDiscoverySkipsKnownItems(t *testing.T) {
	h := newHarness(t, 1)
	h.sight(t, 1)
	runner := newRunner(h, 1, 2, 2)

	res, err := runner.Run(context.Background(), JobDiscover, JobOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Discovery.Discovered != 3 || res.Discovery.New != 1 {
		t.Errorf("discovery: got %+v, want 3 discovered 1 new", res.Discovery)
	}
}

func TestJobRunnerRejectsConcurrentJobs(t *testing.T) {
	h := newHarness(t, 1)
	runner := newRunner(h)

	if _, err := runner.begin(JobFetch); err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, err := runner.Run(context.Background(), JobProcess, JobOptions{})
	if !errors.Is(err, domain.ErrJobRunning) {
		t.Errorf("got %v, want ErrJobRunning", err)
	}
	if _, err := runner.Run(context.Background(), "reindex", JobOptions{}); err == nil {
		t.Error("expected error for unknown job")
	}
}
