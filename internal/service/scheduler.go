package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/fetch"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/refresh"
	"github.com/timmy/catalogsync/internal/storage"
	"github.com/timmy/catalogsync/internal/tracker"
)

// RunMode restricts which candidates a fetch run considers.
type RunMode string

const (
	RunModeAll     RunMode = "all"     // never-fetched and due items
	RunModeNew     RunMode = "new"     // never-fetched items only
	RunModeRefresh RunMode = "refresh" // previously fetched, due items only
)

// RunOptions holds options for one fetch run
type RunOptions struct {
	Mode   RunMode
	Limit  int  // capped at the policy batch size; <= 0 means the batch size
	DryRun bool // select only: no claims, fetches or records
}

// FetchStats holds statistics for a fetch run
type FetchStats struct {
	RunID      string              `json:"run_id" yaml:"run_id"`
	Mode       RunMode             `json:"mode" yaml:"mode"`
	DryRun     bool                `json:"dry_run" yaml:"dry_run"`
	Selected   int64               `json:"selected" yaml:"selected"`
	Claimed    int64               `json:"claimed" yaml:"claimed"`
	Chunks     int64               `json:"chunks" yaml:"chunks"`
	Success    int64               `json:"success" yaml:"success"`
	Empty      int64               `json:"empty" yaml:"empty"`
	ParseError int64               `json:"parse_error" yaml:"parse_error"`
	Transient  int64               `json:"transient" yaml:"transient"`
	Fatal      int64               `json:"fatal" yaml:"fatal"`
	StartTime  time.Time           `json:"start_time" yaml:"start_time"`
	EndTime    time.Time           `json:"end_time" yaml:"end_time"`
	Candidates []refresh.Candidate `json:"-" yaml:"-"`
}

// SchedulerConfig holds configuration for the refresh scheduler
type SchedulerConfig struct {
	Workers int
}

// RefreshScheduler selects unfetched or due items and fetches them through a
// bounded worker pool that shares one rate limiter.
type RefreshScheduler struct {
	tracker  *tracker.Tracker
	client   *fetch.Client
	payloads storage.PayloadStore
	workers  int
}

// NewRefreshScheduler creates a new refresh scheduler
func NewRefreshScheduler(
	tr *tracker.Tracker,
	client *fetch.Client,
	payloads storage.PayloadStore,
	cfg *SchedulerConfig,
) *RefreshScheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &RefreshScheduler{
		tracker:  tr,
		client:   client,
		payloads: payloads,
		workers:  workers,
	}
}

// Run executes one fetch run.
// Parameters:
//   - ctx: run context; cancelling it stops dispatching new chunks.
//   - opts: mode, limit and dry-run switch.
// Returns:
//   - *FetchStats: per-outcome counts, filled even when err is non-nil.
//   - error: wraps domain.ErrFatalAuth when the remote rejected our credentials,
//     or the error that prevented selection.
func (s *RefreshScheduler) Run(ctx context.Context, opts RunOptions) (*FetchStats, error) {
	if opts.Mode == "" {
		opts.Mode = RunModeAll
	}
	stats := &FetchStats{
		RunID:     uuid.NewString(),
		Mode:      opts.Mode,
		DryRun:    opts.DryRun,
		StartTime: time.Now(),
	}
	ctx = logger.SetRunID(ctx, stats.RunID)
	ctx = logger.SetStage(ctx, string(domain.StageFetch))
	log := logger.FromContext(ctx)

	policy := s.tracker.Policy()
	now := s.tracker.Now()
	selected, err := s.selectCandidates(ctx, opts, now)
	if err != nil {
		return stats, fmt.Errorf("failed to select candidates: %w", err)
	}
	stats.Selected = int64(len(selected))

	log.WithFields(logger.Fields{
		"mode":             opts.Mode,
		"limit":            opts.Limit,
		"dry_run":          opts.DryRun,
		logger.FieldCount:  len(selected),
		logger.FieldWorker: s.tracker.Worker(),
	}).Info("Starting fetch run")

	if opts.DryRun {
		stats.Candidates = selected
		stats.EndTime = time.Now()
		return stats, nil
	}

	ids := make([]int64, len(selected))
	for i, c := range selected {
		ids[i] = c.ItemID
	}
	granted, err := s.tracker.Claim(ctx, domain.StageFetch, ids, now)
	if err != nil {
		return stats, fmt.Errorf("failed to claim items: %w", err)
	}
	stats.Claimed = int64(len(granted))
	defer func() {
		// claims expire on their own; releasing early frees them for other workers
		if err := s.tracker.Release(context.WithoutCancel(ctx), domain.StageFetch, granted); err != nil {
			log.WithError(err).Warn("Failed to release fetch claims")
		}
	}()

	chunks := fetch.Chunk(granted, policy.ChunkSize)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		fatalOnce sync.Once
		fatalErr  error
	)
	chunkChan := make(chan []int64)
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range chunkChan {
				err := s.fetchChunk(runCtx, ctx, chunk, stats)
				if errors.Is(err, domain.ErrFatalAuth) {
					fatalOnce.Do(func() {
						fatalErr = err
						cancel()
					})
				}
			}
		}()
	}

dispatch:
	for _, chunk := range chunks {
		select {
		case chunkChan <- chunk:
			atomic.AddInt64(&stats.Chunks, 1)
		case <-runCtx.Done():
			break dispatch
		}
	}
	close(chunkChan)
	wg.Wait()

	stats.EndTime = time.Now()
	entry := log.WithFields(logger.Fields{
		"selected":             stats.Selected,
		"claimed":              stats.Claimed,
		"success":              stats.Success,
		"empty":                stats.Empty,
		"parse_error":          stats.ParseError,
		"transient":            stats.Transient,
		"fatal":                stats.Fatal,
		logger.FieldDurationMs: stats.EndTime.Sub(stats.StartTime).Milliseconds(),
	})
	if fatalErr != nil {
		entry.WithError(fatalErr).Error("Fetch run aborted")
		return stats, fatalErr
	}
	if err := ctx.Err(); err != nil {
		entry.Warn("Fetch run cancelled")
		return stats, err
	}
	entry.Info("Fetch run completed")
	return stats, nil
}

// selectCandidates applies the mode filter before the batch limit, so a
// refresh-only run is not crowded out by never-fetched items.
func (s *RefreshScheduler) selectCandidates(ctx context.Context, opts RunOptions, now time.Time) ([]refresh.Candidate, error) {
	policy := s.tracker.Policy()
	limit := opts.Limit
	if limit <= 0 || limit > policy.BatchSize {
		limit = policy.BatchSize
	}

	candidates, err := s.tracker.Candidates(ctx, now)
	if err != nil {
		return nil, err
	}
	filtered := candidates[:0]
	for _, c := range candidates {
		switch opts.Mode {
		case RunModeNew:
			if !c.NeverFetched {
				continue
			}
		case RunModeRefresh:
			if c.NeverFetched {
				continue
			}
		}
		filtered = append(filtered, c)
	}
	return refresh.Select(filtered, limit), nil
}

// fetchChunk fetches one chunk and records every definitive outcome.
// Fetching uses runCtx so a fatal error stops in-flight retries; recording
// uses recordCtx so results already obtained are not lost.
func (s *RefreshScheduler) fetchChunk(runCtx, recordCtx context.Context, chunk []int64, stats *FetchStats) error {
	outcomes, err := s.client.FetchChunk(runCtx, chunk)
	if err != nil && !errors.Is(err, domain.ErrFatalAuth) {
		if runCtx.Err() == nil {
			logger.CtxError(recordCtx, "Chunk fetch failed: ids=%d, error=%v", len(chunk), err)
		}
		return err
	}

	for _, o := range outcomes {
		switch o.Class {
		case fetch.ClassSuccess:
			s.recordSuccess(recordCtx, o, stats)
		case fetch.ClassEmpty:
			s.record(recordCtx, o.ItemID, domain.FetchEmpty, "", &stats.Empty, &stats.Transient)
		case fetch.ClassParseError:
			s.record(recordCtx, o.ItemID, domain.FetchParseError, "", &stats.ParseError, &stats.Transient)
		case fetch.ClassTransient:
			// nothing is recorded so the item stays due for the next run
			atomic.AddInt64(&stats.Transient, 1)
		case fetch.ClassFatal:
			atomic.AddInt64(&stats.Fatal, 1)
		}
	}
	return err
}

func (s *RefreshScheduler) recordSuccess(ctx context.Context, o fetch.Outcome, stats *FetchStats) {
	ref := uuid.NewString()
	if err := s.payloads.Put(ctx, ref, o.ItemID, o.Payload); err != nil {
		logger.FromContext(ctx).WithFields(logger.Fields{
			logger.FieldItemID:    o.ItemID,
			logger.FieldErrorKind: domain.ErrorKindTransientNetwork,
		}).WithError(err).Error("Failed to store payload")
		atomic.AddInt64(&stats.Transient, 1)
		return
	}
	s.record(ctx, o.ItemID, domain.FetchSuccess, ref, &stats.Success, &stats.Transient)
}

// record appends a fetch event and bumps counter, or failed when the append fails.
func (s *RefreshScheduler) record(ctx context.Context, itemID int64, outcome domain.FetchOutcome, ref string, counter, failed *int64) {
	if err := s.tracker.RecordFetch(ctx, itemID, outcome, ref); err != nil {
		logger.FromContext(ctx).WithFields(logger.Fields{
			logger.FieldItemID:     itemID,
			logger.FieldOutcome:    outcome,
			logger.FieldPayloadRef: ref,
		}).WithError(err).Error("Failed to record fetch")
		atomic.AddInt64(failed, 1)
		return
	}
	atomic.AddInt64(counter, 1)
}
