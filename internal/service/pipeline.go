package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/catalogsync/internal/catalog"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/storage"
	"github.com/timmy/catalogsync/internal/tracker"
)

// CatalogWriter persists normalized catalog snapshots. Insert must be
// idempotent for a given (item_id, payload_ref).
type CatalogWriter interface {
	Insert(ctx context.Context, item *domain.CatalogItem) error
}

// ProcessStats holds statistics for a processing run
type ProcessStats struct {
	RunID     string    `json:"run_id" yaml:"run_id"`
	Pending   int64     `json:"pending" yaml:"pending"`
	Claimed   int64     `json:"claimed" yaml:"claimed"`
	Processed int64     `json:"processed" yaml:"processed"`
	Failed    int64     `json:"failed" yaml:"failed"`
	Errored   int64     `json:"errored" yaml:"errored"`
	Terminal  int64     `json:"terminal" yaml:"terminal"`
	StartTime time.Time `json:"start_time" yaml:"start_time"`
	EndTime   time.Time `json:"end_time" yaml:"end_time"`
}

// PipelineConfig holds configuration for the processing pipeline
type PipelineConfig struct {
	Workers   int
	BatchSize int
}

// ProcessingPipeline turns fetched payloads into catalog snapshots.
type ProcessingPipeline struct {
	tracker   *tracker.Tracker
	payloads  storage.PayloadStore
	catalog   CatalogWriter
	parse     func(itemID int64, payload []byte) (*domain.CatalogItem, error)
	workers   int
	batchSize int
}

// NewProcessingPipeline creates a new processing pipeline
func NewProcessingPipeline(
	tr *tracker.Tracker,
	payloads storage.PayloadStore,
	writer CatalogWriter,
	cfg *PipelineConfig,
) *ProcessingPipeline {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ProcessingPipeline{
		tracker:   tr,
		payloads:  payloads,
		catalog:   writer,
		parse:     catalog.Parse,
		workers:   workers,
		batchSize: batchSize,
	}
}

type payloadResult struct {
	outcome domain.ProcessOutcome
	year    *int
	err     error
}

// Run processes pending payloads, oldest fetch first.
// Parameters:
//   - ctx: run context; cancelling it stops dispatching new payloads.
//   - limit: maximum payloads to take; <= 0 uses the configured batch size.
// Returns:
//   - *ProcessStats: per-outcome counts.
//   - error: non-nil only if pending work could not be listed or claimed,
//     or ctx ended. Per-payload failures are recorded, not returned.
func (p *ProcessingPipeline) Run(ctx context.Context, limit int) (*ProcessStats, error) {
	stats := &ProcessStats{
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
	}
	ctx = logger.SetRunID(ctx, stats.RunID)
	ctx = logger.SetStage(ctx, string(domain.StageProcess))
	log := logger.FromContext(ctx)

	if limit <= 0 {
		limit = p.batchSize
	}
	pending, err := p.tracker.PendingProcessing(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list pending payloads: %w", err)
	}
	stats.Pending = int64(len(pending))
	if len(pending) > limit {
		pending = pending[:limit]
	}

	byID := make(map[int64]tracker.PendingPayload, len(pending))
	ids := make([]int64, 0, len(pending))
	for _, pp := range pending {
		byID[pp.ItemID] = pp
		ids = append(ids, pp.ItemID)
	}
	granted, err := p.tracker.Claim(ctx, domain.StageProcess, ids, p.tracker.Now())
	if err != nil {
		return stats, fmt.Errorf("failed to claim payloads: %w", err)
	}
	stats.Claimed = int64(len(granted))
	defer func() {
		if err := p.tracker.Release(context.WithoutCancel(ctx), domain.StageProcess, granted); err != nil {
			log.WithError(err).Warn("Failed to release process claims")
		}
	}()

	log.WithFields(logger.Fields{
		"pending":          stats.Pending,
		"claimed":          stats.Claimed,
		logger.FieldWorker: p.tracker.Worker(),
	}).Info("Starting processing run")

	work := make(chan tracker.PendingPayload)
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pp := range work {
				p.handle(ctx, pp, stats)
			}
		}()
	}

dispatch:
	for _, id := range granted {
		select {
		case work <- byID[id]:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(work)
	wg.Wait()

	stats.EndTime = time.Now()
	log.WithFields(logger.Fields{
		"processed":            stats.Processed,
		"failed":               stats.Failed,
		"errored":              stats.Errored,
		"terminal":             stats.Terminal,
		logger.FieldDurationMs: stats.EndTime.Sub(stats.StartTime).Milliseconds(),
	}).Info("Processing run completed")

	return stats, ctx.Err()
}

// handle runs one payload through validate and write, then records the attempt.
func (p *ProcessingPipeline) handle(ctx context.Context, pp tracker.PendingPayload, stats *ProcessStats) {
	attempt := pp.Attempts + 1
	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldItemID:     pp.ItemID,
		logger.FieldPayloadRef: pp.PayloadRef,
		logger.FieldAttempt:    attempt,
	})

	res := p.processOne(ctx, pp)
	if ctx.Err() != nil {
		// an interrupted attempt is not charged against the payload
		return
	}

	ev := domain.ProcessEvent{
		ItemID:          pp.ItemID,
		PayloadRef:      pp.PayloadRef,
		Outcome:         res.outcome,
		AttemptNumber:   attempt,
		PublicationYear: res.year,
	}
	if res.err != nil {
		ev.ErrorDetail = res.err.Error()
	}
	if err := p.tracker.RecordProcess(ctx, ev); err != nil {
		log.WithError(err).Error("Failed to record process event")
		atomic.AddInt64(&stats.Errored, 1)
		return
	}

	switch res.outcome {
	case domain.ProcessSuccess:
		atomic.AddInt64(&stats.Processed, 1)
		log.Debug("Payload processed")
		return
	case domain.ProcessFailed:
		atomic.AddInt64(&stats.Failed, 1)
		log = log.WithField(logger.FieldErrorKind, domain.ErrorKindValidation)
	default:
		atomic.AddInt64(&stats.Errored, 1)
	}

	log = log.WithField(logger.FieldOutcome, res.outcome).WithError(res.err)
	if attempt >= p.tracker.Policy().AttemptCap {
		atomic.AddInt64(&stats.Terminal, 1)
		log.Warn("Payload failed terminally, it will not be retried")
		return
	}
	log.Info("Payload processing failed, will retry")
}

// processOne loads, parses and stores one payload. A panic anywhere in the
// chain becomes an error outcome for this payload only.
func (p *ProcessingPipeline) processOne(ctx context.Context, pp tracker.PendingPayload) (res payloadResult) {
	defer func() {
		if r := recover(); r != nil {
			res = payloadResult{outcome: domain.ProcessError, err: fmt.Errorf("panic while processing: %v", r)}
		}
	}()

	body, err := p.payloads.Get(ctx, pp.PayloadRef)
	if err != nil {
		return payloadResult{outcome: domain.ProcessError, err: fmt.Errorf("load payload: %w", err)}
	}

	item, err := p.parse(pp.ItemID, body)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return payloadResult{outcome: domain.ProcessFailed, err: err}
		}
		return payloadResult{outcome: domain.ProcessError, err: err}
	}

	item.PayloadRef = pp.PayloadRef
	item.FetchedAt = pp.FetchTime
	item.ProcessedAt = p.tracker.Now()
	if err := p.catalog.Insert(ctx, item); err != nil {
		return payloadResult{outcome: domain.ProcessError, err: fmt.Errorf("write catalog record: %w", err)}
	}
	return payloadResult{outcome: domain.ProcessSuccess, year: item.YearPublished}
}
