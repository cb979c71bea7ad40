package tracker

import (
	"context"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
)

// Claim reserves ids for stage on behalf of this tracker's worker.
// An id is granted unless another worker holds an unexpired claim on it; a worker
// re-claiming its own id refreshes the lease. Claims reduce duplicate work but do
// not guarantee exclusivity, so the work they guard must be idempotent.
// Parameters:
//   - ctx: request context.
//   - stage: fetch or process.
//   - ids: candidate ids, in priority order.
//   - now: claim time; leases expire at now + ClaimTTL.
// Returns:
//   - []int64: granted ids in input order.
//   - error: non-nil if the log cannot be read or written.
func (t *Tracker) Claim(ctx context.Context, stage domain.Stage, ids []int64, now time.Time) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	snap, err := t.claimSnapshot(ctx, ids, now)
	if err != nil {
		return nil, err
	}

	granted := make([]int64, 0, len(ids))
	rows := make([]domain.EventRow, 0, len(ids))
	skipped := 0
	for _, id := range ids {
		holder := snap.claimedBy(id, stage, now, t.policy.ClaimTTL)
		if holder != "" && holder != t.worker {
			skipped++
			continue
		}
		granted = append(granted, id)
		rows = append(rows, domain.EventRow{
			Kind:       domain.RowKindClaim,
			ItemID:     id,
			Stage:      stage,
			Worker:     t.worker,
			RecordedAt: now,
		})
	}
	if skipped > 0 {
		logger.CtxDebug(ctx, "Skipped %d ids claimed by other workers: stage=%s", skipped, stage)
	}
	if len(rows) == 0 {
		return granted, nil
	}
	if err := t.append(ctx, rows...); err != nil {
		return nil, err
	}
	return granted, nil
}

// Release gives up this worker's claims on ids. Releasing an id the worker does
// not hold has no effect.
func (t *Tracker) Release(ctx context.Context, stage domain.Stage, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	rows := make([]domain.EventRow, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, domain.EventRow{
			Kind:   domain.RowKindRelease,
			ItemID: id,
			Stage:  stage,
			Worker: t.worker,
		})
	}
	return t.append(ctx, rows...)
}

// ActiveClaims returns the unexpired claims for stage at now.
func (t *Tracker) ActiveClaims(ctx context.Context, stage domain.Stage, now time.Time) ([]domain.Claim, error) {
	snap, err := t.claimSnapshot(ctx, nil, now)
	if err != nil {
		return nil, err
	}
	var active []domain.Claim
	for key, c := range snap.claims {
		if key.stage == stage && now.Before(c.ExpiresAt(t.policy.ClaimTTL)) {
			active = append(active, c)
		}
	}
	return active, nil
}

func (t *Tracker) claimSnapshot(ctx context.Context, ids []int64, now time.Time) (*snapshot, error) {
	rows, err := t.scan(ctx, t.leaseFilter(ids, now), nil)
	if err != nil {
		return nil, err
	}
	return buildSnapshot(rows), nil
}

// leaseFilter selects the claim and release rows that can still matter at now.
// A release is never older than the claim it cancels, so the window holds both.
func (t *Tracker) leaseFilter(ids []int64, now time.Time) domain.EventFilter {
	return domain.EventFilter{
		Kinds:   []domain.RowKind{domain.RowKindClaim, domain.RowKindRelease},
		ItemIDs: ids,
		Since:   now.Add(-t.policy.ClaimTTL),
	}
}
