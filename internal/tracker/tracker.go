package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/refresh"
)

// Tracker records fetch and process outcomes as append-only events and answers
// "what is due", "what is unprocessed" and "what is claimed" by reading the log.
// Rows the tracker appended itself are merged into every read, so a writer
// always observes its own events even while the store hides them from others.
type Tracker struct {
	store  Store
	policy refresh.Policy
	worker string
	clock  func() time.Time

	mu    sync.Mutex
	local map[string]cachedRow
}

type cachedRow struct {
	row        domain.EventRow
	appendedAt time.Time
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithWorker sets the identity recorded on claims.
func WithWorker(id string) Option {
	return func(t *Tracker) {
		if id != "" {
			t.worker = id
		}
	}
}

// WithClock overrides the time source used to stamp events.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// New creates a tracker over store using policy for due-ness, retry caps and claim TTL.
// Parameters:
//   - store: append-only event log.
//   - policy: refresh policy for this run.
//   - opts: optional worker identity and clock.
// Returns:
//   - *Tracker: ready-to-use tracker.
func New(store Store, policy refresh.Policy, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		policy: policy,
		worker: "worker-" + uuid.NewString()[:8],
		clock:  func() time.Time { return time.Now().UTC() },
		local:  make(map[string]cachedRow),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Worker returns the identity this tracker claims items under.
func (t *Tracker) Worker() string {
	return t.worker
}

// VisibilityLag is the store's append-to-visible bound.
func (t *Tracker) VisibilityLag() time.Duration {
	return t.store.VisibilityLag()
}

// Policy returns the policy the tracker was built with.
func (t *Tracker) Policy() refresh.Policy {
	return t.policy
}

// Now returns the tracker's current time.
func (t *Tracker) Now() time.Time {
	return t.clock()
}

// RecordSightings registers item ids observed by discovery.
func (t *Tracker) RecordSightings(ctx context.Context, sightings []domain.Sighting) error {
	if len(sightings) == 0 {
		return nil
	}
	rows := make([]domain.EventRow, 0, len(sightings))
	for _, s := range sightings {
		rows = append(rows, domain.EventRow{
			Kind:       domain.RowKindSighting,
			ItemID:     s.ItemID,
			ItemType:   s.ItemType,
			RecordedAt: s.SeenAt,
		})
	}
	return t.append(ctx, rows...)
}

// RecordFetch appends a fetch event for one item.
// Parameters:
//   - ctx: request context.
//   - itemID: fetched item.
//   - outcome: success, empty or parse_error.
//   - payloadRef: reference to the stored payload; required for success.
// Returns:
//   - error: non-nil on invalid input or append failure.
func (t *Tracker) RecordFetch(ctx context.Context, itemID int64, outcome domain.FetchOutcome, payloadRef string) error {
	switch outcome {
	case domain.FetchSuccess:
		if payloadRef == "" {
			return fmt.Errorf("record fetch for item %d: success requires a payload ref", itemID)
		}
	case domain.FetchEmpty, domain.FetchParseError:
	default:
		return fmt.Errorf("record fetch for item %d: unknown outcome %q", itemID, outcome)
	}
	return t.append(ctx, domain.EventRow{
		Kind:       domain.RowKindFetch,
		ItemID:     itemID,
		PayloadRef: payloadRef,
		Outcome:    string(outcome),
	})
}

// RecordProcess appends a process event for one payload.
// Parameters:
//   - ctx: request context.
//   - ev: the attempt; ProcessTime defaults to now and ErrorDetail is truncated.
// Returns:
//   - error: non-nil on invalid input or append failure.
func (t *Tracker) RecordProcess(ctx context.Context, ev domain.ProcessEvent) error {
	switch ev.Outcome {
	case domain.ProcessSuccess, domain.ProcessFailed, domain.ProcessError:
	default:
		return fmt.Errorf("record process for item %d: unknown outcome %q", ev.ItemID, ev.Outcome)
	}
	if ev.PayloadRef == "" {
		return fmt.Errorf("record process for item %d: missing payload ref", ev.ItemID)
	}
	if ev.AttemptNumber < 1 {
		return fmt.Errorf("record process for item %d: attempt number must be >= 1", ev.ItemID)
	}
	return t.append(ctx, domain.EventRow{
		Kind:       domain.RowKindProcess,
		ItemID:     ev.ItemID,
		PayloadRef: ev.PayloadRef,
		Outcome:    string(ev.Outcome),
		Attempt:    ev.AttemptNumber,
		Detail:     domain.TruncateDetail(ev.ErrorDetail),
		Year:       ev.PublicationYear,
		RecordedAt: ev.ProcessTime,
	})
}

// append stamps and writes rows, then keeps them in the writer cache.
func (t *Tracker) append(ctx context.Context, rows ...domain.EventRow) error {
	now := t.clock()
	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = uuid.NewString()
		}
		if rows[i].RecordedAt.IsZero() {
			rows[i].RecordedAt = now
		}
	}
	if err := t.store.Append(ctx, rows...); err != nil {
		return fmt.Errorf("failed to append %d event rows: %w", len(rows), err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range rows {
		t.local[r.ID] = cachedRow{row: r, appendedAt: now}
	}
	t.pruneLocked(now)
	return nil
}

// pruneLocked drops cached rows the store is guaranteed to show by now.
func (t *Tracker) pruneLocked(now time.Time) {
	lag := t.store.VisibilityLag()
	cutoff := now.Add(-lag)
	for id, c := range t.local {
		if c.appendedAt.Before(cutoff) {
			delete(t.local, id)
		}
	}
}

// scan reads the store and merges the writer cache, de-duplicated by row id.
func (t *Tracker) scan(ctx context.Context, filter domain.EventFilter, keep func(domain.EventRow) bool) ([]domain.EventRow, error) {
	rows, err := t.store.Scan(ctx, filter, keep)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event log: %w", err)
	}

	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		seen[r.ID] = struct{}{}
	}

	t.mu.Lock()
	for id, c := range t.local {
		if _, ok := seen[id]; ok {
			continue
		}
		r := c.row
		if !filter.Matches(r) || (keep != nil && !keep(r)) {
			continue
		}
		rows = append(rows, r)
	}
	t.mu.Unlock()

	sortRows(rows)
	return rows, nil
}

// PendingPayload is a fetched payload that still needs processing.
type PendingPayload struct {
	ItemID     int64     `json:"item_id"`
	PayloadRef string    `json:"payload_ref"`
	FetchTime  time.Time `json:"fetch_time"`
	Attempts   int       `json:"attempts"`
}

// FailedPayload is a payload that exhausted its processing attempts.
type FailedPayload struct {
	ItemID        int64     `json:"item_id"`
	PayloadRef    string    `json:"payload_ref"`
	FetchTime     time.Time `json:"fetch_time"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
}

// PendingProcessing lists, per item, the latest successfully fetched payload that
// has neither a successful process event nor attempt-cap failures. Oldest fetch first.
// Parameters:
//   - ctx: request context.
// Returns:
//   - []PendingPayload: work for the processing stage.
//   - error: non-nil if the log cannot be read.
func (t *Tracker) PendingProcessing(ctx context.Context) ([]PendingPayload, error) {
	snap, err := t.processingSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	var pending []PendingPayload
	for _, item := range snap.items {
		if item.latestSuccess == nil {
			continue
		}
		ps := snap.payload(item.latestSuccess.PayloadRef)
		if ps.processed || ps.failures >= t.policy.AttemptCap {
			continue
		}
		pending = append(pending, PendingPayload{
			ItemID:     item.id,
			PayloadRef: item.latestSuccess.PayloadRef,
			FetchTime:  item.latestSuccess.FetchTime,
			Attempts:   ps.failures,
		})
	}

	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].FetchTime.Equal(pending[j].FetchTime) {
			return pending[i].FetchTime.Before(pending[j].FetchTime)
		}
		return pending[i].ItemID < pending[j].ItemID
	})
	return pending, nil
}

// TerminallyFailed lists latest payloads that reached the attempt cap without success.
func (t *Tracker) TerminallyFailed(ctx context.Context) ([]FailedPayload, error) {
	snap, err := t.processingSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	var failed []FailedPayload
	for _, item := range snap.items {
		if item.latestSuccess == nil {
			continue
		}
		ps := snap.payload(item.latestSuccess.PayloadRef)
		if ps.processed || ps.failures < t.policy.AttemptCap {
			continue
		}
		failed = append(failed, FailedPayload{
			ItemID:        item.id,
			PayloadRef:    ps.ref,
			FetchTime:     item.latestSuccess.FetchTime,
			Attempts:      ps.failures,
			LastError:     ps.lastError,
			LastAttemptAt: ps.lastAttemptAt,
		})
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i].ItemID < failed[j].ItemID })
	return failed, nil
}

// Candidates evaluates every known, unclaimed item against the policy at now.
func (t *Tracker) Candidates(ctx context.Context, now time.Time) ([]refresh.Candidate, error) {
	snap, err := t.fullSnapshot(ctx, now)
	if err != nil {
		return nil, err
	}

	out := make([]refresh.Candidate, 0, len(snap.items))
	for _, item := range snap.items {
		if snap.claimedBy(item.id, domain.StageFetch, now, t.policy.ClaimTTL) != "" {
			continue
		}
		out = append(out, t.policy.Evaluate(item.toDomain(), item.lastFetch, now))
	}
	return out, nil
}

// UnfetchedOrDue returns at most limit unclaimed items needing a fetch, in priority order.
// Parameters:
//   - ctx: request context.
//   - now: evaluation instant.
//   - limit: batch budget; values above the policy batch size are lowered to it.
// Returns:
//   - []refresh.Candidate: never-fetched items first, then due items.
//   - error: non-nil if the log cannot be read.
func (t *Tracker) UnfetchedOrDue(ctx context.Context, now time.Time, limit int) ([]refresh.Candidate, error) {
	if limit <= 0 || limit > t.policy.BatchSize {
		limit = t.policy.BatchSize
	}
	candidates, err := t.Candidates(ctx, now)
	if err != nil {
		return nil, err
	}
	return refresh.Select(candidates, limit), nil
}

// Preview reports what the next refresh run would select.
func (t *Tracker) Preview(ctx context.Context, now time.Time) (refresh.PreviewReport, error) {
	candidates, err := t.Candidates(ctx, now)
	if err != nil {
		return refresh.PreviewReport{}, err
	}
	return t.policy.Preview(candidates, now), nil
}

// KnownItems returns the ids of every item sighted or fetched so far.
func (t *Tracker) KnownItems(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := t.scan(ctx, domain.EventFilter{Kinds: []domain.RowKind{domain.RowKindSighting, domain.RowKindFetch}}, nil)
	if err != nil {
		return nil, err
	}
	known := make(map[int64]struct{}, len(rows))
	for _, r := range rows {
		known[r.ItemID] = struct{}{}
	}
	return known, nil
}

// ItemHistory is the audit trail of one item.
type ItemHistory struct {
	Item      domain.Item           `json:"item"`
	FirstSeen time.Time             `json:"first_seen,omitempty"`
	Fetches   []domain.FetchEvent   `json:"fetches"`
	Processes []domain.ProcessEvent `json:"processes"`
}

// History returns every fetch and process event recorded for itemID.
func (t *Tracker) History(ctx context.Context, itemID int64) (*ItemHistory, error) {
	rows, err := t.scan(ctx, domain.EventFilter{
		Kinds:   stateKinds,
		ItemIDs: []int64{itemID},
	}, nil)
	if err != nil {
		return nil, err
	}

	snap := buildSnapshot(rows)
	h := &ItemHistory{Item: domain.Item{ItemID: itemID}}
	if item, ok := snap.items[itemID]; ok {
		h.Item = item.toDomain()
		h.FirstSeen = item.firstSeen
	}
	for _, r := range rows {
		switch r.Kind {
		case domain.RowKindFetch:
			h.Fetches = append(h.Fetches, domain.FetchEventFromRow(r))
		case domain.RowKindProcess:
			h.Processes = append(h.Processes, domain.ProcessEventFromRow(r))
		}
	}
	return h, nil
}

// Summary counts the derived states of the catalog.
type Summary struct {
	KnownItems        int                  `json:"known_items"`
	Fetched           int                  `json:"fetched"`
	NeverFetched      int                  `json:"never_fetched"`
	Due               int                  `json:"due"`
	PendingProcessing int                  `json:"pending_processing"`
	TerminallyFailed  int                  `json:"terminally_failed"`
	ActiveClaims      map[domain.Stage]int `json:"active_claims"`
}

// Summary derives catalog-wide counts at now.
func (t *Tracker) Summary(ctx context.Context, now time.Time) (*Summary, error) {
	snap, err := t.fullSnapshot(ctx, now)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		KnownItems:   len(snap.items),
		ActiveClaims: make(map[domain.Stage]int),
	}
	for _, item := range snap.items {
		if item.latestSuccess != nil {
			s.Fetched++
			ps := snap.payload(item.latestSuccess.PayloadRef)
			switch {
			case ps.processed:
			case ps.failures >= t.policy.AttemptCap:
				s.TerminallyFailed++
			default:
				s.PendingProcessing++
			}
		}
		c := t.policy.Evaluate(item.toDomain(), item.lastFetch, now)
		switch {
		case c.NeverFetched:
			s.NeverFetched++
		case c.Due:
			s.Due++
		}
	}
	for key, claim := range snap.claims {
		if now.Before(claim.ExpiresAt(t.policy.ClaimTTL)) {
			s.ActiveClaims[key.stage]++
		}
	}
	return s, nil
}

// stateKinds are the row kinds that accumulate item and payload state.
var stateKinds = []domain.RowKind{domain.RowKindSighting, domain.RowKindFetch, domain.RowKindProcess}

// fullSnapshot derives every item at now. Claim and release rows older than
// one ClaimTTL cannot describe a live lease at now, so they are not read.
func (t *Tracker) fullSnapshot(ctx context.Context, now time.Time) (*snapshot, error) {
	rows, err := t.scan(ctx, domain.EventFilter{Kinds: stateKinds}, nil)
	if err != nil {
		return nil, err
	}
	leases, err := t.scan(ctx, t.leaseFilter(nil, now), nil)
	if err != nil {
		return nil, err
	}
	rows = append(rows, leases...)
	sortRows(rows)
	return buildSnapshot(rows), nil
}

// processingSnapshot skips rows that cannot affect processing state.
func (t *Tracker) processingSnapshot(ctx context.Context) (*snapshot, error) {
	rows, err := t.scan(ctx,
		domain.EventFilter{Kinds: []domain.RowKind{domain.RowKindFetch, domain.RowKindProcess}},
		func(r domain.EventRow) bool {
			return r.Kind != domain.RowKindFetch || r.Outcome == string(domain.FetchSuccess)
		},
	)
	if err != nil {
		return nil, err
	}
	return buildSnapshot(rows), nil
}
