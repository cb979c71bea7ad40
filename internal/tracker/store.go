package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
)

// Store is the append-only log the tracker derives all state from.
// Implementations may delay the visibility of appended rows to other readers
// for up to VisibilityLag; they never update or delete rows.
type Store interface {
	// Append writes rows to the log.
	Append(ctx context.Context, rows ...domain.EventRow) error
	// Scan returns visible rows matching filter for which keep returns true,
	// ordered by RecordedAt then ID. A nil keep accepts every row.
	Scan(ctx context.Context, filter domain.EventFilter, keep func(domain.EventRow) bool) ([]domain.EventRow, error)
	// VisibilityLag is the documented upper bound on append-to-visible delay.
	VisibilityLag() time.Duration
}

// MemoryStore is an in-process Store. A non-zero lag hides rows from Scan until
// they are older than the lag, which mirrors a streaming-buffer storage engine.
type MemoryStore struct {
	mu    sync.RWMutex
	rows  []memoryRow
	lag   time.Duration
	clock func() time.Time
}

type memoryRow struct {
	row        domain.EventRow
	appendedAt time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory log.
// Parameters:
//   - lag: simulated visibility delay; zero makes appends visible immediately.
//   - clock: time source for the lag check; nil uses time.Now.
// Returns:
//   - *MemoryStore: ready-to-use store.
func NewMemoryStore(lag time.Duration, clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{lag: lag, clock: clock}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, rows ...domain.EventRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	at := s.clock()
	for _, r := range rows {
		s.rows = append(s.rows, memoryRow{row: r, appendedAt: at})
	}
	return nil
}

// Scan implements Store.
func (s *MemoryStore) Scan(ctx context.Context, filter domain.EventFilter, keep func(domain.EventRow) bool) ([]domain.EventRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	visibleBefore := s.clock().Add(-s.lag)
	var out []domain.EventRow
	for _, r := range s.rows {
		if s.lag > 0 && r.appendedAt.After(visibleBefore) {
			continue
		}
		if !filter.Matches(r.row) {
			continue
		}
		if keep != nil && !keep(r.row) {
			continue
		}
		out = append(out, r.row)
	}
	sortRows(out)
	return out, nil
}

// VisibilityLag implements Store.
func (s *MemoryStore) VisibilityLag() time.Duration {
	return s.lag
}

// Len returns the number of rows appended so far, visible or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func sortRows(rows []domain.EventRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].RecordedAt.Equal(rows[j].RecordedAt) {
			return rows[i].RecordedAt.Before(rows[j].RecordedAt)
		}
		return rows[i].ID < rows[j].ID
	})
}
