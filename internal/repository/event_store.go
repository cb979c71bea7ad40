package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/tracker"
	"gorm.io/gorm"
)

const appendBatchSize = 500

// EventStore is the SQL-backed append-only event log.
type EventStore struct {
	db  *gorm.DB
	lag time.Duration
}

var _ tracker.Store = (*EventStore)(nil)

// NewEventStore creates a new EventStore.
// Parameters:
//   - db: GORM database handle with the event_log table migrated.
//   - lag: documented upper bound on append-to-visible delay for other readers.
// Returns:
//   - *EventStore: store bound to db.
func NewEventStore(db *gorm.DB, lag time.Duration) *EventStore {
	return &EventStore{db: db, lag: lag}
}

// Append inserts rows. Rows are never updated afterwards.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rows: event rows with unique IDs.
// Returns:
//   - error: non-nil if the insert fails.
func (s *EventStore) Append(ctx context.Context, rows ...domain.EventRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&rows, appendBatchSize).Error; err != nil {
		return fmt.Errorf("failed to append %d event rows: %w", len(rows), err)
	}
	return nil
}

// Scan streams matching rows in (recorded_at, id) order and keeps those
// accepted by keep, so only retained rows are held in memory.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - filter: pushed down to SQL.
//   - keep: optional in-process predicate.
// Returns:
//   - []domain.EventRow: retained rows.
//   - error: non-nil if the query fails.
func (s *EventStore) Scan(ctx context.Context, filter domain.EventFilter, keep func(domain.EventRow) bool) ([]domain.EventRow, error) {
	query, args, err := scanQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build scan query: %w", err)
	}

	db := s.db.WithContext(ctx)
	rows, err := db.Raw(query, args...).Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to scan event log: %w", err)
	}
	defer rows.Close()

	var out []domain.EventRow
	for rows.Next() {
		var row domain.EventRow
		if err := db.ScanRows(rows, &row); err != nil {
			return nil, fmt.Errorf("failed to decode event row: %w", err)
		}
		if keep != nil && !keep(row) {
			continue
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	return out, nil
}

// VisibilityLag implements tracker.Store.
func (s *EventStore) VisibilityLag() time.Duration {
	return s.lag
}

func scanQuery(filter domain.EventFilter) sq.SelectBuilder {
	q := sq.Select("*").From(domain.EventRow{}.TableName())
	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		q = q.Where(sq.Eq{"kind": kinds})
	}
	if len(filter.ItemIDs) > 0 {
		q = q.Where(sq.Eq{"item_id": filter.ItemIDs})
	}
	if len(filter.PayloadRefs) > 0 {
		q = q.Where(sq.Eq{"payload_ref": filter.PayloadRefs})
	}
	if !filter.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"recorded_at": filter.Since})
	}
	return q.OrderBy("recorded_at", "id")
}
