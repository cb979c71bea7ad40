package domain

import (
	"slices"
	"time"
)

// RowKind identifies which event a log row records.
type RowKind string

const (
	RowKindSighting RowKind = "sighting"
	RowKindFetch    RowKind = "fetch"
	RowKindProcess  RowKind = "process"
	RowKindClaim    RowKind = "claim"
	RowKindRelease  RowKind = "release"
)

// FetchOutcome is the recorded result of fetching one item.
type FetchOutcome string

const (
	FetchSuccess    FetchOutcome = "success"
	FetchEmpty      FetchOutcome = "empty"
	FetchParseError FetchOutcome = "parse_error"
)

// ProcessOutcome is the recorded result of one processing attempt.
// ProcessFailed is a validation failure, ProcessError an unexpected one.
type ProcessOutcome string

const (
	ProcessSuccess ProcessOutcome = "success"
	ProcessFailed  ProcessOutcome = "failed"
	ProcessError   ProcessOutcome = "error"
)

// Stage names the pipeline stage a claim belongs to.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageProcess Stage = "process"
)

// MaxErrorDetail bounds the error text stored on a process event.
const MaxErrorDetail = 500

// EventRow is one immutable row of the append-only event log.
// Every event kind shares the table; columns a kind does not use stay zero.
type EventRow struct {
	ID         string    `gorm:"type:text;primaryKey" json:"id"`
	Kind       RowKind   `gorm:"type:text;not null;index:idx_event_log_kind_item,priority:1" json:"kind"`
	ItemID     int64     `gorm:"not null;index:idx_event_log_kind_item,priority:2" json:"item_id"`
	ItemType   string    `gorm:"type:text" json:"item_type,omitempty"`
	Stage      Stage     `gorm:"type:text" json:"stage,omitempty"`
	Worker     string    `gorm:"type:text" json:"worker,omitempty"`
	PayloadRef string    `gorm:"type:text;index" json:"payload_ref,omitempty"`
	Outcome    string    `gorm:"type:text" json:"outcome,omitempty"`
	Attempt    int       `gorm:"default:0" json:"attempt,omitempty"`
	Detail     string    `gorm:"type:text" json:"detail,omitempty"`
	Year       *int      `json:"year,omitempty"`
	RecordedAt time.Time `gorm:"not null;index" json:"recorded_at"`
}

// TableName returns the database table name for EventRow.
func (EventRow) TableName() string {
	return "event_log"
}

// EventFilter narrows a scan of the event log. Empty fields match everything.
type EventFilter struct {
	Kinds       []RowKind
	ItemIDs     []int64
	PayloadRefs []string
	Since       time.Time
}

// Matches reports whether row passes the filter.
func (f EventFilter) Matches(row EventRow) bool {
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, row.Kind) {
		return false
	}
	if len(f.ItemIDs) > 0 && !slices.Contains(f.ItemIDs, row.ItemID) {
		return false
	}
	if len(f.PayloadRefs) > 0 && !slices.Contains(f.PayloadRefs, row.PayloadRef) {
		return false
	}
	if !f.Since.IsZero() && row.RecordedAt.Before(f.Since) {
		return false
	}
	return true
}

// Sighting records that an item id was observed by discovery.
type Sighting struct {
	ItemID   int64
	ItemType string
	SeenAt   time.Time
}

// FetchEvent records one fetch attempt that reached a definitive outcome.
type FetchEvent struct {
	ItemID     int64        `json:"item_id"`
	FetchTime  time.Time    `json:"fetch_time"`
	Outcome    FetchOutcome `json:"outcome"`
	PayloadRef string       `json:"payload_ref,omitempty"`
}

// ProcessEvent records one processing attempt of a fetched payload.
type ProcessEvent struct {
	ItemID          int64          `json:"item_id"`
	PayloadRef      string         `json:"payload_ref"`
	ProcessTime     time.Time      `json:"process_time"`
	Outcome         ProcessOutcome `json:"outcome"`
	AttemptNumber   int            `json:"attempt_number"`
	ErrorDetail     string         `json:"error_detail,omitempty"`
	PublicationYear *int           `json:"publication_year,omitempty"`
}

// Claim is a soft, time-limited reservation of an item for one stage.
type Claim struct {
	ItemID    int64
	Stage     Stage
	Worker    string
	ClaimedAt time.Time
}

// ExpiresAt returns when the claim lapses under the given ttl.
func (c Claim) ExpiresAt(ttl time.Duration) time.Time {
	return c.ClaimedAt.Add(ttl)
}

// FetchEventFromRow converts a fetch row into its event.
func FetchEventFromRow(row EventRow) FetchEvent {
	return FetchEvent{
		ItemID:     row.ItemID,
		FetchTime:  row.RecordedAt,
		Outcome:    FetchOutcome(row.Outcome),
		PayloadRef: row.PayloadRef,
	}
}

// ProcessEventFromRow converts a process row into its event.
func ProcessEventFromRow(row EventRow) ProcessEvent {
	return ProcessEvent{
		ItemID:          row.ItemID,
		PayloadRef:      row.PayloadRef,
		ProcessTime:     row.RecordedAt,
		Outcome:         ProcessOutcome(row.Outcome),
		AttemptNumber:   row.Attempt,
		ErrorDetail:     row.Detail,
		PublicationYear: row.Year,
	}
}

// TruncateDetail shortens error text to MaxErrorDetail runes.
func TruncateDetail(detail string) string {
	r := []rune(detail)
	if len(r) <= MaxErrorDetail {
		return detail
	}
	return string(r[:MaxErrorDetail])
}
