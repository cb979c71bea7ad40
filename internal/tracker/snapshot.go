package tracker

import (
	"time"

	"github.com/timmy/catalogsync/internal/domain"
)

// snapshot is the state derived from one ordered read of the log.
type snapshot struct {
	items    map[int64]*itemState
	payloads map[string]*payloadState
	claims   map[claimKey]domain.Claim
}

type itemState struct {
	id            int64
	itemType      string
	firstSeen     time.Time
	year          *int
	lastFetch     time.Time
	latestSuccess *domain.FetchEvent
}

func (s *itemState) toDomain() domain.Item {
	return domain.Item{ItemID: s.id, ItemType: s.itemType, PublicationYear: s.year}
}

type payloadState struct {
	ref           string
	processed     bool
	failures      int
	lastError     string
	lastAttemptAt time.Time
}

type claimKey struct {
	itemID int64
	stage  domain.Stage
}

type releaseKey struct {
	claim  claimKey
	worker string
}

// buildSnapshot folds rows, which must be ordered by RecordedAt, into derived state.
func buildSnapshot(rows []domain.EventRow) *snapshot {
	s := &snapshot{
		items:    make(map[int64]*itemState),
		payloads: make(map[string]*payloadState),
		claims:   make(map[claimKey]domain.Claim),
	}
	released := make(map[releaseKey]time.Time)

	for _, r := range rows {
		switch r.Kind {
		case domain.RowKindSighting:
			item := s.item(r.ItemID, r.RecordedAt)
			if r.ItemType != "" {
				item.itemType = r.ItemType
			}
		case domain.RowKindFetch:
			item := s.item(r.ItemID, r.RecordedAt)
			if r.RecordedAt.After(item.lastFetch) {
				item.lastFetch = r.RecordedAt
			}
			if r.Outcome == string(domain.FetchSuccess) {
				ev := domain.FetchEventFromRow(r)
				if item.latestSuccess == nil || !ev.FetchTime.Before(item.latestSuccess.FetchTime) {
					item.latestSuccess = &ev
				}
			}
		case domain.RowKindProcess:
			ps := s.payload(r.PayloadRef)
			switch domain.ProcessOutcome(r.Outcome) {
			case domain.ProcessSuccess:
				ps.processed = true
				if r.Year != nil {
					year := *r.Year
					s.item(r.ItemID, r.RecordedAt).year = &year
				}
			case domain.ProcessFailed, domain.ProcessError:
				ps.failures++
				ps.lastError = r.Detail
			}
			if r.RecordedAt.After(ps.lastAttemptAt) {
				ps.lastAttemptAt = r.RecordedAt
			}
		case domain.RowKindClaim:
			s.claims[claimKey{r.ItemID, r.Stage}] = domain.Claim{
				ItemID:    r.ItemID,
				Stage:     r.Stage,
				Worker:    r.Worker,
				ClaimedAt: r.RecordedAt,
			}
		case domain.RowKindRelease:
			key := releaseKey{claimKey{r.ItemID, r.Stage}, r.Worker}
			if r.RecordedAt.After(released[key]) {
				released[key] = r.RecordedAt
			}
		}
	}

	// A release cancels the same worker's claim when it is not older than it.
	for key, c := range s.claims {
		at, ok := released[releaseKey{key, c.Worker}]
		if ok && !at.Before(c.ClaimedAt) {
			delete(s.claims, key)
		}
	}
	return s
}

func (s *snapshot) item(id int64, seen time.Time) *itemState {
	item, ok := s.items[id]
	if !ok {
		item = &itemState{id: id, firstSeen: seen}
		s.items[id] = item
	}
	return item
}

// payload returns the state for ref, creating an empty one for unseen payloads.
func (s *snapshot) payload(ref string) *payloadState {
	ps, ok := s.payloads[ref]
	if !ok {
		ps = &payloadState{ref: ref}
		s.payloads[ref] = ps
	}
	return ps
}

// claimedBy returns the worker holding an unexpired claim, or "".
func (s *snapshot) claimedBy(itemID int64, stage domain.Stage, now time.Time, ttl time.Duration) string {
	c, ok := s.claims[claimKey{itemID, stage}]
	if !ok || !now.Before(c.ExpiresAt(ttl)) {
		return ""
	}
	return c.Worker
}
