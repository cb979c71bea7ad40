package service

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/source"
	"github.com/timmy/catalogsync/internal/tracker"
)

const sightingBatchSize = 5000

// DiscoveryStats holds statistics for a discovery run
type DiscoveryStats struct {
	Source     string    `json:"source" yaml:"source"`
	Discovered int       `json:"discovered" yaml:"discovered"`
	New        int       `json:"new" yaml:"new"`
	StartTime  time.Time `json:"start_time" yaml:"start_time"`
	EndTime    time.Time `json:"end_time" yaml:"end_time"`
}

// DiscoveryService registers item ids that the tracker has not seen yet.
type DiscoveryService struct {
	tracker    *tracker.Tracker
	discoverer source.Discoverer
}

// NewDiscoveryService creates a new discovery service
func NewDiscoveryService(tr *tracker.Tracker, discoverer source.Discoverer) *DiscoveryService {
	return &DiscoveryService{tracker: tr, discoverer: discoverer}
}

// Run lists ids from the discoverer and appends a sighting for each new one.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - dryRun: count new ids without recording them.
// Returns:
//   - *DiscoveryStats: discovered and new id counts.
//   - error: non-nil if listing or recording fails.
func (s *DiscoveryService) Run(ctx context.Context, dryRun bool) (*DiscoveryStats, error) {
	stats := &DiscoveryStats{Source: s.discoverer.Name(), StartTime: time.Now()}
	ctx = logger.WithField(ctx, logger.FieldComponent, "discovery")

	found, err := s.discoverer.Discover(ctx)
	if err != nil {
		return stats, fmt.Errorf("discovery via %s failed: %w", s.discoverer.Name(), err)
	}
	stats.Discovered = len(found)

	known, err := s.tracker.KnownItems(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to load known items: %w", err)
	}

	now := s.tracker.Now()
	fresh := make([]domain.Sighting, 0)
	for _, sighting := range found {
		if _, ok := known[sighting.ItemID]; ok {
			continue
		}
		known[sighting.ItemID] = struct{}{}
		sighting.SeenAt = now
		fresh = append(fresh, sighting)
	}
	stats.New = len(fresh)

	if !dryRun {
		for start := 0; start < len(fresh); start += sightingBatchSize {
			end := min(start+sightingBatchSize, len(fresh))
			if err := s.tracker.RecordSightings(ctx, fresh[start:end]); err != nil {
				return stats, fmt.Errorf("failed to record sightings: %w", err)
			}
		}
	}

	stats.EndTime = time.Now()
	logger.FromContext(ctx).WithFields(logger.Fields{
		"source":               stats.Source,
		"discovered":           stats.Discovered,
		"new":                  stats.New,
		"dry_run":              dryRun,
		logger.FieldDurationMs: stats.EndTime.Sub(stats.StartTime).Milliseconds(),
	}).Info("Discovery completed")
	return stats, nil
}
