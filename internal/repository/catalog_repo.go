package repository

import (
	"context"
	"errors"

	"github.com/timmy/catalogsync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogRepository stores normalized catalog snapshots.
type CatalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository creates a new CatalogRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *CatalogRepository: repository instance bound to db.
func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// Insert writes a snapshot. A snapshot already stored for the same
// (item_id, payload_ref) is left untouched, so retries are harmless.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - item: snapshot with ItemID and PayloadRef set.
// Returns:
//   - error: non-nil if the insert fails.
func (r *CatalogRepository) Insert(ctx context.Context, item *domain.CatalogItem) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(item).Error
}

// Latest returns the most recently processed snapshot of an item.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - itemID: catalog item id.
// Returns:
//   - *domain.CatalogItem: latest snapshot, nil if the item was never processed.
//   - error: non-nil if lookup fails.
func (r *CatalogRepository) Latest(ctx context.Context, itemID int64) (*domain.CatalogItem, error) {
	var item domain.CatalogItem
	err := r.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("processed_at DESC").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// CountItems returns the number of distinct items with at least one snapshot.
func (r *CatalogRepository) CountItems(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.CatalogItem{}).
		Distinct("item_id").
		Count(&count).Error
	return count, err
}
