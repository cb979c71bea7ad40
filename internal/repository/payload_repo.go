package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PayloadRepository keeps raw payloads in the database.
type PayloadRepository struct {
	db *gorm.DB
}

// NewPayloadRepository creates a new PayloadRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *PayloadRepository: repository instance bound to db.
func NewPayloadRepository(db *gorm.DB) *PayloadRepository {
	return &PayloadRepository{db: db}
}

// Put stores a payload under ref. Storing the same ref twice keeps the first body.
func (r *PayloadRepository) Put(ctx context.Context, ref string, itemID int64, body []byte) error {
	payload := &domain.RawPayload{
		Ref:       ref,
		ItemID:    itemID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(payload).Error; err != nil {
		return fmt.Errorf("failed to store payload %s: %w", ref, err)
	}
	return nil
}

// Get loads the payload stored under ref.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - ref: payload reference.
// Returns:
//   - []byte: payload body.
//   - error: wraps domain.ErrPayloadNotFound when nothing is stored under ref.
func (r *PayloadRepository) Get(ctx context.Context, ref string) ([]byte, error) {
	var payload domain.RawPayload
	err := r.db.WithContext(ctx).First(&payload, "ref = ?", ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrPayloadNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payload %s: %w", ref, err)
	}
	return payload.Body, nil
}
