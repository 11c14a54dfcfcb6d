package repository

import (
	"context"

	"github.com/timmy/mpcrawl/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FingerprintRepository is a fingerprint.Store on the application database.
type FingerprintRepository struct {
	db *gorm.DB
}

// NewFingerprintRepository creates a new FingerprintRepository.
func NewFingerprintRepository(db *gorm.DB) *FingerprintRepository {
	return &FingerprintRepository{db: db}
}

// Seen reports whether key was marked.
func (r *FingerprintRepository) Seen(ctx context.Context, key string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Fingerprint{}).Where("key = ?", key).Count(&count).Error; err != nil {
		return false, &domain.StorageError{Op: "check fingerprint", Err: err}
	}
	return count > 0, nil
}

// MarkSeen records key. Marking an existing key is a no-op.
func (r *FingerprintRepository) MarkSeen(ctx context.Context, key string) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.Fingerprint{Key: key}).Error
	if err != nil {
		return &domain.StorageError{Op: "mark fingerprint", Err: err}
	}
	return nil
}
