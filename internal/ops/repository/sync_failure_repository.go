package repository

import (
	"context"
	"time"

	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"gorm.io/gorm"
)

// SyncFailureRepository persists dead-lettered sync events.
type SyncFailureRepository struct {
	db *gorm.DB
}

// NewSyncFailureRepository creates a SyncFailureRepository.
func NewSyncFailureRepository(db *gorm.DB) *SyncFailureRepository {
	return &SyncFailureRepository{db: db}
}

// Create records a failure.
func (r *SyncFailureRepository) Create(ctx context.Context, f *entity.SyncFailure) error {
	return r.db.WithContext(ctx).Create(f).Error
}

// ListPending lists failures not yet replayed, oldest first.
func (r *SyncFailureRepository) ListPending(ctx context.Context, limit int) ([]entity.SyncFailure, error) {
	var list []entity.SyncFailure
	query := r.db.WithContext(ctx).Where("replayed_at IS NULL").Order("created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&list).Error
	return list, err
}

// MarkReplayed stamps replayed_at.
func (r *SyncFailureRepository) MarkReplayed(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&entity.SyncFailure{}).
		Where("id = ?", id).
		Update("replayed_at", at).Error
}

// CountPending counts failures not yet replayed.
func (r *SyncFailureRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.SyncFailure{}).Where("replayed_at IS NULL").Count(&count).Error
	return count, err
}
