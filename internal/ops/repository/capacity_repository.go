package repository

import (
	"context"

	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"gorm.io/gorm"
)

// CapacityRepository persists resource capacities.
type CapacityRepository struct {
	db *gorm.DB
}

// NewCapacityRepository creates a CapacityRepository.
func NewCapacityRepository(db *gorm.DB) *CapacityRepository {
	return &CapacityRepository{db: db}
}

// FindByID finds a capacity by id.
func (r *CapacityRepository) FindByID(ctx context.Context, id string) (*entity.ResourceCapacity, error) {
	var c entity.ResourceCapacity
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// FindActiveByResource finds the active capacity of a resource type.
func (r *CapacityRepository) FindActiveByResource(ctx context.Context, resourceType string) (*entity.ResourceCapacity, error) {
	var c entity.ResourceCapacity
	err := r.db.WithContext(ctx).
		Where("resource_type = ? AND is_active = ?", resourceType, true).
		First(&c).Error
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// List lists capacities.
func (r *CapacityRepository) List(ctx context.Context, activeOnly bool) ([]entity.ResourceCapacity, error) {
	var list []entity.ResourceCapacity
	query := r.db.WithContext(ctx)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	err := query.Order("resource_type ASC").Find(&list).Error
	return list, err
}

// Create inserts a capacity. Returns ErrDuplicate when the resource type is already configured.
func (r *CapacityRepository) Create(ctx context.Context, c *entity.ResourceCapacity) error {
	return translate(r.db.WithContext(ctx).Create(c).Error)
}

// Update saves a capacity.
func (r *CapacityRepository) Update(ctx context.Context, c *entity.ResourceCapacity) error {
	return translate(r.db.WithContext(ctx).Save(c).Error)
}

// Delete removes a capacity.
func (r *CapacityRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.ResourceCapacity{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
