package repository

import (
	"context"

	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"gorm.io/gorm"
)

// DependencyRepository persists work unit dependency edges.
type DependencyRepository struct {
	db *gorm.DB
}

// NewDependencyRepository creates a DependencyRepository.
func NewDependencyRepository(db *gorm.DB) *DependencyRepository {
	return &DependencyRepository{db: db}
}

// FindByID finds an edge by id.
func (r *DependencyRepository) FindByID(ctx context.Context, id string) (*entity.WorkUnitDependency, error) {
	var dep entity.WorkUnitDependency
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&dep).Error; err != nil {
		return nil, translate(err)
	}
	return &dep, nil
}

// FindByPair finds the edge of an ordered pair.
func (r *DependencyRepository) FindByPair(ctx context.Context, fromID, toID string) (*entity.WorkUnitDependency, error) {
	var dep entity.WorkUnitDependency
	err := r.db.WithContext(ctx).
		Where("from_work_unit_id = ? AND to_work_unit_id = ?", fromID, toID).
		First(&dep).Error
	if err != nil {
		return nil, translate(err)
	}
	return &dep, nil
}

// Create inserts an edge. Returns ErrDuplicate when the ordered pair already exists.
func (r *DependencyRepository) Create(ctx context.Context, dep *entity.WorkUnitDependency) error {
	return translate(r.db.WithContext(ctx).Create(dep).Error)
}

// Update saves type and lag of an edge.
func (r *DependencyRepository) Update(ctx context.Context, dep *entity.WorkUnitDependency) error {
	return translate(r.db.WithContext(ctx).
		Model(&entity.WorkUnitDependency{}).
		Where("id = ?", dep.ID).
		Updates(map[string]interface{}{
			"dependency_type": dep.DependencyType,
			"lag_days":        dep.LagDays,
			"updated_at":      dep.UpdatedAt,
		}).Error)
}

// Delete removes an edge.
func (r *DependencyRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.WorkUnitDependency{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUpstream lists edges pointing into a unit.
func (r *DependencyRepository) ListUpstream(ctx context.Context, workUnitID string) ([]entity.WorkUnitDependency, error) {
	var deps []entity.WorkUnitDependency
	err := r.db.WithContext(ctx).
		Preload("From").
		Where("to_work_unit_id = ?", workUnitID).
		Order("created_at ASC, id ASC").
		Find(&deps).Error
	return deps, err
}

// ListDownstream lists edges leaving a unit.
func (r *DependencyRepository) ListDownstream(ctx context.Context, workUnitID string) ([]entity.WorkUnitDependency, error) {
	var deps []entity.WorkUnitDependency
	err := r.db.WithContext(ctx).
		Preload("To").
		Where("from_work_unit_id = ?", workUnitID).
		Order("created_at ASC, id ASC").
		Find(&deps).Error
	return deps, err
}

// ListByProject lists every edge of a project.
func (r *DependencyRepository) ListByProject(ctx context.Context, projectID string) ([]entity.WorkUnitDependency, error) {
	var deps []entity.WorkUnitDependency
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC, id ASC").
		Find(&deps).Error
	return deps, err
}
