package repository

import (
	"context"

	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"gorm.io/gorm"
)

// BlueprintRepository persists dependency blueprints and their steps.
type BlueprintRepository struct {
	db *gorm.DB
}

// NewBlueprintRepository creates a BlueprintRepository.
func NewBlueprintRepository(db *gorm.DB) *BlueprintRepository {
	return &BlueprintRepository{db: db}
}

// Transaction runs fn with a repository bound to one transaction.
func (r *BlueprintRepository) Transaction(ctx context.Context, fn func(tx *BlueprintRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&BlueprintRepository{db: tx})
	})
}

func preloadSteps(db *gorm.DB) *gorm.DB {
	return db.Order("sequence_order ASC, id ASC")
}

// FindByID finds a blueprint with its ordered steps.
func (r *BlueprintRepository) FindByID(ctx context.Context, id string) (*entity.DependencyBlueprint, error) {
	var bp entity.DependencyBlueprint
	err := r.db.WithContext(ctx).
		Preload("Steps", preloadSteps).
		Where("id = ?", id).
		First(&bp).Error
	if err != nil {
		return nil, translate(err)
	}
	return &bp, nil
}

// FindByName finds a blueprint by its unique name.
func (r *BlueprintRepository) FindByName(ctx context.Context, name string) (*entity.DependencyBlueprint, error) {
	var bp entity.DependencyBlueprint
	err := r.db.WithContext(ctx).
		Preload("Steps", preloadSteps).
		Where("name = ?", name).
		First(&bp).Error
	if err != nil {
		return nil, translate(err)
	}
	return &bp, nil
}

// FindActiveByStructureType returns the active blueprint scoped to a structure type,
// preferring the scope's default.
func (r *BlueprintRepository) FindActiveByStructureType(ctx context.Context, structureType string) (*entity.DependencyBlueprint, error) {
	var bp entity.DependencyBlueprint
	err := r.db.WithContext(ctx).
		Preload("Steps", preloadSteps).
		Where("structure_type = ? AND is_active = ?", structureType, true).
		Order("is_default DESC, created_at ASC, id ASC").
		First(&bp).Error
	if err != nil {
		return nil, translate(err)
	}
	return &bp, nil
}

// FindDefault returns the active default blueprint, preferring the generic scope.
func (r *BlueprintRepository) FindDefault(ctx context.Context) (*entity.DependencyBlueprint, error) {
	var bp entity.DependencyBlueprint
	err := r.db.WithContext(ctx).
		Preload("Steps", preloadSteps).
		Where("is_default = ? AND is_active = ?", true, true).
		Order("CASE WHEN structure_type = '' THEN 0 ELSE 1 END, created_at ASC, id ASC").
		First(&bp).Error
	if err != nil {
		return nil, translate(err)
	}
	return &bp, nil
}

// List lists blueprints with their steps.
func (r *BlueprintRepository) List(ctx context.Context, activeOnly bool) ([]entity.DependencyBlueprint, error) {
	var bps []entity.DependencyBlueprint
	query := r.db.WithContext(ctx).Preload("Steps", preloadSteps)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	err := query.Order("is_default DESC, name ASC").Find(&bps).Error
	return bps, err
}

// Create inserts a blueprint and its steps.
func (r *BlueprintRepository) Create(ctx context.Context, bp *entity.DependencyBlueprint) error {
	return translate(r.db.WithContext(ctx).Create(bp).Error)
}

// UpdateFields updates the blueprint row without touching steps.
func (r *BlueprintRepository) UpdateFields(ctx context.Context, bp *entity.DependencyBlueprint) error {
	return translate(r.db.WithContext(ctx).
		Model(&entity.DependencyBlueprint{}).
		Where("id = ?", bp.ID).
		Updates(map[string]interface{}{
			"name":           bp.Name,
			"description":    bp.Description,
			"structure_type": bp.StructureType,
			"is_default":     bp.IsDefault,
			"is_active":      bp.IsActive,
			"updated_at":     bp.UpdatedAt,
		}).Error)
}

// ReplaceSteps deletes the blueprint's steps and inserts the given ones.
func (r *BlueprintRepository) ReplaceSteps(ctx context.Context, blueprintID string, steps []entity.BlueprintStep) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("blueprint_id = ?", blueprintID).Delete(&entity.BlueprintStep{}).Error; err != nil {
		return err
	}
	if len(steps) == 0 {
		return nil
	}
	for i := range steps {
		steps[i].BlueprintID = blueprintID
	}
	return db.Create(&steps).Error
}

// ClearDefault unsets is_default for every other blueprint of a structure type scope.
func (r *BlueprintRepository) ClearDefault(ctx context.Context, structureType, exceptID string) error {
	return r.db.WithContext(ctx).
		Model(&entity.DependencyBlueprint{}).
		Where("structure_type = ? AND is_default = ? AND id <> ?", structureType, true, exceptID).
		Update("is_default", false).Error
}

// Delete removes a blueprint and its steps.
func (r *BlueprintRepository) Delete(ctx context.Context, id string) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("blueprint_id = ?", id).Delete(&entity.BlueprintStep{}).Error; err != nil {
		return err
	}
	res := db.Where("id = ?", id).Delete(&entity.DependencyBlueprint{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
