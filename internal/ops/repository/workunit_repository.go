package repository

import (
	"context"
	"time"

	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"gorm.io/gorm"
)

// WorkUnitRepository persists work units.
type WorkUnitRepository struct {
	db *gorm.DB
}

// NewWorkUnitRepository creates a WorkUnitRepository.
func NewWorkUnitRepository(db *gorm.DB) *WorkUnitRepository {
	return &WorkUnitRepository{db: db}
}

// FindByID finds a work unit by id.
func (r *WorkUnitRepository) FindByID(ctx context.Context, id string) (*entity.WorkUnit, error) {
	var unit entity.WorkUnit
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&unit).Error; err != nil {
		return nil, translate(err)
	}
	return &unit, nil
}

// FindByIDs loads the given work units; missing ids are skipped.
func (r *WorkUnitRepository) FindByIDs(ctx context.Context, ids []string) ([]entity.WorkUnit, error) {
	var units []entity.WorkUnit
	if len(ids) == 0 {
		return units, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&units).Error
	return units, err
}

// FindByReference finds the work unit of a source record.
func (r *WorkUnitRepository) FindByReference(ctx context.Context, module, referenceID string) (*entity.WorkUnit, error) {
	var unit entity.WorkUnit
	err := r.db.WithContext(ctx).
		Where("reference_module = ? AND reference_id = ?", module, referenceID).
		First(&unit).Error
	if err != nil {
		return nil, translate(err)
	}
	return &unit, nil
}

// Create inserts a work unit. Returns ErrDuplicate when the source record is already registered.
func (r *WorkUnitRepository) Create(ctx context.Context, unit *entity.WorkUnit) error {
	return translate(r.db.WithContext(ctx).Create(unit).Error)
}

// Update saves all fields of a work unit.
func (r *WorkUnitRepository) Update(ctx context.Context, unit *entity.WorkUnit) error {
	return translate(r.db.WithContext(ctx).Save(unit).Error)
}

// Relocate saves a unit that moved to another project and removes its edges in the same
// transaction. Returns the number of edges removed.
func (r *WorkUnitRepository) Relocate(ctx context.Context, unit *entity.WorkUnit) (int64, error) {
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("from_work_unit_id = ? OR to_work_unit_id = ?", unit.ID, unit.ID).
			Delete(&entity.WorkUnitDependency{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return tx.Save(unit).Error
	})
	if err != nil {
		return 0, translate(err)
	}
	return removed, nil
}

// ListByProject lists the units of a project.
func (r *WorkUnitRepository) ListByProject(ctx context.Context, projectID string, filters map[string]interface{}) ([]entity.WorkUnit, error) {
	var units []entity.WorkUnit
	query := applyWorkUnitFilters(r.db.WithContext(ctx).Where("project_id = ?", projectID), filters)
	err := query.Order("planned_start ASC, id ASC").Find(&units).Error
	return units, err
}

// List lists units across projects with pagination.
func (r *WorkUnitRepository) List(ctx context.Context, filters map[string]interface{}, page, pageSize int) ([]entity.WorkUnit, int64, error) {
	var units []entity.WorkUnit
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.WorkUnit{})
	if projectID, ok := filters["project_id"].(string); ok && projectID != "" {
		query = query.Where("project_id = ?", projectID)
	}
	query = applyWorkUnitFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * pageSize
	err := query.Order("planned_start ASC, id ASC").Offset(offset).Limit(pageSize).Find(&units).Error
	return units, total, err
}

func applyWorkUnitFilters(query *gorm.DB, filters map[string]interface{}) *gorm.DB {
	if t, ok := filters["type"].(string); ok && t != "" {
		query = query.Where("type = ?", t)
	}
	if types, ok := filters["types"].([]string); ok && len(types) > 0 {
		query = query.Where("type IN ?", types)
	}
	if status, ok := filters["status"].(string); ok && status != "" {
		query = query.Where("status = ?", status)
	}
	if module, ok := filters["reference_module"].(string); ok && module != "" {
		query = query.Where("reference_module = ?", module)
	}
	if openOnly, ok := filters["open_only"].(bool); ok && openOnly {
		query = query.Where("status <> ?", entity.WorkUnitStatusCompleted)
	}
	if excludeID, ok := filters["exclude_id"].(string); ok && excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	if limit, ok := filters["limit"].(int); ok && limit > 0 {
		query = query.Limit(limit)
	}
	return query
}

// ListOpenInWindow lists non-completed units of the given types whose planned window
// intersects [start, end], across all projects.
func (r *WorkUnitRepository) ListOpenInWindow(ctx context.Context, types []string, start, end time.Time) ([]entity.WorkUnit, error) {
	var units []entity.WorkUnit
	if len(types) == 0 {
		return units, nil
	}
	err := r.db.WithContext(ctx).
		Where("type IN ?", types).
		Where("status <> ?", entity.WorkUnitStatusCompleted).
		Where("planned_start <= ? AND planned_end >= ?", end, start).
		Order("planned_start ASC, id ASC").
		Find(&units).Error
	return units, err
}

// ListOpenProjectIDs returns projects that have at least one non-completed unit.
func (r *WorkUnitRepository) ListOpenProjectIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&entity.WorkUnit{}).
		Where("status <> ?", entity.WorkUnitStatusCompleted).
		Distinct("project_id").
		Order("project_id").
		Pluck("project_id", &ids).Error
	return ids, err
}

// StatusCount is one row of a grouped count.
type StatusCount struct {
	Name  string
	Count int64
}

// CountByStatus counts a project's units per status.
func (r *WorkUnitRepository) CountByStatus(ctx context.Context, projectID string) ([]StatusCount, error) {
	var rows []StatusCount
	err := r.db.WithContext(ctx).
		Model(&entity.WorkUnit{}).
		Select("status AS name, COUNT(*) AS count").
		Where("project_id = ?", projectID).
		Group("status").
		Scan(&rows).Error
	return rows, err
}

// CountByType counts a project's units per type.
func (r *WorkUnitRepository) CountByType(ctx context.Context, projectID string) ([]StatusCount, error) {
	var rows []StatusCount
	err := r.db.WithContext(ctx).
		Model(&entity.WorkUnit{}).
		Select("type AS name, COUNT(*) AS count").
		Where("project_id = ?", projectID).
		Group("type").
		Scan(&rows).Error
	return rows, err
}

// CountOverdue counts a project's non-completed units whose planned end is before now.
func (r *WorkUnitRepository) CountOverdue(ctx context.Context, projectID string, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.WorkUnit{}).
		Where("project_id = ? AND status <> ? AND planned_end < ?", projectID, entity.WorkUnitStatusCompleted, now).
		Count(&count).Error
	return count, err
}
