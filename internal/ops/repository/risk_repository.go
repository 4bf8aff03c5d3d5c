package repository

import (
	"context"
	"time"

	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"gorm.io/gorm"
)

// RiskRepository persists risk events.
type RiskRepository struct {
	db *gorm.DB
}

// NewRiskRepository creates a RiskRepository.
func NewRiskRepository(db *gorm.DB) *RiskRepository {
	return &RiskRepository{db: db}
}

// FindByID finds a risk event by id.
func (r *RiskRepository) FindByID(ctx context.Context, id string) (*entity.RiskEvent, error) {
	var ev entity.RiskEvent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&ev).Error; err != nil {
		return nil, translate(err)
	}
	return &ev, nil
}

// Create inserts a risk event.
func (r *RiskRepository) Create(ctx context.Context, ev *entity.RiskEvent) error {
	return translate(r.db.WithContext(ctx).Create(ev).Error)
}

// Save updates all fields of a risk event.
func (r *RiskRepository) Save(ctx context.Context, ev *entity.RiskEvent) error {
	return translate(r.db.WithContext(ctx).Save(ev).Error)
}

// TouchEvaluated bumps last_evaluated_at of active events without changing anything else.
func (r *RiskRepository) TouchEvaluated(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&entity.RiskEvent{}).
		Where("id IN ? AND resolved_at IS NULL", ids).
		UpdateColumn("last_evaluated_at", at).Error
}

// ListActiveInScope lists the active events of one project and set of types.
// An empty projectID selects the cross-project scope.
func (r *RiskRepository) ListActiveInScope(ctx context.Context, projectID string, types []string) ([]entity.RiskEvent, error) {
	var events []entity.RiskEvent
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND type IN ? AND resolved_at IS NULL", projectID, types).
		Order("detected_at ASC, id ASC").
		Find(&events).Error
	return events, err
}

// ListActive lists active events, most severe and most recent first.
func (r *RiskRepository) ListActive(ctx context.Context, filters map[string]interface{}) ([]entity.RiskEvent, error) {
	var events []entity.RiskEvent
	query := r.db.WithContext(ctx).Where("resolved_at IS NULL")
	query = applyRiskFilters(query, filters)
	err := query.Order(severityOrder + ", detected_at DESC, id ASC").Find(&events).Error
	return events, err
}

// List lists events including resolved ones with pagination.
func (r *RiskRepository) List(ctx context.Context, filters map[string]interface{}, page, pageSize int) ([]entity.RiskEvent, int64, error) {
	var events []entity.RiskEvent
	var total int64
	query := applyRiskFilters(r.db.WithContext(ctx).Model(&entity.RiskEvent{}), filters)
	if activeOnly, ok := filters["active_only"].(bool); ok && activeOnly {
		query = query.Where("resolved_at IS NULL")
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("detected_at DESC, id ASC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&events).Error
	return events, total, err
}

const severityOrder = "CASE severity WHEN 'CRITICAL' THEN 0 WHEN 'HIGH' THEN 1 WHEN 'MEDIUM' THEN 2 ELSE 3 END"

func applyRiskFilters(query *gorm.DB, filters map[string]interface{}) *gorm.DB {
	if projectID, ok := filters["project_id"].(string); ok && projectID != "" {
		query = query.Where("project_id = ?", projectID)
	}
	if t, ok := filters["type"].(string); ok && t != "" {
		query = query.Where("type = ?", t)
	}
	if severity, ok := filters["severity"].(string); ok && severity != "" {
		query = query.Where("severity = ?", severity)
	}
	return query
}

// ListActiveProjectIDs returns the projects that still carry active project-scoped events.
func (r *RiskRepository) ListActiveProjectIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&entity.RiskEvent{}).
		Where("resolved_at IS NULL AND project_id <> ''").
		Distinct("project_id").
		Order("project_id").
		Pluck("project_id", &ids).Error
	return ids, err
}

// Resolve marks active events as resolved.
func (r *RiskRepository) Resolve(ctx context.Context, ids []string, at time.Time, by, note string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&entity.RiskEvent{}).
		Where("id IN ? AND resolved_at IS NULL", ids).
		Updates(map[string]interface{}{
			"resolved_at":     at,
			"resolved_by":     by,
			"resolution_note": note,
			"updated_at":      at,
		})
	return res.RowsAffected, res.Error
}

// GroupCount is one row of a grouped count.
type GroupCount struct {
	Name  string
	Count int64
}

// CountActiveBy counts active events grouped by a column (severity or type).
func (r *RiskRepository) CountActiveBy(ctx context.Context, column string) ([]GroupCount, error) {
	var rows []GroupCount
	if column != "severity" && column != "type" {
		return rows, nil
	}
	err := r.db.WithContext(ctx).
		Model(&entity.RiskEvent{}).
		Select(column + " AS name, COUNT(*) AS count").
		Where("resolved_at IS NULL").
		Group(column).
		Scan(&rows).Error
	return rows, err
}

// CountResolvedSince counts events resolved at or after t.
func (r *RiskRepository) CountResolvedSince(ctx context.Context, t time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.RiskEvent{}).
		Where("resolved_at IS NOT NULL AND resolved_at >= ?", t).
		Count(&count).Error
	return count, err
}
