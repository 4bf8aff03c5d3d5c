package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"github.com/refedo/OTS-sub007/internal/ops/graph"
	"github.com/refedo/OTS-sub007/internal/ops/repository"
)

// PreviewService answers what-if questions about planned work without writing anything.
type PreviewService struct {
	blueprints *BlueprintService
	units      *repository.WorkUnitRepository
	capacities *repository.CapacityRepository
	capacity   *CapacityService
	maxNodes   int
}

func NewPreviewService(blueprints *BlueprintService, units *repository.WorkUnitRepository, capacities *repository.CapacityRepository, capacity *CapacityService, maxNodes int) *PreviewService {
	if maxNodes <= 0 {
		maxNodes = 5000
	}
	return &PreviewService{blueprints: blueprints, units: units, capacities: capacities, capacity: capacity, maxNodes: maxNodes}
}

// PreviewRequest describes work that is being planned.
type PreviewRequest struct {
	ProjectID     string    `json:"project_id" binding:"required"`
	Type          string    `json:"type" binding:"required"`
	PlannedStart  time.Time `json:"planned_start" binding:"required"`
	PlannedEnd    time.Time `json:"planned_end" binding:"required"`
	Quantity      *float64  `json:"quantity"`
	Weight        *float64  `json:"weight"`
	StructureType string    `json:"structure_type"`
}

// BlockingUnit is an unfinished upstream unit.
type BlockingUnit struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	ReferenceModule string    `json:"reference_module"`
	ReferenceID     string    `json:"reference_id"`
	PlannedEnd      time.Time `json:"planned_end"`
}

// BlockingPreview lists what would block the planned work.
type BlockingPreview struct {
	IsBlocked         bool           `json:"is_blocked"`
	UpstreamTypes     []string       `json:"upstream_types"`
	BlockingWorkUnits []BlockingUnit `json:"blocking_work_units"`
}

// CapacityPreview is the planned work's effect on its resource.
type CapacityPreview struct {
	ResourceType       string  `json:"resource_type"`
	Unit               string  `json:"unit"`
	CapacityConfigured bool    `json:"capacity_configured"`
	WeeklyCapacity     float64 `json:"weekly_capacity"`
	ExistingLoad       float64 `json:"existing_load"`
	NewLoad            float64 `json:"new_load"`
	CurrentUtilization float64 `json:"current_utilization"`
	NewUtilization     float64 `json:"new_utilization"`
	WouldOverload      bool    `json:"would_overload"`
}

// Recommendation is the preview verdict.
type Recommendation struct {
	CanProceed bool     `json:"can_proceed"`
	Warnings   []string `json:"warnings"`
}

// PreviewResult is the full what-if answer.
type PreviewResult struct {
	Blocking       BlockingPreview `json:"blocking"`
	Capacity       CapacityPreview `json:"capacity"`
	Recommendation Recommendation  `json:"recommendation"`
}

func (r *PreviewRequest) validate() error {
	switch {
	case r.ProjectID == "":
		return fmt.Errorf("%w: project id is required", ErrInvalidInput)
	case !entity.IsValidWorkUnitType(r.Type):
		return fmt.Errorf("%w: unknown work unit type %q", ErrInvalidInput, r.Type)
	case r.PlannedStart.IsZero() || r.PlannedEnd.IsZero():
		return fmt.Errorf("%w: planned window is required", ErrInvalidInput)
	case r.PlannedEnd.Before(r.PlannedStart):
		return fmt.Errorf("%w: planned end before planned start", ErrInvalidInput)
	}
	return nil
}

// Preview reports blockers and capacity impact of the planned work.
func (s *PreviewService) Preview(ctx context.Context, req PreviewRequest) (*PreviewResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	result := &PreviewResult{Recommendation: Recommendation{Warnings: []string{}}}

	blocking, err := s.blocking(ctx, req)
	if err != nil {
		return nil, err
	}
	result.Blocking = *blocking

	capacity, err := s.capacityImpact(ctx, req)
	if err != nil && !errors.Is(err, ErrCapacityNotConfigured) {
		return nil, err
	}
	result.Capacity = *capacity

	if blocking.IsBlocked {
		result.Recommendation.Warnings = append(result.Recommendation.Warnings,
			fmt.Sprintf("Blocked by %d upstream work items", len(blocking.BlockingWorkUnits)))
	}
	if !capacity.CapacityConfigured {
		result.Recommendation.Warnings = append(result.Recommendation.Warnings,
			fmt.Sprintf("No capacity configured for %s", capacity.ResourceType))
	} else if capacity.WouldOverload {
		result.Recommendation.Warnings = append(result.Recommendation.Warnings,
			fmt.Sprintf("Would overload %s capacity (%.2f%% utilization)", capacity.ResourceType, capacity.NewUtilization))
	}
	result.Recommendation.CanProceed = !blocking.IsBlocked && !capacity.WouldOverload
	return result, nil
}

func (s *PreviewService) blocking(ctx context.Context, req PreviewRequest) (*BlockingPreview, error) {
	types, err := s.blueprints.UpstreamTypes(ctx, req.StructureType, req.Type)
	if err != nil {
		return nil, err
	}
	preview := &BlockingPreview{UpstreamTypes: types, BlockingWorkUnits: []BlockingUnit{}}
	if preview.UpstreamTypes == nil {
		preview.UpstreamTypes = []string{}
	}
	if len(types) == 0 {
		return preview, nil
	}

	units, err := s.units.ListByProject(ctx, req.ProjectID, map[string]interface{}{
		"types":     types,
		"open_only": true,
		"limit":     s.maxNodes + 1,
	})
	if err != nil {
		return nil, err
	}
	if len(units) > s.maxNodes {
		return nil, fmt.Errorf("%w: more than %d blocking units in project %s", graph.ErrTraversalLimit, s.maxNodes, req.ProjectID)
	}
	for _, u := range units {
		preview.BlockingWorkUnits = append(preview.BlockingWorkUnits, BlockingUnit{
			ID:              u.ID,
			Type:            u.Type,
			Status:          u.Status,
			ReferenceModule: u.ReferenceModule,
			ReferenceID:     u.ReferenceID,
			PlannedEnd:      u.PlannedEnd,
		})
	}
	preview.IsBlocked = len(preview.BlockingWorkUnits) > 0
	return preview, nil
}

func (s *PreviewService) capacityImpact(ctx context.Context, req PreviewRequest) (*CapacityPreview, error) {
	mapping, _ := entity.ResourceFor(req.Type)
	preview := &CapacityPreview{ResourceType: mapping.ResourceType, Unit: mapping.Unit}

	c, err := s.capacities.FindActiveByResource(ctx, mapping.ResourceType)
	if errors.Is(err, repository.ErrNotFound) {
		return preview, ErrCapacityNotConfigured
	}
	if err != nil {
		return preview, err
	}

	wl, _, err := s.capacity.LoadForWeek(ctx, c, req.PlannedStart)
	if err != nil {
		return preview, err
	}

	preview.CapacityConfigured = true
	preview.Unit = c.Unit
	preview.WeeklyCapacity = wl.Capacity
	preview.ExistingLoad = wl.Load
	preview.NewLoad = round2(newLoad(req, c))
	preview.CurrentUtilization = wl.Utilization
	preview.NewUtilization = Utilization(wl.Load+preview.NewLoad, wl.Capacity)
	preview.WouldOverload = preview.NewUtilization > 100
	return preview, nil
}

// newLoad is the planned work's share of load in the week it starts, counted the way the
// unit will be counted once registered.
func newLoad(req PreviewRequest, c *entity.ResourceCapacity) float64 {
	planned := &entity.WorkUnit{
		Type:         req.Type,
		PlannedStart: req.PlannedStart,
		PlannedEnd:   req.PlannedEnd,
		Quantity:     req.Quantity,
		Weight:       req.Weight,
	}
	from, to := WeekBounds(req.PlannedStart)
	return UnitLoad(planned, c.Unit, c.WorkingDaysPerWeek, from, to)
}
