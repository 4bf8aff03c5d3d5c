package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"github.com/refedo/OTS-sub007/internal/ops/repository"
	"go.uber.org/zap"
)

// WorkUnitService is the registry of work units mirrored from the source modules.
type WorkUnitService struct {
	repo   *repository.WorkUnitRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewWorkUnitService(repo *repository.WorkUnitRepository, logger *zap.Logger) *WorkUnitService {
	return &WorkUnitService{repo: repo, logger: logger.Named("registry"), now: time.Now}
}

// SetClock overrides the time source.
func (s *WorkUnitService) SetClock(now func() time.Time) {
	s.now = now
}

// UpsertWorkUnitInput describes a source record to register.
type UpsertWorkUnitInput struct {
	ProjectID       string
	Type            string
	ReferenceModule string
	ReferenceID     string
	InitialStatus   string
	PlannedStart    time.Time
	PlannedEnd      time.Time
	Quantity        *float64
	Weight          *float64
	OwnerID         string
}

func (in *UpsertWorkUnitInput) validate() error {
	switch {
	case in.ProjectID == "":
		return fmt.Errorf("%w: project id is required", ErrInvalidInput)
	case !entity.IsValidWorkUnitType(in.Type):
		return fmt.Errorf("%w: unknown work unit type %q", ErrInvalidInput, in.Type)
	case !entity.IsValidModule(in.ReferenceModule):
		return fmt.Errorf("%w: unknown reference module %q", ErrInvalidInput, in.ReferenceModule)
	case in.ReferenceID == "":
		return fmt.Errorf("%w: reference id is required", ErrInvalidInput)
	case in.PlannedStart.IsZero() || in.PlannedEnd.IsZero():
		return fmt.Errorf("%w: planned window is required", ErrInvalidInput)
	case in.PlannedEnd.Before(in.PlannedStart):
		return fmt.Errorf("%w: planned end before planned start", ErrInvalidInput)
	case in.InitialStatus != "" && !entity.IsValidWorkUnitStatus(in.InitialStatus):
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, in.InitialStatus)
	}
	return nil
}

// Upsert registers a source record. An existing unit keeps its id and status while its
// mutable fields are refreshed. Reports whether a new unit was created.
func (s *WorkUnitService) Upsert(ctx context.Context, in UpsertWorkUnitInput) (*entity.WorkUnit, bool, error) {
	if err := in.validate(); err != nil {
		return nil, false, err
	}

	existing, err := s.repo.FindByReference(ctx, in.ReferenceModule, in.ReferenceID)
	if err == nil {
		unit, err := s.refresh(ctx, existing, in)
		return unit, false, err
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup work unit: %w", err)
	}

	status := in.InitialStatus
	if status == "" {
		status = entity.WorkUnitStatusNotStarted
	}
	now := s.now().UTC()
	unit := &entity.WorkUnit{
		ID:              entity.NewID(),
		ProjectID:       in.ProjectID,
		Type:            in.Type,
		ReferenceModule: in.ReferenceModule,
		ReferenceID:     in.ReferenceID,
		Status:          status,
		PlannedStart:    in.PlannedStart.UTC(),
		PlannedEnd:      in.PlannedEnd.UTC(),
		Quantity:        in.Quantity,
		Weight:          in.Weight,
		OwnerID:         in.OwnerID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	applyStatusStamps(unit, "", now)

	if err := s.repo.Create(ctx, unit); err != nil {
		if !repository.IsDuplicate(err) {
			return nil, false, fmt.Errorf("create work unit: %w", err)
		}
		// lost a concurrent insert of the same reference
		existing, ferr := s.repo.FindByReference(ctx, in.ReferenceModule, in.ReferenceID)
		if ferr != nil {
			return nil, false, fmt.Errorf("refetch work unit: %w", ferr)
		}
		s.logger.Debug("work unit registered concurrently",
			zap.String("module", in.ReferenceModule), zap.String("reference_id", in.ReferenceID))
		unit, err := s.refresh(ctx, existing, in)
		return unit, false, err
	}

	s.logger.Info("work unit registered",
		zap.String("id", unit.ID),
		zap.String("project_id", unit.ProjectID),
		zap.String("type", unit.Type),
		zap.String("module", unit.ReferenceModule),
		zap.String("reference_id", unit.ReferenceID))
	return unit, true, nil
}

// refresh updates the mutable fields. A unit moving to another project loses its edges, which
// belonged to the old project.
func (s *WorkUnitService) refresh(ctx context.Context, unit *entity.WorkUnit, in UpsertWorkUnitInput) (*entity.WorkUnit, error) {
	prevProject := unit.ProjectID
	unit.ProjectID = in.ProjectID
	unit.Type = in.Type
	unit.OwnerID = in.OwnerID
	unit.PlannedStart = in.PlannedStart.UTC()
	unit.PlannedEnd = in.PlannedEnd.UTC()
	unit.Quantity = in.Quantity
	unit.Weight = in.Weight
	unit.UpdatedAt = s.now().UTC()

	if prevProject != unit.ProjectID {
		removed, err := s.repo.Relocate(ctx, unit)
		if err != nil {
			return nil, fmt.Errorf("move work unit: %w", err)
		}
		s.logger.Info("work unit moved to another project",
			zap.String("id", unit.ID),
			zap.String("from", prevProject),
			zap.String("to", unit.ProjectID),
			zap.Int64("edges_removed", removed))
		return unit, nil
	}
	if err := s.repo.Update(ctx, unit); err != nil {
		return nil, fmt.Errorf("update work unit: %w", err)
	}
	return unit, nil
}

// TransitionStatus moves the unit of a source record to newStatus. Setting the current
// status again changes nothing.
func (s *WorkUnitService) TransitionStatus(ctx context.Context, module, referenceID, newStatus string) (*entity.WorkUnit, error) {
	if !entity.IsValidWorkUnitStatus(newStatus) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, newStatus)
	}
	unit, err := s.repo.FindByReference(ctx, module, referenceID)
	if err != nil {
		return nil, fmt.Errorf("work unit %s/%s: %w", module, referenceID, err)
	}
	if unit.Status == newStatus {
		return unit, nil
	}

	prev := unit.Status
	now := s.now().UTC()
	unit.Status = newStatus
	applyStatusStamps(unit, prev, now)
	unit.UpdatedAt = now

	if err := s.repo.Update(ctx, unit); err != nil {
		return nil, fmt.Errorf("update work unit status: %w", err)
	}
	s.logger.Info("work unit status changed",
		zap.String("id", unit.ID),
		zap.String("from", prev),
		zap.String("to", newStatus))
	return unit, nil
}

// applyStatusStamps keeps actual dates consistent with status.
func applyStatusStamps(unit *entity.WorkUnit, prev string, now time.Time) {
	switch unit.Status {
	case entity.WorkUnitStatusInProgress:
		if unit.ActualStart == nil {
			unit.ActualStart = &now
		}
	case entity.WorkUnitStatusCompleted:
		if unit.ActualStart == nil {
			unit.ActualStart = &now
		}
		if unit.ActualEnd == nil {
			unit.ActualEnd = &now
		}
	}
	if prev == entity.WorkUnitStatusCompleted && unit.Status != entity.WorkUnitStatusCompleted {
		unit.ActualEnd = nil
	}
}

func (s *WorkUnitService) Get(ctx context.Context, id string) (*entity.WorkUnit, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *WorkUnitService) GetByReference(ctx context.Context, module, referenceID string) (*entity.WorkUnit, error) {
	return s.repo.FindByReference(ctx, module, referenceID)
}

func (s *WorkUnitService) List(ctx context.Context, filters map[string]interface{}, page, pageSize int) ([]entity.WorkUnit, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}
	return s.repo.List(ctx, filters, page, pageSize)
}

// ProjectSummary is a project's registry overview.
type ProjectSummary struct {
	ProjectID    string           `json:"project_id"`
	TotalUnits   int64            `json:"total_units"`
	ByStatus     map[string]int64 `json:"by_status"`
	ByType       map[string]int64 `json:"by_type"`
	OverdueUnits int64            `json:"overdue_units"`
}

func (s *WorkUnitService) ProjectSummary(ctx context.Context, projectID string) (*ProjectSummary, error) {
	byStatus, err := s.repo.CountByStatus(ctx, projectID)
	if err != nil {
		return nil, err
	}
	byType, err := s.repo.CountByType(ctx, projectID)
	if err != nil {
		return nil, err
	}
	overdue, err := s.repo.CountOverdue(ctx, projectID, s.now().UTC())
	if err != nil {
		return nil, err
	}

	summary := &ProjectSummary{
		ProjectID:    projectID,
		ByStatus:     make(map[string]int64, len(entity.WorkUnitStatuses)),
		ByType:       make(map[string]int64, len(entity.WorkUnitTypes)),
		OverdueUnits: overdue,
	}
	for _, st := range entity.WorkUnitStatuses {
		summary.ByStatus[st] = 0
	}
	for _, row := range byStatus {
		summary.ByStatus[row.Name] = row.Count
		summary.TotalUnits += row.Count
	}
	for _, row := range byType {
		summary.ByType[row.Name] = row.Count
	}
	return summary, nil
}
