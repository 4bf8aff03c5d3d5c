package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"github.com/refedo/OTS-sub007/internal/ops/repository"
	"go.uber.org/zap"
)

const defaultWindowDays = 7

// SyncService mirrors source module records into the registry and wires their edges.
type SyncService struct {
	registry   *WorkUnitService
	blueprints *BlueprintService
	graph      *GraphService
	units      *repository.WorkUnitRepository
	logger     *zap.Logger
	now        func() time.Time

	Tasks               *TaskAdapter
	DocumentSubmissions *DocumentSubmissionAdapter
	WorkOrders          *WorkOrderAdapter
	RFIs                *RFIAdapter
	AssemblyParts       *AssemblyPartAdapter
}

func NewSyncService(registry *WorkUnitService, blueprints *BlueprintService, graph *GraphService, units *repository.WorkUnitRepository, logger *zap.Logger) *SyncService {
	s := &SyncService{
		registry:   registry,
		blueprints: blueprints,
		graph:      graph,
		units:      units,
		logger:     logger.Named("sync"),
		now:        time.Now,
	}
	s.Tasks = &TaskAdapter{s: s}
	s.DocumentSubmissions = &DocumentSubmissionAdapter{s: s}
	s.WorkOrders = &WorkOrderAdapter{s: s}
	s.RFIs = &RFIAdapter{s: s}
	s.AssemblyParts = &AssemblyPartAdapter{s: s}
	return s
}

// SetClock overrides the time source used for default dates.
func (s *SyncService) SetClock(now func() time.Time) {
	s.now = now
}

// explicitLink is an edge required by the source data itself, independent of blueprints.
type explicitLink struct {
	module      string
	referenceID string
}

// register upserts the unit, materializes blueprint edges against its siblings and adds any
// explicit upstream links.
func (s *SyncService) register(ctx context.Context, in UpsertWorkUnitInput, structureType string, links ...explicitLink) (*entity.WorkUnit, error) {
	unit, created, err := s.registry.Upsert(ctx, in)
	if err != nil {
		return nil, err
	}

	siblings, err := s.units.ListByProject(ctx, unit.ProjectID, map[string]interface{}{"exclude_id": unit.ID})
	if err != nil {
		return unit, fmt.Errorf("load siblings: %w", err)
	}
	if _, err := s.blueprints.MaterializeEdges(ctx, unit, siblings, structureType); err != nil {
		if !errors.Is(err, ErrNoBlueprint) {
			return unit, fmt.Errorf("materialize edges: %w", err)
		}
		s.logger.Debug("no blueprint configured, edges not materialized", zap.String("work_unit_id", unit.ID))
	}

	for _, l := range links {
		if l.referenceID == "" {
			continue
		}
		upstream, err := s.units.FindByReference(ctx, l.module, l.referenceID)
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Debug("explicit upstream not registered yet",
				zap.String("module", l.module), zap.String("reference_id", l.referenceID))
			continue
		}
		if err != nil {
			return unit, err
		}
		_, err = s.graph.AddEdge(ctx, AddEdgeInput{
			FromWorkUnitID: upstream.ID,
			ToWorkUnitID:   unit.ID,
			DependencyType: entity.DependencyFinishToStart,
		})
		switch {
		case err == nil, errors.Is(err, ErrDuplicateEdge), errors.Is(err, ErrCrossProject):
		case errors.Is(err, ErrCycle):
			s.logger.Warn("explicit link skipped: would create cycle",
				zap.String("from", upstream.ID), zap.String("to", unit.ID))
		default:
			return unit, err
		}
	}

	if created {
		s.logger.Info("synced new work unit",
			zap.String("module", unit.ReferenceModule),
			zap.String("reference_id", unit.ReferenceID),
			zap.String("work_unit_id", unit.ID))
	}
	return unit, nil
}

func (s *SyncService) transition(ctx context.Context, module, referenceID, status string) (*entity.WorkUnit, error) {
	if referenceID == "" {
		return nil, fmt.Errorf("%w: reference id is required", ErrInvalidInput)
	}
	return s.registry.TransitionStatus(ctx, module, referenceID, status)
}

// window returns [start, end], defaulting start to now and end to start plus days.
func (s *SyncService) window(start, end *time.Time, days int) (time.Time, time.Time) {
	st := s.now().UTC()
	if start != nil && !start.IsZero() {
		st = start.UTC()
	}
	if end != nil && !end.IsZero() && !end.Before(st) {
		return st, end.UTC()
	}
	return st, st.AddDate(0, 0, days)
}

// SyncEvent is one change notification from a source module.
type SyncEvent struct {
	Module      string          `json:"module"`
	Operation   string          `json:"operation"`
	ReferenceID string          `json:"reference_id"`
	Status      string          `json:"status,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Permanent reports whether retrying err cannot succeed.
func Permanent(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// Apply routes an event to its module adapter.
func (s *SyncService) Apply(ctx context.Context, ev SyncEvent) (*entity.WorkUnit, error) {
	switch ev.Operation {
	case entity.SyncOpCreate:
		return s.applyCreate(ctx, ev)
	case entity.SyncOpStatus:
		return s.applyStatus(ctx, ev)
	}
	return nil, fmt.Errorf("%w: unknown sync operation %q", ErrInvalidInput, ev.Operation)
}

func decode(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload is required", ErrInvalidInput)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func (s *SyncService) applyCreate(ctx context.Context, ev SyncEvent) (*entity.WorkUnit, error) {
	switch ev.Module {
	case entity.ModuleTask:
		var rec TaskRecord
		if err := decode(ev.Payload, &rec); err != nil {
			return nil, err
		}
		return s.Tasks.OnCreate(ctx, &rec)
	case entity.ModuleDocumentSubmission:
		var rec DocumentSubmissionRecord
		if err := decode(ev.Payload, &rec); err != nil {
			return nil, err
		}
		return s.DocumentSubmissions.OnCreate(ctx, &rec)
	case entity.ModuleWorkOrder:
		var rec WorkOrderRecord
		if err := decode(ev.Payload, &rec); err != nil {
			return nil, err
		}
		return s.WorkOrders.OnCreate(ctx, &rec)
	case entity.ModuleRFIRequest:
		var rec RFIRecord
		if err := decode(ev.Payload, &rec); err != nil {
			return nil, err
		}
		return s.RFIs.OnCreate(ctx, &rec)
	case entity.ModuleAssemblyPart:
		var rec AssemblyPartRecord
		if err := decode(ev.Payload, &rec); err != nil {
			return nil, err
		}
		return s.AssemblyParts.OnCreate(ctx, &rec)
	}
	return nil, fmt.Errorf("%w: unknown module %q", ErrInvalidInput, ev.Module)
}

// AssemblyProgress is the status payload of an assembly part.
type AssemblyProgress struct {
	ProcessedQuantity float64 `json:"processed_quantity"`
	TotalQuantity     float64 `json:"total_quantity"`
}

func (s *SyncService) applyStatus(ctx context.Context, ev SyncEvent) (*entity.WorkUnit, error) {
	switch ev.Module {
	case entity.ModuleTask:
		return s.Tasks.OnStatusChange(ctx, ev.ReferenceID, ev.Status)
	case entity.ModuleDocumentSubmission:
		return s.DocumentSubmissions.OnStatusChange(ctx, ev.ReferenceID, ev.Status)
	case entity.ModuleWorkOrder:
		return s.WorkOrders.OnStatusChange(ctx, ev.ReferenceID, ev.Status)
	case entity.ModuleRFIRequest:
		return s.RFIs.OnStatusChange(ctx, ev.ReferenceID, ev.Status)
	case entity.ModuleAssemblyPart:
		if ev.Status == "" && len(ev.Payload) > 0 {
			var p AssemblyProgress
			if err := decode(ev.Payload, &p); err != nil {
				return nil, err
			}
			return s.AssemblyParts.OnProgress(ctx, ev.ReferenceID, p.ProcessedQuantity, p.TotalQuantity)
		}
		return s.AssemblyParts.OnStatusChange(ctx, ev.ReferenceID, ev.Status)
	}
	return nil, fmt.Errorf("%w: unknown module %q", ErrInvalidInput, ev.Module)
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
