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

// BlueprintService manages dependency blueprints and materializes their steps into edges.
type BlueprintService struct {
	repo   *repository.BlueprintRepository
	graph  *GraphService
	logger *zap.Logger
}

func NewBlueprintService(repo *repository.BlueprintRepository, graph *GraphService, logger *zap.Logger) *BlueprintService {
	return &BlueprintService{repo: repo, graph: graph, logger: logger.Named("blueprint")}
}

// fallbackUpstream applies when no blueprint is configured at all.
var fallbackUpstream = map[string][]string{
	entity.WorkUnitTypeProduction:    {entity.WorkUnitTypeDesign, entity.WorkUnitTypeProcurement},
	entity.WorkUnitTypeQC:            {entity.WorkUnitTypeProduction},
	entity.WorkUnitTypeDocumentation: {entity.WorkUnitTypeQC},
}

// ResolveBlueprint returns the active blueprint of a structure type, else the active default.
func (s *BlueprintService) ResolveBlueprint(ctx context.Context, structureType string) (*entity.DependencyBlueprint, error) {
	if structureType != "" {
		bp, err := s.repo.FindActiveByStructureType(ctx, structureType)
		if err == nil {
			return bp, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	bp, err := s.repo.FindDefault(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoBlueprint
	}
	return bp, err
}

// MaterializeEdges creates the edges the resolved blueprint requires between unit and its
// same-project siblings. Existing pairs are skipped and a cycle rejection only drops that
// candidate. Returns the edges created by this call.
func (s *BlueprintService) MaterializeEdges(ctx context.Context, unit *entity.WorkUnit, siblings []entity.WorkUnit, structureType string) ([]*entity.WorkUnitDependency, error) {
	bp, err := s.ResolveBlueprint(ctx, structureType)
	if err != nil {
		return nil, err
	}

	type pair struct{ from, to string }
	tried := map[pair]bool{}
	var created []*entity.WorkUnitDependency

	add := func(from, to *entity.WorkUnit, step *entity.BlueprintStep) error {
		p := pair{from.ID, to.ID}
		if tried[p] {
			return nil
		}
		tried[p] = true

		dep, err := s.graph.AddEdge(ctx, AddEdgeInput{
			FromWorkUnitID: from.ID,
			ToWorkUnitID:   to.ID,
			DependencyType: step.DependencyType,
			LagDays:        step.LagDays,
		})
		switch {
		case err == nil:
			created = append(created, dep)
		case errors.Is(err, ErrDuplicateEdge), errors.Is(err, ErrSelfLoop), errors.Is(err, ErrCrossProject):
		case errors.Is(err, ErrCycle):
			s.logger.Warn("blueprint edge skipped: would create cycle",
				zap.String("blueprint", bp.Name),
				zap.String("from", from.ID),
				zap.String("to", to.ID))
		default:
			return err
		}
		return nil
	}

	for i := range bp.Steps {
		step := &bp.Steps[i]
		for j := range siblings {
			sib := &siblings[j]
			if sib.ID == unit.ID || sib.ProjectID != unit.ProjectID {
				continue
			}
			if step.MatchesFrom(sib) && step.MatchesTo(unit) {
				if err := add(sib, unit, step); err != nil {
					return created, err
				}
			}
			if step.MatchesFrom(unit) && step.MatchesTo(sib) {
				if err := add(unit, sib, step); err != nil {
					return created, err
				}
			}
		}
	}

	if len(created) > 0 {
		s.logger.Info("blueprint edges materialized",
			zap.String("blueprint", bp.Name),
			zap.String("work_unit_id", unit.ID),
			zap.Int("created", len(created)))
	}
	return created, nil
}

// UpstreamTypes lists the types that must precede unitType, from the resolved blueprint or the
// built-in rules when none is configured.
func (s *BlueprintService) UpstreamTypes(ctx context.Context, structureType, unitType string) ([]string, error) {
	bp, err := s.ResolveBlueprint(ctx, structureType)
	if errors.Is(err, ErrNoBlueprint) {
		return append([]string(nil), fallbackUpstream[unitType]...), nil
	}
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var types []string
	for _, step := range bp.Steps {
		if step.ToType == unitType && !seen[step.FromType] {
			seen[step.FromType] = true
			types = append(types, step.FromType)
		}
	}
	return types, nil
}

// ========== Catalog ==========

// BlueprintStepInput describes one step.
type BlueprintStepInput struct {
	FromType            string `json:"from_type" binding:"required"`
	ToType              string `json:"to_type" binding:"required"`
	DependencyType      string `json:"dependency_type"`
	LagDays             int    `json:"lag_days"`
	SequenceOrder       int    `json:"sequence_order"`
	FromReferenceModule string `json:"from_reference_module"`
	ToReferenceModule   string `json:"to_reference_module"`
}

// BlueprintInput describes a blueprint to create or replace.
type BlueprintInput struct {
	Name          string               `json:"name" binding:"required"`
	Description   string               `json:"description"`
	StructureType string               `json:"structure_type"`
	IsDefault     bool                 `json:"is_default"`
	IsActive      *bool                `json:"is_active"`
	Steps         []BlueprintStepInput `json:"steps"`
}

func (in *BlueprintInput) validate() error {
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	for i, st := range in.Steps {
		if !entity.IsValidWorkUnitType(st.FromType) || !entity.IsValidWorkUnitType(st.ToType) {
			return fmt.Errorf("%w: step %d has an unknown work unit type", ErrInvalidInput, i+1)
		}
		if st.DependencyType != "" && !entity.IsValidDependencyType(st.DependencyType) {
			return fmt.Errorf("%w: step %d has unknown dependency type %q", ErrInvalidInput, i+1, st.DependencyType)
		}
		if st.FromReferenceModule != "" && !entity.IsValidModule(st.FromReferenceModule) ||
			st.ToReferenceModule != "" && !entity.IsValidModule(st.ToReferenceModule) {
			return fmt.Errorf("%w: step %d has an unknown reference module", ErrInvalidInput, i+1)
		}
		if st.FromType == st.ToType && st.FromReferenceModule == st.ToReferenceModule {
			return fmt.Errorf("%w: step %d links %s to itself", ErrInvalidInput, i+1, st.FromType)
		}
	}
	return nil
}

func (in *BlueprintInput) steps(now time.Time) []entity.BlueprintStep {
	steps := make([]entity.BlueprintStep, len(in.Steps))
	for i, st := range in.Steps {
		depType := st.DependencyType
		if depType == "" {
			depType = entity.DependencyFinishToStart
		}
		order := st.SequenceOrder
		if order == 0 {
			order = i + 1
		}
		steps[i] = entity.BlueprintStep{
			ID:                  entity.NewID(),
			FromType:            st.FromType,
			ToType:              st.ToType,
			DependencyType:      depType,
			LagDays:             st.LagDays,
			SequenceOrder:       order,
			FromReferenceModule: st.FromReferenceModule,
			ToReferenceModule:   st.ToReferenceModule,
			CreatedAt:           now,
		}
	}
	return steps
}

func (s *BlueprintService) List(ctx context.Context, activeOnly bool) ([]entity.DependencyBlueprint, error) {
	return s.repo.List(ctx, activeOnly)
}

func (s *BlueprintService) Get(ctx context.Context, id string) (*entity.DependencyBlueprint, error) {
	return s.repo.FindByID(ctx, id)
}

// Create inserts a blueprint. Marking it default clears the previous default of its scope.
func (s *BlueprintService) Create(ctx context.Context, in *BlueprintInput) (*entity.DependencyBlueprint, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	bp := &entity.DependencyBlueprint{
		ID:            entity.NewID(),
		Name:          in.Name,
		Description:   in.Description,
		StructureType: in.StructureType,
		IsDefault:     in.IsDefault,
		IsActive:      active,
		CreatedAt:     now,
		UpdatedAt:     now,
		Steps:         in.steps(now),
	}

	err := s.repo.Transaction(ctx, func(tx *repository.BlueprintRepository) error {
		if _, err := tx.FindByName(ctx, bp.Name); err == nil {
			return ErrDuplicateName
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if bp.IsDefault {
			if err := tx.ClearDefault(ctx, bp.StructureType, bp.ID); err != nil {
				return err
			}
		}
		if err := tx.Create(ctx, bp); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrDuplicateName
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("blueprint created", zap.String("id", bp.ID), zap.String("name", bp.Name), zap.Int("steps", len(bp.Steps)))
	return bp, nil
}

// Update replaces the blueprint's fields and steps.
func (s *BlueprintService) Update(ctx context.Context, id string, in *BlueprintInput) (*entity.DependencyBlueprint, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	err := s.repo.Transaction(ctx, func(tx *repository.BlueprintRepository) error {
		bp, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if other, err := tx.FindByName(ctx, in.Name); err == nil && other.ID != id {
			return ErrDuplicateName
		} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		now := time.Now().UTC()
		bp.Name = in.Name
		bp.Description = in.Description
		bp.StructureType = in.StructureType
		bp.IsDefault = in.IsDefault
		if in.IsActive != nil {
			bp.IsActive = *in.IsActive
		}
		bp.UpdatedAt = now

		if bp.IsDefault {
			if err := tx.ClearDefault(ctx, bp.StructureType, bp.ID); err != nil {
				return err
			}
		}
		if err := tx.UpdateFields(ctx, bp); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrDuplicateName
			}
			return err
		}
		return tx.ReplaceSteps(ctx, bp.ID, in.steps(now))
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

// SetDefault makes id the default (and active) blueprint of its scope.
func (s *BlueprintService) SetDefault(ctx context.Context, id string) (*entity.DependencyBlueprint, error) {
	err := s.repo.Transaction(ctx, func(tx *repository.BlueprintRepository) error {
		bp, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.ClearDefault(ctx, bp.StructureType, bp.ID); err != nil {
			return err
		}
		bp.IsDefault = true
		bp.IsActive = true
		bp.UpdatedAt = time.Now().UTC()
		return tx.UpdateFields(ctx, bp)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

// SetActive toggles whether a blueprint takes part in resolution.
func (s *BlueprintService) SetActive(ctx context.Context, id string, active bool) (*entity.DependencyBlueprint, error) {
	bp, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	bp.IsActive = active
	bp.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateFields(ctx, bp); err != nil {
		return nil, err
	}
	return bp, nil
}

func (s *BlueprintService) Delete(ctx context.Context, id string) error {
	return s.repo.Transaction(ctx, func(tx *repository.BlueprintRepository) error {
		return tx.Delete(ctx, id)
	})
}

func seedStep(from, to, depType string, lag, order int) BlueprintStepInput {
	return BlueprintStepInput{FromType: from, ToType: to, DependencyType: depType, LagDays: lag, SequenceOrder: order}
}

// DefaultBlueprints are the built-in blueprints installed by SeedDefaults.
func DefaultBlueprints() []BlueprintInput {
	const (
		design = entity.WorkUnitTypeDesign
		proc   = entity.WorkUnitTypeProcurement
		prod   = entity.WorkUnitTypeProduction
		qc     = entity.WorkUnitTypeQC
		doc    = entity.WorkUnitTypeDocumentation
		fs     = entity.DependencyFinishToStart
		ss     = entity.DependencyStartToStart
	)
	return []BlueprintInput{
		{
			Name:        "Standard Steel Fabrication",
			Description: "Default flow for steel fabrication projects: design, procurement, production, QC, documentation.",
			IsDefault:   true,
			Steps: []BlueprintStepInput{
				seedStep(design, prod, fs, 0, 1),
				seedStep(design, proc, ss, 0, 2),
				seedStep(proc, prod, fs, 0, 3),
				seedStep(prod, qc, fs, 0, 4),
				seedStep(qc, doc, fs, 0, 5),
			},
		},
		{
			Name:          "PEB Project",
			Description:   "Pre-engineered building flow with a design review lag before production.",
			StructureType: "PEB",
			Steps: []BlueprintStepInput{
				seedStep(design, prod, fs, 2, 1),
				seedStep(design, proc, ss, 5, 2),
				seedStep(proc, prod, fs, 0, 3),
				seedStep(prod, qc, fs, 0, 4),
				seedStep(qc, doc, fs, 0, 5),
			},
		},
		{
			Name:          "Heavy Steel Structure",
			Description:   "Heavy steel flow with longer design lag and QC preparation.",
			StructureType: "Heavy Steel",
			Steps: []BlueprintStepInput{
				seedStep(design, prod, fs, 3, 1),
				seedStep(design, proc, fs, 0, 2),
				seedStep(proc, prod, fs, 0, 3),
				seedStep(prod, qc, fs, 1, 4),
				seedStep(qc, doc, fs, 0, 5),
			},
		},
	}
}

// SeedDefaults installs the built-in blueprints that are missing by name. Safe to run repeatedly.
func (s *BlueprintService) SeedDefaults(ctx context.Context) (int, error) {
	created := 0
	for _, in := range DefaultBlueprints() {
		in := in
		if _, err := s.repo.FindByName(ctx, in.Name); err == nil {
			continue
		} else if !errors.Is(err, repository.ErrNotFound) {
			return created, err
		}
		if _, err := s.Create(ctx, &in); err != nil {
			if errors.Is(err, ErrDuplicateName) {
				continue
			}
			return created, fmt.Errorf("seed blueprint %q: %w", in.Name, err)
		}
		created++
	}
	return created, nil
}
