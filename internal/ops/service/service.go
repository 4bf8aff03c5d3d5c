package service

import (
	"github.com/refedo/OTS-sub007/internal/config"
	"github.com/refedo/OTS-sub007/internal/metrics"
	"github.com/refedo/OTS-sub007/internal/ops/graph"
	"github.com/refedo/OTS-sub007/internal/ops/repository"
	"go.uber.org/zap"
)

// Services groups the ops services.
type Services struct {
	WorkUnit   *WorkUnitService
	Graph      *GraphService
	Blueprint  *BlueprintService
	Sync       *SyncService
	Dispatcher *Dispatcher
	Capacity   *CapacityService
	Risk       *RiskEngine
	Preview    *PreviewService
}

// NewServices builds the services and wires graph and sync changes to on-demand evaluation.
func NewServices(repos *repository.Repositories, cfg *config.Config, logger *zap.Logger) *Services {
	limits := graph.Limits{MaxNodes: cfg.Engine.MaxTraversalNodes, MaxDepth: cfg.Engine.MaxTraversalDepth}

	workUnits := NewWorkUnitService(repos.WorkUnit, logger)
	graphSvc := NewGraphService(repos.WorkUnit, repos.Dependency, limits, cfg.Engine.ChainMaxDepth, logger)
	blueprints := NewBlueprintService(repos.Blueprint, graphSvc, logger)
	syncSvc := NewSyncService(workUnits, blueprints, graphSvc, repos.WorkUnit, logger)
	capacity := NewCapacityService(repos.Capacity, repos.WorkUnit)
	engine := NewRiskEngine(repos, capacity, cfg.Engine, logger)
	dispatcher := NewDispatcher(syncSvc, repos.SyncFailure, cfg.Sync, logger)

	graphSvc.SetChangeHook(engine.RequestEvaluation)
	dispatcher.SetAppliedHook(engine.RequestEvaluation)

	return &Services{
		WorkUnit:   workUnits,
		Graph:      graphSvc,
		Blueprint:  blueprints,
		Sync:       syncSvc,
		Dispatcher: dispatcher,
		Capacity:   capacity,
		Risk:       engine,
		Preview:    NewPreviewService(blueprints, repos.WorkUnit, repos.Capacity, capacity, cfg.Engine.MaxTraversalNodes),
	}
}

// SetMetrics attaches the collector to every instrumented service.
func (s *Services) SetMetrics(m *metrics.Collector) {
	s.Graph.SetMetrics(m)
	s.Dispatcher.SetMetrics(m)
	s.Risk.SetMetrics(m)
}
