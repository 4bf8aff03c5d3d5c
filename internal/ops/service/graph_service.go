package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/refedo/OTS-sub007/internal/metrics"
	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"github.com/refedo/OTS-sub007/internal/ops/graph"
	"github.com/refedo/OTS-sub007/internal/ops/repository"
	"go.uber.org/zap"
)

// GraphService owns the dependency edges and answers traversal queries over a project's graph.
type GraphService struct {
	units         *repository.WorkUnitRepository
	deps          *repository.DependencyRepository
	limits        graph.Limits
	chainMaxDepth int
	logger        *zap.Logger
	metrics       *metrics.Collector
	onChange      func(projectID string)

	// edge writes of one project are serialized so two concurrent inserts cannot close a cycle
	projectLocks sync.Map
}

func NewGraphService(units *repository.WorkUnitRepository, deps *repository.DependencyRepository, limits graph.Limits, chainMaxDepth int, logger *zap.Logger) *GraphService {
	if chainMaxDepth <= 0 {
		chainMaxDepth = 10
	}
	return &GraphService{
		units:         units,
		deps:          deps,
		limits:        limits,
		chainMaxDepth: chainMaxDepth,
		logger:        logger.Named("graph"),
	}
}

// SetMetrics sets the collector used for rejection counters.
func (s *GraphService) SetMetrics(m *metrics.Collector) {
	s.metrics = m
}

// SetChangeHook registers a callback invoked after an edge of a project changes.
func (s *GraphService) SetChangeHook(fn func(projectID string)) {
	s.onChange = fn
}

func (s *GraphService) lockProject(projectID string) func() {
	v, _ := s.projectLocks.LoadOrStore(projectID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *GraphService) changed(projectID string) {
	if s.onChange != nil {
		s.onChange(projectID)
	}
}

// AddEdgeInput describes a dependency to create.
type AddEdgeInput struct {
	FromWorkUnitID string `json:"from_work_unit_id" binding:"required"`
	ToWorkUnitID   string `json:"to_work_unit_id" binding:"required"`
	DependencyType string `json:"dependency_type"`
	LagDays        int    `json:"lag_days"`
}

// AddEdge validates and inserts From -> To.
func (s *GraphService) AddEdge(ctx context.Context, in AddEdgeInput) (*entity.WorkUnitDependency, error) {
	if in.FromWorkUnitID == in.ToWorkUnitID {
		s.metrics.RecordEdgeRejected("self_loop")
		return nil, ErrSelfLoop
	}
	if in.DependencyType == "" {
		in.DependencyType = entity.DependencyFinishToStart
	}
	if !entity.IsValidDependencyType(in.DependencyType) {
		return nil, fmt.Errorf("%w: unknown dependency type %q", ErrInvalidInput, in.DependencyType)
	}

	from, err := s.units.FindByID(ctx, in.FromWorkUnitID)
	if err != nil {
		return nil, fmt.Errorf("from work unit %s: %w", in.FromWorkUnitID, err)
	}
	to, err := s.units.FindByID(ctx, in.ToWorkUnitID)
	if err != nil {
		return nil, fmt.Errorf("to work unit %s: %w", in.ToWorkUnitID, err)
	}
	if from.ProjectID != to.ProjectID {
		s.metrics.RecordEdgeRejected("cross_project")
		return nil, ErrCrossProject
	}

	unlock := s.lockProject(from.ProjectID)
	defer unlock()

	if _, err := s.deps.FindByPair(ctx, from.ID, to.ID); err == nil {
		s.metrics.RecordEdgeRejected("duplicate")
		return nil, ErrDuplicateEdge
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	g, err := s.loadGraph(ctx, from.ProjectID)
	if err != nil {
		return nil, err
	}
	cyclic, err := g.WouldCreateCycle(from.ID, to.ID, s.limits)
	if err != nil {
		return nil, err
	}
	if cyclic {
		s.metrics.RecordEdgeRejected("cycle")
		return nil, ErrCycle
	}

	now := time.Now().UTC()
	dep := &entity.WorkUnitDependency{
		ID:             entity.NewID(),
		ProjectID:      from.ProjectID,
		FromWorkUnitID: from.ID,
		ToWorkUnitID:   to.ID,
		DependencyType: in.DependencyType,
		LagDays:        in.LagDays,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.deps.Create(ctx, dep); err != nil {
		if repository.IsDuplicate(err) {
			s.metrics.RecordEdgeRejected("duplicate")
			return nil, ErrDuplicateEdge
		}
		return nil, fmt.Errorf("create dependency: %w", err)
	}

	s.logger.Debug("dependency added",
		zap.String("project_id", dep.ProjectID),
		zap.String("from", dep.FromWorkUnitID),
		zap.String("to", dep.ToWorkUnitID),
		zap.String("type", dep.DependencyType),
		zap.Int("lag_days", dep.LagDays))
	s.changed(dep.ProjectID)
	return dep, nil
}

// UpdateEdge changes the relation type and lag of an edge. Endpoints never change, so
// acyclicity is preserved.
func (s *GraphService) UpdateEdge(ctx context.Context, id, depType string, lagDays int) (*entity.WorkUnitDependency, error) {
	if depType == "" {
		depType = entity.DependencyFinishToStart
	}
	if !entity.IsValidDependencyType(depType) {
		return nil, fmt.Errorf("%w: unknown dependency type %q", ErrInvalidInput, depType)
	}
	dep, err := s.deps.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	dep.DependencyType = depType
	dep.LagDays = lagDays
	dep.UpdatedAt = time.Now().UTC()
	if err := s.deps.Update(ctx, dep); err != nil {
		return nil, err
	}
	s.changed(dep.ProjectID)
	return dep, nil
}

// RemoveEdge deletes an edge.
func (s *GraphService) RemoveEdge(ctx context.Context, id string) error {
	dep, err := s.deps.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.deps.Delete(ctx, id); err != nil {
		return err
	}
	s.changed(dep.ProjectID)
	return nil
}

// UpstreamOf lists the edges pointing into a unit with their source units.
func (s *GraphService) UpstreamOf(ctx context.Context, id string) ([]entity.WorkUnitDependency, error) {
	if _, err := s.units.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.deps.ListUpstream(ctx, id)
}

// DownstreamOf lists the edges leaving a unit with their target units.
func (s *GraphService) DownstreamOf(ctx context.Context, id string) ([]entity.WorkUnitDependency, error) {
	if _, err := s.units.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.deps.ListDownstream(ctx, id)
}

func (s *GraphService) loadGraph(ctx context.Context, projectID string) (*graph.Graph, error) {
	deps, err := s.deps.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project edges: %w", err)
	}
	return graph.New(toGraphEdges(deps)), nil
}

func toGraphEdges(deps []entity.WorkUnitDependency) []graph.Edge {
	edges := make([]graph.Edge, len(deps))
	for i, d := range deps {
		edges[i] = graph.Edge{From: d.FromWorkUnitID, To: d.ToWorkUnitID, Type: d.DependencyType, Lag: d.LagDays}
	}
	return edges
}

// ReachableSet returns every unit transitively upstream or downstream of id, nearest first.
func (s *GraphService) ReachableSet(ctx context.Context, id string, dir graph.Direction) ([]entity.WorkUnit, error) {
	unit, err := s.units.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	g, err := s.loadGraph(ctx, unit.ProjectID)
	if err != nil {
		return nil, err
	}
	ids, err := g.Reachable(id, dir, s.limits)
	if err != nil {
		return nil, err
	}
	return s.loadOrdered(ctx, ids)
}

func (s *GraphService) loadOrdered(ctx context.Context, ids []string) ([]entity.WorkUnit, error) {
	units, err := s.units.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]entity.WorkUnit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}
	ordered := make([]entity.WorkUnit, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			ordered = append(ordered, u)
		}
	}
	return ordered, nil
}

// ChainNode is one unit of a dependency chain.
type ChainNode struct {
	WorkUnit       entity.WorkUnit `json:"work_unit"`
	Depth          int             `json:"depth"`
	ViaWorkUnitID  string          `json:"via_work_unit_id"`
	DependencyType string          `json:"dependency_type"`
	LagDays        int             `json:"lag_days"`
}

// Chain returns the dependency chain of id in one direction, layer by layer up to maxDepth.
// A non-positive maxDepth uses the configured default.
func (s *GraphService) Chain(ctx context.Context, id string, dir graph.Direction, maxDepth int) ([]ChainNode, error) {
	if maxDepth <= 0 || maxDepth > s.chainMaxDepth {
		maxDepth = s.chainMaxDepth
	}
	unit, err := s.units.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	g, err := s.loadGraph(ctx, unit.ProjectID)
	if err != nil {
		return nil, err
	}
	visits, err := g.Chain(id, dir, maxDepth, s.limits)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(visits))
	for i, v := range visits {
		ids[i] = v.ID
	}
	units, err := s.loadOrdered(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]entity.WorkUnit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}

	chain := make([]ChainNode, 0, len(visits))
	for _, v := range visits {
		u, ok := byID[v.ID]
		if !ok {
			continue
		}
		via := v.Via.From
		if dir == graph.Upstream {
			via = v.Via.To
		}
		chain = append(chain, ChainNode{
			WorkUnit:       u,
			Depth:          v.Depth,
			ViaWorkUnitID:  via,
			DependencyType: v.Via.Type,
			LagDays:        v.Via.Lag,
		})
	}
	return chain, nil
}

// SlipImpact is the projected effect of a delay on one downstream unit.
type SlipImpact struct {
	WorkUnit       entity.WorkUnit `json:"work_unit"`
	SlipDays       int             `json:"slip_days"`
	ProjectedStart time.Time       `json:"projected_start"`
	ProjectedEnd   time.Time       `json:"projected_end"`
}

// DelayImpact is the result of pushing a delay through the graph.
type DelayImpact struct {
	SourceID      string       `json:"source_id"`
	DelayDays     int          `json:"delay_days"`
	AffectedCount int          `json:"affected_count"`
	MaxSlipDays   int          `json:"max_slip_days"`
	Impacts       []SlipImpact `json:"impacts"`
}

// DelayImpact projects how a delay of delayDays on id moves its downstream units.
func (s *GraphService) DelayImpact(ctx context.Context, id string, delayDays int) (*DelayImpact, error) {
	if delayDays < 0 {
		return nil, fmt.Errorf("%w: delay days must not be negative", ErrInvalidInput)
	}
	unit, err := s.units.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	units, err := s.units.ListByProject(ctx, unit.ProjectID, nil)
	if err != nil {
		return nil, err
	}
	g, err := s.loadGraph(ctx, unit.ProjectID)
	if err != nil {
		return nil, err
	}
	windows := make(map[string]graph.Window, len(units))
	byID := make(map[string]entity.WorkUnit, len(units))
	for _, u := range units {
		windows[u.ID] = graph.Window{Start: u.PlannedStart, End: u.PlannedEnd}
		byID[u.ID] = u
	}

	slip, err := g.PropagateSlip(id, delayDays, windows, s.limits)
	if err != nil {
		return nil, err
	}

	result := &DelayImpact{SourceID: id, DelayDays: delayDays, Impacts: []SlipImpact{}}
	for uid, days := range slip {
		if uid == id {
			continue
		}
		u, ok := byID[uid]
		if !ok {
			continue
		}
		shift := time.Duration(days) * 24 * time.Hour
		result.Impacts = append(result.Impacts, SlipImpact{
			WorkUnit:       u,
			SlipDays:       days,
			ProjectedStart: u.PlannedStart.Add(shift),
			ProjectedEnd:   u.PlannedEnd.Add(shift),
		})
		if days > result.MaxSlipDays {
			result.MaxSlipDays = days
		}
	}
	sort.Slice(result.Impacts, func(i, j int) bool {
		a, b := result.Impacts[i], result.Impacts[j]
		if a.SlipDays != b.SlipDays {
			return a.SlipDays > b.SlipDays
		}
		if !a.WorkUnit.PlannedStart.Equal(b.WorkUnit.PlannedStart) {
			return a.WorkUnit.PlannedStart.Before(b.WorkUnit.PlannedStart)
		}
		return a.WorkUnit.ID < b.WorkUnit.ID
	})
	result.AffectedCount = len(result.Impacts)
	return result, nil
}

// GraphNode is a unit in the project graph view.
type GraphNode struct {
	ID              string `json:"id"`
	Label           string `json:"label"`
	Type            string `json:"type"`
	Status          string `json:"status"`
	ReferenceModule string `json:"reference_module"`
	ReferenceID     string `json:"reference_id"`
	UpstreamCount   int    `json:"upstream_count"`
	DownstreamCount int    `json:"downstream_count"`
	IsCritical      bool   `json:"is_critical"`
	Exists          bool   `json:"exists"`
}

// GraphEdge is an edge in the project graph view.
type GraphEdge struct {
	ID             string `json:"id"`
	From           string `json:"from"`
	To             string `json:"to"`
	DependencyType string `json:"dependency_type"`
	LagDays        int    `json:"lag_days"`
}

// GraphSummary aggregates the project graph view.
type GraphSummary struct {
	TotalNodes       int            `json:"total_nodes"`
	TotalEdges       int            `json:"total_edges"`
	CriticalNodes    int            `json:"critical_nodes"`
	ByDependencyType map[string]int `json:"by_dependency_type"`
	ByStatus         map[string]int `json:"by_status"`
}

// GraphView is the project graph as served to dashboards.
type GraphView struct {
	ProjectID string       `json:"project_id"`
	Nodes     []GraphNode  `json:"nodes"`
	Edges     []GraphEdge  `json:"edges"`
	Summary   GraphSummary `json:"summary"`
}

// ProjectGraph builds the graph view of a project. Edge endpoints missing from the registry
// appear as nodes with exists=false.
func (s *GraphService) ProjectGraph(ctx context.Context, projectID string) (*GraphView, error) {
	units, err := s.units.ListByProject(ctx, projectID, nil)
	if err != nil {
		return nil, err
	}
	deps, err := s.deps.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	view := &GraphView{
		ProjectID: projectID,
		Nodes:     make([]GraphNode, 0, len(units)),
		Edges:     make([]GraphEdge, 0, len(deps)),
		Summary: GraphSummary{
			ByDependencyType: map[string]int{},
			ByStatus:         map[string]int{},
		},
	}

	index := make(map[string]int, len(units))
	for _, u := range units {
		index[u.ID] = len(view.Nodes)
		view.Nodes = append(view.Nodes, GraphNode{
			ID:              u.ID,
			Label:           unitLabel(&u),
			Type:            u.Type,
			Status:          u.Status,
			ReferenceModule: u.ReferenceModule,
			ReferenceID:     u.ReferenceID,
			Exists:          true,
		})
	}
	node := func(id string) *GraphNode {
		if i, ok := index[id]; ok {
			return &view.Nodes[i]
		}
		index[id] = len(view.Nodes)
		view.Nodes = append(view.Nodes, GraphNode{ID: id, Label: id})
		return &view.Nodes[len(view.Nodes)-1]
	}

	for _, d := range deps {
		view.Edges = append(view.Edges, GraphEdge{
			ID:             d.ID,
			From:           d.FromWorkUnitID,
			To:             d.ToWorkUnitID,
			DependencyType: d.DependencyType,
			LagDays:        d.LagDays,
		})
		node(d.FromWorkUnitID).DownstreamCount++
		node(d.ToWorkUnitID).UpstreamCount++
		view.Summary.ByDependencyType[d.DependencyType]++
	}

	for i := range view.Nodes {
		n := &view.Nodes[i]
		n.IsCritical = n.Exists && n.DownstreamCount > 0 && n.Status != entity.WorkUnitStatusCompleted
		if n.IsCritical {
			view.Summary.CriticalNodes++
		}
		if n.Exists {
			view.Summary.ByStatus[n.Status]++
		}
	}
	view.Summary.TotalNodes = len(view.Nodes)
	view.Summary.TotalEdges = len(view.Edges)
	return view, nil
}

func unitLabel(u *entity.WorkUnit) string {
	return u.ReferenceModule + " " + u.ReferenceID
}
