package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/refedo/OTS-sub007/internal/config"
	"github.com/refedo/OTS-sub007/internal/metrics"
	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"github.com/refedo/OTS-sub007/internal/ops/graph"
	"github.com/refedo/OTS-sub007/internal/ops/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
)

// Risk change kinds delivered to notifiers.
const (
	RiskChangeOpened    = "opened"
	RiskChangeEscalated = "escalated"
	RiskChangeUpdated   = "updated"
	RiskChangeResolved  = "resolved"
)

// RiskChange is one state change of a risk event.
type RiskChange struct {
	Kind  string           `json:"kind"`
	Event entity.RiskEvent `json:"event"`
}

// RiskNotifier receives risk changes after they are persisted.
type RiskNotifier interface {
	NotifyRisks(ctx context.Context, changes []RiskChange)
}

// RiskEngine evaluates the risk rules and keeps the risk feed deduplicated.
type RiskEngine struct {
	units      *repository.WorkUnitRepository
	deps       *repository.DependencyRepository
	risks      *repository.RiskRepository
	capacities *repository.CapacityRepository
	capacity   *CapacityService
	cfg        config.EngineConfig
	rules      ruleConfig
	logger     *zap.Logger
	metrics    *metrics.Collector
	now        func() time.Time
	resolver   NameResolver

	notifiers []RiskNotifier
	flight    singleflight.Group
	overload  sync.Mutex
	pending   sync.WaitGroup
}

func NewRiskEngine(repos *repository.Repositories, capacity *CapacityService, cfg config.EngineConfig, logger *zap.Logger) *RiskEngine {
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 4
	}
	if cfg.BottleneckThreshold <= 0 {
		cfg.BottleneckThreshold = 3
	}
	if cfg.CascadeLookaheadDays <= 0 {
		cfg.CascadeLookaheadDays = 7
	}
	if cfg.OverdueCriticalDays <= 0 {
		cfg.OverdueCriticalDays = 7
	}
	e := &RiskEngine{
		units:      repos.WorkUnit,
		deps:       repos.Dependency,
		risks:      repos.Risk,
		capacities: repos.Capacity,
		capacity:   capacity,
		cfg:        cfg,
		rules: ruleConfig{
			OverdueCriticalDays:  cfg.OverdueCriticalDays,
			BottleneckThreshold:  cfg.BottleneckThreshold,
			CascadeLookaheadDays: cfg.CascadeLookaheadDays,
			Limits:               graph.Limits{MaxNodes: cfg.MaxTraversalNodes, MaxDepth: cfg.MaxTraversalDepth},
		},
		logger: logger.Named("risk"),
		now:    time.Now,
	}
	e.resolver = NewRegistryResolver(repos.WorkUnit)
	return e
}

// SetMetrics sets the metrics collector.
func (e *RiskEngine) SetMetrics(m *metrics.Collector) {
	e.metrics = m
}

// SetClock overrides the time source.
func (e *RiskEngine) SetClock(now func() time.Time) {
	e.now = now
}

// SetNameResolver replaces the digest label resolver.
func (e *RiskEngine) SetNameResolver(r NameResolver) {
	e.resolver = r
}

// AddNotifier registers a receiver of risk changes.
func (e *RiskEngine) AddNotifier(n RiskNotifier) {
	e.notifiers = append(e.notifiers, n)
}

// EvaluationResult counts the writes of one evaluation.
type EvaluationResult struct {
	Scope     string `json:"scope"`
	Detected  int    `json:"detected"`
	Opened    int    `json:"opened"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Resolved  int    `json:"resolved"`
}

func (r *EvaluationResult) add(o *EvaluationResult) {
	r.Detected += o.Detected
	r.Opened += o.Opened
	r.Updated += o.Updated
	r.Unchanged += o.Unchanged
	r.Resolved += o.Resolved
}

var projectRiskTypes = []string{entity.RiskTypeDelay, entity.RiskTypeBottleneck, entity.RiskTypeDependency}

// EvaluateProject runs the project-scoped rules on one project. Concurrent calls for the same
// project share one evaluation.
func (e *RiskEngine) EvaluateProject(ctx context.Context, projectID string) (*EvaluationResult, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrInvalidInput)
	}
	v, err, _ := e.flight.Do("project:"+projectID, func() (interface{}, error) {
		return e.evaluateProject(ctx, projectID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*EvaluationResult), nil
}

func (e *RiskEngine) evaluateProject(ctx context.Context, projectID string) (*EvaluationResult, error) {
	units, err := e.units.ListByProject(ctx, projectID, nil)
	if err != nil {
		return nil, fmt.Errorf("load units: %w", err)
	}
	deps, err := e.deps.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}

	now := e.now().UTC()
	dets, err := detectProject(newProjectSnapshot(projectID, units, deps), now, e.rules)
	if err != nil {
		return nil, err
	}
	return e.reconcile(ctx, projectID, projectRiskTypes, dets, now)
}

// EvaluateOverload runs the capacity rule for the current week across all projects.
func (e *RiskEngine) EvaluateOverload(ctx context.Context) (*EvaluationResult, error) {
	e.overload.Lock()
	defer e.overload.Unlock()

	now := e.now().UTC()
	caps, err := e.capacities.List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("load capacities: %w", err)
	}
	var dets []detection
	for i := range caps {
		c := &caps[i]
		wl, units, err := e.capacity.LoadForWeek(ctx, c, now)
		if err != nil {
			return nil, fmt.Errorf("load for %s: %w", c.ResourceType, err)
		}
		if det, ok := overloadDetection(c, wl, units); ok {
			dets = append(dets, det)
		}
	}
	return e.reconcile(ctx, "", []string{entity.RiskTypeOverload}, dets, now)
}

// reconcile upserts detections by fingerprint and resolves stale active events of the scope.
func (e *RiskEngine) reconcile(ctx context.Context, projectID string, types []string, dets []detection, now time.Time) (*EvaluationResult, error) {
	scope := projectID
	if scope == "" {
		scope = "global"
	}
	result := &EvaluationResult{Scope: scope, Detected: len(dets)}

	active, err := e.risks.ListActiveInScope(ctx, projectID, types)
	if err != nil {
		return nil, fmt.Errorf("load active risks: %w", err)
	}
	byFP := make(map[string]*entity.RiskEvent, len(active))
	var staleIDs []string
	var stale []entity.RiskEvent
	for i := range active {
		ev := &active[i]
		if _, dup := byFP[ev.Fingerprint]; dup {
			staleIDs = append(staleIDs, ev.ID)
			stale = append(stale, *ev)
			continue
		}
		byFP[ev.Fingerprint] = ev
	}

	var changes []RiskChange
	var touch []string
	seen := make(map[string]bool, len(dets))
	for i := range dets {
		d := &dets[i]
		fp := d.fingerprint()
		if seen[fp] {
			continue
		}
		seen[fp] = true

		ev, ok := byFP[fp]
		if !ok {
			ev = newRiskEvent(d, fp, now)
			if err := e.risks.Create(ctx, ev); err != nil {
				return nil, fmt.Errorf("create risk: %w", err)
			}
			result.Opened++
			e.metrics.RecordRiskOpened(ev.Type)
			changes = append(changes, RiskChange{Kind: RiskChangeOpened, Event: *ev})
			continue
		}

		if ev.Severity == d.Severity && ev.Reason == d.Reason {
			touch = append(touch, ev.ID)
			result.Unchanged++
			continue
		}

		kind := RiskChangeUpdated
		if entity.SeverityRank(d.Severity) > entity.SeverityRank(ev.Severity) {
			kind = RiskChangeEscalated
		}
		applyDetection(ev, d, now)
		ev.DetectedAt = now
		if err := e.risks.Save(ctx, ev); err != nil {
			return nil, fmt.Errorf("update risk: %w", err)
		}
		result.Updated++
		changes = append(changes, RiskChange{Kind: kind, Event: *ev})
	}

	if err := e.risks.TouchEvaluated(ctx, touch, now); err != nil {
		return nil, fmt.Errorf("touch risks: %w", err)
	}

	for fp, ev := range byFP {
		if !seen[fp] {
			staleIDs = append(staleIDs, ev.ID)
			stale = append(stale, *ev)
		}
	}
	if len(staleIDs) > 0 {
		n, err := e.risks.Resolve(ctx, staleIDs, now, entity.ResolvedBySystem, "Condition no longer detected")
		if err != nil {
			return nil, fmt.Errorf("resolve stale risks: %w", err)
		}
		result.Resolved = int(n)
		sort.Slice(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })
		for _, ev := range stale {
			ev.ResolvedAt = &now
			ev.ResolvedBy = entity.ResolvedBySystem
			e.metrics.RecordRiskResolved(ev.Type, 1)
			changes = append(changes, RiskChange{Kind: RiskChangeResolved, Event: ev})
		}
	}

	if result.Opened+result.Updated+result.Resolved > 0 {
		e.logger.Info("risks reconciled",
			zap.String("scope", scope),
			zap.Int("detected", result.Detected),
			zap.Int("opened", result.Opened),
			zap.Int("updated", result.Updated),
			zap.Int("resolved", result.Resolved))
	}
	e.notify(ctx, changes)
	return result, nil
}

func newRiskEvent(d *detection, fp string, now time.Time) *entity.RiskEvent {
	ev := &entity.RiskEvent{
		ID:          entity.NewID(),
		Fingerprint: fp,
		DetectedAt:  now,
		CreatedAt:   now,
	}
	applyDetection(ev, d, now)
	return ev
}

func applyDetection(ev *entity.RiskEvent, d *detection, now time.Time) {
	ev.Type = d.Type
	ev.Severity = d.Severity
	ev.ProjectID = d.ProjectID
	ev.TriggerWorkUnitID = d.TriggerWorkUnitID
	ev.Reason = d.Reason
	ev.RecommendedAction = d.Action
	ev.AffectedWorkUnitIDs = datatypes.JSONSlice[string](d.Affected)
	ev.AffectedProjectIDs = datatypes.JSONSlice[string](d.AffectedProjects)
	ev.Subjects = datatypes.JSONSlice[entity.RiskSubject](d.Subjects)
	ev.Metadata = datatypes.JSONMap(d.Metadata)
	ev.LastEvaluatedAt = now
	ev.UpdatedAt = now
}

func (e *RiskEngine) notify(ctx context.Context, changes []RiskChange) {
	if len(changes) == 0 {
		return
	}
	for _, n := range e.notifiers {
		n.NotifyRisks(ctx, changes)
	}
}

// SweepResult summarizes a full sweep.
type SweepResult struct {
	Trigger        string           `json:"trigger"`
	Projects       int              `json:"projects"`
	FailedProjects int              `json:"failed_projects"`
	Totals         EvaluationResult `json:"totals"`
	Duration       time.Duration    `json:"duration"`
}

// Sweep evaluates every project with open work or active risks, then the capacity rule.
// A failing project is logged and counted; it never aborts the sweep.
func (e *RiskEngine) Sweep(ctx context.Context, trigger string) (*SweepResult, error) {
	started := time.Now()

	open, err := e.units.ListOpenProjectIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	withRisks, err := e.risks.ListActiveProjectIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list risk projects: %w", err)
	}
	projects := mergeIDs(open, withRisks)

	result := &SweepResult{Trigger: trigger, Projects: len(projects), Totals: EvaluationResult{Scope: "sweep"}}
	var failed int64
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.SweepConcurrency)
	for _, projectID := range projects {
		projectID := projectID
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res, err := e.EvaluateProject(ctx, projectID)
			e.metrics.RecordProject(err != nil)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				e.logger.Error("project evaluation failed", zap.String("project_id", projectID), zap.Error(err))
				return nil
			}
			mu.Lock()
			result.Totals.add(res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	result.FailedProjects = int(failed)

	if res, err := e.EvaluateOverload(ctx); err != nil {
		e.logger.Error("overload evaluation failed", zap.Error(err))
	} else {
		result.Totals.add(res)
	}

	e.refreshActiveGauge(ctx)
	result.Duration = time.Since(started)
	e.metrics.RecordSweep(trigger, result.Duration)
	e.logger.Info("risk sweep finished",
		zap.String("trigger", trigger),
		zap.Int("projects", result.Projects),
		zap.Int("failed", result.FailedProjects),
		zap.Int("opened", result.Totals.Opened),
		zap.Int("resolved", result.Totals.Resolved),
		zap.Duration("duration", result.Duration))
	return result, ctx.Err()
}

func mergeIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if id != "" && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (e *RiskEngine) refreshActiveGauge(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	rows, err := e.risks.CountActiveBy(ctx, "severity")
	if err != nil {
		e.logger.Warn("count active risks failed", zap.Error(err))
		return
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Name] = r.Count
	}
	e.metrics.SetActiveRisks(counts)
}

// RequestEvaluation schedules an asynchronous evaluation of a project after a change. It is a
// no-op unless evaluate_on_change is enabled.
func (e *RiskEngine) RequestEvaluation(projectID string) {
	if !e.cfg.EvaluateOnChange || projectID == "" {
		return
	}
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := e.EvaluateProject(ctx, projectID); err != nil {
			e.logger.Warn("on-demand evaluation failed", zap.String("project_id", projectID), zap.Error(err))
		}
	}()
}

// Wait blocks until pending on-demand evaluations finish.
func (e *RiskEngine) Wait() {
	e.pending.Wait()
}
