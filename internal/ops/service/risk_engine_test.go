package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"github.com/refedo/OTS-sub007/internal/ops/graph"
	"github.com/refedo/OTS-sub007/internal/ops/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu      sync.Mutex
	changes []RiskChange
}

func (n *recordingNotifier) NotifyRisks(_ context.Context, changes []RiskChange) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, changes...)
}

func (n *recordingNotifier) kinds() map[string]int {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := map[string]int{}
	for _, c := range n.changes {
		out[c.Kind]++
	}
	return out
}

type failingResolver struct{}

func (failingResolver) ResolveNames(context.Context, []string) (map[string]string, error) {
	return nil, errors.New("registry unavailable")
}

func markStarted(t *testing.T, db *gorm.DB, u *entity.WorkUnit, at time.Time) {
	t.Helper()
	require.NoError(t, db.Model(u).Update("actual_start", at).Error)
}

// seedLateDesign creates a started DESIGN unit that was due yesterday and a PRODUCTION unit
// depending on it that starts in startOffset days.
func seedLateDesign(t *testing.T, ts *testServices, projectID string, startOffset int) (*entity.WorkUnit, *entity.WorkUnit) {
	t.Helper()
	design := testutil.SeedWorkUnit(t, ts.db, projectID, entity.WorkUnitTypeDesign, entity.ModuleTask, projectID+"-design",
		entity.WorkUnitStatusInProgress, day(-10), day(-1))
	markStarted(t, ts.db, design, day(-10))
	prod := testutil.SeedWorkUnit(t, ts.db, projectID, entity.WorkUnitTypeProduction, entity.ModuleWorkOrder, projectID+"-wo",
		entity.WorkUnitStatusNotStarted, day(startOffset), day(startOffset+4))
	testutil.SeedDependency(t, ts.db, design, prod, entity.DependencyFinishToStart, 0)
	return design, prod
}

func activeByType(t *testing.T, ts *testServices, riskType string) []entity.RiskEvent {
	t.Helper()
	events, err := ts.Risk.ListActive(ts.ctx, map[string]interface{}{"type": riskType})
	require.NoError(t, err)
	return events
}

func TestDetectProject_DelaySeverity(t *testing.T) {
	cfg := ruleConfig{
		OverdueCriticalDays:  7,
		BottleneckThreshold:  3,
		CascadeLookaheadDays: 7,
		Limits:               graph.Limits{MaxNodes: 5000, MaxDepth: 200},
	}
	started := day(-20)

	tests := []struct {
		name string
		unit entity.WorkUnit
		want string
	}{
		{"recently overdue", entity.WorkUnit{ID: "u1", PlannedStart: day(-5), PlannedEnd: day(-1), ActualStart: &started, Status: entity.WorkUnitStatusInProgress}, entity.SeverityHigh},
		{"long overdue", entity.WorkUnit{ID: "u1", PlannedStart: day(-15), PlannedEnd: day(-9), ActualStart: &started, Status: entity.WorkUnitStatusInProgress}, entity.SeverityCritical},
		{"late start only", entity.WorkUnit{ID: "u1", PlannedStart: day(-2), PlannedEnd: day(5), Status: entity.WorkUnitStatusNotStarted}, entity.SeverityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := newProjectSnapshot("proj-1", []entity.WorkUnit{tt.unit}, nil)
			dets, err := detectProject(snap, testNow, cfg)
			require.NoError(t, err)
			require.Len(t, dets, 1)
			assert.Equal(t, entity.RiskTypeDelay, dets[0].Type)
			assert.Equal(t, tt.want, dets[0].Severity)
		})
	}

	// completed and on-schedule units raise nothing
	done := entity.WorkUnit{ID: "u1", PlannedStart: day(-5), PlannedEnd: day(-1), Status: entity.WorkUnitStatusCompleted}
	future := entity.WorkUnit{ID: "u2", PlannedStart: day(1), PlannedEnd: day(5), Status: entity.WorkUnitStatusNotStarted}
	dets, err := detectProject(newProjectSnapshot("proj-1", []entity.WorkUnit{done, future}, nil), testNow, cfg)
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestFingerprint_OrderIndependent(t *testing.T) {
	a := Fingerprint(entity.RiskTypeDependency, "proj-1", []string{"x", "y", "z"})
	b := Fingerprint(entity.RiskTypeDependency, "proj-1", []string{"z", "x", "y"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Fingerprint(entity.RiskTypeDependency, "proj-2", []string{"x", "y", "z"}))
	assert.NotEqual(t, a, Fingerprint(entity.RiskTypeBottleneck, "proj-1", []string{"x", "y", "z"}))
}

func TestRiskEngine_DelayAndCascadeLifecycle(t *testing.T) {
	ts := setupServices(t)
	rec := &recordingNotifier{}
	ts.Risk.AddNotifier(rec)
	design, prod := seedLateDesign(t, ts, "proj-1", 1)

	res, err := ts.Risk.EvaluateProject(ts.ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Detected)
	assert.Equal(t, 2, res.Opened)

	delays := activeByType(t, ts, entity.RiskTypeDelay)
	require.Len(t, delays, 1)
	assert.Equal(t, entity.SeverityCritical, delays[0].Severity)
	assert.Equal(t, design.ID, delays[0].TriggerWorkUnitID)
	assert.NotContains(t, delays[0].Reason, "day")

	cascades := activeByType(t, ts, entity.RiskTypeDependency)
	require.Len(t, cascades, 1)
	assert.Equal(t, entity.SeverityCritical, cascades[0].Severity)
	assert.ElementsMatch(t, []string{design.ID, prod.ID}, []string(cascades[0].AffectedWorkUnitIDs))
	require.Len(t, cascades[0].Subjects, 2)
	assert.Equal(t, entity.SubjectRoleTrigger, cascades[0].Subjects[0].Role)
	assert.Equal(t, entity.SubjectRoleAffected, cascades[0].Subjects[1].Role)

	// same state an hour later: nothing new, nothing notified, detection time kept
	later := testNow.Add(time.Hour)
	ts.Risk.SetClock(func() time.Time { return later })
	res, err = ts.Risk.EvaluateProject(ts.ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Opened)
	assert.Equal(t, 2, res.Unchanged)
	assert.Equal(t, map[string]int{RiskChangeOpened: 2}, rec.kinds())

	again, err := ts.Risk.Get(ts.ctx, delays[0].ID)
	require.NoError(t, err)
	assert.True(t, again.DetectedAt.Equal(delays[0].DetectedAt))
	assert.True(t, again.DetectedAt.Equal(testNow))
	assert.True(t, again.LastEvaluatedAt.Equal(later))

	var count int64
	ts.db.Model(&entity.RiskEvent{}).Count(&count)
	assert.Equal(t, int64(2), count)

	// finishing the design clears both conditions
	require.NoError(t, ts.db.Model(design).Update("status", entity.WorkUnitStatusCompleted).Error)
	res, err = ts.Risk.EvaluateProject(ts.ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Resolved)
	assert.Empty(t, activeByType(t, ts, entity.RiskTypeDelay))

	ev, err := ts.Risk.Get(ts.ctx, delays[0].ID)
	require.NoError(t, err)
	assert.False(t, ev.IsActive())
	assert.Equal(t, entity.ResolvedBySystem, ev.ResolvedBy)
	assert.Equal(t, 2, rec.kinds()[RiskChangeResolved])
}

func TestRiskEngine_CascadeEscalates(t *testing.T) {
	ts := setupServices(t)
	rec := &recordingNotifier{}
	ts.Risk.AddNotifier(rec)
	_, prod := seedLateDesign(t, ts, "proj-1", 3)

	_, err := ts.Risk.EvaluateProject(ts.ctx, "proj-1")
	require.NoError(t, err)
	cascades := activeByType(t, ts, entity.RiskTypeDependency)
	require.Len(t, cascades, 1)
	assert.Equal(t, entity.SeverityHigh, cascades[0].Severity)

	require.NoError(t, ts.db.Model(prod).Update("planned_start", day(1)).Error)
	res, err := ts.Risk.EvaluateProject(ts.ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Unchanged)

	escalated := activeByType(t, ts, entity.RiskTypeDependency)
	require.Len(t, escalated, 1)
	assert.Equal(t, cascades[0].ID, escalated[0].ID)
	assert.Equal(t, entity.SeverityCritical, escalated[0].Severity)
	assert.Equal(t, 1, rec.kinds()[RiskChangeEscalated])
}

func TestRiskEngine_Bottleneck(t *testing.T) {
	ts := setupServices(t)
	design := testutil.SeedWorkUnit(t, ts.db, "proj-1", entity.WorkUnitTypeDesign, entity.ModuleTask, "task-1",
		entity.WorkUnitStatusInProgress, day(-10), day(-1))
	markStarted(t, ts.db, design, day(-10))
	for _, ref := range []string{"wo-1", "wo-2", "wo-3", "wo-4"} {
		wo := testutil.SeedWorkUnit(t, ts.db, "proj-1", entity.WorkUnitTypeProduction, entity.ModuleWorkOrder, ref,
			entity.WorkUnitStatusNotStarted, day(20), day(25))
		testutil.SeedDependency(t, ts.db, design, wo, entity.DependencyFinishToStart, 0)
	}
	// finished downstream work is not held up by the delay
	done := testutil.SeedWorkUnit(t, ts.db, "proj-1", entity.WorkUnitTypeProduction, entity.ModuleWorkOrder, "wo-done",
		entity.WorkUnitStatusCompleted, day(-8), day(-6))
	testutil.SeedDependency(t, ts.db, design, done, entity.DependencyStartToStart, 0)

	res, err := ts.Risk.EvaluateProject(ts.ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Opened)

	bottlenecks := activeByType(t, ts, entity.RiskTypeBottleneck)
	require.Len(t, bottlenecks, 1)
	assert.Equal(t, entity.SeverityMedium, bottlenecks[0].Severity)
	assert.Equal(t, float64(4), bottlenecks[0].Metadata["downstream_count"])
	assert.Empty(t, activeByType(t, ts, entity.RiskTypeDependency))
}

func TestRiskEngine_Overload(t *testing.T) {
	ts := setupServices(t)
	testutil.SeedCapacity(t, ts.db, entity.ResourceWelder, entity.UnitTons, 10, 5)
	a := seedProduction(t, ts.db, "proj-1", "wo-1", entity.WorkUnitStatusInProgress, day(-2), day(2), 20)
	// two of its six working days fall in this week
	b := seedProduction(t, ts.db, "proj-2", "wo-2", entity.WorkUnitStatusNotStarted, day(1), day(8), 105)

	res, err := ts.Risk.EvaluateOverload(ts.ctx)
	require.NoError(t, err)
	assert.Equal(t, "global", res.Scope)
	assert.Equal(t, 1, res.Opened)

	overloads := activeByType(t, ts, entity.RiskTypeOverload)
	require.Len(t, overloads, 1)
	first := overloads[0]
	assert.Equal(t, entity.SeverityHigh, first.Severity)
	assert.Equal(t, "", first.ProjectID)
	assert.Equal(t, 110.0, first.Metadata["utilization"])
	assert.ElementsMatch(t, []string{a.ID, b.ID}, []string(first.AffectedWorkUnitIDs))
	assert.Equal(t, []string{"proj-1", "proj-2"}, []string(first.AffectedProjectIDs))

	// a different set of units is a different condition
	seedProduction(t, ts.db, "proj-1", "wo-3", entity.WorkUnitStatusNotStarted, day(0), day(3), 12)
	res, err = ts.Risk.EvaluateOverload(ts.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Opened)
	assert.Equal(t, 1, res.Resolved)

	overloads = activeByType(t, ts, entity.RiskTypeOverload)
	require.Len(t, overloads, 1)
	assert.NotEqual(t, first.ID, overloads[0].ID)
	assert.Equal(t, entity.SeverityCritical, overloads[0].Severity)
	assert.Equal(t, 134.0, overloads[0].Metadata["utilization"])
}

func TestRiskEngine_OverloadSpreadsLongUnits(t *testing.T) {
	ts := setupServices(t)
	c := testutil.SeedCapacity(t, ts.db, entity.ResourceWelder, entity.UnitTons, 10, 5)
	// 100 t over 51 working days
	seedProduction(t, ts.db, "proj-1", "wo-long", entity.WorkUnitStatusInProgress, day(-2), day(68), 100)

	wl, units, err := ts.Capacity.LoadForWeek(ts.ctx, c, testNow)
	require.NoError(t, err)
	assert.Len(t, units, 1)
	assert.Equal(t, 9.8, wl.Load)
	assert.False(t, wl.Overloaded)

	res, err := ts.Risk.EvaluateOverload(ts.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Detected)
	assert.Empty(t, activeByType(t, ts, entity.RiskTypeOverload))
}

func TestRiskEngine_ManualResolve(t *testing.T) {
	ts := setupServices(t)
	seedLateDesign(t, ts, "proj-1", 1)
	_, err := ts.Risk.EvaluateProject(ts.ctx, "proj-1")
	require.NoError(t, err)
	delay := activeByType(t, ts, entity.RiskTypeDelay)[0]

	_, err = ts.Risk.Resolve(ts.ctx, delay.ID, "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ts.Risk.Resolve(ts.ctx, "missing", "user-1", "")
	assert.ErrorIs(t, err, ErrNotFound)

	resolved, err := ts.Risk.Resolve(ts.ctx, delay.ID, "user-1", "design handed over by phone")
	require.NoError(t, err)
	assert.False(t, resolved.IsActive())
	assert.Equal(t, "user-1", resolved.ResolvedBy)
	assert.Equal(t, "design handed over by phone", resolved.ResolutionNote)

	again, err := ts.Risk.Resolve(ts.ctx, delay.ID, "user-2", "")
	require.NoError(t, err)
	assert.Equal(t, "user-1", again.ResolvedBy)

	// the condition persists, so it comes back as a new event
	res, err := ts.Risk.EvaluateProject(ts.ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Opened)
	assert.Equal(t, 1, res.Unchanged)
	reopened := activeByType(t, ts, entity.RiskTypeDelay)
	require.Len(t, reopened, 1)
	assert.NotEqual(t, delay.ID, reopened[0].ID)
	assert.Equal(t, delay.Fingerprint, reopened[0].Fingerprint)
}

func TestRiskEngine_SweepResolvesOrphanedProjects(t *testing.T) {
	ts := setupServices(t)
	seedLateDesign(t, ts, "proj-1", 1)
	orphan := &entity.RiskEvent{
		ID:              entity.NewID(),
		Type:            entity.RiskTypeDelay,
		Severity:        entity.SeverityHigh,
		ProjectID:       "proj-2",
		Fingerprint:     Fingerprint(entity.RiskTypeDelay, "proj-2", []string{"gone"}),
		Reason:          "unit removed since",
		DetectedAt:      day(-3),
		LastEvaluatedAt: day(-3),
	}
	require.NoError(t, ts.db.Create(orphan).Error)

	res, err := ts.Risk.Sweep(ts.ctx, "manual")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Projects)
	assert.Equal(t, 0, res.FailedProjects)
	assert.Equal(t, 2, res.Totals.Opened)
	assert.Equal(t, 1, res.Totals.Resolved)

	ev, err := ts.Risk.Get(ts.ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ResolvedBySystem, ev.ResolvedBy)
}

func TestRiskEngine_EvaluateProjectRequiresID(t *testing.T) {
	ts := setupServices(t)
	_, err := ts.Risk.EvaluateProject(ts.ctx, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRiskEngine_RequestEvaluation(t *testing.T) {
	ts := setupServices(t)
	seedLateDesign(t, ts, "proj-1", 1)

	ts.Risk.RequestEvaluation("proj-1")
	ts.Risk.Wait()
	assert.Empty(t, activeByType(t, ts, entity.RiskTypeDelay))

	ts.Risk.cfg.EvaluateOnChange = true
	ts.Risk.RequestEvaluation("proj-1")
	ts.Risk.Wait()
	assert.Len(t, activeByType(t, ts, entity.RiskTypeDelay), 1)
}

func TestRiskEngine_SummaryAndDigest(t *testing.T) {
	ts := setupServices(t)
	design, _ := seedLateDesign(t, ts, "proj-1", 1)
	_, err := ts.Risk.EvaluateProject(ts.ctx, "proj-1")
	require.NoError(t, err)

	summary, err := ts.Risk.Summary(ts.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.TotalActive)
	assert.Equal(t, int64(2), summary.ActiveBySeverity[entity.SeverityCritical])
	assert.Equal(t, int64(0), summary.ActiveBySeverity[entity.SeverityLow])
	assert.Equal(t, int64(1), summary.ActiveByType[entity.RiskTypeDelay])
	assert.Equal(t, int64(0), summary.ActiveByType[entity.RiskTypeOverload])
	assert.Equal(t, int64(0), summary.ResolvedLast7d)

	digest, err := ts.Risk.Digest(ts.ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, digest.Total)
	require.Len(t, digest.Groups, 4)
	assert.Equal(t, entity.SeverityCritical, digest.Groups[0].Severity)
	assert.Equal(t, 2, digest.Groups[0].Count)
	assert.Empty(t, digest.Groups[3].Items)

	var label string
	for _, s := range digest.Groups[0].Items[0].Subjects {
		if s.WorkUnitID == design.ID {
			label = s.Label
		}
	}
	assert.Equal(t, "Task proj-1-design", label)

	// labels are best effort
	ts.Risk.SetNameResolver(failingResolver{})
	digest, err = ts.Risk.Digest(ts.ctx, map[string]interface{}{"project_id": "proj-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, digest.Total)
	for _, item := range digest.Groups[0].Items {
		for _, s := range item.Subjects {
			assert.Empty(t, s.Label)
		}
	}

	list, total, err := ts.Risk.List(ts.ctx, map[string]interface{}{"project_id": "proj-1"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, list, 2)
}
