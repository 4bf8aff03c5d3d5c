package service

import (
	"testing"

	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"github.com/refedo/OTS-sub007/internal/ops/graph"
	"github.com/refedo/OTS-sub007/internal/ops/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreview_Blocking(t *testing.T) {
	ts := setupServices(t)
	ts.seedDefaults(t)

	open := testutil.SeedWorkUnit(t, ts.db, "proj-1", entity.WorkUnitTypeDesign, entity.ModuleTask, "task-1", entity.WorkUnitStatusInProgress, day(-5), day(2))
	testutil.SeedWorkUnit(t, ts.db, "proj-1", entity.WorkUnitTypeDesign, entity.ModuleTask, "task-2", entity.WorkUnitStatusCompleted, day(-9), day(-4))
	testutil.SeedWorkUnit(t, ts.db, "proj-2", entity.WorkUnitTypeDesign, entity.ModuleTask, "task-3", entity.WorkUnitStatusNotStarted, day(0), day(4))
	testutil.SeedWorkUnit(t, ts.db, "proj-1", entity.WorkUnitTypeQC, entity.ModuleRFIRequest, "rfi-1", entity.WorkUnitStatusNotStarted, day(0), day(2))

	res, err := ts.Preview.Preview(ts.ctx, PreviewRequest{
		ProjectID:    "proj-1",
		Type:         entity.WorkUnitTypeProduction,
		PlannedStart: day(3),
		PlannedEnd:   day(8),
		Weight:       testutil.Float(5),
	})
	require.NoError(t, err)

	assert.True(t, res.Blocking.IsBlocked)
	assert.Equal(t, []string{entity.WorkUnitTypeDesign, entity.WorkUnitTypeProcurement}, res.Blocking.UpstreamTypes)
	require.Len(t, res.Blocking.BlockingWorkUnits, 1)
	assert.Equal(t, open.ID, res.Blocking.BlockingWorkUnits[0].ID)

	assert.False(t, res.Capacity.CapacityConfigured)
	assert.Equal(t, entity.ResourceWelder, res.Capacity.ResourceType)
	assert.False(t, res.Recommendation.CanProceed)
	assert.Equal(t, []string{
		"Blocked by 1 upstream work items",
		"No capacity configured for WELDER",
	}, res.Recommendation.Warnings)
}

func TestPreview_WouldOverload(t *testing.T) {
	ts := setupServices(t)
	ts.seedDefaults(t)
	testutil.SeedCapacity(t, ts.db, entity.ResourceWelder, entity.UnitTons, 10, 5)
	seedProduction(t, ts.db, "proj-1", "wo-1", entity.WorkUnitStatusInProgress, day(-2), day(2), 40)

	res, err := ts.Preview.Preview(ts.ctx, PreviewRequest{
		ProjectID:    "proj-9",
		Type:         entity.WorkUnitTypeProduction,
		PlannedStart: day(0),
		PlannedEnd:   day(3),
		Weight:       testutil.Float(15),
	})
	require.NoError(t, err)

	assert.False(t, res.Blocking.IsBlocked)
	assert.True(t, res.Capacity.CapacityConfigured)
	assert.Equal(t, 50.0, res.Capacity.WeeklyCapacity)
	assert.Equal(t, 40.0, res.Capacity.ExistingLoad)
	assert.Equal(t, 15.0, res.Capacity.NewLoad)
	assert.Equal(t, 80.0, res.Capacity.CurrentUtilization)
	assert.Equal(t, 110.0, res.Capacity.NewUtilization)
	assert.True(t, res.Capacity.WouldOverload)
	assert.False(t, res.Recommendation.CanProceed)
	assert.Equal(t, []string{"Would overload WELDER capacity (110.00% utilization)"}, res.Recommendation.Warnings)
}

func TestPreview_HoursFromWindow(t *testing.T) {
	ts := setupServices(t)
	testutil.SeedCapacity(t, ts.db, entity.ResourceQC, entity.UnitHours, 8, 5)

	// Wednesday to Friday is three working days
	res, err := ts.Preview.Preview(ts.ctx, PreviewRequest{
		ProjectID:    "proj-1",
		Type:         entity.WorkUnitTypeQC,
		PlannedStart: day(0),
		PlannedEnd:   day(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 24.0, res.Capacity.NewLoad)
	assert.Equal(t, 60.0, res.Capacity.NewUtilization)
	assert.True(t, res.Recommendation.CanProceed)
	assert.Empty(t, res.Recommendation.Warnings)
}

func TestPreview_LoadMatchesRegisteredUnit(t *testing.T) {
	tests := []struct {
		name     string
		resource string
		unit     string
		typ      string
		module   string
		quantity *float64
		weight   *float64
		want     float64
	}{
		// quantity does not drive HOURS
		{"hours", entity.ResourceQC, entity.UnitHours, entity.WorkUnitTypeQC, entity.ModuleRFIRequest, testutil.Float(10), nil, 40},
		// Monday to next Friday: half lands in the first week
		{"tons", entity.ResourceWelder, entity.UnitTons, entity.WorkUnitTypeProduction, entity.ModuleWorkOrder, nil, testutil.Float(30), 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupServices(t)
			c := testutil.SeedCapacity(t, ts.db, tt.resource, tt.unit, 8, 5)
			end := day(2)
			if tt.weight != nil {
				end = day(9)
			}

			res, err := ts.Preview.Preview(ts.ctx, PreviewRequest{
				ProjectID:    "proj-1",
				Type:         tt.typ,
				PlannedStart: day(-2),
				PlannedEnd:   end,
				Quantity:     tt.quantity,
				Weight:       tt.weight,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Capacity.NewLoad)
			assert.Equal(t, 0.0, res.Capacity.ExistingLoad)

			u := testutil.SeedWorkUnit(t, ts.db, "proj-1", tt.typ, tt.module, "ref-1", entity.WorkUnitStatusNotStarted, day(-2), end)
			if tt.quantity != nil {
				require.NoError(t, ts.db.Model(u).Update("quantity", *tt.quantity).Error)
			}
			if tt.weight != nil {
				require.NoError(t, ts.db.Model(u).Update("weight", *tt.weight).Error)
			}

			wl, _, err := ts.Capacity.LoadForWeek(ts.ctx, c, day(-2))
			require.NoError(t, err)
			assert.Equal(t, res.Capacity.NewLoad, wl.Load)
			assert.Equal(t, res.Capacity.NewUtilization, wl.Utilization)
		})
	}
}

func TestPreview_BlockerLimit(t *testing.T) {
	ts := setupServices(t)
	ts.seedDefaults(t)
	for _, ref := range []string{"task-1", "task-2", "task-3"} {
		testutil.SeedWorkUnit(t, ts.db, "proj-1", entity.WorkUnitTypeDesign, entity.ModuleTask, ref, entity.WorkUnitStatusInProgress, day(-5), day(2))
	}
	req := PreviewRequest{
		ProjectID:    "proj-1",
		Type:         entity.WorkUnitTypeProduction,
		PlannedStart: day(3),
		PlannedEnd:   day(8),
	}

	limited := NewPreviewService(ts.Blueprint, ts.repos.WorkUnit, ts.repos.Capacity, ts.Capacity, 2)
	_, err := limited.Preview(ts.ctx, req)
	assert.ErrorIs(t, err, graph.ErrTraversalLimit)

	exact := NewPreviewService(ts.Blueprint, ts.repos.WorkUnit, ts.repos.Capacity, ts.Capacity, 3)
	res, err := exact.Preview(ts.ctx, req)
	require.NoError(t, err)
	assert.Len(t, res.Blocking.BlockingWorkUnits, 3)
	assert.Contains(t, res.Recommendation.Warnings, "Blocked by 3 upstream work items")
}

func TestPreview_Validation(t *testing.T) {
	ts := setupServices(t)

	tests := []struct {
		name string
		req  PreviewRequest
	}{
		{"missing project", PreviewRequest{Type: entity.WorkUnitTypeQC, PlannedStart: day(0), PlannedEnd: day(1)}},
		{"unknown type", PreviewRequest{ProjectID: "proj-1", Type: "PAINTING", PlannedStart: day(0), PlannedEnd: day(1)}},
		{"missing window", PreviewRequest{ProjectID: "proj-1", Type: entity.WorkUnitTypeQC}},
		{"inverted window", PreviewRequest{ProjectID: "proj-1", Type: entity.WorkUnitTypeQC, PlannedStart: day(2), PlannedEnd: day(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.Preview.Preview(ts.ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}
