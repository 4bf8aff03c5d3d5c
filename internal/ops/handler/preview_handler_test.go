package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"github.com/refedo/OTS-sub007/internal/ops/testutil"
)

func setupPreviewTest(t *testing.T) (*testutil.TestEnv, *PreviewHandler) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	router := testutil.SetupRouter()

	svc := newTestServices(t, db, testConfig())
	if _, err := svc.Blueprint.SeedDefaults(context.Background()); err != nil {
		t.Fatalf("seed blueprints: %v", err)
	}
	handler := NewPreviewHandler(svc.Preview)

	api := testutil.AuthGroup(router, "/api/v1/ops")
	api.POST("/preview", handler.Preview)

	return &testutil.TestEnv{DB: db, Router: router, T: t}, handler
}

func TestPreviewBlockedWithoutCapacity(t *testing.T) {
	env, _ := setupPreviewTest(t)
	token := testutil.DefaultTestToken()
	design := testutil.SeedWorkUnit(t, env.DB, "proj-1", entity.WorkUnitTypeDesign, entity.ModuleTask, "task-1",
		entity.WorkUnitStatusInProgress, day(-3), day(3))

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/ops/preview", map[string]interface{}{
		"project_id":    "proj-1",
		"type":          "PRODUCTION",
		"planned_start": day(4).Format(time.RFC3339),
		"planned_end":   day(8).Format(time.RFC3339),
		"weight":        5,
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := dataOf(t, w)

	blocking := data["blocking"].(map[string]interface{})
	if blocking["is_blocked"] != true {
		t.Errorf("Expected work to be blocked, got %v", blocking)
	}
	units := blocking["blocking_work_units"].([]interface{})
	if len(units) != 1 || units[0].(map[string]interface{})["id"] != design.ID {
		t.Errorf("Expected the open design unit to block, got %v", units)
	}

	capacity := data["capacity"].(map[string]interface{})
	if capacity["capacity_configured"] != false || capacity["resource_type"] != "WELDER" {
		t.Errorf("Unexpected capacity preview %v", capacity)
	}

	rec := data["recommendation"].(map[string]interface{})
	if rec["can_proceed"] != false {
		t.Errorf("Expected can_proceed false")
	}
	warnings := rec["warnings"].([]interface{})
	if len(warnings) != 2 || warnings[1] != "No capacity configured for WELDER" {
		t.Errorf("Unexpected warnings %v", warnings)
	}
}

func TestPreviewValidation(t *testing.T) {
	env, _ := setupPreviewTest(t)
	token := testutil.DefaultTestToken()

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing type", map[string]interface{}{
			"project_id": "proj-1", "planned_start": day(1).Format(time.RFC3339), "planned_end": day(2).Format(time.RFC3339),
		}},
		{"unknown type", map[string]interface{}{
			"project_id": "proj-1", "type": "PAINTING", "planned_start": day(1).Format(time.RFC3339), "planned_end": day(2).Format(time.RFC3339),
		}},
		{"end before start", map[string]interface{}{
			"project_id": "proj-1", "type": "QC", "planned_start": day(3).Format(time.RFC3339), "planned_end": day(2).Format(time.RFC3339),
		}},
		{"bad time", map[string]interface{}{
			"project_id": "proj-1", "type": "QC", "planned_start": "next week", "planned_end": day(2).Format(time.RFC3339),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testutil.DoRequest(env.Router, "POST", "/api/v1/ops/preview", tt.body, token)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}
