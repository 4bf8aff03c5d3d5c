package handler

import (
	"net/http"
	"testing"

	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"github.com/refedo/OTS-sub007/internal/ops/testutil"
)

func setupCapacityTest(t *testing.T) (*testutil.TestEnv, *CapacityHandler) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	router := testutil.SetupRouter()

	svc := newTestServices(t, db, testConfig())
	handler := NewCapacityHandler(svc.Capacity)

	api := testutil.AuthGroup(router, "/api/v1/ops")
	api.GET("/capacities", handler.List)
	api.POST("/capacities", handler.Create)
	api.GET("/capacities/:id", handler.Get)
	api.PUT("/capacities/:id", handler.Update)
	api.DELETE("/capacities/:id", handler.Delete)
	api.GET("/capacities/:id/analysis", handler.Analysis)

	return &testutil.TestEnv{DB: db, Router: router, T: t}, handler
}

func TestCapacityCRUD(t *testing.T) {
	env, _ := setupCapacityTest(t)
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/ops/capacities", map[string]interface{}{
		"resource_type":    "WELDER",
		"resource_name":    "Welding bay",
		"capacity_per_day": 10,
		"unit":             "TONS",
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	data := dataOf(t, w)
	id := data["id"].(string)
	if data["working_days_per_week"] != float64(5) || data["is_active"] != true {
		t.Errorf("Expected defaults applied, got %v", data)
	}

	tests := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"duplicate resource", map[string]interface{}{"resource_type": "WELDER", "capacity_per_day": 5, "unit": "TONS"}, http.StatusConflict},
		{"unknown unit", map[string]interface{}{"resource_type": "QC", "capacity_per_day": 5, "unit": "LITRES"}, http.StatusBadRequest},
		{"unknown resource", map[string]interface{}{"resource_type": "CRANE", "capacity_per_day": 5, "unit": "HOURS"}, http.StatusBadRequest},
		{"missing capacity", map[string]interface{}{"resource_type": "QC", "unit": "HOURS"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testutil.DoRequest(env.Router, "POST", "/api/v1/ops/capacities", tt.body, token)
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	w = testutil.DoRequest(env.Router, "PUT", "/api/v1/ops/capacities/"+id, map[string]interface{}{
		"resource_type":         "WELDER",
		"capacity_per_day":      12,
		"unit":                  "TONS",
		"working_days_per_week": 6,
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if dataOf(t, w)["capacity_per_day"] != float64(12) {
		t.Errorf("Expected capacity 12, got %s", w.Body.String())
	}

	w = testutil.DoRequest(env.Router, "GET", "/api/v1/ops/capacities", nil, token)
	if items := itemsOf(t, w); len(items) != 1 {
		t.Errorf("Expected 1 capacity, got %d", len(items))
	}

	w = testutil.DoRequest(env.Router, "DELETE", "/api/v1/ops/capacities/"+id, nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = testutil.DoRequest(env.Router, "GET", "/api/v1/ops/capacities/"+id, nil, token)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", w.Code)
	}
}

func TestCapacityAnalysis(t *testing.T) {
	env, _ := setupCapacityTest(t)
	token := testutil.DefaultTestToken()
	c := testutil.SeedCapacity(t, env.DB, entity.ResourceQC, entity.UnitHours, 8, 5)
	// Wednesday to Friday of the current week
	testutil.SeedWorkUnit(t, env.DB, "proj-1", entity.WorkUnitTypeQC, entity.ModuleRFIRequest, "rfi-1",
		entity.WorkUnitStatusNotStarted, day(0), day(2))

	w := testutil.DoRequest(env.Router, "GET", "/api/v1/ops/capacities/"+c.ID+"/analysis?weeks=2", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	weeks := dataOf(t, w)["weeks"].([]interface{})
	if len(weeks) != 2 {
		t.Fatalf("Expected 2 weeks, got %d", len(weeks))
	}
	first := weeks[0].(map[string]interface{})
	if first["load"] != float64(24) || first["capacity"] != float64(40) || first["utilization"] != float64(60) {
		t.Errorf("Unexpected first week %v", first)
	}
	if weeks[1].(map[string]interface{})["load"] != float64(0) {
		t.Errorf("Expected empty second week, got %v", weeks[1])
	}

	w = testutil.DoRequest(env.Router, "GET", "/api/v1/ops/capacities/"+c.ID+"/analysis?weeks=many", nil, token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad weeks, got %d", w.Code)
	}
}
