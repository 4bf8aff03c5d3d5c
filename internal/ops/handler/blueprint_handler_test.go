package handler

import (
	"net/http"
	"testing"

	"github.com/refedo/OTS-sub007/internal/ops/testutil"
)

func setupBlueprintTest(t *testing.T) (*testutil.TestEnv, *BlueprintHandler) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	router := testutil.SetupRouter()

	svc := newTestServices(t, db, testConfig())
	handler := NewBlueprintHandler(svc.Blueprint)

	api := testutil.AuthGroup(router, "/api/v1/ops")
	api.GET("/blueprints", handler.List)
	api.POST("/blueprints", handler.Create)
	api.POST("/blueprints/seed", handler.Seed)
	api.GET("/blueprints/:id", handler.Get)
	api.PUT("/blueprints/:id", handler.Update)
	api.DELETE("/blueprints/:id", handler.Delete)
	api.POST("/blueprints/:id/default", handler.SetDefault)
	api.PUT("/blueprints/:id/active", handler.SetActive)

	return &testutil.TestEnv{DB: db, Router: router, T: t}, handler
}

func TestBlueprintSeed(t *testing.T) {
	env, _ := setupBlueprintTest(t)
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/ops/blueprints/seed", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if dataOf(t, w)["created"] != float64(3) {
		t.Errorf("Expected 3 seeded blueprints, got %s", w.Body.String())
	}

	w = testutil.DoRequest(env.Router, "POST", "/api/v1/ops/blueprints/seed", nil, token)
	if dataOf(t, w)["created"] != float64(0) {
		t.Errorf("Expected seeding to be idempotent, got %s", w.Body.String())
	}

	w = testutil.DoRequest(env.Router, "GET", "/api/v1/ops/blueprints", nil, token)
	if items := itemsOf(t, w); len(items) != 3 {
		t.Errorf("Expected 3 blueprints, got %d", len(items))
	}
}

func TestBlueprintCRUD(t *testing.T) {
	env, _ := setupBlueprintTest(t)
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/ops/blueprints", map[string]interface{}{
		"name":           "Tower",
		"structure_type": "Tower",
		"steps": []map[string]interface{}{
			{"from_type": "DESIGN", "to_type": "PRODUCTION"},
		},
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	data := dataOf(t, w)
	id := data["id"].(string)
	if data["is_active"] != true {
		t.Errorf("Expected new blueprint to be active")
	}
	if steps := data["steps"].([]interface{}); len(steps) != 1 || steps[0].(map[string]interface{})["dependency_type"] != "FS" {
		t.Errorf("Expected one FS step, got %v", data["steps"])
	}

	w = testutil.DoRequest(env.Router, "POST", "/api/v1/ops/blueprints", map[string]interface{}{"name": "Tower"}, token)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate name, got %d", w.Code)
	}
	w = testutil.DoRequest(env.Router, "POST", "/api/v1/ops/blueprints", map[string]interface{}{
		"name":  "Broken",
		"steps": []map[string]interface{}{{"from_type": "WELDING", "to_type": "QC"}},
	}, token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown step type, got %d", w.Code)
	}

	w = testutil.DoRequest(env.Router, "PUT", "/api/v1/ops/blueprints/"+id, map[string]interface{}{
		"name":           "Tower v2",
		"structure_type": "Tower",
		"steps": []map[string]interface{}{
			{"from_type": "DESIGN", "to_type": "PRODUCTION"},
			{"from_type": "PRODUCTION", "to_type": "QC", "lag_days": 1},
		},
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data = dataOf(t, w)
	if data["name"] != "Tower v2" || len(data["steps"].([]interface{})) != 2 {
		t.Errorf("Unexpected blueprint after update: %v", data)
	}

	w = testutil.DoRequest(env.Router, "PUT", "/api/v1/ops/blueprints/"+id+"/active", map[string]interface{}{"is_active": false}, token)
	if w.Code != http.StatusOK || dataOf(t, w)["is_active"] != false {
		t.Errorf("Expected blueprint deactivated, got %d: %s", w.Code, w.Body.String())
	}
	w = testutil.DoRequest(env.Router, "PUT", "/api/v1/ops/blueprints/"+id+"/active", map[string]interface{}{}, token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without is_active, got %d", w.Code)
	}

	w = testutil.DoRequest(env.Router, "POST", "/api/v1/ops/blueprints/"+id+"/default", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data = dataOf(t, w)
	if data["is_default"] != true || data["is_active"] != true {
		t.Errorf("Expected default blueprint to be active, got %v", data)
	}

	w = testutil.DoRequest(env.Router, "DELETE", "/api/v1/ops/blueprints/"+id, nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = testutil.DoRequest(env.Router, "GET", "/api/v1/ops/blueprints/"+id, nil, token)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", w.Code)
	}
}
