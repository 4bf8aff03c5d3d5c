package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/refedo/OTS-sub007/internal/config"
	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"github.com/refedo/OTS-sub007/internal/ops/testutil"
	"github.com/stretchr/testify/require"
)

func setupSyncTest(t *testing.T, cfg *config.Config, start bool) (*testutil.TestEnv, *SyncHandler) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	router := testutil.SetupRouter()

	svc := newTestServices(t, db, cfg)
	if start {
		svc.Dispatcher.Start(context.Background())
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = svc.Dispatcher.Stop(ctx)
		})
	}
	handler := NewSyncHandler(svc.Dispatcher)

	api := testutil.AuthGroup(router, "/api/v1/ops")
	api.POST("/sync/:module/created", handler.Created)
	api.POST("/sync/:module/:referenceId/status", handler.Status)
	api.GET("/sync/failures", handler.Failures)
	api.POST("/sync/failures/replay", handler.Replay)

	return &testutil.TestEnv{DB: db, Router: router, T: t}, handler
}

func countUnits(env *testutil.TestEnv, module, refID string) int64 {
	var n int64
	env.DB.Model(&entity.WorkUnit{}).Where("reference_module = ? AND reference_id = ?", module, refID).Count(&n)
	return n
}

func TestSyncCreatedIsApplied(t *testing.T) {
	env, _ := setupSyncTest(t, testConfig(), true)
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(env.Router, "POST", "/api/v1/ops/sync/task/created", map[string]interface{}{
		"id":         "task-1",
		"project_id": "proj-1",
		"title":      "Shop drawings",
		"department": "Engineering",
		"status":     "Pending",
		"start_date": day(1).Format(time.RFC3339),
		"due_date":   day(5).Format(time.RFC3339),
	}, token)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	data := dataOf(t, w)
	if data["module"] != entity.ModuleTask || data["reference_id"] != "task-1" {
		t.Errorf("Unexpected accepted event %v", data)
	}

	require.Eventually(t, func() bool {
		return countUnits(env, entity.ModuleTask, "task-1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	var unit entity.WorkUnit
	require.NoError(t, env.DB.Where("reference_id = ?", "task-1").First(&unit).Error)
	if unit.Type != entity.WorkUnitTypeDesign {
		t.Errorf("Expected engineering task to map to DESIGN, got %s", unit.Type)
	}
}

func TestSyncRejectsBadRequests(t *testing.T) {
	env, _ := setupSyncTest(t, testConfig(), true)
	token := testutil.DefaultTestToken()

	tests := []struct {
		name string
		path string
		body interface{}
	}{
		{"unknown module", "/api/v1/ops/sync/invoice/created", map[string]interface{}{"id": "inv-1"}},
		{"missing id", "/api/v1/ops/sync/task/created", map[string]interface{}{"title": "x"}},
		{"empty body", "/api/v1/ops/sync/task/created", nil},
		{"missing status", "/api/v1/ops/sync/task/task-1/status", map[string]interface{}{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testutil.DoRequest(env.Router, "POST", tt.path, tt.body, token)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestSyncFailuresAndReplay(t *testing.T) {
	env, _ := setupSyncTest(t, testConfig(), true)
	token := testutil.DefaultTestToken()

	// status for a task the registry has never seen fails until the task is created
	w := testutil.DoRequest(env.Router, "POST", "/api/v1/ops/sync/task/task-404/status", map[string]interface{}{"status": "Completed"}, token)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var failures []interface{}
	require.Eventually(t, func() bool {
		w := testutil.DoRequest(env.Router, "GET", "/api/v1/ops/sync/failures", nil, token)
		data, _ := testutil.ParseResponse(w)["data"].(map[string]interface{})
		failures, _ = data["items"].([]interface{})
		return len(failures) == 1
	}, 2*time.Second, 10*time.Millisecond)
	failure := failures[0].(map[string]interface{})
	if failure["reference_id"] != "task-404" || failure["attempts"] != float64(2) {
		t.Errorf("Unexpected dead letter %v", failure)
	}

	w = testutil.DoRequest(env.Router, "POST", "/api/v1/ops/sync/failures/replay", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := dataOf(t, w)
	if data["attempted"] != float64(1) || data["failed"] != float64(1) {
		t.Errorf("Expected replay to fail while the task is unknown, got %v", data)
	}
}

func TestSyncQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.QueueSize = 1
	env, _ := setupSyncTest(t, cfg, false)
	token := testutil.DefaultTestToken()

	body := map[string]interface{}{"status": "Completed"}
	w := testutil.DoRequest(env.Router, "POST", "/api/v1/ops/sync/task/task-1/status", body, token)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	w = testutil.DoRequest(env.Router, "POST", "/api/v1/ops/sync/task/task-2/status", body, token)
	if w.Code != http.StatusServiceUnavailable || codeOf(w) != CodeUnavailable {
		t.Fatalf("Expected 503/%d, got %d: %s", CodeUnavailable, w.Code, w.Body.String())
	}

	var n int64
	env.DB.Model(&entity.SyncFailure{}).Count(&n)
	if n != 1 {
		t.Errorf("Expected the rejected event to be dead-lettered, got %d", n)
	}
}

func TestModuleFromPath(t *testing.T) {
	tests := map[string]string{
		"task":                entity.ModuleTask,
		"work-orders":         entity.ModuleWorkOrder,
		"rfi":                 entity.ModuleRFIRequest,
		"document-submission": entity.ModuleDocumentSubmission,
		"assembly-part":       entity.ModuleAssemblyPart,
		"AssemblyPart":        entity.ModuleAssemblyPart,
		"invoice":             "invoice",
	}
	for in, want := range tests {
		if got := moduleFromPath(in); got != want {
			t.Errorf("moduleFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}
