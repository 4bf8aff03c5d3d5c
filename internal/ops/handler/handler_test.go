package handler

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/refedo/OTS-sub007/internal/config"
	"github.com/refedo/OTS-sub007/internal/ops/graph"
	"github.com/refedo/OTS-sub007/internal/ops/repository"
	"github.com/refedo/OTS-sub007/internal/ops/service"
	"github.com/refedo/OTS-sub007/internal/ops/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// testNow is a Wednesday.
var testNow = time.Date(2026, 10, 21, 12, 0, 0, 0, time.UTC)

func day(offset int) time.Time {
	return time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func testConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			SweepConcurrency:     2,
			OverdueCriticalDays:  7,
			BottleneckThreshold:  3,
			CascadeLookaheadDays: 7,
			MaxTraversalNodes:    5000,
			MaxTraversalDepth:    200,
			ChainMaxDepth:        10,
		},
		Sync: config.SyncConfig{
			Workers:      1,
			QueueSize:    16,
			MaxAttempts:  2,
			RetryBackoff: time.Millisecond,
		},
	}
}

// newTestServices builds the services over db with the clock pinned to testNow.
func newTestServices(t *testing.T, db *gorm.DB, cfg *config.Config) *service.Services {
	t.Helper()
	svc := service.NewServices(repository.NewRepositories(db), cfg, zap.NewNop())
	clock := func() time.Time { return testNow }
	svc.WorkUnit.SetClock(clock)
	svc.Sync.SetClock(clock)
	svc.Capacity.SetClock(clock)
	svc.Risk.SetClock(clock)
	return svc
}

func dataOf(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	resp := testutil.ParseResponse(w)
	data, ok := resp["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected object data, got %s", w.Body.String())
	}
	return data
}

func itemsOf(t *testing.T, w *httptest.ResponseRecorder) []interface{} {
	t.Helper()
	items, ok := dataOf(t, w)["items"].([]interface{})
	if !ok {
		t.Fatalf("Expected items array, got %s", w.Body.String())
	}
	return items
}

func codeOf(w *httptest.ResponseRecorder) int {
	code, _ := testutil.ParseResponse(w)["code"].(float64)
	return int(code)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrNotFound, CodeNotFound},
		{fmt.Errorf("from work unit x: %w", service.ErrNotFound), CodeNotFound},
		{service.ErrNoBlueprint, CodeNotFound},
		{fmt.Errorf("%w: bad", service.ErrInvalidInput), CodeBadRequest},
		{service.ErrSelfLoop, CodeBadRequest},
		{service.ErrCrossProject, CodeBadRequest},
		{service.ErrDuplicateEdge, CodeConflict},
		{service.ErrDuplicateName, CodeConflict},
		{service.ErrCycle, CodeCycle},
		{graph.ErrTraversalLimit, CodeTraversalLimit},
		{service.ErrQueueFull, CodeUnavailable},
		{service.ErrDispatcherClosed, CodeUnavailable},
		{errors.New("connection reset"), CodeInternal},
	}
	for _, tt := range tests {
		if got := errorCode(tt.err); got != tt.want {
			t.Errorf("errorCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestNewListResponse(t *testing.T) {
	resp := NewListResponse([]string{"a"}, 2, 20, 41)
	if resp.Pagination.TotalPages != 3 {
		t.Errorf("Expected 3 pages, got %d", resp.Pagination.TotalPages)
	}
	if resp.Pagination.Total != 41 || resp.Pagination.Page != 2 {
		t.Errorf("Unexpected pagination %+v", resp.Pagination)
	}
}
