package service

import (
	"context"
	"testing"
	"time"

	"github.com/refedo/OTS-sub007/internal/config"
	"github.com/refedo/OTS-sub007/internal/ops/repository"
	"github.com/refedo/OTS-sub007/internal/ops/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// testNow is a Wednesday; its week runs from 2026-10-19 to 2026-10-25.
var testNow = time.Date(2026, 10, 21, 12, 0, 0, 0, time.UTC)

func day(offset int) time.Time {
	return time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

type testServices struct {
	*Services
	db    *gorm.DB
	repos *repository.Repositories
	ctx   context.Context
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
			Workers:      2,
			QueueSize:    16,
			MaxAttempts:  2,
			RetryBackoff: time.Millisecond,
		},
	}
}

func setupServices(t *testing.T) *testServices {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	svc := NewServices(repos, testConfig(), zap.NewNop())

	clock := func() time.Time { return testNow }
	svc.WorkUnit.SetClock(clock)
	svc.Sync.SetClock(clock)
	svc.Capacity.SetClock(clock)
	svc.Risk.SetClock(clock)

	return &testServices{Services: svc, db: db, repos: repos, ctx: context.Background()}
}

func (ts *testServices) seedDefaults(t *testing.T) {
	t.Helper()
	if _, err := ts.Blueprint.SeedDefaults(ts.ctx); err != nil {
		t.Fatalf("seed blueprints: %v", err)
	}
}
