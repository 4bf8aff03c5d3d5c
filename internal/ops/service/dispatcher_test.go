package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/refedo/OTS-sub007/internal/config"
	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func stopDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
}

func TestDispatcher_AppliesAndNotifies(t *testing.T) {
	ts := setupServices(t)

	var mu sync.Mutex
	var applied []string
	ts.Dispatcher.SetAppliedHook(func(projectID string) {
		mu.Lock()
		applied = append(applied, projectID)
		mu.Unlock()
	})
	ts.Dispatcher.Start(ts.ctx)

	payload, _ := json.Marshal(TaskRecord{ID: "task-1", ProjectID: "proj-1", Department: "Engineering", Status: "Pending"})
	require.NoError(t, ts.Dispatcher.Submit(ts.ctx, SyncEvent{Module: entity.ModuleTask, Operation: entity.SyncOpCreate, ReferenceID: "task-1", Payload: payload}))
	stopDispatcher(t, ts.Dispatcher)

	unit, err := ts.WorkUnit.GetByReference(ts.ctx, entity.ModuleTask, "task-1")
	require.NoError(t, err)
	assert.Equal(t, entity.WorkUnitTypeDesign, unit.Type)
	assert.Equal(t, []string{"proj-1"}, applied)

	err = ts.Dispatcher.Submit(ts.ctx, SyncEvent{Module: entity.ModuleTask, Operation: entity.SyncOpStatus, ReferenceID: "task-1"})
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestDispatcher_RejectsUnknownEvents(t *testing.T) {
	ts := setupServices(t)

	err := ts.Dispatcher.Submit(ts.ctx, SyncEvent{Module: "Invoice", Operation: entity.SyncOpCreate})
	assert.ErrorIs(t, err, ErrInvalidInput)
	err = ts.Dispatcher.Submit(ts.ctx, SyncEvent{Module: entity.ModuleTask, Operation: "delete"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDispatcher_PermanentFailureIsNotRetried(t *testing.T) {
	ts := setupServices(t)
	ts.Dispatcher.Start(ts.ctx)

	require.NoError(t, ts.Dispatcher.Submit(ts.ctx, SyncEvent{Module: entity.ModuleTask, Operation: entity.SyncOpCreate, ReferenceID: "task-1", Payload: json.RawMessage(`{"id": 42}`)}))
	stopDispatcher(t, ts.Dispatcher)

	failures, err := ts.Dispatcher.Failures(ts.ctx, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, 1, failures[0].Attempts)
	assert.Equal(t, "task-1", failures[0].ReferenceID)
	assert.Contains(t, failures[0].LastError, "invalid input")
}

func TestDispatcher_DeadLetterAndReplay(t *testing.T) {
	ts := setupServices(t)
	ts.Dispatcher.Start(ts.ctx)

	// the status change arrives before the task itself
	require.NoError(t, ts.Dispatcher.Submit(ts.ctx, SyncEvent{Module: entity.ModuleTask, Operation: entity.SyncOpStatus, ReferenceID: "task-1", Status: "Completed"}))
	stopDispatcher(t, ts.Dispatcher)

	failures, err := ts.Dispatcher.Failures(ts.ctx, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, 2, failures[0].Attempts)

	res, err := ts.Dispatcher.Replay(ts.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempted)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, res.Errors, 1)

	_, err = ts.Sync.Tasks.OnCreate(ts.ctx, &TaskRecord{ID: "task-1", ProjectID: "proj-1", Status: "In Progress"})
	require.NoError(t, err)

	res, err = ts.Dispatcher.Replay(ts.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 0, res.Failed)

	unit, err := ts.WorkUnit.GetByReference(ts.ctx, entity.ModuleTask, "task-1")
	require.NoError(t, err)
	assert.Equal(t, entity.WorkUnitStatusCompleted, unit.Status)

	failures, err = ts.Dispatcher.Failures(ts.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestDispatcher_QueueFullDeadLetters(t *testing.T) {
	ts := setupServices(t)
	d := NewDispatcher(ts.Sync, ts.repos.SyncFailure, config.SyncConfig{QueueSize: 1}, zap.NewNop())

	ev := SyncEvent{Module: entity.ModuleWorkOrder, Operation: entity.SyncOpStatus, ReferenceID: "wo-1", Status: "Closed"}
	require.NoError(t, d.Submit(ts.ctx, ev))
	err := d.Submit(ts.ctx, ev)
	assert.ErrorIs(t, err, ErrQueueFull)

	failures, err := d.Failures(ts.ctx, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, 0, failures[0].Attempts)
	assert.Equal(t, entity.ModuleWorkOrder, failures[0].Module)
}

func TestDispatcher_KeepsRecordOrder(t *testing.T) {
	ts := setupServices(t)
	d := NewDispatcher(ts.Sync, ts.repos.SyncFailure, config.SyncConfig{
		Workers:      4,
		QueueSize:    256,
		MaxAttempts:  2,
		RetryBackoff: time.Millisecond,
	}, zap.NewNop())

	refs := make([]string, 60)
	for i := range refs {
		refs[i] = fmt.Sprintf("task-%02d", i)
		_, err := ts.Sync.Tasks.OnCreate(ts.ctx, &TaskRecord{ID: refs[i], ProjectID: "proj-1", Status: "Pending"})
		require.NoError(t, err)
	}

	d.Start(ts.ctx)
	for _, ref := range refs {
		require.NoError(t, d.Submit(ts.ctx, SyncEvent{Module: entity.ModuleTask, Operation: entity.SyncOpStatus, ReferenceID: ref, Status: "In Progress"}))
		require.NoError(t, d.Submit(ts.ctx, SyncEvent{Module: entity.ModuleTask, Operation: entity.SyncOpStatus, ReferenceID: ref, Status: "Completed"}))
	}
	stopDispatcher(t, d)

	for _, ref := range refs {
		unit, err := ts.WorkUnit.GetByReference(ts.ctx, entity.ModuleTask, ref)
		require.NoError(t, err)
		assert.Equal(t, entity.WorkUnitStatusCompleted, unit.Status, ref)
	}
	failures, err := d.Failures(ts.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestDispatcher_RoutesRecordToOneWorker(t *testing.T) {
	ts := setupServices(t)
	d := NewDispatcher(ts.Sync, ts.repos.SyncFailure, config.SyncConfig{Workers: 8, QueueSize: 64}, zap.NewNop())

	status := SyncEvent{Module: entity.ModuleTask, Operation: entity.SyncOpStatus, ReferenceID: "task-1", Status: "Completed"}
	create := SyncEvent{Module: entity.ModuleTask, Operation: entity.SyncOpCreate, ReferenceID: "task-1"}
	assert.Equal(t, d.route(create), d.route(status))

	part := SyncEvent{Module: entity.ModuleAssemblyPart, Operation: entity.SyncOpCreate, ReferenceID: "part-1"}
	process := SyncEvent{Module: entity.ModuleAssemblyPart, Operation: entity.SyncOpStatus, ReferenceID: "part-1:fabrication"}
	assert.Equal(t, d.route(part), d.route(process))

	seen := map[int]bool{}
	for i := 0; i < 64; i++ {
		seen[d.route(SyncEvent{Module: entity.ModuleTask, ReferenceID: fmt.Sprintf("task-%d", i)})] = true
	}
	assert.Greater(t, len(seen), 1)
}
