package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/refedo/OTS-sub007/internal/config"
	"github.com/refedo/OTS-sub007/internal/metrics"
	"github.com/refedo/OTS-sub007/internal/ops/entity"
	"github.com/refedo/OTS-sub007/internal/ops/repository"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

var (
	ErrQueueFull        = errors.New("sync queue is full")
	ErrDispatcherClosed = errors.New("sync dispatcher is stopped")
)

// Dispatcher applies sync events in the background with a fixed worker pool. Each worker owns
// a queue and every record is routed to one worker, so events of a record apply in the order
// they were submitted. Events that keep failing are written to the dead-letter table.
type Dispatcher struct {
	sync     *SyncService
	failures *repository.SyncFailureRepository
	cfg      config.SyncConfig
	logger   *zap.Logger
	metrics  *metrics.Collector
	applied  func(projectID string)

	queues  []chan SyncEvent
	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

func NewDispatcher(syncSvc *SyncService, failures *repository.SyncFailureRepository, cfg config.SyncConfig, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	// the queue size bounds all workers together
	perWorker := (cfg.QueueSize + cfg.Workers - 1) / cfg.Workers
	queues := make([]chan SyncEvent, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan SyncEvent, perWorker)
	}
	return &Dispatcher{
		sync:     syncSvc,
		failures: failures,
		cfg:      cfg,
		logger:   logger.Named("dispatcher"),
		queues:   queues,
	}
}

// SetMetrics sets the metrics collector.
func (d *Dispatcher) SetMetrics(m *metrics.Collector) {
	d.metrics = m
}

// SetAppliedHook registers a callback invoked with the project of every applied event.
func (d *Dispatcher) SetAppliedHook(fn func(projectID string)) {
	d.applied = fn
}

// Start launches the workers. They stop once Stop drains the queues.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	for _, q := range d.queues {
		d.wg.Add(1)
		go func(q chan SyncEvent) {
			defer d.wg.Done()
			for ev := range q {
				d.metrics.SetSyncQueueDepth(d.depth())
				d.process(ctx, ev)
			}
		}(q)
	}
	d.logger.Info("sync dispatcher started", zap.Int("workers", d.cfg.Workers), zap.Int("queue_size", d.cfg.QueueSize))
}

// Stop closes the queues and waits for the workers to drain them or for ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit enqueues an event on the queue of its record without blocking. A full queue
// dead-letters the event at once.
func (d *Dispatcher) Submit(ctx context.Context, ev SyncEvent) error {
	if !entity.IsValidModule(ev.Module) {
		return fmt.Errorf("%w: unknown module %q", ErrInvalidInput, ev.Module)
	}
	if ev.Operation != entity.SyncOpCreate && ev.Operation != entity.SyncOpStatus {
		return fmt.Errorf("%w: unknown sync operation %q", ErrInvalidInput, ev.Operation)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queues[d.route(ev)] <- ev:
		d.metrics.SetSyncQueueDepth(d.depth())
		return nil
	default:
		d.deadLetter(ctx, ev, 0, ErrQueueFull)
		return ErrQueueFull
	}
}

// route picks the worker of the event's record. Assembly part processes route by part id so
// a part's create and its process updates share a worker.
func (d *Dispatcher) route(ev SyncEvent) int {
	key := ev.ReferenceID
	if ev.Module == entity.ModuleAssemblyPart {
		key, _, _ = strings.Cut(key, ":")
	}
	h := fnv.New32a()
	h.Write([]byte(ev.Module))
	h.Write([]byte{0})
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.queues)))
}

func (d *Dispatcher) depth() int {
	n := 0
	for _, q := range d.queues {
		n += len(q)
	}
	return n
}

func (d *Dispatcher) process(ctx context.Context, ev SyncEvent) {
	var err error
	attempts := 0
	for attempts < d.cfg.MaxAttempts {
		attempts++
		var unit *entity.WorkUnit
		unit, err = d.sync.Apply(ctx, ev)
		if err == nil {
			d.metrics.RecordSync(ev.Module, "ok")
			if unit != nil && d.applied != nil {
				d.applied(unit.ProjectID)
			}
			return
		}
		if Permanent(err) || ctx.Err() != nil || attempts == d.cfg.MaxAttempts {
			break
		}
		d.metrics.RecordSyncRetry(ev.Module)
		wait := d.cfg.RetryBackoff << (attempts - 1)
		d.logger.Debug("sync event failed, retrying",
			zap.String("module", ev.Module),
			zap.String("reference_id", ev.ReferenceID),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
	}
	d.metrics.RecordSync(ev.Module, "failed")
	d.deadLetter(ctx, ev, attempts, err)
}

func (d *Dispatcher) deadLetter(ctx context.Context, ev SyncEvent, attempts int, cause error) {
	d.metrics.RecordSyncDeadLetter(ev.Module)
	d.logger.Error("sync event dead-lettered",
		zap.String("module", ev.Module),
		zap.String("operation", ev.Operation),
		zap.String("reference_id", ev.ReferenceID),
		zap.Int("attempts", attempts),
		zap.Error(cause))

	payload, err := json.Marshal(ev)
	if err != nil {
		d.logger.Error("encode dead letter failed", zap.Error(err))
		return
	}
	f := &entity.SyncFailure{
		ID:          entity.NewID(),
		Module:      ev.Module,
		Operation:   ev.Operation,
		ReferenceID: ev.ReferenceID,
		Payload:     datatypes.JSON(payload),
		Attempts:    attempts,
		LastError:   cause.Error(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := d.failures.Create(context.WithoutCancel(ctx), f); err != nil {
		d.logger.Error("persist dead letter failed", zap.Error(err))
	}
}

// ReplayResult counts a replay run.
type ReplayResult struct {
	Attempted int      `json:"attempted"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

// Replay re-applies pending dead letters synchronously, oldest first. Succeeded entries are
// marked replayed; failed ones stay pending.
func (d *Dispatcher) Replay(ctx context.Context, limit int) (*ReplayResult, error) {
	pending, err := d.failures.ListPending(ctx, limit)
	if err != nil {
		return nil, err
	}
	res := &ReplayResult{Errors: []string{}}
	for _, f := range pending {
		if ctx.Err() != nil {
			break
		}
		res.Attempted++
		var ev SyncEvent
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", f.ID, err))
			continue
		}
		unit, err := d.sync.Apply(ctx, ev)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", f.ID, err))
			continue
		}
		if err := d.failures.MarkReplayed(ctx, f.ID, time.Now().UTC()); err != nil {
			return res, err
		}
		res.Succeeded++
		d.metrics.RecordSync(ev.Module, "replayed")
		if unit != nil && d.applied != nil {
			d.applied(unit.ProjectID)
		}
	}
	d.logger.Info("dead letters replayed",
		zap.Int("attempted", res.Attempted),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed))
	return res, nil
}

// Failures lists pending dead letters.
func (d *Dispatcher) Failures(ctx context.Context, limit int) ([]entity.SyncFailure, error) {
	return d.failures.ListPending(ctx, limit)
}
