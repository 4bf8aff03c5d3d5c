package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker grants an exclusive lease so only one instance sweeps at a time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// RedisLocker leases keys with SET NX and releases them only if the lease is still held.
type RedisLocker struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisLocker(rdb *redis.Client, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{rdb: rdb, logger: logger.Named("locker")}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.New().String()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("release lease failed", zap.String("key", key), zap.Error(err))
		}
	}
	return release, true, nil
}

// NoopLocker always grants the lease. Used for single-instance deployments.
type NoopLocker struct{}

func (NoopLocker) TryLock(context.Context, string, time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}

const sweepLockKey = "ots:ops:risk-sweep"

// Scheduler runs periodic risk sweeps under a lease.
type Scheduler struct {
	engine   *RiskEngine
	locker   Locker
	interval time.Duration
	ttl      time.Duration
	logger   *zap.Logger
}

func NewScheduler(engine *RiskEngine, locker Locker, interval, ttl time.Duration, logger *zap.Logger) *Scheduler {
	if locker == nil {
		locker = NoopLocker{}
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Scheduler{engine: engine, locker: locker, interval: interval, ttl: ttl, logger: logger.Named("scheduler")}
}

// Run sweeps once at start and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("risk sweep scheduler started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runLogged(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("risk sweep scheduler stopped")
			return
		case <-ticker.C:
			s.runLogged(ctx, "scheduled")
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context, trigger string) {
	if _, err := s.RunOnce(ctx, trigger); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("risk sweep failed", zap.String("trigger", trigger), zap.Error(err))
	}
}

// RunOnce sweeps if the lease is free. It returns nil, nil when another instance holds it.
func (s *Scheduler) RunOnce(ctx context.Context, trigger string) (*SweepResult, error) {
	release, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Debug("sweep lease held elsewhere, skipping", zap.String("trigger", trigger))
		return nil, nil
	}
	defer release()
	return s.engine.Sweep(ctx, trigger)
}
