package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/agent-scheduler/internal/cron"
	"github.com/t77yq/agent-scheduler/internal/lock"
	"github.com/t77yq/agent-scheduler/internal/model"
	"github.com/t77yq/agent-scheduler/internal/storage"
)

const (
	// refreshProbability makes each tick refresh the schedule cache with
	// ~10% probability, amortizing to one refresh per ten ticks without a
	// counter.
	refreshProbability = 0.1

	// firstCheckLookBack bounds how far back a schedule's first-ever check
	// scans for missed fire instants.
	firstCheckLookBack = time.Minute
)

type schedulerState int

const (
	stateNotStarted schedulerState = iota
	stateRunning
	stateStopped
)

// DistributedScheduler polls the schedule set at a fixed interval and claims
// due fire instants through the distributed lock, so any number of instances
// can run against the same store and each instant fires at most once.
//
// The schedule cache and last-checked map are owned by the tick goroutine
// alone; ticks are serialized by the loop, so neither needs a lock.
type DistributedScheduler struct {
	logger     *zap.Logger
	schedules  storage.ScheduleStorage
	executions storage.ExecutionStorage
	locker     lock.Locker
	resolver   *cron.Resolver
	dispatcher Dispatcher
	cfg        Config

	mu     sync.Mutex
	state  schedulerState
	cancel context.CancelFunc
	done   chan struct{}

	cache       map[string]*model.Schedule
	lastChecked map[string]time.Time

	// Injection points for deterministic tests.
	now           func() time.Time
	shouldRefresh func() bool
}

// NewDistributedScheduler wires the scheduler. Dispatch happens through
// dispatcher on a goroutine per claimed instant.
func NewDistributedScheduler(
	schedules storage.ScheduleStorage,
	executions storage.ExecutionStorage,
	locker lock.Locker,
	dispatcher Dispatcher,
	cfg Config,
	logger *zap.Logger,
) *DistributedScheduler {
	return &DistributedScheduler{
		logger:        logger.Named("scheduler"),
		schedules:     schedules,
		executions:    executions,
		locker:        locker,
		resolver:      cron.NewResolver(),
		dispatcher:    dispatcher,
		cfg:           cfg.withDefaults(),
		cache:         make(map[string]*model.Schedule),
		lastChecked:   make(map[string]time.Time),
		now:           time.Now,
		shouldRefresh: func() bool { return rand.Float64() < refreshProbability },
	}
}

// Start performs an initial cache refresh synchronously, then launches the
// tick loop. Calling Start while running is a logged no-op; a stopped
// scheduler cannot be restarted.
func (s *DistributedScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRunning:
		s.logger.Warn("Scheduler already running")
		return nil
	case stateStopped:
		return ErrAlreadyStopped
	}

	s.logger.Info("Starting distributed scheduler",
		zap.Duration("tick_interval", s.cfg.TickInterval),
		zap.Duration("lock_ttl", s.cfg.LockTTL))

	s.refreshSchedules(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = stateRunning

	go s.run(loopCtx)
	return nil
}

// Stop cancels the tick loop and waits for it to exit. Executions dispatched
// before Stop run to their own completion; they are not cancelled or awaited.
func (s *DistributedScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateRunning {
		return
	}

	s.logger.Info("Stopping scheduler")
	s.cancel()
	<-s.done
	s.state = stateStopped
	s.logger.Info("Scheduler stopped")
}

func (s *DistributedScheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one scheduling pass. A failure in one schedule's check never
// aborts the pass for the others, and no failure terminates the loop.
func (s *DistributedScheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in scheduler tick", zap.Any("panic", r))
		}
	}()

	if s.shouldRefresh() {
		s.refreshSchedules(ctx)
	}

	now := s.now()
	for _, schedule := range s.cache {
		if !schedule.Enabled {
			continue
		}
		s.checkSchedule(ctx, schedule, now)
	}
}

// checkSchedule scans the catch-up window (lastChecked, now] for missed fire
// instants and tries to claim each one. The last-checked mark advances to now
// unconditionally, so a broken cron expression never re-scans the same window
// and never blocks other schedules.
func (s *DistributedScheduler) checkSchedule(ctx context.Context, schedule *model.Schedule, now time.Time) {
	lastChecked, ok := s.lastChecked[schedule.ID]
	if !ok {
		lastChecked = now.Add(-firstCheckLookBack)
	}
	defer func() {
		s.lastChecked[schedule.ID] = now
	}()

	// Resolution starts one second early; the lastChecked guard below keeps
	// the window half-open.
	instants, err := s.resolver.FireTimes(schedule.CronExpression, lastChecked.Add(-time.Second), now)
	if err != nil {
		// Unparseable expression at runtime: skip silently, no log spam.
		return
	}

	for _, fireTime := range instants {
		if !fireTime.After(lastChecked) {
			continue
		}
		if err := s.triggerExecution(ctx, schedule, fireTime); err != nil {
			s.logger.Error("Failed to trigger execution",
				zap.String("schedule_id", schedule.ID),
				zap.Time("fire_time", fireTime),
				zap.Error(err))
		}
	}
}

// triggerExecution claims one (schedule, fire instant) pair and dispatches it.
// Losing the claim is the normal outcome on every instance but one and returns
// without side effects. The lock is never released on the success path: its
// TTL is the fence against a near-simultaneous duplicate tick elsewhere.
func (s *DistributedScheduler) triggerExecution(ctx context.Context, schedule *model.Schedule, fireTime time.Time) error {
	key := lock.ExecutionKey(schedule.ID, fireTime)

	acquired, err := s.locker.Acquire(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return nil
	}

	s.logger.Info("Triggering execution",
		zap.String("schedule_id", schedule.ID),
		zap.String("schedule_name", schedule.Name),
		zap.Time("fire_time", fireTime))

	execution, err := s.executions.Create(ctx, schedule.ID, fireTime)
	if err != nil {
		// Don't strand a claimed-but-unexecuted lock for its full TTL.
		if releaseErr := s.locker.Release(ctx, key); releaseErr != nil {
			s.logger.Error("Failed to release lock after create failure",
				zap.String("key", key),
				zap.Error(releaseErr))
		}
		return fmt.Errorf("failed to create execution: %w", err)
	}

	// Fire and forget: the attempt loop supervises itself and outlives both
	// this tick and Stop.
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Panic in dispatched execution",
					zap.String("execution_id", execution.ID),
					zap.Any("panic", r))
			}
		}()
		s.dispatcher.Execute(context.Background(), schedule, execution)
	}()

	return nil
}

// refreshSchedules rebuilds the cache wholesale from storage. On failure the
// previous cache stays in effect until the next successful refresh.
func (s *DistributedScheduler) refreshSchedules(ctx context.Context) {
	schedules, err := s.schedules.ListEnabled(ctx)
	if err != nil {
		s.logger.Error("Failed to refresh schedules", zap.Error(err))
		return
	}

	cache := make(map[string]*model.Schedule, len(schedules))
	for _, schedule := range schedules {
		cache[schedule.ID] = schedule
	}
	s.cache = cache

	s.logger.Debug("Refreshed schedule cache", zap.Int("count", len(cache)))
}
