package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"PulseBoard/internal/domain/models"
	drepo "PulseBoard/internal/domain/repository"
	"PulseBoard/internal/service/cache"
	applogger "PulseBoard/pkg/logger"
	"PulseBoard/pkg/metrics"

	"github.com/jonboulle/clockwork"
)

// Task names a periodic job of the coordinator.
type Task string

const (
	TaskTelemetry    Task = "telemetry"
	TaskFullSnapshot Task = "full_snapshot"
	TaskQuotes       Task = "quotes"
	TaskWeather      Task = "weather"
	TaskFeeds        Task = "feeds"
	TaskPublicData   Task = "public_data"
	TaskHistory      Task = "history"
	TaskRetention    Task = "retention"
)

var (
	ErrTaskBusy    = errors.New("task already running")
	ErrUnknownTask = errors.New("unknown task")
)

const retentionLockKey = "lock:retention"

// Schedule sets task cadences and retention windows. A zero cadence disables
// the task's ticker; RunOnce still works.
type Schedule struct {
	Telemetry        time.Duration
	FullSnapshot     time.Duration
	Quotes           time.Duration
	Weather          time.Duration
	Feeds            time.Duration
	PublicData       time.Duration
	History          time.Duration
	Retention        time.Duration
	RebroadcastDelay time.Duration
	LogRetention     time.Duration
	HistoryRetention time.Duration
}

func DefaultSchedule() Schedule {
	return Schedule{
		Telemetry:        5 * time.Second,
		FullSnapshot:     60 * time.Second,
		Quotes:           60 * time.Second,
		Weather:          60 * time.Second,
		Feeds:            10 * time.Minute,
		PublicData:       5 * time.Minute,
		History:          time.Minute,
		Retention:        24 * time.Hour,
		RebroadcastDelay: 500 * time.Millisecond,
		LogRetention:     30 * 24 * time.Hour,
		HistoryRetention: 7 * 24 * time.Hour,
	}
}

type task struct {
	name    Task
	every   time.Duration
	eager   bool // also run once on Start
	run     func(ctx context.Context) error
	running atomic.Bool
}

// Coordinator owns every periodic schedule. Each task has its own ticker and
// never runs concurrently with itself: a tick that finds the previous run
// still going is skipped.
type Coordinator struct {
	schedule    Schedule
	dashboard   *DashboardService
	system      *SystemService
	broadcaster *Broadcaster
	evaluator   *AlertEvaluator
	logs        drepo.AlertLogStore
	locker      drepo.Locker
	clock       clockwork.Clock
	log         *applogger.Logger
	metrics     drepo.Metrics

	tasks map[Task]*task
	order []Task

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	pending map[string]clockwork.Timer
	wg      sync.WaitGroup
}

type CoordinatorOption func(*Coordinator)

func WithCoordinatorClock(c clockwork.Clock) CoordinatorOption {
	return func(co *Coordinator) { co.clock = c }
}

func WithCoordinatorLogger(l *applogger.Logger) CoordinatorOption {
	return func(co *Coordinator) { co.log = l.Named("coordinator") }
}

func WithCoordinatorMetrics(m drepo.Metrics) CoordinatorOption {
	return func(co *Coordinator) { co.metrics = m }
}

// WithLocker makes retention take a cross-instance lock first.
func WithLocker(l drepo.Locker) CoordinatorOption {
	return func(co *Coordinator) { co.locker = l }
}

func NewCoordinator(
	schedule Schedule,
	dashboard *DashboardService,
	system *SystemService,
	broadcaster *Broadcaster,
	evaluator *AlertEvaluator,
	logs drepo.AlertLogStore,
	opts ...CoordinatorOption,
) *Coordinator {
	if schedule.RebroadcastDelay <= 0 {
		schedule.RebroadcastDelay = 500 * time.Millisecond
	}
	c := &Coordinator{
		schedule:    schedule,
		dashboard:   dashboard,
		system:      system,
		broadcaster: broadcaster,
		evaluator:   evaluator,
		logs:        logs,
		clock:       clockwork.NewRealClock(),
		log:         applogger.Nop(),
		metrics:     metrics.Nop{},
		pending:     make(map[string]clockwork.Timer),
		ctx:         context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}

	caches := dashboard.Caches()
	c.add(TaskTelemetry, schedule.Telemetry, false, c.runTelemetry)
	c.add(TaskFullSnapshot, schedule.FullSnapshot, false, c.runFullSnapshot)
	c.add(TaskQuotes, schedule.Quotes, true, refreshTask(caches.Quotes.RefreshAll))
	c.add(TaskWeather, schedule.Weather, true, refreshTask(caches.Weather.RefreshAll))
	c.add(TaskFeeds, schedule.Feeds, true, refreshTask(caches.Feeds.RefreshAll))
	c.add(TaskPublicData, schedule.PublicData, true, c.runPublicData)
	c.add(TaskHistory, schedule.History, false, c.runHistory)
	c.add(TaskRetention, schedule.Retention, false, c.runRetention)
	return c
}

func (c *Coordinator) add(name Task, every time.Duration, eager bool, run func(context.Context) error) {
	if c.tasks == nil {
		c.tasks = make(map[Task]*task)
	}
	c.tasks[name] = &task{name: name, every: every, eager: eager, run: run}
	c.order = append(c.order, name)
}

// Start launches one goroutine per scheduled task.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	runCtx := c.ctx
	c.mu.Unlock()

	for _, name := range c.order {
		t := c.tasks[name]
		if t.every <= 0 {
			continue
		}
		c.wg.Add(1)
		go c.loop(runCtx, t)
	}
	c.log.Info("coordinator started", applogger.Int("tasks", len(c.order)))
}

func (c *Coordinator) loop(ctx context.Context, t *task) {
	defer c.wg.Done()
	ticker := c.clock.NewTicker(t.every)
	defer ticker.Stop()

	if t.eager {
		c.dispatch(ctx, t)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.dispatch(ctx, t)
		}
	}
}

// dispatch runs t in its own goroutine so a slow run shows up as skipped
// ticks instead of a stalled ticker.
func (c *Coordinator) dispatch(ctx context.Context, t *task) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.execute(ctx, t)
	}()
}

func (c *Coordinator) execute(ctx context.Context, t *task) error {
	if !t.running.CompareAndSwap(false, true) {
		c.metrics.RecordTick(string(t.name), 0, true)
		c.log.Debug("tick skipped, previous run in progress", applogger.String("task", string(t.name)))
		return ErrTaskBusy
	}
	defer t.running.Store(false)

	start := c.clock.Now()
	err := t.run(ctx)
	elapsed := c.clock.Since(start)
	c.metrics.RecordTick(string(t.name), elapsed.Seconds(), false)
	if err != nil {
		c.metrics.RecordError("task_" + string(t.name))
		c.log.Warn("task failed", applogger.String("task", string(t.name)), applogger.Duration("duration_ms", elapsed), applogger.Error(err))
	}
	return err
}

// RunOnce runs one task synchronously.
func (c *Coordinator) RunOnce(ctx context.Context, name Task) error {
	t, ok := c.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return c.execute(ctx, t)
}

// Stop cancels every task and pending rebroadcast and waits for runs in
// flight.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.cancel()
	for user, timer := range c.pending {
		timer.Stop()
		delete(c.pending, user)
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.log.Info("coordinator stopped")
}

// ScheduleRebroadcast pushes a personalized dashboard to userID's
// connections after the rebroadcast delay. Calls for a user that already has
// a push pending are folded into it.
func (c *Coordinator) ScheduleRebroadcast(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[userID]; ok {
		return
	}
	c.pending[userID] = c.clock.AfterFunc(c.schedule.RebroadcastDelay, func() {
		c.mu.Lock()
		delete(c.pending, userID)
		ctx := c.ctx
		c.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		c.rebroadcast(ctx, userID)
	})
}

func (c *Coordinator) rebroadcast(ctx context.Context, userID string) {
	if c.broadcaster.CountFor(userID) == 0 {
		return
	}
	snap, err := c.dashboard.Snapshot(ctx, userID)
	if err != nil {
		c.log.Warn("rebroadcast snapshot", applogger.String("user_id", userID), applogger.Error(err))
		return
	}
	if _, err := c.broadcaster.Broadcast(ctx, EventDashboard, snap, ForUser(userID)); err != nil {
		c.log.Warn("rebroadcast", applogger.String("user_id", userID), applogger.Error(err))
	}
}

func (c *Coordinator) runTelemetry(ctx context.Context) error {
	sys := c.dashboard.System()
	if c.broadcaster.Count() > 0 {
		snap := models.NewSystemSnapshot(sys, c.clock.Now().UTC())
		if _, err := c.broadcaster.Broadcast(ctx, EventSystem, snap, All()); err != nil {
			return err
		}
	}
	c.evaluator.CheckSystem(ctx, sys)
	return nil
}

func (c *Coordinator) runFullSnapshot(ctx context.Context) error {
	caches := c.dashboard.Caches()
	caches.Quotes.RefreshStale(ctx)
	caches.Weather.RefreshStale(ctx)

	if c.broadcaster.Count() > 0 {
		c.broadcaster.BroadcastPerUser(ctx, EventDashboard, func(ctx context.Context, userID string) (any, error) {
			return c.dashboard.Snapshot(ctx, userID)
		})
	}

	c.evaluator.CheckStocks(ctx, c.dashboard.TrackedQuotes())
	c.evaluator.CheckWeather(ctx, c.dashboard.Weather())
	return nil
}

func (c *Coordinator) runPublicData(ctx context.Context) error {
	caches := c.dashboard.Caches()
	caches.Traffic.RefreshAll(ctx)
	caches.Emergency.RefreshAll(ctx)
	return nil
}

func (c *Coordinator) runHistory(ctx context.Context) error {
	return c.system.RecordSample(ctx)
}

func (c *Coordinator) runRetention(ctx context.Context) error {
	if c.locker != nil {
		ok, err := c.locker.TryLock(ctx, retentionLockKey, time.Hour)
		if err != nil {
			return fmt.Errorf("retention lock: %w", err)
		}
		if !ok {
			c.log.Debug("retention held by another instance")
			return nil
		}
		defer func() {
			if err := c.locker.Unlock(context.WithoutCancel(ctx), retentionLockKey); err != nil {
				c.log.Warn("release retention lock", applogger.Error(err))
			}
		}()
	}

	now := c.clock.Now()
	logs, err := c.logs.DeleteLogsOlderThan(ctx, now.Add(-c.schedule.LogRetention))
	if err != nil {
		return fmt.Errorf("prune alert logs: %w", err)
	}
	records, err := c.system.Prune(ctx, c.schedule.HistoryRetention)
	if err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	cooldowns := c.evaluator.Prune()
	c.log.Info("retention complete",
		applogger.Int64("alert_logs", logs),
		applogger.Int64("history_records", records),
		applogger.Int("cooldowns", cooldowns),
	)
	return nil
}

func refreshTask(refresh func(context.Context) cache.RefreshReport) func(context.Context) error {
	return func(ctx context.Context) error {
		refresh(ctx)
		return nil
	}
}
