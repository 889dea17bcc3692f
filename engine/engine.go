// Package engine is the process-wide controller: it owns the lifecycles of
// the rule reconciliation loop, the polling pipeline, and the Schedule
// Store's task-queue worker, and exposes the status and health surfaces.
package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xnovu/worker/api"
	"github.com/xnovu/worker/catalog"
	"github.com/xnovu/worker/config"
	"github.com/xnovu/worker/poller"
	"github.com/xnovu/worker/reconciler"
	"github.com/xnovu/worker/schedule"
	"github.com/xnovu/worker/telemetry"
)

// stopBudget bounds how long Shutdown waits for each loop to drain.
const stopBudget = 10 * time.Second

type (
	// Worker is the Schedule Store's work-processing surface. Pause stops
	// task polling without touching individual CRON schedules.
	Worker interface {
		StartWorker(ctx context.Context) error
		StopWorker()
		WorkerRunning() bool
	}

	// Options configures the engine.
	Options struct {
		// Config is the resolved process configuration. Required.
		Config config.Config
		// Catalog is the Catalog DB access layer. Required.
		Catalog catalog.Store
		// Schedule is the Schedule Store. Required.
		Schedule schedule.Store
		// Worker controls the Schedule Store's task-queue worker. Optional;
		// without it Pause and Resume only affect polling.
		Worker Worker
		// Logger defaults to a noop logger.
		Logger telemetry.Logger
		// Now overrides the clock in tests.
		Now func() time.Time
	}

	// HealthStatus is the coarse outcome of a health check.
	HealthStatus string

	// Health is the health check report.
	Health struct {
		Status  HealthStatus
		Details map[string]string
	}

	// Status is the engine's status snapshot.
	Status struct {
		Initialized    bool
		Paused         bool
		WorkerRunning  bool
		Reconciliation reconciler.Stats
		Polling        poller.Stats
	}

	// Engine is the controller. Construct it with New, then Init. The zero
	// value is not usable.
	Engine struct {
		cfg      config.Config
		catalog  catalog.Store
		schedule schedule.Store
		worker   Worker
		logger   telemetry.Logger
		now      func() time.Time

		pipeline   *poller.Pipeline
		reconciler *reconciler.Reconciler

		mu          sync.Mutex
		initialized bool
		paused      bool
		shutdown    bool
	}
)

const (
	// Healthy means every loop ticked recently and both stores respond.
	Healthy HealthStatus = "healthy"
	// Degraded means the engine runs but a loop is stale or the catalog is
	// unreachable.
	Degraded HealthStatus = "degraded"
	// Unhealthy means the engine never initialized or the Schedule Store is
	// unreachable.
	Unhealthy HealthStatus = "unhealthy"
)

// New constructs the engine and its loops. Nothing runs until Init.
func New(opts Options) (*Engine, error) {
	if opts.Catalog == nil {
		return nil, api.Errorf(api.KindConfig, "engine: catalog store is required")
	}
	if opts.Schedule == nil {
		return nil, api.Errorf(api.KindConfig, "engine: schedule store is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, api.WrapError(api.KindConfig, err, "engine: invalid configuration")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	pipeline, err := poller.New(poller.Options{
		Catalog:           opts.Catalog,
		Schedule:          opts.Schedule,
		TaskQueue:         opts.Config.TaskQueue,
		BatchSize:         opts.Config.PollBatchSize,
		NewWorkInterval:   opts.Config.PollInterval,
		FailedInterval:    opts.Config.FailedPollInterval,
		ScheduledInterval: opts.Config.ScheduledPollInterval,
		RetryCeiling:      opts.Config.JobRetryAttempts,
		Logger:            logger,
		Now:               now,
	})
	if err != nil {
		return nil, err
	}
	rec, err := reconciler.New(reconciler.Options{
		Catalog:   opts.Catalog,
		Schedule:  opts.Schedule,
		TaskQueue: opts.Config.TaskQueue,
		Interval:  opts.Config.RulePollInterval,
		Logger:    logger,
		Now:       now,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        opts.Config,
		catalog:    opts.Catalog,
		schedule:   opts.Schedule,
		worker:     opts.Worker,
		logger:     logger,
		now:        now,
		pipeline:   pipeline,
		reconciler: rec,
	}, nil
}

// Init warms the Schedule Store connection, starts the worker and both
// loops. Idempotent: a second call on an initialized engine is a no-op.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return api.Errorf(api.KindNotInitialized, "engine: already shut down")
	}
	if e.initialized {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if err := e.schedule.EnsureNamespace(ctx, e.cfg.ScheduleStoreNamespace); err != nil {
		return err
	}
	if e.worker != nil {
		if err := e.worker.StartWorker(ctx); err != nil {
			return err
		}
	}
	if err := e.reconciler.Start(ctx); err != nil {
		e.stopWorker()
		return err
	}
	if err := e.pipeline.Start(ctx); err != nil {
		e.stopLoops(ctx)
		e.stopWorker()
		return err
	}

	e.mu.Lock()
	e.initialized = true
	e.mu.Unlock()
	e.logger.Info(ctx, "engine initialized",
		"namespace", e.cfg.ScheduleStoreNamespace, "task_queue", e.cfg.TaskQueue)
	return nil
}

// Pause suspends polling ticks and stops the Schedule Store worker. CRON
// schedules keep firing; their workflow tasks queue up until Resume.
func (e *Engine) Pause(ctx context.Context) error {
	if err := e.guard(); err != nil {
		return err
	}
	e.pipeline.Pause()
	e.stopWorker()
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	e.logger.Info(ctx, "engine paused")
	return nil
}

// Resume reverses Pause.
func (e *Engine) Resume(ctx context.Context) error {
	if err := e.guard(); err != nil {
		return err
	}
	if e.worker != nil {
		if err := e.worker.StartWorker(ctx); err != nil {
			return err
		}
	}
	e.pipeline.Resume()
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	e.logger.Info(ctx, "engine resumed")
	return nil
}

// ReloadCronRules runs an immediate full reconciliation pass, scoped to one
// tenant when given.
func (e *Engine) ReloadCronRules(ctx context.Context, tenant *string) (reconciler.Result, error) {
	if err := e.guard(); err != nil {
		return reconciler.Result{}, err
	}
	return e.reconciler.ReconcileSchedules(ctx, tenant)
}

// Status returns the engine's status snapshot.
func (e *Engine) Status() Status {
	e.mu.Lock()
	initialized, paused := e.initialized, e.paused
	e.mu.Unlock()
	return Status{
		Initialized:    initialized,
		Paused:         paused,
		WorkerRunning:  e.workerRunning(),
		Reconciliation: e.reconciler.Stats(),
		Polling:        e.pipeline.Stats(),
	}
}

// HealthCheck reports engine health. Unhealthy: never initialized or the
// Schedule Store does not respond. Degraded: the catalog does not respond,
// or a running loop has not ticked within twice its interval.
func (e *Engine) HealthCheck(ctx context.Context) Health {
	details := make(map[string]string)

	e.mu.Lock()
	initialized, paused := e.initialized, e.paused
	e.mu.Unlock()
	if !initialized {
		details["engine"] = "not initialized"
		return Health{Status: Unhealthy, Details: details}
	}
	if err := e.schedule.Ping(ctx); err != nil {
		details["schedule_store"] = err.Error()
		return Health{Status: Unhealthy, Details: details}
	}
	details["schedule_store"] = "ok"

	status := Healthy
	if err := e.catalog.Ping(ctx); err != nil {
		details["catalog"] = err.Error()
		status = Degraded
	} else {
		details["catalog"] = "ok"
	}

	if !paused {
		now := e.now()
		for name, stale := range e.staleLoops(now) {
			if stale {
				details["loop_"+name] = "stale"
				status = Degraded
			}
		}
	}
	return Health{Status: status, Details: details}
}

// Shutdown stops the loops (up to ten seconds each), the worker, and the
// catalog pool. Idempotent.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return nil
	}
	e.shutdown = true
	e.initialized = false
	e.mu.Unlock()

	err := e.stopLoops(ctx)
	e.stopWorker()
	if cerr := e.catalog.Shutdown(ctx); cerr != nil && err == nil {
		err = cerr
	}
	e.logger.Info(ctx, "engine shut down")
	return err
}

func (e *Engine) stopLoops(ctx context.Context) error {
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.Go(func() error {
		sctx, cancel := context.WithTimeout(gctx, stopBudget)
		defer cancel()
		return e.pipeline.Stop(sctx)
	})
	g.Go(func() error {
		sctx, cancel := context.WithTimeout(gctx, stopBudget)
		defer cancel()
		return e.reconciler.Stop(sctx)
	})
	return g.Wait()
}

func (e *Engine) stopWorker() {
	if e.worker != nil {
		e.worker.StopWorker()
	}
}

func (e *Engine) workerRunning() bool {
	if e.worker == nil {
		return false
	}
	return e.worker.WorkerRunning()
}

// staleLoops reports, per loop, whether its last tick is older than twice
// its interval. Loops that never ticked are given a full grace period.
func (e *Engine) staleLoops(now time.Time) map[string]bool {
	out := make(map[string]bool)
	polling := e.pipeline.Stats()
	for name, interval := range e.pipeline.LoopIntervals() {
		var last time.Time
		switch name {
		case "new-work":
			last = polling.NewWork.LastTick
		case "failed-retry":
			last = polling.FailedRetry.LastTick
		case "due-scheduled":
			last = polling.DueScheduled.LastTick
		}
		out[name] = !last.IsZero() && now.Sub(last) > 2*interval
	}
	rec := e.reconciler.Stats()
	out["reconciliation"] = !rec.LastTick.IsZero() &&
		now.Sub(rec.LastTick) > 2*e.reconciler.Interval()
	return out
}

func (e *Engine) guard() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return api.Errorf(api.KindNotInitialized, "engine: not initialized")
	}
	return nil
}
