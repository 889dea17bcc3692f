// Package poller implements the notification polling pipeline: three
// cooperating loops that observe the Catalog DB for dispatchable records and
// start exactly one durable workflow execution per admitted record.
package poller

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xnovu/worker/api"
	"github.com/xnovu/worker/catalog"
	"github.com/xnovu/worker/schedule"
	"github.com/xnovu/worker/telemetry"
	"github.com/xnovu/worker/workflows"
)

// backoffFactorCap bounds catalog-unavailable backoff at four loop intervals.
const backoffFactorCap = 4

type (
	// Options configures the pipeline.
	Options struct {
		// Catalog is the Catalog DB access layer. Required.
		Catalog catalog.Store
		// Schedule is the Schedule Store used to start workflows. Required.
		Schedule schedule.Store
		// TaskQueue is the queue dispatch workflows run on. Required.
		TaskQueue string
		// BatchSize caps rows fetched per tick; valid range 1..1000.
		BatchSize int
		// NewWorkInterval is the new-work loop interval.
		NewWorkInterval time.Duration
		// FailedInterval is the failed-retry loop interval.
		FailedInterval time.Duration
		// ScheduledInterval is the due-scheduled loop interval.
		ScheduledInterval time.Duration
		// RetryCeiling is the max dispatch attempts per record before the
		// failed-retry loop abandons it.
		RetryCeiling int
		// Tenant scopes every poll to one tenant when non-nil.
		Tenant *string
		// Logger defaults to a noop logger.
		Logger telemetry.Logger
		// Now overrides the clock in tests.
		Now func() time.Time
	}

	// LoopStats is a point-in-time snapshot of one loop's counters.
	LoopStats struct {
		Ticks    int64
		Admitted int64
		Skipped  int64
		Errors   int64
		LastTick time.Time
	}

	// Stats is a snapshot of the whole pipeline.
	Stats struct {
		NewWork      LoopStats
		FailedRetry  LoopStats
		DueScheduled LoopStats
		Watermark    time.Time
		InFlight     int
		Paused       bool
	}

	// Pipeline owns the three polling loops and their shared state.
	Pipeline struct {
		catalog   catalog.Store
		schedule  schedule.Store
		taskQueue string
		batchSize int
		ceiling   int
		tenant    *string
		logger    telemetry.Logger
		now       func() time.Time

		state  *State
		loops  []*loop
		paused atomic.Bool

		mu      sync.Mutex
		cancel  context.CancelFunc
		done    chan struct{}
		running bool
	}

	loop struct {
		name     string
		interval time.Duration
		tick     func(ctx context.Context) (int, error)

		mu       sync.Mutex
		stats    LoopStats
		failures int
	}
)

// New constructs a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Catalog == nil {
		return nil, api.Errorf(api.KindConfig, "poller: catalog store is required")
	}
	if opts.Schedule == nil {
		return nil, api.Errorf(api.KindConfig, "poller: schedule store is required")
	}
	if opts.TaskQueue == "" {
		return nil, api.Errorf(api.KindConfig, "poller: task queue is required")
	}
	if opts.BatchSize < 1 || opts.BatchSize > 1000 {
		return nil, api.Errorf(api.KindConfig, "poller: batch size %d outside 1..1000", opts.BatchSize)
	}
	for name, d := range map[string]time.Duration{
		"new-work":      opts.NewWorkInterval,
		"failed-retry":  opts.FailedInterval,
		"due-scheduled": opts.ScheduledInterval,
	} {
		if d <= 0 {
			return nil, api.Errorf(api.KindConfig, "poller: %s interval must be positive", name)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	p := &Pipeline{
		catalog:   opts.Catalog,
		schedule:  opts.Schedule,
		taskQueue: opts.TaskQueue,
		batchSize: opts.BatchSize,
		ceiling:   opts.RetryCeiling,
		tenant:    opts.Tenant,
		logger:    logger,
		now:       now,
		state:     NewState(),
	}
	p.loops = []*loop{
		{name: "new-work", interval: opts.NewWorkInterval, tick: p.tickNewWork},
		{name: "failed-retry", interval: opts.FailedInterval, tick: p.tickFailedRetry},
		{name: "due-scheduled", interval: opts.ScheduledInterval, tick: p.tickDueScheduled},
	}
	return p, nil
}

// Start launches the three loops. Idempotent while running.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	var wg sync.WaitGroup
	for _, l := range p.loops {
		wg.Add(1)
		go func(l *loop) {
			defer wg.Done()
			p.runLoop(runCtx, l)
		}(l)
	}
	done := p.done
	go func() {
		wg.Wait()
		close(done)
	}()
	p.logger.Info(ctx, "polling pipeline started",
		"batch_size", p.batchSize, "task_queue", p.taskQueue)
	return nil
}

// Stop cancels the loops and waits for them to drain, bounded by ctx.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.cancel()
	done := p.done
	p.running = false
	p.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("poller: stop: %w", ctx.Err())
	}
}

// Pause suspends ticking without stopping the loops.
func (p *Pipeline) Pause() { p.paused.Store(true) }

// Resume re-enables ticking.
func (p *Pipeline) Resume() { p.paused.Store(false) }

// Paused reports whether ticking is suspended.
func (p *Pipeline) Paused() bool { return p.paused.Load() }

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		NewWork:      p.loops[0].snapshot(),
		FailedRetry:  p.loops[1].snapshot(),
		DueScheduled: p.loops[2].snapshot(),
		Watermark:    p.state.Watermark(),
		InFlight:     p.state.InFlight(),
		Paused:       p.paused.Load(),
	}
}

// LoopIntervals returns each loop's configured interval by name. Health
// checks use it to detect stale loops.
func (p *Pipeline) LoopIntervals() map[string]time.Duration {
	out := make(map[string]time.Duration, len(p.loops))
	for _, l := range p.loops {
		out[l.name] = l.interval
	}
	return out
}

// runLoop drives one loop: tick, then wait. A full batch schedules the next
// tick immediately; a catalog outage backs off with full jitter up to four
// intervals. At most one tick of a loop runs at a time.
func (p *Pipeline) runLoop(ctx context.Context, l *loop) {
	timer := time.NewTimer(l.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if p.paused.Load() {
			timer.Reset(l.interval)
			continue
		}

		n, err := l.tick(ctx)
		l.record(n, err, p.now())

		delay := l.interval
		switch {
		case err != nil && api.IsKind(err, api.KindCatalogUnavailable):
			delay = l.backoff()
			p.logger.Warn(ctx, "catalog unavailable, backing off",
				"loop", l.name, "delay", delay.String())
		case err != nil:
			p.logger.Error(ctx, err, "poll tick failed", "loop", l.name)
		case n >= p.batchSize:
			// Backpressure: a full batch means more work is waiting.
			delay = 0
		}
		timer.Reset(delay)
	}
}

// tickNewWork admits records freshly updated past the watermark.
func (p *Pipeline) tickNewWork(ctx context.Context) (int, error) {
	opts := catalog.PollOptions{
		BatchSize:     p.batchSize,
		Tenant:        p.tenant,
		ScheduledMode: catalog.ScheduledEligibleNow,
	}
	if w := p.state.Watermark(); !w.IsZero() {
		opts.UpdatedAfter = &w
	}
	batch, err := p.catalog.PollNotifications(ctx, opts)
	if err != nil {
		return 0, err
	}
	held := p.admitBatch(ctx, p.loops[0], batch, api.StatusPending)
	// The watermark covers the whole batch, admitted or not; skipped
	// records were arbitrated away by the conditional update.
	for _, rec := range batch {
		p.state.AdvanceWatermark(rec.UpdatedAt)
	}
	p.releaseAll(held)
	return len(batch), nil
}

// tickFailedRetry re-admits FAILED records under the retry ceiling.
func (p *Pipeline) tickFailedRetry(ctx context.Context) (int, error) {
	batch, err := p.catalog.PollNotifications(ctx, catalog.PollOptions{
		BatchSize:     p.batchSize,
		Tenant:        p.tenant,
		Statuses:      []api.NotificationStatus{api.StatusFailed},
		ScheduledMode: catalog.ScheduledAny,
	})
	if err != nil {
		return 0, err
	}
	var held []int64
	for _, rec := range batch {
		if p.retriesExhausted(rec) {
			p.loops[1].skip()
			continue
		}
		if p.admit(ctx, p.loops[1], rec, api.StatusFailed) {
			held = append(held, rec.ID)
		}
	}
	p.releaseAll(held)
	return len(batch), nil
}

// tickDueScheduled admits PENDING records whose scheduled_for has arrived.
func (p *Pipeline) tickDueScheduled(ctx context.Context) (int, error) {
	batch, err := p.catalog.PollNotifications(ctx, catalog.PollOptions{
		BatchSize:     p.batchSize,
		Tenant:        p.tenant,
		Statuses:      []api.NotificationStatus{api.StatusPending},
		ScheduledMode: catalog.ScheduledOnly,
	})
	if err != nil {
		return 0, err
	}
	held := p.admitBatch(ctx, p.loops[2], batch, api.StatusPending)
	p.releaseAll(held)
	return len(batch), nil
}

func (p *Pipeline) admitBatch(ctx context.Context, l *loop, batch []*api.Notification, prior api.NotificationStatus) []int64 {
	var held []int64
	for _, rec := range batch {
		if p.admit(ctx, l, rec, prior) {
			held = append(held, rec.ID)
		}
	}
	return held
}

func (p *Pipeline) releaseAll(ids []int64) {
	for _, id := range ids {
		p.state.Release(id)
	}
}

// admit takes at-most-once ownership of the record and starts its dispatch
// workflow. The conditional status update is the arbiter: losing it means
// another worker (or another loop) already owns the record. A true return
// means the id is still held in the in-flight set; the tick releases it once
// the batch completes.
func (p *Pipeline) admit(ctx context.Context, l *loop, rec *api.Notification, prior api.NotificationStatus) bool {
	if !p.state.TryAcquire(rec.ID) {
		return false
	}

	ok, err := p.catalog.UpdateNotificationStatus(ctx, rec.ID, api.StatusProcessing,
		[]api.NotificationStatus{prior}, catalog.StatusUpdate{})
	if err != nil {
		p.state.Release(rec.ID)
		p.logger.Error(ctx, err, "admitting notification", "notification_id", rec.ID)
		return false
	}
	if !ok {
		p.state.Release(rec.ID)
		return false
	}

	workflowID := fmt.Sprintf("trigger-notification-%d-%s", rec.ID, uuid.NewString())
	var delay time.Duration
	if rec.ScheduledFor != nil {
		if d := rec.ScheduledFor.Sub(p.now()); d > 0 {
			delay = d
		}
	}

	_, err = p.schedule.StartWorkflow(ctx, workflows.NotificationTriggerWorkflowName,
		workflowID,
		workflows.NotificationTriggerInput{NotificationID: rec.ID, Tenant: rec.Tenant},
		schedule.StartOptions{TaskQueue: p.taskQueue, StartDelay: delay})
	if err != nil {
		// Roll the admission back so a later tick can retry.
		if _, rbErr := p.catalog.UpdateNotificationStatus(ctx, rec.ID, prior,
			[]api.NotificationStatus{api.StatusProcessing}, catalog.StatusUpdate{}); rbErr != nil {
			p.logger.Error(ctx, rbErr, "rolling back admission", "notification_id", rec.ID)
		}
		p.logger.Error(ctx, err, "starting dispatch workflow",
			"notification_id", rec.ID, "workflow_id", workflowID)
		p.state.Release(rec.ID)
		return false
	}

	l.admitted()
	p.logger.Debug(ctx, "notification admitted",
		"notification_id", rec.ID, "workflow_id", workflowID,
		"start_delay", delay.String())
	return true
}

// retriesExhausted reports whether the record hit the retry ceiling. Records
// past the ceiling stay FAILED; only an external status reset revives them.
func (p *Pipeline) retriesExhausted(rec *api.Notification) bool {
	if p.ceiling <= 0 {
		return false
	}
	return rec.ErrorDetails != nil && rec.ErrorDetails.Retries >= p.ceiling
}

func (l *loop) record(n int, err error, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Ticks++
	l.stats.LastTick = now
	if err != nil {
		l.stats.Errors++
		l.failures++
		return
	}
	l.failures = 0
}

func (l *loop) admitted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Admitted++
}

func (l *loop) skip() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Skipped++
}

func (l *loop) snapshot() LoopStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// backoff computes the post-failure delay: full jitter over an exponentially
// grown interval, capped at four loop intervals.
func (l *loop) backoff() time.Duration {
	l.mu.Lock()
	failures := l.failures
	l.mu.Unlock()

	ceiling := l.interval * backoffFactorCap
	d := l.interval
	for i := 1; i < failures && d < ceiling; i++ {
		d *= 2
	}
	if d > ceiling {
		d = ceiling
	}
	return time.Duration(rand.Int63n(int64(d)) + 1) //nolint:gosec // jitter needs no crypto rand
}
