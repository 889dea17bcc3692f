// Package reconciler keeps the Schedule Store's schedule objects exactly in
// sync with the active CRON rules in the Catalog DB: a full pass matches the
// two sets, an incremental loop follows rule updates through a watermark.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	"github.com/xnovu/worker/api"
	"github.com/xnovu/worker/catalog"
	"github.com/xnovu/worker/schedule"
	"github.com/xnovu/worker/telemetry"
	"github.com/xnovu/worker/workflows"
)

type (
	// Options configures the reconciler.
	Options struct {
		// Catalog is the Catalog DB access layer. Required.
		Catalog catalog.Store
		// Schedule is the Schedule Store. Required.
		Schedule schedule.Store
		// TaskQueue is the queue rule-scheduled workflows run on. Required.
		TaskQueue string
		// Interval is the incremental loop interval. Required for Start.
		Interval time.Duration
		// Logger defaults to a noop logger.
		Logger telemetry.Logger
		// Now overrides the clock in tests.
		Now func() time.Time
	}

	// Result counts the outcome of one full reconciliation pass.
	Result struct {
		Created int
		Updated int
		Deleted int
		Errors  int
	}

	// Stats is a snapshot of the reconciler's counters.
	Stats struct {
		LastFullPass   time.Time
		LastFullResult Result
		LastTick       time.Time
		Watermark      time.Time
		SyncedRules    int64
		Errors         int64
	}

	// Reconciler drives schedule reconciliation.
	Reconciler struct {
		catalog   catalog.Store
		schedule  schedule.Store
		taskQueue string
		interval  time.Duration
		logger    telemetry.Logger
		now       func() time.Time

		mu        sync.Mutex
		watermark time.Time
		stats     Stats
		cancel    context.CancelFunc
		done      chan struct{}
		running   bool
	}
)

// New constructs a Reconciler.
func New(opts Options) (*Reconciler, error) {
	if opts.Catalog == nil {
		return nil, api.Errorf(api.KindConfig, "reconciler: catalog store is required")
	}
	if opts.Schedule == nil {
		return nil, api.Errorf(api.KindConfig, "reconciler: schedule store is required")
	}
	if opts.TaskQueue == "" {
		return nil, api.Errorf(api.KindConfig, "reconciler: task queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		catalog:   opts.Catalog,
		schedule:  opts.Schedule,
		taskQueue: opts.TaskQueue,
		interval:  opts.Interval,
		logger:    logger,
		now:       now,
	}, nil
}

// Start seeds the watermark, performs one full pass, and launches the
// incremental loop. Idempotent while running.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	if r.interval <= 0 {
		r.mu.Unlock()
		return api.Errorf(api.KindConfig, "reconciler: interval must be positive")
	}
	r.mu.Unlock()

	seed, err := r.catalog.GetLastRuleUpdate(ctx, nil)
	if err != nil {
		return fmt.Errorf("reconciler: seed watermark: %w", err)
	}
	r.advanceWatermark(seed)

	if _, err := r.ReconcileSchedules(ctx, nil); err != nil {
		return fmt.Errorf("reconciler: initial pass: %w", err)
	}

	r.mu.Lock()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		r.runLoop(runCtx)
	}()
	r.logger.Info(ctx, "rule reconciliation started",
		"interval", r.interval.String(), "watermark", seed.Format(time.RFC3339))
	return nil
}

// Stop cancels the incremental loop and waits for it, bounded by ctx.
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.cancel()
	done := r.done
	r.running = false
	r.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("reconciler: stop: %w", ctx.Err())
	}
}

// SyncAllRules runs a full reconciliation pass across every tenant.
func (r *Reconciler) SyncAllRules(ctx context.Context) error {
	_, err := r.ReconcileSchedules(ctx, nil)
	return err
}

// ReconcileSchedules makes the schedule set match the active rule set,
// scoped to one tenant when given. Per-rule failures are counted, never
// abort the pass.
func (r *Reconciler) ReconcileSchedules(ctx context.Context, tenant *string) (Result, error) {
	var res Result

	rules, err := r.catalog.GetActiveCronRules(ctx, tenant)
	if err != nil {
		return res, err
	}
	current, err := r.schedule.ListSchedules(ctx, schedule.IDPrefix)
	if err != nil {
		return res, err
	}

	expected := make([]string, 0, len(rules))
	byID := make(map[string]*api.NotificationRule, len(rules))
	for _, rule := range rules {
		id := schedule.RuleScheduleID(rule.ID, rule.Tenant)
		expected = append(expected, id)
		byID[id] = rule
	}

	currentSet := make(map[string]struct{}, len(current))
	for _, id := range current {
		currentSet[id] = struct{}{}
	}

	for id, rule := range byID {
		if !cronParses(rule.TriggerConfig.Cron) {
			r.logger.Warn(ctx, "rule carries an unparseable CRON expression",
				"rule_id", rule.ID, "cron", rule.TriggerConfig.Cron)
			res.Errors++
			continue
		}
		if _, exists := currentSet[id]; exists {
			if err := r.updateSchedule(ctx, id, rule, false); err != nil {
				r.logger.Error(ctx, err, "updating schedule", "schedule_id", id)
				res.Errors++
				continue
			}
			res.Updated++
		} else {
			if err := r.schedule.CreateSchedule(ctx, r.buildSchedule(rule, false)); err != nil {
				r.logger.Error(ctx, err, "creating schedule", "schedule_id", id)
				res.Errors++
				continue
			}
			res.Created++
		}
	}

	// A tenant-scoped pass must not collect other tenants' schedules.
	if tenant == nil {
		orphans := lo.Filter(current, func(id string, _ int) bool {
			_, expected := byID[id]
			return !expected
		})
		for _, id := range orphans {
			if err := r.schedule.DeleteSchedule(ctx, id); err != nil {
				if api.IsKind(err, api.KindScheduleStoreNotFound) {
					continue
				}
				r.logger.Error(ctx, err, "deleting orphan schedule", "schedule_id", id)
				res.Errors++
				continue
			}
			res.Deleted++
		}
	}

	r.mu.Lock()
	r.stats.LastFullPass = r.now()
	r.stats.LastFullResult = res
	r.mu.Unlock()

	r.logger.Info(ctx, "reconciliation pass complete",
		"created", res.Created, "updated", res.Updated,
		"deleted", res.Deleted, "errors", res.Errors)
	return res, nil
}

// SyncRule reconciles a single rule's schedule. A structurally valid CRON
// rule that is merely deactivated or unpublished keeps its schedule paused;
// anything else loses the schedule.
func (r *Reconciler) SyncRule(ctx context.Context, rule *api.NotificationRule) error {
	if rule == nil {
		return api.Errorf(api.KindValidation, "reconciler: nil rule")
	}
	id := schedule.RuleScheduleID(rule.ID, rule.Tenant)

	keep := rule.TriggerType == api.TriggerTypeCron &&
		rule.TriggerConfig != nil &&
		cronParses(rule.TriggerConfig.Cron)
	if keep {
		wf, err := r.catalog.GetWorkflowDefinition(ctx, rule.WorkflowID, rule.Tenant)
		if err != nil {
			return err
		}
		keep = wf.Eligible()
	}
	if !keep {
		if err := r.schedule.DeleteSchedule(ctx, id); err != nil &&
			!api.IsKind(err, api.KindScheduleStoreNotFound) {
			return err
		}
		return nil
	}

	paused := rule.Deactivated || rule.PublishStatus != api.PublishStatusPublish
	err := r.updateSchedule(ctx, id, rule, paused)
	if api.IsKind(err, api.KindScheduleStoreNotFound) {
		return r.schedule.CreateSchedule(ctx, r.buildSchedule(rule, paused))
	}
	return err
}

// Stats returns a snapshot of the reconciler's counters.
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Watermark = r.watermark
	return s
}

// Interval returns the incremental loop interval.
func (r *Reconciler) Interval() time.Duration { return r.interval }

// runLoop is the incremental loop: every interval it syncs the rules updated
// past the watermark, then advances it.
func (r *Reconciler) runLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := r.tick(ctx); err != nil {
			r.logger.Error(ctx, err, "incremental reconciliation tick")
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) error {
	r.mu.Lock()
	since := r.watermark
	r.mu.Unlock()

	rules, err := r.catalog.GetRulesUpdatedSince(ctx, since)

	r.mu.Lock()
	r.stats.LastTick = r.now()
	if err != nil {
		r.stats.Errors++
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}

	for _, rule := range rules {
		if err := r.SyncRule(ctx, rule); err != nil {
			r.logger.Error(ctx, err, "syncing rule",
				"rule_id", rule.ID, "tenant", api.TenantKey(rule.Tenant))
			r.mu.Lock()
			r.stats.Errors++
			r.mu.Unlock()
			continue
		}
		r.mu.Lock()
		r.stats.SyncedRules++
		r.mu.Unlock()
		r.advanceWatermark(rule.UpdatedAt)
	}
	return nil
}

func (r *Reconciler) advanceWatermark(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.After(r.watermark) {
		r.watermark = t
	}
}

// buildSchedule derives the schedule object for a rule.
func (r *Reconciler) buildSchedule(rule *api.NotificationRule, paused bool) schedule.Schedule {
	return schedule.Schedule{
		ID: schedule.RuleScheduleID(rule.ID, rule.Tenant),
		Spec: schedule.Spec{
			CronExpressions: []string{rule.TriggerConfig.Cron},
			Timezone:        rule.Timezone(),
		},
		Action: workflows.RuleScheduleAction(rule, r.taskQueue),
		State: schedule.State{
			Paused: paused,
		},
		Memo: map[string]any{
			"rule_id":   rule.ID,
			"tenant":    api.TenantKey(rule.Tenant),
			"rule_name": rule.Name,
		},
	}
}

// updateSchedule rewrites an existing schedule to the rule's current shape.
func (r *Reconciler) updateSchedule(ctx context.Context, id string, rule *api.NotificationRule, paused bool) error {
	desired := r.buildSchedule(rule, paused)
	return r.schedule.UpdateSchedule(ctx, id, func(s *schedule.Schedule) error {
		s.Spec = desired.Spec
		s.Action = desired.Action
		s.State.Paused = desired.State.Paused
		s.Memo = desired.Memo
		return nil
	})
}

// cronParses reports whether the five-field expression (with MON..SUN style
// extensions) is accepted by the standard parser.
func cronParses(expr string) bool {
	if expr == "" {
		return false
	}
	_, err := cron.ParseStandard(expr)
	return err == nil
}
