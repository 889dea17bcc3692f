package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xnovu/worker/api"
	"github.com/xnovu/worker/catalog/catalogtest"
	"github.com/xnovu/worker/schedule"
	"github.com/xnovu/worker/schedule/scheduletest"
	"github.com/xnovu/worker/workflows"
)

func tenantPtr(s string) *string { return &s }

func newReconciler(t *testing.T, store *catalogtest.Store, sched *scheduletest.Store) *Reconciler {
	t.Helper()
	r, err := New(Options{
		Catalog:   store,
		Schedule:  sched,
		TaskQueue: "notifications",
		Interval:  30 * time.Second,
	})
	require.NoError(t, err)
	return r
}

func seedRule(store *catalogtest.Store, id int64, tenant string) *api.NotificationRule {
	wfID := id + 100
	store.PutWorkflow(&api.WorkflowDefinition{
		ID:            wfID,
		WorkflowKey:   "wf",
		PublishStatus: api.PublishStatusPublish,
	})
	rule := &api.NotificationRule{
		ID:            id,
		Tenant:        tenantPtr(tenant),
		Name:          "Daily digest",
		WorkflowID:    wfID,
		TriggerType:   api.TriggerTypeCron,
		TriggerConfig: &api.TriggerConfig{Cron: "0 9 * * *", Timezone: "Europe/Berlin"},
		PublishStatus: api.PublishStatusPublish,
		UpdatedAt:     time.Now(),
	}
	store.PutRule(rule)
	return rule
}

func TestReconcileSchedulesCreates(t *testing.T) {
	store := catalogtest.New()
	sched := scheduletest.New()
	r := newReconciler(t, store, sched)
	rule := seedRule(store, 3, "acme")

	res, err := r.ReconcileSchedules(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, Result{Created: 1}, res)

	id := schedule.RuleScheduleID(3, tenantPtr("acme"))
	created := sched.Schedule(id)
	require.NotNil(t, created)
	assert.Equal(t, []string{"0 9 * * *"}, created.Spec.CronExpressions)
	assert.Equal(t, "Europe/Berlin", created.Spec.Timezone)
	assert.False(t, created.State.Paused)
	assert.Equal(t, workflows.RuleScheduledWorkflowName, created.Action.WorkflowType)
	assert.Equal(t, "notifications", created.Action.TaskQueue)
	assert.Equal(t, rule.ID, created.Memo["rule_id"])
	assert.Equal(t, "acme", created.Memo["tenant"])

	in, ok := created.Action.Args.(workflows.RuleScheduledInput)
	require.True(t, ok)
	assert.Equal(t, rule.ID, in.RuleID)
	assert.Equal(t, rule.WorkflowID, in.WorkflowID)
}

func TestReconcileSchedulesUpdatesExisting(t *testing.T) {
	store := catalogtest.New()
	sched := scheduletest.New()
	r := newReconciler(t, store, sched)
	rule := seedRule(store, 3, "acme")
	id := schedule.RuleScheduleID(3, tenantPtr("acme"))
	sched.Put(schedule.Schedule{
		ID:   id,
		Spec: schedule.Spec{CronExpressions: []string{"* * * * *"}, Timezone: "UTC"},
	})
	rule.TriggerConfig.Cron = "30 8 * * MON"

	res, err := r.ReconcileSchedules(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 1}, res)
	assert.Equal(t, []string{"30 8 * * MON"}, sched.Schedule(id).Spec.CronExpressions)
}

func TestReconcileSchedulesDeletesOrphans(t *testing.T) {
	store := catalogtest.New()
	sched := scheduletest.New()
	r := newReconciler(t, store, sched)
	seedRule(store, 3, "acme")
	sched.Put(schedule.Schedule{ID: schedule.IDPrefix + "99-gone"})
	// Foreign ids without the engine prefix are not ours to touch.
	sched.Put(schedule.Schedule{ID: "other-system-1"})

	res, err := r.ReconcileSchedules(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, Result{Created: 1, Deleted: 1}, res)
	assert.Nil(t, sched.Schedule(schedule.IDPrefix+"99-gone"))
	assert.NotNil(t, sched.Schedule("other-system-1"))
}

func TestReconcileSchedulesTenantScopedPassKeepsOthers(t *testing.T) {
	store := catalogtest.New()
	sched := scheduletest.New()
	r := newReconciler(t, store, sched)
	seedRule(store, 3, "acme")
	otherID := schedule.RuleScheduleID(9, tenantPtr("globex"))
	sched.Put(schedule.Schedule{ID: otherID})

	res, err := r.ReconcileSchedules(context.Background(), tenantPtr("acme"))

	require.NoError(t, err)
	assert.Equal(t, Result{Created: 1}, res)
	assert.NotNil(t, sched.Schedule(otherID))
}

func TestReconcileSchedulesCountsBadCron(t *testing.T) {
	store := catalogtest.New()
	sched := scheduletest.New()
	r := newReconciler(t, store, sched)
	rule := seedRule(store, 3, "acme")
	rule.TriggerConfig.Cron = "not a cron"

	res, err := r.ReconcileSchedules(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, Result{Errors: 1}, res)
	assert.Nil(t, sched.Schedule(schedule.RuleScheduleID(3, tenantPtr("acme"))))
}

func TestReconcileSchedulesNeverAbortsOnRuleErrors(t *testing.T) {
	store := catalogtest.New()
	sched := scheduletest.New()
	sched.CreateErr = api.Errorf(api.KindScheduleStoreUnavailable, "frontend down")
	r := newReconciler(t, store, sched)
	seedRule(store, 3, "acme")
	seedRule(store, 4, "acme")

	res, err := r.ReconcileSchedules(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, Result{Errors: 2}, res)
}

func TestSyncRuleCreatesWhenMissing(t *testing.T) {
	store := catalogtest.New()
	sched := scheduletest.New()
	r := newReconciler(t, store, sched)
	rule := seedRule(store, 3, "acme")

	require.NoError(t, r.SyncRule(context.Background(), rule))

	created := sched.Schedule(schedule.RuleScheduleID(3, tenantPtr("acme")))
	require.NotNil(t, created)
	assert.False(t, created.State.Paused)
}

func TestSyncRulePausesDeactivatedRule(t *testing.T) {
	store := catalogtest.New()
	sched := scheduletest.New()
	r := newReconciler(t, store, sched)
	rule := seedRule(store, 3, "acme")
	require.NoError(t, r.SyncRule(context.Background(), rule))

	rule.Deactivated = true
	require.NoError(t, r.SyncRule(context.Background(), rule))

	assert.True(t, sched.Schedule(schedule.RuleScheduleID(3, tenantPtr("acme"))).State.Paused)
}

func TestSyncRuleDeletesStructurallyInvalidRule(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(store *catalogtest.Store, rule *api.NotificationRule)
	}{
		{"non-cron trigger", func(_ *catalogtest.Store, rule *api.NotificationRule) {
			rule.TriggerType = "WEBHOOK"
		}},
		{"unparseable cron", func(_ *catalogtest.Store, rule *api.NotificationRule) {
			rule.TriggerConfig.Cron = "banana"
		}},
		{"workflow ineligible", func(store *catalogtest.Store, rule *api.NotificationRule) {
			store.PutWorkflow(&api.WorkflowDefinition{
				ID:            rule.WorkflowID,
				PublishStatus: api.PublishStatusDraft,
			})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := catalogtest.New()
			sched := scheduletest.New()
			r := newReconciler(t, store, sched)
			rule := seedRule(store, 3, "acme")
			require.NoError(t, r.SyncRule(context.Background(), rule))
			require.NotNil(t, sched.Schedule(schedule.RuleScheduleID(3, tenantPtr("acme"))))

			tc.mutate(store, rule)
			require.NoError(t, r.SyncRule(context.Background(), rule))

			assert.Nil(t, sched.Schedule(schedule.RuleScheduleID(3, tenantPtr("acme"))))
		})
	}
}

func TestSyncRuleDeleteMissingIsNoError(t *testing.T) {
	store := catalogtest.New()
	sched := scheduletest.New()
	r := newReconciler(t, store, sched)
	rule := seedRule(store, 3, "acme")
	rule.TriggerType = "WEBHOOK"

	require.NoError(t, r.SyncRule(context.Background(), rule))
}

func TestStartSeedsWatermarkAndRunsFullPass(t *testing.T) {
	store := catalogtest.New()
	sched := scheduletest.New()
	rule := seedRule(store, 3, "acme")
	r, err := New(Options{
		Catalog:   store,
		Schedule:  sched,
		TaskQueue: "q",
		Interval:  5 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, r.Stop(ctx))
	}()

	assert.Equal(t, rule.UpdatedAt, r.Stats().Watermark)
	require.NotNil(t, sched.Schedule(schedule.RuleScheduleID(3, tenantPtr("acme"))))

	// An update past the watermark flows through the incremental loop.
	rule.TriggerConfig.Cron = "15 6 * * *"
	rule.UpdatedAt = time.Now().Add(time.Second)
	store.PutRule(rule)

	require.Eventually(t, func() bool {
		s := sched.Schedule(schedule.RuleScheduleID(3, tenantPtr("acme")))
		return s != nil && len(s.Spec.CronExpressions) == 1 &&
			s.Spec.CronExpressions[0] == "15 6 * * *"
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return r.Stats().Watermark.Equal(rule.UpdatedAt)
	}, time.Second, time.Millisecond)
}

func TestCronParses(t *testing.T) {
	cases := []struct {
		expr string
		ok   bool
	}{
		{"0 9 * * *", true},
		{"*/5 * * * *", true},
		{"0 9 * * MON-FRI", true},
		{"@daily", true},
		{"", false},
		{"banana", false},
		{"61 * * * *", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, cronParses(tc.expr), tc.expr)
	}
}
