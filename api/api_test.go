package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func tenantPtr(s string) *string { return &s }

func TestWorkflowDefinitionEligible(t *testing.T) {
	assert.False(t, (*WorkflowDefinition)(nil).Eligible())
	assert.True(t, (&WorkflowDefinition{PublishStatus: PublishStatusPublish}).Eligible())
	assert.False(t, (&WorkflowDefinition{PublishStatus: PublishStatusDraft}).Eligible())
	assert.False(t, (&WorkflowDefinition{PublishStatus: PublishStatusPublish, Deactivated: true}).Eligible())
}

func TestNotificationRuleActive(t *testing.T) {
	rule := &NotificationRule{
		TriggerType:   TriggerTypeCron,
		TriggerConfig: &TriggerConfig{Cron: "0 9 * * *"},
		PublishStatus: PublishStatusPublish,
	}
	assert.True(t, rule.Active())

	cases := []struct {
		name   string
		mutate func(*NotificationRule)
	}{
		{"deactivated", func(r *NotificationRule) { r.Deactivated = true }},
		{"draft", func(r *NotificationRule) { r.PublishStatus = PublishStatusDraft }},
		{"non-cron trigger", func(r *NotificationRule) { r.TriggerType = "WEBHOOK" }},
		{"no trigger config", func(r *NotificationRule) { r.TriggerConfig = nil }},
		{"empty expression", func(r *NotificationRule) { r.TriggerConfig = &TriggerConfig{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := *rule
			tc.mutate(&r)
			assert.False(t, r.Active())
		})
	}
	assert.False(t, (*NotificationRule)(nil).Active())
}

func TestNotificationRuleTimezone(t *testing.T) {
	assert.Equal(t, "UTC", (&NotificationRule{}).Timezone())
	r := &NotificationRule{TriggerConfig: &TriggerConfig{Timezone: "Europe/Berlin"}}
	assert.Equal(t, "Europe/Berlin", r.Timezone())
}

func TestNotificationDispatchableAt(t *testing.T) {
	now := time.Now()
	n := &Notification{Status: StatusPending, PublishStatus: PublishStatusPublish}
	assert.True(t, n.DispatchableAt(now))

	past := now.Add(-time.Minute)
	n.ScheduledFor = &past
	assert.True(t, n.DispatchableAt(now))

	// Exactly due counts as dispatchable; only strictly future does not.
	n.ScheduledFor = &now
	assert.True(t, n.DispatchableAt(now))
	future := now.Add(time.Minute)
	n.ScheduledFor = &future
	assert.False(t, n.DispatchableAt(now))

	n.ScheduledFor = nil
	n.Status = StatusProcessing
	assert.False(t, n.DispatchableAt(now))
	n.Status = StatusPending
	n.Deactivated = true
	assert.False(t, n.DispatchableAt(now))
}

func TestTemplateResolvable(t *testing.T) {
	global := &Template{PublishStatus: PublishStatusPublish}
	assert.True(t, global.Resolvable(nil))
	assert.True(t, global.Resolvable(tenantPtr("acme")))

	scoped := &Template{PublishStatus: PublishStatusPublish, Tenant: tenantPtr("acme")}
	assert.True(t, scoped.Resolvable(tenantPtr("acme")))
	assert.False(t, scoped.Resolvable(tenantPtr("globex")))
	assert.False(t, scoped.Resolvable(nil))

	draft := &Template{PublishStatus: PublishStatusDraft}
	assert.False(t, draft.Resolvable(nil))
}

func TestTenantKey(t *testing.T) {
	assert.Equal(t, "null", TenantKey(nil))
	assert.Equal(t, "acme", TenantKey(tenantPtr("acme")))
}
