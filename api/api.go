// Package api defines the domain types shared by every component of the
// notification engine: workflow definitions, notification rules, notification
// records, templates, and the error taxonomy. The Catalog DB and the Schedule
// Store are the systems of record; these types are the engine's operative
// view of them.
//
// Tenancy: every entity except global templates and global workflow
// definitions is scoped by an opaque tenant identifier (`enterprise_id`). A
// nil tenant means "global". Read paths must always carry the tenant they
// were asked for; cross-tenant reads are prohibited.
package api

import (
	"time"
)

type (
	// Channel identifies a delivery channel for a rendered notification.
	Channel string

	// WorkflowType distinguishes statically templated workflows from
	// dynamically rendered ones.
	WorkflowType string

	// PublishStatus is the publish state of workflows, rules, notifications
	// and templates.
	PublishStatus string

	// NotificationStatus is the dispatch lifecycle state of a notification
	// record. Transitions are linearized at the Catalog DB by conditional
	// updates; see catalog.Store.UpdateNotificationStatus.
	NotificationStatus string

	// WorkflowDefinition describes a multi-channel notification workflow.
	// A definition is eligible only when published and not deactivated.
	WorkflowDefinition struct {
		ID                int64
		Tenant            *string
		WorkflowKey       string
		Name              string
		Description       string
		WorkflowType      WorkflowType
		DefaultChannels   []Channel
		TemplateOverrides map[Channel]string
		PayloadSchema     map[string]any
		PublishStatus     PublishStatus
		Deactivated       bool
		CreatedAt         time.Time
		UpdatedAt         time.Time
	}

	// TriggerConfig carries the CRON trigger settings of a rule. Timezone
	// defaults to UTC when empty.
	TriggerConfig struct {
		Cron     string `json:"cron"`
		Timezone string `json:"timezone,omitempty"`
	}

	// NotificationRule is a declarative trigger that materializes
	// notification records on a CRON schedule.
	NotificationRule struct {
		ID             int64
		Tenant         *string
		BusinessID     string
		Name           string
		WorkflowID     int64
		TriggerType    string
		TriggerConfig  *TriggerConfig
		RulePayload    map[string]any
		PublishStatus  PublishStatus
		Deactivated    bool
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	// ErrorDetails is the structured failure record persisted alongside a
	// FAILED notification. Retries counts dispatch attempts so the
	// failed-retry loop can enforce its ceiling.
	ErrorDetails struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
		Retries int    `json:"retries"`
	}

	// Notification is a concrete record that, once dispatchable, is rendered
	// and sent. Overrides is an arbitrary JSON tree whose string leaves are
	// themselves templates rendered against Payload at dispatch time.
	Notification struct {
		ID            int64
		Tenant        *string
		BusinessID    string
		Name          string
		Description   string
		Payload       map[string]any
		Recipients    []string
		WorkflowID    int64
		RuleID        *int64
		Channels      []Channel
		Overrides     map[string]any
		PublishStatus PublishStatus
		Deactivated   bool
		Status        NotificationStatus
		ScheduledFor  *time.Time
		TransactionID *string
		ErrorDetails  *ErrorDetails
		ProcessedAt   *time.Time
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}

	// Template is a channel-specific template body with an optional subject.
	// A template resolves in a tenant context when published, not
	// deactivated, and its tenant is nil or matches the context tenant.
	Template struct {
		ID              int64
		Tenant          *string
		TemplateKey     string
		Name            string
		SubjectTemplate *string
		BodyTemplate    string
		ChannelType     Channel
		Variables       map[string]string
		PublishStatus   PublishStatus
		Deactivated     bool
	}
)

const (
	ChannelEmail Channel = "EMAIL"
	ChannelInApp Channel = "IN_APP"
	ChannelSMS   Channel = "SMS"
	ChannelPush  Channel = "PUSH"
	ChannelChat  Channel = "CHAT"
)

const (
	WorkflowTypeStatic  WorkflowType = "STATIC"
	WorkflowTypeDynamic WorkflowType = "DYNAMIC"
)

const (
	PublishStatusDraft   PublishStatus = "DRAFT"
	PublishStatusPublish PublishStatus = "PUBLISH"
)

const (
	StatusPending    NotificationStatus = "PENDING"
	StatusProcessing NotificationStatus = "PROCESSING"
	StatusSent       NotificationStatus = "SENT"
	StatusFailed     NotificationStatus = "FAILED"
	StatusRetracted  NotificationStatus = "RETRACTED"
)

// TriggerTypeCron is the only trigger type the reconciliation loop handles.
const TriggerTypeCron = "CRON"

// Eligible reports whether the workflow definition may be used: published
// and not deactivated.
func (w *WorkflowDefinition) Eligible() bool {
	return w != nil && w.PublishStatus == PublishStatusPublish && !w.Deactivated
}

// Active reports whether the rule should have a live schedule: published,
// not deactivated, CRON-triggered, and carrying a non-empty expression. The
// referenced workflow definition's own eligibility is checked by the caller
// since it requires a catalog read.
func (r *NotificationRule) Active() bool {
	if r == nil || r.Deactivated || r.PublishStatus != PublishStatusPublish {
		return false
	}
	if r.TriggerType != TriggerTypeCron {
		return false
	}
	return r.TriggerConfig != nil && r.TriggerConfig.Cron != ""
}

// Timezone returns the rule's CRON timezone, defaulting to UTC.
func (r *NotificationRule) Timezone() string {
	if r.TriggerConfig == nil || r.TriggerConfig.Timezone == "" {
		return "UTC"
	}
	return r.TriggerConfig.Timezone
}

// DispatchableAt reports whether the notification may be admitted at the
// given instant: published, not deactivated, PENDING, and not scheduled for
// the future. A ScheduledFor exactly equal to now is dispatchable.
func (n *Notification) DispatchableAt(now time.Time) bool {
	if n == nil || n.Deactivated || n.PublishStatus != PublishStatusPublish {
		return false
	}
	if n.Status != StatusPending {
		return false
	}
	return n.ScheduledFor == nil || !n.ScheduledFor.After(now)
}

// Resolvable reports whether the template can serve the given tenant:
// published, not deactivated, and global or tenant-matching.
func (t *Template) Resolvable(tenant *string) bool {
	if t == nil || t.Deactivated || t.PublishStatus != PublishStatusPublish {
		return false
	}
	if t.Tenant == nil {
		return true
	}
	return tenant != nil && *t.Tenant == *tenant
}

// TenantKey renders a tenant pointer as the string used in deterministic
// identifiers: the tenant value, or "null" for global scope.
func TenantKey(tenant *string) string {
	if tenant == nil {
		return "null"
	}
	return *tenant
}
