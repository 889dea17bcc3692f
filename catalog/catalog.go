// Package catalog defines the Catalog Access Layer: typed, tenant-scoped
// reads and narrow writes against the Catalog DB. It is the only component
// permitted to speak to the database; every other package goes through the
// Store interface so tests can substitute in-memory fakes.
package catalog

import (
	"context"
	"time"

	"goa.design/clue/health"

	"github.com/xnovu/worker/api"
)

// ScheduledMode selects how PollNotifications filters on scheduled_for.
type ScheduledMode string

const (
	// ScheduledAny applies no scheduled_for filter.
	ScheduledAny ScheduledMode = "any"
	// ScheduledEligibleNow selects records with no scheduled_for or one at or
	// before the current instant.
	ScheduledEligibleNow ScheduledMode = "eligible_now"
	// ScheduledOnly selects records carrying a scheduled_for at or before the
	// current instant, ordered scheduled_for asc.
	ScheduledOnly ScheduledMode = "only_scheduled"
)

type (
	// PollOptions parameterizes PollNotifications. Results are tenant-scoped
	// when Tenant is set, restricted to published non-deactivated records,
	// ordered by (updated_at, id) ascending, or (scheduled_for, id) under
	// ScheduledOnly, and capped at BatchSize.
	PollOptions struct {
		// BatchSize caps the result set; valid range 1..1000.
		BatchSize int
		// Tenant restricts results to one tenant when non-nil.
		Tenant *string
		// UpdatedAfter restricts results to rows with updated_at strictly
		// greater than the watermark when non-nil.
		UpdatedAfter *time.Time
		// IncludeProcessed widens the status filter from {PENDING, FAILED}
		// to every status.
		IncludeProcessed bool
		// Statuses narrows the status filter further when non-empty; it
		// never widens beyond what IncludeProcessed allows.
		Statuses []api.NotificationStatus
		// ScheduledMode selects the scheduled_for predicate.
		ScheduledMode ScheduledMode
	}

	// StatusUpdate carries the optional fields written together with a
	// status transition.
	StatusUpdate struct {
		// ErrorDetails replaces the record's error_details when non-nil.
		ErrorDetails *api.ErrorDetails
		// TransactionID records the Delivery Provider transaction when
		// non-nil.
		TransactionID *string
		// Processed stamps processed_at with the current time.
		Processed bool
	}

	// Store is the engine's view of the Catalog DB. All list reads sort
	// deterministically so paging is stable. Transport-level failures are
	// reported as api.KindCatalogUnavailable; constraint rejections as
	// api.KindValidation. Lookups return (nil, nil) when no row matches.
	Store interface {
		health.Pinger

		// GetActiveCronRules returns CRON rules joined with their workflow
		// definitions, restricted to pairs where both sides pass their
		// eligibility invariants. A nil tenant returns every tenant's rules.
		GetActiveCronRules(ctx context.Context, tenant *string) ([]*api.NotificationRule, error)

		// GetRulesUpdatedSince returns CRON rules (active or not) with
		// updated_at strictly after since, ordered updated_at asc, id asc.
		// Feeds the incremental reconciliation loop.
		GetRulesUpdatedSince(ctx context.Context, since time.Time) ([]*api.NotificationRule, error)

		// GetRule returns the rule or nil when absent.
		GetRule(ctx context.Context, id int64, tenant *string) (*api.NotificationRule, error)

		// GetWorkflowDefinition tries the tenant scope then the global scope
		// and returns the first eligible definition, or nil.
		GetWorkflowDefinition(ctx context.Context, id int64, tenant *string) (*api.WorkflowDefinition, error)

		// GetNotification returns the record by id regardless of status, or
		// nil when absent.
		GetNotification(ctx context.Context, id int64) (*api.Notification, error)

		// PollNotifications returns dispatch candidates per opts.
		PollNotifications(ctx context.Context, opts PollOptions) ([]*api.Notification, error)

		// CreateNotification inserts the record and returns it with its
		// generated id and timestamps.
		CreateNotification(ctx context.Context, n *api.Notification) (*api.Notification, error)

		// UpdateNotificationStatus transitions the record to newStatus iff
		// its current status is one of prior. Returns false when no row was
		// updated, meaning another worker already transitioned it.
		UpdateNotificationStatus(ctx context.Context, id int64, newStatus api.NotificationStatus, prior []api.NotificationStatus, upd StatusUpdate) (bool, error)

		// GetLastRuleUpdate returns the max updated_at across CRON rules,
		// or the zero time when there are none. Seeds the reconciliation
		// watermark on process start.
		GetLastRuleUpdate(ctx context.Context, tenant *string) (time.Time, error)

		// GetTemplateByKey resolves a template by key in the tenant scope
		// with global fallback, or nil when absent.
		GetTemplateByKey(ctx context.Context, key string, tenant *string) (*api.Template, error)

		// Shutdown releases the connection pool. Idempotent.
		Shutdown(ctx context.Context) error
	}
)
