// Package schedule defines the engine's view of the durable Schedule Store:
// deterministic schedule objects driving CRON-fired workflows, plus
// asynchronous workflow starts with optional delays. The Temporal adapter in
// the temporal subpackage is the production implementation; tests use
// in-memory fakes.
package schedule

import (
	"context"
	"fmt"
	"time"

	"goa.design/clue/health"

	"github.com/xnovu/worker/api"
)

// IDPrefix is the prefix of every schedule id owned by the engine. Schedules
// carrying the prefix that no longer decode to an active rule are orphans
// and get collected by reconciliation.
const IDPrefix = "rule-"

type (
	// Spec is the CRON specification of a schedule.
	Spec struct {
		// CronExpressions holds five-field CRON expressions (minute hour
		// day-of-month month day-of-week, with MON..SUN extensions).
		CronExpressions []string
		// Timezone is an IANA zone name; empty means UTC.
		Timezone string
	}

	// Action describes the workflow started when the schedule fires.
	Action struct {
		// WorkflowType is the registered workflow name.
		WorkflowType string
		// WorkflowID is the base id of started executions.
		WorkflowID string
		// Args is the single argument passed to the workflow.
		Args any
		// TaskQueue is the queue executions are scheduled on.
		TaskQueue string
	}

	// State carries the mutable flags of a schedule.
	State struct {
		// Paused suspends firing without deleting the schedule.
		Paused bool
		// Note explains the most recent state change.
		Note string
	}

	// Schedule is the engine's representation of a schedule object.
	Schedule struct {
		ID     string
		Spec   Spec
		Action Action
		State  State
		// Memo stores small diagnostic fields alongside the schedule.
		Memo map[string]any
	}

	// RetryPolicy mirrors the activity/workflow retry semantics of the
	// store. Zero-valued fields fall back to store defaults.
	RetryPolicy struct {
		InitialInterval        time.Duration
		BackoffCoefficient     float64
		MaximumInterval        time.Duration
		MaximumAttempts        int
		NonRetryableErrorTypes []string
	}

	// StartOptions parameterizes StartWorkflow.
	StartOptions struct {
		// TaskQueue overrides the store's default queue when set.
		TaskQueue string
		// StartDelay defers the first workflow task. Zero starts
		// immediately; the store clamps negatives to zero.
		StartDelay time.Duration
		// RetryPolicy controls workflow-level retries when non-nil.
		RetryPolicy *RetryPolicy
	}

	// WorkflowInfo is the subset of execution metadata the engine reads.
	WorkflowInfo struct {
		ID     string
		RunID  string
		Status string
	}

	// Store is the abstract Schedule Store consumed by reconciliation and
	// polling. Missing schedules surface as api.KindScheduleStoreNotFound;
	// transport failures as api.KindScheduleStoreUnavailable.
	Store interface {
		health.Pinger

		// CreateSchedule creates the schedule. Creation is id-deterministic:
		// creating an already existing id is not an error.
		CreateSchedule(ctx context.Context, sched Schedule) error

		// UpdateSchedule applies mutate to the current schedule state and
		// persists the result.
		UpdateSchedule(ctx context.Context, id string, mutate func(*Schedule) error) error

		// DeleteSchedule removes the schedule.
		DeleteSchedule(ctx context.Context, id string) error

		// ListSchedules returns the ids of schedules whose id carries the
		// given prefix. An empty prefix lists everything.
		ListSchedules(ctx context.Context, prefix string) ([]string, error)

		// GetSchedule returns the schedule or a NotFound error.
		GetSchedule(ctx context.Context, id string) (*Schedule, error)

		// StartWorkflow starts an asynchronous workflow execution and
		// returns its run id.
		StartWorkflow(ctx context.Context, workflowType, id string, args any, opts StartOptions) (string, error)

		// DescribeWorkflow returns execution metadata for the workflow id.
		DescribeWorkflow(ctx context.Context, id string) (*WorkflowInfo, error)

		// EnsureNamespace creates the logical namespace when missing; a
		// no-op for "default".
		EnsureNamespace(ctx context.Context, name string) error
	}
)

// RuleScheduleID derives the deterministic schedule id for a rule. Global
// rules use the literal "null" tenant segment.
func RuleScheduleID(ruleID int64, tenant *string) string {
	return fmt.Sprintf("%s%d-%s", IDPrefix, ruleID, api.TenantKey(tenant))
}
