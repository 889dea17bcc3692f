// Package workflows holds the durable workflows and activities executed by
// the Schedule Store: the rule-scheduled workflow fired by CRON schedules,
// and the notification-trigger workflow started by the polling pipeline.
package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/xnovu/worker/api"
	"github.com/xnovu/worker/schedule"
)

const (
	// RuleScheduledWorkflowName is the workflow started by CRON schedules.
	RuleScheduledWorkflowName = "rule-scheduled"
	// NotificationTriggerWorkflowName is the workflow started per admitted
	// notification.
	NotificationTriggerWorkflowName = "notification-trigger"

	// CreateRuleNotificationActivityName materializes a rule-fired record.
	CreateRuleNotificationActivityName = "create-rule-notification"
	// DispatchNotificationActivityName renders and delivers one record.
	DispatchNotificationActivityName = "dispatch-notification"
)

type (
	// RuleScheduledInput is the argument a firing CRON schedule passes to its
	// workflow.
	RuleScheduledInput struct {
		RuleID      int64          `json:"rule_id"`
		Tenant      *string        `json:"tenant"`
		BusinessID  string         `json:"business_id,omitempty"`
		WorkflowID  int64          `json:"workflow_id"`
		RulePayload map[string]any `json:"rule_payload,omitempty"`
	}

	// RuleScheduledResult reports what the rule-scheduled activity did.
	RuleScheduledResult struct {
		// Skipped is true when the rule was no longer active at fire time.
		Skipped bool `json:"skipped"`
		// NotificationID is the created record's id when not skipped.
		NotificationID int64 `json:"notification_id,omitempty"`
	}

	// NotificationTriggerInput identifies the record to dispatch.
	NotificationTriggerInput struct {
		NotificationID int64   `json:"notification_id"`
		Tenant         *string `json:"tenant,omitempty"`
	}

	// NotificationTriggerResult reports the dispatch outcome.
	NotificationTriggerResult struct {
		// Status is the record's final status after the attempt.
		Status api.NotificationStatus `json:"status"`
		// TransactionID is the provider correlation id on success.
		TransactionID string `json:"transaction_id,omitempty"`
	}
)

// DispatchRetryPolicy is the activity retry policy for dispatch attempts.
// Record lookups gone missing, retracted records, and payloads the provider
// can never accept do not retry.
func DispatchRetryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    5 * time.Minute,
		MaximumAttempts:    10,
		NonRetryableErrorTypes: []string{
			string(api.KindNotFound),
			string(api.KindRetracted),
			string(api.KindMalformedPayload),
		},
	}
}

// RuleFiredRetryPolicy is the activity retry policy for rule-fired record
// creation. Attempts are kept low since the schedule fires again on its own.
func RuleFiredRetryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    time.Minute,
		MaximumAttempts:    3,
		NonRetryableErrorTypes: []string{
			string(api.KindValidation),
			string(api.KindRuleNotFound),
			string(api.KindWorkflowNotFound),
			string(api.KindNoRecipients),
		},
	}
}

// RuleScheduledWorkflow runs the rule-scheduled activity once per schedule
// fire. All catalog work happens in the activity so the workflow itself stays
// deterministic.
func RuleScheduledWorkflow(ctx workflow.Context, in RuleScheduledInput) (RuleScheduledResult, error) {
	actx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy:         RuleFiredRetryPolicy(),
	})
	var res RuleScheduledResult
	err := workflow.ExecuteActivity(actx, CreateRuleNotificationActivityName, in).Get(actx, &res)
	return res, err
}

// NotificationTriggerWorkflow drives the dispatch of one admitted record.
// The Schedule Store's activity retry policy owns the backoff between
// attempts; the activity persists FAILED between them.
func NotificationTriggerWorkflow(ctx workflow.Context, in NotificationTriggerInput) (NotificationTriggerResult, error) {
	actx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy:         DispatchRetryPolicy(),
	})
	var res NotificationTriggerResult
	err := workflow.ExecuteActivity(actx, DispatchNotificationActivityName, in).Get(actx, &res)
	return res, err
}

// Register installs both workflows and both activities on the schedule
// store's worker registry.
func Register(store interface {
	RegisterWorkflow(name string, fn any) error
	RegisterActivity(name string, fn any) error
}, acts *Activities) error {
	if err := store.RegisterWorkflow(RuleScheduledWorkflowName, RuleScheduledWorkflow); err != nil {
		return err
	}
	if err := store.RegisterWorkflow(NotificationTriggerWorkflowName, NotificationTriggerWorkflow); err != nil {
		return err
	}
	if err := store.RegisterActivity(CreateRuleNotificationActivityName, acts.CreateRuleNotification); err != nil {
		return err
	}
	return store.RegisterActivity(DispatchNotificationActivityName, acts.DispatchNotification)
}

// RuleScheduleAction builds the schedule action that starts the
// rule-scheduled workflow for the given rule.
func RuleScheduleAction(rule *api.NotificationRule, taskQueue string) schedule.Action {
	return schedule.Action{
		WorkflowType: RuleScheduledWorkflowName,
		WorkflowID:   schedule.RuleScheduleID(rule.ID, rule.Tenant) + "-workflow",
		TaskQueue:    taskQueue,
		Args: RuleScheduledInput{
			RuleID:      rule.ID,
			Tenant:      rule.Tenant,
			BusinessID:  rule.BusinessID,
			WorkflowID:  rule.WorkflowID,
			RulePayload: rule.RulePayload,
		},
	}
}
