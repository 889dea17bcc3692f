package workflows

import (
	"context"

	"go.temporal.io/sdk/temporal"

	"github.com/xnovu/worker/api"
	"github.com/xnovu/worker/catalog"
	"github.com/xnovu/worker/dispatch"
	"github.com/xnovu/worker/telemetry"
)

type (
	// ActivitiesOptions configures the activity set.
	ActivitiesOptions struct {
		// Catalog is the Catalog DB access layer. Required.
		Catalog catalog.Store
		// Dispatcher delivers notifications. Required.
		Dispatcher *dispatch.Adapter
		// Logger defaults to a noop logger.
		Logger telemetry.Logger
	}

	// Activities is the activity implementation set registered on the task
	// queue. Every activity is idempotent: the Schedule Store retries them.
	Activities struct {
		catalog    catalog.Store
		dispatcher *dispatch.Adapter
		logger     telemetry.Logger
	}
)

// NewActivities constructs the activity set.
func NewActivities(opts ActivitiesOptions) (*Activities, error) {
	if opts.Catalog == nil {
		return nil, api.Errorf(api.KindConfig, "workflows: catalog store is required")
	}
	if opts.Dispatcher == nil {
		return nil, api.Errorf(api.KindConfig, "workflows: dispatcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Activities{catalog: opts.Catalog, dispatcher: opts.Dispatcher, logger: logger}, nil
}

// CreateRuleNotification materializes a PENDING notification record for a
// fired CRON rule. The polling pipeline picks the record up; this activity
// never dispatches. An inactive rule at fire time is a logged no-op so
// pausing races resolve quietly.
func (a *Activities) CreateRuleNotification(ctx context.Context, in RuleScheduledInput) (RuleScheduledResult, error) {
	if in.Tenant == nil || *in.Tenant == "" {
		return RuleScheduledResult{}, appError(api.Errorf(api.KindValidation,
			"rule %d fired without a tenant", in.RuleID))
	}

	rule, err := a.catalog.GetRule(ctx, in.RuleID, in.Tenant)
	if err != nil {
		return RuleScheduledResult{}, appError(err)
	}
	if rule == nil {
		return RuleScheduledResult{}, appError(api.Errorf(api.KindRuleNotFound,
			"rule %d not found for tenant %s", in.RuleID, *in.Tenant))
	}
	if !rule.Active() {
		a.logger.Info(ctx, "skipping fired schedule for inactive rule",
			"rule_id", rule.ID, "tenant", api.TenantKey(rule.Tenant))
		return RuleScheduledResult{Skipped: true}, nil
	}

	wf, err := a.catalog.GetWorkflowDefinition(ctx, rule.WorkflowID, in.Tenant)
	if err != nil {
		return RuleScheduledResult{}, appError(err)
	}
	if wf == nil {
		return RuleScheduledResult{}, appError(api.Errorf(api.KindWorkflowNotFound,
			"workflow %d not found for rule %d", rule.WorkflowID, rule.ID))
	}

	recipients, err := recipientsFromPayload(in.RulePayload)
	if err != nil {
		return RuleScheduledResult{}, appError(err)
	}

	channels := wf.DefaultChannels
	if len(channels) == 0 {
		channels = []api.Channel{api.ChannelInApp}
	}

	created, err := a.catalog.CreateNotification(ctx, &api.Notification{
		Tenant:        in.Tenant,
		BusinessID:    in.BusinessID,
		Name:          "Scheduled: " + rule.Name,
		Payload:       in.RulePayload,
		Recipients:    recipients,
		WorkflowID:    wf.ID,
		RuleID:        &rule.ID,
		Channels:      channels,
		PublishStatus: api.PublishStatusPublish,
		Status:        api.StatusPending,
	})
	if err != nil {
		return RuleScheduledResult{}, appError(err)
	}

	a.logger.Info(ctx, "created rule-fired notification",
		"rule_id", rule.ID, "notification_id", created.ID,
		"tenant", api.TenantKey(in.Tenant), "recipients", len(recipients))
	return RuleScheduledResult{NotificationID: created.ID}, nil
}

// DispatchNotification renders and delivers one admitted record, then writes
// the outcome back to the catalog. Retries are driven by the Schedule
// Store's activity retry policy; between attempts the record sits FAILED
// with an incremented retry counter.
func (a *Activities) DispatchNotification(ctx context.Context, in NotificationTriggerInput) (NotificationTriggerResult, error) {
	record, err := a.catalog.GetNotification(ctx, in.NotificationID)
	if err != nil {
		return NotificationTriggerResult{}, appError(err)
	}
	if record == nil {
		return NotificationTriggerResult{}, appError(api.Errorf(api.KindNotFound,
			"notification %d not found", in.NotificationID))
	}

	if record.Status != api.StatusProcessing {
		a.logger.Info(ctx, "notification no longer processing, leaving it alone",
			"notification_id", record.ID, "status", string(record.Status))
		return NotificationTriggerResult{Status: record.Status}, nil
	}

	if record.Deactivated || record.PublishStatus != api.PublishStatusPublish {
		if _, err := a.catalog.UpdateNotificationStatus(ctx, record.ID, api.StatusRetracted,
			[]api.NotificationStatus{api.StatusProcessing}, catalog.StatusUpdate{}); err != nil {
			return NotificationTriggerResult{}, appError(err)
		}
		a.logger.Info(ctx, "retracted notification before dispatch",
			"notification_id", record.ID)
		return NotificationTriggerResult{Status: api.StatusRetracted}, nil
	}

	wf, err := a.catalog.GetWorkflowDefinition(ctx, record.WorkflowID, record.Tenant)
	if err != nil {
		return NotificationTriggerResult{}, appError(err)
	}

	txID, dispatchErr := a.dispatcher.Dispatch(ctx, record, wf)
	if dispatchErr != nil {
		return a.recordFailure(ctx, record, dispatchErr)
	}

	if _, err := a.catalog.UpdateNotificationStatus(ctx, record.ID, api.StatusSent,
		[]api.NotificationStatus{api.StatusProcessing},
		catalog.StatusUpdate{TransactionID: &txID, Processed: true}); err != nil {
		return NotificationTriggerResult{}, appError(err)
	}
	a.logger.Info(ctx, "notification dispatched",
		"notification_id", record.ID, "transaction_id", txID)
	return NotificationTriggerResult{Status: api.StatusSent, TransactionID: txID}, nil
}

// recordFailure persists FAILED with structured error details, then returns
// the dispatch error so the Schedule Store's retry policy decides whether to
// try again.
func (a *Activities) recordFailure(ctx context.Context, record *api.Notification, dispatchErr error) (NotificationTriggerResult, error) {
	retries := 0
	if record.ErrorDetails != nil {
		retries = record.ErrorDetails.Retries
	}
	details := &api.ErrorDetails{
		Kind:    string(api.KindOf(dispatchErr)),
		Message: dispatchErr.Error(),
		Retries: retries + 1,
	}
	if _, err := a.catalog.UpdateNotificationStatus(ctx, record.ID, api.StatusFailed,
		[]api.NotificationStatus{api.StatusProcessing},
		catalog.StatusUpdate{ErrorDetails: details}); err != nil {
		a.logger.Error(ctx, err, "persisting dispatch failure",
			"notification_id", record.ID)
	}
	a.logger.Warn(ctx, "notification dispatch failed",
		"notification_id", record.ID, "kind", details.Kind, "retries", details.Retries)
	return NotificationTriggerResult{Status: api.StatusFailed}, appError(dispatchErr)
}

// recipientsFromPayload derives the recipient list from a rule payload: a
// "recipients" array of strings, else a singleton "recipient" string.
func recipientsFromPayload(payload map[string]any) ([]string, error) {
	if list, ok := payload["recipients"].([]any); ok {
		out := make([]string, 0, len(list))
		for _, v := range list {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	if list, ok := payload["recipients"].([]string); ok && len(list) > 0 {
		return list, nil
	}
	if s, ok := payload["recipient"].(string); ok && s != "" {
		return []string{s}, nil
	}
	return nil, api.Errorf(api.KindNoRecipients, "rule payload carries no recipients")
}

// appError converts an engine error into an application error whose type is
// the error kind, so the retry policy's non-retryable type list can match it.
func appError(err error) error {
	if err == nil {
		return nil
	}
	kind := api.KindOf(err)
	if kind == "" {
		return err
	}
	return temporal.NewApplicationError(err.Error(), string(kind))
}
