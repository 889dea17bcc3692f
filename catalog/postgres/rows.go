package postgres

import (
	"encoding/json"
	"time"

	"github.com/xnovu/worker/api"
)

// Row structs mirror the engine's slice of the catalog schema. JSONB columns
// scan into json.RawMessage and decode lazily so a malformed document in one
// row surfaces as a Validation error naming the column.

type ruleRow struct {
	ID            int64           `db:"id"`
	EnterpriseID  *string         `db:"enterprise_id"`
	BusinessID    string          `db:"business_id"`
	Name          string          `db:"name"`
	WorkflowID    int64           `db:"notification_workflow_id"`
	TriggerType   string          `db:"trigger_type"`
	TriggerConfig json.RawMessage `db:"trigger_config"`
	RulePayload   json.RawMessage `db:"rule_payload"`
	PublishStatus string          `db:"publish_status"`
	Deactivated   bool            `db:"deactivated"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

func (r *ruleRow) toRule() (*api.NotificationRule, error) {
	rule := &api.NotificationRule{
		ID:            r.ID,
		Tenant:        r.EnterpriseID,
		BusinessID:    r.BusinessID,
		Name:          r.Name,
		WorkflowID:    r.WorkflowID,
		TriggerType:   r.TriggerType,
		PublishStatus: api.PublishStatus(r.PublishStatus),
		Deactivated:   r.Deactivated,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if err := decodeJSON(r.TriggerConfig, &rule.TriggerConfig, "trigger_config"); err != nil {
		return nil, err
	}
	if err := decodeJSON(r.RulePayload, &rule.RulePayload, "rule_payload"); err != nil {
		return nil, err
	}
	return rule, nil
}

type workflowRow struct {
	ID                int64           `db:"id"`
	EnterpriseID      *string         `db:"enterprise_id"`
	WorkflowKey       string          `db:"workflow_key"`
	Name              string          `db:"name"`
	Description       *string         `db:"description"`
	WorkflowType      string          `db:"workflow_type"`
	DefaultChannels   json.RawMessage `db:"default_channels"`
	TemplateOverrides json.RawMessage `db:"template_overrides"`
	PayloadSchema     json.RawMessage `db:"payload_schema"`
	PublishStatus     string          `db:"publish_status"`
	Deactivated       bool            `db:"deactivated"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

func (r *workflowRow) toWorkflow() (*api.WorkflowDefinition, error) {
	w := &api.WorkflowDefinition{
		ID:            r.ID,
		Tenant:        r.EnterpriseID,
		WorkflowKey:   r.WorkflowKey,
		Name:          r.Name,
		WorkflowType:  api.WorkflowType(r.WorkflowType),
		PublishStatus: api.PublishStatus(r.PublishStatus),
		Deactivated:   r.Deactivated,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.Description != nil {
		w.Description = *r.Description
	}
	if err := decodeJSON(r.DefaultChannels, &w.DefaultChannels, "default_channels"); err != nil {
		return nil, err
	}
	if err := decodeJSON(r.TemplateOverrides, &w.TemplateOverrides, "template_overrides"); err != nil {
		return nil, err
	}
	if err := decodeJSON(r.PayloadSchema, &w.PayloadSchema, "payload_schema"); err != nil {
		return nil, err
	}
	return w, nil
}

type notificationRow struct {
	ID            int64           `db:"id"`
	EnterpriseID  *string         `db:"enterprise_id"`
	BusinessID    string          `db:"business_id"`
	Name          string          `db:"name"`
	Description   *string         `db:"description"`
	Payload       json.RawMessage `db:"payload"`
	Recipients    json.RawMessage `db:"recipients"`
	WorkflowID    int64           `db:"notification_workflow_id"`
	RuleID        *int64          `db:"notification_rule_id"`
	Channels      json.RawMessage `db:"channels"`
	Overrides     json.RawMessage `db:"overrides"`
	PublishStatus string          `db:"publish_status"`
	Deactivated   bool            `db:"deactivated"`
	Status        string          `db:"notification_status"`
	ScheduledFor  *time.Time      `db:"scheduled_for"`
	TransactionID *string         `db:"transaction_id"`
	ErrorDetails  json.RawMessage `db:"error_details"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

func (r *notificationRow) toNotification() (*api.Notification, error) {
	n := &api.Notification{
		ID:            r.ID,
		Tenant:        r.EnterpriseID,
		BusinessID:    r.BusinessID,
		Name:          r.Name,
		WorkflowID:    r.WorkflowID,
		RuleID:        r.RuleID,
		PublishStatus: api.PublishStatus(r.PublishStatus),
		Deactivated:   r.Deactivated,
		Status:        api.NotificationStatus(r.Status),
		ScheduledFor:  r.ScheduledFor,
		TransactionID: r.TransactionID,
		ProcessedAt:   r.ProcessedAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.Description != nil {
		n.Description = *r.Description
	}
	if err := decodeJSON(r.Payload, &n.Payload, "payload"); err != nil {
		return nil, err
	}
	if err := decodeJSON(r.Recipients, &n.Recipients, "recipients"); err != nil {
		return nil, err
	}
	if err := decodeJSON(r.Channels, &n.Channels, "channels"); err != nil {
		return nil, err
	}
	if err := decodeJSON(r.Overrides, &n.Overrides, "overrides"); err != nil {
		return nil, err
	}
	if err := decodeJSON(r.ErrorDetails, &n.ErrorDetails, "error_details"); err != nil {
		return nil, err
	}
	return n, nil
}

type templateRow struct {
	ID              int64           `db:"id"`
	EnterpriseID    *string         `db:"enterprise_id"`
	TemplateKey     string          `db:"template_key"`
	Name            string          `db:"name"`
	SubjectTemplate *string         `db:"subject_template"`
	BodyTemplate    string          `db:"body_template"`
	ChannelType     string          `db:"channel_type"`
	Variables       json.RawMessage `db:"variables_description"`
	PublishStatus   string          `db:"publish_status"`
	Deactivated     bool            `db:"deactivated"`
}

func (r *templateRow) toTemplate() (*api.Template, error) {
	t := &api.Template{
		ID:              r.ID,
		Tenant:          r.EnterpriseID,
		TemplateKey:     r.TemplateKey,
		Name:            r.Name,
		SubjectTemplate: r.SubjectTemplate,
		BodyTemplate:    r.BodyTemplate,
		ChannelType:     api.Channel(r.ChannelType),
		PublishStatus:   api.PublishStatus(r.PublishStatus),
		Deactivated:     r.Deactivated,
	}
	if err := decodeJSON(r.Variables, &t.Variables, "variables_description"); err != nil {
		return nil, err
	}
	return t, nil
}

func decodeJSON(raw json.RawMessage, dst any, column string) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return api.WrapError(api.KindValidation, err, "decode %s column", column)
	}
	return nil
}
