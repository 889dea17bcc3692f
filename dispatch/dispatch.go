// Package dispatch turns a notification record plus its workflow definition
// into one delivery provider trigger: it validates the payload against the
// workflow's schema, renders the override tree, and surfaces the provider's
// transaction id.
package dispatch

import (
	"context"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/xnovu/worker/api"
	"github.com/xnovu/worker/provider"
	"github.com/xnovu/worker/telemetry"
	"github.com/xnovu/worker/template"
)

type (
	// Options configures the adapter.
	Options struct {
		// Provider delivers the triggered events. Required.
		Provider provider.Provider
		// Renderer expands template calls inside override strings. Optional;
		// without it override strings are only interpolated.
		Renderer *template.Renderer
		// Logger defaults to a noop logger.
		Logger telemetry.Logger
	}

	// Adapter dispatches notification records through the delivery provider.
	Adapter struct {
		provider provider.Provider
		renderer *template.Renderer
		logger   telemetry.Logger
	}
)

// New constructs an Adapter.
func New(opts Options) (*Adapter, error) {
	if opts.Provider == nil {
		return nil, api.Errorf(api.KindConfig, "dispatch: provider is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Adapter{provider: opts.Provider, renderer: opts.Renderer, logger: logger}, nil
}

// Dispatch sends the record through the provider and returns the provider's
// transaction id. Channel resolution prefers the record's own channels over
// the workflow's defaults; override string leaves are rendered against the
// record payload and channel bodies sanitized before the trigger.
func (a *Adapter) Dispatch(ctx context.Context, record *api.Notification, workflow *api.WorkflowDefinition) (string, error) {
	if record == nil {
		return "", api.Errorf(api.KindValidation, "dispatch: nil notification record")
	}
	if workflow == nil {
		return "", api.Errorf(api.KindWorkflowNotFound, "dispatch: notification %d has no workflow definition", record.ID)
	}
	if len(record.Recipients) == 0 {
		return "", api.Errorf(api.KindNoRecipients, "dispatch: notification %d has no recipients", record.ID)
	}

	if err := ValidatePayload(record.Payload, workflow.PayloadSchema); err != nil {
		return "", err
	}

	channels := ResolveChannels(record, workflow)
	overrides := a.renderOverrides(ctx, record)

	a.logger.Debug(ctx, "dispatching notification",
		"notification_id", record.ID,
		"workflow_key", workflow.WorkflowKey,
		"tenant", api.TenantKey(record.Tenant),
		"channels", len(channels),
		"recipients", len(record.Recipients),
	)

	res, err := a.provider.Trigger(ctx, provider.TriggerRequest{
		WorkflowKey: workflow.WorkflowKey,
		Recipients:  record.Recipients,
		Payload:     record.Payload,
		Overrides:   overrides,
	})
	if err != nil {
		return "", err
	}
	if !res.Acknowledged {
		return "", api.Errorf(api.KindProviderTransient,
			"dispatch: provider did not acknowledge notification %d", record.ID)
	}
	return res.TransactionID, nil
}

// ResolveChannels returns the channels the record should reach: the record's
// own list when set, else the workflow's defaults, else IN_APP.
func ResolveChannels(record *api.Notification, workflow *api.WorkflowDefinition) []api.Channel {
	if len(record.Channels) > 0 {
		return record.Channels
	}
	if len(workflow.DefaultChannels) > 0 {
		return workflow.DefaultChannels
	}
	return []api.Channel{api.ChannelInApp}
}

// renderOverrides expands the record's override tree and sanitizes the
// result per channel. With a renderer every string leaf goes through full
// template expansion against the record payload; without one the leaves are
// only interpolated.
func (a *Adapter) renderOverrides(ctx context.Context, record *api.Notification) map[string]any {
	if record.Overrides == nil {
		return nil
	}
	if a.renderer == nil {
		return sanitizeOverrides(RenderOverrides(record.Overrides, record.Payload))
	}
	out, _ := mapStrings(record.Overrides, func(s string) string {
		return a.renderer.Render(ctx, s, record.Payload, record.Tenant).Output
	}).(map[string]any)
	return sanitizeOverrides(out)
}

// channelSanitizers maps override channel keys to the sanitizer applied to
// their body-like leaves before the trigger leaves the process.
var channelSanitizers = map[string]func(string) string{
	"email":  template.StripDangerous,
	"in_app": template.SanitizeInApp,
	"chat":   template.SanitizeInApp,
	"sms":    template.StripHTML,
	"push":   template.StripHTML,
}

// bodyKeys are the override leaves that carry renderable markup.
var bodyKeys = []string{"body", "content"}

// sanitizeOverrides applies each channel's sanitizer to the body-like leaves
// of its override subtree. The tree is the freshly rendered copy, so in-place
// mutation never touches the record.
func sanitizeOverrides(overrides map[string]any) map[string]any {
	for channel, sanitize := range channelSanitizers {
		sub, ok := overrides[channel].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range bodyKeys {
			if s, ok := sub[key].(string); ok {
				sub[key] = sanitize(s)
			}
		}
	}
	return overrides
}

// RenderOverrides walks the override tree and interpolates every string leaf
// against vars. Non-string leaves pass through verbatim; the input tree is
// never mutated.
func RenderOverrides(overrides map[string]any, vars map[string]any) map[string]any {
	if overrides == nil {
		return nil
	}
	out, _ := mapStrings(overrides, func(s string) string {
		return template.Interpolate(s, vars)
	}).(map[string]any)
	return out
}

// mapStrings rebuilds the value tree with fn applied to every string leaf.
func mapStrings(v any, fn func(string) string) any {
	switch tv := v.(type) {
	case string:
		return fn(tv)
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, child := range tv {
			out[k] = mapStrings(child, fn)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, child := range tv {
			out[i] = mapStrings(child, fn)
		}
		return out
	default:
		return v
	}
}

// ValidatePayload checks the payload against the workflow's JSON schema. A
// nil or empty schema validates everything. Failures are MalformedPayload so
// the workflow retry policy treats them as terminal.
func ValidatePayload(payload map[string]any, schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schema); err != nil {
		return api.WrapError(api.KindMalformedPayload, err, "dispatch: add schema resource")
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return api.WrapError(api.KindMalformedPayload, err, "dispatch: compile payload schema")
	}
	var doc any = map[string]any{}
	if payload != nil {
		doc = payload
	}
	if err := compiled.Validate(doc); err != nil {
		return api.WrapError(api.KindMalformedPayload, err, "dispatch: payload schema validation")
	}
	return nil
}
