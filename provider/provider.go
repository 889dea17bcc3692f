// Package provider defines the delivery provider abstraction: the outbound
// boundary that hands a fully resolved notification to the service that
// fans it out to channels.
package provider

import (
	"context"
)

type (
	// TriggerRequest is one delivery request for a provider workflow.
	TriggerRequest struct {
		// WorkflowKey identifies the provider-side workflow to trigger.
		WorkflowKey string
		// Recipients are the subscriber identifiers to deliver to.
		Recipients []string
		// Payload carries the variable bag templates interpolate from.
		Payload map[string]any
		// Overrides carries per-channel content with template placeholders
		// already resolved.
		Overrides map[string]any
	}

	// TriggerResult is the provider's acknowledgement of a trigger.
	TriggerResult struct {
		// Acknowledged reports whether the provider accepted the event.
		Acknowledged bool
		// TransactionID is the provider-side correlation identifier.
		TransactionID string
	}

	// Provider delivers notifications. Implementations classify failures as
	// transient or permanent through the error kinds in the api package.
	Provider interface {
		// Trigger submits one delivery request.
		Trigger(ctx context.Context, req TriggerRequest) (TriggerResult, error)
	}
)
