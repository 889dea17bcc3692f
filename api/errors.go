package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures without leaking stack traces across
// component boundaries. Kinds drive retry decisions: loops back off on
// unavailability kinds, activities refuse to retry the non-retryable ones.
type ErrorKind string

const (
	// KindConfig marks invalid or missing configuration. Fatal at startup.
	KindConfig ErrorKind = "Config"
	// KindCatalogUnavailable marks transport-level Catalog DB failures.
	KindCatalogUnavailable ErrorKind = "CatalogUnavailable"
	// KindValidation marks writes rejected by DB constraints.
	KindValidation ErrorKind = "Validation"
	// KindScheduleStoreUnavailable marks retryable Schedule Store failures.
	KindScheduleStoreUnavailable ErrorKind = "ScheduleStoreUnavailable"
	// KindScheduleStoreNotFound marks a missing schedule object; swallowed on
	// delete, converted to a create on update.
	KindScheduleStoreNotFound ErrorKind = "ScheduleStoreNotFound"
	// KindTemplateNotFound marks an unresolvable template key.
	KindTemplateNotFound ErrorKind = "TemplateNotFound"
	// KindTemplateCycle marks rendering aborted by the depth guard.
	KindTemplateCycle ErrorKind = "TemplateCycle"
	// KindTemplateMalformed marks an unparseable template construct.
	KindTemplateMalformed ErrorKind = "TemplateMalformed"
	// KindProviderTransient marks retryable Delivery Provider failures.
	KindProviderTransient ErrorKind = "ProviderTransient"
	// KindProviderPermanent marks non-retryable Delivery Provider failures.
	KindProviderPermanent ErrorKind = "ProviderPermanent"
	// KindMalformedPayload marks a payload the provider can never accept.
	KindMalformedPayload ErrorKind = "MalformedPayload"
	// KindRuleNotFound marks a fired schedule whose rule no longer exists.
	KindRuleNotFound ErrorKind = "RuleNotFound"
	// KindWorkflowNotFound marks a rule whose workflow definition is gone.
	KindWorkflowNotFound ErrorKind = "WorkflowNotFound"
	// KindNoRecipients marks a rule payload with no derivable recipients.
	KindNoRecipients ErrorKind = "NoRecipients"
	// KindNotFound marks a missing notification record.
	KindNotFound ErrorKind = "NotFound"
	// KindRetracted marks a notification withdrawn before dispatch.
	KindRetracted ErrorKind = "Retracted"
	// KindNotInitialized marks use of the engine before Init completed.
	KindNotInitialized ErrorKind = "NotInitialized"
)

// Error is the engine-wide error type carrying a kind and an optional cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Errorf builds an Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an Error around a cause.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the dispatch error may be retried. Unknown
// errors default to retryable so transient infrastructure failures are not
// silently dropped.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindProviderPermanent, KindMalformedPayload, KindValidation,
		KindNotFound, KindRetracted, KindNoRecipients:
		return false
	}
	return true
}
