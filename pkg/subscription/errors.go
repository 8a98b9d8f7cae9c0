package subscription

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/subkit/pkg/resilience"
	"github.com/dmitrymomot/subkit/pkg/session"
	"github.com/dmitrymomot/subkit/pkg/webhook"
)

var (
	ErrUserNotFound            = errors.New("user not found")
	ErrSubscriptionNotFound    = errors.New("subscription not found")
	ErrEmailTaken              = errors.New("email already registered")
	ErrExternalIDTaken         = errors.New("subscription id already bound to another user")
	ErrIdentityTaken           = errors.New("identity already linked to another user")
	ErrInvalidUserID           = errors.New("invalid user id")
	ErrInvalidPlanType         = errors.New("invalid plan type")
	ErrInvalidFeature          = errors.New("invalid feature")
	ErrInvalidIdentity         = errors.New("identity requires external id and email")
	ErrPlanNotFound            = errors.New("plan not found")
	ErrSubscriptionActive      = errors.New("subscription already active")
	ErrSubscriptionProcessing  = errors.New("subscription is being processed")
	ErrRecentSubscription      = errors.New("subscription recently created")
	ErrNotCancellable          = errors.New("subscription cannot be cancelled in its current state")
	ErrNotAuthenticated        = errors.New("subscription is not awaiting a charge")
	ErrNoPendingInvoice        = errors.New("no issued invoice to charge")
	ErrProviderUnavailable     = errors.New("payment provider unavailable")
	ErrProviderRejected        = errors.New("payment provider rejected the request")
	ErrUnsupported             = errors.New("operation not supported by provider")
	ErrInvalidWebhookPayload   = errors.New("invalid webhook payload")
	ErrWebhookProcessingFailed = errors.New("webhook processing failed")
	ErrConcurrentUpdate        = errors.New("record was modified concurrently")
	ErrDeadLetterNotFound      = errors.New("dead letter not found")
	ErrPlanSource              = errors.New("failed to load plan table")
)

// Kind classifies an error for callers.
type Kind string

const (
	KindInvalidInput              Kind = "INVALID_INPUT"
	KindNotFound                  Kind = "NOT_FOUND"
	KindConflict                  Kind = "CONFLICT"
	KindUpstreamUnavailable       Kind = "UPSTREAM_UNAVAILABLE"
	KindWebhookVerificationFailed Kind = "WEBHOOK_VERIFICATION_FAILED"
	KindWebhookProcessingFailed   Kind = "WEBHOOK_PROCESSING_FAILED"
	KindInternal                  Kind = "INTERNAL"
	KindUnauthorized              Kind = "UNAUTHORIZED"
)

// Conflict codes.
const (
	CodeSubscriptionActive     = "SUBSCRIPTION_ACTIVE"
	CodeSubscriptionPastDue    = "SUBSCRIPTION_PAST_DUE"
	CodeSubscriptionProcessing = "SUBSCRIPTION_PROCESSING"
	CodeRecentSubscription     = "RECENT_SUBSCRIPTION_EXISTS"
	CodeNotCancellable         = "SUBSCRIPTION_NOT_CANCELLABLE"
	CodeNotAuthenticated       = "SUBSCRIPTION_NOT_AUTHENTICATED"
)

// Error is a classified error with optional context for the client.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), Err: err}
}

func conflict(code string, err error, details map[string]any) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: err.Error(), Details: details, Err: err}
}

// KindOf maps any error to its kind. Unknown errors are INTERNAL.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	switch {
	case errors.Is(err, ErrInvalidUserID),
		errors.Is(err, ErrInvalidPlanType),
		errors.Is(err, ErrInvalidFeature),
		errors.Is(err, ErrInvalidIdentity),
		errors.Is(err, ErrPlanNotFound),
		errors.Is(err, ErrProviderRejected),
		errors.Is(err, ErrUnsupported):
		return KindInvalidInput
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrSubscriptionNotFound),
		errors.Is(err, ErrNoPendingInvoice),
		errors.Is(err, ErrDeadLetterNotFound):
		return KindNotFound
	case errors.Is(err, ErrEmailTaken),
		errors.Is(err, ErrExternalIDTaken),
		errors.Is(err, ErrIdentityTaken),
		errors.Is(err, ErrSubscriptionActive),
		errors.Is(err, ErrSubscriptionProcessing),
		errors.Is(err, ErrRecentSubscription),
		errors.Is(err, ErrNotCancellable),
		errors.Is(err, ErrNotAuthenticated),
		errors.Is(err, ErrConcurrentUpdate):
		return KindConflict
	case errors.Is(err, ErrProviderUnavailable),
		resilience.IsCircuitOpen(err),
		errors.Is(err, resilience.ErrAttemptsExhausted):
		return KindUpstreamUnavailable
	case webhook.IsVerificationError(err):
		return KindWebhookVerificationFailed
	case errors.Is(err, ErrWebhookProcessingFailed):
		return KindWebhookProcessingFailed
	case errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, session.ErrSessionExpired):
		return KindUnauthorized
	default:
		return KindInternal
	}
}

// CodeOf returns the machine code attached to err, if any.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// DetailsOf returns the client context attached to err, if any.
func DetailsOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}
