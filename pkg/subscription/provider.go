package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BillingProvider is the outbound contract with the payment provider.
// Implementations report HTTP failures as *resilience.StatusError so the
// reliability layer can tell client errors from transient ones.
type BillingProvider interface {
	// CreateSubscription creates a subscription billed immediately and
	// returns it with the hosted payment link.
	CreateSubscription(ctx context.Context, req CreateRequest) (*ProviderSubscription, error)

	// CancelSubscription cancels now or at the end of the current cycle.
	CancelSubscription(ctx context.Context, subscriptionID string, atCycleEnd bool) (*ProviderSubscription, error)

	FetchSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)

	// FetchPendingInvoices lists invoices of the subscription that are not paid yet.
	FetchPendingInvoices(ctx context.Context, subscriptionID string) ([]Invoice, error)

	ChargeInvoice(ctx context.Context, invoiceID string) error

	// VerifyWebhookSignature must succeed before a payload is parsed.
	VerifyWebhookSignature(payload []byte, signature string) error

	// ParseWebhookEvent normalizes a verified payload. Unknown event types
	// are returned with Handled() == false rather than as errors.
	ParseWebhookEvent(payload []byte) (*Event, error)
}

// CreateRequest describes a subscription to create.
type CreateRequest struct {
	UserID         uuid.UUID
	Email          string
	Name           string
	Plan           Plan
	Quantity       int
	TotalCount     int
	CustomerNotify bool
	Notes          map[string]string
}

// Provider-side subscription statuses.
const (
	ProviderStatusCreated       = "created"
	ProviderStatusAuthenticated = "authenticated"
	ProviderStatusActive        = "active"
	ProviderStatusPending       = "pending"
	ProviderStatusPastDue       = "past_due"
	ProviderStatusHalted        = "halted"
	ProviderStatusCancelled     = "cancelled"
	ProviderStatusCompleted     = "completed"
	ProviderStatusExpired       = "expired"
)

// InvoiceStatusIssued marks an invoice that can be charged.
const InvoiceStatusIssued = "issued"

// ProviderSubscription is the provider's view of a subscription.
type ProviderSubscription struct {
	ID           string
	PlanID       string
	Status       string
	CurrentStart *time.Time
	CurrentEnd   *time.Time
	ShortURL     string
	// UserHint is our user id echoed back through provider metadata, if any.
	UserHint string
}

// Invoice is a provider invoice.
type Invoice struct {
	ID             string
	SubscriptionID string
	Status         string
	Amount         int64
	Currency       string
}

// ProviderPayment is a payment carried by a webhook.
type ProviderPayment struct {
	ID            string
	Amount        int64
	Currency      string
	Status        string
	CreatedAt     time.Time
	FailureReason string
}

// Event is a normalized webhook event.
type Event struct {
	Type            EventType
	RawType         string
	ProviderEventID string
	Subscription    *ProviderSubscription
	Payment         *ProviderPayment
}

// ExternalID returns the provider subscription id carried by the event.
func (e *Event) ExternalID() string {
	if e == nil || e.Subscription == nil {
		return ""
	}
	return e.Subscription.ID
}

// UserHint returns the user id echoed by the provider, if any.
func (e *Event) UserHint() string {
	if e == nil || e.Subscription == nil {
		return ""
	}
	return e.Subscription.UserHint
}

// DedupeKey identifies a delivery. It is empty when the provider gave no event id.
func (e *Event) DedupeKey() string {
	if e == nil || e.ProviderEventID == "" {
		return ""
	}
	return e.ExternalID() + ":" + string(e.Type) + ":" + e.ProviderEventID
}

// triggerForProviderStatus maps a fetched provider status onto the lifecycle.
func triggerForProviderStatus(status string) (Trigger, bool) {
	switch status {
	case ProviderStatusCreated:
		return TriggerCreated, true
	case ProviderStatusAuthenticated:
		return TriggerAuthenticated, true
	case ProviderStatusActive:
		return TriggerActivated, true
	case ProviderStatusPastDue, ProviderStatusHalted, ProviderStatusPending:
		return TriggerPaymentFailed, true
	case ProviderStatusCancelled:
		return TriggerCancelled, true
	case ProviderStatusCompleted, ProviderStatusExpired:
		return TriggerCompleted, true
	default:
		return "", false
	}
}
