package subscription

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/subkit/pkg/session"
)

// maxProcessedEvents bounds the dedupe keys kept on a record.
const maxProcessedEvents = 50

// User is the persistent record. It is plain data: all behaviour lives in
// the evaluator, service and reconciler.
type User struct {
	ID           uuid.UUID          `json:"id"`
	Identity     Identity           `json:"identity"`
	Session      session.Session    `json:"session"`
	Trial        *Trial             `json:"trial,omitempty"`
	Subscription SubscriptionRecord `json:"subscription"`
	Features     Features           `json:"features"`
	Usage        Usage              `json:"usage"`
	Version      int64              `json:"version"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Identity is what the identity provider told us about the user.
type Identity struct {
	ExternalID string `json:"external_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Picture    string `json:"picture,omitempty"`
	Verified   bool   `json:"verified"`
}

// Trial is the free trial window.
type Trial struct {
	Active  bool      `json:"active"`
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}

// SubscriptionRecord mirrors the provider-side subscription.
type SubscriptionRecord struct {
	ExternalID           string        `json:"external_id,omitempty"`
	PlanID               string        `json:"plan_id,omitempty"`
	PlanType             PlanType      `json:"plan_type,omitempty"`
	Status               Status        `json:"status"`
	CurrentPeriodStart   *time.Time    `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time    `json:"current_period_end,omitempty"`
	PaymentLink          string        `json:"payment_link,omitempty"`
	PaymentLinkCreatedAt *time.Time    `json:"payment_link_created_at,omitempty"`
	CancelAtCycleEnd     bool          `json:"cancel_at_cycle_end,omitempty"`
	CancelledAt          *time.Time    `json:"cancelled_at,omitempty"`
	EndedAt              *time.Time    `json:"ended_at,omitempty"`
	LastChargeAttemptAt  *time.Time    `json:"last_charge_attempt_at,omitempty"`
	LastWebhook          *WebhookAudit `json:"last_webhook,omitempty"`
	PaymentHistory       []Payment     `json:"payment_history,omitempty"`
	ProcessedEvents      []string      `json:"processed_events,omitempty"`
}

// WebhookAudit records the last webhook applied to the record.
type WebhookAudit struct {
	Type            EventType `json:"type"`
	ProviderEventID string    `json:"provider_event_id,omitempty"`
	ReceivedAt      time.Time `json:"received_at"`
	PreviousStatus  Status    `json:"previous_status"`
	PreservedStatus bool      `json:"preserved_status"`
	Notes           string    `json:"notes,omitempty"`
}

// Payment is one entry of the append-only payment history.
type Payment struct {
	PaymentID     string    `json:"payment_id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	PaidAt        time.Time `json:"paid_at"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// Features are boolean gates derived from status.
type Features struct {
	AutoScroll      bool `json:"auto_scroll"`
	Analytics       bool `json:"analytics"`
	CustomSettings  bool `json:"custom_settings"`
	PrioritySupport bool `json:"priority_support"`
}

// Enabled reports the gate for f.
func (f Features) Enabled(feature Feature) bool {
	switch feature {
	case FeatureAutoScroll:
		return f.AutoScroll
	case FeatureAnalytics:
		return f.Analytics
	case FeatureCustomSettings:
		return f.CustomSettings
	case FeaturePrioritySupport:
		return f.PrioritySupport
	default:
		return false
	}
}

func baseFeatures() Features {
	return Features{AutoScroll: true, Analytics: true}
}

func allFeatures() Features {
	return Features{AutoScroll: true, Analytics: true, CustomSettings: true, PrioritySupport: true}
}

// Usage holds counters for usage recording.
type Usage struct {
	TotalUses    int64         `json:"total_uses"`
	DailyBuckets []UsageBucket `json:"daily_buckets,omitempty"`
}

// UsageBucket counts uses for one UTC day (YYYY-MM-DD).
type UsageBucket struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// Clone returns a deep copy of u so callers can mutate it freely.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Trial != nil {
		t := *u.Trial
		c.Trial = &t
	}
	s := &c.Subscription
	s.CurrentPeriodStart = cloneTime(u.Subscription.CurrentPeriodStart)
	s.CurrentPeriodEnd = cloneTime(u.Subscription.CurrentPeriodEnd)
	s.PaymentLinkCreatedAt = cloneTime(u.Subscription.PaymentLinkCreatedAt)
	s.CancelledAt = cloneTime(u.Subscription.CancelledAt)
	s.EndedAt = cloneTime(u.Subscription.EndedAt)
	s.LastChargeAttemptAt = cloneTime(u.Subscription.LastChargeAttemptAt)
	if u.Subscription.LastWebhook != nil {
		w := *u.Subscription.LastWebhook
		s.LastWebhook = &w
	}
	s.PaymentHistory = append([]Payment(nil), u.Subscription.PaymentHistory...)
	s.ProcessedEvents = append([]string(nil), u.Subscription.ProcessedEvents...)
	c.Usage.DailyBuckets = append([]UsageBucket(nil), u.Usage.DailyBuckets...)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
