package subscription

// Status is the local subscription state.
type Status string

const (
	StatusNone          Status = "none"
	StatusTrial         Status = "trial"
	StatusCreated       Status = "created"
	StatusAuthenticated Status = "authenticated"
	StatusActive        Status = "active"
	StatusPastDue       Status = "past_due"
	StatusCancelled     Status = "cancelled"
	StatusExpired       Status = "expired"
	StatusCompleted     Status = "completed"
)

// rank orders statuses for hierarchy preservation:
// active > authenticated > created > {none, trial}.
// Statuses outside the hierarchy return -1.
func rank(s Status) int {
	switch s {
	case StatusNone, StatusTrial, "":
		return 0
	case StatusCreated:
		return 1
	case StatusAuthenticated:
		return 2
	case StatusActive:
		return 3
	default:
		return -1
	}
}

// IsProcessing reports whether the provider has a subscription that is not yet active.
func (s Status) IsProcessing() bool {
	return s == StatusCreated || s == StatusAuthenticated
}

// IsTerminal reports whether the subscription has ended and may be replaced.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusExpired || s == StatusCompleted
}

// PlanType selects a billing period from the plan table.
type PlanType string

const (
	PlanMonthly PlanType = "monthly"
	PlanYearly  PlanType = "yearly"
)

// Valid reports whether t is a known plan type.
func (t PlanType) Valid() bool {
	return t == PlanMonthly || t == PlanYearly
}

// Feature names a gated capability.
type Feature string

const (
	FeatureAutoScroll      Feature = "autoScroll"
	FeatureAnalytics       Feature = "analytics"
	FeatureCustomSettings  Feature = "customSettings"
	FeaturePrioritySupport Feature = "prioritySupport"
)

// IsPremium reports whether the feature requires a paid subscription.
func (f Feature) IsPremium() bool {
	return f == FeatureCustomSettings || f == FeaturePrioritySupport
}

// Valid reports whether f is a known feature.
func (f Feature) Valid() bool {
	switch f {
	case FeatureAutoScroll, FeatureAnalytics, FeatureCustomSettings, FeaturePrioritySupport:
		return true
	default:
		return false
	}
}

// AccessType tags an access decision.
type AccessType string

const (
	AccessActive                 AccessType = "active"
	AccessTrial                  AccessType = "trial"
	AccessTrialWithProcessing    AccessType = "trial_with_processing_subscription"
	AccessSubscriptionProcessing AccessType = "subscription_processing"
	AccessPremiumRequired        AccessType = "premium_required"
	AccessExpired                AccessType = "expired"
)

// DenyReason explains a denied decision.
type DenyReason string

const (
	ReasonTrialExpired      DenyReason = "trial_expired"
	ReasonPremiumFeature    DenyReason = "premium_feature"
	ReasonSubscriptionEnded DenyReason = "subscription_ended"
	ReasonPaymentPastDue    DenyReason = "payment_past_due"
)

// ProcessingState is shown to the client while a subscription activates.
type ProcessingState string

const (
	ProcessingCreated           ProcessingState = "created"
	ProcessingAuthenticated     ProcessingState = "authenticated"
	ProcessingPaymentProcessing ProcessingState = "payment_processing"
)

// DecisionSource tells where an access decision came from.
type DecisionSource string

const (
	SourceRecord     DecisionSource = "record"
	SourceLocalCache DecisionSource = "local_cache"
)

// EventType is a normalized provider webhook event.
type EventType string

const (
	EventSubscriptionCreated       EventType = "subscription.created"
	EventSubscriptionAuthenticated EventType = "subscription.authenticated"
	EventSubscriptionActivated     EventType = "subscription.activated"
	EventSubscriptionCharged       EventType = "subscription.charged"
	EventSubscriptionCancelled     EventType = "subscription.cancelled"
	EventSubscriptionCompleted     EventType = "subscription.completed"
	EventPaymentFailed             EventType = "payment.failed"
)

// Handled reports whether the reconciler acts on this event type.
func (e EventType) Handled() bool {
	_, ok := eventTriggers[e]
	return ok
}

// Critical events get post-commit verification.
func (e EventType) Critical() bool {
	return e == EventSubscriptionActivated || e == EventSubscriptionAuthenticated || e == EventSubscriptionCharged
}

// Money is an amount in the smallest currency unit.
type Money struct {
	Amount   int64  `json:"amount" yaml:"amount"`
	Currency string `json:"currency" yaml:"currency"`
}
