package subscription

import (
	"math"
	"time"
)

const day = 24 * time.Hour

// Decision is the outcome of an access evaluation.
type Decision struct {
	Allowed       bool           `json:"allowed"`
	AccessType    AccessType     `json:"access_type"`
	DaysRemaining int            `json:"days_remaining"`
	Reason        DenyReason     `json:"reason,omitempty"`
	ExpiryDate    *time.Time     `json:"expiry_date,omitempty"`
	Processing    ProcessingView `json:"processing"`
	Source        DecisionSource `json:"source"`
	Warning       string         `json:"warning,omitempty"`
}

// ProcessingView tells the client how to present a subscription that is
// still being activated.
type ProcessingView struct {
	IsProcessing      bool            `json:"is_processing"`
	State             ProcessingState `json:"processing_state,omitempty"`
	Message           string          `json:"processing_message,omitempty"`
	ShowRefreshButton bool            `json:"show_refresh_button"`
	AllowTrialAccess  bool            `json:"allow_trial_access"`
}

// Evaluator decides access from a record and a point in time. It never
// mutates the record.
type Evaluator struct {
	grace         time.Duration
	paymentWindow time.Duration
}

// NewEvaluator creates an evaluator with the grace windows from cfg.
func NewEvaluator(cfg Config) Evaluator {
	return Evaluator{
		grace:         cfg.ProcessingGrace,
		paymentWindow: cfg.PaymentProcessingWindow,
	}
}

// Evaluate returns the decision for feature at now. An empty feature asks
// for base access.
func (e Evaluator) Evaluate(u *User, now time.Time, feature Feature) Decision {
	d := Decision{Source: SourceRecord}
	if u == nil {
		d.AccessType = AccessExpired
		d.Reason = ReasonTrialExpired
		return d
	}

	sub := u.Subscription
	d.Processing = e.processingView(u, now)

	if sub.Status == StatusActive && sub.CurrentPeriodEnd != nil && now.Before(*sub.CurrentPeriodEnd) {
		d.Allowed = true
		d.AccessType = AccessActive
		d.DaysRemaining = daysUntil(now, *sub.CurrentPeriodEnd)
		d.ExpiryDate = timePtr(*sub.CurrentPeriodEnd)
		return d
	}

	if trialValid(u, now) {
		d.Allowed = true
		d.AccessType = AccessTrial
		if sub.Status.IsProcessing() {
			d.AccessType = AccessTrialWithProcessing
		}
		d.DaysRemaining = daysUntil(now, u.Trial.EndAt)
		d.ExpiryDate = timePtr(u.Trial.EndAt)
		return restrictPremium(d, feature)
	}

	if sub.Status.IsProcessing() {
		if start := processingStart(sub); start != nil && now.Sub(*start) < e.grace {
			end := start.Add(e.grace)
			d.Allowed = true
			d.AccessType = AccessSubscriptionProcessing
			d.DaysRemaining = daysUntil(now, end)
			d.ExpiryDate = &end
			return restrictPremium(d, feature)
		}
	}

	d.AccessType = AccessExpired
	switch {
	case sub.Status == StatusPastDue:
		d.Reason = ReasonPaymentPastDue
	case sub.Status == StatusActive || sub.Status.IsTerminal():
		d.Reason = ReasonSubscriptionEnded
	default:
		d.Reason = ReasonTrialExpired
	}
	return d
}

// restrictPremium denies premium features outside a paid subscription.
func restrictPremium(d Decision, feature Feature) Decision {
	if !feature.IsPremium() {
		return d
	}
	d.Allowed = false
	d.AccessType = AccessPremiumRequired
	d.Reason = ReasonPremiumFeature
	return d
}

func (e Evaluator) processingView(u *User, now time.Time) ProcessingView {
	sub := u.Subscription
	v := ProcessingView{AllowTrialAccess: trialValid(u, now)}

	start := processingStart(sub)
	switch {
	case sub.Status != StatusActive && sub.ExternalID != "" && !sub.Status.IsTerminal() &&
		start != nil && now.Sub(*start) < e.paymentWindow:
		v.IsProcessing = true
		v.State = ProcessingPaymentProcessing
		v.Message = "Your payment is being processed. This usually takes a few minutes."
	case sub.Status == StatusCreated:
		v.IsProcessing = true
		v.State = ProcessingCreated
		v.Message = "Complete the payment to activate your subscription."
	case sub.Status == StatusAuthenticated:
		v.IsProcessing = true
		v.State = ProcessingAuthenticated
		v.Message = "Payment authorized. Your subscription is activating, refresh shortly."
	}
	v.ShowRefreshButton = v.IsProcessing
	return v
}

func trialValid(u *User, now time.Time) bool {
	return u.Trial != nil && u.Trial.Active && !now.After(u.Trial.EndAt)
}

// processingStart is when the provider started processing the subscription.
func processingStart(sub SubscriptionRecord) *time.Time {
	if sub.CurrentPeriodStart != nil {
		return sub.CurrentPeriodStart
	}
	return sub.PaymentLinkCreatedAt
}

// daysUntil counts started days between now and t.
func daysUntil(now, t time.Time) int {
	if !t.After(now) {
		return 0
	}
	return int(math.Ceil(float64(t.Sub(now)) / float64(day)))
}
