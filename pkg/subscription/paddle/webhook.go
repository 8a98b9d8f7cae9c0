package paddle

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrymomot/subkit/pkg/subscription"
)

const customUserID = "user_id"

type period struct {
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

type eventData struct {
	ID                   string         `json:"id"`
	Status               string         `json:"status"`
	SubscriptionID       string         `json:"subscription_id"`
	CustomData           map[string]any `json:"custom_data"`
	CurrencyCode         string         `json:"currency_code"`
	CurrentBillingPeriod *period        `json:"current_billing_period"`
	BillingPeriod        *period        `json:"billing_period"`
	Items                []struct {
		PriceID string `json:"price_id"`
		Price   struct {
			ID string `json:"id"`
		} `json:"price"`
	} `json:"items"`
	Details *struct {
		Totals struct {
			GrandTotal string `json:"grand_total"`
		} `json:"totals"`
	} `json:"details"`
	Payments []struct {
		Status    string `json:"status"`
		ErrorCode string `json:"error_code"`
	} `json:"payments"`
}

type envelope struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OccurredAt string    `json:"occurred_at"`
	Data       eventData `json:"data"`
}

// ParseWebhookEvent normalizes a verified Paddle notification.
func (p *Provider) ParseWebhookEvent(payload []byte) (*subscription.Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", subscription.ErrInvalidWebhookPayload, err)
	}
	if env.EventType == "" {
		return nil, fmt.Errorf("%w: missing event type", subscription.ErrInvalidWebhookPayload)
	}

	ev := &subscription.Event{
		Type:            mapEventType(env.EventType, env.Data),
		RawType:         env.EventType,
		ProviderEventID: env.EventID,
	}
	switch {
	case strings.HasPrefix(env.EventType, "subscription."):
		ev.Subscription = subscriptionFromEvent(env.Data)
	case strings.HasPrefix(env.EventType, "transaction."):
		ev.Subscription = transactionSubscription(env.Data)
		ev.Payment = paymentFromEvent(env)
	}
	return ev, nil
}

func mapEventType(raw string, d eventData) subscription.EventType {
	switch raw {
	case "subscription.created":
		if d.Status == "active" || d.Status == "trialing" {
			return subscription.EventSubscriptionActivated
		}
		return subscription.EventSubscriptionCreated
	case "subscription.activated", "subscription.resumed":
		return subscription.EventSubscriptionActivated
	case "subscription.past_due":
		return subscription.EventPaymentFailed
	case "subscription.canceled":
		return subscription.EventSubscriptionCancelled
	case "subscription.updated":
		switch mapStatus(d.Status) {
		case subscription.ProviderStatusActive:
			return subscription.EventSubscriptionActivated
		case subscription.ProviderStatusPastDue:
			return subscription.EventPaymentFailed
		case subscription.ProviderStatusCancelled:
			return subscription.EventSubscriptionCancelled
		}
	case "transaction.completed":
		// One-off checkouts without a subscription are not ours.
		if d.SubscriptionID != "" {
			return subscription.EventSubscriptionCharged
		}
	case "transaction.payment_failed":
		// A declined checkout can be retried by the user and does not move the record.
		if d.SubscriptionID != "" {
			return subscription.EventPaymentFailed
		}
	}
	return subscription.EventType(raw)
}

func subscriptionFromEvent(d eventData) *subscription.ProviderSubscription {
	ps := &subscription.ProviderSubscription{
		ID:       d.ID,
		Status:   mapStatus(d.Status),
		UserHint: customString(d.CustomData, customUserID),
	}
	if len(d.Items) > 0 {
		ps.PlanID = d.Items[0].Price.ID
	}
	if d.CurrentBillingPeriod != nil {
		ps.CurrentStart = parseTime(d.CurrentBillingPeriod.StartsAt)
		ps.CurrentEnd = parseTime(d.CurrentBillingPeriod.EndsAt)
	}
	return ps
}

// transactionSubscription binds a transaction event to its subscription,
// or to the checkout transaction itself before the subscription exists.
func transactionSubscription(d eventData) *subscription.ProviderSubscription {
	id := d.SubscriptionID
	if id == "" {
		id = d.ID
	}
	ps := &subscription.ProviderSubscription{
		ID:       id,
		UserHint: customString(d.CustomData, customUserID),
	}
	if len(d.Items) > 0 {
		ps.PlanID = d.Items[0].PriceID
		if ps.PlanID == "" {
			ps.PlanID = d.Items[0].Price.ID
		}
	}
	if d.BillingPeriod != nil {
		ps.CurrentStart = parseTime(d.BillingPeriod.StartsAt)
		ps.CurrentEnd = parseTime(d.BillingPeriod.EndsAt)
	}
	return ps
}

func paymentFromEvent(env envelope) *subscription.ProviderPayment {
	d := env.Data
	pay := &subscription.ProviderPayment{
		ID:       d.ID,
		Currency: strings.ToUpper(d.CurrencyCode),
		Status:   d.Status,
	}
	if t := parseTime(env.OccurredAt); t != nil {
		pay.CreatedAt = *t
	}
	if d.Details != nil {
		if amount, err := strconv.ParseInt(d.Details.Totals.GrandTotal, 10, 64); err == nil {
			pay.Amount = amount
		}
	}
	for _, attempt := range d.Payments {
		if attempt.ErrorCode != "" {
			pay.FailureReason = attempt.ErrorCode
			break
		}
	}
	return pay
}
