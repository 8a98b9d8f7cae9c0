package razorpay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrymomot/subkit/pkg/subscription"
	"github.com/dmitrymomot/subkit/pkg/webhook"
)

const noteUserID = "user_id"

var eventTypes = map[string]subscription.EventType{
	"subscription.created":       subscription.EventSubscriptionCreated,
	"subscription.authenticated": subscription.EventSubscriptionAuthenticated,
	"subscription.activated":     subscription.EventSubscriptionActivated,
	"subscription.charged":       subscription.EventSubscriptionCharged,
	"subscription.cancelled":     subscription.EventSubscriptionCancelled,
	"subscription.completed":     subscription.EventSubscriptionCompleted,
	"subscription.pending":       subscription.EventPaymentFailed,
	"subscription.halted":        subscription.EventPaymentFailed,
	"payment.failed":             subscription.EventPaymentFailed,
}

// VerifyWebhookSignature checks the HMAC of the raw body.
func (c *Client) VerifyWebhookSignature(payload []byte, signature string) error {
	return webhook.Verify(c.webhookSecret, payload, signature)
}

type envelope struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Subscription *struct {
			Entity subscriptionEntity `json:"entity"`
		} `json:"subscription"`
		Payment *struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ParseWebhookEvent normalizes a verified delivery. Razorpay sends the
// delivery id only as a header, so ProviderEventID stays empty.
func (c *Client) ParseWebhookEvent(payload []byte) (*subscription.Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", subscription.ErrInvalidWebhookPayload, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event type", subscription.ErrInvalidWebhookPayload)
	}

	ev := &subscription.Event{RawType: env.Event}
	if t, ok := eventTypes[env.Event]; ok {
		ev.Type = t
	} else {
		ev.Type = subscription.EventType(env.Event)
	}

	if env.Payload.Subscription != nil {
		ev.Subscription = env.Payload.Subscription.Entity.normalize()
	}
	if env.Payload.Payment != nil {
		p := env.Payload.Payment.Entity
		ev.Payment = p.normalize()
		// payment.failed may arrive without the subscription entity.
		if ev.Subscription == nil && p.SubscriptionID != "" {
			ev.Subscription = &subscription.ProviderSubscription{
				ID:       p.SubscriptionID,
				UserHint: p.Notes[noteUserID],
			}
		}
	}
	return ev, nil
}

type subscriptionEntity struct {
	ID           string `json:"id"`
	PlanID       string `json:"plan_id"`
	Status       string `json:"status"`
	CurrentStart *int64 `json:"current_start"`
	CurrentEnd   *int64 `json:"current_end"`
	ShortURL     string `json:"short_url"`
	Notes        notes  `json:"notes"`
}

func (s subscriptionEntity) normalize() *subscription.ProviderSubscription {
	return &subscription.ProviderSubscription{
		ID:           s.ID,
		PlanID:       s.PlanID,
		Status:       s.Status,
		CurrentStart: unixTime(s.CurrentStart),
		CurrentEnd:   unixTime(s.CurrentEnd),
		ShortURL:     s.ShortURL,
		UserHint:     s.Notes[noteUserID],
	}
}

type paymentEntity struct {
	ID               string `json:"id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	CreatedAt        int64  `json:"created_at"`
	ErrorDescription string `json:"error_description"`
	SubscriptionID   string `json:"subscription_id"`
	Notes            notes  `json:"notes"`
}

func (p paymentEntity) normalize() *subscription.ProviderPayment {
	var created time.Time
	if p.CreatedAt > 0 {
		created = time.Unix(p.CreatedAt, 0).UTC()
	}
	return &subscription.ProviderPayment{
		ID:            p.ID,
		Amount:        p.Amount,
		Currency:      strings.ToUpper(p.Currency),
		Status:        p.Status,
		CreatedAt:     created,
		FailureReason: p.ErrorDescription,
	}
}

func unixTime(sec *int64) *time.Time {
	if sec == nil || *sec <= 0 {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}

// notes decodes provider notes, which arrive as an empty array when unset.
type notes map[string]string

func (n *notes) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || bytes.HasPrefix(b, []byte("[")) {
		*n = nil
		return nil
	}

	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(notes, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	*n = out
	return nil
}
