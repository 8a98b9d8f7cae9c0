package razorpay_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subkit/pkg/subscription"
	"github.com/dmitrymomot/subkit/pkg/subscription/razorpay"
	"github.com/dmitrymomot/subkit/pkg/webhook"
)

func webhookClient(t *testing.T) *razorpay.Client {
	t.Helper()
	c, err := razorpay.New(razorpay.Config{KeyID: "k", KeySecret: "s", WebhookSecret: "whsec"})
	require.NoError(t, err)
	return c
}

func TestVerifyWebhookSignature(t *testing.T) {
	t.Parallel()

	c := webhookClient(t)
	payload := []byte(`{"event":"subscription.activated"}`)
	sig, err := webhook.Sign("whsec", payload)
	require.NoError(t, err)

	assert.NoError(t, c.VerifyWebhookSignature(payload, sig))
	assert.ErrorIs(t, c.VerifyWebhookSignature(payload, ""), webhook.ErrMissingSignature)
	assert.ErrorIs(t, c.VerifyWebhookSignature([]byte(`{"event":"x"}`), sig), webhook.ErrInvalidSignature)

	other, err := webhook.Sign("another-secret", payload)
	require.NoError(t, err)
	assert.ErrorIs(t, c.VerifyWebhookSignature(payload, other), webhook.ErrInvalidSignature)
}

func TestParseWebhookEvent(t *testing.T) {
	t.Parallel()

	c := webhookClient(t)

	t.Run("subscription event", func(t *testing.T) {
		t.Parallel()
		ev, err := c.ParseWebhookEvent([]byte(`{
			"entity": "event",
			"event": "subscription.activated",
			"contains": ["subscription"],
			"payload": {"subscription": {"entity": {
				"id": "sub_A", "plan_id": "plan_monthly", "status": "active",
				"current_start": 1735862400, "current_end": 1738454400,
				"notes": {"user_id": "u-1", "seats": 3}
			}}},
			"created_at": 1735862500
		}`))
		require.NoError(t, err)
		assert.Equal(t, subscription.EventSubscriptionActivated, ev.Type)
		assert.Equal(t, "subscription.activated", ev.RawType)
		assert.Equal(t, "sub_A", ev.ExternalID())
		assert.Equal(t, "u-1", ev.UserHint())
		assert.Empty(t, ev.ProviderEventID)
		assert.Nil(t, ev.Payment)
		require.NotNil(t, ev.Subscription.CurrentEnd)
		assert.Equal(t, time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC), *ev.Subscription.CurrentEnd)
	})

	t.Run("charged carries payment", func(t *testing.T) {
		t.Parallel()
		ev, err := c.ParseWebhookEvent([]byte(`{
			"event": "subscription.charged",
			"payload": {
				"subscription": {"entity": {"id": "sub_A", "status": "active", "notes": []}},
				"payment": {"entity": {"id": "pay_1", "amount": 99900, "currency": "inr", "status": "captured", "created_at": 1735862400}}
			}
		}`))
		require.NoError(t, err)
		assert.Equal(t, subscription.EventSubscriptionCharged, ev.Type)
		require.NotNil(t, ev.Payment)
		assert.Equal(t, "pay_1", ev.Payment.ID)
		assert.EqualValues(t, 99900, ev.Payment.Amount)
		assert.Equal(t, "INR", ev.Payment.Currency)
		assert.Equal(t, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), ev.Payment.CreatedAt)
		assert.Empty(t, ev.UserHint())
	})

	t.Run("payment failed without subscription entity", func(t *testing.T) {
		t.Parallel()
		ev, err := c.ParseWebhookEvent([]byte(`{
			"event": "payment.failed",
			"payload": {"payment": {"entity": {
				"id": "pay_2", "status": "failed", "subscription_id": "sub_A",
				"error_description": "card declined", "notes": {"user_id": "u-1"}
			}}}
		}`))
		require.NoError(t, err)
		assert.Equal(t, subscription.EventPaymentFailed, ev.Type)
		assert.Equal(t, "sub_A", ev.ExternalID())
		assert.Equal(t, "u-1", ev.UserHint())
		assert.Equal(t, "card declined", ev.Payment.FailureReason)
	})

	t.Run("halted maps to payment failure", func(t *testing.T) {
		t.Parallel()
		ev, err := c.ParseWebhookEvent([]byte(`{"event":"subscription.halted","payload":{"subscription":{"entity":{"id":"sub_A","status":"halted"}}}}`))
		require.NoError(t, err)
		assert.Equal(t, subscription.EventPaymentFailed, ev.Type)
		assert.Equal(t, "subscription.halted", ev.RawType)
	})

	t.Run("unknown event is not handled", func(t *testing.T) {
		t.Parallel()
		ev, err := c.ParseWebhookEvent([]byte(`{"event":"order.paid","payload":{}}`))
		require.NoError(t, err)
		assert.False(t, ev.Type.Handled())
		assert.Equal(t, "order.paid", ev.RawType)
		assert.Empty(t, ev.ExternalID())
	})

	t.Run("invalid payloads", func(t *testing.T) {
		t.Parallel()
		for _, payload := range []string{`not json`, `{}`, `{"event":""}`} {
			_, err := c.ParseWebhookEvent([]byte(payload))
			assert.ErrorIs(t, err, subscription.ErrInvalidWebhookPayload, payload)
		}
	})
}
