package webhook_test

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subkit/pkg/webhook"
)

func TestSignAndVerify(t *testing.T) {
	t.Parallel()

	secret := "whsec_test"
	payload := []byte(`{"event":"subscription.activated"}`)

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()

		sig, err := webhook.Sign(secret, payload)
		require.NoError(t, err)
		assert.Len(t, sig, 64)
		assert.NoError(t, webhook.Verify(secret, payload, sig))
	})

	t.Run("upper case hex accepted", func(t *testing.T) {
		t.Parallel()

		sig, err := webhook.Sign(secret, payload)
		require.NoError(t, err)
		assert.NoError(t, webhook.Verify(secret, payload, strings.ToUpper(sig)))
	})

	t.Run("tampered payload", func(t *testing.T) {
		t.Parallel()

		sig, err := webhook.Sign(secret, payload)
		require.NoError(t, err)
		err = webhook.Verify(secret, []byte(`{"event":"subscription.cancelled"}`), sig)
		assert.ErrorIs(t, err, webhook.ErrInvalidSignature)
		assert.True(t, webhook.IsVerificationError(err))
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()

		sig, err := webhook.Sign("other", payload)
		require.NoError(t, err)
		assert.ErrorIs(t, webhook.Verify(secret, payload, sig), webhook.ErrInvalidSignature)
	})

	t.Run("missing signature", func(t *testing.T) {
		t.Parallel()

		assert.ErrorIs(t, webhook.Verify(secret, payload, "  "), webhook.ErrMissingSignature)
	})

	t.Run("not hex", func(t *testing.T) {
		t.Parallel()

		assert.ErrorIs(t, webhook.Verify(secret, payload, "zz-not-hex"), webhook.ErrMalformedEncoding)
	})

	t.Run("missing secret", func(t *testing.T) {
		t.Parallel()

		_, err := webhook.Sign("", payload)
		assert.ErrorIs(t, err, webhook.ErrMissingSecret)
		assert.ErrorIs(t, webhook.Verify("", payload, "00"), webhook.ErrMissingSecret)
		assert.False(t, webhook.IsVerificationError(webhook.ErrMissingSecret))
	})

	t.Run("empty payload", func(t *testing.T) {
		t.Parallel()

		assert.ErrorIs(t, webhook.Verify(secret, nil, "00"), webhook.ErrEmptyPayload)
	})
}

func TestReadBody(t *testing.T) {
	t.Parallel()

	t.Run("reads body", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest("POST", "/webhooks", bytes.NewBufferString(`{"a":1}`))
		body, err := webhook.ReadBody(r, 0)
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, string(body))
	})

	t.Run("too large", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest("POST", "/webhooks", bytes.NewBufferString(strings.Repeat("x", 11)))
		_, err := webhook.ReadBody(r, 10)
		assert.ErrorIs(t, err, webhook.ErrPayloadTooLarge)
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest("POST", "/webhooks", bytes.NewBuffer(nil))
		_, err := webhook.ReadBody(r, 10)
		assert.ErrorIs(t, err, webhook.ErrEmptyPayload)
	})
}
