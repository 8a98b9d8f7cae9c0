package subscription

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/subkit/pkg/resilience"
	"github.com/dmitrymomot/subkit/pkg/session"
	"github.com/dmitrymomot/subkit/pkg/webhook"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		kind Kind
	}{
		{nil, ""},
		{ErrInvalidPlanType, KindInvalidInput},
		{fmt.Errorf("wrap: %w", ErrUserNotFound), KindNotFound},
		{ErrNoPendingInvoice, KindNotFound},
		{ErrEmailTaken, KindConflict},
		{errors.Join(ErrProviderUnavailable, errors.New("eof")), KindUpstreamUnavailable},
		{resilience.ErrCircuitOpen, KindUpstreamUnavailable},
		{resilience.ErrAttemptsExhausted, KindUpstreamUnavailable},
		{webhook.ErrInvalidSignature, KindWebhookVerificationFailed},
		{ErrWebhookProcessingFailed, KindWebhookProcessingFailed},
		{session.ErrSessionExpired, KindUnauthorized},
		{errors.New("disk full"), KindInternal},
		{newError(KindNotFound, ErrSubscriptionNotFound), KindNotFound},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, KindOf(tc.err), "%v", tc.err)
	}
}

func TestConflictError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("create: %w", conflict(CodeRecentSubscription, ErrRecentSubscription, map[string]any{"payment_link": "u1"}))

	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, CodeRecentSubscription, CodeOf(err))
	assert.Equal(t, "u1", DetailsOf(err)["payment_link"])
	assert.ErrorIs(t, err, ErrRecentSubscription)
	assert.Contains(t, err.Error(), "RECENT_SUBSCRIPTION_EXISTS")

	assert.Empty(t, CodeOf(ErrUserNotFound))
	assert.Nil(t, DetailsOf(ErrUserNotFound))
}
