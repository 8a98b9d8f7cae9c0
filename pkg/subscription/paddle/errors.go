package paddle

import "errors"

var (
	ErrMissingAPIKey        = errors.New("paddle API key is required")
	ErrMissingWebhookSecret = errors.New("paddle webhook secret is required")
	ErrInvalidEnvironment   = errors.New("invalid paddle environment")
	ErrMissingPriceID       = errors.New("paddle price id is required")
	ErrNoCheckoutURL        = errors.New("no checkout URL returned from paddle")
)
