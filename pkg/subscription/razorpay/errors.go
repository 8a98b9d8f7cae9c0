package razorpay

import "errors"

var (
	ErrMissingCredentials   = errors.New("razorpay key id and secret are required")
	ErrMissingWebhookSecret = errors.New("razorpay webhook secret is required")
	ErrMissingPlanID        = errors.New("razorpay plan id is required")
	ErrUnexpectedResponse   = errors.New("unexpected razorpay response")
)
