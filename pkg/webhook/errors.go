package webhook

import "errors"

var (
	ErrMissingSecret     = errors.New("webhook signing secret is required")
	ErrMissingSignature  = errors.New("webhook signature is missing")
	ErrInvalidSignature  = errors.New("webhook signature mismatch")
	ErrMalformedEncoding = errors.New("webhook signature is not valid hex")
	ErrEmptyPayload      = errors.New("webhook payload is empty")
	ErrPayloadTooLarge   = errors.New("webhook payload exceeds size limit")
)

// IsVerificationError reports whether err means the delivery must be refused.
func IsVerificationError(err error) bool {
	return errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrMalformedEncoding) ||
		errors.Is(err, ErrEmptyPayload)
}
