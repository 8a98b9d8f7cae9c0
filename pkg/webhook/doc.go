// Package webhook verifies inbound webhook deliveries from payment providers.
//
// Providers sign the raw request body with a shared secret using
// HMAC-SHA256 and send the hex digest in a header. Verification must run
// against the exact bytes received, before any JSON decoding, and uses a
// constant-time comparison:
//
//	body, err := webhook.ReadBody(r, webhook.DefaultMaxBodySize)
//	if err != nil {
//	    return err
//	}
//	if err := webhook.Verify(secret, body, r.Header.Get("X-Razorpay-Signature")); err != nil {
//	    return err // respond 400
//	}
//
// Sign produces the same digest and is used by tests and local tooling to
// build valid deliveries.
package webhook
