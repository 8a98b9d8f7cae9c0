// Package razorpay implements subscription.BillingProvider against the
// Razorpay subscriptions REST API.
//
// Requests use HTTP basic auth with the key id and secret. Non-2xx
// responses are returned as *resilience.StatusError so that
// subscription.ReliableProvider can tell rejected requests from transient
// failures:
//
//	client, err := razorpay.New(cfg)
//	if err != nil {
//	    return err
//	}
//	provider := subscription.NewReliableProvider(client, subscription.DefaultReliabilityConfig())
//
// Webhooks are signed with HMAC-SHA256 over the raw body and carry the
// signature in SignatureHeader and the delivery id in EventIDHeader.
// Unknown event types parse successfully and report Handled() == false.
package razorpay
