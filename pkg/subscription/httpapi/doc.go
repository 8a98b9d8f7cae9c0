// Package httpapi exposes the subscription Service and Reconciler over HTTP.
//
// Routes:
//
//	GET  /api/v1/plans                         plan table (public)
//	POST /api/v1/logout                        revoke the session
//	POST /api/v1/trial                         start the free trial
//	GET  /api/v1/subscription                  status view
//	POST /api/v1/subscription                  create {plan_type}
//	POST /api/v1/subscription/cancel           cancel {at_cycle_end}
//	GET  /api/v1/subscription/pending-payment  resumable payment link
//	POST /api/v1/subscription/charge           charge an authenticated subscription
//	POST /api/v1/subscription/refresh          reconcile with the provider
//	GET  /api/v1/features/{feature}            feature gate
//	POST /api/v1/features/{feature}/usage      record one use
//	POST /webhooks/billing                     provider webhook ingress
//
// User routes take "Authorization: Bearer <session token>". When the session
// is extended inside its refresh window the response carries
// X-Session-Refreshed and X-Session-Expires-At.
//
// Operator routes under /admin take the ADMIN_TOKEN bearer and are mounted
// only when the token is configured: session issuing for the identity
// provider, the dead-letter list and replay, and a manual charge by
// provider subscription id.
//
// Successful responses are {"data": ...}. Failures are
// {"error": {"kind", "code", "message", "details"}} with the status derived
// from subscription.KindOf.
package httpapi
