// Package paddle implements subscription.BillingProvider on Paddle Billing.
//
// A subscription starts as a checkout transaction whose URL is handed to
// the user as the payment link. Paddle creates the subscription once the
// transaction is paid; its webhooks carry the user id in custom data so
// the record can be rebound from the transaction id to the subscription id.
//
// Paddle collects past-due payments on its own schedule, so ChargeInvoice
// reports subscription.ErrUnsupported.
package paddle
