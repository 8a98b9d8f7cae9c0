// Package subscription manages the lifecycle of a single paid subscription
// per user: free trial, checkout through a hosted payment link, activation
// by provider webhooks, cancellation and expiry.
//
// The package is organized around a few cooperating parts:
//
//   - Evaluator decides feature access from a user record and a point in time.
//     It is pure and never writes.
//   - Service is the user-facing API: sessions, trial, create, cancel, manual
//     charge, status, feature validation and usage recording.
//   - Reconciler applies verified webhook events to records, deduplicates
//     redeliveries and dead-letters failures for later replay.
//   - ReliableProvider wraps any BillingProvider with retries, a circuit
//     breaker and per-attempt timeouts.
//   - Maintenance registers periodic cleanup jobs on a scheduler.
//
// All status changes go through one lifecycle table. Provider events never
// move a record down the hierarchy active > authenticated > created, so a
// late "created" webhook cannot undo an activation.
//
// # Usage
//
//	store := subscription.NewMemoryStore()
//	provider := subscription.NewReliableProvider(razorpayClient, subscription.DefaultReliabilityConfig())
//
//	svc, err := subscription.NewService(ctx, cfg.PlanSource(), provider, store,
//		subscription.WithConfig(cfg),
//		subscription.WithLogger(log),
//	)
//	if err != nil {
//		return err
//	}
//
//	res, err := svc.CreateSubscription(ctx, userID, subscription.PlanMonthly)
//	if err != nil {
//		switch subscription.KindOf(err) {
//		case subscription.KindConflict:
//			// subscription.CodeOf(err) tells which conflict
//		case subscription.KindUpstreamUnavailable:
//			// provider down, retry later
//		}
//	}
//	redirect(res.PaymentLink)
//
// Webhooks are handed to the reconciler with the raw body and signature:
//
//	rec := subscription.NewReconciler(store, provider, subscription.NewMemoryDeadLetterQueue())
//	_, err := rec.HandleWebhook(ctx, subscription.WebhookDelivery{
//		Payload:   body,
//		Signature: r.Header.Get("X-Razorpay-Signature"),
//	})
//
// # Errors
//
// Every error returned by the package maps to a Kind through KindOf.
// Conflicts carry a machine code (CodeOf) and client details (DetailsOf).
package subscription
