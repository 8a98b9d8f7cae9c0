// Package logger builds *slog.Logger instances for subkit services.
//
// New assembles a text or JSON handler from functional options and wraps it
// in ContextHandler, which runs ContextExtractor callbacks on every
// record. The HTTP layer registers an extractor for the chi request id so
// that webhook failures and provider errors carry a correlation id.
//
//	log := logger.New(
//	    logger.WithEnvironment(cfg.Env, "subkit"),
//	    logger.WithContextExtractors(httpapi.RequestIDExtractor),
//	)
//	log.ErrorContext(ctx, "webhook processing failed",
//	    logger.EventType("subscription.charged"),
//	    logger.SubscriptionID("sub_A"),
//	    logger.Error(err),
//	)
//
// Attribute helpers (Error, UserID, SubscriptionID, Status, PreviousStatus,
// CircuitState, Job and others) keep key names consistent across packages.
// Helpers taking optional values return an empty slog.Attr for nil or empty
// input, so call sites need no extra checks.
package logger
