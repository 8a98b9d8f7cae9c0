// Package httpserver runs the subkit HTTP surface with graceful shutdown.
//
// Server.Run listens on the configured address and blocks until the context
// is cancelled, then drains in-flight requests within the shutdown timeout.
// Callers own signal handling:
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("http server failed", logger.Error(err))
//	}
//
// HealthCheckHandler serves liveness and readiness probes. Readiness runs
// each named Check (database, cache, document store) and answers 503 when
// any of them fails.
//
// Listen failures are wrapped with ErrStart and drain failures with
// ErrShutdown.
package httpserver
