package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Option configures a Server. Invalid arguments panic at construction.
type Option func(*config)

// StartHook runs once the listener is bound, with its resolved address.
type StartHook func(ctx context.Context, addr string)

// StopHook runs after in-flight requests have drained.
type StopHook func(ctx context.Context)

func WithAddr(addr string) Option {
	if addr == "" {
		panic("httpserver: empty listen address")
	}
	return func(c *config) { c.addr = addr }
}

func positive(name string, d time.Duration) {
	if d <= 0 {
		panic(fmt.Sprintf("httpserver: %s timeout must be positive, got %s", name, d))
	}
}

func WithReadTimeout(d time.Duration) Option {
	positive("read", d)
	return func(c *config) { c.readTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	positive("write", d)
	return func(c *config) { c.writeTimeout = d }
}

func WithIdleTimeout(d time.Duration) Option {
	positive("idle", d)
	return func(c *config) { c.idleTimeout = d }
}

// WithShutdownTimeout bounds how long Shutdown waits for in-flight requests.
func WithShutdownTimeout(d time.Duration) Option {
	positive("shutdown", d)
	return func(c *config) { c.shutdownTimeout = d }
}

// WithServer runs srv instead of a fresh http.Server. Addr and timeouts
// already set on srv are kept; Handler is always replaced.
func WithServer(srv *http.Server) Option {
	if srv == nil {
		panic("httpserver: nil http.Server")
	}
	return func(c *config) { c.server = srv }
}

// WithLogger sets the server logger. Nil keeps the discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

func WithStartHook(h StartHook) Option {
	if h == nil {
		panic("httpserver: nil start hook")
	}
	return func(c *config) { c.startHooks = append(c.startHooks, h) }
}

func WithStopHook(h StopHook) Option {
	if h == nil {
		panic("httpserver: nil stop hook")
	}
	return func(c *config) { c.stopHooks = append(c.stopHooks, h) }
}
