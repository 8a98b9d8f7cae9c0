package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/subkit/pkg/httpserver"
	"github.com/dmitrymomot/subkit/pkg/logger"
	"github.com/dmitrymomot/subkit/pkg/subscription"
)

// Reconciler is the webhook side of the subscription core.
// *subscription.Reconciler satisfies it.
type Reconciler interface {
	HandleWebhook(ctx context.Context, d subscription.WebhookDelivery) (*subscription.WebhookResult, error)
	DeadLetters(ctx context.Context, limit int) ([]subscription.DeadLetter, error)
	Replay(ctx context.Context, limit int) (subscription.ReplayReport, error)
}

// Option configures the router.
type Option func(*api)

// WithConfig sets the admin token and request limits.
func WithConfig(cfg Config) Option {
	return func(a *api) {
		a.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *api) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithWebhookHeaders names the headers carrying the provider signature and
// delivery id.
func WithWebhookHeaders(signature, eventID string) Option {
	return func(a *api) {
		if signature != "" {
			a.signatureHeader = signature
		}
		a.eventIDHeader = eventID
	}
}

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *api) {
		if g != nil {
			a.gatherer = g
		}
	}
}

// WithHealthChecks adds readiness dependencies to /health/ready.
func WithHealthChecks(checks ...httpserver.Check) Option {
	return func(a *api) {
		a.checks = append(a.checks, checks...)
	}
}

type api struct {
	svc             subscription.Service
	reconciler      Reconciler
	cfg             Config
	logger          *slog.Logger
	signatureHeader string
	eventIDHeader   string
	gatherer        prometheus.Gatherer
	checks          []httpserver.Check
}

const defaultSignatureHeader = "X-Webhook-Signature"

// New builds the HTTP handler. Panics if svc or reconciler is nil.
func New(svc subscription.Service, reconciler Reconciler, opts ...Option) http.Handler {
	if svc == nil {
		panic("httpapi: subscription service is required")
	}
	if reconciler == nil {
		panic("httpapi: reconciler is required")
	}

	a := &api{
		svc:             svc,
		reconciler:      reconciler,
		logger:          logger.Discard(),
		signatureHeader: defaultSignatureHeader,
		gatherer:        prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cfg.DeadLetterPageSize <= 0 {
		a.cfg.DeadLetterPageSize = 100
	}
	a.logger = a.logger.With(logger.Component("httpapi"))

	return a.routes()
}

func (a *api) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)

	r.Get("/health/live", httpserver.HealthCheckHandler(a.logger))
	r.Get("/health/ready", httpserver.HealthCheckHandler(a.logger, a.checks...))
	r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	r.Post("/webhooks/billing", a.handleWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/plans", a.handlePlans)

		r.Group(func(r chi.Router) {
			r.Use(a.requireSession)
			r.Post("/logout", a.handleLogout)
			r.Post("/trial", a.handleTrial)

			r.Get("/subscription", a.handleStatus)
			r.Post("/subscription", a.handleCreate)
			r.Post("/subscription/cancel", a.handleCancel)
			r.Get("/subscription/pending-payment", a.handlePendingPayment)
			r.Post("/subscription/charge", a.handleCharge)
			r.Post("/subscription/refresh", a.handleRefresh)

			r.Get("/features/{feature}", a.handleValidateFeature)
			r.Post("/features/{feature}/usage", a.handleRecordUsage)
		})
	})

	if a.cfg.AdminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(a.requireAdmin)
			r.Post("/sessions", a.handleLogin)
			r.Get("/dead-letters", a.handleDeadLetters)
			r.Post("/dead-letters/replay", a.handleReplay)
			r.Post("/subscriptions/{subscriptionID}/charge", a.handleChargeBySubscription)
		})
	}

	return r
}
