package subscription

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/subkit/pkg/clock"
	"github.com/dmitrymomot/subkit/pkg/logger"
	"github.com/dmitrymomot/subkit/pkg/resilience"
)

// ReliabilityConfig tunes retries, the circuit breaker and call timeouts.
type ReliabilityConfig struct {
	RetryAttempts    int           `env:"PROVIDER_RETRY_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay   time.Duration `env:"PROVIDER_RETRY_BASE_DELAY" envDefault:"2s"`
	BreakerThreshold int           `env:"PROVIDER_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerTimeout   time.Duration `env:"PROVIDER_BREAKER_TIMEOUT" envDefault:"60s"`
	Timeout          time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"15s"`
}

// DefaultReliabilityConfig returns 3 attempts backing off 2s/4s, a breaker
// opening after 5 failed calls for 60s and a 15s per-attempt timeout.
func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		RetryAttempts:    3,
		RetryBaseDelay:   2 * time.Second,
		BreakerThreshold: 5,
		BreakerTimeout:   60 * time.Second,
		Timeout:          15 * time.Second,
	}
}

// ReliableProvider wraps a BillingProvider with retry, a circuit breaker
// and per-attempt timeouts. Breaker accounting happens once per logical
// call, after retries. Client errors count as success because the provider
// answered.
type ReliableProvider struct {
	next    BillingProvider
	breaker *resilience.CircuitBreaker
	policy  resilience.Policy
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// ReliableOption configures a ReliableProvider.
type ReliableOption func(*reliableOptions)

type reliableOptions struct {
	clock   clock.Clock
	sleep   resilience.SleepFunc
	logger  *slog.Logger
	metrics *Metrics
}

// WithReliabilityClock sets the clock used by the circuit breaker.
func WithReliabilityClock(c clock.Clock) ReliableOption {
	return func(o *reliableOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithRetrySleep replaces the backoff wait, mostly for tests.
func WithRetrySleep(fn resilience.SleepFunc) ReliableOption {
	return func(o *reliableOptions) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// WithReliabilityLogger sets the logger.
func WithReliabilityLogger(l *slog.Logger) ReliableOption {
	return func(o *reliableOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithReliabilityMetrics records provider calls and breaker state.
func WithReliabilityMetrics(m *Metrics) ReliableOption {
	return func(o *reliableOptions) {
		o.metrics = m
	}
}

// NewReliableProvider wraps next. Panics if next is nil.
func NewReliableProvider(next BillingProvider, cfg ReliabilityConfig, opts ...ReliableOption) *ReliableProvider {
	if next == nil {
		panic("subscription: billing provider cannot be nil")
	}
	o := reliableOptions{clock: clock.System(), logger: logger.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	r := &ReliableProvider{
		next:    next,
		timeout: cfg.Timeout,
		logger:  o.logger.With(logger.Component("billing_provider")),
		metrics: o.metrics,
	}
	r.breaker = resilience.NewCircuitBreaker(
		resilience.WithFailureThreshold(cfg.BreakerThreshold),
		resilience.WithRecoveryTimeout(cfg.BreakerTimeout),
		resilience.WithNow(o.clock.Now),
		resilience.WithStateChangeHook(func(from, to resilience.CircuitState) {
			r.logger.Warn("provider circuit state changed",
				slog.String("from", from.String()),
				logger.CircuitState(to.String()),
			)
			r.metrics.circuitState(to)
		}),
	)
	r.policy = resilience.Policy{
		MaxAttempts: cfg.RetryAttempts,
		Backoff: resilience.ExponentialBackoff{
			InitialInterval: cfg.RetryBaseDelay,
			Multiplier:      2,
		},
		Sleep: o.sleep,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			r.logger.Debug("retrying provider call",
				logger.RetryCount(attempt),
				logger.Duration(delay),
				logger.Error(err),
			)
		},
	}
	return r
}

// Available reports whether calls are currently let through.
func (r *ReliableProvider) Available() bool {
	return r.breaker.State() != resilience.StateOpen
}

// CircuitState returns the breaker state.
func (r *ReliableProvider) CircuitState() resilience.CircuitState {
	return r.breaker.State()
}

func (r *ReliableProvider) CreateSubscription(ctx context.Context, req CreateRequest) (*ProviderSubscription, error) {
	var out *ProviderSubscription
	err := r.call(ctx, "create_subscription", func(ctx context.Context) error {
		var err error
		out, err = r.next.CreateSubscription(ctx, req)
		return err
	})
	return out, err
}

func (r *ReliableProvider) CancelSubscription(ctx context.Context, subscriptionID string, atCycleEnd bool) (*ProviderSubscription, error) {
	var out *ProviderSubscription
	err := r.call(ctx, "cancel_subscription", func(ctx context.Context) error {
		var err error
		out, err = r.next.CancelSubscription(ctx, subscriptionID, atCycleEnd)
		return err
	})
	return out, err
}

func (r *ReliableProvider) FetchSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	var out *ProviderSubscription
	err := r.call(ctx, "fetch_subscription", func(ctx context.Context) error {
		var err error
		out, err = r.next.FetchSubscription(ctx, subscriptionID)
		return err
	})
	return out, err
}

func (r *ReliableProvider) FetchPendingInvoices(ctx context.Context, subscriptionID string) ([]Invoice, error) {
	var out []Invoice
	err := r.call(ctx, "fetch_pending_invoices", func(ctx context.Context) error {
		var err error
		out, err = r.next.FetchPendingInvoices(ctx, subscriptionID)
		return err
	})
	return out, err
}

func (r *ReliableProvider) ChargeInvoice(ctx context.Context, invoiceID string) error {
	return r.call(ctx, "charge_invoice", func(ctx context.Context) error {
		return r.next.ChargeInvoice(ctx, invoiceID)
	})
}

// VerifyWebhookSignature is local and bypasses the breaker.
func (r *ReliableProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	return r.next.VerifyWebhookSignature(payload, signature)
}

// ParseWebhookEvent is local and bypasses the breaker.
func (r *ReliableProvider) ParseWebhookEvent(payload []byte) (*Event, error) {
	return r.next.ParseWebhookEvent(payload)
}

func (r *ReliableProvider) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if !r.breaker.Allow() {
		r.metrics.providerCall(op, "circuit_open")
		return errors.Join(ErrProviderUnavailable, resilience.ErrCircuitOpen)
	}

	err := resilience.Retry(ctx, r.policy, func(ctx context.Context) error {
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		return fn(ctx)
	})

	switch {
	case err == nil:
		r.breaker.RecordSuccess()
		r.metrics.providerCall(op, "success")
		return nil
	case resilience.IsPermanent(err):
		r.breaker.RecordSuccess()
		r.metrics.providerCall(op, "rejected")
		return classifyPermanent(err)
	case ctx.Err() != nil:
		r.metrics.providerCall(op, "cancelled")
		return err
	default:
		r.breaker.RecordFailure()
		r.metrics.providerCall(op, "failure")
		r.logger.WarnContext(ctx, "provider call failed",
			logger.Operation(op),
			logger.Error(err),
		)
		return errors.Join(ErrProviderUnavailable, err)
	}
}

func classifyPermanent(err error) error {
	if errors.Is(err, ErrUnsupported) {
		return err
	}
	if resilience.StatusCode(err) == http.StatusNotFound {
		return errors.Join(ErrSubscriptionNotFound, err)
	}
	return errors.Join(ErrProviderRejected, err)
}
