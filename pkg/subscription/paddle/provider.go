package paddle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/dmitrymomot/subkit/pkg/resilience"
	"github.com/dmitrymomot/subkit/pkg/subscription"
	"github.com/dmitrymomot/subkit/pkg/webhook"
)

// SignatureHeader carries the Paddle webhook signature.
const SignatureHeader = "Paddle-Signature"

// Config holds Paddle credentials.
type Config struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// API is the subset of the Paddle SDK used by Provider. *paddle.SDK satisfies it.
type API interface {
	CreateTransaction(ctx context.Context, req *paddle.CreateTransactionRequest) (*paddle.Transaction, error)
	GetSubscription(ctx context.Context, req *paddle.GetSubscriptionRequest) (*paddle.Subscription, error)
	CancelSubscription(ctx context.Context, req *paddle.CancelSubscriptionRequest) (*paddle.Subscription, error)
	ListTransactions(ctx context.Context, req *paddle.ListTransactionsRequest) (*paddle.Collection[*paddle.Transaction], error)
}

// Provider implements subscription.BillingProvider on Paddle Billing.
//
// Checkout starts with a transaction, so a new subscription is first bound
// to the transaction id. The Paddle subscription id arrives with the first
// subscription webhook, which carries the user id in custom data and lets
// the reconciler rebind the record.
type Provider struct {
	api      API
	verifier *paddle.WebhookVerifier
}

var _ subscription.BillingProvider = (*Provider)(nil)

// New creates a provider for the configured environment.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return NewWithAPI(client, cfg.WebhookSecret), nil
}

// NewWithAPI builds a provider over an existing SDK client.
func NewWithAPI(api API, webhookSecret string) *Provider {
	if api == nil {
		panic("paddle: api is required")
	}
	return &Provider{
		api:      api,
		verifier: paddle.NewWebhookVerifier(webhookSecret),
	}
}

// CreateSubscription opens a checkout transaction for the plan price.
func (p *Provider) CreateSubscription(ctx context.Context, req subscription.CreateRequest) (*subscription.ProviderSubscription, error) {
	if req.Plan.ID == "" {
		return nil, resilience.Permanent(ErrMissingPriceID)
	}
	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.Plan.ID,
		Quantity: quantity,
	})
	custom := paddle.CustomData{
		customUserID: req.UserID.String(),
		"plan_type":  string(req.Plan.Type),
	}
	if req.Email != "" {
		custom["email"] = req.Email
	}
	for k, v := range req.Notes {
		custom[k] = v
	}

	txn, err := p.api.CreateTransaction(ctx, &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: custom,
	})
	if err != nil {
		return nil, fmt.Errorf("create paddle transaction: %w", err)
	}
	if txn.Checkout == nil || txn.Checkout.URL == nil || *txn.Checkout.URL == "" {
		return nil, resilience.Permanent(ErrNoCheckoutURL)
	}

	return &subscription.ProviderSubscription{
		ID:       txn.ID,
		PlanID:   req.Plan.ID,
		Status:   subscription.ProviderStatusCreated,
		ShortURL: *txn.Checkout.URL,
		UserHint: req.UserID.String(),
	}, nil
}

// CancelSubscription cancels now or at the next billing period.
func (p *Provider) CancelSubscription(ctx context.Context, subscriptionID string, atCycleEnd bool) (*subscription.ProviderSubscription, error) {
	if isTransaction(subscriptionID) {
		return nil, resilience.Permanent(fmt.Errorf("%w: checkout %s has no subscription yet", subscription.ErrUnsupported, subscriptionID))
	}

	effective := paddle.EffectiveFromImmediately
	if atCycleEnd {
		effective = paddle.EffectiveFromNextBillingPeriod
	}
	sub, err := p.api.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: subscriptionID,
		EffectiveFrom:  paddle.PtrTo(effective),
	})
	if err != nil {
		return nil, fmt.Errorf("cancel paddle subscription %s: %w", subscriptionID, err)
	}
	return normalizeSubscription(sub), nil
}

func (p *Provider) FetchSubscription(ctx context.Context, subscriptionID string) (*subscription.ProviderSubscription, error) {
	if isTransaction(subscriptionID) {
		return nil, resilience.Permanent(fmt.Errorf("%w: checkout %s has no subscription yet", subscription.ErrUnsupported, subscriptionID))
	}

	sub, err := p.api.GetSubscription(ctx, &paddle.GetSubscriptionRequest{SubscriptionID: subscriptionID})
	if err != nil {
		return nil, fmt.Errorf("fetch paddle subscription %s: %w", subscriptionID, err)
	}
	return normalizeSubscription(sub), nil
}

// FetchPendingInvoices lists past-due transactions of the subscription.
// Paddle collects them itself, so none is reported as issued.
func (p *Provider) FetchPendingInvoices(ctx context.Context, subscriptionID string) ([]subscription.Invoice, error) {
	if isTransaction(subscriptionID) {
		return nil, nil
	}

	res, err := p.api.ListTransactions(ctx, &paddle.ListTransactionsRequest{
		SubscriptionID: []string{subscriptionID},
		Status:         []string{"past_due"},
	})
	if err != nil {
		return nil, fmt.Errorf("list paddle transactions of %s: %w", subscriptionID, err)
	}

	var invoices []subscription.Invoice
	err = res.Iter(ctx, func(t *paddle.Transaction) (bool, error) {
		invoices = append(invoices, subscription.Invoice{
			ID:             t.ID,
			SubscriptionID: subscriptionID,
			Status:         string(t.Status),
			Currency:       string(t.CurrencyCode),
		})
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate paddle transactions of %s: %w", subscriptionID, err)
	}
	return invoices, nil
}

// ChargeInvoice is not available: Paddle retries past-due collection itself.
func (p *Provider) ChargeInvoice(_ context.Context, _ string) error {
	return resilience.Permanent(subscription.ErrUnsupported)
}

// VerifyWebhookSignature checks the ts/h1 signature header against the raw body.
func (p *Provider) VerifyWebhookSignature(payload []byte, signature string) error {
	if len(payload) == 0 {
		return webhook.ErrEmptyPayload
	}
	if strings.TrimSpace(signature) == "" {
		return webhook.ErrMissingSignature
	}

	req, err := http.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set(SignatureHeader, signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return errors.Join(webhook.ErrInvalidSignature, err)
	}
	if !valid {
		return webhook.ErrInvalidSignature
	}
	return nil
}

func isTransaction(id string) bool {
	return strings.HasPrefix(id, "txn_")
}

func normalizeSubscription(sub *paddle.Subscription) *subscription.ProviderSubscription {
	ps := &subscription.ProviderSubscription{
		ID:       sub.ID,
		Status:   mapStatus(string(sub.Status)),
		UserHint: customString(sub.CustomData, customUserID),
	}
	if len(sub.Items) > 0 {
		ps.PlanID = sub.Items[0].Price.ID
	}
	if period := sub.CurrentBillingPeriod; period != nil {
		ps.CurrentStart = parseTime(period.StartsAt)
		ps.CurrentEnd = parseTime(period.EndsAt)
	}
	return ps
}

// mapStatus translates Paddle subscription statuses to provider statuses.
func mapStatus(status string) string {
	switch status {
	case "active", "trialing":
		return subscription.ProviderStatusActive
	case "past_due", "paused":
		return subscription.ProviderStatusPastDue
	case "canceled":
		return subscription.ProviderStatusCancelled
	default:
		return status
	}
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func customString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}
