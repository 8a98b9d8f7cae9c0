package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrymomot/subkit/pkg/resilience"
	"github.com/dmitrymomot/subkit/pkg/subscription"
)

// maxErrorBody bounds how much of an error response is kept in StatusError.
const maxErrorBody = 4 << 10

// Client talks to the Razorpay REST API.
type Client struct {
	http          *http.Client
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
}

var _ subscription.BillingProvider = (*Client)(nil)

// New creates a client from cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	c := &Client{
		http:          &http.Client{Timeout: cfg.Timeout},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		keyID:         cfg.KeyID,
		keySecret:     cfg.KeySecret,
		webhookSecret: cfg.WebhookSecret,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type createSubscriptionRequest struct {
	PlanID         string            `json:"plan_id"`
	TotalCount     int               `json:"total_count"`
	Quantity       int               `json:"quantity,omitempty"`
	CustomerNotify bool              `json:"customer_notify"`
	Notes          map[string]string `json:"notes,omitempty"`
}

// CreateSubscription creates a subscription that starts billing immediately.
// The user id travels in notes and comes back on webhooks as the user hint.
func (c *Client) CreateSubscription(ctx context.Context, req subscription.CreateRequest) (*subscription.ProviderSubscription, error) {
	if req.Plan.ID == "" {
		return nil, resilience.Permanent(ErrMissingPlanID)
	}

	notes := make(map[string]string, len(req.Notes)+3)
	for k, v := range req.Notes {
		notes[k] = v
	}
	notes[noteUserID] = req.UserID.String()
	if req.Email != "" {
		notes["email"] = req.Email
	}
	notes["plan_type"] = string(req.Plan.Type)

	body := createSubscriptionRequest{
		PlanID:         req.Plan.ID,
		TotalCount:     req.TotalCount,
		Quantity:       req.Quantity,
		CustomerNotify: req.CustomerNotify,
		Notes:          notes,
	}

	var sub subscriptionEntity
	if err := c.do(ctx, http.MethodPost, "/v1/subscriptions", body, &sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return sub.normalize(), nil
}

// CancelSubscription cancels now or at the end of the current billing cycle.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string, atCycleEnd bool) (*subscription.ProviderSubscription, error) {
	body := map[string]int{"cancel_at_cycle_end": 0}
	if atCycleEnd {
		body["cancel_at_cycle_end"] = 1
	}

	var sub subscriptionEntity
	path := "/v1/subscriptions/" + url.PathEscape(subscriptionID) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, body, &sub); err != nil {
		return nil, fmt.Errorf("cancel subscription %s: %w", subscriptionID, err)
	}
	return sub.normalize(), nil
}

func (c *Client) FetchSubscription(ctx context.Context, subscriptionID string) (*subscription.ProviderSubscription, error) {
	var sub subscriptionEntity
	if err := c.do(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, &sub); err != nil {
		return nil, fmt.Errorf("fetch subscription %s: %w", subscriptionID, err)
	}
	return sub.normalize(), nil
}

type invoiceEntity struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

type invoiceCollection struct {
	Count int             `json:"count"`
	Items []invoiceEntity `json:"items"`
}

// FetchPendingInvoices returns invoices of the subscription that are not paid.
func (c *Client) FetchPendingInvoices(ctx context.Context, subscriptionID string) ([]subscription.Invoice, error) {
	q := url.Values{"subscription_id": {subscriptionID}}

	var list invoiceCollection
	if err := c.do(ctx, http.MethodGet, "/v1/invoices?"+q.Encode(), nil, &list); err != nil {
		return nil, fmt.Errorf("fetch invoices of %s: %w", subscriptionID, err)
	}

	invoices := make([]subscription.Invoice, 0, len(list.Items))
	for _, inv := range list.Items {
		if inv.Status == "paid" || inv.Status == "cancelled" || inv.Status == "expired" {
			continue
		}
		invoices = append(invoices, subscription.Invoice{
			ID:             inv.ID,
			SubscriptionID: inv.SubscriptionID,
			Status:         inv.Status,
			Amount:         inv.Amount,
			Currency:       strings.ToUpper(inv.Currency),
		})
	}
	return invoices, nil
}

// ChargeInvoice asks the provider to collect an issued invoice.
func (c *Client) ChargeInvoice(ctx context.Context, invoiceID string) error {
	if err := c.do(ctx, http.MethodPost, "/v1/invoices/"+url.PathEscape(invoiceID)+"/charge", struct{}{}, nil); err != nil {
		return fmt.Errorf("charge invoice %s: %w", invoiceID, err)
	}
	return nil
}

type errorEnvelope struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return resilience.Permanent(err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return resilience.Permanent(err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &resilience.StatusError{StatusCode: resp.StatusCode, Body: errorDescription(raw)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
	}
	return nil
}

func errorDescription(raw []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error.Description != "" {
		if env.Error.Code != "" {
			return env.Error.Code + ": " + env.Error.Description
		}
		return env.Error.Description
	}
	return strings.TrimSpace(string(raw))
}
