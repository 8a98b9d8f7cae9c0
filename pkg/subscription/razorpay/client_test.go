package razorpay_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subkit/pkg/resilience"
	"github.com/dmitrymomot/subkit/pkg/subscription"
	"github.com/dmitrymomot/subkit/pkg/subscription/razorpay"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
	User   string
	Pass   string
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  http.HandlerFunc
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
	rec.User, rec.Pass, _ = r.BasicAuth()
	if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
		_ = json.Unmarshal(raw, &rec.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()
	f.handler(w, r)
}

func (f *fakeAPI) last(t *testing.T) recordedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newClient(t *testing.T, handler http.HandlerFunc) (*razorpay.Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{handler: handler}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := razorpay.New(razorpay.Config{
		KeyID:         "rzp_test_key",
		KeySecret:     "rzp_test_secret",
		WebhookSecret: "whsec",
		BaseURL:       srv.URL,
	}, razorpay.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c, api
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

const subscriptionJSON = `{
	"id": "sub_A",
	"entity": "subscription",
	"plan_id": "plan_monthly",
	"status": "created",
	"current_start": 1735862400,
	"current_end": 1738454400,
	"short_url": "https://rzp.io/i/u1",
	"notes": {"user_id": "4f5b9a52-3f0e-4d3a-8f0e-1c2d3e4f5a6b"}
}`

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := razorpay.New(razorpay.Config{WebhookSecret: "x"})
	assert.ErrorIs(t, err, razorpay.ErrMissingCredentials)

	_, err = razorpay.New(razorpay.Config{KeyID: "k", KeySecret: "s"})
	assert.ErrorIs(t, err, razorpay.ErrMissingWebhookSecret)

	c, err := razorpay.New(razorpay.Config{KeyID: "k", KeySecret: "s", WebhookSecret: "w"})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestCreateSubscription(t *testing.T) {
	t.Parallel()

	t.Run("sends plan and notes and normalizes the response", func(t *testing.T) {
		t.Parallel()
		c, api := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, subscriptionJSON)
		})

		userID := uuid.MustParse("4f5b9a52-3f0e-4d3a-8f0e-1c2d3e4f5a6b")
		ps, err := c.CreateSubscription(context.Background(), subscription.CreateRequest{
			UserID:         userID,
			Email:          "ana@example.com",
			Plan:           subscription.Plan{Type: subscription.PlanMonthly, ID: "plan_monthly"},
			Quantity:       1,
			TotalCount:     12,
			CustomerNotify: true,
		})
		require.NoError(t, err)

		req := api.last(t)
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "/v1/subscriptions", req.Path)
		assert.Equal(t, "rzp_test_key", req.User)
		assert.Equal(t, "rzp_test_secret", req.Pass)
		assert.Equal(t, "plan_monthly", req.Body["plan_id"])
		assert.EqualValues(t, 12, req.Body["total_count"])
		assert.Equal(t, true, req.Body["customer_notify"])
		notes, ok := req.Body["notes"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, userID.String(), notes["user_id"])
		assert.Equal(t, "ana@example.com", notes["email"])

		assert.Equal(t, "sub_A", ps.ID)
		assert.Equal(t, subscription.ProviderStatusCreated, ps.Status)
		assert.Equal(t, "https://rzp.io/i/u1", ps.ShortURL)
		assert.Equal(t, userID.String(), ps.UserHint)
		require.NotNil(t, ps.CurrentStart)
		require.NotNil(t, ps.CurrentEnd)
		assert.Equal(t, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), *ps.CurrentStart)
		assert.Equal(t, time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC), *ps.CurrentEnd)
	})

	t.Run("missing plan id is permanent", func(t *testing.T) {
		t.Parallel()
		c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})

		_, err := c.CreateSubscription(context.Background(), subscription.CreateRequest{UserID: uuid.New()})
		assert.ErrorIs(t, err, razorpay.ErrMissingPlanID)
		assert.True(t, resilience.IsPermanent(err))
	})

	t.Run("client error carries status and description", func(t *testing.T) {
		t.Parallel()
		c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, `{"error":{"code":"BAD_REQUEST_ERROR","description":"The id provided does not exist"}}`)
		})

		_, err := c.CreateSubscription(context.Background(), subscription.CreateRequest{
			UserID: uuid.New(),
			Plan:   subscription.Plan{ID: "plan_x"},
		})
		require.Error(t, err)
		var se *resilience.StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusBadRequest, se.StatusCode)
		assert.Equal(t, "BAD_REQUEST_ERROR: The id provided does not exist", se.Body)
		assert.True(t, resilience.IsPermanent(err))
	})

	t.Run("server error is transient", func(t *testing.T) {
		t.Parallel()
		c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadGateway, `upstream down`)
		})

		_, err := c.CreateSubscription(context.Background(), subscription.CreateRequest{
			UserID: uuid.New(),
			Plan:   subscription.Plan{ID: "plan_x"},
		})
		require.Error(t, err)
		assert.Equal(t, http.StatusBadGateway, resilience.StatusCode(err))
		assert.False(t, resilience.IsPermanent(err))
	})

	t.Run("garbage body is reported", func(t *testing.T) {
		t.Parallel()
		c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{not json`)
		})

		_, err := c.CreateSubscription(context.Background(), subscription.CreateRequest{
			UserID: uuid.New(),
			Plan:   subscription.Plan{ID: "plan_x"},
		})
		assert.ErrorIs(t, err, razorpay.ErrUnexpectedResponse)
	})
}

func TestCancelSubscription(t *testing.T) {
	t.Parallel()

	for _, atCycleEnd := range []bool{true, false} {
		c, api := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"id":"sub_A","status":"cancelled","notes":[]}`)
		})

		ps, err := c.CancelSubscription(context.Background(), "sub_A", atCycleEnd)
		require.NoError(t, err)
		assert.Equal(t, subscription.ProviderStatusCancelled, ps.Status)
		assert.Empty(t, ps.UserHint)

		req := api.last(t)
		assert.Equal(t, "/v1/subscriptions/sub_A/cancel", req.Path)
		want := 0.0
		if atCycleEnd {
			want = 1
		}
		assert.Equal(t, want, req.Body["cancel_at_cycle_end"])
	}
}

func TestFetchSubscription(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()
		c, api := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"id":"sub_A","status":"active","current_start":null,"current_end":null}`)
		})

		ps, err := c.FetchSubscription(context.Background(), "sub_A")
		require.NoError(t, err)
		assert.Equal(t, subscription.ProviderStatusActive, ps.Status)
		assert.Nil(t, ps.CurrentStart)
		assert.Equal(t, http.MethodGet, api.last(t).Method)
		assert.Equal(t, "/v1/subscriptions/sub_A", api.last(t).Path)
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, `{"error":{"description":"not found"}}`)
		})

		_, err := c.FetchSubscription(context.Background(), "sub_missing")
		assert.Equal(t, http.StatusNotFound, resilience.StatusCode(err))
	})
}

func TestFetchPendingInvoices(t *testing.T) {
	t.Parallel()

	c, api := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"entity":"collection","count":3,"items":[
			{"id":"inv_1","subscription_id":"sub_A","status":"paid","amount":99900,"currency":"INR"},
			{"id":"inv_2","subscription_id":"sub_A","status":"issued","amount":99900,"currency":"inr"},
			{"id":"inv_3","subscription_id":"sub_A","status":"cancelled","amount":99900,"currency":"INR"}
		]}`)
	})

	invoices, err := c.FetchPendingInvoices(context.Background(), "sub_A")
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, subscription.Invoice{
		ID:             "inv_2",
		SubscriptionID: "sub_A",
		Status:         subscription.InvoiceStatusIssued,
		Amount:         99900,
		Currency:       "INR",
	}, invoices[0])

	req := api.last(t)
	assert.Equal(t, "/v1/invoices", req.Path)
	assert.Equal(t, "subscription_id=sub_A", req.Query)
}

func TestChargeInvoice(t *testing.T) {
	t.Parallel()

	c, api := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":"inv_2","status":"paid"}`)
	})

	require.NoError(t, c.ChargeInvoice(context.Background(), "inv_2"))
	req := api.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/v1/invoices/inv_2/charge", req.Path)
}

func TestContextCancelled(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, subscriptionJSON)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchSubscription(ctx, "sub_A")
	assert.ErrorIs(t, err, context.Canceled)
}
