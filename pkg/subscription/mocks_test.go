package subscription

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockBillingProvider is a mock implementation of BillingProvider.
type MockBillingProvider struct {
	mock.Mock
}

func (m *MockBillingProvider) CreateSubscription(ctx context.Context, req CreateRequest) (*ProviderSubscription, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProviderSubscription), args.Error(1)
}

func (m *MockBillingProvider) CancelSubscription(ctx context.Context, subscriptionID string, atCycleEnd bool) (*ProviderSubscription, error) {
	args := m.Called(ctx, subscriptionID, atCycleEnd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProviderSubscription), args.Error(1)
}

func (m *MockBillingProvider) FetchSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProviderSubscription), args.Error(1)
}

func (m *MockBillingProvider) FetchPendingInvoices(ctx context.Context, subscriptionID string) ([]Invoice, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Invoice), args.Error(1)
}

func (m *MockBillingProvider) ChargeInvoice(ctx context.Context, invoiceID string) error {
	args := m.Called(ctx, invoiceID)
	return args.Error(0)
}

func (m *MockBillingProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	args := m.Called(payload, signature)
	return args.Error(0)
}

func (m *MockBillingProvider) ParseWebhookEvent(payload []byte) (*Event, error) {
	args := m.Called(payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Event), args.Error(1)
}
