package notifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, url string, event Event) error {
	args := m.Called(ctx, url, event)
	return args.Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	args := m.Called(ctx, routingKey, body)
	return args.Error(0)
}

func (m *mockPublisher) Close() error { return nil }

func TestDispatcherFansOut(t *testing.T) {
	ctx := context.Background()
	event := Event{InvoiceID: "9", Status: "paid", Amount: 2}

	webhook := new(mockNotifier)
	webhook.On("Notify", ctx, "https://hook.test", event).Return(nil).Once()
	pub := new(mockPublisher)
	pub.On("Publish", ctx, RoutingKeyInvoicePaid, event).Return(nil).Once()

	d := NewDispatcher(webhook, pub, zap.NewNop(), nil)
	assert.NoError(t, d.Notify(ctx, "https://hook.test", event))

	webhook.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestDispatcherSkipsWebhookWithoutURL(t *testing.T) {
	ctx := context.Background()
	event := Event{InvoiceID: "9"}

	webhook := new(mockNotifier)
	pub := new(mockPublisher)
	pub.On("Publish", ctx, RoutingKeyInvoicePaid, event).Return(nil).Once()

	d := NewDispatcher(webhook, pub, zap.NewNop(), nil)
	assert.NoError(t, d.Notify(ctx, "", event))
	webhook.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcherReportsBothFailures(t *testing.T) {
	ctx := context.Background()
	event := Event{InvoiceID: "9"}
	hookErr := errors.New("hook down")
	pubErr := errors.New("broker down")

	webhook := new(mockNotifier)
	webhook.On("Notify", ctx, "https://hook.test", event).Return(hookErr).Once()
	pub := new(mockPublisher)
	pub.On("Publish", ctx, RoutingKeyInvoicePaid, event).Return(pubErr).Once()

	err := NewDispatcher(webhook, pub, zap.NewNop(), nil).Notify(ctx, "https://hook.test", event)
	assert.ErrorIs(t, err, hookErr)
	assert.ErrorIs(t, err, pubErr)
	webhook.AssertNumberOfCalls(t, "Notify", 1)
}

func TestDispatcherDefaultsToNoopPublisher(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)
	assert.NoError(t, d.Notify(context.Background(), "", Event{}))
}
