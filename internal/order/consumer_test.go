//go:build unit

package order

import (
	"context"
	"testing"

	"github.com/Gwatamalou/orderprocessor/internal/events"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultQueue_DeadLetterNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "order-service.order.processed", ResultQueue.Name)
	assert.Equal(t, "order-service.order.processed.dlq", ResultQueue.DLQName())
	assert.Equal(t, "order.processed.failed", ResultQueue.FailedRoutingKey())
}

func TestResultHandler_AppliesOutcome(t *testing.T) {
	t.Parallel()

	orders := &fakeOrderRepo{byID: map[string]*Order{"order-1": {ID: "order-1"}}}
	svc := newTestService(t, &fakeStore{}, orders, &fakeStaging{})
	handler := NewResultHandler(svc)

	body := []byte(`{"order_id":"order-1","status":"completed"}`)

	err := handler(context.Background(), amqp.Delivery{Body: body})
	require.NoError(t, err)

	require.Len(t, orders.applied, 1)
	assert.Equal(t, StatusCompleted, orders.applied[0].status)
}

func TestResultHandler_MalformedPayload(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, &fakeStore{}, &fakeOrderRepo{}, &fakeStaging{})
	handler := NewResultHandler(svc)

	tests := []struct {
		name string
		body []byte
	}{
		{name: "not json", body: []byte("not json")},
		{name: "missing order id", body: []byte(`{"status":"completed"}`)},
		{name: "unknown outcome", body: []byte(`{"order_id":"order-1","status":"maybe"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := handler(context.Background(), amqp.Delivery{Body: tt.body})
			assert.ErrorIs(t, err, events.ErrMalformedEvent)
		})
	}
}
