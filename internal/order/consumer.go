package order

import (
	"context"

	"github.com/Gwatamalou/orderprocessor/internal/events"
	"github.com/Gwatamalou/orderprocessor/internal/pkg/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ResultQueue is the order service's queue for order.processed events.
var ResultQueue = rabbitmq.QueueSpec{
	Name:      "order-service.order.processed",
	EventType: events.TypeOrderProcessed,
}

// NewResultHandler returns the consumer handler applying order.processed
// events to the order store. Malformed payloads surface ErrMalformedEvent,
// which the consumer is configured to dead-letter without requeue.
func NewResultHandler(svc *Service) rabbitmq.Handler {
	return func(ctx context.Context, delivery amqp.Delivery) error {
		event, err := events.DecodeOrderProcessed(delivery.Body)
		if err != nil {
			return err
		}

		return svc.ApplyProcessingResult(ctx, event)
	}
}
