package processor

import (
	"context"

	"github.com/Gwatamalou/orderprocessor/internal/events"
	"github.com/Gwatamalou/orderprocessor/internal/pkg/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// OrderQueue is the processor service's queue for order.created events.
var OrderQueue = rabbitmq.QueueSpec{
	Name:      "processor-service.order.created",
	EventType: events.TypeOrderCreated,
}

// NewOrderCreatedHandler returns the consumer handler processing
// order.created events. Malformed payloads surface ErrMalformedEvent, which
// the consumer is configured to dead-letter without requeue.
func NewOrderCreatedHandler(svc *Service) rabbitmq.Handler {
	return func(ctx context.Context, delivery amqp.Delivery) error {
		event, err := events.DecodeOrderCreated(delivery.Body)
		if err != nil {
			return err
		}

		return svc.ProcessOrder(ctx, event)
	}
}
