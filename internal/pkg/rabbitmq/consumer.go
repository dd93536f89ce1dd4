package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gwatamalou/orderprocessor/internal/pkg/log"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Consumer errors.
var (
	ErrConsumerRequired   = errors.New("consumer is required")
	ErrHandlerRequired    = errors.New("consumer handler is required")
	ErrDeliveriesClosed   = errors.New("deliveries channel closed by broker")
	ErrQueueNameRequired  = errors.New("queue name is required")
	ErrPermanentRejection = errors.New("permanent rejection")
)

// DefaultPrefetchCount bounds unacknowledged deliveries per consumer channel.
const DefaultPrefetchCount = 10

// ConsumeChannel defines the AMQP channel operations a consumer loop needs.
type ConsumeChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(
		queue, consumer string,
		autoAck, exclusive, noLocal, noWait bool,
		args amqp.Table,
	) (<-chan amqp.Delivery, error)
	Close() error
}

// Handler processes one delivery. A nil return acknowledges the delivery.
// An error wrapping ErrPermanentRejection (or any error registered via
// WithPermanentErrors) rejects without requeue, dead-lettering the message.
// Any other error is treated as transient.
type Handler func(ctx context.Context, delivery amqp.Delivery) error

// Consumer drains one queue with manual acknowledgements. Transient handler
// failures get exactly one redelivery; a failure on the redelivered copy is
// rejected to the dead-letter queue.
type Consumer struct {
	ch              ConsumeChannel
	queue           string
	tag             string
	prefetch        int
	handler         Handler
	logger          log.Logger
	tracer          trace.Tracer
	permanentErrors []error
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger sets a structured logger for the consumer.
func WithConsumerLogger(logger log.Logger) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConsumerTag sets the consumer tag reported to the broker.
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		if tag != "" {
			c.tag = tag
		}
	}
}

// WithPrefetch bounds the number of unacknowledged deliveries in flight.
func WithPrefetch(prefetch int) ConsumerOption {
	return func(c *Consumer) {
		if prefetch > 0 {
			c.prefetch = prefetch
		}
	}
}

// WithPermanentErrors registers sentinel errors that dead-letter a delivery
// immediately instead of requeueing it.
func WithPermanentErrors(errs ...error) ConsumerOption {
	return func(c *Consumer) {
		for _, err := range errs {
			if err != nil {
				c.permanentErrors = append(c.permanentErrors, err)
			}
		}
	}
}

// WithConsumerTracer sets the tracer used around delivery handling.
func WithConsumerTracer(tracer trace.Tracer) ConsumerOption {
	return func(c *Consumer) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// NewConsumer creates a consumer for the given queue. The channel must be
// dedicated to this consumer because Qos is channel-scoped.
func NewConsumer(ch ConsumeChannel, queue string, handler Handler, opts ...ConsumerOption) (*Consumer, error) {
	if ch == nil {
		return nil, ErrChannelRequired
	}

	if queue == "" {
		return nil, ErrQueueNameRequired
	}

	if handler == nil {
		return nil, ErrHandlerRequired
	}

	c := &Consumer{
		ch:       ch,
		queue:    queue,
		tag:      queue + "-consumer",
		prefetch: DefaultPrefetchCount,
		handler:  handler,
		logger:   log.NewNop(),
		tracer:   noop.NewTracerProvider().Tracer("rabbitmq-consumer"),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

// Run consumes deliveries until ctx is cancelled or the broker closes the
// deliveries channel.
func (c *Consumer) Run(ctx context.Context) error {
	if c == nil {
		return ErrConsumerRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if err := c.ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos on %q: %w", c.queue, err)
	}

	deliveries, err := c.ch.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %q: %w", c.queue, err)
	}

	c.logger.Log(ctx, log.LevelInfo, "consumer started",
		log.String("queue", c.queue),
		log.Int("prefetch", c.prefetch),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Log(context.Background(), log.LevelInfo, "consumer stopping", log.String("queue", c.queue))

			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Log(context.Background(), log.LevelError, "deliveries channel closed", log.String("queue", c.queue))

				return ErrDeliveriesClosed
			}

			c.handleDelivery(ctx, delivery)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	ctx, span := c.tracer.Start(ctx, "consumer.handle")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.destination", c.queue),
		attribute.String("messaging.routing_key", delivery.RoutingKey),
	)

	err := c.invokeHandler(ctx, delivery)
	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Log(ctx, log.LevelError, "failed to ack delivery",
				log.String("routing_key", delivery.RoutingKey), log.Err(ackErr))
		}

		return
	}

	if c.isPermanent(err) {
		c.logger.Log(ctx, log.LevelError, "rejecting delivery to dead-letter queue",
			log.String("routing_key", delivery.RoutingKey), log.Err(err))

		if rejectErr := delivery.Reject(false); rejectErr != nil {
			c.logger.Log(ctx, log.LevelError, "failed to reject delivery", log.Err(rejectErr))
		}

		return
	}

	// One retry for transient failures. The broker marks the retried copy as
	// redelivered, so a second failure goes to the dead-letter queue.
	if !delivery.Redelivered {
		c.logger.Log(ctx, log.LevelWarn, "requeueing delivery after transient failure",
			log.String("routing_key", delivery.RoutingKey), log.Err(err))

		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Log(ctx, log.LevelError, "failed to nack delivery", log.Err(nackErr))
		}

		return
	}

	c.logger.Log(ctx, log.LevelError, "rejecting redelivered message to dead-letter queue",
		log.String("routing_key", delivery.RoutingKey), log.Err(err))

	if rejectErr := delivery.Reject(false); rejectErr != nil {
		c.logger.Log(ctx, log.LevelError, "failed to reject delivery", log.Err(rejectErr))
	}
}

// invokeHandler runs the handler with panic containment. A panicking handler
// must not kill the consumer loop; the panic is surfaced as a permanent error
// so the delivery dead-letters instead of looping forever.
func (c *Consumer) invokeHandler(ctx context.Context, delivery amqp.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: handler panic: %v", ErrPermanentRejection, r)
		}
	}()

	return c.handler(ctx, delivery)
}

func (c *Consumer) isPermanent(err error) bool {
	if errors.Is(err, ErrPermanentRejection) {
		return true
	}

	for _, sentinel := range c.permanentErrors {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	return false
}
