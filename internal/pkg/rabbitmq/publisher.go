package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gwatamalou/orderprocessor/internal/pkg/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher confirm errors.
var (
	ErrPublisherRequired = errors.New("confirming publisher is required")
	ErrPublishNacked     = errors.New("message was nacked by broker")
	ErrConfirmTimeout    = errors.New("confirmation timed out")
	ErrPublisherClosed   = errors.New("publisher is closed")
	ErrConfirmDesync     = errors.New("confirmation stream out of sync")
)

const (
	// DefaultConfirmTimeout is the default timeout for waiting on broker confirmation.
	DefaultConfirmTimeout = 5 * time.Second

	// confirmChannelBuffer must be >= max unconfirmed messages to avoid blocking.
	confirmChannelBuffer = 64

	contentTypeJSON = "application/json"
)

// ConfirmableChannel defines the AMQP channel operations a confirming
// publisher needs.
type ConfirmableChannel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	PublishWithContext(
		ctx context.Context,
		exchange, key string,
		mandatory, immediate bool,
		msg amqp.Publishing,
	) error
	Close() error
}

// ConfirmingPublisher publishes persistent messages to the event exchange and
// waits for broker confirmation of each. Publishes are serialized per
// publisher instance; confirmations are correlated by delivery tag, so a
// confirmation that arrives after its wait timed out is discarded instead of
// being mistaken for the next publish's outcome.
type ConfirmingPublisher struct {
	ch             ConfirmableChannel
	confirms       chan amqp.Confirmation
	logger         log.Logger
	confirmTimeout time.Duration
	exchange       string

	publishMu sync.Mutex
	// nextTag mirrors the broker's per-channel delivery tag counter, which
	// starts at 1 and increments per publish. Guarded by publishMu.
	nextTag uint64

	mu     sync.Mutex
	closed bool
}

// PublisherOption configures a ConfirmingPublisher.
type PublisherOption func(*ConfirmingPublisher)

// WithPublisherLogger sets a structured logger for the publisher.
func WithPublisherLogger(logger log.Logger) PublisherOption {
	return func(pub *ConfirmingPublisher) {
		if logger != nil {
			pub.logger = logger
		}
	}
}

// WithConfirmTimeout sets the timeout for waiting on broker confirmation.
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(pub *ConfirmingPublisher) {
		if timeout > 0 {
			pub.confirmTimeout = timeout
		}
	}
}

// WithExchange overrides the exchange messages are published to.
func WithExchange(exchange string) PublisherOption {
	return func(pub *ConfirmingPublisher) {
		if exchange != "" {
			pub.exchange = exchange
		}
	}
}

// NewConfirmingPublisher puts the channel into confirm mode and returns a
// publisher bound to it. The channel must be dedicated to this publisher.
func NewConfirmingPublisher(ch ConfirmableChannel, opts ...PublisherOption) (*ConfirmingPublisher, error) {
	if ch == nil {
		return nil, ErrChannelRequired
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}

	confirms := make(chan amqp.Confirmation, confirmChannelBuffer)
	ch.NotifyPublish(confirms)

	pub := &ConfirmingPublisher{
		ch:             ch,
		confirms:       confirms,
		logger:         log.NewNop(),
		confirmTimeout: DefaultConfirmTimeout,
		exchange:       ExchangeName,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(pub)
		}
	}

	return pub, nil
}

// Publish sends a persistent JSON message with the given routing key and
// blocks until the broker confirms or the confirm timeout elapses.
func (pub *ConfirmingPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	if pub == nil {
		return ErrPublisherRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	pub.publishMu.Lock()
	defer pub.publishMu.Unlock()

	pub.mu.Lock()

	if pub.closed {
		pub.mu.Unlock()

		return ErrPublisherClosed
	}

	ch := pub.ch
	confirms := pub.confirms
	confirmTimeout := pub.confirmTimeout
	exchange := pub.exchange
	pub.mu.Unlock()

	msg := amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish %q: %w", routingKey, err)
	}

	pub.nextTag++

	return pub.waitForConfirm(ctx, confirms, confirmTimeout, pub.nextTag)
}

// waitForConfirm blocks until the confirmation carrying the expected delivery
// tag arrives. Confirmations with a lower tag are stale leftovers from a
// publish whose wait timed out or was cancelled; they are dropped so they
// cannot be mistaken for the current publish's outcome.
func (pub *ConfirmingPublisher) waitForConfirm(
	ctx context.Context,
	confirms <-chan amqp.Confirmation,
	confirmTimeout time.Duration,
	expectedTag uint64,
) error {
	timeout := time.NewTimer(confirmTimeout)
	defer timeout.Stop()

	for {
		select {
		case confirmed, ok := <-confirms:
			if !ok {
				return ErrPublisherClosed
			}

			if confirmed.DeliveryTag < expectedTag {
				pub.logger.Log(ctx, log.LevelDebug, "discarding stale broker confirmation",
					log.Int64("delivery_tag", int64(confirmed.DeliveryTag)),
					log.Int64("expected_tag", int64(expectedTag)),
				)

				continue
			}

			if confirmed.DeliveryTag > expectedTag {
				return fmt.Errorf("%w: got delivery_tag=%d, expected %d",
					ErrConfirmDesync, confirmed.DeliveryTag, expectedTag)
			}

			if !confirmed.Ack {
				return fmt.Errorf("%w: delivery_tag=%d", ErrPublishNacked, confirmed.DeliveryTag)
			}

			return nil

		case <-timeout.C:
			return ErrConfirmTimeout

		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		}
	}
}

// Close closes the underlying channel. The publisher cannot be reused.
func (pub *ConfirmingPublisher) Close() error {
	if pub == nil {
		return ErrPublisherRequired
	}

	pub.publishMu.Lock()
	defer pub.publishMu.Unlock()

	pub.mu.Lock()

	if pub.closed {
		pub.mu.Unlock()

		return nil
	}

	pub.closed = true
	ch := pub.ch
	pub.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			pub.logger.Log(context.Background(), log.LevelWarn, "failed to close publisher channel", log.Err(err))

			return fmt.Errorf("closing publisher channel: %w", err)
		}
	}

	return nil
}
