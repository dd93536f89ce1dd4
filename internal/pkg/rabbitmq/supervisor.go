package rabbitmq

import (
	"context"
	"errors"
	"time"

	"github.com/Gwatamalou/orderprocessor/internal/pkg/backoff"
	"github.com/Gwatamalou/orderprocessor/internal/pkg/log"
)

// Supervisor errors.
var (
	ErrSupervisorRequired     = errors.New("consumer supervisor is required")
	ErrChannelFactoryRequired = errors.New("consume channel factory is required")
)

const (
	consumeRetryBase = 500 * time.Millisecond
	// consumeRetryMaxShift caps the reconnect backoff at base<<6 (32s).
	consumeRetryMaxShift = 6
)

// ConsumeChannelFactory opens a fresh channel for one consumer run.
// *amqp.Channel satisfies ConsumeChannel, so a factory is typically a closure
// over Connection.NewChannel.
type ConsumeChannelFactory func(ctx context.Context) (ConsumeChannel, error)

// ConsumerSupervisor keeps a queue consumer alive across channel and broker
// failures. When the broker closes the deliveries channel, or the consume
// setup fails, the supervisor opens a fresh channel after a jittered backoff
// and resumes consuming. It stops only when its context is cancelled.
type ConsumerSupervisor struct {
	openChannel ConsumeChannelFactory
	queue       string
	handler     Handler
	consumerOps []ConsumerOption
	logger      log.Logger
}

// SupervisorOption configures a ConsumerSupervisor.
type SupervisorOption func(*ConsumerSupervisor)

// WithSupervisorLogger sets a structured logger for the supervisor.
func WithSupervisorLogger(logger log.Logger) SupervisorOption {
	return func(s *ConsumerSupervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithConsumerOptions passes options through to each consumer the supervisor
// creates.
func WithConsumerOptions(opts ...ConsumerOption) SupervisorOption {
	return func(s *ConsumerSupervisor) {
		s.consumerOps = append(s.consumerOps, opts...)
	}
}

// NewConsumerSupervisor creates a supervisor that consumes the given queue
// through channels produced by openChannel.
func NewConsumerSupervisor(
	openChannel ConsumeChannelFactory,
	queue string,
	handler Handler,
	opts ...SupervisorOption,
) (*ConsumerSupervisor, error) {
	if openChannel == nil {
		return nil, ErrChannelFactoryRequired
	}

	if queue == "" {
		return nil, ErrQueueNameRequired
	}

	if handler == nil {
		return nil, ErrHandlerRequired
	}

	s := &ConsumerSupervisor{
		openChannel: openChannel,
		queue:       queue,
		handler:     handler,
		logger:      log.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s, nil
}

// Run consumes until ctx is cancelled, reconnecting whenever the consumer
// stops for any other reason. Consecutive failures back off exponentially;
// the backoff resets once a consumer gets as far as draining deliveries.
func (s *ConsumerSupervisor) Run(ctx context.Context) error {
	if s == nil {
		return ErrSupervisorRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	attempt := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		ch, err := s.openChannel(ctx)
		if err != nil {
			s.logger.Log(ctx, log.LevelError, "failed to open consumer channel",
				log.String("queue", s.queue), log.Err(err))

			if waitErr := s.wait(ctx, attempt); waitErr != nil {
				return nil
			}

			attempt++

			continue
		}

		consumer, err := NewConsumer(ch, s.queue, s.handler, s.consumerOps...)
		if err != nil {
			_ = ch.Close()

			return err
		}

		runErr := consumer.Run(ctx)

		if closeErr := ch.Close(); closeErr != nil {
			s.logger.Log(ctx, log.LevelWarn, "failed to close consumer channel",
				log.String("queue", s.queue), log.Err(closeErr))
		}

		if ctx.Err() != nil {
			return nil
		}

		// A closed deliveries channel means the consumer had started and the
		// broker tore it down, so the next attempt is a fresh start.
		if errors.Is(runErr, ErrDeliveriesClosed) {
			attempt = 0
		}

		s.logger.Log(ctx, log.LevelWarn, "consumer stopped, reconnecting",
			log.String("queue", s.queue), log.Err(runErr))

		if waitErr := s.wait(ctx, attempt); waitErr != nil {
			return nil
		}

		attempt++
	}
}

func (s *ConsumerSupervisor) wait(ctx context.Context, attempt int) error {
	if attempt > consumeRetryMaxShift {
		attempt = consumeRetryMaxShift
	}

	return backoff.Sleep(ctx, backoff.ExponentialWithJitter(consumeRetryBase, attempt))
}
