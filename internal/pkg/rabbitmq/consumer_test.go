//go:build unit

package rabbitmq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ackCall struct {
	op      string
	requeue bool
}

type fakeAcknowledger struct {
	calls []ackCall
}

func (f *fakeAcknowledger) Ack(uint64, bool) error {
	f.calls = append(f.calls, ackCall{op: "ack"})

	return nil
}

func (f *fakeAcknowledger) Nack(_ uint64, _, requeue bool) error {
	f.calls = append(f.calls, ackCall{op: "nack", requeue: requeue})

	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.calls = append(f.calls, ackCall{op: "reject", requeue: requeue})

	return nil
}

type fakeConsumeChannel struct {
	deliveries chan amqp.Delivery
	qosErr     error
	consumeErr error

	prefetch int
	queue    string
}

func (f *fakeConsumeChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.prefetch = prefetchCount

	return f.qosErr
}

func (f *fakeConsumeChannel) Consume(
	queue, _ string,
	_, _, _, _ bool,
	_ amqp.Table,
) (<-chan amqp.Delivery, error) {
	f.queue = queue

	if f.consumeErr != nil {
		return nil, f.consumeErr
	}

	return f.deliveries, nil
}

func (f *fakeConsumeChannel) Close() error { return nil }

// runOne feeds a single delivery through a consumer and returns the
// acknowledger call trace. The deliveries channel is closed after the send,
// so Run drains the message and returns ErrDeliveriesClosed.
func runOne(t *testing.T, handler Handler, delivery amqp.Delivery, opts ...ConsumerOption) []ackCall {
	t.Helper()

	ack := &fakeAcknowledger{}
	delivery.Acknowledger = ack

	ch := &fakeConsumeChannel{deliveries: make(chan amqp.Delivery, 1)}
	ch.deliveries <- delivery
	close(ch.deliveries)

	consumer, err := NewConsumer(ch, "test.queue", handler, opts...)
	require.NoError(t, err)

	err = consumer.Run(context.Background())
	require.ErrorIs(t, err, ErrDeliveriesClosed)

	return ack.calls
}

func TestNewConsumer_Validation(t *testing.T) {
	t.Parallel()

	handler := func(context.Context, amqp.Delivery) error { return nil }
	ch := &fakeConsumeChannel{}

	_, err := NewConsumer(nil, "q", handler)
	require.ErrorIs(t, err, ErrChannelRequired)

	_, err = NewConsumer(ch, "", handler)
	require.ErrorIs(t, err, ErrQueueNameRequired)

	_, err = NewConsumer(ch, "q", nil)
	require.ErrorIs(t, err, ErrHandlerRequired)
}

func TestConsumerRun_AcksOnSuccess(t *testing.T) {
	t.Parallel()

	calls := runOne(t,
		func(context.Context, amqp.Delivery) error { return nil },
		amqp.Delivery{RoutingKey: "order.created"},
	)

	require.Equal(t, []ackCall{{op: "ack"}}, calls)
}

func TestConsumerRun_PermanentErrorDeadLetters(t *testing.T) {
	t.Parallel()

	errMalformed := errors.New("malformed event")

	calls := runOne(t,
		func(context.Context, amqp.Delivery) error {
			return errMalformed
		},
		amqp.Delivery{RoutingKey: "order.created"},
		WithPermanentErrors(errMalformed),
	)

	require.Equal(t, []ackCall{{op: "reject", requeue: false}}, calls)
}

func TestConsumerRun_TransientErrorRequeuesOnce(t *testing.T) {
	t.Parallel()

	calls := runOne(t,
		func(context.Context, amqp.Delivery) error {
			return errors.New("store unavailable")
		},
		amqp.Delivery{RoutingKey: "order.created", Redelivered: false},
	)

	require.Equal(t, []ackCall{{op: "nack", requeue: true}}, calls)
}

func TestConsumerRun_RedeliveredTransientErrorDeadLetters(t *testing.T) {
	t.Parallel()

	calls := runOne(t,
		func(context.Context, amqp.Delivery) error {
			return errors.New("store unavailable")
		},
		amqp.Delivery{RoutingKey: "order.created", Redelivered: true},
	)

	require.Equal(t, []ackCall{{op: "reject", requeue: false}}, calls)
}

func TestConsumerRun_HandlerPanicDeadLetters(t *testing.T) {
	t.Parallel()

	calls := runOne(t,
		func(context.Context, amqp.Delivery) error {
			panic("unexpected payload shape")
		},
		amqp.Delivery{RoutingKey: "order.created"},
	)

	require.Equal(t, []ackCall{{op: "reject", requeue: false}}, calls)
}

func TestConsumerRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := &fakeConsumeChannel{deliveries: make(chan amqp.Delivery)}
	consumer, err := NewConsumer(ch, "test.queue", func(context.Context, amqp.Delivery) error { return nil })
	require.NoError(t, err)

	require.NoError(t, consumer.Run(ctx))
}

func TestConsumerRun_QosApplied(t *testing.T) {
	t.Parallel()

	ch := &fakeConsumeChannel{deliveries: make(chan amqp.Delivery)}
	close(ch.deliveries)

	consumer, err := NewConsumer(ch, "test.queue",
		func(context.Context, amqp.Delivery) error { return nil },
		WithPrefetch(25),
	)
	require.NoError(t, err)

	err = consumer.Run(context.Background())
	require.ErrorIs(t, err, ErrDeliveriesClosed)
	assert.Equal(t, 25, ch.prefetch)
	assert.Equal(t, "test.queue", ch.queue)
}
