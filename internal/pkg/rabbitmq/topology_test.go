//go:build unit

package rabbitmq

import (
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTopologyChannel struct {
	exchanges []string
	queues    []string
	queueArgs map[string]amqp.Table
	bindings  map[string]string // queue -> "key@exchange"

	exchangeErr error
	queueErr    error
	bindErr     error
}

func newFakeTopologyChannel() *fakeTopologyChannel {
	return &fakeTopologyChannel{
		queueArgs: make(map[string]amqp.Table),
		bindings:  make(map[string]string),
	}
}

func (f *fakeTopologyChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	if f.exchangeErr != nil {
		return f.exchangeErr
	}

	if kind != "topic" || !durable {
		return errors.New("unexpected exchange declaration")
	}

	f.exchanges = append(f.exchanges, name)

	return nil
}

func (f *fakeTopologyChannel) QueueDeclare(name string, durable, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	if f.queueErr != nil {
		return amqp.Queue{}, f.queueErr
	}

	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}

	f.queues = append(f.queues, name)
	f.queueArgs[name] = args

	return amqp.Queue{Name: name}, nil
}

func (f *fakeTopologyChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	if f.bindErr != nil {
		return f.bindErr
	}

	f.bindings[name] = key + "@" + exchange

	return nil
}

func TestDeclareTopology(t *testing.T) {
	t.Parallel()

	ch := newFakeTopologyChannel()

	require.NoError(t, DeclareTopology(ch))

	assert.Equal(t, []string{"orders", "orders.dlx"}, ch.exchanges)
}

func TestDeclareTopology_NilChannel(t *testing.T) {
	t.Parallel()

	err := DeclareTopology(nil)

	require.ErrorIs(t, err, ErrChannelRequired)
}

func TestDeclareConsumerQueue(t *testing.T) {
	t.Parallel()

	ch := newFakeTopologyChannel()
	spec := QueueSpec{Name: "processor-service.order.created", EventType: "order.created"}

	require.NoError(t, DeclareConsumerQueue(ch, spec))

	assert.Equal(t, []string{
		"processor-service.order.created",
		"processor-service.order.created.dlq",
	}, ch.queues)

	args := ch.queueArgs["processor-service.order.created"]
	assert.Equal(t, "orders.dlx", args["x-dead-letter-exchange"])
	assert.Equal(t, "order.created.failed", args["x-dead-letter-routing-key"])

	assert.Equal(t, "order.created@orders", ch.bindings["processor-service.order.created"])
	assert.Equal(t, "order.created.failed@orders.dlx", ch.bindings["processor-service.order.created.dlq"])
}

func TestDeclareConsumerQueue_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec QueueSpec
	}{
		{name: "missing queue name", spec: QueueSpec{EventType: "order.created"}},
		{name: "missing event type", spec: QueueSpec{Name: "some.queue"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := DeclareConsumerQueue(newFakeTopologyChannel(), tt.spec)

			require.Error(t, err)
		})
	}
}

func TestDeclareConsumerQueue_DeclareError(t *testing.T) {
	t.Parallel()

	ch := newFakeTopologyChannel()
	ch.queueErr = errors.New("access refused")

	err := DeclareConsumerQueue(ch, QueueSpec{Name: "q", EventType: "order.created"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "access refused")
}
