//go:build unit

package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfirmableChannel struct {
	confirms   chan amqp.Confirmation
	confirmErr error
	publishErr error
	ackNext    bool
	silent     bool // never deliver a confirmation

	published []amqp.Publishing
	keys      []string
	closed    bool

	deliveryTag uint64
}

func newFakeConfirmableChannel() *fakeConfirmableChannel {
	return &fakeConfirmableChannel{ackNext: true}
}

func (f *fakeConfirmableChannel) Confirm(bool) error {
	return f.confirmErr
}

func (f *fakeConfirmableChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	f.confirms = confirm

	return confirm
}

func (f *fakeConfirmableChannel) PublishWithContext(
	_ context.Context,
	_, key string,
	_, _ bool,
	msg amqp.Publishing,
) error {
	if f.publishErr != nil {
		return f.publishErr
	}

	f.published = append(f.published, msg)
	f.keys = append(f.keys, key)
	f.deliveryTag++

	if !f.silent {
		f.confirms <- amqp.Confirmation{DeliveryTag: f.deliveryTag, Ack: f.ackNext}
	}

	return nil
}

func (f *fakeConfirmableChannel) Close() error {
	f.closed = true

	return nil
}

func TestNewConfirmingPublisher_NilChannel(t *testing.T) {
	t.Parallel()

	_, err := NewConfirmingPublisher(nil)

	require.ErrorIs(t, err, ErrChannelRequired)
}

func TestNewConfirmingPublisher_ConfirmModeUnavailable(t *testing.T) {
	t.Parallel()

	ch := newFakeConfirmableChannel()
	ch.confirmErr = errors.New("confirms not supported")

	_, err := NewConfirmingPublisher(ch)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "confirm mode")
}

func TestPublish_Confirmed(t *testing.T) {
	t.Parallel()

	ch := newFakeConfirmableChannel()
	pub, err := NewConfirmingPublisher(ch)
	require.NoError(t, err)

	err = pub.Publish(context.Background(), "order.created", []byte(`{"order_id":"abc"}`))

	require.NoError(t, err)
	require.Len(t, ch.published, 1)
	assert.Equal(t, "order.created", ch.keys[0])
	assert.Equal(t, uint8(amqp.Persistent), ch.published[0].DeliveryMode)
	assert.Equal(t, "application/json", ch.published[0].ContentType)
}

func TestPublish_Nacked(t *testing.T) {
	t.Parallel()

	ch := newFakeConfirmableChannel()
	ch.ackNext = false

	pub, err := NewConfirmingPublisher(ch)
	require.NoError(t, err)

	err = pub.Publish(context.Background(), "order.created", []byte(`{}`))

	require.ErrorIs(t, err, ErrPublishNacked)
}

func TestPublish_ConfirmTimeout(t *testing.T) {
	t.Parallel()

	ch := newFakeConfirmableChannel()
	ch.silent = true

	pub, err := NewConfirmingPublisher(ch, WithConfirmTimeout(20*time.Millisecond))
	require.NoError(t, err)

	err = pub.Publish(context.Background(), "order.created", []byte(`{}`))

	require.ErrorIs(t, err, ErrConfirmTimeout)
}

func TestPublish_StaleConfirmationDiscarded(t *testing.T) {
	t.Parallel()

	ch := newFakeConfirmableChannel()
	ch.silent = true

	pub, err := NewConfirmingPublisher(ch, WithConfirmTimeout(20*time.Millisecond))
	require.NoError(t, err)

	// The first publish times out before its confirmation arrives.
	err = pub.Publish(context.Background(), "order.created", []byte(`{"order_id":"a"}`))
	require.ErrorIs(t, err, ErrConfirmTimeout)

	// The broker's ack for delivery tag 1 lands late, after the wait gave up.
	ch.confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: true}

	// The second publish is nacked. The leftover ack must not be taken as
	// this publish's confirmation.
	ch.silent = false
	ch.ackNext = false

	err = pub.Publish(context.Background(), "order.created", []byte(`{"order_id":"b"}`))
	require.ErrorIs(t, err, ErrPublishNacked)
}

func TestPublish_ConfirmDesync(t *testing.T) {
	t.Parallel()

	ch := newFakeConfirmableChannel()
	ch.silent = true

	pub, err := NewConfirmingPublisher(ch)
	require.NoError(t, err)

	// A confirmation for a tag this publisher never reached means the
	// stream can no longer be trusted.
	ch.confirms <- amqp.Confirmation{DeliveryTag: 5, Ack: true}

	err = pub.Publish(context.Background(), "order.created", []byte(`{}`))
	require.ErrorIs(t, err, ErrConfirmDesync)
}

func TestPublish_PublishError(t *testing.T) {
	t.Parallel()

	ch := newFakeConfirmableChannel()
	ch.publishErr = errors.New("channel closed")

	pub, err := NewConfirmingPublisher(ch)
	require.NoError(t, err)

	err = pub.Publish(context.Background(), "order.created", []byte(`{}`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")
}

func TestPublish_AfterClose(t *testing.T) {
	t.Parallel()

	ch := newFakeConfirmableChannel()
	pub, err := NewConfirmingPublisher(ch)
	require.NoError(t, err)

	require.NoError(t, pub.Close())
	assert.True(t, ch.closed)

	err = pub.Publish(context.Background(), "order.created", []byte(`{}`))

	require.ErrorIs(t, err, ErrPublisherClosed)
}

func TestPublish_CustomExchange(t *testing.T) {
	t.Parallel()

	ch := newFakeConfirmableChannel()
	pub, err := NewConfirmingPublisher(ch, WithExchange("other"))
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), "k", []byte(`{}`)))
}
