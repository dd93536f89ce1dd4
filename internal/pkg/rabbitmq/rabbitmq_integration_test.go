//go:build integration

package rabbitmq

import (
	"context"
	"testing"
	"time"

	"github.com/Gwatamalou/orderprocessor/internal/pkg/log"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcrabbit "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testRabbitMQImage   = "rabbitmq:3-management-alpine"
	testStartupTimeout  = 60 * time.Second
	testConsumeDeadline = 10 * time.Second
)

func setupRabbitMQContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := tcrabbit.Run(ctx,
		testRabbitMQImage,
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(testStartupTimeout),
		),
	)
	require.NoError(t, err, "failed to start RabbitMQ container")

	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	amqpURL, err := container.AmqpURL(ctx)
	require.NoError(t, err, "failed to get AMQP URL from container")

	return amqpURL
}

func newTestConnection(t *testing.T, amqpURL string) *Connection {
	t.Helper()

	rc := &Connection{
		ConnectionString: amqpURL,
		Logger:           log.NewNop(),
	}

	require.NoError(t, rc.Connect(context.Background()))

	t.Cleanup(func() {
		_ = rc.Close()
	})

	return rc
}

func TestIntegration_ConnectHealthyClose(t *testing.T) {
	amqpURL := setupRabbitMQContainer(t)

	rc := &Connection{ConnectionString: amqpURL, Logger: log.NewNop()}

	require.NoError(t, rc.ConnectWithRetry(context.Background(), DefaultConnectAttempts))
	assert.True(t, rc.Healthy())

	require.NoError(t, rc.Close())
	assert.False(t, rc.Healthy())
}

func TestIntegration_PublishConfirmConsumeRoundtrip(t *testing.T) {
	amqpURL := setupRabbitMQContainer(t)
	ctx := context.Background()

	rc := newTestConnection(t, amqpURL)

	topologyCh, err := rc.GetChannel(ctx)
	require.NoError(t, err)

	spec := QueueSpec{Name: "it-service.order.created", EventType: "order.created"}

	require.NoError(t, DeclareTopology(topologyCh))
	require.NoError(t, DeclareConsumerQueue(topologyCh, spec))

	publisherCh, err := rc.NewChannel(ctx)
	require.NoError(t, err)

	publisher, err := NewConfirmingPublisher(publisherCh)
	require.NoError(t, err)

	body := []byte(`{"order_id":"order-1"}`)
	require.NoError(t, publisher.Publish(ctx, spec.EventType, body), "broker should confirm the publish")

	received := make(chan []byte, 1)

	consumerCh, err := rc.NewChannel(ctx)
	require.NoError(t, err)

	consumer, err := NewConsumer(consumerCh, spec.Name, func(_ context.Context, d amqp.Delivery) error {
		received <- d.Body

		return nil
	})
	require.NoError(t, err)

	runCtx, cancel := context.WithTimeout(ctx, testConsumeDeadline)
	defer cancel()

	go func() { _ = consumer.Run(runCtx) }()

	select {
	case got := <-received:
		assert.JSONEq(t, string(body), string(got))
	case <-runCtx.Done():
		t.Fatal("timed out waiting for delivery")
	}
}

func TestIntegration_PermanentFailureLandsInDLQ(t *testing.T) {
	amqpURL := setupRabbitMQContainer(t)
	ctx := context.Background()

	rc := newTestConnection(t, amqpURL)

	topologyCh, err := rc.GetChannel(ctx)
	require.NoError(t, err)

	spec := QueueSpec{Name: "it-service.order.processed", EventType: "order.processed"}

	require.NoError(t, DeclareTopology(topologyCh))
	require.NoError(t, DeclareConsumerQueue(topologyCh, spec))

	publisherCh, err := rc.NewChannel(ctx)
	require.NoError(t, err)

	publisher, err := NewConfirmingPublisher(publisherCh)
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(ctx, spec.EventType, []byte("not json")))

	consumerCh, err := rc.NewChannel(ctx)
	require.NoError(t, err)

	consumer, err := NewConsumer(consumerCh, spec.Name, func(context.Context, amqp.Delivery) error {
		return ErrPermanentRejection
	})
	require.NoError(t, err)

	runCtx, cancel := context.WithTimeout(ctx, testConsumeDeadline)
	defer cancel()

	go func() { _ = consumer.Run(runCtx) }()

	dlq := make(chan []byte, 1)

	dlqCh, err := rc.NewChannel(ctx)
	require.NoError(t, err)

	dlqConsumer, err := NewConsumer(dlqCh, spec.DLQName(), func(_ context.Context, d amqp.Delivery) error {
		dlq <- d.Body

		return nil
	})
	require.NoError(t, err)

	go func() { _ = dlqConsumer.Run(runCtx) }()

	select {
	case got := <-dlq:
		assert.Equal(t, "not json", string(got))
	case <-runCtx.Done():
		t.Fatal("timed out waiting for dead-lettered delivery")
	}
}
