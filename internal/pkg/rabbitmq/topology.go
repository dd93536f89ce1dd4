package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeName is the topic exchange all domain events are published to.
	ExchangeName = "orders"
	// DLXExchangeName is the dead-letter exchange rejected deliveries land on.
	DLXExchangeName = "orders.dlx"

	exchangeKindTopic = "topic"
	dlqSuffix         = ".dlq"
	failedSuffix      = ".failed"
)

// TopologyChannel defines the AMQP channel operations required for topology
// declaration.
type TopologyChannel interface {
	ExchangeDeclare(
		name, kind string,
		durable, autoDelete, internal, noWait bool,
		args amqp.Table,
	) error
	QueueDeclare(
		name string,
		durable, autoDelete, exclusive, noWait bool,
		args amqp.Table,
	) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// QueueSpec describes one consumer queue and its dead-letter wiring.
// EventType doubles as the binding key on the main exchange; deliveries
// rejected from the queue are re-routed to the DLX with "<event>.failed".
type QueueSpec struct {
	Name      string
	EventType string
}

// DLQName returns the name of the paired dead-letter queue.
func (qs QueueSpec) DLQName() string {
	return qs.Name + dlqSuffix
}

// FailedRoutingKey returns the dead-letter routing key for the event type.
func (qs QueueSpec) FailedRoutingKey() string {
	return qs.EventType + failedSuffix
}

// dlxArgs returns queue declaration args wiring rejections to the DLX.
func (qs QueueSpec) dlxArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    DLXExchangeName,
		"x-dead-letter-routing-key": qs.FailedRoutingKey(),
	}
}

// DeclareTopology declares the durable topic exchange and its dead-letter
// exchange. Declaration is idempotent on the broker, so every service runs
// it at startup.
func DeclareTopology(ch TopologyChannel) error {
	if ch == nil {
		return fmt.Errorf("declare topology: %w", ErrChannelRequired)
	}

	if err := ch.ExchangeDeclare(ExchangeName, exchangeKindTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", ExchangeName, err)
	}

	if err := ch.ExchangeDeclare(DLXExchangeName, exchangeKindTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlx exchange %q: %w", DLXExchangeName, err)
	}

	return nil
}

// DeclareConsumerQueue declares a durable queue bound to the main exchange by
// its event type, plus the paired dead-letter queue bound to the DLX by
// "<event>.failed".
func DeclareConsumerQueue(ch TopologyChannel, spec QueueSpec) error {
	if ch == nil {
		return fmt.Errorf("declare consumer queue: %w", ErrChannelRequired)
	}

	if spec.Name == "" || spec.EventType == "" {
		return fmt.Errorf("declare consumer queue: queue name and event type are required")
	}

	if _, err := ch.QueueDeclare(spec.Name, true, false, false, false, spec.dlxArgs()); err != nil {
		return fmt.Errorf("declare queue %q: %w", spec.Name, err)
	}

	if err := ch.QueueBind(spec.Name, spec.EventType, ExchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue %q to %q: %w", spec.Name, ExchangeName, err)
	}

	if _, err := ch.QueueDeclare(spec.DLQName(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq %q: %w", spec.DLQName(), err)
	}

	if err := ch.QueueBind(spec.DLQName(), spec.FailedRoutingKey(), DLXExchangeName, false, nil); err != nil {
		return fmt.Errorf("bind dlq %q to %q: %w", spec.DLQName(), DLXExchangeName, err)
	}

	return nil
}
