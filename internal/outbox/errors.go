package outbox

import "errors"

var (
	// ErrRepositoryRequired is returned when a repository dependency is missing.
	ErrRepositoryRequired = errors.New("outbox repository is required")
	// ErrPublisherRequired is returned when a publisher dependency is missing.
	ErrPublisherRequired = errors.New("outbox publisher is required")
	// ErrStoreRequired is returned when a transactional store dependency is missing.
	ErrStoreRequired = errors.New("outbox store is required")
	// ErrDispatcherRequired is returned when a dispatcher method is called on a nil receiver.
	ErrDispatcherRequired = errors.New("outbox dispatcher is required")
	// ErrDispatcherRunning is returned when Run is called on an already running dispatcher.
	ErrDispatcherRunning = errors.New("outbox dispatcher already running")
	// ErrSweeperRequired is returned when a sweeper method is called on a nil receiver.
	ErrSweeperRequired = errors.New("outbox sweeper is required")

	// ErrAggregateIDRequired is returned when staging a message without an aggregate id.
	ErrAggregateIDRequired = errors.New("aggregate id is required")
	// ErrAggregateTypeRequired is returned when staging a message without an aggregate type.
	ErrAggregateTypeRequired = errors.New("aggregate type is required")
	// ErrEventTypeRequired is returned when staging a message without an event type.
	ErrEventTypeRequired = errors.New("event type is required")
	// ErrPayloadRequired is returned when staging a message without a payload.
	ErrPayloadRequired = errors.New("payload is required")
)
