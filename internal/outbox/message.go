package outbox

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is one staged event row. A message is pending until ProcessedAt is
// set; RetryCount tracks failed publish attempts.
type Message struct {
	ID            int64
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	ErrorMessage  *string
}

// NewMessage builds a stageable message, marshalling the payload to JSON.
func NewMessage(aggregateID, aggregateType, eventType string, payload any) (*Message, error) {
	if aggregateID == "" {
		return nil, ErrAggregateIDRequired
	}

	if aggregateType == "" {
		return nil, ErrAggregateTypeRequired
	}

	if eventType == "" {
		return nil, ErrEventTypeRequired
	}

	if payload == nil {
		return nil, ErrPayloadRequired
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal outbox payload: %w", err)
	}

	return &Message{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       body,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Pending reports whether the message still awaits publication.
func (m *Message) Pending() bool {
	return m != nil && m.ProcessedAt == nil
}

// Poisoned reports whether the message has exhausted its retry budget and
// must be skipped without a publish attempt.
func (m *Message) Poisoned(maxRetries int) bool {
	return m != nil && m.RetryCount >= maxRetries
}
