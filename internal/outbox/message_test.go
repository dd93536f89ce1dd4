//go:build unit

package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	t.Parallel()

	msg, err := NewMessage("ord-1", "order", "order.created", map[string]string{"order_id": "ord-1"})

	require.NoError(t, err)
	assert.Equal(t, "ord-1", msg.AggregateID)
	assert.Equal(t, "order", msg.AggregateType)
	assert.Equal(t, "order.created", msg.EventType)
	assert.JSONEq(t, `{"order_id":"ord-1"}`, string(msg.Payload))
	assert.True(t, msg.Pending())
	assert.Zero(t, msg.RetryCount)
}

func TestNewMessage_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		aggregateID   string
		aggregateType string
		eventType     string
		payload       any
		wantErr       error
	}{
		{name: "missing aggregate id", aggregateType: "order", eventType: "order.created", payload: struct{}{}, wantErr: ErrAggregateIDRequired},
		{name: "missing aggregate type", aggregateID: "a", eventType: "order.created", payload: struct{}{}, wantErr: ErrAggregateTypeRequired},
		{name: "missing event type", aggregateID: "a", aggregateType: "order", payload: struct{}{}, wantErr: ErrEventTypeRequired},
		{name: "missing payload", aggregateID: "a", aggregateType: "order", eventType: "order.created", wantErr: ErrPayloadRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewMessage(tt.aggregateID, tt.aggregateType, tt.eventType, tt.payload)

			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewMessage_UnmarshalablePayload(t *testing.T) {
	t.Parallel()

	_, err := NewMessage("a", "order", "order.created", make(chan int))

	require.Error(t, err)
}

func TestMessagePending(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	assert.True(t, (&Message{}).Pending())
	assert.False(t, (&Message{ProcessedAt: &now}).Pending())

	var nilMsg *Message

	assert.False(t, nilMsg.Pending())
}

func TestMessagePoisoned(t *testing.T) {
	t.Parallel()

	assert.False(t, (&Message{RetryCount: 2}).Poisoned(3))
	assert.True(t, (&Message{RetryCount: 3}).Poisoned(3))
	assert.True(t, (&Message{RetryCount: 7}).Poisoned(3))
}
