// Package processor implements the processor service domain: consuming
// order.created events, recording one processing attempt per order, and
// staging order.processed outcome events for the order service.
package processor

import (
	"time"

	"github.com/Gwatamalou/orderprocessor/internal/events"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a processing record.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Record is one processing attempt for an order. order_id carries a unique
// constraint, which is what makes redelivered events harmless.
type Record struct {
	ID           string             `json:"id"`
	OrderID      string             `json:"order_id"`
	CustomerID   string             `json:"customer_id"`
	Items        []events.OrderItem `json:"items"`
	TotalAmount  decimal.Decimal    `json:"total_amount"`
	Status       Status             `json:"status"`
	ErrorMessage *string            `json:"error_message,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	ProcessedAt  *time.Time         `json:"processed_at,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// NewRecord builds a processing record for an incoming order.created event.
func NewRecord(event events.OrderCreated) *Record {
	now := time.Now().UTC()

	return &Record{
		ID:          uuid.NewString(),
		OrderID:     event.OrderID,
		CustomerID:  event.CustomerID,
		Items:       event.Items,
		TotalAmount: event.TotalAmount,
		Status:      StatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// OutcomeEvent builds the order.processed payload reporting this record's
// terminal state.
func (r *Record) OutcomeEvent() events.OrderProcessed {
	outcome := events.OutcomeCompleted
	if r.Status == StatusFailed {
		outcome = events.OutcomeFailed
	}

	return events.OrderProcessed{
		OrderID:      r.OrderID,
		Status:       outcome,
		ErrorMessage: r.ErrorMessage,
	}
}
