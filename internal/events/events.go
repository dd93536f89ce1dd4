// Package events defines the payload contracts exchanged between the order
// and processor services through the broker.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Event types double as routing keys on the event exchange.
const (
	TypeOrderCreated   = "order.created"
	TypeOrderProcessed = "order.processed"
)

// Terminal processing outcomes carried by an OrderProcessed event.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// ErrMalformedEvent marks payloads that cannot be decoded into a known event
// shape. Consumers treat it as a permanent failure and dead-letter the
// delivery instead of retrying it.
var ErrMalformedEvent = errors.New("malformed event payload")

// OrderItem is one line of an order as carried in events.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// OrderCreated announces that an order row was committed on the order service.
type OrderCreated struct {
	OrderID     string          `json:"order_id"`
	CustomerID  string          `json:"customer_id"`
	Items       []OrderItem     `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Validate checks the structural requirements of the contract. Business
// rules (positive quantities, non-empty items) are the processor's concern
// and produce a failed processing outcome, not a malformed event.
func (e OrderCreated) Validate() error {
	if e.OrderID == "" {
		return fmt.Errorf("%w: order_id is required", ErrMalformedEvent)
	}

	if e.CustomerID == "" {
		return fmt.Errorf("%w: customer_id is required", ErrMalformedEvent)
	}

	if e.Items == nil {
		return fmt.Errorf("%w: items is required", ErrMalformedEvent)
	}

	return nil
}

// OrderProcessed reports the terminal outcome of processing one order.
type OrderProcessed struct {
	OrderID      string  `json:"order_id"`
	Status       string  `json:"status"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// Validate checks the structural requirements of the contract.
func (e OrderProcessed) Validate() error {
	if e.OrderID == "" {
		return fmt.Errorf("%w: order_id is required", ErrMalformedEvent)
	}

	if e.Status != OutcomeCompleted && e.Status != OutcomeFailed {
		return fmt.Errorf("%w: status %q is not a terminal outcome", ErrMalformedEvent, e.Status)
	}

	return nil
}

// DecodeOrderCreated parses and validates an order.created payload.
func DecodeOrderCreated(payload []byte) (OrderCreated, error) {
	var event OrderCreated

	if err := json.Unmarshal(payload, &event); err != nil {
		return OrderCreated{}, fmt.Errorf("%w: %s", ErrMalformedEvent, err)
	}

	if err := event.Validate(); err != nil {
		return OrderCreated{}, err
	}

	return event, nil
}

// DecodeOrderProcessed parses and validates an order.processed payload.
func DecodeOrderProcessed(payload []byte) (OrderProcessed, error) {
	var event OrderProcessed

	if err := json.Unmarshal(payload, &event); err != nil {
		return OrderProcessed{}, fmt.Errorf("%w: %s", ErrMalformedEvent, err)
	}

	if err := event.Validate(); err != nil {
		return OrderProcessed{}, err
	}

	return event, nil
}
