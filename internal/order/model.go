// Package order implements the order service domain: order intake over HTTP,
// atomic staging of order.created events, and application of processing
// results coming back from the processor service.
package order

import (
	"time"

	"github.com/Gwatamalou/orderprocessor/internal/events"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Item is one line of an order.
type Item struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// Order is the aggregate owned by the order service.
type Order struct {
	ID           string          `json:"id"`
	CustomerID   string          `json:"customer_id"`
	Items        []Item          `json:"items"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Status       Status          `json:"status"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewOrder builds a pending order, computing the total with decimal
// arithmetic. Input validation happens in the service before this point.
func NewOrder(customerID string, items []Item) *Order {
	total := decimal.Zero

	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	now := time.Now().UTC()

	return &Order{
		ID:          uuid.NewString(),
		CustomerID:  customerID,
		Items:       items,
		TotalAmount: total,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CreatedEvent builds the order.created payload announcing this order.
func (o *Order) CreatedEvent() events.OrderCreated {
	items := make([]events.OrderItem, 0, len(o.Items))

	for _, item := range o.Items {
		items = append(items, events.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}

	return events.OrderCreated{
		OrderID:     o.ID,
		CustomerID:  o.CustomerID,
		Items:       items,
		TotalAmount: o.TotalAmount,
		CreatedAt:   o.CreatedAt,
	}
}
