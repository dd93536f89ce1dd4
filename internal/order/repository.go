package order

import (
	"context"
	"errors"

	"github.com/Gwatamalou/orderprocessor/internal/outbox"
)

// Repository errors.
var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrRepositoryRequired = errors.New("order repository is required")
)

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts the order inside the caller's transaction.
	Create(ctx context.Context, tx outbox.Tx, order *Order) error
	// GetByID returns the order or ErrOrderNotFound.
	GetByID(ctx context.Context, id string) (*Order, error)
	// ApplyResult overwrites the order's terminal state. It reports false
	// when no order with that id exists.
	ApplyResult(ctx context.Context, id string, status Status, errMsg *string) (bool, error)
}
