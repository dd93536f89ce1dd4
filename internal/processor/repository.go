package processor

import (
	"context"
	"errors"
	"time"

	"github.com/Gwatamalou/orderprocessor/internal/outbox"
)

// Repository errors.
var (
	ErrRecordNotFound     = errors.New("processing record not found")
	ErrDuplicateRecord    = errors.New("processing record already exists for order")
	ErrRepositoryRequired = errors.New("processing record repository is required")
)

// Repository defines persistence operations for processing records.
type Repository interface {
	// Create inserts the record inside the caller's transaction. A second
	// record for the same order returns ErrDuplicateRecord.
	Create(ctx context.Context, tx outbox.Tx, record *Record) error
	// ApplyOutcome sets the record's terminal state inside the caller's
	// transaction.
	ApplyOutcome(ctx context.Context, tx outbox.Tx, orderID string, status Status, errMsg *string, processedAt time.Time) error
	// GetByOrderID returns the record for an order or ErrRecordNotFound.
	GetByOrderID(ctx context.Context, orderID string) (*Record, error)
}
