package outbox

import (
	"context"
	"database/sql"
	"time"
)

// Tx is the transactional handle passed through the repository contract.
// *sql.Tx satisfies it, so staging runs inside the caller's business
// transaction without an adapter layer in the write path.
type Tx interface {
	Commit() error
	Rollback() error
}

// Store opens the transaction a dispatch cycle runs in.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// SQLStore adapts *sql.DB to the Store contract.
type SQLStore struct {
	DB *sql.DB
}

// Begin opens a read-write transaction on the underlying pool.
func (s SQLStore) Begin(ctx context.Context) (Tx, error) {
	return s.DB.BeginTx(ctx, nil)
}

// Repository defines persistence operations for outbox messages. Every
// row-level operation runs inside the transaction supplied by the caller;
// the repository never commits.
type Repository interface {
	// Stage inserts a pending message inside the caller's transaction.
	Stage(ctx context.Context, tx Tx, msg *Message) (*Message, error)
	// FetchPending returns up to limit pending messages, oldest first.
	FetchPending(ctx context.Context, tx Tx, limit int) ([]*Message, error)
	// MarkProcessed sets processed_at and clears the error message.
	MarkProcessed(ctx context.Context, tx Tx, id int64, processedAt time.Time) error
	// MarkFailed increments retry_count and records the failure reason.
	MarkFailed(ctx context.Context, tx Tx, id int64, errMsg string) error
	// PurgeOlderThan deletes processed messages older than age and returns
	// the number of rows removed.
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
