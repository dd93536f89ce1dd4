package processor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Gwatamalou/orderprocessor/internal/outbox"
	libPostgres "github.com/Gwatamalou/orderprocessor/internal/pkg/postgres"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// ErrTransactionRequired is returned when a tx handle is not a *sql.Tx.
var ErrTransactionRequired = errors.New("postgres transaction is required")

const pgUniqueViolation = "23505"

// PostgresRepository is the PostgreSQL implementation of Repository.
type PostgresRepository struct {
	conn *libPostgres.Connection
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a PostgreSQL processing record repository.
func NewPostgresRepository(conn *libPostgres.Connection) (*PostgresRepository, error) {
	if conn == nil {
		return nil, errors.New("postgres connection is required")
	}

	return &PostgresRepository{conn: conn}, nil
}

// Create inserts the record inside the caller's transaction. The unique
// constraint on order_id turns concurrent duplicates into ErrDuplicateRecord.
func (repo *PostgresRepository) Create(ctx context.Context, tx outbox.Tx, record *Record) error {
	sqlTx, ok := tx.(*sql.Tx)
	if !ok || sqlTx == nil {
		return ErrTransactionRequired
	}

	items, err := json.Marshal(record.Items)
	if err != nil {
		return fmt.Errorf("marshal record items: %w", err)
	}

	query := `INSERT INTO processing_records
		(id, order_id, customer_id, items, total_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = sqlTx.ExecContext(ctx, query,
		record.ID, record.OrderID, record.CustomerID, items, record.TotalAmount,
		string(record.Status), record.CreatedAt, record.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: order %s", ErrDuplicateRecord, record.OrderID)
		}

		return fmt.Errorf("insert processing record for order %s: %w", record.OrderID, err)
	}

	return nil
}

// ApplyOutcome sets the record's terminal state inside the caller's transaction.
func (repo *PostgresRepository) ApplyOutcome(ctx context.Context, tx outbox.Tx, orderID string, status Status, errMsg *string, processedAt time.Time) error {
	sqlTx, ok := tx.(*sql.Tx)
	if !ok || sqlTx == nil {
		return ErrTransactionRequired
	}

	query := `UPDATE processing_records
		SET status = $2, error_message = $3, processed_at = $4, updated_at = $4
		WHERE order_id = $1`

	result, err := sqlTx.ExecContext(ctx, query, orderID, string(status), errMsg, processedAt)
	if err != nil {
		return fmt.Errorf("apply outcome to order %s: %w", orderID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("count updated processing records: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: order %s", ErrRecordNotFound, orderID)
	}

	return nil
}

// GetByOrderID returns the record for an order or ErrRecordNotFound.
func (repo *PostgresRepository) GetByOrderID(ctx context.Context, orderID string) (*Record, error) {
	db, err := repo.conn.GetDB(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, order_id, customer_id, items, total_amount, status, error_message,
		created_at, processed_at, updated_at
		FROM processing_records WHERE order_id = $1`

	var (
		record       Record
		items        []byte
		total        string
		status       string
		errorMessage sql.NullString
		processedAt  sql.NullTime
	)

	row := db.QueryRowContext(ctx, query, orderID)

	err = row.Scan(&record.ID, &record.OrderID, &record.CustomerID, &items, &total,
		&status, &errorMessage, &record.CreatedAt, &processedAt, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get processing record for order %s: %w", orderID, err)
	}

	if err := json.Unmarshal(items, &record.Items); err != nil {
		return nil, fmt.Errorf("unmarshal record items: %w", err)
	}

	record.TotalAmount, err = decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("parse record total: %w", err)
	}

	record.Status = Status(status)

	if errorMessage.Valid {
		msg := errorMessage.String
		record.ErrorMessage = &msg
	}

	if processedAt.Valid {
		at := processedAt.Time
		record.ProcessedAt = &at
	}

	return &record, nil
}
