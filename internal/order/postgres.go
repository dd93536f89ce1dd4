package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Gwatamalou/orderprocessor/internal/outbox"
	libPostgres "github.com/Gwatamalou/orderprocessor/internal/pkg/postgres"
	"github.com/shopspring/decimal"
)

// ErrTransactionRequired is returned when a tx handle is not a *sql.Tx.
var ErrTransactionRequired = errors.New("postgres transaction is required")

// PostgresRepository is the PostgreSQL implementation of Repository.
type PostgresRepository struct {
	conn *libPostgres.Connection
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a PostgreSQL order repository.
func NewPostgresRepository(conn *libPostgres.Connection) (*PostgresRepository, error) {
	if conn == nil {
		return nil, errors.New("postgres connection is required")
	}

	return &PostgresRepository{conn: conn}, nil
}

// Create inserts the order inside the caller's transaction.
func (repo *PostgresRepository) Create(ctx context.Context, tx outbox.Tx, order *Order) error {
	sqlTx, ok := tx.(*sql.Tx)
	if !ok || sqlTx == nil {
		return ErrTransactionRequired
	}

	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("marshal order items: %w", err)
	}

	query := `INSERT INTO orders
		(id, customer_id, items, total_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = sqlTx.ExecContext(ctx, query,
		order.ID, order.CustomerID, items, order.TotalAmount, string(order.Status),
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", order.ID, err)
	}

	return nil
}

// GetByID returns the order or ErrOrderNotFound.
func (repo *PostgresRepository) GetByID(ctx context.Context, id string) (*Order, error) {
	db, err := repo.conn.GetDB(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, customer_id, items, total_amount, status, error_message, created_at, updated_at
		FROM orders WHERE id = $1`

	var (
		order        Order
		items        []byte
		total        string
		status       string
		errorMessage sql.NullString
	)

	row := db.QueryRowContext(ctx, query, id)

	err = row.Scan(&order.ID, &order.CustomerID, &items, &total, &status,
		&errorMessage, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}

	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}

	order.TotalAmount, err = decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("parse order total: %w", err)
	}

	order.Status = Status(status)
	if !order.Status.Valid() {
		return nil, fmt.Errorf("order %s has unknown status %q", id, status)
	}

	if errorMessage.Valid {
		msg := errorMessage.String
		order.ErrorMessage = &msg
	}

	return &order, nil
}

// ApplyResult overwrites the order's terminal state.
func (repo *PostgresRepository) ApplyResult(ctx context.Context, id string, status Status, errMsg *string) (bool, error) {
	db, err := repo.conn.GetDB(ctx)
	if err != nil {
		return false, err
	}

	query := `UPDATE orders
		SET status = $2, error_message = $3, updated_at = $4
		WHERE id = $1`

	result, err := db.ExecContext(ctx, query, id, string(status), errMsg, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("apply result to order %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("count updated orders: %w", err)
	}

	return affected > 0, nil
}
