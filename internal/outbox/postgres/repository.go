// Package postgres persists outbox messages in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/Gwatamalou/orderprocessor/internal/outbox"
	libPostgres "github.com/Gwatamalou/orderprocessor/internal/pkg/postgres"
)

var (
	ErrConnectionRequired   = errors.New("postgres connection is required")
	ErrTransactionRequired  = errors.New("postgres transaction is required")
	ErrMessageRequired      = errors.New("outbox message is required")
	ErrLimitMustBePositive  = errors.New("limit must be greater than zero")
	ErrIDRequired           = errors.New("id is required")
	ErrInvalidIdentifier    = errors.New("invalid sql identifier")
	ErrRetentionMustBeValid = errors.New("retention age must be greater than zero")

	identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)
)

const defaultTableName = "outbox_messages"

const messageColumns = "id, aggregate_id, aggregate_type, event_type, payload, created_at, processed_at, retry_count, error_message"

// Option configures a Repository.
type Option func(*Repository)

// WithTableName overrides the outbox table name.
func WithTableName(tableName string) Option {
	return func(repo *Repository) {
		if tableName != "" {
			repo.tableName = tableName
		}
	}
}

// Repository is the PostgreSQL implementation of outbox.Repository.
type Repository struct {
	conn      *libPostgres.Connection
	tableName string
}

var _ outbox.Repository = (*Repository)(nil)

// NewRepository creates a PostgreSQL outbox repository.
func NewRepository(conn *libPostgres.Connection, opts ...Option) (*Repository, error) {
	if conn == nil {
		return nil, ErrConnectionRequired
	}

	repo := &Repository{
		conn:      conn,
		tableName: defaultTableName,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}

	if err := validateIdentifier(repo.tableName); err != nil {
		return nil, fmt.Errorf("table name: %w", err)
	}

	return repo, nil
}

func validateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}

	return nil
}

func asSQLTx(tx outbox.Tx) (*sql.Tx, error) {
	sqlTx, ok := tx.(*sql.Tx)
	if !ok || sqlTx == nil {
		return nil, ErrTransactionRequired
	}

	return sqlTx, nil
}

// Stage inserts a pending message inside the caller's transaction. The row
// becomes visible to the dispatcher only when the caller commits.
func (repo *Repository) Stage(ctx context.Context, tx outbox.Tx, msg *outbox.Message) (*outbox.Message, error) {
	sqlTx, err := asSQLTx(tx)
	if err != nil {
		return nil, err
	}

	if msg == nil {
		return nil, ErrMessageRequired
	}

	query := `INSERT INTO ` + repo.tableName + `
		(aggregate_id, aggregate_type, event_type, payload, created_at, retry_count)
		VALUES ($1, $2, $3, $4, $5, 0)
		RETURNING id`

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := sqlTx.QueryRowContext(ctx, query,
		msg.AggregateID, msg.AggregateType, msg.EventType, msg.Payload, createdAt)

	if err := row.Scan(&msg.ID); err != nil {
		return nil, fmt.Errorf("stage outbox message: %w", err)
	}

	msg.CreatedAt = createdAt

	return msg, nil
}

// FetchPending returns up to limit pending messages, oldest first.
func (repo *Repository) FetchPending(ctx context.Context, tx outbox.Tx, limit int) ([]*outbox.Message, error) {
	sqlTx, err := asSQLTx(tx)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		return nil, ErrLimitMustBePositive
	}

	query := `SELECT ` + messageColumns + `
		FROM ` + repo.tableName + `
		WHERE processed_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`

	rows, err := sqlTx.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []*outbox.Message

	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending outbox messages: %w", err)
	}

	return messages, nil
}

// MarkProcessed sets processed_at and clears the error message.
func (repo *Repository) MarkProcessed(ctx context.Context, tx outbox.Tx, id int64, processedAt time.Time) error {
	sqlTx, err := asSQLTx(tx)
	if err != nil {
		return err
	}

	if id <= 0 {
		return ErrIDRequired
	}

	query := `UPDATE ` + repo.tableName + `
		SET processed_at = $2, error_message = NULL
		WHERE id = $1`

	if _, err := sqlTx.ExecContext(ctx, query, id, processedAt); err != nil {
		return fmt.Errorf("mark outbox message %d processed: %w", id, err)
	}

	return nil
}

// MarkFailed increments retry_count and records the failure reason.
func (repo *Repository) MarkFailed(ctx context.Context, tx outbox.Tx, id int64, errMsg string) error {
	sqlTx, err := asSQLTx(tx)
	if err != nil {
		return err
	}

	if id <= 0 {
		return ErrIDRequired
	}

	query := `UPDATE ` + repo.tableName + `
		SET retry_count = retry_count + 1, error_message = $2
		WHERE id = $1`

	if _, err := sqlTx.ExecContext(ctx, query, id, errMsg); err != nil {
		return fmt.Errorf("mark outbox message %d failed: %w", id, err)
	}

	return nil
}

// PurgeOlderThan deletes processed messages older than age and returns the
// number of rows removed. Pending and poisoned rows are never purged.
func (repo *Repository) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		return 0, ErrRetentionMustBeValid
	}

	db, err := repo.conn.GetDB(ctx)
	if err != nil {
		return 0, err
	}

	query := `DELETE FROM ` + repo.tableName + `
		WHERE processed_at IS NOT NULL AND processed_at < $1`

	result, err := db.ExecContext(ctx, query, time.Now().UTC().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("purge processed outbox messages: %w", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count purged outbox messages: %w", err)
	}

	return purged, nil
}

func scanMessage(rows *sql.Rows) (*outbox.Message, error) {
	var (
		msg          outbox.Message
		processedAt  sql.NullTime
		errorMessage sql.NullString
	)

	err := rows.Scan(
		&msg.ID,
		&msg.AggregateID,
		&msg.AggregateType,
		&msg.EventType,
		&msg.Payload,
		&msg.CreatedAt,
		&processedAt,
		&msg.RetryCount,
		&errorMessage,
	)
	if err != nil {
		return nil, fmt.Errorf("scan outbox message: %w", err)
	}

	if processedAt.Valid {
		at := processedAt.Time
		msg.ProcessedAt = &at
	}

	if errorMessage.Valid {
		errMsg := errorMessage.String
		msg.ErrorMessage = &errMsg
	}

	return &msg, nil
}
