//go:build unit

package postgres

import (
	"context"
	"testing"
	"time"

	libPostgres "github.com/Gwatamalou/orderprocessor/internal/pkg/postgres"
	"github.com/stretchr/testify/require"
)

func TestNewRepository_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewRepository(nil)
	require.ErrorIs(t, err, ErrConnectionRequired)

	conn := &libPostgres.Connection{}

	_, err = NewRepository(conn, WithTableName(`outbox"; DROP TABLE orders; --`))
	require.ErrorIs(t, err, ErrInvalidIdentifier)

	repo, err := NewRepository(conn, WithTableName("outbox_messages_v2"))
	require.NoError(t, err)
	require.NotNil(t, repo)
}

func TestValidateIdentifier(t *testing.T) {
	t.Parallel()

	require.NoError(t, validateIdentifier("outbox_messages"))
	require.NoError(t, validateIdentifier("_shadow"))

	invalid := []string{
		"",
		"1table",
		"outbox-messages",
		"public.outbox",
		"outbox messages",
	}

	for _, candidate := range invalid {
		require.Error(t, validateIdentifier(candidate), candidate)
	}
}

func TestRepository_RejectsForeignTx(t *testing.T) {
	t.Parallel()

	conn := &libPostgres.Connection{}
	repo, err := NewRepository(conn)
	require.NoError(t, err)

	_, err = repo.FetchPending(context.Background(), nil, 10)
	require.ErrorIs(t, err, ErrTransactionRequired)

	err = repo.MarkProcessed(context.Background(), fakeTx{}, 1, time.Now().UTC())
	require.ErrorIs(t, err, ErrTransactionRequired)
}

type fakeTx struct{}

func (fakeTx) Commit() error   { return nil }
func (fakeTx) Rollback() error { return nil }
