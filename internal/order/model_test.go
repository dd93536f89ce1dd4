//go:build unit

package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, true},
		{StatusProcessing, true},
		{StatusCompleted, true},
		{StatusFailed, true},
		{Status(""), false},
		{Status("shipped"), false},
		{Status("PENDING"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tt.status.Valid())
		})
	}
}

func TestNewOrder(t *testing.T) {
	t.Parallel()

	items := []Item{
		{ProductID: "prod-1", Quantity: 3, Price: decimal.RequireFromString("9.99")},
		{ProductID: "prod-2", Quantity: 1, Price: decimal.RequireFromString("0.01")},
	}

	order := NewOrder("cust-1", items)

	require.NotNil(t, order)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, "cust-1", order.CustomerID)
	assert.Equal(t, StatusPending, order.Status)
	assert.True(t, order.Status.Valid())
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("29.98")),
		"total was %s", order.TotalAmount)
	assert.Equal(t, order.CreatedAt, order.UpdatedAt)
}
