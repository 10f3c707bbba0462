package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/inventory"
	"github.com/warp/stock-engine/inventory/storetest"
)

func TestMemory_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) inventory.Store {
		return NewMemory()
	})
}

func TestMemory_CreateRejectsBrokenInvariants(t *testing.T) {
	m := NewMemory()

	_, err := m.CreateItem(context.Background(), inventory.Item{
		ID:               "broken",
		Name:             "broken",
		Quantity:         1,
		ReservedQuantity: 2,
	}, nil)
	assert.ErrorIs(t, err, inventory.ErrConstraintViolation)

	_, err = m.GetItem(context.Background(), "broken")
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestMemory_StockLogReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.CreateItem(ctx, inventory.Item{ID: "a", Name: "a", Quantity: 5, Active: true}, &inventory.StockLogEntry{
		ID:             "e1",
		Type:           inventory.EntryInitial,
		QuantityChange: 5,
	})
	require.NoError(t, err)

	log, err := m.StockLog(ctx, "a", inventory.Page{})
	require.NoError(t, err)
	require.Len(t, log, 1)
	log[0].QuantityChange = 500

	again, err := m.StockLog(ctx, "a", inventory.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), again[0].QuantityChange)
}
