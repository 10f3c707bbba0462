package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplay(t *testing.T) {
	entries := []StockLogEntry{
		{Type: EntryInitial, QuantityChange: 10},
		{Type: EntryReceived, QuantityChange: 5},
		{Type: EntryAllocated, QuantityChange: 6},
		{Type: EntryCommitted, QuantityChange: -4},
		{Type: EntryReleased, QuantityChange: -1},
		{Type: EntryAdjusted, QuantityChange: -3},
	}

	q, r := Replay(entries)

	assert.Equal(t, int64(8), q)
	assert.Equal(t, int64(1), r)
}

func TestReplay_Empty(t *testing.T) {
	q, r := Replay(nil)
	assert.Zero(t, q)
	assert.Zero(t, r)
}

func TestReconcile(t *testing.T) {
	entries := []StockLogEntry{
		{Type: EntryReceived, QuantityChange: 4},
		{Type: EntryAllocated, QuantityChange: 2},
	}

	ok := Reconcile(Item{ID: "a", Quantity: 4, ReservedQuantity: 2}, entries)
	assert.True(t, ok.Consistent())
	assert.Equal(t, 2, ok.Entries)

	drift := Reconcile(Item{ID: "a", Quantity: 5, ReservedQuantity: 2}, entries)
	assert.False(t, drift.Consistent())
}

func TestApplyDelta(t *testing.T) {
	it := Item{ID: "a", Quantity: 5, ReservedQuantity: 2}

	next, err := it.ApplyDelta(-1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), next.Quantity)
	assert.Equal(t, int64(3), next.ReservedQuantity)
	assert.Equal(t, int64(5), it.Quantity, "receiver must not change")

	cases := []struct {
		name     string
		q, r     int64
		violates bool
	}{
		{"negative quantity", -6, 0, true},
		{"negative reserved", 0, -3, true},
		{"reserved above quantity", 0, 4, true},
		{"reserved equals quantity", 0, 3, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := it.ApplyDelta(tc.q, tc.r)
			if tc.violates {
				assert.ErrorIs(t, err, ErrConstraintViolation)
				assert.True(t, IsFatal(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestItemFilter(t *testing.T) {
	it := Item{Name: "Rail 4m", SKU: "RL-4", ModelNumber: "XR100", Category: "Racking", Active: true}

	assert.True(t, ItemFilter{}.Matches(it))
	assert.True(t, ItemFilter{Category: "racking"}.Matches(it))
	assert.True(t, ItemFilter{SearchTerm: "xr1"}.Matches(it))
	assert.False(t, ItemFilter{SearchTerm: "panel"}.Matches(it))

	inactive := false
	assert.False(t, ItemFilter{Active: &inactive}.Matches(it))
}

func TestPageSlice(t *testing.T) {
	entries := make([]StockLogEntry, 5)
	for i := range entries {
		entries[i].Seq = int64(i + 1)
	}

	assert.Len(t, Page{}.Slice(entries), 5)
	assert.Len(t, Page{Offset: 3}.Slice(entries), 2)
	assert.Len(t, Page{Offset: 1, Limit: 2}.Slice(entries), 2)
	assert.Empty(t, Page{Offset: 9}.Slice(entries))
	assert.Equal(t, int64(2), Page{Offset: 1, Limit: 1}.Slice(entries)[0].Seq)
}

func TestStorage(t *testing.T) {
	assert.Nil(t, Storage("op", nil))
	assert.Equal(t, ErrNotFound, Storage("op", ErrNotFound))

	err := Storage("op", assert.AnError)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, IsRetryable(err))
}
