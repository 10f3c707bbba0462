// Package storetest is a conformance suite every inventory.Store must pass.
// Each store package calls Run from its own tests with a constructor.
package storetest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/stock-engine/inventory"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) inventory.Store

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("ListFilters", func(t *testing.T) { testListFilters(t, newStore(t)) })
	t.Run("UpdateKeepsCounters", func(t *testing.T) { testUpdateKeepsCounters(t, newStore(t)) })
	t.Run("MutateAppends", func(t *testing.T) { testMutateAppends(t, newStore(t)) })
	t.Run("MutateRejectWritesNothing", func(t *testing.T) { testMutateRejectWritesNothing(t, newStore(t)) })
	t.Run("MutateConstraintViolation", func(t *testing.T) { testMutateConstraintViolation(t, newStore(t)) })
	t.Run("DuplicateIdempotencyKey", func(t *testing.T) { testDuplicateIdempotencyKey(t, newStore(t)) })
	t.Run("StockLogPaging", func(t *testing.T) { testStockLogPaging(t, newStore(t)) })
	t.Run("ConcurrentAllocationsNeverOversell", func(t *testing.T) { testNoOversell(t, newStore(t)) })
}

// =============================================================================
// HELPERS
// =============================================================================

var clock = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func seedItem(t *testing.T, s inventory.Store, name string, quantity int64) inventory.Item {
	t.Helper()
	item := inventory.Item{
		ID:           uuid.NewString(),
		Name:         name,
		SKU:          "SKU-" + name,
		Category:     "panels",
		ModelNumber:  "MN-" + name,
		MinimumStock: 2,
		Quantity:     quantity,
		Active:       true,
		Version:      1,
		CreatedBy:    "tester",
		CreatedAt:    clock,
		UpdatedAt:    clock,
	}
	var initial *inventory.StockLogEntry
	if quantity > 0 {
		initial = &inventory.StockLogEntry{
			ID:             uuid.NewString(),
			Type:           inventory.EntryInitial,
			QuantityChange: quantity,
			CreatedBy:      "tester",
			CreatedAt:      clock,
		}
	}
	created, err := s.CreateItem(context.Background(), item, initial)
	require.NoError(t, err)
	return created
}

func entry(t inventory.EntryType, change int64, key string) inventory.StockLogEntry {
	return inventory.StockLogEntry{
		ID:             uuid.NewString(),
		Type:           t,
		QuantityChange: change,
		CreatedBy:      "tester",
		IdempotencyKey: key,
		CreatedAt:      clock.Add(time.Minute),
	}
}

func receive(amount int64, key string) inventory.DecideFunc {
	return func(inventory.Item) (inventory.Delta, error) {
		return inventory.Delta{Quantity: amount, Entry: entry(inventory.EntryReceived, amount, key)}, nil
	}
}

func allocate(amount int64, key string) inventory.DecideFunc {
	return func(inventory.Item) (inventory.Delta, error) {
		return inventory.Delta{Reserved: amount, Entry: entry(inventory.EntryAllocated, amount, key)}, nil
	}
}

// =============================================================================
// CASES
// =============================================================================

func testCreateAndGet(t *testing.T, s inventory.Store) {
	ctx := context.Background()

	// GIVEN: an item created with 10 units
	created := seedItem(t, s, "panel", 10)

	// WHEN: it is read back
	got, err := s.GetItem(ctx, created.ID)
	require.NoError(t, err)

	// THEN: every field survives the round trip
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "panel", got.Name)
	assert.Equal(t, "SKU-panel", got.SKU)
	assert.Equal(t, "panels", got.Category)
	assert.Equal(t, int64(2), got.MinimumStock)
	assert.Equal(t, int64(10), got.Quantity)
	assert.Equal(t, int64(0), got.ReservedQuantity)
	assert.True(t, got.Active)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "tester", got.CreatedBy)
	assert.True(t, clock.Equal(got.CreatedAt), "created_at %v", got.CreatedAt)

	// AND: the initial entry is in the log
	log, err := s.StockLog(ctx, created.ID, inventory.Page{})
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, inventory.EntryInitial, log[0].Type)
	assert.Equal(t, int64(10), log[0].QuantityChange)
	assert.Equal(t, created.ID, log[0].ItemID)
	assert.Positive(t, log[0].Seq)
}

func testGetMissing(t *testing.T, s inventory.Store) {
	_, err := s.GetItem(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, inventory.ErrNotFound)

	_, _, err = s.Mutate(context.Background(), uuid.NewString(), receive(1, ""))
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func testListFilters(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	a := seedItem(t, s, "alpha", 1)
	b := seedItem(t, s, "bravo", 1)
	c := seedItem(t, s, "charlie", 0)

	_, err := s.UpdateItem(ctx, b.ID, func(it *inventory.Item) error {
		it.Category = "inverters"
		return nil
	})
	require.NoError(t, err)
	_, err = s.UpdateItem(ctx, c.ID, func(it *inventory.Item) error {
		it.Active = false
		return nil
	})
	require.NoError(t, err)

	ids := func(items []inventory.Item) []string {
		out := make([]string, len(items))
		for i, it := range items {
			out[i] = it.ID
		}
		return out
	}

	// Default view: active only, ordered by name
	items, err := s.ListItems(ctx, inventory.ItemFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID}, ids(items))

	// Category match is case-insensitive
	items, err = s.ListItems(ctx, inventory.ItemFilter{Category: "INVERTERS"})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, ids(items))

	// Search covers name, SKU and model number
	items, err = s.ListItems(ctx, inventory.ItemFilter{SearchTerm: "mn-alp"})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, ids(items))

	inactive := false
	items, err = s.ListItems(ctx, inventory.ItemFilter{Active: &inactive})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, ids(items))
}

func testUpdateKeepsCounters(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	item := seedItem(t, s, "panel", 10)

	// WHEN: the update callback tries to touch stock counters
	updated, err := s.UpdateItem(ctx, item.ID, func(it *inventory.Item) error {
		it.Name = "panel v2"
		it.Quantity = 999
		it.ReservedQuantity = 5
		it.MinimumStock = 50
		return nil
	})
	require.NoError(t, err)

	// THEN: only descriptive fields changed
	assert.Equal(t, "panel v2", updated.Name)
	assert.Equal(t, int64(10), updated.Quantity)
	assert.Equal(t, int64(0), updated.ReservedQuantity)
	assert.Equal(t, int64(2), updated.MinimumStock)
	assert.Equal(t, item.Version+1, updated.Version)

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "panel v2", got.Name)
	assert.Equal(t, int64(10), got.Quantity)
}

func testMutateAppends(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	item := seedItem(t, s, "panel", 10)

	after, e1, err := s.Mutate(ctx, item.ID, receive(5, ""))
	require.NoError(t, err)
	assert.Equal(t, int64(15), after.Quantity)
	assert.Equal(t, item.Version+1, after.Version)

	after, e2, err := s.Mutate(ctx, item.ID, allocate(4, ""))
	require.NoError(t, err)
	assert.Equal(t, int64(15), after.Quantity)
	assert.Equal(t, int64(4), after.ReservedQuantity)
	assert.Greater(t, e2.Seq, e1.Seq)

	got, log, err := s.History(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, after.Quantity, got.Quantity)
	assert.Equal(t, after.ReservedQuantity, got.ReservedQuantity)
	require.Len(t, log, 3)
	assert.Equal(t, inventory.EntryInitial, log[0].Type)
	assert.Equal(t, inventory.EntryReceived, log[1].Type)
	assert.Equal(t, inventory.EntryAllocated, log[2].Type)

	q, r := inventory.Replay(log)
	assert.Equal(t, got.Quantity, q)
	assert.Equal(t, got.ReservedQuantity, r)
}

func testMutateRejectWritesNothing(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	item := seedItem(t, s, "panel", 10)
	boom := fmt.Errorf("%w: nope", inventory.ErrInvalidAmount)

	_, _, err := s.Mutate(ctx, item.ID, func(inventory.Item) (inventory.Delta, error) {
		return inventory.Delta{}, boom
	})
	assert.ErrorIs(t, err, inventory.ErrInvalidAmount)

	got, log, err := s.History(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Version, got.Version)
	assert.Len(t, log, 1)
}

func testMutateConstraintViolation(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	item := seedItem(t, s, "panel", 3)

	// A decide that ignores availability is still stopped by the reservation bound.
	_, _, err := s.Mutate(ctx, item.ID, allocate(4, ""))
	assert.ErrorIs(t, err, inventory.ErrConstraintViolation)

	got, log, err := s.History(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.ReservedQuantity)
	assert.Len(t, log, 1)
}

func testDuplicateIdempotencyKey(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	item := seedItem(t, s, "panel", 10)
	other := seedItem(t, s, "rail", 10)

	_, _, err := s.Mutate(ctx, item.ID, receive(5, "po-1001"))
	require.NoError(t, err)

	// Same key on the same item
	_, _, err = s.Mutate(ctx, item.ID, receive(5, "po-1001"))
	assert.ErrorIs(t, err, inventory.ErrDuplicateIdempotencyKey)

	// Keys are unique across the whole log, not per item
	_, _, err = s.Mutate(ctx, other.ID, receive(5, "po-1001"))
	assert.ErrorIs(t, err, inventory.ErrDuplicateIdempotencyKey)

	got, log, err := s.History(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), got.Quantity)
	assert.Len(t, log, 2)

	got, _, err = s.History(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Quantity)
}

func testStockLogPaging(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	item := seedItem(t, s, "panel", 1)
	for i := 0; i < 4; i++ {
		_, _, err := s.Mutate(ctx, item.ID, receive(1, ""))
		require.NoError(t, err)
	}

	all, err := s.StockLog(ctx, item.ID, inventory.Page{})
	require.NoError(t, err)
	require.Len(t, all, 5)

	page, err := s.StockLog(ctx, item.ID, inventory.Page{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, all[1].ID, page[0].ID)
	assert.Equal(t, all[2].ID, page[1].ID)

	page, err = s.StockLog(ctx, item.ID, inventory.Page{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func testNoOversell(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	engine := inventory.NewEngine(s)
	item, err := engine.CreateItem(ctx, inventory.NewItem{
		Details:         inventory.Details{Name: "flash sale panel"},
		InitialQuantity: 20,
	})
	require.NoError(t, err)

	// WHEN: 50 callers each try to allocate 1 unit at once
	var ok, rejected atomic.Int64
	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			_, err := engine.Allocate(ctx, inventory.Movement{ItemID: item.ID, Amount: 1, Actor: "buyer"})
			switch {
			case err == nil:
				ok.Add(1)
			case inventory.IsClientError(err):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// THEN: exactly 20 win and the log agrees
	assert.Equal(t, int64(20), ok.Load())
	assert.Equal(t, int64(30), rejected.Load())

	rec, err := engine.Reconcile(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent())
	assert.Equal(t, int64(20), rec.ReservedQuantity)
	assert.Equal(t, 21, rec.Entries)
}
