/*
store.go - Persistence contract for items and the stock log

PURPOSE:
  Defines the interface between the engine and its backing store. A store
  holds the item projection and the stock log and is the only place where
  both are written.

ATOMICITY CONTRACT:
  Mutate is the single quantity-changing write. A store must:
    1. take exclusive access to the item (mutex, row lock, single writer)
    2. read the item under that exclusivity
    3. call decide with the post-lock state
    4. apply the returned Delta through Item.ApplyDelta (bounds check)
    5. persist the new projection and append the entry together
  If any step fails nothing is written. Operations on different items must
  not block each other unless the backing engine itself is single-writer.

APPEND-ONLY CONTRACT:
  There is no method to update or delete a StockLogEntry.

IMPLEMENTATIONS:
  - inventory/store: in-memory, per-item mutexes
  - store/sqlite:    SQLite (single writer)
  - store/mysql:     MySQL/InnoDB (SELECT ... FOR UPDATE)
  - store/rediscache: read-through cache in front of any of the above
*/
package inventory

import (
	"context"
	"time"
)

// DecideFunc inspects the locked, current item and returns the change to
// apply, or an error to abort without writing anything.
type DecideFunc func(current Item) (Delta, error)

// Store persists items and their stock log.
type Store interface {
	// CreateItem inserts a new item. If initial is non-nil it is appended in
	// the same atomic unit and its Seq is filled in.
	CreateItem(ctx context.Context, item Item, initial *StockLogEntry) (Item, error)

	// GetItem returns the item or ErrNotFound. Inactive items are returned.
	GetItem(ctx context.Context, id string) (Item, error)

	// ListItems returns items matching filter ordered by name.
	ListItems(ctx context.Context, filter ItemFilter) ([]Item, error)

	// UpdateItem changes descriptive fields and the active flag. Changes fn
	// makes to Quantity, ReservedQuantity or MinimumStock are discarded.
	UpdateItem(ctx context.Context, id string, fn func(*Item) error) (Item, error)

	// Mutate runs the read-validate-write-append sequence for one item.
	Mutate(ctx context.Context, id string, decide DecideFunc) (Item, StockLogEntry, error)

	// StockLog returns the item's entries in Seq order.
	StockLog(ctx context.Context, id string, page Page) ([]StockLogEntry, error)

	// History returns the item and its complete log as of the same instant.
	History(ctx context.Context, id string) (Item, []StockLogEntry, error)
}

// Prepare runs decide against current and builds what a store must write:
// the next projection (version bumped) and the entry to append. Every store
// calls it inside its critical section so the rules live in one place.
func Prepare(current Item, decide DecideFunc) (Item, StockLogEntry, error) {
	d, err := decide(current)
	if err != nil {
		return current, StockLogEntry{}, err
	}

	next, err := current.ApplyDelta(d.Quantity, d.Reserved)
	if err != nil {
		return current, StockLogEntry{}, err
	}

	entry := d.Entry
	entry.ItemID = current.ID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	next.Version++
	next.UpdatedAt = entry.CreatedAt
	return next, entry, nil
}

// KeepCounters restores the stock counters of before onto after, so detail
// updates can never move stock.
func KeepCounters(before Item, after *Item) {
	after.ID = before.ID
	after.Quantity = before.Quantity
	after.ReservedQuantity = before.ReservedQuantity
	after.MinimumStock = before.MinimumStock
	after.Version = before.Version
	after.CreatedAt = before.CreatedAt
	after.CreatedBy = before.CreatedBy
}
