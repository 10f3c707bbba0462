/*
Package inventory provides the stock reservation engine.

PURPOSE:
  Tracks physical quantity, reservation and consumption of stocked items
  (panels, inverters, racking) against concurrent demand from order
  fulfillment, project allocation and manual corrections.

KEY CONCEPTS IN THIS FILE (types.go):
  - Item: the mutable projection (quantity on hand, quantity reserved)
  - StockLogEntry: an immutable record of one quantity-changing event
  - EntryType: which operation produced an entry
  - Movement: the arguments every stock operation takes

INVARIANTS:
  reservation bound: 0 <= ReservedQuantity <= Quantity after every write
  non-negative:      Quantity >= 0
  replayable log:    the stock log is append-only; replaying it in Seq order
                     reproduces Quantity and ReservedQuantity (see replay.go)

TWO-PHASE RESERVATION:
  allocate  promises stock without touching Quantity
  commit    fulfils a promise; the only operation that lowers Quantity
  release   abandons a promise; Quantity untouched

  Available = Quantity - ReservedQuantity is recomputed on every read, so
  a concurrent allocate always sees prior allocations.

SEE ALSO:
  - engine.go: the five state transitions
  - store.go: persistence contract
  - errors.go: error taxonomy
*/
package inventory

import (
	"strings"
	"time"
)

// =============================================================================
// ITEM - Current projection
// =============================================================================

// Item is the current state of one stocked item.
// Quantity and ReservedQuantity are only ever changed through ApplyDelta.
type Item struct {
	ID               string
	Name             string
	SKU              string
	Category         string
	ModelNumber      string
	Location         string // metadata only, no per-location ledgers
	MinimumStock     int64  // reorder threshold, fixed at creation
	Quantity         int64
	ReservedQuantity int64
	Active           bool
	Version          int64
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Available is the amount eligible for new allocation.
func (it Item) Available() int64 {
	return it.Quantity - it.ReservedQuantity
}

// NeedsReorder reports whether availability is at or below the threshold.
func (it Item) NeedsReorder() bool {
	return it.Available() <= it.MinimumStock
}

// ApplyDelta returns the item with both counters moved by the given deltas.
// It refuses the whole change if the result would break the reservation bound; the
// receiver is never modified.
func (it Item) ApplyDelta(quantityDelta, reservedDelta int64) (Item, error) {
	q := it.Quantity + quantityDelta
	r := it.ReservedQuantity + reservedDelta
	if q < 0 || r < 0 || r > q {
		return it, &ConstraintViolationError{
			ItemID:           it.ID,
			Quantity:         q,
			ReservedQuantity: r,
		}
	}
	it.Quantity = q
	it.ReservedQuantity = r
	return it, nil
}

// CheckInvariants reports a ConstraintViolationError if the stored counters
// already break the reservation bound.
func (it Item) CheckInvariants() error {
	_, err := it.ApplyDelta(0, 0)
	return err
}

// Details are the descriptive fields of an item.
type Details struct {
	Name        string
	SKU         string
	Category    string
	ModelNumber string
	Location    string
}

// NewItem describes an item to create.
type NewItem struct {
	Details
	InitialQuantity int64
	MinimumStock    int64
	CreatedBy       string
	Notes           string
}

// DetailsUpdate carries the non-quantity fields that may change after
// creation. Nil fields are left untouched. There is deliberately no way to
// set Quantity, ReservedQuantity or MinimumStock here.
type DetailsUpdate struct {
	Name        *string
	SKU         *string
	Category    *string
	ModelNumber *string
	Location    *string
}

// IsEmpty reports whether the update changes nothing.
func (u DetailsUpdate) IsEmpty() bool {
	return u.Name == nil && u.SKU == nil && u.Category == nil &&
		u.ModelNumber == nil && u.Location == nil
}

// Apply copies the set fields onto it.
func (u DetailsUpdate) Apply(it *Item) {
	if u.Name != nil {
		it.Name = *u.Name
	}
	if u.SKU != nil {
		it.SKU = *u.SKU
	}
	if u.Category != nil {
		it.Category = *u.Category
	}
	if u.ModelNumber != nil {
		it.ModelNumber = *u.ModelNumber
	}
	if u.Location != nil {
		it.Location = *u.Location
	}
}

// ItemFilter narrows ListItems. A nil Active means "active only", which is
// the default view; set it explicitly to see inactive items.
type ItemFilter struct {
	Active     *bool
	Category   string
	SearchTerm string
}

// Matches applies the filter in memory. SQL stores express the same rules
// in their WHERE clause.
func (f ItemFilter) Matches(it Item) bool {
	wantActive := true
	if f.Active != nil {
		wantActive = *f.Active
	}
	if it.Active != wantActive {
		return false
	}
	if f.Category != "" && !strings.EqualFold(it.Category, f.Category) {
		return false
	}
	if f.SearchTerm != "" {
		term := strings.ToLower(f.SearchTerm)
		if !strings.Contains(strings.ToLower(it.Name), term) &&
			!strings.Contains(strings.ToLower(it.SKU), term) &&
			!strings.Contains(strings.ToLower(it.ModelNumber), term) {
			return false
		}
	}
	return true
}

// =============================================================================
// STOCK LOG - Append-only history
// =============================================================================

type EntryType string

const (
	EntryInitial   EntryType = "initial"   // synthesized at creation when quantity > 0
	EntryReceived  EntryType = "received"  // physical stock arrived
	EntryAllocated EntryType = "allocated" // stock promised
	EntryCommitted EntryType = "committed" // promise fulfilled, stock left
	EntryReleased  EntryType = "released"  // promise abandoned
	EntryAdjusted  EntryType = "adjusted"  // recount, damage, shrinkage
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryInitial, EntryReceived, EntryAllocated, EntryCommitted, EntryReleased, EntryAdjusted:
		return true
	}
	return false
}

// StockLogEntry records one mutation. Entries are never edited or removed.
type StockLogEntry struct {
	ID             string
	Seq            int64 // assigned by the store, strictly increasing in append order
	ItemID         string
	Type           EntryType
	QuantityChange int64
	CreatedBy      string // empty for system-generated entries
	Notes          string
	Reference      string // reference document (PO, order, project)
	IdempotencyKey string
	CreatedAt      time.Time
}

// Page selects a window of the stock log. Limit <= 0 means no limit.
type Page struct {
	Offset int
	Limit  int
}

// Slice applies the page to an already ordered slice.
func (p Page) Slice(entries []StockLogEntry) []StockLogEntry {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Offset >= len(entries) {
		return []StockLogEntry{}
	}
	entries = entries[p.Offset:]
	if p.Limit > 0 && p.Limit < len(entries) {
		entries = entries[:p.Limit]
	}
	return entries
}

// =============================================================================
// MOVEMENT - Arguments of a stock operation
// =============================================================================

// Movement is the input of Receive, Allocate, Commit, Release and Adjust.
// For Adjust, Amount is the newly counted quantity rather than a delta.
type Movement struct {
	ItemID         string
	Amount         int64
	Actor          string
	Notes          string
	Reference      string
	IdempotencyKey string
}

// Delta is what an operation asks the store to apply.
type Delta struct {
	Quantity int64
	Reserved int64
	Entry    StockLogEntry
}
