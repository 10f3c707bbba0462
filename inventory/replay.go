package inventory

// Replay folds entries, in the order given, into (quantity, reserved).
//
//	initial, received, adjusted: quantity += change
//	allocated, released:         reserved += change
//	committed:                   quantity += change, reserved += change
//
// Committed entries carry a negative change, so commit lowers both.
func Replay(entries []StockLogEntry) (quantity, reserved int64) {
	for _, e := range entries {
		switch e.Type {
		case EntryInitial, EntryReceived, EntryAdjusted:
			quantity += e.QuantityChange
		case EntryAllocated, EntryReleased:
			reserved += e.QuantityChange
		case EntryCommitted:
			quantity += e.QuantityChange
			reserved += e.QuantityChange
		}
	}
	return quantity, reserved
}

// Reconciliation compares an item's projection with its replayed log.
type Reconciliation struct {
	ItemID           string
	Quantity         int64
	ReservedQuantity int64
	ReplayedQuantity int64
	ReplayedReserved int64
	Entries          int
}

// Consistent reports whether the log reproduces the projection exactly.
func (r Reconciliation) Consistent() bool {
	return r.Quantity == r.ReplayedQuantity && r.ReservedQuantity == r.ReplayedReserved
}

// Reconcile builds the comparison for one item.
func Reconcile(item Item, entries []StockLogEntry) Reconciliation {
	q, r := Replay(entries)
	return Reconciliation{
		ItemID:           item.ID,
		Quantity:         item.Quantity,
		ReservedQuantity: item.ReservedQuantity,
		ReplayedQuantity: q,
		ReplayedReserved: r,
		Entries:          len(entries),
	}
}
