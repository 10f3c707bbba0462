/*
engine.go - Reservation engine: the five stock state transitions

PURPOSE:
  Validates each request against the item's post-lock state and hands the
  resulting delta to the store, which applies it and appends the matching
  stock log entry atomically.

OPERATIONS:
  Receive   amount > 0                      quantity += a      received  +a
  Allocate  amount > 0, available >= a      reserved += a      allocated +a
  Commit    amount > 0, reserved >= a       both -= a          committed -a
  Release   amount > 0, reserved >= a       reserved -= a      released  -a
  Adjust    n >= 0, n >= reserved           quantity := n      adjusted  n-q

ACTIVE ITEMS:
  Receive and Allocate need an active item. Commit, Release and Adjust are
  allowed on inactive items so outstanding reservations can be settled.

RETRIES:
  None. Every failure is returned to the caller, who owns retry policy.

SEE ALSO:
  - store.go: atomicity contract
  - errors.go: what each failure means
*/
package inventory

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine exposes the operation surface of the stock engine.
type Engine struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Engine)

// WithPublisher sets where stock events go. Defaults to a no-op.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		publisher: nopPublisher{},
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// ITEM LIFECYCLE
// =============================================================================

// CreateItem registers a new item. A positive InitialQuantity is recorded as
// an initial stock log entry in the same write.
func (e *Engine) CreateItem(ctx context.Context, n NewItem) (Item, error) {
	if strings.TrimSpace(n.Name) == "" {
		return Item{}, fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	if n.InitialQuantity < 0 {
		return Item{}, fmt.Errorf("%w: initial quantity must not be negative, got %d", ErrInvalidAmount, n.InitialQuantity)
	}
	if n.MinimumStock < 0 {
		return Item{}, fmt.Errorf("%w: minimum stock must not be negative, got %d", ErrInvalidAmount, n.MinimumStock)
	}

	now := e.timestamp()
	item := Item{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(n.Name),
		SKU:          n.SKU,
		Category:     n.Category,
		ModelNumber:  n.ModelNumber,
		Location:     n.Location,
		MinimumStock: n.MinimumStock,
		Quantity:     n.InitialQuantity,
		Active:       true,
		Version:      1,
		CreatedBy:    n.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var initial *StockLogEntry
	if n.InitialQuantity > 0 {
		entry := e.newEntry(Movement{ItemID: item.ID, Actor: n.CreatedBy, Notes: n.Notes}, EntryInitial, n.InitialQuantity, now)
		initial = &entry
	}

	created, err := e.store.CreateItem(ctx, item, initial)
	if err != nil {
		return Item{}, err
	}

	e.logger.Info("item created",
		zap.String("item_id", created.ID),
		zap.String("sku", created.SKU),
		zap.Int64("quantity", created.Quantity),
	)
	if initial != nil {
		e.publish(ctx, created, created, *initial)
	}
	return created, nil
}

// GetItem returns the current projection, including inactive items.
func (e *Engine) GetItem(ctx context.Context, id string) (Item, error) {
	return e.store.GetItem(ctx, id)
}

// ListItems returns items matching filter. Inactive items are excluded
// unless the filter asks for them.
func (e *Engine) ListItems(ctx context.Context, filter ItemFilter) ([]Item, error) {
	return e.store.ListItems(ctx, filter)
}

// UpdateItemDetails changes descriptive metadata only.
func (e *Engine) UpdateItemDetails(ctx context.Context, id string, upd DetailsUpdate) (Item, error) {
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return Item{}, fmt.Errorf("%w: name must not be empty", ErrInvalidItem)
	}
	if upd.IsEmpty() {
		return e.store.GetItem(ctx, id)
	}
	now := e.timestamp()
	return e.store.UpdateItem(ctx, id, func(it *Item) error {
		upd.Apply(it)
		it.UpdatedAt = now
		return nil
	})
}

// DeactivateItem hides the item from default listings. History is kept and
// calling it twice is harmless.
func (e *Engine) DeactivateItem(ctx context.Context, id string) (Item, error) {
	now := e.timestamp()
	item, err := e.store.UpdateItem(ctx, id, func(it *Item) error {
		it.Active = false
		it.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	e.logger.Info("item deactivated", zap.String("item_id", id))
	return item, nil
}

// =============================================================================
// STOCK OPERATIONS
// =============================================================================

// Receive records physical stock arriving.
func (e *Engine) Receive(ctx context.Context, m Movement) (Item, error) {
	if err := requirePositive("receive", m.Amount); err != nil {
		return Item{}, err
	}
	return e.move(ctx, "receive", m, func(cur Item) (Delta, error) {
		if !cur.Active {
			return Delta{}, inactive(cur.ID)
		}
		if m.Amount > math.MaxInt64-cur.Quantity {
			return Delta{}, fmt.Errorf("%w: receiving %d would overflow quantity %d", ErrInvalidAmount, m.Amount, cur.Quantity)
		}
		return Delta{
			Quantity: m.Amount,
			Entry:    e.newEntry(m, EntryReceived, m.Amount, e.timestamp()),
		}, nil
	})
}

// Allocate promises stock without removing it.
func (e *Engine) Allocate(ctx context.Context, m Movement) (Item, error) {
	if err := requirePositive("allocate", m.Amount); err != nil {
		return Item{}, err
	}
	return e.move(ctx, "allocate", m, func(cur Item) (Delta, error) {
		if !cur.Active {
			return Delta{}, inactive(cur.ID)
		}
		if cur.Available() < m.Amount {
			return Delta{}, &InsufficientAvailableError{
				ItemID:    cur.ID,
				Available: cur.Available(),
				Requested: m.Amount,
			}
		}
		return Delta{
			Reserved: m.Amount,
			Entry:    e.newEntry(m, EntryAllocated, m.Amount, e.timestamp()),
		}, nil
	})
}

// Commit turns reserved stock into consumed stock. It is the only
// operation that lowers Quantity outside of Adjust.
func (e *Engine) Commit(ctx context.Context, m Movement) (Item, error) {
	if err := requirePositive("commit", m.Amount); err != nil {
		return Item{}, err
	}
	return e.move(ctx, "commit", m, func(cur Item) (Delta, error) {
		if cur.ReservedQuantity < m.Amount {
			return Delta{}, &InsufficientReservedError{
				ItemID:    cur.ID,
				Reserved:  cur.ReservedQuantity,
				Requested: m.Amount,
			}
		}
		if cur.Quantity < m.Amount {
			return Delta{}, &DataInconsistencyError{
				ItemID:           cur.ID,
				Quantity:         cur.Quantity,
				ReservedQuantity: cur.ReservedQuantity,
				Requested:        m.Amount,
			}
		}
		return Delta{
			Quantity: -m.Amount,
			Reserved: -m.Amount,
			Entry:    e.newEntry(m, EntryCommitted, -m.Amount, e.timestamp()),
		}, nil
	})
}

// Release cancels a reservation and returns it to available stock.
func (e *Engine) Release(ctx context.Context, m Movement) (Item, error) {
	if err := requirePositive("release", m.Amount); err != nil {
		return Item{}, err
	}
	return e.move(ctx, "release", m, func(cur Item) (Delta, error) {
		if cur.ReservedQuantity < m.Amount {
			return Delta{}, &InsufficientReservedError{
				ItemID:    cur.ID,
				Reserved:  cur.ReservedQuantity,
				Requested: m.Amount,
			}
		}
		return Delta{
			Reserved: -m.Amount,
			Entry:    e.newEntry(m, EntryReleased, -m.Amount, e.timestamp()),
		}, nil
	})
}

// Adjust sets Quantity to the counted value in m.Amount. It never drops
// Quantity below what is already reserved.
func (e *Engine) Adjust(ctx context.Context, m Movement) (Item, error) {
	if m.Amount < 0 {
		return Item{}, fmt.Errorf("%w: adjusted quantity must not be negative, got %d", ErrInvalidAmount, m.Amount)
	}
	return e.move(ctx, "adjust", m, func(cur Item) (Delta, error) {
		if m.Amount < cur.ReservedQuantity {
			return Delta{}, &ReservationExceedsError{
				ItemID:      cur.ID,
				Reserved:    cur.ReservedQuantity,
				NewQuantity: m.Amount,
			}
		}
		change := m.Amount - cur.Quantity
		return Delta{
			Quantity: change,
			Entry:    e.newEntry(m, EntryAdjusted, change, e.timestamp()),
		}, nil
	})
}

// =============================================================================
// QUERY SURFACE
// =============================================================================

// StockLog returns the item's entries in append order.
func (e *Engine) StockLog(ctx context.Context, id string, page Page) ([]StockLogEntry, error) {
	if _, err := e.store.GetItem(ctx, id); err != nil {
		return nil, err
	}
	return e.store.StockLog(ctx, id, page)
}

// LowStock lists active items whose availability is at or below their
// minimum stock.
func (e *Engine) LowStock(ctx context.Context) ([]Item, error) {
	items, err := e.store.ListItems(ctx, ItemFilter{})
	if err != nil {
		return nil, err
	}
	low := make([]Item, 0, len(items))
	for _, it := range items {
		if it.NeedsReorder() {
			low = append(low, it)
		}
	}
	return low, nil
}

// Reconcile replays the item's stock log and compares it with the stored
// projection. Drift is logged at error level; it means state corruption.
func (e *Engine) Reconcile(ctx context.Context, id string) (Reconciliation, error) {
	item, entries, err := e.store.History(ctx, id)
	if err != nil {
		return Reconciliation{}, err
	}
	rec := Reconcile(item, entries)
	if !rec.Consistent() {
		e.logger.Error("stock log does not reproduce projection",
			zap.String("item_id", id),
			zap.Int64("quantity", rec.Quantity),
			zap.Int64("replayed_quantity", rec.ReplayedQuantity),
			zap.Int64("reserved", rec.ReservedQuantity),
			zap.Int64("replayed_reserved", rec.ReplayedReserved),
		)
	}
	return rec, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func (e *Engine) move(ctx context.Context, op string, m Movement, decide DecideFunc) (Item, error) {
	if m.ItemID == "" {
		return Item{}, fmt.Errorf("%w: item id is required", ErrNotFound)
	}

	var before Item
	item, entry, err := e.store.Mutate(ctx, m.ItemID, func(cur Item) (Delta, error) {
		before = cur
		return decide(cur)
	})
	if err != nil {
		e.logFailure(op, m, err)
		return Item{}, err
	}

	e.logger.Debug("stock moved",
		zap.String("op", op),
		zap.String("item_id", item.ID),
		zap.Int64("change", entry.QuantityChange),
		zap.Int64("quantity", item.Quantity),
		zap.Int64("reserved", item.ReservedQuantity),
		zap.String("actor", m.Actor),
	)
	e.publish(ctx, before, item, entry)
	return item, nil
}

func (e *Engine) logFailure(op string, m Movement, err error) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("item_id", m.ItemID),
		zap.Int64("amount", m.Amount),
		zap.String("actor", m.Actor),
		zap.Error(err),
	}
	switch {
	case IsFatal(err):
		e.logger.Error("stock invariant violated", fields...)
	case IsRetryable(err):
		e.logger.Warn("stock operation failed", fields...)
	default:
		e.logger.Debug("stock operation rejected", fields...)
	}
}

func (e *Engine) publish(ctx context.Context, before, after Item, entry StockLogEntry) {
	events := []Event{{Type: EventStockMoved, Item: after, Entry: &entry, OccurredAt: entry.CreatedAt}}
	if after.Active && crossedReorderPoint(before, after) {
		events = append(events, Event{Type: EventLowStock, Item: after, OccurredAt: entry.CreatedAt})
	}
	for _, ev := range events {
		if err := e.publisher.Publish(ctx, ev); err != nil {
			e.logger.Warn("failed to publish stock event",
				zap.String("type", string(ev.Type)),
				zap.String("item_id", after.ID),
				zap.Error(err),
			)
		}
	}
}

func (e *Engine) newEntry(m Movement, t EntryType, change int64, at time.Time) StockLogEntry {
	return StockLogEntry{
		ID:             newEntryID(),
		ItemID:         m.ItemID,
		Type:           t,
		QuantityChange: change,
		CreatedBy:      m.Actor,
		Notes:          m.Notes,
		Reference:      m.Reference,
		IdempotencyKey: m.IdempotencyKey,
		CreatedAt:      at,
	}
}

// timestamp truncates to microseconds so values survive a MySQL DATETIME(6)
// round trip unchanged.
func (e *Engine) timestamp() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

func newEntryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func requirePositive(op string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %s amount must be positive, got %d", ErrInvalidAmount, op, amount)
	}
	return nil
}

func inactive(id string) error {
	return fmt.Errorf("%w: item %s is inactive", ErrNotFound, id)
}
