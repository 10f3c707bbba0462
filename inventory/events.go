package inventory

import (
	"context"
	"sync"
	"time"
)

// EventType classifies what the engine publishes after a committed write.
type EventType string

const (
	EventStockMoved EventType = "stock_moved" // one per stock log entry
	EventLowStock   EventType = "low_stock"   // availability fell to or below MinimumStock
)

// Event is emitted after the projection and entry are durable.
type Event struct {
	Type       EventType
	Item       Item
	Entry      *StockLogEntry // nil for EventLowStock
	OccurredAt time.Time
}

// Publisher delivers events to downstream consumers. Failures are logged by
// the engine and never undo the write that produced the event.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

// RecordingPublisher keeps every event in memory. Used by tests and by
// embedded callers that poll instead of subscribing.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *RecordingPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// Events returns a copy of what has been published so far.
func (p *RecordingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// crossedReorderPoint reports whether a write moved availability from above
// the threshold to at or below it.
func crossedReorderPoint(before, after Item) bool {
	return before.Available() > after.MinimumStock && after.NeedsReorder()
}
