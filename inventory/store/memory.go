// Package store provides an in-memory inventory.Store.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/stock-engine/inventory"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (tests, dev, embedded use)
// =============================================================================

// Memory keeps every item in its own slot with its own mutex, so mutations
// on different items never wait for each other. mu only guards the slot map.
type Memory struct {
	mu    sync.RWMutex
	slots map[string]*slot

	// keysMu guards the sequence counter and the idempotency index, which
	// are shared by all items. It is only ever taken while a slot lock is
	// held, never the other way round.
	keysMu sync.Mutex
	seq    int64
	keys   map[string]bool
}

type slot struct {
	mu   sync.Mutex
	item inventory.Item
	log  []inventory.StockLogEntry
}

var _ inventory.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		slots: make(map[string]*slot),
		keys:  make(map[string]bool),
	}
}

func (m *Memory) lookup(id string) (*slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", inventory.ErrNotFound, id)
	}
	return s, nil
}

// CreateItem adds a new item, with its initial entry if any.
func (m *Memory) CreateItem(_ context.Context, item inventory.Item, initial *inventory.StockLogEntry) (inventory.Item, error) {
	if err := item.CheckInvariants(); err != nil {
		return inventory.Item{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.slots[item.ID]; exists {
		return inventory.Item{}, fmt.Errorf("item %s already exists", item.ID)
	}

	s := &slot{item: item}
	if initial != nil {
		entry := *initial
		entry.ItemID = item.ID
		if err := m.claim(&entry); err != nil {
			return inventory.Item{}, err
		}
		initial.Seq = entry.Seq
		s.log = append(s.log, entry)
	}
	m.slots[item.ID] = s
	return item, nil
}

func (m *Memory) GetItem(_ context.Context, id string) (inventory.Item, error) {
	s, err := m.lookup(id)
	if err != nil {
		return inventory.Item{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.item, nil
}

func (m *Memory) ListItems(_ context.Context, filter inventory.ItemFilter) ([]inventory.Item, error) {
	m.mu.RLock()
	slots := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		slots = append(slots, s)
	}
	m.mu.RUnlock()

	items := make([]inventory.Item, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		it := s.item
		s.mu.Unlock()
		if filter.Matches(it) {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (m *Memory) UpdateItem(_ context.Context, id string, fn func(*inventory.Item) error) (inventory.Item, error) {
	s, err := m.lookup(id)
	if err != nil {
		return inventory.Item{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.item
	if err := fn(&next); err != nil {
		return inventory.Item{}, err
	}
	inventory.KeepCounters(s.item, &next)
	next.Version++
	s.item = next
	return next, nil
}

// Mutate holds the item's slot lock across decide, the invariant check and
// the write, so no other operation on the same item can interleave.
func (m *Memory) Mutate(_ context.Context, id string, decide inventory.DecideFunc) (inventory.Item, inventory.StockLogEntry, error) {
	s, err := m.lookup(id)
	if err != nil {
		return inventory.Item{}, inventory.StockLogEntry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next, entry, err := inventory.Prepare(s.item, func(cur inventory.Item) (inventory.Delta, error) {
		d, err := decide(cur)
		if err != nil {
			return d, err
		}
		if m.seen(d.Entry.IdempotencyKey) {
			return d, inventory.ErrDuplicateIdempotencyKey
		}
		return d, nil
	})
	if err != nil {
		return inventory.Item{}, inventory.StockLogEntry{}, err
	}

	if err := m.claim(&entry); err != nil {
		return inventory.Item{}, inventory.StockLogEntry{}, err
	}
	s.item = next
	s.log = append(s.log, entry)
	return next, entry, nil
}

func (m *Memory) StockLog(_ context.Context, id string, page inventory.Page) ([]inventory.StockLogEntry, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	window := page.Slice(s.log)
	out := make([]inventory.StockLogEntry, len(window))
	copy(out, window)
	return out, nil
}

func (m *Memory) History(_ context.Context, id string) (inventory.Item, []inventory.StockLogEntry, error) {
	s, err := m.lookup(id)
	if err != nil {
		return inventory.Item{}, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inventory.StockLogEntry, len(s.log))
	copy(out, s.log)
	return s.item, out, nil
}

func (m *Memory) seen(key string) bool {
	if key == "" {
		return false
	}
	m.keysMu.Lock()
	defer m.keysMu.Unlock()
	return m.keys[key]
}

// claim assigns the next sequence number and records the idempotency key.
// The key check is repeated here because two items may race on one key.
func (m *Memory) claim(entry *inventory.StockLogEntry) error {
	m.keysMu.Lock()
	defer m.keysMu.Unlock()
	if entry.IdempotencyKey != "" {
		if m.keys[entry.IdempotencyKey] {
			return inventory.ErrDuplicateIdempotencyKey
		}
		m.keys[entry.IdempotencyKey] = true
	}
	m.seq++
	entry.Seq = m.seq
	return nil
}
