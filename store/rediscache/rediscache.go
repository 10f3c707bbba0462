/*
Package rediscache puts a Redis read-through cache in front of any
inventory.Store.

PURPOSE:
  Item reads (GET /api/items/{id}, gRPC GetItem) dominate traffic and can be
  served from Redis. Writes always go to the backing store first; Redis is
  never the source of truth for stock.

CACHE LAYOUT:
  stock:item:<id>   hash { v: <version>, data: <item JSON> }, TTL-bound

CONSISTENCY:
  - Reads: cache-aside. Concurrent misses on one item collapse into a
    single backing read (singleflight).
  - Writes: after CreateItem, UpdateItem and Mutate succeed, the new item is
    written through with a Lua script that only overwrites an older version.
    A slow reader can therefore never replace a newer cached item.
  - Mutate always decides against the backing store's locked state, never
    against cached data.

FAILURE:
  Redis errors are logged at warn and the call falls through to the backing
  store. A Redis outage slows reads down; it never fails them.
*/
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/warp/stock-engine/inventory"
)

const (
	keyPrefix  = "stock:item:"
	DefaultTTL = 5 * time.Minute
)

// setIfNewerScript writes the item only if the cached version is older.
var setIfNewerScript = redis.NewScript(`
local key = KEYS[1]
local version = tonumber(ARGV[1])

local current = redis.call('HGET', key, 'v')
if current and tonumber(current) >= version then
	return 0
end

redis.call('HSET', key, 'v', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', key, ARGV[3])
return 1
`)

// Store decorates a backing inventory.Store. Methods not overridden here
// (ListItems, StockLog, History) go straight to the backing store.
type Store struct {
	inventory.Store

	client redis.UniversalClient
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

type Option func(*Store)

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func New(backing inventory.Store, client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		Store:  backing,
		client: client,
		ttl:    DefaultTTL,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func key(id string) string {
	return keyPrefix + id
}

// =============================================================================
// READS
// =============================================================================

func (s *Store) GetItem(ctx context.Context, id string) (inventory.Item, error) {
	if it, ok := s.cached(ctx, id); ok {
		return it, nil
	}

	v, err, _ := s.group.Do(id, func() (interface{}, error) {
		if it, ok := s.cached(ctx, id); ok {
			return it, nil
		}
		it, err := s.Store.GetItem(ctx, id)
		if err != nil {
			return inventory.Item{}, err
		}
		s.set(ctx, it)
		return it, nil
	})
	if err != nil {
		return inventory.Item{}, err
	}
	return v.(inventory.Item), nil
}

func (s *Store) cached(ctx context.Context, id string) (inventory.Item, bool) {
	data, err := s.client.HGet(ctx, key(id), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return inventory.Item{}, false
	}
	if err != nil {
		s.logger.Warn("redis read failed, using backing store",
			zap.String("item_id", id), zap.Error(err))
		return inventory.Item{}, false
	}

	var it inventory.Item
	if err := json.Unmarshal(data, &it); err != nil {
		s.logger.Warn("dropping undecodable cache entry",
			zap.String("item_id", id), zap.Error(err))
		s.client.Del(ctx, key(id))
		return inventory.Item{}, false
	}
	return it, true
}

// =============================================================================
// WRITE-THROUGH
// =============================================================================

func (s *Store) CreateItem(ctx context.Context, item inventory.Item, initial *inventory.StockLogEntry) (inventory.Item, error) {
	created, err := s.Store.CreateItem(ctx, item, initial)
	if err != nil {
		return created, err
	}
	s.set(ctx, created)
	return created, nil
}

func (s *Store) UpdateItem(ctx context.Context, id string, fn func(*inventory.Item) error) (inventory.Item, error) {
	updated, err := s.Store.UpdateItem(ctx, id, fn)
	if err != nil {
		return updated, err
	}
	s.set(ctx, updated)
	return updated, nil
}

func (s *Store) Mutate(ctx context.Context, id string, decide inventory.DecideFunc) (inventory.Item, inventory.StockLogEntry, error) {
	item, entry, err := s.Store.Mutate(ctx, id, decide)
	if err != nil {
		return item, entry, err
	}
	s.set(ctx, item)
	return item, entry, nil
}

// set stores it unless Redis already holds the same or a newer version. If
// the write fails the cached copy is dropped instead.
func (s *Store) set(ctx context.Context, it inventory.Item) {
	data, err := json.Marshal(it)
	if err != nil {
		s.logger.Warn("failed to encode item for cache", zap.String("item_id", it.ID), zap.Error(err))
		if err := s.Invalidate(ctx, it.ID); err != nil {
			s.logger.Warn("redis invalidate failed", zap.String("item_id", it.ID), zap.Error(err))
		}
		return
	}
	err = setIfNewerScript.Run(ctx, s.client, []string{key(it.ID)},
		strconv.FormatInt(it.Version, 10), data, s.ttl.Milliseconds(),
	).Err()
	if err == nil {
		return
	}
	s.logger.Warn("redis write failed",
		zap.String("item_id", it.ID),
		zap.Int64("version", it.Version),
		zap.Error(err),
	)
	// An older copy may still be cached; drop it so the next read goes to
	// the backing store.
	if err := s.Invalidate(ctx, it.ID); err != nil {
		s.logger.Warn("redis invalidate failed", zap.String("item_id", it.ID), zap.Error(err))
	}
}

// Invalidate drops the cached copy of an item.
func (s *Store) Invalidate(ctx context.Context, id string) error {
	return s.client.Del(ctx, key(id)).Err()
}
