package rediscache

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/inventory"
	memstore "github.com/warp/stock-engine/inventory/store"
	"github.com/warp/stock-engine/inventory/storetest"
)

func getRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// countingStore counts reads that reach the backing store.
type countingStore struct {
	*memstore.Memory
	gets  atomic.Int64
	delay time.Duration
}

func (c *countingStore) GetItem(ctx context.Context, id string) (inventory.Item, error) {
	c.gets.Add(1)
	time.Sleep(c.delay)
	return c.Memory.GetItem(ctx, id)
}

func seed(t *testing.T, s inventory.Store, id string, quantity int64) inventory.Item {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	item, err := s.CreateItem(context.Background(), inventory.Item{
		ID: id, Name: id, Quantity: quantity, Active: true, Version: 1,
		CreatedAt: now, UpdatedAt: now,
	}, nil)
	require.NoError(t, err)
	return item
}

func TestRedisCache_Conformance(t *testing.T) {
	client := getRedisClient(t)
	storetest.Run(t, func(t *testing.T) inventory.Store {
		return New(memstore.NewMemory(), client, WithTTL(time.Minute))
	})
}

func TestRedisCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	client := getRedisClient(t)
	backing := &countingStore{Memory: memstore.NewMemory()}
	cache := New(backing, client)

	// GIVEN: an item that was written before the cache existed
	seed(t, backing.Memory, "rt-item", 5)
	require.NoError(t, cache.Invalidate(ctx, "rt-item"))

	// WHEN: it is read twice
	first, err := cache.GetItem(ctx, "rt-item")
	require.NoError(t, err)
	second, err := cache.GetItem(ctx, "rt-item")
	require.NoError(t, err)

	// THEN: only the first read reached the backing store
	assert.Equal(t, int64(1), backing.gets.Load())
	assert.Equal(t, first.Quantity, second.Quantity)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
}

func TestRedisCache_ConcurrentMissesCollapse(t *testing.T) {
	ctx := context.Background()
	client := getRedisClient(t)
	backing := &countingStore{Memory: memstore.NewMemory(), delay: 50 * time.Millisecond}
	cache := New(backing, client)
	seed(t, backing.Memory, "sf-item", 5)
	require.NoError(t, cache.Invalidate(ctx, "sf-item"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.GetItem(ctx, "sf-item")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), backing.gets.Load())
}

func TestRedisCache_WriteThroughAfterMutate(t *testing.T) {
	ctx := context.Background()
	client := getRedisClient(t)
	backing := memstore.NewMemory()
	cache := New(backing, client)
	engine := inventory.NewEngine(cache)

	item, err := engine.CreateItem(ctx, inventory.NewItem{
		Details:         inventory.Details{Name: "cached inverter"},
		InitialQuantity: 10,
	})
	require.NoError(t, err)
	_, err = engine.Allocate(ctx, inventory.Movement{ItemID: item.ID, Amount: 4})
	require.NoError(t, err)

	cached, ok := cache.cached(ctx, item.ID)
	require.True(t, ok)
	assert.Equal(t, int64(4), cached.ReservedQuantity)
	assert.Equal(t, item.Version+1, cached.Version)
}

// failScripts makes every EVAL/EVALSHA fail while other commands pass.
type failScripts struct{}

func (failScripts) DialHook(next redis.DialHook) redis.DialHook { return next }

func (failScripts) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		switch cmd.Name() {
		case "eval", "evalsha":
			err := errors.New("script write refused")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (failScripts) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisCache_FailedWriteDropsStaleCopy(t *testing.T) {
	ctx := context.Background()
	client := getRedisClient(t)
	backing := memstore.NewMemory()
	cache := New(backing, client)

	// GIVEN: version 1 of an item is cached
	require.NoError(t, cache.Invalidate(ctx, "stale-item"))
	seed(t, cache, "stale-item", 5)
	require.Equal(t, int64(1), client.Exists(ctx, key("stale-item")).Val())

	// WHEN: a mutation goes through a cache whose writes fail
	broken := redis.NewClient(&redis.Options{Addr: client.Options().Addr})
	broken.AddHook(failScripts{})
	t.Cleanup(func() { broken.Close() })
	_, _, err := New(backing, broken).Mutate(ctx, "stale-item", func(cur inventory.Item) (inventory.Delta, error) {
		return inventory.Delta{
			Quantity: 3,
			Entry:    inventory.StockLogEntry{ID: "stale-entry", Type: inventory.EntryReceived, QuantityChange: 3},
		}, nil
	})
	require.NoError(t, err)

	// THEN: the old copy is gone and reads see the new quantity
	assert.Equal(t, int64(0), client.Exists(ctx, key("stale-item")).Val())
	got, err := cache.GetItem(ctx, "stale-item")
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.Quantity)
}

func TestRedisCache_OlderVersionNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	client := getRedisClient(t)
	cache := New(memstore.NewMemory(), client)
	require.NoError(t, cache.Invalidate(ctx, "ver-item"))

	cache.set(ctx, inventory.Item{ID: "ver-item", Quantity: 9, Version: 3})
	cache.set(ctx, inventory.Item{ID: "ver-item", Quantity: 1, Version: 2})

	got, ok := cache.cached(ctx, "ver-item")
	require.True(t, ok)
	assert.Equal(t, int64(9), got.Quantity)
	assert.Equal(t, int64(3), got.Version)
}

func TestRedisCache_RedisDownFallsBack(t *testing.T) {
	ctx := context.Background()

	// GIVEN: a client pointed at a port nothing listens on
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	backing := memstore.NewMemory()
	cache := New(backing, client)
	engine := inventory.NewEngine(cache)

	// WHEN: the engine is used as normal
	item, err := engine.CreateItem(ctx, inventory.NewItem{
		Details:         inventory.Details{Name: "offline"},
		InitialQuantity: 3,
	})
	require.NoError(t, err)
	_, err = engine.Receive(ctx, inventory.Movement{ItemID: item.ID, Amount: 2})
	require.NoError(t, err)

	// THEN: reads are served from the backing store
	got, err := engine.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Quantity)

	_, err = engine.GetItem(ctx, "missing")
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}
