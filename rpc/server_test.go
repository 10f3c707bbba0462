package rpc

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/warp/stock-engine/inventory"
	"github.com/warp/stock-engine/inventory/store"
)

// startServer runs the service on an in-process listener and returns a
// client connected to it.
func startServer(t *testing.T, logger *zap.Logger) (*Client, *inventory.Engine) {
	t.Helper()
	engine := inventory.NewEngine(store.NewMemory())

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(logger)))
	RegisterStockServer(srv, NewServer(engine, logger))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn), engine
}

func seedItem(t *testing.T, engine *inventory.Engine, quantity int64) inventory.Item {
	t.Helper()
	item, err := engine.CreateItem(context.Background(), inventory.NewItem{
		Details:         inventory.Details{Name: "string inverter", SKU: "INV-5K"},
		InitialQuantity: quantity,
	})
	require.NoError(t, err)
	return item
}

func TestStockService_ReserveCommitFlow(t *testing.T) {
	ctx := context.Background()
	client, engine := startServer(t, zap.NewNop())
	item := seedItem(t, engine, 0)

	got, err := client.Receive(ctx, &MovementRequest{ItemID: item.ID, Amount: 10, Actor: "dock"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Quantity)

	got, err = client.Allocate(ctx, &MovementRequest{ItemID: item.ID, Amount: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.Available)

	got, err = client.Commit(ctx, &MovementRequest{ItemID: item.ID, Amount: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.Quantity)
	assert.Equal(t, int64(0), got.ReservedQuantity)

	got, err = client.Adjust(ctx, &AdjustRequest{ItemID: item.ID, NewQuantity: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Quantity)

	log, err := client.StockLog(ctx, &StockLogRequest{ItemID: item.ID})
	require.NoError(t, err)
	require.Len(t, log.Entries, 4)
	assert.Equal(t, "received", log.Entries[0].EntryType)
	assert.Equal(t, "dock", log.Entries[0].CreatedBy)
	assert.Equal(t, int64(-1), log.Entries[3].QuantityChange)

	fetched, err := client.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV-5K", fetched.SKU)
}

func TestStockService_StatusCodes(t *testing.T) {
	ctx := context.Background()
	client, engine := startServer(t, zap.NewNop())
	item := seedItem(t, engine, 5)

	_, err := client.GetItem(ctx, "missing")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.Receive(ctx, &MovementRequest{ItemID: item.ID, Amount: 0})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Allocate(ctx, &MovementRequest{ItemID: item.ID, Amount: 6})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = client.Release(ctx, &MovementRequest{ItemID: item.ID, Amount: 1})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = client.Allocate(ctx, &MovementRequest{ItemID: item.ID, Amount: 1, IdempotencyKey: "k-1"})
	require.NoError(t, err)
	_, err = client.Allocate(ctx, &MovementRequest{ItemID: item.ID, Amount: 1, IdempotencyKey: "k-1"})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	_, err = client.StockLog(ctx, &StockLogRequest{ItemID: item.ID, Offset: -1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestStockService_ConcurrentAllocations(t *testing.T) {
	ctx := context.Background()
	client, engine := startServer(t, zap.NewNop())
	item := seedItem(t, engine, 20)

	var g errgroup.Group
	codesSeen := make([]codes.Code, 50)
	for i := range codesSeen {
		g.Go(func() error {
			_, err := client.Allocate(ctx, &MovementRequest{ItemID: item.ID, Amount: 1})
			codesSeen[i] = status.Code(err)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	counts := map[codes.Code]int{}
	for _, c := range codesSeen {
		counts[c]++
	}
	assert.Equal(t, 20, counts[codes.OK])
	assert.Equal(t, 30, counts[codes.FailedPrecondition])
}

func TestLoggingInterceptor(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.InfoLevel)
	client, _ := startServer(t, zap.New(core))

	_, err := client.GetItem(ctx, "missing")
	require.Error(t, err)

	entries := logs.FilterMessage("grpc call").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "/stock.v1.StockService/GetItem", entries[0].ContextMap()["method"])
	assert.Equal(t, "NotFound", entries[0].ContextMap()["code"])
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{&inventory.ReservationExceedsError{}, codes.FailedPrecondition},
		{&inventory.DataInconsistencyError{}, codes.DataLoss},
		{&inventory.ConstraintViolationError{}, codes.DataLoss},
		{inventory.Storage("mutate item", errors.New("connection reset")), codes.Unavailable},
		{inventory.ErrConcurrentModification, codes.Unavailable},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, status.Code(mapError(tc.err)), tc.err.Error())
	}
}
