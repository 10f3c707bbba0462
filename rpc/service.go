/*
Package rpc exposes the stock engine as the gRPC service
stock.v1.StockService.

WIRE FORMAT:
  Messages are the Go structs below, JSON-encoded under the "json" codec
  (content-type application/grpc+json). Any gRPC client that registers a
  JSON codec can call the service; Client does this for Go callers.

METHODS (all unary):
  GetItem    GetItemRequest   -> Item
  Receive    MovementRequest  -> Item
  Allocate   MovementRequest  -> Item
  Commit     MovementRequest  -> Item
  Release    MovementRequest  -> Item
  Adjust     AdjustRequest    -> Item
  StockLog   StockLogRequest  -> StockLogResponse

STATUS CODES:
  NotFound            item missing, or inactive for receive/allocate
  InvalidArgument     bad amount or item details
  FailedPrecondition  insufficient available/reserved stock, adjust floor
  AlreadyExists       idempotency key already used
  DataLoss            data inconsistency or constraint violation
  Unavailable         storage failure or lost version check (retry)
*/
package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

const ServiceName = "stock.v1.StockService"

// =============================================================================
// MESSAGES
// =============================================================================

type GetItemRequest struct {
	ItemID string `json:"item_id"`
}

type MovementRequest struct {
	ItemID            string `json:"item_id"`
	Amount            int64  `json:"amount"`
	Actor             string `json:"actor,omitempty"`
	Notes             string `json:"notes,omitempty"`
	ReferenceDocument string `json:"reference_document,omitempty"`
	IdempotencyKey    string `json:"idempotency_key,omitempty"`
}

type AdjustRequest struct {
	ItemID            string `json:"item_id"`
	NewQuantity       int64  `json:"new_quantity"`
	Actor             string `json:"actor,omitempty"`
	Notes             string `json:"notes,omitempty"`
	ReferenceDocument string `json:"reference_document,omitempty"`
	IdempotencyKey    string `json:"idempotency_key,omitempty"`
}

type StockLogRequest struct {
	ItemID string `json:"item_id"`
	Offset int32  `json:"offset"`
	Limit  int32  `json:"limit"`
}

type Item struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	SKU              string    `json:"sku"`
	Category         string    `json:"category"`
	ModelNumber      string    `json:"model_number"`
	Location         string    `json:"location"`
	MinimumStock     int64     `json:"minimum_stock"`
	Quantity         int64     `json:"quantity"`
	ReservedQuantity int64     `json:"reserved_quantity"`
	Available        int64     `json:"available"`
	Active           bool      `json:"active"`
	Version          int64     `json:"version"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type StockLogEntry struct {
	ID                string    `json:"id"`
	Seq               int64     `json:"seq"`
	EntryType         string    `json:"entry_type"`
	QuantityChange    int64     `json:"quantity_change"`
	CreatedBy         string    `json:"created_by,omitempty"`
	Notes             string    `json:"notes,omitempty"`
	ReferenceDocument string    `json:"reference_document,omitempty"`
	IdempotencyKey    string    `json:"idempotency_key,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type StockLogResponse struct {
	ItemID  string          `json:"item_id"`
	Entries []StockLogEntry `json:"entries"`
}

// =============================================================================
// SERVICE DESCRIPTOR
// =============================================================================

// StockServer is the server API for stock.v1.StockService.
type StockServer interface {
	GetItem(context.Context, *GetItemRequest) (*Item, error)
	Receive(context.Context, *MovementRequest) (*Item, error)
	Allocate(context.Context, *MovementRequest) (*Item, error)
	Commit(context.Context, *MovementRequest) (*Item, error)
	Release(context.Context, *MovementRequest) (*Item, error)
	Adjust(context.Context, *AdjustRequest) (*Item, error)
	StockLog(context.Context, *StockLogRequest) (*StockLogResponse, error)
}

// ServiceDesc describes stock.v1.StockService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StockServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetItem", StockServer.GetItem),
		unary("Receive", StockServer.Receive),
		unary("Allocate", StockServer.Allocate),
		unary("Commit", StockServer.Commit),
		unary("Release", StockServer.Release),
		unary("Adjust", StockServer.Adjust),
		unary("StockLog", StockServer.StockLog),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stock/v1/stock",
}

// RegisterStockServer attaches srv to s.
func RegisterStockServer(s grpc.ServiceRegistrar, srv StockServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary builds the MethodDesc for one request/response method, running the
// server's interceptor chain when one is installed.
func unary[Req, Resp any](name string, call func(StockServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(StockServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(StockServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
