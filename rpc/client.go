package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// Client is a typed caller for stock.v1.StockService.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial creates a connection that speaks the service's JSON codec.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)))
	return grpc.NewClient(target, opts...)
}

func (c *Client) GetItem(ctx context.Context, itemID string) (*Item, error) {
	return invoke[Item](ctx, c, "GetItem", &GetItemRequest{ItemID: itemID})
}

func (c *Client) Receive(ctx context.Context, req *MovementRequest) (*Item, error) {
	return invoke[Item](ctx, c, "Receive", req)
}

func (c *Client) Allocate(ctx context.Context, req *MovementRequest) (*Item, error) {
	return invoke[Item](ctx, c, "Allocate", req)
}

func (c *Client) Commit(ctx context.Context, req *MovementRequest) (*Item, error) {
	return invoke[Item](ctx, c, "Commit", req)
}

func (c *Client) Release(ctx context.Context, req *MovementRequest) (*Item, error) {
	return invoke[Item](ctx, c, "Release", req)
}

func (c *Client) Adjust(ctx context.Context, req *AdjustRequest) (*Item, error) {
	return invoke[Item](ctx, c, "Adjust", req)
}

func (c *Client) StockLog(ctx context.Context, req *StockLogRequest) (*StockLogResponse, error) {
	return invoke[StockLogResponse](ctx, c, "StockLog", req)
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any) (*Resp, error) {
	out := new(Resp)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}
