package rpc

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/warp/stock-engine/inventory"
)

// Server implements StockServer on top of the engine.
type Server struct {
	engine *inventory.Engine
	logger *zap.Logger
}

var _ StockServer = (*Server)(nil)

func NewServer(engine *inventory.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{engine: engine, logger: logger}
}

func (s *Server) GetItem(ctx context.Context, req *GetItemRequest) (*Item, error) {
	it, err := s.engine.GetItem(ctx, req.ItemID)
	if err != nil {
		return nil, mapError(err)
	}
	return toItem(it), nil
}

func (s *Server) Receive(ctx context.Context, req *MovementRequest) (*Item, error) {
	return s.move(ctx, s.engine.Receive, req)
}

func (s *Server) Allocate(ctx context.Context, req *MovementRequest) (*Item, error) {
	return s.move(ctx, s.engine.Allocate, req)
}

func (s *Server) Commit(ctx context.Context, req *MovementRequest) (*Item, error) {
	return s.move(ctx, s.engine.Commit, req)
}

func (s *Server) Release(ctx context.Context, req *MovementRequest) (*Item, error) {
	return s.move(ctx, s.engine.Release, req)
}

func (s *Server) Adjust(ctx context.Context, req *AdjustRequest) (*Item, error) {
	it, err := s.engine.Adjust(ctx, inventory.Movement{
		ItemID:         req.ItemID,
		Amount:         req.NewQuantity,
		Actor:          req.Actor,
		Notes:          req.Notes,
		Reference:      req.ReferenceDocument,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return toItem(it), nil
}

func (s *Server) StockLog(ctx context.Context, req *StockLogRequest) (*StockLogResponse, error) {
	if req.Offset < 0 || req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "offset and limit must not be negative")
	}
	entries, err := s.engine.StockLog(ctx, req.ItemID, inventory.Page{Offset: int(req.Offset), Limit: int(req.Limit)})
	if err != nil {
		return nil, mapError(err)
	}
	resp := &StockLogResponse{ItemID: req.ItemID, Entries: make([]StockLogEntry, len(entries))}
	for i, e := range entries {
		resp.Entries[i] = StockLogEntry{
			ID:                e.ID,
			Seq:               e.Seq,
			EntryType:         string(e.Type),
			QuantityChange:    e.QuantityChange,
			CreatedBy:         e.CreatedBy,
			Notes:             e.Notes,
			ReferenceDocument: e.Reference,
			IdempotencyKey:    e.IdempotencyKey,
			CreatedAt:         e.CreatedAt,
		}
	}
	return resp, nil
}

func (s *Server) move(ctx context.Context, op func(context.Context, inventory.Movement) (inventory.Item, error), req *MovementRequest) (*Item, error) {
	it, err := op(ctx, inventory.Movement{
		ItemID:         req.ItemID,
		Amount:         req.Amount,
		Actor:          req.Actor,
		Notes:          req.Notes,
		Reference:      req.ReferenceDocument,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return toItem(it), nil
}

// mapError converts engine errors into gRPC status errors.
func mapError(err error) error {
	switch {
	case inventory.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, inventory.ErrInvalidAmount), errors.Is(err, inventory.ErrInvalidItem):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, inventory.ErrDuplicateIdempotencyKey):
		return status.Error(codes.AlreadyExists, err.Error())
	case inventory.IsClientError(err):
		return status.Error(codes.FailedPrecondition, err.Error())
	case inventory.IsFatal(err):
		return status.Error(codes.DataLoss, err.Error())
	case inventory.IsRetryable(err):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Errorf(codes.Internal, "internal error: %v", err)
}

func toItem(it inventory.Item) *Item {
	return &Item{
		ID:               it.ID,
		Name:             it.Name,
		SKU:              it.SKU,
		Category:         it.Category,
		ModelNumber:      it.ModelNumber,
		Location:         it.Location,
		MinimumStock:     it.MinimumStock,
		Quantity:         it.Quantity,
		ReservedQuantity: it.ReservedQuantity,
		Available:        it.Available(),
		Active:           it.Active,
		Version:          it.Version,
		UpdatedAt:        it.UpdatedAt,
	}
}

// LoggingInterceptor logs every call with its status code and latency.
// Server-side faults (Internal, DataLoss, Unavailable) log at error.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
		}
		switch code {
		case codes.Internal, codes.DataLoss, codes.Unavailable:
			logger.Error("grpc call failed", append(fields, zap.Error(err))...)
		default:
			logger.Info("grpc call", fields...)
		}
		return resp, err
	}
}
