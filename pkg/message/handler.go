package message

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Handler processes one merge request. Handlers settle the delivery
// themselves, usually through ReportSuccess or ReportError.
type Handler func(ctx context.Context, req *MergeRequest) error

// Middleware wraps a Handler.
type Middleware func(Handler) Handler

// Chain applies middlewares so the first one is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(h Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}

// RecoveryMiddleware turns a panic in the handler into an error.
func RecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *MergeRequest) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic recovered: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// LoggingMiddleware logs each request and its outcome.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, req *MergeRequest) error {
			fields := []zap.Field{
				zap.String("request", req.Identifier()),
				zap.String("node_id", req.NodeID),
				zap.Int("slots", len(req.Slots)),
			}
			start := time.Now()
			logger.Debug("Processing merge request", fields...)

			err := next(ctx, req)
			fields = append(fields, zap.Duration("duration", time.Since(start)))
			if err != nil {
				logger.Error("Merge request failed", append(fields, zap.Error(err))...)
			} else {
				logger.Info("Merge request processed", fields...)
			}
			return err
		}
	}
}

// ValidationMiddleware rejects requests missing envelope fields. Rejected
// requests are terminated because redelivery cannot repair them.
func ValidationMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *MergeRequest) error {
			if req == nil {
				return fmt.Errorf("request is nil")
			}
			if err := req.Validate(); err != nil {
				_ = req.Term()
				return err
			}
			return next(ctx, req)
		}
	}
}
