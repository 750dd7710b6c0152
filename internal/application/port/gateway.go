package port

import (
	"context"

	"fundarb/internal/domain/model"
)

// ExecutionGateway places and cancels single-leg orders on a venue.
// SubmitOrder must be idempotent under retry: resubmitting a request with
// the same idempotency key never produces a second fill. MarkPrice feeds
// delta monitoring and the simulated fill engine.
type ExecutionGateway interface {
	SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error)
	CancelOrder(ctx context.Context, venue, symbol, orderID string) error
	MarkPrice(ctx context.Context, venue, symbol string) (float64, error)
}
