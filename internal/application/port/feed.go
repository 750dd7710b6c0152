package port

import (
	"context"

	"fundarb/internal/domain/model"
)

// MarketDataFeed supplies the latest normalized snapshots for a symbol on a
// venue. Snapshots may be stale; callers must check the observation age
// against the configured freshness window before acting.
type MarketDataFeed interface {
	LatestFunding(ctx context.Context, venue, symbol string) (model.FundingSnapshot, error)
	LatestLiquidity(ctx context.Context, venue, symbol string) (model.LiquiditySnapshot, error)
}
