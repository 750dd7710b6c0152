package feed

import (
	"context"
	"fmt"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// MultiFeed routes lookups to a per-venue feed.
type MultiFeed struct {
	venues map[string]port.MarketDataFeed
}

func NewMulti() *MultiFeed {
	return &MultiFeed{venues: make(map[string]port.MarketDataFeed)}
}

func (f *MultiFeed) Register(venue string, feed port.MarketDataFeed) {
	f.venues[venue] = feed
}

func (f *MultiFeed) LatestFunding(ctx context.Context, venue, symbol string) (model.FundingSnapshot, error) {
	vf, ok := f.venues[venue]
	if !ok {
		return model.FundingSnapshot{}, fmt.Errorf("no feed for venue %s: %w", venue, model.ErrDataStale)
	}
	return vf.LatestFunding(ctx, venue, symbol)
}

func (f *MultiFeed) LatestLiquidity(ctx context.Context, venue, symbol string) (model.LiquiditySnapshot, error) {
	vf, ok := f.venues[venue]
	if !ok {
		return model.LiquiditySnapshot{}, fmt.Errorf("no feed for venue %s: %w", venue, model.ErrDataStale)
	}
	return vf.LatestLiquidity(ctx, venue, symbol)
}

var _ port.MarketDataFeed = (*MultiFeed)(nil)
