package feed

import (
	"context"
	"fmt"
	"sync"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// MemoryFeed holds the latest snapshot per venue:symbol. It backs the ws
// feed's read side and stands alone in sim mode and tests.
type MemoryFeed struct {
	mu        sync.RWMutex
	funding   map[string]model.FundingSnapshot
	liquidity map[string]model.LiquiditySnapshot
}

func NewMemory() *MemoryFeed {
	return &MemoryFeed{
		funding:   make(map[string]model.FundingSnapshot),
		liquidity: make(map[string]model.LiquiditySnapshot),
	}
}

func (f *MemoryFeed) SetFunding(snap model.FundingSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.funding[key(snap.Venue, snap.Symbol)] = snap
}

func (f *MemoryFeed) SetLiquidity(snap model.LiquiditySnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liquidity[key(snap.Venue, snap.Symbol)] = snap
}

func (f *MemoryFeed) LatestFunding(ctx context.Context, venue, symbol string) (model.FundingSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snap, ok := f.funding[key(venue, symbol)]
	if !ok {
		return model.FundingSnapshot{}, fmt.Errorf("no funding for %s %s: %w", venue, symbol, model.ErrDataStale)
	}
	return snap, nil
}

func (f *MemoryFeed) LatestLiquidity(ctx context.Context, venue, symbol string) (model.LiquiditySnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snap, ok := f.liquidity[key(venue, symbol)]
	if !ok {
		return model.LiquiditySnapshot{}, fmt.Errorf("no liquidity for %s %s: %w", venue, symbol, model.ErrDataStale)
	}
	return snap, nil
}

func key(venue, symbol string) string { return venue + ":" + symbol }

var _ port.MarketDataFeed = (*MemoryFeed)(nil)
