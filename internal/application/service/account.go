package service

import (
	"sync"

	"fundarb/internal/domain/model"
)

// AccountTracker is the process-local equity aggregate: starting capital
// plus realized results, with the peak retained for drawdown. Margin in use
// is refreshed by the monitor from the live position set each tick.
type AccountTracker struct {
	mu          sync.Mutex
	equity      float64
	peak        float64
	marginInUse float64
}

func NewAccountTracker(startingEquity float64) *AccountTracker {
	return &AccountTracker{equity: startingEquity, peak: startingEquity}
}

func (at *AccountTracker) Account() model.AccountState {
	at.mu.Lock()
	defer at.mu.Unlock()
	exposure := at.marginInUse / 2
	return model.AccountState{
		Equity:       at.equity,
		PeakEquity:   at.peak,
		MarginInUse:  at.marginInUse,
		OpenExposure: exposure,
	}
}

func (at *AccountTracker) ApplyRealized(pnl float64) {
	at.mu.Lock()
	defer at.mu.Unlock()
	at.equity += pnl
	if at.equity > at.peak {
		at.peak = at.equity
	}
}

func (at *AccountTracker) SetMarginInUse(margin float64) {
	at.mu.Lock()
	defer at.mu.Unlock()
	if margin < 0 {
		margin = 0
	}
	at.marginInUse = margin
}
