package service

import (
	"context"
	"fmt"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"

	"github.com/rs/zerolog/log"
)

// BacktestConfig are the thresholds a historical replay trades on.
type BacktestConfig struct {
	EntryThreshold float64 // open when funding < this (e.g. -0.0015)
	ExitThreshold  float64 // close when funding > this (e.g. -0.0005)
	Costs          model.CostBreakdown
	PositionSize   float64 // USD per simulated position
}

// BacktestTrade is one simulated round trip.
type BacktestTrade struct {
	EntryTime        time.Time
	ExitTime         time.Time
	Periods          int
	FundingCollected float64
	Costs            float64
	PnL              float64
}

// BacktestResult summarizes a replay over one symbol's funding history.
type BacktestResult struct {
	Venue            string
	Symbol           string
	PeriodDays       float64
	DataPoints       int
	Trades           []BacktestTrade
	TotalFunding     float64
	TotalCosts       float64
	TotalPnL         float64
	WinRate          float64
	AvgHoldPeriods   float64
	AnnualizedReturn float64
}

// Backtester replays recorded funding history through the same cost math
// the live scorer uses. CostModel purity guarantees the replay reproduces
// what live decisioning would have done on the same inputs.
type Backtester struct {
	stats port.HistoryStats
}

func NewBacktester(stats port.HistoryStats) *Backtester {
	return &Backtester{stats: stats}
}

// Run loads up to limit recorded snapshots for venue/symbol and simulates
// threshold entries and exits over them.
func (bt *Backtester) Run(ctx context.Context, venue, symbol string, limit int, cfg BacktestConfig) (BacktestResult, error) {
	history, err := bt.stats.FundingHistory(ctx, venue, symbol, limit)
	if err != nil {
		return BacktestResult{}, fmt.Errorf("load funding history: %w", err)
	}
	if len(history) == 0 {
		return BacktestResult{}, fmt.Errorf("no funding history for %s/%s", venue, symbol)
	}
	res := Replay(history, cfg)
	res.Venue = venue
	res.Symbol = symbol
	log.Info().Str("venue", venue).Str("symbol", symbol).
		Int("data_points", res.DataPoints).Int("trades", len(res.Trades)).
		Float64("total_pnl", res.TotalPnL).
		Float64("annualized", res.AnnualizedReturn).
		Msg("backtest complete")
	return res, nil
}

// Replay is the pure simulation over an ordered (oldest first) rate series.
func Replay(history []model.FundingSnapshot, cfg BacktestConfig) BacktestResult {
	res := BacktestResult{DataPoints: len(history)}
	if cfg.PositionSize <= 0 {
		cfg.PositionSize = 1000
	}

	inPosition := false
	entryIdx := 0

	for i, snap := range history {
		if !inPosition {
			if snap.Rate < cfg.EntryThreshold {
				inPosition = true
				entryIdx = i
			}
			continue
		}
		if snap.Rate <= cfg.ExitThreshold {
			continue
		}

		inPosition = false
		periods := i - entryIdx
		funding := 0.0
		for j := entryIdx; j <= i; j++ {
			funding += -history[j].Rate * cfg.PositionSize
		}
		costs := (cfg.Costs.RoundTrip() + cfg.Costs.BorrowPerPeriod*float64(periods)) * cfg.PositionSize
		trade := BacktestTrade{
			EntryTime:        time.UnixMilli(history[entryIdx].Timestamp),
			ExitTime:         time.UnixMilli(snap.Timestamp),
			Periods:          periods,
			FundingCollected: funding,
			Costs:            costs,
			PnL:              funding - costs,
		}
		res.Trades = append(res.Trades, trade)
		res.TotalFunding += funding
		res.TotalCosts += costs
		res.TotalPnL += trade.PnL
	}

	first := time.UnixMilli(history[0].Timestamp)
	last := time.UnixMilli(history[len(history)-1].Timestamp)
	res.PeriodDays = last.Sub(first).Hours() / 24
	if res.PeriodDays <= 0 {
		res.PeriodDays = 1
	}
	if n := len(res.Trades); n > 0 {
		wins, held := 0, 0
		for _, t := range res.Trades {
			if t.PnL > 0 {
				wins++
			}
			held += t.Periods
		}
		res.WinRate = float64(wins) / float64(n)
		res.AvgHoldPeriods = float64(held) / float64(n)
	}
	res.AnnualizedReturn = res.TotalPnL / cfg.PositionSize * 365 / res.PeriodDays
	return res
}
