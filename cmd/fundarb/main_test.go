package main

import (
	"testing"

	"fundarb/internal/application/container"
	"fundarb/internal/infrastructure/config"
)

func approx(a, b float64) bool {
	d := a - b
	return d < 1e-12 && d > -1e-12
}

func TestBacktestCostsUseVenueSchedules(t *testing.T) {
	cfg := &config.Config{Venues: map[string]config.VenueConfig{
		"alpha": {Enabled: true, MakerFee: 0.0001, TakerFee: 0.0004},
		"cash":  {Enabled: true, Spot: true, MakerFee: 0.0003, TakerFee: 0.0008},
	}}
	cfg.Trading.HoldPeriods = 3
	cfg.Trading.BorrowAPR = 0.30
	cfg.Trading.SpotVenue = "cash"
	c := container.New(cfg)

	costs := backtestCosts(c, "alpha")
	if !approx(costs.EntryFee, 0.0004+0.0008) {
		t.Errorf("entry fee = %v, want summed takers", costs.EntryFee)
	}
	if !approx(costs.ExitFee, 0.0001+0.0003) {
		t.Errorf("exit fee = %v, want summed makers", costs.ExitFee)
	}
	if costs.Slippage != 0 {
		t.Errorf("slippage = %v, replay has no books", costs.Slippage)
	}
	if !approx(costs.BorrowPerPeriod, 0.30/(3*365)) {
		t.Errorf("borrow per period = %v", costs.BorrowPerPeriod)
	}
}

func TestBacktestCostsWithoutSpotVenue(t *testing.T) {
	cfg := &config.Config{Venues: map[string]config.VenueConfig{
		"alpha": {Enabled: true, MakerFee: 0.0001, TakerFee: 0.0004},
	}}
	cfg.Trading.HoldPeriods = 3
	c := container.New(cfg)

	costs := backtestCosts(c, "alpha")
	if !approx(costs.EntryFee, 2*0.0004) {
		t.Errorf("entry fee = %v, want doubled venue taker", costs.EntryFee)
	}
	if costs.BorrowPerPeriod != 0 {
		t.Errorf("borrow = %v, no spot leg to borrow for", costs.BorrowPerPeriod)
	}
}
