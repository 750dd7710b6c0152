package service

import (
	"testing"
	"time"

	"fundarb/internal/domain/model"
)

func exitTestPosition(now time.Time) *model.Position {
	return &model.Position{
		ID:             "pos-1",
		Symbol:         "BTCUSDT",
		State:          model.StateOpen,
		TargetNotional: 1000,
		StopLoss:       0.02,
		OpenedAt:       now.Add(-4 * time.Hour).UnixMilli(),
	}
}

func TestExitPriorityOrder(t *testing.T) {
	ep := NewExitPolicy(ExitPolicyConfig{
		FundingExitThreshold: -0.0001,
		MaxHoldDuration:      time.Hour,
	})
	now := time.Now()
	funding := model.FundingSnapshot{Rate: 0.0005, PeriodHours: 8}

	// every condition true at once: buffer breach, stop-loss, flip held a
	// full period, age past the cap
	pos := exitTestPosition(now)
	pos.UnrealizedDelta = -50 // 5% of notional, past the 2% stop
	pos.FundingFlipAt = now.Add(-9 * time.Hour).UnixMilli()

	reason, fire := ep.Evaluate(pos, funding, 0.10, 0.20, now)
	if !fire || reason != ExitLiquidationBuffer {
		t.Fatalf("liquidation buffer must win, got %v fire=%v", reason, fire)
	}

	reason, fire = ep.Evaluate(pos, funding, 0.50, 0.20, now)
	if !fire || reason != ExitStopLoss {
		t.Fatalf("stop-loss next, got %v fire=%v", reason, fire)
	}

	pos.UnrealizedDelta = -1
	reason, fire = ep.Evaluate(pos, funding, 0.50, 0.20, now)
	if !fire || reason != ExitFundingFlip {
		t.Fatalf("funding flip next, got %v fire=%v", reason, fire)
	}

	pos.FundingFlipAt = 0
	reason, fire = ep.Evaluate(pos, funding, 0.50, 0.20, now)
	if !fire || reason != ExitMaxDuration {
		t.Fatalf("max duration last, got %v fire=%v", reason, fire)
	}
}

func TestFundingFlipNeedsFullPeriod(t *testing.T) {
	ep := NewExitPolicy(ExitPolicyConfig{FundingExitThreshold: -0.0001})
	now := time.Now()
	funding := model.FundingSnapshot{Rate: 0.0005, PeriodHours: 8}

	pos := exitTestPosition(now)
	pos.FundingFlipAt = now.Add(-2 * time.Hour).UnixMilli() // flipped, but recent

	if reason, fire := ep.Evaluate(pos, funding, 0.50, 0.20, now); fire {
		t.Errorf("flip under one period must not fire, got %v", reason)
	}

	pos.FundingFlipAt = now.Add(-8 * time.Hour).UnixMilli()
	if _, fire := ep.Evaluate(pos, funding, 0.50, 0.20, now); !fire {
		t.Error("flip held a full period must fire")
	}
}

func TestNoExitWhileHealthy(t *testing.T) {
	ep := NewExitPolicy(ExitPolicyConfig{
		FundingExitThreshold: -0.0001,
		MaxHoldDuration:      72 * time.Hour,
	})
	now := time.Now()
	pos := exitTestPosition(now)
	pos.UnrealizedDelta = -3 // well inside the stop

	funding := model.FundingSnapshot{Rate: -0.002, PeriodHours: 8}
	if reason, fire := ep.Evaluate(pos, funding, 0.60, 0.20, now); fire {
		t.Errorf("healthy position must stay open, got %v", reason)
	}
}

func TestFundingFlipped(t *testing.T) {
	ep := NewExitPolicy(ExitPolicyConfig{FundingExitThreshold: -0.0001})

	if ep.FundingFlipped(-0.002) {
		t.Error("deeply negative funding is still favorable")
	}
	if !ep.FundingFlipped(0.0001) {
		t.Error("positive funding means the regime is gone")
	}
	if !ep.FundingFlipped(-0.00005) {
		t.Error("rates above the exit threshold no longer pay")
	}
}
