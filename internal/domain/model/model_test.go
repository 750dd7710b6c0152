package model

import (
	"math"
	"testing"
	"time"
)

func testBook() LiquiditySnapshot {
	return LiquiditySnapshot{
		Venue: "alpha", Symbol: "BTCUSDT",
		Bands: []DepthBand{
			{OffsetPct: 0.0005, BidNotional: 500, AskNotional: 500},
			{OffsetPct: 0.002, BidNotional: 2000, AskNotional: 2000},
		},
	}
}

func TestSlippageForWalksBands(t *testing.T) {
	ls := testBook()

	// fits in the tight band entirely
	if got := ls.SlippageFor(500, SideLong); math.Abs(got-0.0005) > 1e-12 {
		t.Errorf("tight-band slippage = %v", got)
	}

	// 500 at 5bp + 500 at 20bp, averaged over 1000
	want := (500*0.0005 + 500*0.002) / 1000
	if got := ls.SlippageFor(1000, SideLong); math.Abs(got-want) > 1e-12 {
		t.Errorf("two-band slippage = %v, want %v", got, want)
	}
}

func TestSlippageForThinBookChargesWorstBand(t *testing.T) {
	ls := testBook()

	// 5000 target vs 2500 total depth: remainder priced at the worst band
	deep := ls.SlippageFor(5000, SideLong)
	shallow := ls.SlippageFor(1000, SideLong)
	if deep <= shallow {
		t.Errorf("insufficient depth must price out: deep=%v shallow=%v", deep, shallow)
	}
}

func TestDepthScore(t *testing.T) {
	ls := testBook()

	if got := ls.DepthScore(500, SideLong); got != 1 {
		t.Errorf("full fit in tight band scores 1, got %v", got)
	}
	partial := ls.DepthScore(5000, SideLong)
	if partial <= 0 || partial >= 1 {
		t.Errorf("partial depth must score in (0,1), got %v", partial)
	}
	if ls.DepthScore(500, SideShort) != 1 {
		t.Error("bid side scores independently")
	}
}

func TestPositionStateTerminal(t *testing.T) {
	for state, terminal := range map[PositionState]bool{
		StatePendingEntry:  false,
		StateOpen:          false,
		StateRebalancing:   false,
		StatePendingExit:   false,
		StateClosed:        true,
		StateFailedPartial: true,
	} {
		if state.Terminal() != terminal {
			t.Errorf("%s.Terminal() = %v", state, !terminal)
		}
	}
}

func TestLaggingLegAndImbalance(t *testing.T) {
	p := &Position{
		LegA: Leg{Venue: "alpha", Notional: 1000},
		LegB: Leg{Venue: "beta", Notional: 900},
	}
	if p.NotionalImbalance() != 100 {
		t.Errorf("imbalance = %v", p.NotionalImbalance())
	}
	if p.LaggingLeg().Venue != "beta" {
		t.Errorf("lagging leg = %s", p.LaggingLeg().Venue)
	}
}

func TestDrawdown(t *testing.T) {
	a := AccountState{Equity: 9000, PeakEquity: 10000}
	if math.Abs(a.Drawdown()-0.1) > 1e-12 {
		t.Errorf("drawdown = %v", a.Drawdown())
	}
	if (AccountState{Equity: 11000, PeakEquity: 10000}).Drawdown() != 0 {
		t.Error("equity above peak has zero drawdown")
	}
}

func TestFundingSnapshotAge(t *testing.T) {
	now := time.Now()
	fs := FundingSnapshot{Timestamp: now.Add(-90 * time.Second).UnixMilli()}
	if age := fs.Age(now); age < 89*time.Second || age > 91*time.Second {
		t.Errorf("age = %v", age)
	}
}

func TestPeriodsPerYear(t *testing.T) {
	if got := (FundingSnapshot{PeriodHours: 8}).PeriodsPerYear(); got != 1095 {
		t.Errorf("8h periods per year = %v", got)
	}
	if got := (FundingSnapshot{PeriodHours: 1}).PeriodsPerYear(); got != 24*365 {
		t.Errorf("1h periods per year = %v", got)
	}
	if got := (FundingSnapshot{}).PeriodsPerYear(); got != 1095 {
		t.Errorf("default periods per year = %v", got)
	}
}
