package service

import (
	"context"
	"testing"
	"time"

	"fundarb/internal/domain/model"
)

type fakeStats struct {
	persistence map[string]float64
}

func (f *fakeStats) PersistenceStat(ctx context.Context, symbol string, thresholdRate float64, minPeriods int) (float64, error) {
	return f.persistence[symbol], nil
}

func scorerTestConfig() ScorerConfig {
	fees := model.FeeSchedule{Maker: 0.0002, Taker: 0.0005}
	return ScorerConfig{
		HoldPeriods:     3,
		MinFundingRate:  -0.0015,
		LiquidityFloor:  0.3,
		FreshnessWindow: 2 * time.Minute,
		TargetNotional:  1000,
		BorrowAPR:       0.30,
		SpotVenue:       "spot",
		Whitelist:       []string{"BTC", "ETH"},
		Fees: map[string]model.FeeSchedule{
			"alpha": fees,
			"beta":  fees,
			"spot":  {Maker: 0.001, Taker: 0.001},
		},
		DefaultFees: fees,
	}
}

func deepBook(venue, symbol string, now time.Time) model.LiquiditySnapshot {
	return model.LiquiditySnapshot{
		Venue:  venue,
		Symbol: symbol,
		Bands: []model.DepthBand{
			{OffsetPct: 0.0005, BidNotional: 5000, AskNotional: 5000},
			{OffsetPct: 0.002, BidNotional: 20000, AskNotional: 20000},
		},
		Timestamp: now.UnixMilli(),
	}
}

func scorerFixture(now time.Time) ([]model.FundingSnapshot, map[string]model.LiquiditySnapshot) {
	funding := []model.FundingSnapshot{
		{Venue: "alpha", Symbol: "BTCUSDT", Rate: -0.003, PeriodHours: 8, Timestamp: now.UnixMilli()},
		{Venue: "beta", Symbol: "BTCUSDT", Rate: 0.0001, PeriodHours: 8, Timestamp: now.UnixMilli()},
	}
	liquidity := map[string]model.LiquiditySnapshot{
		"alpha:BTCUSDT": deepBook("alpha", "BTCUSDT", now),
		"beta:BTCUSDT":  deepBook("beta", "BTCUSDT", now),
		"spot:BTCUSDT":  deepBook("spot", "BTCUSDT", now),
	}
	return funding, liquidity
}

func TestScoreProducesRankedPositiveEdgeCandidates(t *testing.T) {
	now := time.Now()
	stats := &fakeStats{persistence: map[string]float64{"BTCUSDT": 0.8}}
	scorer := NewOpportunityScorer(scorerTestConfig(), NewCostModel(), stats)

	funding, liquidity := scorerFixture(now)
	cands := scorer.Score(context.Background(), funding, liquidity, now)

	if len(cands) != 2 {
		t.Fatalf("want perp-offset and spot-offset candidates, got %d", len(cands))
	}
	for i, c := range cands {
		if c.FundingEdge <= 0 {
			t.Errorf("candidate %s has non-positive edge %v", c.ID, c.FundingEdge)
		}
		if c.BreakEvenRate <= 0 {
			t.Errorf("candidate %s has non-positive break-even %v", c.ID, c.BreakEvenRate)
		}
		if c.Rank != i+1 {
			t.Errorf("rank %d at index %d", c.Rank, i)
		}
		if c.PersistenceScore != 0.8 {
			t.Errorf("persistence %v, want 0.8", c.PersistenceScore)
		}
		if c.LegA.Side != model.SideLong || c.LegB.Side != model.SideShort {
			t.Errorf("leg sides wrong: %v / %v", c.LegA.Side, c.LegB.Side)
		}
	}
	if cands[0].NetYieldEstimate < cands[1].NetYieldEstimate {
		t.Error("candidates not ordered by net yield")
	}
	// perp offset avoids borrow and collects the offset leg's funding
	if cands[0].LegB.Venue != "beta" {
		t.Errorf("perp offset should outrank borrow-carrying spot offset, got %s", cands[0].LegB.Venue)
	}
}

func TestScoreExcludesStaleSnapshots(t *testing.T) {
	now := time.Now()
	scorer := NewOpportunityScorer(scorerTestConfig(), NewCostModel(), &fakeStats{})

	funding, liquidity := scorerFixture(now)
	funding[0].Timestamp = now.Add(-10 * time.Minute).UnixMilli()

	if cands := scorer.Score(context.Background(), funding, liquidity, now); len(cands) != 0 {
		t.Errorf("stale funding must be excluded, got %d candidates", len(cands))
	}
}

func TestScoreRespectsEntryThreshold(t *testing.T) {
	now := time.Now()
	scorer := NewOpportunityScorer(scorerTestConfig(), NewCostModel(), &fakeStats{})

	funding, liquidity := scorerFixture(now)
	funding[0].Rate = -0.001 // negative but above the -0.15% threshold

	if cands := scorer.Score(context.Background(), funding, liquidity, now); len(cands) != 0 {
		t.Errorf("rates above the threshold must not qualify, got %d", len(cands))
	}
}

func TestScoreAppliesWhitelist(t *testing.T) {
	now := time.Now()
	scorer := NewOpportunityScorer(scorerTestConfig(), NewCostModel(), &fakeStats{})

	funding := []model.FundingSnapshot{
		{Venue: "alpha", Symbol: "DOGEUSDT", Rate: -0.005, PeriodHours: 8, Timestamp: now.UnixMilli()},
	}
	liquidity := map[string]model.LiquiditySnapshot{
		"alpha:DOGEUSDT": deepBook("alpha", "DOGEUSDT", now),
		"spot:DOGEUSDT":  deepBook("spot", "DOGEUSDT", now),
	}

	if cands := scorer.Score(context.Background(), funding, liquidity, now); len(cands) != 0 {
		t.Errorf("DOGE is not whitelisted, got %d candidates", len(cands))
	}
}

func TestScoreRequiresBothLegsLiquidity(t *testing.T) {
	now := time.Now()
	scorer := NewOpportunityScorer(scorerTestConfig(), NewCostModel(), &fakeStats{})

	funding, liquidity := scorerFixture(now)
	delete(liquidity, "beta:BTCUSDT")
	delete(liquidity, "spot:BTCUSDT")

	if cands := scorer.Score(context.Background(), funding, liquidity, now); len(cands) != 0 {
		t.Errorf("a blind offset leg disqualifies the pair, got %d", len(cands))
	}
}

func TestScoreEmitsNoHistoryCandidatesAtZero(t *testing.T) {
	now := time.Now()
	scorer := NewOpportunityScorer(scorerTestConfig(), NewCostModel(), &fakeStats{})

	funding, liquidity := scorerFixture(now)
	cands := scorer.Score(context.Background(), funding, liquidity, now)

	if len(cands) == 0 {
		t.Fatal("absent history must not suppress candidates")
	}
	for _, c := range cands {
		if c.PersistenceScore != 0 {
			t.Errorf("no-history persistence = %v, want 0", c.PersistenceScore)
		}
	}
}

func TestExtractBaseAsset(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT":       "BTC",
		"ETHUSD":        "ETH",
		"SOLPERP":       "SOL",
		"BTC-USDT-SWAP": "BTC",
		"ETH-USD-SWAP":  "ETH",
		"WEIRD":         "WEIRD",
	}
	for in, want := range cases {
		if got := ExtractBaseAsset(in); got != want {
			t.Errorf("ExtractBaseAsset(%s) = %s, want %s", in, got, want)
		}
	}
}
