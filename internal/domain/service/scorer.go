package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"fundarb/internal/domain/model"

	"github.com/rs/zerolog/log"
)

// HistoryStats serves the historical persistence statistic: the fraction of
// past below-threshold funding episodes that stayed below the threshold for
// at least minPeriods periods. Read-only during scoring.
type HistoryStats interface {
	PersistenceStat(ctx context.Context, symbol string, thresholdRate float64, minPeriods int) (float64, error)
}

// ScorerConfig holds the thresholds and venue fee schedules a scoring cycle
// runs with.
type ScorerConfig struct {
	HoldPeriods     int           // planned hold, in funding periods
	MinFundingRate  float64       // entry threshold, e.g. -0.0015 (-0.15% per period)
	LiquidityFloor  float64       // candidates below this depth score are dropped
	FreshnessWindow time.Duration // snapshots older than this are DATA_STALE
	TargetNotional  float64       // notional used for slippage estimation
	BorrowAPR       float64       // borrow cost for spot-short offsets, annualized
	SpotVenue       string        // venue used for the spot offset leg, "" disables
	Whitelist       []string      // base assets eligible for trading
	Fees            map[string]model.FeeSchedule
	DefaultFees     model.FeeSchedule
}

// OpportunityScorer turns normalized funding/liquidity snapshots into a
// ranked candidate list. Stateless across cycles; every cycle produces a
// fresh list that supersedes the previous one.
type OpportunityScorer struct {
	cfg   ScorerConfig
	costs *CostModel
	stats HistoryStats
	allow map[string]bool
}

func NewOpportunityScorer(cfg ScorerConfig, costs *CostModel, stats HistoryStats) *OpportunityScorer {
	if cfg.HoldPeriods <= 0 {
		cfg.HoldPeriods = 3
	}
	allow := make(map[string]bool, len(cfg.Whitelist))
	for _, a := range cfg.Whitelist {
		allow[strings.ToUpper(strings.TrimSpace(a))] = true
	}
	return &OpportunityScorer{cfg: cfg, costs: costs, stats: stats, allow: allow}
}

// ExtractBaseAsset strips common quote/contract suffixes (BTCUSDT -> BTC).
func ExtractBaseAsset(symbol string) string {
	for _, suffix := range []string{"-USDT-SWAP", "-USD-SWAP", "USDT", "USD", "PERP"} {
		if strings.HasSuffix(symbol, suffix) {
			return strings.TrimSuffix(symbol, suffix)
		}
	}
	return symbol
}

func (os *OpportunityScorer) feesFor(venue string) model.FeeSchedule {
	if f, ok := os.cfg.Fees[venue]; ok {
		return f
	}
	return os.cfg.DefaultFees
}

// Score ranks all viable candidates from the given snapshot sets, highest
// net yield first, ties broken by persistence then liquidity. liquidity is
// keyed by venue+":"+symbol. Candidates with funding_edge <= 0 or liquidity
// below the floor are discarded; candidates without persistence history are
// kept with score 0 and rank low on ties, since absent history is itself a
// signal.
func (os *OpportunityScorer) Score(
	ctx context.Context,
	funding []model.FundingSnapshot,
	liquidity map[string]model.LiquiditySnapshot,
	now time.Time,
) []model.Candidate {
	fresh := os.freshBySymbol(funding, now)

	var out []model.Candidate
	for _, snap := range funding {
		if snap.Rate >= 0 || snap.Rate > os.cfg.MinFundingRate {
			continue
		}
		if os.cfg.FreshnessWindow > 0 && snap.Age(now) > os.cfg.FreshnessWindow {
			log.Debug().Str("venue", snap.Venue).Str("symbol", snap.Symbol).
				Dur("age", snap.Age(now)).Msg("funding snapshot stale, excluded")
			continue
		}
		base := ExtractBaseAsset(snap.Symbol)
		if len(os.allow) > 0 && !os.allow[base] {
			continue
		}

		for _, offset := range os.offsetsFor(snap, fresh[snap.Symbol]) {
			cand, ok := os.buildCandidate(ctx, snap, offset, base, liquidity, now)
			if ok {
				out = append(out, cand)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].NetYieldEstimate != out[j].NetYieldEstimate {
			return out[i].NetYieldEstimate > out[j].NetYieldEstimate
		}
		if out[i].PersistenceScore != out[j].PersistenceScore {
			return out[i].PersistenceScore > out[j].PersistenceScore
		}
		return out[i].LiquidityScore > out[j].LiquidityScore
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// offset describes one viable offsetting leg for a funding-collecting leg.
type offset struct {
	venue    string
	spot     bool
	perpRate float64 // offset perp funding (collected by the short when positive)
}

func (os *OpportunityScorer) offsetsFor(snap model.FundingSnapshot, peers []model.FundingSnapshot) []offset {
	var outs []offset
	for _, peer := range peers {
		if peer.Venue == snap.Venue {
			continue
		}
		// an opposite-signed perp on another venue: the short leg collects
		// (or at worst pays nothing) rather than paying negative funding
		if peer.Rate >= 0 {
			outs = append(outs, offset{venue: peer.Venue, perpRate: peer.Rate})
		}
	}
	if os.cfg.SpotVenue != "" && os.cfg.SpotVenue != snap.Venue {
		outs = append(outs, offset{venue: os.cfg.SpotVenue, spot: true})
	}
	return outs
}

func (os *OpportunityScorer) buildCandidate(
	ctx context.Context,
	snap model.FundingSnapshot,
	off offset,
	base string,
	liquidity map[string]model.LiquiditySnapshot,
	now time.Time,
) (model.Candidate, bool) {
	liqScore, slip, ok := os.legLiquidity(snap, off, liquidity, now)
	if !ok || liqScore < os.cfg.LiquidityFloor {
		return model.Candidate{}, false
	}

	borrow := 0.0
	if off.spot {
		borrow = os.cfg.BorrowAPR
	}
	breakEven, costs := os.costs.BreakEvenRate(
		os.cfg.HoldPeriods,
		os.feesFor(snap.Venue), os.feesFor(off.venue),
		slip, borrow, snap.PeriodsPerYear(),
	)

	// per-period funding collected: long leg receives |rate|; a perp offset
	// short additionally collects its own positive funding
	collected := -snap.Rate + off.perpRate
	edge := collected - breakEven
	if edge <= 0 {
		return model.Candidate{}, false
	}

	persistence := 0.0
	if os.stats != nil {
		p, err := os.stats.PersistenceStat(ctx, snap.Symbol, os.cfg.MinFundingRate, os.cfg.HoldPeriods)
		if err != nil {
			log.Warn().Err(err).Str("symbol", snap.Symbol).Msg("persistence stat lookup failed")
		} else {
			persistence = clamp01(p)
		}
	}

	return model.Candidate{
		ID:               fmt.Sprintf("%s_%s_%s_%d", snap.Symbol, snap.Venue, off.venue, now.UnixMilli()),
		Symbol:           snap.Symbol,
		BaseAsset:        base,
		LegA:             model.LegSpec{Venue: snap.Venue, Side: model.SideLong},
		LegB:             model.LegSpec{Venue: off.venue, Side: model.SideShort},
		FundingRate:      snap.Rate,
		BreakEvenRate:    breakEven,
		FundingEdge:      edge,
		NetYieldEstimate: edge * snap.PeriodsPerYear(),
		PersistenceScore: persistence,
		LiquidityScore:   liqScore,
		Costs:            costs,
		HoldPeriods:      os.cfg.HoldPeriods,
		Timestamp:        now.UnixMilli(),
	}, true
}

// legLiquidity combines both legs' depth into one score and a summed
// slippage estimate. Both legs need a fresh liquidity snapshot; a blind leg
// disqualifies the pair.
func (os *OpportunityScorer) legLiquidity(
	snap model.FundingSnapshot,
	off offset,
	liquidity map[string]model.LiquiditySnapshot,
	now time.Time,
) (score, slippage float64, ok bool) {
	legA, okA := liquidity[snap.Venue+":"+snap.Symbol]
	legB, okB := liquidity[off.venue+":"+snap.Symbol]
	if !okA || !okB {
		return 0, 0, false
	}
	if os.cfg.FreshnessWindow > 0 &&
		(legA.Age(now) > os.cfg.FreshnessWindow || legB.Age(now) > os.cfg.FreshnessWindow) {
		return 0, 0, false
	}
	notional := os.cfg.TargetNotional
	scoreA := legA.DepthScore(notional, model.SideLong)
	scoreB := legB.DepthScore(notional, model.SideShort)
	score = scoreA
	if scoreB < score {
		score = scoreB
	}
	slippage = legA.SlippageFor(notional, model.SideLong) + legB.SlippageFor(notional, model.SideShort)
	return score, slippage, true
}

func (os *OpportunityScorer) freshBySymbol(funding []model.FundingSnapshot, now time.Time) map[string][]model.FundingSnapshot {
	bySymbol := make(map[string][]model.FundingSnapshot)
	for _, snap := range funding {
		if os.cfg.FreshnessWindow > 0 && snap.Age(now) > os.cfg.FreshnessWindow {
			continue
		}
		bySymbol[snap.Symbol] = append(bySymbol[snap.Symbol], snap)
	}
	return bySymbol
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
