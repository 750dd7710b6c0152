package model

import "time"

// ========== Market Snapshots ==========

// FundingSnapshot is one observed funding rate on a venue. Rate is a signed
// fraction of notional per funding period (e.g. -0.003 = -0.30% per 8h).
// Immutable once recorded.
type FundingSnapshot struct {
	Venue         string  `json:"venue"`
	Symbol        string  `json:"symbol"`
	Rate          float64 `json:"rate"`
	PeriodHours   float64 `json:"period_hours"`
	PredictedRate float64 `json:"predicted_rate,omitempty"`
	Timestamp     int64   `json:"ts_ms"`
}

// Age returns how old the snapshot is relative to now.
func (fs FundingSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(fs.Timestamp))
}

// PeriodsPerYear derives the annual funding period count from the period length.
func (fs FundingSnapshot) PeriodsPerYear() float64 {
	if fs.PeriodHours <= 0 {
		return 3 * 365 // 8h default
	}
	return 24 / fs.PeriodHours * 365
}

// DepthBand is aggregated book depth within a price band around mid.
// OffsetPct is the band edge as a fraction of mid price.
type DepthBand struct {
	OffsetPct   float64 `json:"offset_pct"`
	BidNotional float64 `json:"bid_notional"`
	AskNotional float64 `json:"ask_notional"`
}

// LiquiditySnapshot is observed order-book depth on a venue, bucketed into
// configurable bands. Used to estimate slippage for a target notional.
type LiquiditySnapshot struct {
	Venue     string      `json:"venue"`
	Symbol    string      `json:"symbol"`
	Bands     []DepthBand `json:"bands"`
	Timestamp int64       `json:"ts_ms"`
}

func (ls LiquiditySnapshot) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(ls.Timestamp))
}

// SlippageFor estimates the slippage cost (fraction of notional) of crossing
// the book with notional on the given side. It walks the bands outward and
// assumes fills at each band's edge offset. Returns the worst band offset
// when depth is insufficient, so thin books price out rather than in.
func (ls LiquiditySnapshot) SlippageFor(notional float64, side Side) float64 {
	if notional <= 0 || len(ls.Bands) == 0 {
		return 0
	}
	remaining := notional
	cost := 0.0
	worst := 0.0
	for _, b := range ls.Bands {
		depth := b.AskNotional
		if side == SideShort {
			depth = b.BidNotional
		}
		if b.OffsetPct > worst {
			worst = b.OffsetPct
		}
		if depth <= 0 {
			continue
		}
		take := depth
		if take > remaining {
			take = remaining
		}
		cost += take * b.OffsetPct
		remaining -= take
		if remaining <= 0 {
			return cost / notional
		}
	}
	// not enough depth: remainder charged at the worst observed band
	cost += remaining * worst
	return cost / notional
}

// DepthScore maps available depth vs target notional to [0,1].
// 1 means the full notional fits in the tightest band.
func (ls LiquiditySnapshot) DepthScore(notional float64, side Side) float64 {
	if notional <= 0 || len(ls.Bands) == 0 {
		return 0
	}
	tight := ls.Bands[0]
	depth := tight.AskNotional
	if side == SideShort {
		depth = tight.BidNotional
	}
	if depth >= notional {
		return 1
	}
	total := 0.0
	for _, b := range ls.Bands {
		if side == SideShort {
			total += b.BidNotional
		} else {
			total += b.AskNotional
		}
	}
	if total <= 0 {
		return 0
	}
	score := total / (notional * 2)
	if score > 1 {
		score = 1
	}
	return score
}

// ========== Costs & Candidates ==========

// FeeSchedule is the maker/taker fee of one venue, as fractions of notional.
type FeeSchedule struct {
	Maker float64 `json:"maker"`
	Taker float64 `json:"taker"`
}

// CostBreakdown itemizes the frictions of one round trip, all as fractions
// of notional. Derived per candidate, never persisted on its own.
type CostBreakdown struct {
	EntryFee        float64 `json:"entry_fee"`
	ExitFee         float64 `json:"exit_fee"`
	Slippage        float64 `json:"slippage"`
	BorrowPerPeriod float64 `json:"borrow_per_period"`
}

// RoundTrip returns the one-time (non-compounding) cost of entry + exit + slippage.
func (cb CostBreakdown) RoundTrip() float64 {
	return cb.EntryFee + cb.ExitFee + cb.Slippage
}

// LegSpec names one side of a candidate trade before any order exists.
type LegSpec struct {
	Venue string `json:"venue"`
	Side  Side   `json:"side"`
}

// Candidate is a scored, ranked funding-arb opportunity. Produced fresh each
// scoring cycle and superseded, never mutated.
type Candidate struct {
	ID               string        `json:"id"`
	Symbol           string        `json:"symbol"`
	BaseAsset        string        `json:"base_asset"`
	LegA             LegSpec       `json:"leg_a"` // funding-collecting perp leg
	LegB             LegSpec       `json:"leg_b"` // offsetting leg
	FundingRate      float64       `json:"funding_rate"`
	BreakEvenRate    float64       `json:"break_even_rate"`
	FundingEdge      float64       `json:"funding_edge"` // |rate| - break-even, per period
	NetYieldEstimate float64       `json:"net_yield_estimate"`
	PersistenceScore float64       `json:"persistence_score"` // [0,1]
	LiquidityScore   float64       `json:"liquidity_score"`   // [0,1]
	Rank             int           `json:"rank"`
	Costs            CostBreakdown `json:"costs"`
	HoldPeriods      int           `json:"hold_periods"`
	Timestamp        int64         `json:"ts_ms"`
}

// ========== Positions ==========

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the unwinding side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

type PositionState string

const (
	StatePendingEntry  PositionState = "PENDING_ENTRY"
	StateOpen          PositionState = "OPEN"
	StateRebalancing   PositionState = "REBALANCING"
	StatePendingExit   PositionState = "PENDING_EXIT"
	StateClosed        PositionState = "CLOSED"
	StateFailedPartial PositionState = "FAILED_PARTIAL"
)

// Terminal reports whether no further transition is possible.
func (ps PositionState) Terminal() bool {
	return ps == StateClosed || ps == StateFailedPartial
}

type LegStatus string

const (
	LegUnfilled LegStatus = "UNFILLED"
	LegPending  LegStatus = "PENDING"
	LegFilled   LegStatus = "FILLED"
	LegRejected LegStatus = "REJECTED"
	LegUnwound  LegStatus = "UNWOUND"
)

// Leg is one side of an open or opening position.
type Leg struct {
	Venue      string    `json:"venue"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Notional   float64   `json:"notional"`
	EntryPrice float64   `json:"entry_price,omitempty"`
	ExitPrice  float64   `json:"exit_price,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	Status     LegStatus `json:"status"`
}

// Position is the central lifecycle entity: a delta-neutral two-leg holding.
// Owned exclusively by the position manager for its entire life.
type Position struct {
	ID                 string        `json:"id"`
	Symbol             string        `json:"symbol"`
	BaseAsset          string        `json:"base_asset"`
	LegA               Leg           `json:"leg_a"`
	LegB               Leg           `json:"leg_b"`
	State              PositionState `json:"state"`
	TargetNotional     float64       `json:"target_notional"`
	EntryFundingRate   float64       `json:"entry_funding_rate"`
	RealizedFundingPnL float64       `json:"realized_funding_pnl"`
	RealizedCost       float64       `json:"realized_cost"` // fees + slippage actually paid
	UnrealizedDelta    float64       `json:"unrealized_delta"`
	StopLoss           float64       `json:"stop_loss"` // fraction of notional, from sizing
	FundingFlipAt      int64         `json:"funding_flip_at,omitempty"` // ms; 0 = funding still favorable
	PeriodsHeld        int           `json:"periods_held"`
	OpenedAt           int64         `json:"opened_at"`
	ClosedAt           int64         `json:"closed_at,omitempty"`
	CloseReason        string        `json:"close_reason,omitempty"`
	EntryFailed        bool          `json:"entry_failed,omitempty"` // partial entry: terminal state is FAILED_PARTIAL
}

// NotionalImbalance is the absolute difference between the leg notionals.
func (p *Position) NotionalImbalance() float64 {
	d := p.LegA.Notional - p.LegB.Notional
	if d < 0 {
		return -d
	}
	return d
}

// LaggingLeg returns a pointer to the smaller leg, the one a rebalance
// order must grow.
func (p *Position) LaggingLeg() *Leg {
	if p.LegA.Notional < p.LegB.Notional {
		return &p.LegA
	}
	return &p.LegB
}

// ========== Risk ==========

// RiskLimits is process-wide risk configuration. Read-only during a
// scoring/sizing cycle; reloadable only between cycles.
type RiskLimits struct {
	MaxNotionalPerPosition float64 `json:"max_notional_per_position"`
	MinViableNotional      float64 `json:"min_viable_notional"`
	MaxPositions           int     `json:"max_positions"`
	MaxPositionsPerBase    int     `json:"max_positions_per_base"`
	MaxDrawdown            float64 `json:"max_drawdown"`          // fraction of peak equity
	DrawdownRecovery       float64 `json:"drawdown_recovery"`     // hysteresis: re-enable below this
	MinLiquidationBuffer   float64 `json:"min_liquidation_buffer"` // fraction of margin kept free
	KellyFraction          float64 `json:"kelly_fraction"`
	DeltaTolerance         float64 `json:"delta_tolerance"` // fraction of target notional
}

// AccountState is the equity picture a sizing decision is made against.
type AccountState struct {
	Equity       float64 `json:"equity"`
	PeakEquity   float64 `json:"peak_equity"`
	MarginInUse  float64 `json:"margin_in_use"`
	OpenExposure float64 `json:"open_exposure"`
}

// Drawdown is the decline from peak equity as a fraction. Zero when equity
// is at or above peak.
func (a AccountState) Drawdown() float64 {
	if a.PeakEquity <= 0 || a.Equity >= a.PeakEquity {
		return 0
	}
	return (a.PeakEquity - a.Equity) / a.PeakEquity
}

// SizedOrder is an accepted, risk-bounded instruction to open both legs.
type SizedOrder struct {
	Candidate Candidate `json:"candidate"`
	Notional  float64   `json:"notional"`
	StopLoss  float64   `json:"stop_loss"` // max tolerated delta loss, fraction of notional
	SizedAt   int64     `json:"sized_at"`
}

// ========== Orders & Events ==========

type OrderState string

const (
	OrderFilled   OrderState = "FILLED"
	OrderRejected OrderState = "REJECTED"
	OrderPending  OrderState = "PENDING"
)

// OrderRequest is a single-leg submission to an execution gateway.
// IdempotencyKey is client-generated per submission attempt and reused on
// retry of the same attempt, so a gateway can dedup.
type OrderRequest struct {
	IdempotencyKey string  `json:"idempotency_key"`
	Venue          string  `json:"venue"`
	Symbol         string  `json:"symbol"`
	Side           Side    `json:"side"`
	Notional       float64 `json:"notional"`
	ReduceOnly     bool    `json:"reduce_only,omitempty"`
}

// OrderResult is the gateway's answer for one submission.
type OrderResult struct {
	OrderID        string     `json:"order_id"`
	State          OrderState `json:"state"`
	FillPrice      float64    `json:"fill_price,omitempty"`
	FilledNotional float64    `json:"filled_notional,omitempty"`
	FeePaid        float64    `json:"fee_paid,omitempty"` // fraction of notional
}

// Event is a structured notification for the alert sink. Fire-and-forget:
// sink failures never feed back into decisions.
type Event struct {
	Type       string  `json:"type"`
	Symbol     string  `json:"symbol,omitempty"`
	PositionID string  `json:"position_id,omitempty"`
	Detail     string  `json:"detail,omitempty"`
	Value      float64 `json:"value,omitempty"`
	Timestamp  int64   `json:"ts_ms"`
}

// Event types emitted by the core.
const (
	EventOpportunityFound = "OPPORTUNITY_FOUND"
	EventPositionOpened   = "POSITION_OPENED"
	EventPositionClosed   = "POSITION_CLOSED"
	EventFailedPartial    = "FAILED_PARTIAL"
	EventRebalance        = "REBALANCE"
	EventEntryCancelled   = "ENTRY_CANCELLED"
)
