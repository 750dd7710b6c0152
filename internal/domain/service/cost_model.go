package service

import "fundarb/internal/domain/model"

// CostModel computes the minimum funding rate needed to break even over a
// planned hold. Pure function of its inputs: no state, no I/O, identical
// output for identical input, so backtests reproduce live decisions exactly.
type CostModel struct{}

func NewCostModel() *CostModel {
	return &CostModel{}
}

// BreakEven returns the required average per-period funding magnitude for a
// hold of `periods` funding periods. All inputs and the result are fractions
// of notional; borrowAPR is annualized and prorated by periodsPerYear.
//
// Total round-trip cost = entryFee + exitFee + slippage + borrow carry.
// One-time costs are diluted across the hold, carry accrues per period.
func (cm *CostModel) BreakEven(periods int, fees model.CostBreakdown, periodsPerYear float64) float64 {
	if periods <= 0 {
		periods = 1
	}
	if periodsPerYear <= 0 {
		periodsPerYear = 3 * 365
	}
	total := fees.RoundTrip() + fees.BorrowPerPeriod*float64(periods)
	return total / float64(periods)
}

// BreakEvenRate is the convenience form used by the scorer: it assembles the
// CostBreakdown from per-leg fee schedules and a slippage estimate, then
// delegates to BreakEven. Each leg pays its own venue's schedule; asymmetric
// fees are summed, never averaged.
func (cm *CostModel) BreakEvenRate(
	periods int,
	legAFees, legBFees model.FeeSchedule,
	slippage float64,
	borrowAPR float64,
	periodsPerYear float64,
) (float64, model.CostBreakdown) {
	if periodsPerYear <= 0 {
		periodsPerYear = 3 * 365
	}
	costs := model.CostBreakdown{
		// entry crosses the spread on both legs (taker), exit works the book (maker)
		EntryFee:        legAFees.Taker + legBFees.Taker,
		ExitFee:         legAFees.Maker + legBFees.Maker,
		Slippage:        slippage,
		BorrowPerPeriod: borrowAPR / periodsPerYear,
	}
	return cm.BreakEven(periods, costs, periodsPerYear), costs
}
