package service

import (
	"math"
	"testing"

	"fundarb/internal/domain/model"
)

func TestBreakEvenDilutesOneTimeCosts(t *testing.T) {
	cm := NewCostModel()
	fees := model.CostBreakdown{EntryFee: 0.001, ExitFee: 0.0004, Slippage: 0.0003}

	one := cm.BreakEven(1, fees, 1095)
	three := cm.BreakEven(3, fees, 1095)
	six := cm.BreakEven(6, fees, 1095)

	if !(one > three && three > six) {
		t.Errorf("break-even should fall with longer holds: 1p=%v 3p=%v 6p=%v", one, three, six)
	}
	if math.Abs(one-0.0017) > 1e-9 {
		t.Errorf("1-period break-even = round trip, got %v", one)
	}
}

func TestBreakEvenIncludesBorrowCarry(t *testing.T) {
	cm := NewCostModel()
	noBorrow := model.CostBreakdown{EntryFee: 0.001, ExitFee: 0.0004, Slippage: 0.0003}
	withBorrow := noBorrow
	withBorrow.BorrowPerPeriod = 0.30 / 1095

	a := cm.BreakEven(3, noBorrow, 1095)
	b := cm.BreakEven(3, withBorrow, 1095)

	if b <= a {
		t.Errorf("borrow carry must raise break-even: without=%v with=%v", a, b)
	}
	// carry accrues per period so it is not diluted by the hold
	if math.Abs((b-a)-0.30/1095) > 1e-12 {
		t.Errorf("carry delta = per-period borrow, got %v", b-a)
	}
}

func TestBreakEvenRateSumsAsymmetricLegFees(t *testing.T) {
	cm := NewCostModel()
	legA := model.FeeSchedule{Maker: 0.0002, Taker: 0.0005}
	legB := model.FeeSchedule{Maker: 0.0001, Taker: 0.0008}

	_, costs := cm.BreakEvenRate(3, legA, legB, 0.0003, 0, 1095)

	if math.Abs(costs.EntryFee-0.0013) > 1e-9 {
		t.Errorf("entry fee = sum of both taker fees, got %v", costs.EntryFee)
	}
	if math.Abs(costs.ExitFee-0.0003) > 1e-9 {
		t.Errorf("exit fee = sum of both maker fees, got %v", costs.ExitFee)
	}
}

func TestBreakEvenRateScenario(t *testing.T) {
	// -0.30% funding per 8h, 0.05% taker and 0.02% maker on both legs,
	// 0.03% combined slippage, 30% borrow APR, 3-period hold
	cm := NewCostModel()
	fees := model.FeeSchedule{Maker: 0.0002, Taker: 0.0005}

	breakEven, costs := cm.BreakEvenRate(3, fees, fees, 0.0003, 0.30, 1095)

	if breakEven <= 0 {
		t.Fatalf("break-even must be positive, got %v", breakEven)
	}
	if breakEven < 0.0007 || breakEven > 0.001 {
		t.Errorf("break-even out of plausible range: %v", breakEven)
	}
	// a -0.30% rate clears this break-even with room to spare
	if edge := 0.003 - breakEven; edge <= 0 {
		t.Errorf("funding edge should be positive at -0.30%%, got %v", edge)
	}
	if costs.BorrowPerPeriod <= 0 {
		t.Errorf("borrow per period must be prorated, got %v", costs.BorrowPerPeriod)
	}
}

func TestBreakEvenDefaultsZeroPeriods(t *testing.T) {
	cm := NewCostModel()
	fees := model.CostBreakdown{EntryFee: 0.001}
	if got := cm.BreakEven(0, fees, 1095); got != cm.BreakEven(1, fees, 1095) {
		t.Errorf("zero periods should behave like one, got %v", got)
	}
}
