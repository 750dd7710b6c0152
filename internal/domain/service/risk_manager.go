package service

import (
	"fmt"
	"sync"
	"time"

	"fundarb/internal/domain/model"

	"github.com/google/uuid"
)

// RiskManager sizes candidates and owns the portfolio risk aggregate:
// open-position counts, reserved notional and the drawdown hard stop. Every
// sizing decision and the counter update it depends on happen inside one
// critical section, so two concurrent sizing calls can never both pass a
// concentration check against a stale count. Reserved capacity is freed
// only by Release, once a position reaches a terminal state.
type RiskManager struct {
	mu sync.Mutex

	limits model.RiskLimits

	reservations map[string]reservation // reservation id -> held capacity
	byBase       map[string]int
	reservedUSD  float64

	// drawdown hard stop, latched until equity recovers past the
	// hysteresis threshold
	halted bool
}

type reservation struct {
	base     string
	notional float64
}

func NewRiskManager(limits model.RiskLimits) *RiskManager {
	return &RiskManager{
		limits:       limits,
		reservations: make(map[string]reservation),
		byBase:       make(map[string]int),
	}
}

// Size either rejects the candidate with a distinct reason or returns a
// bounded SizedOrder plus a reservation id that holds the risk capacity
// until Release. Sizing is recomputed fresh per candidate.
func (rm *RiskManager) Size(cand model.Candidate, account model.AccountState) (model.SizedOrder, string, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	limits := rm.limits

	// drawdown hard stop with hysteresis: once hit, no new entries until
	// drawdown recovers below the recovery threshold
	dd := account.Drawdown()
	if dd >= limits.MaxDrawdown {
		rm.halted = true
	} else if rm.halted && dd < limits.DrawdownRecovery {
		rm.halted = false
	}
	if rm.halted {
		return model.SizedOrder{}, "", &model.Rejection{
			Reason: model.RejectDrawdownLimitHit,
			Detail: fmt.Sprintf("drawdown %.2f%% >= limit %.2f%%", dd*100, limits.MaxDrawdown*100),
		}
	}

	if len(rm.reservations) >= limits.MaxPositions {
		return model.SizedOrder{}, "", &model.Rejection{
			Reason: model.RejectPortfolioConcentration,
			Detail: fmt.Sprintf("%d positions open or pending (max %d)", len(rm.reservations), limits.MaxPositions),
		}
	}
	if limits.MaxPositionsPerBase > 0 && rm.byBase[cand.BaseAsset] >= limits.MaxPositionsPerBase {
		return model.SizedOrder{}, "", &model.Rejection{
			Reason: model.RejectPortfolioConcentration,
			Detail: fmt.Sprintf("%d positions on %s (max %d per underlying)",
				rm.byBase[cand.BaseAsset], cand.BaseAsset, limits.MaxPositionsPerBase),
		}
	}

	stopLoss := rm.stopLossFraction()
	notional := rm.kellyNotional(cand, account, stopLoss)
	if notional > limits.MaxNotionalPerPosition {
		notional = limits.MaxNotionalPerPosition
	}
	if notional < limits.MinViableNotional {
		return model.SizedOrder{}, "", &model.Rejection{
			Reason: model.RejectInsufficientEquity,
			Detail: fmt.Sprintf("sized notional %.2f below viable minimum %.2f", notional, limits.MinViableNotional),
		}
	}

	// both legs post margin; assume 1x on each side
	requiredMargin := 2 * notional
	freeEquity := account.Equity - account.MarginInUse - rm.reservedUSD
	if requiredMargin > freeEquity {
		return model.SizedOrder{}, "", &model.Rejection{
			Reason: model.RejectInsufficientEquity,
			Detail: fmt.Sprintf("need %.2f margin, %.2f free", requiredMargin, freeEquity),
		}
	}
	if account.Equity > 0 {
		bufferAfter := (freeEquity - requiredMargin) / account.Equity
		if bufferAfter < limits.MinLiquidationBuffer {
			return model.SizedOrder{}, "", &model.Rejection{
				Reason: model.RejectLiquidationBufferThin,
				Detail: fmt.Sprintf("buffer after entry %.2f%% < minimum %.2f%%",
					bufferAfter*100, limits.MinLiquidationBuffer*100),
			}
		}
	}

	resID := uuid.NewString()
	rm.reservations[resID] = reservation{base: cand.BaseAsset, notional: notional}
	rm.byBase[cand.BaseAsset]++
	rm.reservedUSD += requiredMargin

	return model.SizedOrder{
		Candidate: cand,
		Notional:  notional,
		StopLoss:  stopLoss,
		SizedAt:   time.Now().UnixMilli(),
	}, resID, nil
}

// Release frees the capacity held by a reservation. Called when the position
// backing it reaches CLOSED, FAILED_PARTIAL or a confirmed-cancelled entry.
func (rm *RiskManager) Release(resID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	res, ok := rm.reservations[resID]
	if !ok {
		return
	}
	delete(rm.reservations, resID)
	rm.reservedUSD -= 2 * res.notional
	if rm.reservedUSD < 0 {
		rm.reservedUSD = 0
	}
	if rm.byBase[res.base] > 0 {
		rm.byBase[res.base]--
		if rm.byBase[res.base] == 0 {
			delete(rm.byBase, res.base)
		}
	}
}

// UpdateLimits swaps the limit set. Only safe between scoring cycles; the
// monitor calls it outside any sizing transaction.
func (rm *RiskManager) UpdateLimits(limits model.RiskLimits) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.limits = limits
}

// Halted reports whether the drawdown hard stop is latched.
func (rm *RiskManager) Halted() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.halted
}

// OpenReservations returns the number of held reservations.
func (rm *RiskManager) OpenReservations() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.reservations)
}

// kellyNotional applies a fractional-Kelly rule: win probability comes from
// the persistence score, payoff odds from the expected edge over the hold
// against the stop distance. A non-positive Kelly fraction sizes to zero.
func (rm *RiskManager) kellyNotional(cand model.Candidate, account model.AccountState, stopLoss float64) float64 {
	if stopLoss <= 0 || account.Equity <= 0 {
		return 0
	}
	winProb := cand.PersistenceScore
	if winProb < 0.5 {
		winProb = 0.5 // no-history candidates still size on the cost edge alone
	}
	odds := cand.FundingEdge * float64(cand.HoldPeriods) / stopLoss
	if odds <= 0 {
		return 0
	}
	kelly := winProb - (1-winProb)/odds
	if kelly <= 0 {
		return 0
	}
	return account.Equity * rm.limits.KellyFraction * kelly
}

// stopLossFraction is the max tolerated spread loss per unit notional.
// Tied to the delta tolerance so a rebalance always fires before the stop.
func (rm *RiskManager) stopLossFraction() float64 {
	stop := rm.limits.DeltaTolerance * 4
	if stop <= 0 {
		stop = 0.02
	}
	return stop
}
