package service

import (
	"time"

	"fundarb/internal/domain/model"
)

// ExitReason says why a position should be unwound.
type ExitReason string

const (
	ExitLiquidationBuffer ExitReason = "LIQUIDATION_BUFFER_BREACH"
	ExitStopLoss          ExitReason = "STOP_LOSS"
	ExitFundingFlip       ExitReason = "FUNDING_FLIP"
	ExitMaxDuration       ExitReason = "MAX_DURATION"
)

// ExitPolicyConfig holds the exit thresholds.
type ExitPolicyConfig struct {
	FundingExitThreshold float64       // funding above this no longer pays, e.g. -0.0001
	MaxHoldDuration      time.Duration // hard cap on position age
}

// ExitPolicy is a stateless predicate set evaluated once per monitoring tick
// per position. At most one reason fires per tick, in urgency order:
// liquidation buffer breach > stop-loss > funding flip > max duration. Only
// the most urgent exit action is issued per tick.
type ExitPolicy struct {
	cfg ExitPolicyConfig
}

func NewExitPolicy(cfg ExitPolicyConfig) *ExitPolicy {
	return &ExitPolicy{cfg: cfg}
}

// Evaluate inspects a position snapshot together with the latest funding
// observation and the current margin buffer (free margin as a fraction of
// equity). minBuffer is the configured liquidation safety threshold.
// A funding flip counts only after the reversed sign has held for at least
// one full funding period; the flip start time is tracked on the position
// by the monitor, keeping the policy itself stateless.
func (ep *ExitPolicy) Evaluate(
	pos *model.Position,
	funding model.FundingSnapshot,
	marginBuffer float64,
	minBuffer float64,
	now time.Time,
) (ExitReason, bool) {
	if marginBuffer < minBuffer {
		return ExitLiquidationBuffer, true
	}

	if pos.StopLoss > 0 && pos.TargetNotional > 0 {
		if -pos.UnrealizedDelta >= pos.StopLoss*pos.TargetNotional {
			return ExitStopLoss, true
		}
	}

	if pos.FundingFlipAt > 0 {
		period := time.Duration(funding.PeriodHours * float64(time.Hour))
		if period <= 0 {
			period = 8 * time.Hour
		}
		if now.Sub(time.UnixMilli(pos.FundingFlipAt)) >= period {
			return ExitFundingFlip, true
		}
	}

	if ep.cfg.MaxHoldDuration > 0 && now.Sub(time.UnixMilli(pos.OpenedAt)) >= ep.cfg.MaxHoldDuration {
		return ExitMaxDuration, true
	}

	return "", false
}

// FundingFlipped reports whether the observed rate has crossed back above
// the exit threshold, i.e. the regime the position was opened for is gone.
func (ep *ExitPolicy) FundingFlipped(rate float64) bool {
	return rate > ep.cfg.FundingExitThreshold
}
