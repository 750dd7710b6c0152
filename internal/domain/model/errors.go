package model

import (
	"errors"
	"fmt"
)

// Error taxonomy of the core. Each class is handled differently: stale data
// excludes a candidate, sizing rejections are reported not retried, partial
// fills force an unwind, gateway timeouts are retried only when idempotent,
// and limit breaches stop new entries without touching open positions.
var (
	ErrDataStale      = errors.New("market data stale")
	ErrGatewayTimeout = errors.New("gateway timeout")
	ErrPartialFill    = errors.New("partial fill")
	ErrLimitBreach    = errors.New("risk limit breach")
)

// RejectReason is a distinct sizing-rejection signal from the risk manager.
type RejectReason string

const (
	RejectInsufficientEquity     RejectReason = "INSUFFICIENT_EQUITY"
	RejectLiquidationBufferThin  RejectReason = "LIQUIDATION_BUFFER_TOO_THIN"
	RejectPortfolioConcentration RejectReason = "PORTFOLIO_CONCENTRATION"
	RejectDrawdownLimitHit       RejectReason = "DRAWDOWN_LIMIT_HIT"
)

// Rejection is the typed error returned when sizing declines a candidate.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return fmt.Sprintf("sizing rejected: %s", r.Reason)
	}
	return fmt.Sprintf("sizing rejected: %s (%s)", r.Reason, r.Detail)
}

// Is lets errors.Is match any Rejection against ErrLimitBreach when the
// reason is the drawdown hard stop.
func (r *Rejection) Is(target error) bool {
	return target == ErrLimitBreach && r.Reason == RejectDrawdownLimitHit
}

// AsRejection unwraps a Rejection from err, if present.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
