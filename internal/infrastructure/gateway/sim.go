package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// SimGateway fills orders instantly against a settable mark price. It
// deduplicates by idempotency key: resubmitting the same key returns the
// recorded result without a second fill. Used in sim mode and in tests.
type SimGateway struct {
	mu       sync.Mutex
	fees     map[string]model.FeeSchedule // venue -> fees
	marks    map[string]float64           // venue:symbol -> mark
	seen     map[string]model.OrderResult // idempotency key -> result
	slippage float64                      // fraction of notional per fill
}

func NewSim(fees map[string]model.FeeSchedule, slippage float64) *SimGateway {
	return &SimGateway{
		fees:     fees,
		marks:    make(map[string]float64),
		seen:     make(map[string]model.OrderResult),
		slippage: slippage,
	}
}

// SetMarkPrice seeds or moves the simulated mark for a venue:symbol.
func (g *SimGateway) SetMarkPrice(venue, symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.marks[markKey(venue, symbol)] = price
}

func (g *SimGateway) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return model.OrderResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.seen[req.IdempotencyKey]; ok {
		return prev, nil
	}

	mark, ok := g.marks[markKey(req.Venue, req.Symbol)]
	if !ok || mark <= 0 {
		res := model.OrderResult{State: model.OrderRejected}
		g.seen[req.IdempotencyKey] = res
		return res, fmt.Errorf("no mark price for %s %s: %w", req.Venue, req.Symbol, model.ErrDataStale)
	}

	fill := mark * (1 + g.slippage)
	if req.Side == model.SideShort {
		fill = mark * (1 - g.slippage)
	}
	fee := g.fees[req.Venue].Taker

	res := model.OrderResult{
		OrderID:        uuid.NewString(),
		State:          model.OrderFilled,
		FillPrice:      fill,
		FilledNotional: req.Notional,
		FeePaid:        fee,
	}
	g.seen[req.IdempotencyKey] = res
	return res, nil
}

func (g *SimGateway) CancelOrder(ctx context.Context, venue, symbol, orderID string) error {
	return nil
}

func (g *SimGateway) MarkPrice(ctx context.Context, venue, symbol string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	mark, ok := g.marks[markKey(venue, symbol)]
	if !ok || mark <= 0 {
		return 0, fmt.Errorf("no mark price for %s %s: %w", venue, symbol, model.ErrDataStale)
	}
	return mark, nil
}

func markKey(venue, symbol string) string { return venue + ":" + symbol }

var _ port.ExecutionGateway = (*SimGateway)(nil)
