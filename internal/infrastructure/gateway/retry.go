package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// RetryGateway wraps another gateway with a shared rate limit and bounded
// retries. Only timeouts are retried, and always with the caller's original
// idempotency key, so the venue sees one logical order.
type RetryGateway struct {
	inner      port.ExecutionGateway
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
}

func NewRetry(inner port.ExecutionGateway, perSec float64, maxRetries int, backoff time.Duration) *RetryGateway {
	if perSec <= 0 {
		perSec = 5
	}
	return &RetryGateway{
		inner:      inner,
		limiter:    rate.NewLimiter(rate.Limit(perSec), int(perSec)+1),
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

func (g *RetryGateway) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return model.OrderResult{}, err
		}
		res, err := g.inner.SubmitOrder(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !errors.Is(err, model.ErrGatewayTimeout) {
			return res, err
		}
		if attempt == g.maxRetries {
			break
		}
		log.Warn().
			Str("venue", req.Venue).
			Str("symbol", req.Symbol).
			Int("attempt", attempt+1).
			Err(err).
			Msg("order submit timed out, retrying")
		select {
		case <-ctx.Done():
			return model.OrderResult{}, ctx.Err()
		case <-time.After(g.backoff * time.Duration(attempt+1)):
		}
	}
	return model.OrderResult{State: model.OrderPending}, lastErr
}

func (g *RetryGateway) CancelOrder(ctx context.Context, venue, symbol, orderID string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	return g.inner.CancelOrder(ctx, venue, symbol, orderID)
}

func (g *RetryGateway) MarkPrice(ctx context.Context, venue, symbol string) (float64, error) {
	return g.inner.MarkPrice(ctx, venue, symbol)
}

var _ port.ExecutionGateway = (*RetryGateway)(nil)
