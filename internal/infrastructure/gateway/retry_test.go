package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fundarb/internal/domain/model"
)

// flakyGateway times out a set number of times before filling.
type flakyGateway struct {
	mu       sync.Mutex
	failures int
	requests []model.OrderRequest
}

func (g *flakyGateway) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.failures > 0 {
		g.failures--
		return model.OrderResult{State: model.OrderPending}, fmt.Errorf("venue slow: %w", model.ErrGatewayTimeout)
	}
	return model.OrderResult{OrderID: "ord-1", State: model.OrderFilled, FillPrice: 100, FilledNotional: req.Notional}, nil
}

func (g *flakyGateway) CancelOrder(ctx context.Context, venue, symbol, orderID string) error {
	return nil
}

func (g *flakyGateway) MarkPrice(ctx context.Context, venue, symbol string) (float64, error) {
	return 100, nil
}

func TestRetryReusesIdempotencyKeyAcrossAttempts(t *testing.T) {
	inner := &flakyGateway{failures: 2}
	gw := NewRetry(inner, 100, 3, time.Millisecond)

	res, err := gw.SubmitOrder(context.Background(), model.OrderRequest{
		IdempotencyKey: "key-1", Venue: "alpha", Symbol: "BTCUSDT",
		Side: model.SideLong, Notional: 1000,
	})
	if err != nil {
		t.Fatalf("SubmitOrder failed after retries: %v", err)
	}
	if res.State != model.OrderFilled {
		t.Fatalf("state = %s, want FILLED", res.State)
	}
	if len(inner.requests) != 3 {
		t.Fatalf("attempts = %d, want 3", len(inner.requests))
	}
	for _, req := range inner.requests {
		if req.IdempotencyKey != "key-1" {
			t.Errorf("retry changed the idempotency key: %s", req.IdempotencyKey)
		}
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	inner := &flakyGateway{failures: 10}
	gw := NewRetry(inner, 100, 2, time.Millisecond)

	res, err := gw.SubmitOrder(context.Background(), model.OrderRequest{
		IdempotencyKey: "key-1", Venue: "alpha", Symbol: "BTCUSDT",
		Side: model.SideLong, Notional: 1000,
	})
	if !errors.Is(err, model.ErrGatewayTimeout) {
		t.Fatalf("want ErrGatewayTimeout, got %v", err)
	}
	if res.State != model.OrderPending {
		t.Errorf("exhausted retries must report PENDING, got %s", res.State)
	}
	if len(inner.requests) != 3 {
		t.Errorf("attempts = %d, want initial + 2 retries", len(inner.requests))
	}
}

func TestRetryDoesNotRetryRejections(t *testing.T) {
	inner := &rejectingGateway{}
	gw := NewRetry(inner, 100, 3, time.Millisecond)

	res, err := gw.SubmitOrder(context.Background(), model.OrderRequest{
		IdempotencyKey: "key-1", Venue: "alpha", Symbol: "BTCUSDT",
		Side: model.SideLong, Notional: 1000,
	})
	if err == nil {
		t.Fatal("rejection must surface as an error")
	}
	if errors.Is(err, model.ErrGatewayTimeout) {
		t.Fatal("rejection is not a timeout")
	}
	if res.State != model.OrderRejected {
		t.Errorf("state = %s, want REJECTED", res.State)
	}
	if inner.calls != 1 {
		t.Errorf("rejections must not be retried, got %d calls", inner.calls)
	}
}

type rejectingGateway struct {
	calls int
}

func (g *rejectingGateway) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	g.calls++
	return model.OrderResult{State: model.OrderRejected}, errors.New("insufficient margin on venue")
}

func (g *rejectingGateway) CancelOrder(ctx context.Context, venue, symbol, orderID string) error {
	return nil
}

func (g *rejectingGateway) MarkPrice(ctx context.Context, venue, symbol string) (float64, error) {
	return 0, model.ErrDataStale
}
