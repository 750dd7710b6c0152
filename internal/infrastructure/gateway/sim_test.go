package gateway

import (
	"context"
	"errors"
	"testing"

	"fundarb/internal/domain/model"
)

func testSim() *SimGateway {
	sim := NewSim(map[string]model.FeeSchedule{
		"alpha": {Maker: 0.0002, Taker: 0.0005},
	}, 0.0005)
	sim.SetMarkPrice("alpha", "BTCUSDT", 50000)
	return sim
}

func TestSimFillsAtMarkWithSlippage(t *testing.T) {
	sim := testSim()

	res, err := sim.SubmitOrder(context.Background(), model.OrderRequest{
		IdempotencyKey: "key-1", Venue: "alpha", Symbol: "BTCUSDT",
		Side: model.SideLong, Notional: 1000,
	})
	if err != nil {
		t.Fatalf("SubmitOrder failed: %v", err)
	}
	if res.State != model.OrderFilled {
		t.Fatalf("state = %s, want FILLED", res.State)
	}
	if res.FillPrice <= 50000 {
		t.Errorf("long fill must pay up through slippage, got %v", res.FillPrice)
	}
	if res.FeePaid != 0.0005 {
		t.Errorf("fee = %v, want taker 0.0005", res.FeePaid)
	}

	short, _ := sim.SubmitOrder(context.Background(), model.OrderRequest{
		IdempotencyKey: "key-2", Venue: "alpha", Symbol: "BTCUSDT",
		Side: model.SideShort, Notional: 1000,
	})
	if short.FillPrice >= 50000 {
		t.Errorf("short fill must give up slippage, got %v", short.FillPrice)
	}
}

func TestSimDeduplicatesByIdempotencyKey(t *testing.T) {
	sim := testSim()
	req := model.OrderRequest{
		IdempotencyKey: "key-1", Venue: "alpha", Symbol: "BTCUSDT",
		Side: model.SideLong, Notional: 1000,
	}

	first, err := sim.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}

	// the mark moves, but the retry must return the recorded fill
	sim.SetMarkPrice("alpha", "BTCUSDT", 60000)
	second, err := sim.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	if second.OrderID != first.OrderID || second.FillPrice != first.FillPrice {
		t.Errorf("resubmit produced a different fill: %+v vs %+v", second, first)
	}
}

func TestSimRejectsUnknownMark(t *testing.T) {
	sim := testSim()

	_, err := sim.SubmitOrder(context.Background(), model.OrderRequest{
		IdempotencyKey: "key-1", Venue: "alpha", Symbol: "NOPEUSDT",
		Side: model.SideLong, Notional: 1000,
	})
	if !errors.Is(err, model.ErrDataStale) {
		t.Errorf("want ErrDataStale, got %v", err)
	}
}

func TestSimMarkPrice(t *testing.T) {
	sim := testSim()

	mark, err := sim.MarkPrice(context.Background(), "alpha", "BTCUSDT")
	if err != nil || mark != 50000 {
		t.Errorf("mark = %v err = %v", mark, err)
	}
	if _, err := sim.MarkPrice(context.Background(), "alpha", "NOPEUSDT"); err == nil {
		t.Error("unknown symbol must error")
	}
}
