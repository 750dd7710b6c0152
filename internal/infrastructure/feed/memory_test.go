package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"fundarb/internal/domain/model"
)

func TestMemoryFeedLatest(t *testing.T) {
	f := NewMemory()
	now := time.Now().UnixMilli()

	f.SetFunding(model.FundingSnapshot{Venue: "alpha", Symbol: "BTCUSDT", Rate: -0.003, Timestamp: now})
	f.SetFunding(model.FundingSnapshot{Venue: "alpha", Symbol: "BTCUSDT", Rate: -0.002, Timestamp: now + 1})

	snap, err := f.LatestFunding(context.Background(), "alpha", "BTCUSDT")
	if err != nil {
		t.Fatalf("LatestFunding failed: %v", err)
	}
	if snap.Rate != -0.002 {
		t.Errorf("latest write must win, got rate %v", snap.Rate)
	}
}

func TestMemoryFeedMissingIsStale(t *testing.T) {
	f := NewMemory()

	if _, err := f.LatestFunding(context.Background(), "alpha", "BTCUSDT"); !errors.Is(err, model.ErrDataStale) {
		t.Errorf("missing funding must be ErrDataStale, got %v", err)
	}
	if _, err := f.LatestLiquidity(context.Background(), "alpha", "BTCUSDT"); !errors.Is(err, model.ErrDataStale) {
		t.Errorf("missing liquidity must be ErrDataStale, got %v", err)
	}
}

func TestMultiFeedRoutesByVenue(t *testing.T) {
	alpha := NewMemory()
	beta := NewMemory()
	alpha.SetFunding(model.FundingSnapshot{Venue: "alpha", Symbol: "BTCUSDT", Rate: -0.003})
	beta.SetFunding(model.FundingSnapshot{Venue: "beta", Symbol: "BTCUSDT", Rate: 0.0001})

	multi := NewMulti()
	multi.Register("alpha", alpha)
	multi.Register("beta", beta)

	a, err := multi.LatestFunding(context.Background(), "alpha", "BTCUSDT")
	if err != nil || a.Rate != -0.003 {
		t.Errorf("alpha route wrong: %v %v", a.Rate, err)
	}
	b, err := multi.LatestFunding(context.Background(), "beta", "BTCUSDT")
	if err != nil || b.Rate != 0.0001 {
		t.Errorf("beta route wrong: %v %v", b.Rate, err)
	}
	if _, err := multi.LatestFunding(context.Background(), "gamma", "BTCUSDT"); !errors.Is(err, model.ErrDataStale) {
		t.Errorf("unknown venue must be ErrDataStale, got %v", err)
	}
}

func TestWSFeedHandleUpdatesMemory(t *testing.T) {
	ws := NewWS("alpha", "ws://unused")

	ws.handle([]byte(`{"type":"funding","funding":{"symbol":"BTCUSDT","rate":-0.003,"period_hours":8}}`))

	snap, err := ws.LatestFunding(context.Background(), "alpha", "BTCUSDT")
	if err != nil {
		t.Fatalf("LatestFunding failed: %v", err)
	}
	if snap.Rate != -0.003 || snap.Venue != "alpha" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Timestamp == 0 {
		t.Error("handle must stamp missing timestamps")
	}

	// malformed input is dropped without touching state
	ws.handle([]byte(`{not json`))
	if _, err := ws.LatestFunding(context.Background(), "alpha", "BTCUSDT"); err != nil {
		t.Errorf("state must survive bad frames: %v", err)
	}
}
