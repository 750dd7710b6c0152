package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"fundarb/internal/domain/model"
)

// wsMessage is the normalized envelope a venue bridge pushes over the
// socket. One message carries either a funding or a liquidity snapshot.
type wsMessage struct {
	Type      string                  `json:"type"` // "funding" | "liquidity"
	Funding   *model.FundingSnapshot   `json:"funding,omitempty"`
	Liquidity *model.LiquiditySnapshot `json:"liquidity,omitempty"`
}

// WSFeed keeps a MemoryFeed current from a websocket stream of normalized
// snapshots. Reads are served from memory so a dropped connection degrades
// to staleness, which the scorer's freshness window already handles.
type WSFeed struct {
	*MemoryFeed
	venue string
	url   string
}

func NewWS(venue, url string) *WSFeed {
	return &WSFeed{MemoryFeed: NewMemory(), venue: venue, url: url}
}

// Run dials and reads until ctx is cancelled, reconnecting with capped
// exponential backoff. Blocks; run in a goroutine.
func (f *WSFeed) Run(ctx context.Context) {
	backoff := 500 * time.Millisecond
	maxBackoff := 10 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, _, err := websocket.DefaultDialer.DialContext(cctx, f.url, nil)
		cancel()
		if err != nil {
			log.Error().Str("venue", f.venue).Err(err).Msg("ws dial failed")
			time.Sleep(backoff)
			backoff = minDur(backoff*2, maxBackoff)
			continue
		}

		backoff = 500 * time.Millisecond
		log.Info().Str("venue", f.venue).Msg("ws connected")

		err = readLoop(ctx, conn, f.handle)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		log.Warn().Str("venue", f.venue).Err(err).Msg("ws disconnected, reconnecting")
		time.Sleep(backoff)
		backoff = minDur(backoff*2, maxBackoff)
	}
}

func (f *WSFeed) handle(b []byte) {
	var msg wsMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		log.Error().Str("venue", f.venue).Err(err).Msg("ws unmarshal failed")
		return
	}
	switch msg.Type {
	case "funding":
		if msg.Funding == nil || msg.Funding.Symbol == "" {
			return
		}
		snap := *msg.Funding
		if snap.Venue == "" {
			snap.Venue = f.venue
		}
		if snap.Timestamp == 0 {
			snap.Timestamp = time.Now().UnixMilli()
		}
		f.SetFunding(snap)
	case "liquidity":
		if msg.Liquidity == nil || msg.Liquidity.Symbol == "" {
			return
		}
		snap := *msg.Liquidity
		if snap.Venue == "" {
			snap.Venue = f.venue
		}
		if snap.Timestamp == 0 {
			snap.Timestamp = time.Now().UnixMilli()
		}
		f.SetLiquidity(snap)
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, onMsg func([]byte)) error {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			onMsg(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
