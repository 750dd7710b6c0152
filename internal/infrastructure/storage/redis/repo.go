package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// Repo is a write-through cache: latest funding per venue:symbol in a hash,
// candidates and position updates on a stream for external consumers. It is
// never the source of truth; ListOpenPositions always returns empty.
type Repo struct {
	rdb          *redis.Client
	prefix       string
	ttl          time.Duration
	keyFunding   string
	keyPositions string
	candStream   string
}

func New(rdb *redis.Client, prefix string, ttl time.Duration) *Repo {
	return &Repo{
		rdb:          rdb,
		prefix:       prefix,
		ttl:          ttl,
		keyFunding:   prefix + ":funding:latest",
		keyPositions: prefix + ":positions",
		candStream:   prefix + ":candidates",
	}
}

func (r *Repo) SaveFundingSnapshot(ctx context.Context, snap model.FundingSnapshot) error {
	b, _ := json.Marshal(snap)

	// Hash: field = "BINANCE:BTCUSDT" -> json
	field := fmt.Sprintf("%s:%s", snap.Venue, snap.Symbol)
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyFunding, field, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyFunding, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Repo) SaveCandidates(ctx context.Context, cands []model.Candidate) error {
	for _, c := range cands {
		b, _ := json.Marshal(c)
		_, err := r.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: r.candStream,
			MaxLen: 10000,
			Approx: true,
			Values: map[string]any{
				"ts_ms":   c.Timestamp,
				"symbol":  c.Symbol,
				"edge":    c.FundingEdge,
				"payload": string(b),
			},
		}).Result()
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) SavePosition(ctx context.Context, pos *model.Position) error {
	return r.UpdatePosition(ctx, pos)
}

func (r *Repo) UpdatePosition(ctx context.Context, pos *model.Position) error {
	b, _ := json.Marshal(pos)
	pipe := r.rdb.Pipeline()
	if pos.State.Terminal() {
		pipe.HDel(ctx, r.keyPositions, pos.ID)
	} else {
		pipe.HSet(ctx, r.keyPositions, pos.ID, string(b))
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Repo) ListOpenPositions(ctx context.Context) ([]*model.Position, error) {
	return nil, nil
}

func (r *Repo) Close() error { return r.rdb.Close() }

var _ port.PersistenceStore = (*Repo)(nil)
