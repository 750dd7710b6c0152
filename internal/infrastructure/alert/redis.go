package alert

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// RedisSink appends events to a stream for durable consumers and publishes
// them on a channel for live ones. Errors are logged and dropped.
type RedisSink struct {
	rdb     *redis.Client
	stream  string
	channel string
}

func NewRedis(rdb *redis.Client, prefix string) *RedisSink {
	return &RedisSink{
		rdb:     rdb,
		stream:  prefix + ":events",
		channel: prefix + ":events:pub",
	}
}

func (s *RedisSink) Publish(ctx context.Context, ev model.Event) {
	b, _ := json.Marshal(ev)

	_, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]any{
			"ts_ms":   ev.Timestamp,
			"type":    ev.Type,
			"symbol":  ev.Symbol,
			"payload": string(b),
		},
	}).Result()
	if err != nil {
		log.Error().Err(err).Str("event", ev.Type).Msg("redis event stream append failed")
		return
	}

	if err := s.rdb.Publish(ctx, s.channel, string(b)).Err(); err != nil {
		log.Error().Err(err).Str("event", ev.Type).Msg("redis event publish failed")
	}
}

var _ port.AlertSink = (*RedisSink)(nil)
