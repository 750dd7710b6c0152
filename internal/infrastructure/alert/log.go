package alert

import (
	"context"

	"github.com/rs/zerolog/log"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// LogSink writes events to the structured log. Always installed; other
// sinks stack on top via Fanout.
type LogSink struct{}

func NewLog() *LogSink { return &LogSink{} }

func (s *LogSink) Publish(ctx context.Context, ev model.Event) {
	log.Info().
		Str("event", ev.Type).
		Str("symbol", ev.Symbol).
		Str("position_id", ev.PositionID).
		Float64("value", ev.Value).
		Msg(ev.Detail)
}

// Fanout sends each event to every sink in order.
type Fanout struct {
	sinks []port.AlertSink
}

func NewFanout(sinks ...port.AlertSink) *Fanout {
	out := make([]port.AlertSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Fanout{sinks: out}
}

func (f *Fanout) Publish(ctx context.Context, ev model.Event) {
	for _, s := range f.sinks {
		s.Publish(ctx, ev)
	}
}

var _ port.AlertSink = (*LogSink)(nil)
var _ port.AlertSink = (*Fanout)(nil)
