package port

import (
	"context"

	"fundarb/internal/domain/model"
)

// AlertSink receives structured events. Fire-and-forget: implementations
// may drop on error and callers never act on a sink failure.
type AlertSink interface {
	Publish(ctx context.Context, ev model.Event)
}
