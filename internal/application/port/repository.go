package port

import (
	"context"

	"fundarb/internal/domain/model"
)

// PersistenceStore receives finalized records for historical and backtest
// use. The core only appends during live decisioning; the sole read path is
// the HistoryStats lookup, served separately.
type PersistenceStore interface {
	SaveFundingSnapshot(ctx context.Context, snap model.FundingSnapshot) error
	SaveCandidates(ctx context.Context, cands []model.Candidate) error
	SavePosition(ctx context.Context, pos *model.Position) error
	UpdatePosition(ctx context.Context, pos *model.Position) error
	ListOpenPositions(ctx context.Context) ([]*model.Position, error)
	Close() error
}

// HistoryStats is the read-only statistics collaborator backing the
// scorer's persistence lookups.
type HistoryStats interface {
	PersistenceStat(ctx context.Context, symbol string, thresholdRate float64, minPeriods int) (float64, error)
	FundingHistory(ctx context.Context, venue, symbol string, limit int) ([]model.FundingSnapshot, error)
}
