package composite

import (
	"context"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// Repo fans writes out to every backing store and serves reads from the
// primary (first) one. Secondary failures surface as the returned error but
// never stop the remaining writes.
type Repo struct {
	stores []port.PersistenceStore
}

func New(stores ...port.PersistenceStore) *Repo {
	// nil stores are allowed; filter in constructor
	out := make([]port.PersistenceStore, 0, len(stores))
	for _, s := range stores {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Repo{stores: out}
}

func (r *Repo) SaveFundingSnapshot(ctx context.Context, snap model.FundingSnapshot) error {
	var firstErr error
	for _, s := range r.stores {
		if err := s.SaveFundingSnapshot(ctx, snap); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) SaveCandidates(ctx context.Context, cands []model.Candidate) error {
	var firstErr error
	for _, s := range r.stores {
		if err := s.SaveCandidates(ctx, cands); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) SavePosition(ctx context.Context, pos *model.Position) error {
	var firstErr error
	for _, s := range r.stores {
		if err := s.SavePosition(ctx, pos); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) UpdatePosition(ctx context.Context, pos *model.Position) error {
	var firstErr error
	for _, s := range r.stores {
		if err := s.UpdatePosition(ctx, pos); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) ListOpenPositions(ctx context.Context) ([]*model.Position, error) {
	if len(r.stores) == 0 {
		return nil, nil
	}
	return r.stores[0].ListOpenPositions(ctx)
}

func (r *Repo) Close() error {
	var firstErr error
	for _, s := range r.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ port.PersistenceStore = (*Repo)(nil)
