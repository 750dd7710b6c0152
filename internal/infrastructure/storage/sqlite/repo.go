package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS funding_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  venue TEXT NOT NULL,
  symbol TEXT NOT NULL,
  rate REAL NOT NULL,
  period_hours REAL NOT NULL,
  predicted_rate REAL NOT NULL,
  ts_ms INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_funding_symbol ON funding_history(symbol);
CREATE INDEX IF NOT EXISTS idx_funding_venue_symbol ON funding_history(venue, symbol);
CREATE INDEX IF NOT EXISTS idx_funding_ts ON funding_history(ts_ms);

CREATE TABLE IF NOT EXISTS candidates (
  id TEXT PRIMARY KEY,
  symbol TEXT NOT NULL,
  base_asset TEXT NOT NULL,
  funding_rate REAL NOT NULL,
  break_even_rate REAL NOT NULL,
  funding_edge REAL NOT NULL,
  net_yield REAL NOT NULL,
  rank INTEGER NOT NULL,
  payload TEXT NOT NULL,
  ts_ms INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cand_symbol ON candidates(symbol);
CREATE INDEX IF NOT EXISTS idx_cand_ts ON candidates(ts_ms);

CREATE TABLE IF NOT EXISTS positions (
  id TEXT PRIMARY KEY,
  symbol TEXT NOT NULL,
  base_asset TEXT NOT NULL,
  state TEXT NOT NULL,
  target_notional REAL NOT NULL,
  payload TEXT NOT NULL,
  opened_at INTEGER NOT NULL,
  closed_at INTEGER,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pos_symbol ON positions(symbol);
CREATE INDEX IF NOT EXISTS idx_pos_state ON positions(state);
CREATE INDEX IF NOT EXISTS idx_pos_opened ON positions(opened_at);
`)
	return err
}

func (r *Repo) SaveFundingSnapshot(ctx context.Context, snap model.FundingSnapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO funding_history(venue, symbol, rate, period_hours, predicted_rate, ts_ms, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, snap.Venue, snap.Symbol, snap.Rate, snap.PeriodHours, snap.PredictedRate, snap.Timestamp, time.Now().UnixMilli())
	return err
}

func (r *Repo) SaveCandidates(ctx context.Context, cands []model.Candidate) error {
	if len(cands) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	for _, c := range cands {
		b, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO candidates(id, symbol, base_asset, funding_rate, break_even_rate, funding_edge, net_yield, rank, payload, ts_ms, created_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, c.ID, c.Symbol, c.BaseAsset, c.FundingRate, c.BreakEvenRate, c.FundingEdge, c.NetYieldEstimate, c.Rank, string(b), c.Timestamp, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repo) SavePosition(ctx context.Context, pos *model.Position) error {
	b, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO positions(id, symbol, base_asset, state, target_notional, payload, opened_at, closed_at, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, pos.ID, pos.Symbol, pos.BaseAsset, string(pos.State), pos.TargetNotional, string(b), pos.OpenedAt, nullableMs(pos.ClosedAt), now, now)
	return err
}

func (r *Repo) UpdatePosition(ctx context.Context, pos *model.Position) error {
	b, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE positions SET state=?, payload=?, closed_at=?, updated_at=? WHERE id=?
	`, string(pos.State), string(b), nullableMs(pos.ClosedAt), time.Now().UnixMilli(), pos.ID)
	return err
}

func (r *Repo) ListOpenPositions(ctx context.Context) ([]*model.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT payload FROM positions WHERE state NOT IN (?, ?) ORDER BY opened_at
	`, string(model.StateClosed), string(model.StateFailedPartial))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Position
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var pos model.Position
		if err := json.Unmarshal([]byte(payload), &pos); err != nil {
			return nil, err
		}
		out = append(out, &pos)
	}
	return out, rows.Err()
}

// FundingHistory returns the most recent snapshots in chronological order.
func (r *Repo) FundingHistory(ctx context.Context, venue, symbol string, limit int) ([]model.FundingSnapshot, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT venue, symbol, rate, period_hours, predicted_rate, ts_ms
		FROM funding_history WHERE venue=? AND symbol=?
		ORDER BY ts_ms DESC LIMIT ?
	`, venue, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FundingSnapshot
	for rows.Next() {
		var s model.FundingSnapshot
		if err := rows.Scan(&s.Venue, &s.Symbol, &s.Rate, &s.PeriodHours, &s.PredictedRate, &s.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse into chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// PersistenceStat estimates how likely a below-threshold funding episode is
// to last at least minPeriods consecutive observations, from recorded
// history across all venues for the symbol. Returns 0 when no episode has
// ever started, which the scorer treats as "no history".
func (r *Repo) PersistenceStat(ctx context.Context, symbol string, thresholdRate float64, minPeriods int) (float64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rate FROM funding_history WHERE symbol=? ORDER BY venue, ts_ms
	`, symbol)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var rates []float64
	for rows.Next() {
		var rate float64
		if err := rows.Scan(&rate); err != nil {
			return 0, err
		}
		rates = append(rates, rate)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	episodes, lasted := 0, 0
	run := 0
	for _, rate := range rates {
		if rate <= thresholdRate {
			run++
			if run == 1 {
				episodes++
			}
			if run == minPeriods {
				lasted++
			}
		} else {
			run = 0
		}
	}
	if episodes == 0 {
		return 0, nil
	}
	return float64(lasted) / float64(episodes), nil
}

func nullableMs(ms int64) sql.NullInt64 {
	return sql.NullInt64{Int64: ms, Valid: ms > 0}
}

var _ port.PersistenceStore = (*Repo)(nil)
var _ port.HistoryStats = (*Repo)(nil)
