package service

import (
	"context"
	"errors"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
	domain "fundarb/internal/domain/service"

	"github.com/rs/zerolog/log"
)

// MonitorConfig drives the scan/monitor loop.
type MonitorConfig struct {
	Interval  time.Duration // tick interval for scanning and position checks
	Symbols   []string
	Venues    []string
	AutoEntry bool // when false the monitor only scans and alerts
	TopAlerts int  // how many top candidates to publish per scan
}

// Monitor is the scheduled heart of the system: each tick it collects fresh
// snapshots, runs the scoring cycle, sizes and opens accepted candidates,
// then drives one monitoring pass over the live position set. A failure in
// one symbol or position is logged and isolated; the loop itself only stops
// on context cancellation.
type Monitor struct {
	cfg       MonitorConfig
	feed      port.MarketDataFeed
	scorer    *domain.OpportunityScorer
	risk      *domain.RiskManager
	positions *PositionManager
	store     port.PersistenceStore
	alerts    port.AlertSink
	account   AccountSource
}

func NewMonitor(
	cfg MonitorConfig,
	feed port.MarketDataFeed,
	scorer *domain.OpportunityScorer,
	risk *domain.RiskManager,
	positions *PositionManager,
	store port.PersistenceStore,
	alerts port.AlertSink,
	account AccountSource,
) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.TopAlerts <= 0 {
		cfg.TopAlerts = 5
	}
	return &Monitor{
		cfg: cfg, feed: feed, scorer: scorer, risk: risk,
		positions: positions, store: store, alerts: alerts, account: account,
	}
}

// Run blocks until ctx is cancelled, ticking at the configured interval.
// The first scan happens immediately. On shutdown, in-flight exposure is
// resolved before returning.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			m.positions.Shutdown(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	now := time.Now()
	candidates := m.Scan(ctx, now)
	if m.cfg.AutoEntry {
		m.enter(ctx, candidates)
	}
	m.positions.Tick(ctx, m.feed, now)
	m.refreshMargin()
}

// Scan collects the current snapshot set, records it, and returns the
// ranked candidates of this cycle.
func (m *Monitor) Scan(ctx context.Context, now time.Time) []model.Candidate {
	funding := make([]model.FundingSnapshot, 0, len(m.cfg.Symbols)*len(m.cfg.Venues))
	liquidity := make(map[string]model.LiquiditySnapshot)

	for _, symbol := range m.cfg.Symbols {
		for _, venue := range m.cfg.Venues {
			fs, err := m.feed.LatestFunding(ctx, venue, symbol)
			if err == nil {
				funding = append(funding, fs)
				if err := m.store.SaveFundingSnapshot(ctx, fs); err != nil {
					log.Warn().Err(err).Str("venue", venue).Str("symbol", symbol).Msg("save funding snapshot failed")
				}
			} else if !errors.Is(err, model.ErrDataStale) {
				log.Warn().Err(err).Str("venue", venue).Str("symbol", symbol).Msg("funding fetch failed")
			}

			// depth is collected regardless: spot venues quote no funding
			// but their books back the offset leg
			ls, err := m.feed.LatestLiquidity(ctx, venue, symbol)
			if err == nil {
				liquidity[venue+":"+symbol] = ls
			}
		}
	}

	candidates := m.scorer.Score(ctx, funding, liquidity, now)
	if len(candidates) == 0 {
		log.Debug().Int("snapshots", len(funding)).Msg("scan complete, no candidates")
		return nil
	}

	if err := m.store.SaveCandidates(ctx, candidates); err != nil {
		log.Warn().Err(err).Msg("save candidate rankings failed")
	}
	for i, cand := range candidates {
		if i >= m.cfg.TopAlerts {
			break
		}
		log.Info().
			Str("symbol", cand.Symbol).
			Str("leg_a", cand.LegA.Venue).
			Str("leg_b", cand.LegB.Venue).
			Float64("funding", cand.FundingRate).
			Float64("edge", cand.FundingEdge).
			Float64("net_yield", cand.NetYieldEstimate).
			Float64("persistence", cand.PersistenceScore).
			Msg("opportunity detected")
		m.alerts.Publish(ctx, model.Event{
			Type: model.EventOpportunityFound, Symbol: cand.Symbol,
			Detail: cand.LegA.Venue + "/" + cand.LegB.Venue,
			Value:  cand.NetYieldEstimate, Timestamp: now.UnixMilli(),
		})
	}
	return candidates
}

// enter walks the ranked list, sizing each candidate against the current
// account. Rejections are reported, not retried; a drawdown hard stop ends
// the cycle early since nothing below it can pass either.
func (m *Monitor) enter(ctx context.Context, candidates []model.Candidate) {
	for _, cand := range candidates {
		account := m.account.Account()
		sized, resID, err := m.risk.Size(cand, account)
		if err != nil {
			rej, ok := model.AsRejection(err)
			if !ok {
				log.Error().Err(err).Str("symbol", cand.Symbol).Msg("sizing failed")
				continue
			}
			log.Info().Str("symbol", cand.Symbol).Str("reason", string(rej.Reason)).
				Str("detail", rej.Detail).Msg("candidate rejected")
			if rej.Reason == model.RejectDrawdownLimitHit {
				return
			}
			continue
		}

		if _, err := m.positions.Open(ctx, sized, resID); err != nil {
			log.Error().Err(err).Str("symbol", cand.Symbol).Msg("entry failed")
		}
		m.refreshMargin()
	}
}

// refreshMargin recomputes margin in use from the live position set.
func (m *Monitor) refreshMargin() {
	margin := 0.0
	for _, pos := range m.positions.Live() {
		margin += 2 * pos.TargetNotional
	}
	m.account.SetMarginInUse(margin)
}
