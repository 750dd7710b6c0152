package container

import (
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"fundarb/internal/application/port"
	"fundarb/internal/application/service"
	"fundarb/internal/domain/model"
	domain "fundarb/internal/domain/service"
	"fundarb/internal/infrastructure/alert"
	"fundarb/internal/infrastructure/config"
	"fundarb/internal/infrastructure/feed"
	"fundarb/internal/infrastructure/gateway"
	"fundarb/internal/infrastructure/storage/composite"
	"fundarb/internal/infrastructure/storage/postgres"
	"fundarb/internal/infrastructure/storage/redis"
	"fundarb/internal/infrastructure/storage/sqlite"
)

// defaultFees stands in for venues that configure no schedule.
var defaultFees = model.FeeSchedule{Maker: 0.0002, Taker: 0.0005}

// Container wires configuration into services, constructing each
// collaborator once on first use.
type Container struct {
	cfg *config.Config

	store     port.PersistenceStore
	stats     port.HistoryStats
	marketsF  *feed.MultiFeed
	wsFeeds   []*feed.WSFeed
	gw        port.ExecutionGateway
	alerts    port.AlertSink
	rdb       *goredis.Client
	account   *service.AccountTracker
	scorer    *domain.OpportunityScorer
	risk      *domain.RiskManager
	exits     *domain.ExitPolicy
	positions *service.PositionManager
	monitor   *service.Monitor
	backtest  *service.Backtester
}

func New(cfg *config.Config) *Container {
	return &Container{cfg: cfg}
}

func (c *Container) Config() *config.Config { return c.cfg }

func (c *Container) redisClient() *goredis.Client {
	if c.rdb == nil {
		c.rdb = goredis.NewClient(&goredis.Options{Addr: c.cfg.Redis.Addr})
	}
	return c.rdb
}

// Store builds the persistence stack: the configured SQL backend as the
// primary plus the Redis cache fanned out behind it when enabled.
func (c *Container) Store() (port.PersistenceStore, error) {
	if c.store != nil {
		return c.store, nil
	}

	var primary port.PersistenceStore
	switch c.cfg.Storage.Backend {
	case "postgres":
		repo, err := postgres.New(c.cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		primary = repo
		c.stats = repo
	default:
		repo, err := sqlite.New(c.cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		primary = repo
		c.stats = repo
	}

	if c.cfg.Redis.Enabled {
		cache := redis.New(c.redisClient(), c.cfg.Redis.Prefix, time.Duration(c.cfg.Redis.TTLSec)*time.Second)
		c.store = composite.New(primary, cache)
	} else {
		c.store = primary
	}
	return c.store, nil
}

// Stats is the history read side, served by the primary SQL backend.
func (c *Container) Stats() (port.HistoryStats, error) {
	if c.stats == nil {
		if _, err := c.Store(); err != nil {
			return nil, err
		}
	}
	return c.stats, nil
}

// Feed returns the venue-routing market data feed. Venues with a feed_url
// get a websocket-backed feed, others a plain in-memory one.
func (c *Container) Feed() port.MarketDataFeed {
	if c.marketsF == nil {
		c.marketsF = feed.NewMulti()
		for name, vc := range c.cfg.Venues {
			if !vc.Enabled {
				continue
			}
			if vc.FeedURL != "" {
				ws := feed.NewWS(name, vc.FeedURL)
				c.wsFeeds = append(c.wsFeeds, ws)
				c.marketsF.Register(name, ws)
			} else {
				c.marketsF.Register(name, feed.NewMemory())
			}
		}
	}
	return c.marketsF
}

// WSFeeds returns the websocket feeds that need a Run goroutine.
func (c *Container) WSFeeds() []*feed.WSFeed {
	c.Feed()
	return c.wsFeeds
}

func (c *Container) Gateway() (port.ExecutionGateway, error) {
	if c.gw == nil {
		if c.cfg.Execution.Mode != "sim" {
			return nil, fmt.Errorf("execution mode %q has no gateway wired", c.cfg.Execution.Mode)
		}
		sim := gateway.NewSim(c.venueFees(), 0.0005)
		c.gw = gateway.NewRetry(
			sim,
			c.cfg.Execution.RateLimitPerSec,
			c.cfg.Execution.MaxRetries,
			time.Duration(c.cfg.Execution.RetryBackoffMs)*time.Millisecond,
		)
	}
	return c.gw, nil
}

func (c *Container) Alerts() port.AlertSink {
	if c.alerts == nil {
		sinks := []port.AlertSink{alert.NewLog()}
		if c.cfg.Redis.Enabled {
			sinks = append(sinks, alert.NewRedis(c.redisClient(), c.cfg.Redis.Prefix))
		}
		c.alerts = alert.NewFanout(sinks...)
	}
	return c.alerts
}

func (c *Container) Account() *service.AccountTracker {
	if c.account == nil {
		c.account = service.NewAccountTracker(c.cfg.Account.StartingEquity)
	}
	return c.account
}

func (c *Container) Scorer() (*domain.OpportunityScorer, error) {
	if c.scorer == nil {
		stats, err := c.Stats()
		if err != nil {
			return nil, err
		}
		c.scorer = domain.NewOpportunityScorer(domain.ScorerConfig{
			HoldPeriods:     c.cfg.Trading.HoldPeriods,
			MinFundingRate:  c.cfg.Trading.MinFundingRate,
			LiquidityFloor:  c.cfg.Trading.LiquidityFloor,
			FreshnessWindow: time.Duration(c.cfg.Trading.FreshnessWindowSec) * time.Second,
			TargetNotional:  c.cfg.Risk.MaxNotionalPerPosition,
			BorrowAPR:       c.cfg.Trading.BorrowAPR,
			SpotVenue:       c.cfg.Trading.SpotVenue,
			Whitelist:       c.cfg.Symbols.Whitelist,
			Fees:            c.venueFees(),
			DefaultFees:     defaultFees,
		}, domain.NewCostModel(), stats)
	}
	return c.scorer, nil
}

func (c *Container) Risk() *domain.RiskManager {
	if c.risk == nil {
		c.risk = domain.NewRiskManager(c.riskLimits())
	}
	return c.risk
}

func (c *Container) ExitPolicy() *domain.ExitPolicy {
	if c.exits == nil {
		c.exits = domain.NewExitPolicy(domain.ExitPolicyConfig{
			FundingExitThreshold: c.cfg.Exit.FundingExitThreshold,
			MaxHoldDuration:      time.Duration(c.cfg.Exit.MaxHoldHours) * time.Hour,
		})
	}
	return c.exits
}

func (c *Container) Positions() (*service.PositionManager, error) {
	if c.positions == nil {
		store, err := c.Store()
		if err != nil {
			return nil, err
		}
		gw, err := c.Gateway()
		if err != nil {
			return nil, err
		}
		c.positions = service.NewPositionManager(service.PositionManagerConfig{
			EntryTimeout:   time.Duration(c.cfg.Execution.EntryTimeoutMs) * time.Millisecond,
			ExitTimeout:    time.Duration(c.cfg.Execution.ExitTimeoutMs) * time.Millisecond,
			DeltaTolerance: c.cfg.Risk.DeltaTolerance,
			MinLiqBuffer:   c.cfg.Risk.MinLiquidationBuffer,
		}, gw, store, c.Alerts(), c.Risk(), c.ExitPolicy(), c.Account())
	}
	return c.positions, nil
}

func (c *Container) Monitor() (*service.Monitor, error) {
	if c.monitor == nil {
		scorer, err := c.Scorer()
		if err != nil {
			return nil, err
		}
		positions, err := c.Positions()
		if err != nil {
			return nil, err
		}
		store, err := c.Store()
		if err != nil {
			return nil, err
		}
		c.monitor = service.NewMonitor(service.MonitorConfig{
			Interval:  time.Duration(c.cfg.App.IntervalSec) * time.Second,
			Symbols:   c.cfg.Symbols.List,
			Venues:    c.enabledVenues(),
			AutoEntry: c.cfg.App.AutoEntry,
			TopAlerts: c.cfg.App.TopAlerts,
		}, c.Feed(), scorer, c.Risk(), positions, store, c.Alerts(), c.Account())
	}
	return c.monitor, nil
}

func (c *Container) Backtester() (*service.Backtester, error) {
	if c.backtest == nil {
		stats, err := c.Stats()
		if err != nil {
			return nil, err
		}
		c.backtest = service.NewBacktester(stats)
	}
	return c.backtest, nil
}

func (c *Container) Close() error {
	var firstErr error
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			firstErr = err
		}
	}
	if c.rdb != nil {
		if err := c.rdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// VenueFees returns the configured fee schedule of one venue, falling back
// to the default when the venue sets none.
func (c *Container) VenueFees(venue string) model.FeeSchedule {
	if vc, ok := c.cfg.Venues[venue]; ok && (vc.MakerFee != 0 || vc.TakerFee != 0) {
		return model.FeeSchedule{Maker: vc.MakerFee, Taker: vc.TakerFee}
	}
	return defaultFees
}

func (c *Container) venueFees() map[string]model.FeeSchedule {
	fees := make(map[string]model.FeeSchedule, len(c.cfg.Venues))
	for name, vc := range c.cfg.Venues {
		fees[name] = model.FeeSchedule{Maker: vc.MakerFee, Taker: vc.TakerFee}
	}
	return fees
}

func (c *Container) enabledVenues() []string {
	var out []string
	// spot venues included: they carry no funding but their depth feeds
	// the offset-leg liquidity checks
	for name, vc := range c.cfg.Venues {
		if vc.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (c *Container) riskLimits() model.RiskLimits {
	r := c.cfg.Risk
	return model.RiskLimits{
		MaxNotionalPerPosition: r.MaxNotionalPerPosition,
		MinViableNotional:      r.MinViableNotional,
		MaxPositions:           r.MaxPositions,
		MaxPositionsPerBase:    r.MaxPositionsPerBase,
		MaxDrawdown:            r.MaxDrawdown,
		DrawdownRecovery:       r.DrawdownRecovery,
		MinLiquidationBuffer:   r.MinLiquidationBuffer,
		KellyFraction:          r.KellyFraction,
		DeltaTolerance:         r.DeltaTolerance,
	}
}
