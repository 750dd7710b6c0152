package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"fundarb/internal/application/container"
	"fundarb/internal/application/service"
	"fundarb/internal/domain/model"
	domain "fundarb/internal/domain/service"
	"fundarb/internal/infrastructure/config"
	"fundarb/internal/infrastructure/logger"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: fundarb [-config path] <command>

commands:
  scan      run one scoring cycle and print the ranked candidates
  monitor   run the continuous scan/entry/monitoring loop
  backtest  replay recorded funding history through entry/exit thresholds
  status    list open positions from the store
`)
	os.Exit(2)
}

func main() {
	logger.Setup()

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	command := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := container.New(cfg)
	defer c.Close()

	switch command {
	case "scan":
		err = runScan(ctx, c)
	case "monitor":
		err = runMonitor(ctx, c)
	case "backtest":
		err = runBacktest(ctx, c, flag.Args()[1:])
	case "status":
		err = runStatus(ctx, c)
	default:
		usage()
	}
	if err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Str("command", command).Msg("command failed")
	}
}

func runScan(ctx context.Context, c *container.Container) error {
	m, err := c.Monitor()
	if err != nil {
		return err
	}
	startFeeds(ctx, c)

	candidates := m.Scan(ctx, time.Now())
	if len(candidates) == 0 {
		log.Info().Msg("no viable candidates this cycle")
		return nil
	}
	for _, cand := range candidates {
		log.Info().
			Int("rank", cand.Rank).
			Str("symbol", cand.Symbol).
			Str("perp", cand.LegA.Venue).
			Str("offset", cand.LegB.Venue).
			Float64("funding_rate", cand.FundingRate).
			Float64("break_even", cand.BreakEvenRate).
			Float64("edge", cand.FundingEdge).
			Float64("net_yield", cand.NetYieldEstimate).
			Float64("persistence", cand.PersistenceScore).
			Msg("candidate")
	}
	return nil
}

func runMonitor(ctx context.Context, c *container.Container) error {
	m, err := c.Monitor()
	if err != nil {
		return err
	}
	startFeeds(ctx, c)

	cfg := c.Config()
	log.Info().
		Int("symbols", len(cfg.Symbols.List)).
		Int("interval_sec", cfg.App.IntervalSec).
		Bool("auto_entry", cfg.App.AutoEntry).
		Str("mode", cfg.Execution.Mode).
		Msg("fundarb monitor started")

	return m.Run(ctx)
}

func runBacktest(ctx context.Context, c *container.Container, args []string) error {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	venue := fs.String("venue", "", "venue the history was recorded on")
	symbol := fs.String("symbol", "", "symbol to replay")
	limit := fs.Int("limit", 0, "max history rows (0 = default)")
	_ = fs.Parse(args)

	if *venue == "" || *symbol == "" {
		return fmt.Errorf("backtest requires -venue and -symbol")
	}

	bt, err := c.Backtester()
	if err != nil {
		return err
	}
	cfg := c.Config()
	res, err := bt.Run(ctx, *venue, *symbol, *limit, service.BacktestConfig{
		EntryThreshold: cfg.Backtest.EntryThreshold,
		ExitThreshold:  cfg.Backtest.ExitThreshold,
		PositionSize:   cfg.Backtest.PositionSize,
		Costs:          backtestCosts(c, *venue),
	})
	if err != nil {
		return err
	}

	for _, tr := range res.Trades {
		log.Info().
			Time("entry", tr.EntryTime).
			Time("exit", tr.ExitTime).
			Int("periods", tr.Periods).
			Float64("funding", tr.FundingCollected).
			Float64("costs", tr.Costs).
			Float64("pnl", tr.PnL).
			Msg("trade")
	}
	log.Info().
		Int("trades", len(res.Trades)).
		Float64("total_pnl", res.TotalPnL).
		Float64("win_rate", res.WinRate).
		Float64("annualized", res.AnnualizedReturn).
		Msg("backtest summary")
	return nil
}

// backtestCosts rebuilds the cost basis the scorer uses live: each leg pays
// its configured venue schedule, with borrow carry when the offset leg is
// spot. Recorded history carries no order books, so slippage stays out of
// the replayed frictions.
func backtestCosts(c *container.Container, venue string) model.CostBreakdown {
	cfg := c.Config()
	offsetVenue := cfg.Trading.SpotVenue
	borrow := 0.0
	if offsetVenue != "" && offsetVenue != venue {
		borrow = cfg.Trading.BorrowAPR
	} else {
		offsetVenue = venue
	}
	_, costs := domain.NewCostModel().BreakEvenRate(
		cfg.Trading.HoldPeriods,
		c.VenueFees(venue), c.VenueFees(offsetVenue),
		0, borrow, 3*365,
	)
	return costs
}

func runStatus(ctx context.Context, c *container.Container) error {
	store, err := c.Store()
	if err != nil {
		return err
	}
	positions, err := store.ListOpenPositions(ctx)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		log.Info().Msg("no open positions")
		return nil
	}
	for _, pos := range positions {
		log.Info().
			Str("id", pos.ID).
			Str("symbol", pos.Symbol).
			Str("state", string(pos.State)).
			Float64("notional", pos.TargetNotional).
			Float64("funding_pnl", pos.RealizedFundingPnL).
			Int("periods_held", pos.PeriodsHeld).
			Msg("position")
	}
	return nil
}

func startFeeds(ctx context.Context, c *container.Container) {
	for _, ws := range c.WSFeeds() {
		go ws.Run(ctx)
	}
}
