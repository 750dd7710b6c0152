package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	App struct {
		IntervalSec int  `toml:"interval_sec"`
		AutoEntry   bool `toml:"auto_entry"`
		TopAlerts   int  `toml:"top_alerts"`
	} `toml:"app"`

	Symbols struct {
		List      []string `toml:"list"`
		Whitelist []string `toml:"whitelist"`
	} `toml:"symbols"`

	// Venues maps venue name -> settings. Credentials come from the
	// environment (FUNDARB_<VENUE>_API_KEY / _API_SECRET), never from the file.
	Venues map[string]VenueConfig `toml:"venues"`

	Trading struct {
		HoldPeriods        int     `toml:"hold_periods"`
		MinFundingRate     float64 `toml:"min_funding_rate"`
		LiquidityFloor     float64 `toml:"liquidity_floor"`
		FreshnessWindowSec int     `toml:"freshness_window_sec"`
		BorrowAPR          float64 `toml:"borrow_apr"`
		SpotVenue          string  `toml:"spot_venue"`
	} `toml:"trading"`

	Risk struct {
		MaxNotionalPerPosition float64 `toml:"max_notional_per_position"`
		MinViableNotional      float64 `toml:"min_viable_notional"`
		MaxPositions           int     `toml:"max_positions"`
		MaxPositionsPerBase    int     `toml:"max_positions_per_base"`
		MaxDrawdown            float64 `toml:"max_drawdown"`
		DrawdownRecovery       float64 `toml:"drawdown_recovery"`
		MinLiquidationBuffer   float64 `toml:"min_liquidation_buffer"`
		KellyFraction          float64 `toml:"kelly_fraction"`
		DeltaTolerance         float64 `toml:"delta_tolerance"`
	} `toml:"risk"`

	Execution struct {
		Mode            string  `toml:"mode"` // "sim" or "live"
		EntryTimeoutMs  int     `toml:"entry_timeout_ms"`
		ExitTimeoutMs   int     `toml:"exit_timeout_ms"`
		MaxRetries      int     `toml:"max_retries"`
		RetryBackoffMs  int     `toml:"retry_backoff_ms"`
		RateLimitPerSec float64 `toml:"rate_limit_per_sec"`
	} `toml:"execution"`

	Exit struct {
		FundingExitThreshold float64 `toml:"funding_exit_threshold"`
		MaxHoldHours         int     `toml:"max_hold_hours"`
	} `toml:"exit"`

	Account struct {
		StartingEquity float64 `toml:"starting_equity"`
	} `toml:"account"`

	Storage struct {
		Backend     string `toml:"backend"` // "sqlite" or "postgres"
		SQLitePath  string `toml:"sqlite_path"`
		PostgresDSN string `toml:"postgres_dsn"`
	} `toml:"storage"`

	Redis struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
		Prefix  string `toml:"prefix"`
		TTLSec  int    `toml:"ttl_sec"`
	} `toml:"redis"`

	Backtest struct {
		EntryThreshold float64 `toml:"entry_threshold"`
		ExitThreshold  float64 `toml:"exit_threshold"`
		PositionSize   float64 `toml:"position_size"`
	} `toml:"backtest"`
}

type VenueConfig struct {
	Enabled   bool    `toml:"enabled"`
	Spot      bool    `toml:"spot"`
	MakerFee  float64 `toml:"maker_fee"`
	TakerFee  float64 `toml:"taker_fee"`
	FeedURL   string  `toml:"feed_url"`
	APIKey    string  `toml:"-"`
	APISecret string  `toml:"-"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	// .env is optional; missing file is not an error
	_ = godotenv.Load()
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.IntervalSec <= 0 {
		cfg.App.IntervalSec = 300
	}
	if cfg.App.TopAlerts <= 0 {
		cfg.App.TopAlerts = 5
	}
	if cfg.Trading.HoldPeriods <= 0 {
		cfg.Trading.HoldPeriods = 3
	}
	if cfg.Trading.MinFundingRate == 0 {
		cfg.Trading.MinFundingRate = -0.0015
	}
	if cfg.Trading.FreshnessWindowSec <= 0 {
		cfg.Trading.FreshnessWindowSec = 120
	}
	if cfg.Trading.BorrowAPR == 0 {
		cfg.Trading.BorrowAPR = 0.30
	}
	if cfg.Risk.MaxNotionalPerPosition <= 0 {
		cfg.Risk.MaxNotionalPerPosition = 1000
	}
	if cfg.Risk.MinViableNotional <= 0 {
		cfg.Risk.MinViableNotional = 100
	}
	if cfg.Risk.MaxPositions <= 0 {
		cfg.Risk.MaxPositions = 5
	}
	if cfg.Risk.MaxDrawdown <= 0 {
		cfg.Risk.MaxDrawdown = 0.10
	}
	if cfg.Risk.DrawdownRecovery <= 0 {
		cfg.Risk.DrawdownRecovery = cfg.Risk.MaxDrawdown / 2
	}
	if cfg.Risk.MinLiquidationBuffer <= 0 {
		cfg.Risk.MinLiquidationBuffer = 0.20
	}
	if cfg.Risk.KellyFraction <= 0 {
		cfg.Risk.KellyFraction = 0.25
	}
	if cfg.Risk.DeltaTolerance <= 0 {
		cfg.Risk.DeltaTolerance = 0.005
	}
	if cfg.Execution.Mode == "" {
		cfg.Execution.Mode = "sim"
	}
	if cfg.Execution.EntryTimeoutMs <= 0 {
		cfg.Execution.EntryTimeoutMs = 10000
	}
	if cfg.Execution.ExitTimeoutMs <= 0 {
		cfg.Execution.ExitTimeoutMs = cfg.Execution.EntryTimeoutMs
	}
	if cfg.Execution.MaxRetries <= 0 {
		cfg.Execution.MaxRetries = 3
	}
	if cfg.Execution.RetryBackoffMs <= 0 {
		cfg.Execution.RetryBackoffMs = 500
	}
	if cfg.Execution.RateLimitPerSec <= 0 {
		cfg.Execution.RateLimitPerSec = 5
	}
	if cfg.Exit.FundingExitThreshold == 0 {
		cfg.Exit.FundingExitThreshold = -0.0001
	}
	if cfg.Exit.MaxHoldHours <= 0 {
		cfg.Exit.MaxHoldHours = 72
	}
	if cfg.Account.StartingEquity <= 0 {
		cfg.Account.StartingEquity = 10000
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/fundarb.db"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "fundarb"
	}
	if cfg.Backtest.EntryThreshold == 0 {
		cfg.Backtest.EntryThreshold = cfg.Trading.MinFundingRate
	}
	if cfg.Backtest.ExitThreshold == 0 {
		cfg.Backtest.ExitThreshold = -0.0005
	}
	if cfg.Backtest.PositionSize <= 0 {
		cfg.Backtest.PositionSize = 1000
	}
}

// applyEnvOverrides injects venue credentials from FUNDARB_<VENUE>_API_KEY /
// FUNDARB_<VENUE>_API_SECRET so secrets never live in the TOML file.
func applyEnvOverrides(cfg *Config) {
	for name, vc := range cfg.Venues {
		env := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		if v := os.Getenv("FUNDARB_" + env + "_API_KEY"); v != "" {
			vc.APIKey = v
		}
		if v := os.Getenv("FUNDARB_" + env + "_API_SECRET"); v != "" {
			vc.APISecret = v
		}
		cfg.Venues[name] = vc
	}
}

func validate(cfg *Config) error {
	cfg.Symbols.List = normalizeSymbols(cfg.Symbols.List)
	if len(cfg.Symbols.List) == 0 {
		return errors.New("symbols.list is empty")
	}
	enabled := 0
	for name, vc := range cfg.Venues {
		if !vc.Enabled {
			continue
		}
		enabled++
		if cfg.Execution.Mode == "live" && (vc.APIKey == "" || vc.APISecret == "") {
			return fmt.Errorf("venue %s enabled for live trading without credentials", name)
		}
	}
	if enabled < 2 {
		return errors.New("need at least two enabled venues for two-leg positions")
	}
	if cfg.Trading.MinFundingRate >= 0 {
		return errors.New("trading.min_funding_rate must be negative")
	}
	if cfg.Risk.MaxDrawdown <= 0 || cfg.Risk.MaxDrawdown >= 1 {
		return errors.New("risk.max_drawdown must be in (0,1)")
	}
	if cfg.Risk.DrawdownRecovery >= cfg.Risk.MaxDrawdown {
		return errors.New("risk.drawdown_recovery must be below risk.max_drawdown")
	}
	if cfg.Risk.MinViableNotional > cfg.Risk.MaxNotionalPerPosition {
		return errors.New("risk.min_viable_notional above risk.max_notional_per_position")
	}
	if cfg.Storage.Backend == "postgres" && strings.TrimSpace(cfg.Storage.PostgresDSN) == "" {
		return errors.New("storage.postgres_dsn empty but backend is postgres")
	}
	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr empty but enabled")
	}
	switch cfg.Execution.Mode {
	case "sim", "live":
	default:
		return fmt.Errorf("execution.mode %q not supported", cfg.Execution.Mode)
	}
	return nil
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
