// Package config loads tally's configuration.
//
// Values are layered: built-in defaults, then the YAML file, then
// environment variables (TALLY_*), where a .env file supplies variables
// not already set in the process environment. The YAML document is
// checked against an embedded CUE schema before it is decoded; the
// merged result is then checked for cross-field consistency.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tally/internal/errs"
	"github.com/roach88/tally/internal/finance"
	"github.com/roach88/tally/internal/recon"
)

// Checkpoint backends.
const (
	BackendSQL   = "sql"
	BackendRedis = "redis"
)

// Upstream drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Checkpoint   CheckpointConfig   `yaml:"checkpoint"`
	Upstream     UpstreamConfig     `yaml:"upstream"`
	Poller       PollerConfig       `yaml:"poller"`
	Finance      FinanceConfig      `yaml:"finance"`
	Milestones   MilestonesConfig   `yaml:"milestones"`
	Installments InstallmentsConfig `yaml:"installments"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type CheckpointConfig struct {
	Backend string      `yaml:"backend"`
	TTL     Duration    `yaml:"ttl"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type UpstreamConfig struct {
	Driver string `yaml:"driver"`

	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `yaml:"dsn"`
}

type PollerConfig struct {
	Interval        Duration      `yaml:"interval"`
	BatchSize       int           `yaml:"batch_size"`
	TrialCampaignID string        `yaml:"trial_campaign_id"`
	Timezone        string        `yaml:"timezone"`
	Cadence         CadenceConfig `yaml:"cadence"`
}

type CadenceConfig struct {
	OverdueSweep      Duration `yaml:"overdue_sweep"`
	LeadSync          Duration `yaml:"lead_sync"`
	GoalProgress      Duration `yaml:"goal_progress"`
	RevenueMilestones Duration `yaml:"revenue_milestones"`
}

type FinanceConfig struct {
	USDRates              map[string]Decimal `yaml:"usd_rates"`
	JackpotThresholdLocal Decimal            `yaml:"jackpot_threshold_local"`
	JackpotCurrency       string             `yaml:"jackpot_currency"`
	LessonPrices          []LessonPrice      `yaml:"lesson_prices"`
	MarginMultipliers     []Multiplier       `yaml:"margin_multipliers"`
	DefaultLessonPrice    Decimal            `yaml:"default_lesson_price"`
	DefaultMultiplier     Decimal            `yaml:"default_multiplier"`
}

// LessonPrice is the USD price of one lesson of the given length.
type LessonPrice struct {
	Minutes  int     `yaml:"minutes"`
	PriceUSD Decimal `yaml:"price_usd"`
}

// Multiplier scales the cost of plans of the given length.
type Multiplier struct {
	Months int     `yaml:"months"`
	Value  Decimal `yaml:"value"`
}

type MilestonesConfig struct {
	TeamThresholdsUSD   []Decimal `yaml:"team_thresholds_usd"`
	SellerThresholdsUSD []Decimal `yaml:"seller_thresholds_usd"`
}

type InstallmentsConfig struct {
	UpcomingWindow Duration `yaml:"upcoming_window"`
}

type MetricsConfig struct {
	// Addr is where `tally run` serves /metrics. Empty disables it.
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	fin := finance.DefaultConfig()
	rc := recon.DefaultConfig()

	cfg := Config{
		Database:   DatabaseConfig{Path: "tally.db"},
		Checkpoint: CheckpointConfig{Backend: BackendSQL},
		Upstream:   UpstreamConfig{Driver: DriverSQLite, DSN: "upstream.db"},
		Poller: PollerConfig{
			Interval:  Duration(rc.Interval),
			BatchSize: rc.BatchSize,
			Timezone:  "UTC",
			Cadence: CadenceConfig{
				OverdueSweep:      Duration(rc.Cadence.OverdueSweep),
				LeadSync:          Duration(rc.Cadence.LeadSync),
				GoalProgress:      Duration(rc.Cadence.GoalProgress),
				RevenueMilestones: Duration(rc.Cadence.RevenueMilestones),
			},
		},
		Finance: FinanceConfig{
			USDRates:              make(map[string]Decimal, len(fin.Rates)),
			JackpotThresholdLocal: Dec(fin.JackpotThresholdLocal),
			JackpotCurrency:       string(fin.JackpotCurrency),
			DefaultLessonPrice:    Dec(fin.Tables.DefaultLessonPrice),
			DefaultMultiplier:     Dec(fin.Tables.DefaultMultiplier),
		},
		Installments: InstallmentsConfig{UpcomingWindow: Duration(7 * 24 * time.Hour)},
	}
	for c, rate := range fin.Rates {
		cfg.Finance.USDRates[string(c)] = Dec(rate)
	}
	for _, minutes := range []int{25, 40, 50} {
		cfg.Finance.LessonPrices = append(cfg.Finance.LessonPrices,
			LessonPrice{Minutes: minutes, PriceUSD: Dec(fin.Tables.LessonPrices[minutes])})
	}
	for _, months := range []int{1, 3, 6, 12} {
		cfg.Finance.MarginMultipliers = append(cfg.Finance.MarginMultipliers,
			Multiplier{Months: months, Value: Dec(fin.Tables.Multipliers[months])})
	}
	for _, d := range rc.TeamThresholdsUSD {
		cfg.Milestones.TeamThresholdsUSD = append(cfg.Milestones.TeamThresholdsUSD, Dec(d))
	}
	for _, d := range rc.SellerThresholdsUSD {
		cfg.Milestones.SellerThresholdsUSD = append(cfg.Milestones.SellerThresholdsUSD, Dec(d))
	}
	return cfg
}

// LoadOptions controls Load.
type LoadOptions struct {
	// Path is the YAML file. Empty uses defaults only; a missing file is
	// an error only when Path was given explicitly.
	Path string

	// EnvFile is a .env file. A missing file is ignored.
	EnvFile string

	// LookupEnv reads process environment variables. Defaults to
	// os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load builds the configuration.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	if opts.Path != "" {
		data, err := os.ReadFile(opts.Path)
		if err != nil {
			return Config{}, errs.Validation(errs.CodeConfig, "read config: %v", err)
		}
		if err := checkSchema(opts.Path, data); err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errs.Validation(errs.CodeConfig, "%s: %v", opts.Path, err)
		}
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if opts.EnvFile != "" {
		dotenv, err := readDotEnv(opts.EnvFile)
		if err != nil {
			return Config{}, err
		}
		lookup = withFallback(lookup, dotenv)
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c Config) Validate() error {
	var problems []error
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Database.Path) == "" {
		fail("database.path is required")
	}

	switch c.Checkpoint.Backend {
	case BackendSQL:
	case BackendRedis:
		if c.Checkpoint.Redis.Addr == "" {
			fail("checkpoint.redis.addr is required for the redis backend")
		}
	default:
		fail("checkpoint.backend must be sql or redis, got %q", c.Checkpoint.Backend)
	}
	if c.Checkpoint.TTL < 0 {
		fail("checkpoint.ttl must not be negative")
	}

	switch c.Upstream.Driver {
	case DriverSQLite, DriverPostgres:
		if strings.TrimSpace(c.Upstream.DSN) == "" {
			fail("upstream.dsn is required")
		}
	default:
		fail("upstream.driver must be sqlite or postgres, got %q", c.Upstream.Driver)
	}

	if c.Poller.Interval <= 0 {
		fail("poller.interval must be positive")
	}
	if c.Poller.BatchSize <= 0 {
		fail("poller.batch_size must be positive")
	}
	if _, err := time.LoadLocation(c.Poller.Timezone); err != nil {
		fail("poller.timezone: %v", err)
	}

	if _, ok := finance.ParseCurrency(c.Finance.JackpotCurrency); !ok {
		fail("finance.jackpot_currency %q is not supported", c.Finance.JackpotCurrency)
	}
	for code, rate := range c.Finance.USDRates {
		if _, ok := finance.ParseCurrency(code); !ok {
			fail("finance.usd_rates: currency %q is not supported", code)
		}
		if !rate.IsPositive() {
			fail("finance.usd_rates.%s must be positive", code)
		}
	}
	if !c.Finance.JackpotThresholdLocal.IsPositive() {
		fail("finance.jackpot_threshold_local must be positive")
	}
	for _, t := range append(append([]Decimal(nil), c.Milestones.TeamThresholdsUSD...), c.Milestones.SellerThresholdsUSD...) {
		if !t.IsPositive() {
			fail("milestone thresholds must be positive, got %s", t)
		}
	}
	if c.Installments.UpcomingWindow < 0 {
		fail("installments.upcoming_window must not be negative")
	}

	if len(problems) == 0 {
		return nil
	}
	return errs.Validation(errs.CodeConfig, "invalid config: %v", errors.Join(problems...))
}

// Location returns the poller time zone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Poller.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FinanceConfig converts the finance section for the calculator.
func (c Config) FinanceConfig() finance.Config {
	out := finance.Config{
		Rates:                 make(finance.Rates, len(c.Finance.USDRates)),
		JackpotThresholdLocal: c.Finance.JackpotThresholdLocal.Decimal,
		Tables: finance.Tables{
			LessonPrices:       make(map[int]decimal.Decimal, len(c.Finance.LessonPrices)),
			DefaultLessonPrice: c.Finance.DefaultLessonPrice.Decimal,
			Multipliers:        make(map[int]decimal.Decimal, len(c.Finance.MarginMultipliers)),
			DefaultMultiplier:  c.Finance.DefaultMultiplier.Decimal,
		},
	}
	out.JackpotCurrency, _ = finance.ParseCurrency(c.Finance.JackpotCurrency)
	for code, rate := range c.Finance.USDRates {
		if cur, ok := finance.ParseCurrency(code); ok {
			out.Rates[cur] = rate.Decimal
		}
	}
	for _, p := range c.Finance.LessonPrices {
		out.Tables.LessonPrices[p.Minutes] = p.PriceUSD.Decimal
	}
	for _, m := range c.Finance.MarginMultipliers {
		out.Tables.Multipliers[m.Months] = m.Value.Decimal
	}
	return out
}

// ReconConfig converts the poller and milestone sections.
func (c Config) ReconConfig() recon.Config {
	return recon.Config{
		Interval:        c.Poller.Interval.D(),
		BatchSize:       c.Poller.BatchSize,
		TrialCampaignID: c.Poller.TrialCampaignID,
		DuplicateWindow: 24 * time.Hour,
		Location:        c.Location(),
		CheckpointTTL:   c.Checkpoint.TTL.D(),
		Cadence: recon.Cadence{
			OverdueSweep:      c.Poller.Cadence.OverdueSweep.D(),
			LeadSync:          c.Poller.Cadence.LeadSync.D(),
			GoalProgress:      c.Poller.Cadence.GoalProgress.D(),
			RevenueMilestones: c.Poller.Cadence.RevenueMilestones.D(),
		},
		TeamThresholdsUSD:   decimals(c.Milestones.TeamThresholdsUSD),
		SellerThresholdsUSD: decimals(c.Milestones.SellerThresholdsUSD),
	}
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
