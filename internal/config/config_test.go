package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tally/internal/errs"
	"github.com/roach88/tally/internal/finance"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	fin := cfg.FinanceConfig()
	def := finance.DefaultConfig()
	assert.True(t, fin.Rates[finance.TRY].Equal(def.Rates[finance.TRY]))
	assert.True(t, fin.Tables.LessonPrices[40].Equal(def.Tables.LessonPrices[40]))
	assert.True(t, fin.Tables.Multipliers[12].Equal(def.Tables.Multipliers[12]))
	assert.Equal(t, finance.TRY, fin.JackpotCurrency)

	rc := cfg.ReconConfig()
	assert.Equal(t, 5*time.Second, rc.Interval)
	assert.Equal(t, 15*time.Minute, rc.Cadence.GoalProgress)
	assert.Equal(t, time.UTC, rc.Location)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "tally.yaml", `
database:
  path: /var/lib/tally/tally.db
checkpoint:
  backend: redis
  ttl: 72h
  redis:
    addr: redis:6379
    db: 2
upstream:
  driver: postgres
  dsn: postgres://tally@db/sales
poller:
  interval: 10s
  batch_size: 250
  trial_campaign_id: campaign-trial
  timezone: Europe/Istanbul
  cadence:
    lead_sync: "0"
finance:
  usd_rates:
    TRY: "41.5"
  lesson_prices:
    - minutes: 25
      price_usd: 6
milestones:
  team_thresholds_usd: [1000, "2500.50"]
metrics:
  addr: ":9090"
`)
	cfg, err := Load(LoadOptions{Path: path, LookupEnv: noEnv})
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/tally/tally.db", cfg.Database.Path)
	assert.Equal(t, BackendRedis, cfg.Checkpoint.Backend)
	assert.Equal(t, 72*time.Hour, cfg.Checkpoint.TTL.D())
	assert.Equal(t, 2, cfg.Checkpoint.Redis.DB)
	assert.Equal(t, DriverPostgres, cfg.Upstream.Driver)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)

	rc := cfg.ReconConfig()
	assert.Equal(t, 10*time.Second, rc.Interval)
	assert.Equal(t, 250, rc.BatchSize)
	assert.Equal(t, "campaign-trial", rc.TrialCampaignID)
	assert.Equal(t, "Europe/Istanbul", rc.Location.String())
	assert.Zero(t, rc.Cadence.LeadSync, "zero disables the job")
	assert.Equal(t, 24*time.Hour, rc.Cadence.OverdueSweep, "unset keys keep defaults")
	require.Len(t, rc.TeamThresholdsUSD, 2)
	assert.Equal(t, "2500.5", rc.TeamThresholdsUSD[1].String())

	fin := cfg.FinanceConfig()
	assert.Equal(t, "41.5", fin.Rates[finance.TRY].String())
	assert.True(t, fin.Rates[finance.EUR].Equal(decimal.RequireFromString("0.92")), "maps merge")
	assert.Len(t, fin.Tables.LessonPrices, 1, "lists replace")
}

func TestLoad_SchemaRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "poller:\n  intervall: 5s\n",
		"unknown section": "server:\n  port: 80\n",
		"bad backend":     "checkpoint:\n  backend: etcd\n",
		"bad duration":    "poller:\n  interval: five seconds\n",
		"bad batch size":  "poller:\n  batch_size: 0\n",
		"bad decimal":     "finance:\n  jackpot_threshold_local: lots\n",
		"bad redis db":    "checkpoint:\n  redis:\n    db: 40\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(LoadOptions{Path: writeFile(t, "tally.yaml", doc), LookupEnv: noEnv})
			require.Error(t, err)
			assert.True(t, errs.IsValidation(err), "%v", err)
			assert.Equal(t, errs.CodeConfig, errs.CodeOf(err))
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(LoadOptions{Path: filepath.Join(t.TempDir(), "nope.yaml"), LookupEnv: noEnv})
	assert.True(t, errs.IsValidation(err))
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(LoadOptions{Path: writeFile(t, "tally.yaml", ""), LookupEnv: noEnv})
	require.NoError(t, err)
	assert.Equal(t, Default().Database.Path, cfg.Database.Path)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "tally.yaml", "poller:\n  batch_size: 100\n")
	cfg, err := Load(LoadOptions{Path: path, LookupEnv: envMap(map[string]string{
		EnvBatchSize:      "42",
		EnvPollerInterval: "1m",
		EnvDatabasePath:   "/tmp/other.db",
		EnvTimezone:       "America/New_York",
	})})
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Poller.BatchSize)
	assert.Equal(t, time.Minute, cfg.Poller.Interval.D())
	assert.Equal(t, "/tmp/other.db", cfg.Database.Path)
	assert.Equal(t, "America/New_York", cfg.Location().String())
}

func TestLoad_EnvBadValues(t *testing.T) {
	for key, value := range map[string]string{
		EnvBatchSize:      "many",
		EnvRedisDB:        "x",
		EnvPollerInterval: "soon",
	} {
		_, err := Load(LoadOptions{LookupEnv: envMap(map[string]string{key: value})})
		assert.True(t, errs.IsValidation(err), key)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "TALLY_TRIAL_CAMPAIGN_ID=from-dotenv\nTALLY_BATCH_SIZE=7\n")
	cfg, err := Load(LoadOptions{
		EnvFile:   envFile,
		LookupEnv: envMap(map[string]string{EnvBatchSize: "9"}),
	})
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Poller.TrialCampaignID)
	assert.Equal(t, 9, cfg.Poller.BatchSize, "process environment wins over .env")

	_, err = Load(LoadOptions{EnvFile: filepath.Join(t.TempDir(), ".env"), LookupEnv: noEnv})
	assert.NoError(t, err, "a missing .env is ignored")
}

func TestValidate_CrossField(t *testing.T) {
	cases := map[string]func(*Config){
		"redis without addr": func(c *Config) { c.Checkpoint.Backend = BackendRedis },
		"postgres no dsn": func(c *Config) {
			c.Upstream.Driver = DriverPostgres
			c.Upstream.DSN = ""
		},
		"bad timezone":      func(c *Config) { c.Poller.Timezone = "Mars/Olympus" },
		"unsupported rate":  func(c *Config) { c.Finance.USDRates["JPY"] = Dec(decimal.NewFromInt(150)) },
		"zero rate":         func(c *Config) { c.Finance.USDRates["USD"] = Dec(decimal.Zero) },
		"jackpot currency":  func(c *Config) { c.Finance.JackpotCurrency = "XXX" },
		"negative ttl":      func(c *Config) { c.Checkpoint.TTL = Duration(-time.Second) },
		"zero threshold":    func(c *Config) { c.Milestones.SellerThresholdsUSD = []Decimal{Dec(decimal.Zero)} },
		"empty database":    func(c *Config) { c.Database.Path = " " },
		"unknown driver":    func(c *Config) { c.Upstream.Driver = "mysql" },
		"zero interval":     func(c *Config) { c.Poller.Interval = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, errs.CodeConfig, errs.CodeOf(err))
		})
	}
}
