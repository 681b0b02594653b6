package config

import (
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/roach88/tally/internal/errs"
)

// Environment variables read by Load.
const (
	EnvDatabasePath    = "TALLY_DATABASE_PATH"
	EnvCheckpoint      = "TALLY_CHECKPOINT_BACKEND"
	EnvCheckpointTTL   = "TALLY_CHECKPOINT_TTL"
	EnvRedisAddr       = "TALLY_REDIS_ADDR"
	EnvRedisPassword   = "TALLY_REDIS_PASSWORD"
	EnvRedisDB         = "TALLY_REDIS_DB"
	EnvUpstreamDriver  = "TALLY_UPSTREAM_DRIVER"
	EnvUpstreamDSN     = "TALLY_UPSTREAM_DSN"
	EnvPollerInterval  = "TALLY_POLLER_INTERVAL"
	EnvBatchSize       = "TALLY_BATCH_SIZE"
	EnvTrialCampaignID = "TALLY_TRIAL_CAMPAIGN_ID"
	EnvTimezone        = "TALLY_TIMEZONE"
	EnvMetricsAddr     = "TALLY_METRICS_ADDR"
)

func readDotEnv(path string) (map[string]string, error) {
	vars, err := godotenv.Read(path)
	if isNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Validation(errs.CodeConfig, "read %s: %v", path, err)
	}
	return vars, nil
}

// withFallback consults the process environment first, then the .env
// values.
func withFallback(lookup func(string) (string, bool), dotenv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str(EnvDatabasePath, &cfg.Database.Path)
	str(EnvCheckpoint, &cfg.Checkpoint.Backend)
	str(EnvRedisAddr, &cfg.Checkpoint.Redis.Addr)
	str(EnvRedisPassword, &cfg.Checkpoint.Redis.Password)
	str(EnvUpstreamDriver, &cfg.Upstream.Driver)
	str(EnvUpstreamDSN, &cfg.Upstream.DSN)
	str(EnvTrialCampaignID, &cfg.Poller.TrialCampaignID)
	str(EnvTimezone, &cfg.Poller.Timezone)
	str(EnvMetricsAddr, &cfg.Metrics.Addr)

	if v, ok := lookup(EnvRedisDB); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errs.Validation(errs.CodeConfig, "%s: %v", EnvRedisDB, err)
		}
		cfg.Checkpoint.Redis.DB = n
	}
	if v, ok := lookup(EnvBatchSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errs.Validation(errs.CodeConfig, "%s: %v", EnvBatchSize, err)
		}
		cfg.Poller.BatchSize = n
	}
	for key, dst := range map[string]*Duration{
		EnvPollerInterval: &cfg.Poller.Interval,
		EnvCheckpointTTL:  &cfg.Checkpoint.TTL,
	} {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return errs.Validation(errs.CodeConfig, "%s: %v", key, err)
		}
		*dst = Duration(d)
	}
	return nil
}
