package recon

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cadence is how often each sub-job runs. A zero or negative duration
// disables the job.
type Cadence struct {
	OverdueSweep      time.Duration
	LeadSync          time.Duration
	GoalProgress      time.Duration
	RevenueMilestones time.Duration
}

// Config tunes the poller.
type Config struct {
	// Interval between timer fires in Run.
	Interval time.Duration

	// BatchSize bounds the upstream records read per tick.
	BatchSize int

	// TrialCampaignID is exempt from ledgering and dedup.
	TrialCampaignID string

	// DuplicateWindow is how far apart two subscriptions with the same
	// fingerprint may be created and still be duplicates.
	DuplicateWindow time.Duration

	// Location is the time zone of civil days (due dates, daily
	// milestones, lead stats).
	Location *time.Location

	// CheckpointTTL is passed to every checkpoint save. Zero keeps
	// cursors forever.
	CheckpointTTL time.Duration

	Cadence Cadence

	TeamThresholdsUSD   []decimal.Decimal
	SellerThresholdsUSD []decimal.Decimal
}

// DefaultConfig returns the built-in poller configuration.
func DefaultConfig() Config {
	return Config{
		Interval:        5 * time.Second,
		BatchSize:       500,
		DuplicateWindow: 24 * time.Hour,
		Location:        time.UTC,
		Cadence: Cadence{
			OverdueSweep:      24 * time.Hour,
			LeadSync:          24 * time.Hour,
			GoalProgress:      15 * time.Minute,
			RevenueMilestones: time.Hour,
		},
		TeamThresholdsUSD: []decimal.Decimal{
			decimal.NewFromInt(5000),
			decimal.NewFromInt(10000),
			decimal.NewFromInt(25000),
		},
		SellerThresholdsUSD: []decimal.Decimal{
			decimal.NewFromInt(1000),
			decimal.NewFromInt(2500),
			decimal.NewFromInt(5000),
		},
	}
}
