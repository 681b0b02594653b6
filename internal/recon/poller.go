// Package recon runs the reconciliation poller.
//
// A tick reads upstream subscriptions updated since the main checkpoint,
// upserts their metrics, ledgers newly created ones (with fingerprint
// duplicate detection) and advances the checkpoint over the records it
// processed. The same tick then runs each sub-job whose cadence has
// elapsed since its own checkpoint.
//
// Every write is idempotent: a tick that crashes before its checkpoint is
// saved is simply repeated by the next one, and the ledger insert, its
// events and the jackpot achievement all happen in one transaction that
// is a no-op for a subscription already ledgered.
package recon

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/tally/internal/achievement"
	"github.com/roach88/tally/internal/checkpoint"
	"github.com/roach88/tally/internal/finance"
	"github.com/roach88/tally/internal/installment"
	"github.com/roach88/tally/internal/store"
	"github.com/roach88/tally/internal/telemetry"
	"github.com/roach88/tally/internal/upstream"
)

// ErrTickInProgress is returned by Tick when another tick is running.
var ErrTickInProgress = errors.New("recon: tick already in progress")

// Deps are the collaborators of a Poller. Installments may be nil, which
// disables the overdue sweep.
type Deps struct {
	Source       upstream.Source
	Store        *store.Store
	Checkpoints  checkpoint.Store
	Calculator   *finance.Calculator
	Achievements *achievement.Engine
	Installments *installment.Service
}

// Poller owns all reconciliation state. It is safe to call Tick from
// several goroutines; overlapping calls fail with ErrTickInProgress.
type Poller struct {
	Deps
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
	metrics *telemetry.Metrics
	jobs    []job

	busy atomic.Bool
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock sets the wall clock used for cadences and civil days.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// WithLogger sets the poller logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// WithMetrics sets the poller counters.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// NewPoller creates a poller.
func NewPoller(deps Deps, cfg Config, opts ...Option) *Poller {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = defaults.DuplicateWindow
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	p := &Poller{
		Deps:   deps,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = telemetry.New()
	}
	p.jobs = p.subJobs()
	return p
}

// TickResult summarizes one tick.
type TickResult struct {
	Processed int
	Inserted  int
	Excluded  int
	Jackpots  int
	Skipped   int

	// Cursor and CursorID are the main checkpoint after the tick.
	Cursor   time.Time
	CursorID string

	// Jobs lists the sub-jobs that ran.
	Jobs []string
}

// Tick runs one reconciliation pass. Errors from the main sync and from
// sub-jobs are joined; a failed sub-job does not block the others.
func (p *Poller) Tick(ctx context.Context) (TickResult, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return TickResult{}, ErrTickInProgress
	}
	defer p.busy.Store(false)

	start := p.now()
	var res TickResult
	mainErr := p.syncMain(ctx, &res)

	var jobErrs []error
	if mainErr != nil {
		jobErrs = append(jobErrs, mainErr)
	}
	for _, j := range p.jobs {
		if ctx.Err() != nil {
			jobErrs = append(jobErrs, ctx.Err())
			break
		}
		ran, err := p.runJob(ctx, j)
		if ran {
			res.Jobs = append(res.Jobs, j.name)
		}
		if err != nil {
			jobErrs = append(jobErrs, err)
		}
	}

	p.metrics.TicksRun.Inc()
	err := errors.Join(jobErrs...)
	if err != nil {
		p.metrics.TickErrors.Inc()
	}
	p.logger.Debug("tick finished",
		"processed", res.Processed,
		"inserted", res.Inserted,
		"excluded", res.Excluded,
		"jobs", res.Jobs,
		"duration", time.Since(start),
		"error", err)
	return res, err
}

// Run ticks immediately and then on every interval until ctx is done.
// One worker goroutine runs the ticks. A timer fire that finds the worker
// busy is dropped and counted, never queued.
func (p *Poller) Run(ctx context.Context) error {
	fires := make(chan time.Time)
	done := make(chan struct{})

	go func() {
		defer close(done)
		p.runTick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-fires:
				p.runTick(ctx)
			}
		}
	}()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("poller started", "interval", p.cfg.Interval, "batch_size", p.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			<-done
			p.logger.Info("poller stopped")
			return nil
		case t := <-ticker.C:
			select {
			case fires <- t:
			default:
				p.metrics.TicksDropped.Inc()
				p.logger.Warn("tick dropped", "fired_at", t)
			}
		}
	}
}

func (p *Poller) runTick(ctx context.Context) {
	if _, err := p.Tick(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error("tick failed", "error", err)
	}
}

func (p *Poller) save(ctx context.Context, key string, ts time.Time) error {
	return p.Checkpoints.Save(ctx, key, checkpoint.Cursor{Timestamp: ts}, p.cfg.CheckpointTTL)
}
