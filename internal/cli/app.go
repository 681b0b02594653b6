package cli

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/tally/internal/achievement"
	"github.com/roach88/tally/internal/checkpoint"
	"github.com/roach88/tally/internal/config"
	"github.com/roach88/tally/internal/errs"
	"github.com/roach88/tally/internal/finance"
	"github.com/roach88/tally/internal/identity"
	"github.com/roach88/tally/internal/installment"
	"github.com/roach88/tally/internal/recon"
	"github.com/roach88/tally/internal/store"
	"github.com/roach88/tally/internal/telemetry"
	"github.com/roach88/tally/internal/upstream"
)

// app is the wired component graph shared by the commands.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	now    func() time.Time
	ids    identity.Generator

	store        *store.Store
	metrics      *telemetry.Metrics
	checkpoints  checkpoint.Store
	calc         *finance.Calculator
	achievements *achievement.Engine
	installments *installment.Service

	// Opened only by commands that read the upstream system.
	source upstream.Source
	redis  *redis.Client
}

// appNeeds selects the optional parts of the graph.
type appNeeds struct {
	upstream    bool
	checkpoints bool
}

func loadConfig(opts *RootOptions) (config.Config, error) {
	return config.Load(config.LoadOptions{
		Path:      opts.Config,
		EnvFile:   opts.EnvFile,
		LookupEnv: opts.LookupEnv,
	})
}

func openApp(ctx context.Context, opts *RootOptions, needs appNeeds) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  slog.Default(),
		now:     opts.Now,
		ids:     opts.IDs,
		metrics: telemetry.New(),
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.ids == nil {
		a.ids = identity.UUIDv7Generator{}
	}

	a.logger.Debug("opening database", "path", cfg.Database.Path)
	a.store, err = store.Open(cfg.Database.Path, store.WithClock(a.now))
	if err != nil {
		return nil, errs.Infra(errs.CodeStorage, err)
	}

	a.calc = finance.NewCalculator(cfg.FinanceConfig(), finance.WithLogger(a.logger))
	a.achievements = achievement.NewEngine(a.store,
		achievement.WithIDGenerator(a.ids),
		achievement.WithLogger(a.logger),
		achievement.WithMetrics(a.metrics))
	a.installments = installment.NewService(a.store,
		installment.WithIDGenerator(a.ids),
		installment.WithClock(a.now),
		installment.WithLocation(cfg.Location()),
		installment.WithUpcomingWindow(cfg.Installments.UpcomingWindow.D()),
		installment.WithLogger(a.logger),
		installment.WithMetrics(a.metrics))

	if needs.checkpoints {
		if err := a.openCheckpoints(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	if needs.upstream {
		if err := a.openUpstream(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openCheckpoints(ctx context.Context) error {
	switch a.cfg.Checkpoint.Backend {
	case config.BackendRedis:
		client, err := checkpoint.DialRedis(ctx, checkpoint.RedisOptions{
			Addr:     a.cfg.Checkpoint.Redis.Addr,
			Password: a.cfg.Checkpoint.Redis.Password,
			DB:       a.cfg.Checkpoint.Redis.DB,
		})
		if err != nil {
			return err
		}
		a.redis = client
		a.checkpoints = checkpoint.NewRedisStore(client)
	default:
		a.checkpoints = checkpoint.NewSQLStore(a.store.DB(), checkpoint.WithSQLClock(a.now))
	}
	return nil
}

func (a *app) openUpstream(ctx context.Context) error {
	var err error
	switch a.cfg.Upstream.Driver {
	case config.DriverPostgres:
		a.source, err = upstream.OpenPostgres(ctx, a.cfg.Upstream.DSN, upstream.WithLogger(a.logger))
	default:
		a.source, err = upstream.OpenSQLite(a.cfg.Upstream.DSN, upstream.WithLogger(a.logger))
	}
	return err
}

func (a *app) poller() *recon.Poller {
	return recon.NewPoller(recon.Deps{
		Source:       a.source,
		Store:        a.store,
		Checkpoints:  a.checkpoints,
		Calculator:   a.calc,
		Achievements: a.achievements,
		Installments: a.installments,
	}, a.cfg.ReconConfig(),
		recon.WithClock(a.now),
		recon.WithLogger(a.logger),
		recon.WithMetrics(a.metrics))
}

// Close releases everything the app opened.
func (a *app) Close() error {
	var closeErrs []error
	if a.source != nil {
		closeErrs = append(closeErrs, a.source.Close())
	}
	if a.redis != nil {
		closeErrs = append(closeErrs, a.redis.Close())
	}
	if a.store != nil {
		closeErrs = append(closeErrs, a.store.Close())
	}
	return errors.Join(closeErrs...)
}
