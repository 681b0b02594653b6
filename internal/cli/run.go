package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/recon"
)

// withApp opens the component graph, runs fn and closes the graph. Open
// and fn errors are reported through the formatter.
func withApp(cmd *cobra.Command, opts *RootOptions, needs appNeeds, fn func(ctx context.Context, a *app, out *OutputFormatter) error) error {
	out := formatter(cmd, opts)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx, opts, needs)
	if err != nil {
		return out.Fail("failed to start", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("error closing resources", "error", closeErr)
		}
	}()
	return fn(ctx, a, out)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reconciliation poller",
		Long: `Run the reconciliation poller until interrupted.

The poller ticks immediately and then every poller.interval. A timer fire
that finds the previous tick still running is dropped. Counters are served
on /metrics when metrics.addr (or --metrics-addr) is set.

Example:
  tally run --config tally.yaml
  tally run --metrics-addr :9090 --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, appNeeds{upstream: true, checkpoints: true},
				func(ctx context.Context, a *app, out *OutputFormatter) error {
					if metricsAddr != "" {
						a.cfg.Metrics.Addr = metricsAddr
					}
					return runPoller(ctx, cmd, a)
				})
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address (overrides metrics.addr)")
	return cmd
}

func runPoller(parent context.Context, cmd *cobra.Command, a *app) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	metricsErr := make(chan error, 1)
	if addr := a.cfg.Metrics.Addr; addr != "" {
		go func() {
			metricsErr <- a.metrics.Serve(ctx, addr, a.logger)
		}()
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Poller started. Press Ctrl-C to stop.")
	if err := a.poller().Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "poller error", err)
	}

	cancel()
	if a.cfg.Metrics.Addr != "" {
		if err := <-metricsErr; err != nil {
			return WrapExitError(ExitCommandError, "metrics server error", err)
		}
	}
	slog.Info("poller stopped gracefully")
	return nil
}

// NewTickCommand creates the tick command.
func NewTickCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one reconciliation tick",
		Long: `Run one reconciliation tick and print what it did.

The tick syncs one upstream batch from the main checkpoint and runs every
sub-job whose cadence has elapsed. Running it again is safe.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, appNeeds{upstream: true, checkpoints: true},
				func(ctx context.Context, a *app, out *OutputFormatter) error {
					res, err := a.poller().Tick(ctx)
					if err != nil {
						if errors.Is(err, recon.ErrTickInProgress) {
							return out.Fail("tick skipped", err)
						}
						out.VerboseLog("tick finished with errors: %v", err)
						if outErr := out.Success(newTickView(res)); outErr != nil {
							return outErr
						}
						return WrapExitError(exitCodeFor(err), "tick failed", err)
					}
					return out.Success(newTickView(res))
				})
		},
	}
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, appNeeds{},
				func(ctx context.Context, a *app, out *OutputFormatter) error {
					version, err := a.store.SchemaVersion(ctx)
					if err != nil {
						return out.Fail("failed to read schema version", err)
					}
					return out.Success(migrateResult{Database: a.cfg.Database.Path, SchemaVersion: version})
				})
		},
	}
}

type migrateResult struct {
	Database      string `json:"database"`
	SchemaVersion int64  `json:"schema_version"`
}

func (r migrateResult) Text() string {
	return fmt.Sprintf("database %s at schema version %d\n", r.Database, r.SchemaVersion)
}
