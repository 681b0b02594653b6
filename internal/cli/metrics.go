package cli

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/errs"
	"github.com/roach88/tally/internal/finance"
)

// NewMetricsCommand creates the metrics command group.
func NewMetricsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Compute or show subscription financial metrics",
	}

	var (
		in     finance.Input
		amount string
	)
	compute := &cobra.Command{
		Use:   "compute",
		Short: "Compute metrics for the given subscription attributes",
		Long: `Compute revenue, cost, margin and the jackpot flag with the configured
rates and cost tables. Nothing is read from or written to the database.

Example:
  tally metrics compute --amount 40000 --currency TRY --months 6 --sessions 3 --minutes 25`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd, rootOpts)
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return out.Fail("failed to load config", err)
			}
			if amount != "" {
				d, err := decimal.NewFromString(amount)
				if err != nil {
					return out.Fail("invalid amount", errs.Validation(errs.CodeInvalidInput, "--amount %q is not a number", amount))
				}
				in.Amount = decimal.NewNullDecimal(d)
			}
			calc := finance.NewCalculator(cfg.FinanceConfig(), finance.WithLogger(newLogger(cmd.ErrOrStderr(), rootOpts)))
			return out.Success(newMetricsView(calc.Compute(in)))
		},
	}
	compute.Flags().StringVar(&amount, "amount", "", "amount in --currency (empty means unknown)")
	compute.Flags().StringVar(&in.Currency, "currency", "", "currency code or alias")
	compute.Flags().IntVar(&in.PlanLengthMonths, "months", 0, "plan length in months")
	compute.Flags().IntVar(&in.SessionsPerWeek, "sessions", 0, "sessions per week")
	compute.Flags().IntVar(&in.MinutesPerSession, "minutes", 0, "minutes per session")
	compute.Flags().StringVar(&in.Status, "status", "paid", "subscription status")
	compute.Flags().BoolVar(&in.IsFree, "free", false, "free subscription")
	compute.Flags().BoolVar(&in.IsGift, "gift", false, "gift subscription")
	cmd.AddCommand(compute)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <subscription-id>",
		Short: "Show the stored metrics of a subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, appNeeds{},
				func(ctx context.Context, a *app, out *OutputFormatter) error {
					m, _, err := a.store.GetMetrics(ctx, args[0])
					if err != nil {
						return out.Fail("show failed", err)
					}
					return out.Success(newMetricsView(m))
				})
		},
	})

	return cmd
}
