package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/errs"
	"github.com/roach88/tally/internal/store"
)

// NewLedgerCommand creates the ledger command group.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and claim ledger entries",
	}

	var (
		status string
		f      store.LedgerFilter
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.LedgerStatus(status)
			return withApp(cmd, rootOpts, appNeeds{},
				func(ctx context.Context, a *app, out *OutputFormatter) error {
					entries, err := a.store.ListLedgerEntries(ctx, f)
					if err != nil {
						return out.Fail("list failed", err)
					}
					l := make(ledgerList, 0, len(entries))
					for _, e := range entries {
						l = append(l, newLedgerView(e))
					}
					return out.Success(l)
				})
		},
	}
	list.Flags().StringVar(&status, "status", "", "pending|claimed|excluded|expired|refunded")
	list.Flags().StringVar(&f.SellerID, "seller", "", "only entries claimed by this seller")
	list.Flags().IntVar(&f.Limit, "limit", 100, "maximum entries to list")
	cmd.AddCommand(list)

	var seller string
	claim := &cobra.Command{
		Use:   "claim <subscription-id>",
		Short: "Attribute a pending entry to a seller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, appNeeds{},
				func(ctx context.Context, a *app, out *OutputFormatter) error {
					if seller == "" {
						return out.Fail("claim failed", errs.Validation(errs.CodeInvalidInput, "--seller is required"))
					}
					if err := a.store.ClaimLedgerEntry(ctx, args[0], seller); err != nil {
						return out.Fail("claim failed", err)
					}
					e, err := a.store.GetLedgerEntry(ctx, args[0])
					if err != nil {
						return out.Fail("claim failed", err)
					}
					return out.Success(newLedgerView(e))
				})
		},
	}
	claim.Flags().StringVar(&seller, "seller", "", "seller id")
	cmd.AddCommand(claim)

	return cmd
}

func (v ledgerView) Text() string {
	revenue := "n/a"
	if v.RevenueUSD != nil {
		revenue = *v.RevenueUSD
	}
	return fmt.Sprintf("%s %s revenue_usd=%s claimed_by=%s\n", v.SubscriptionID, v.Status, revenue, v.ClaimedBy)
}
