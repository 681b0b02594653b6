package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/store"
)

// NewAchievementsCommand creates the achievements command group.
func NewAchievementsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "achievements",
		Short: "Inspect achievements",
	}

	var f store.AchievementFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List achievements, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, appNeeds{},
				func(ctx context.Context, a *app, out *OutputFormatter) error {
					recs, err := a.achievements.List(ctx, f)
					if err != nil {
						return out.Fail("list failed", err)
					}
					return out.Success(newAchievementList(recs))
				})
		},
	}
	list.Flags().StringVar(&f.SellerID, "seller", "", "only achievements of this seller")
	list.Flags().StringVar(&f.Type, "type", "", "jackpot|revenue_milestone|goal_reached")
	list.Flags().IntVar(&f.Limit, "limit", 50, "maximum achievements to list")
	cmd.AddCommand(list)

	return cmd
}
