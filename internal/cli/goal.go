package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/errs"
)

// NewGoalCommand creates the goal command group.
func NewGoalCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goal",
		Short: "Manage sales goals",
	}

	var (
		g      domain.Goal
		target string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a team or seller revenue goal",
		Long: `Create a revenue goal over an inclusive date range.

Without --seller the goal counts all pending and claimed revenue; with it,
only revenue claimed by that seller. Progress is recomputed by the poller's
goal_progress job.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, appNeeds{},
				func(ctx context.Context, a *app, out *OutputFormatter) error {
					if err := checkGoal(&g, target); err != nil {
						return out.Fail("invalid goal", err)
					}
					if g.ID == "" {
						g.ID = a.ids.Generate()
					}
					if err := a.store.CreateGoal(ctx, g); err != nil {
						return out.Fail("create failed", err)
					}
					return out.Success(goalView{
						ID:          g.ID,
						SellerID:    g.SellerID,
						Title:       g.Title,
						TargetUSD:   g.TargetUSD.StringFixed(2),
						PeriodStart: g.PeriodStart,
						PeriodEnd:   g.PeriodEnd,
					})
				})
		},
	}
	create.Flags().StringVar(&g.ID, "id", "", "goal id (generated when empty)")
	create.Flags().StringVar(&g.SellerID, "seller", "", "seller id (team goal when empty)")
	create.Flags().StringVar(&g.Title, "title", "", "goal title")
	create.Flags().StringVar(&target, "target", "", "target revenue in USD")
	create.Flags().StringVar(&g.PeriodStart, "start", "", "first day (YYYY-MM-DD)")
	create.Flags().StringVar(&g.PeriodEnd, "end", "", "last day (YYYY-MM-DD)")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "progress <goal-id>",
		Short: "Show the last computed progress of a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, appNeeds{},
				func(ctx context.Context, a *app, out *OutputFormatter) error {
					p, err := a.store.GetGoalProgress(ctx, args[0])
					if err != nil {
						return out.Fail("progress failed", err)
					}
					return out.Success(goalProgressView{
						GoalID:      p.GoalID,
						ProgressUSD: p.ProgressUSD.StringFixed(2),
						Ratio:       p.Ratio.StringFixed(4),
						ComputedAt:  stamp(p.ComputedAt),
					})
				})
		},
	})

	return cmd
}

func checkGoal(g *domain.Goal, target string) error {
	g.Title = strings.TrimSpace(g.Title)
	if g.Title == "" {
		return errs.Validation(errs.CodeInvalidInput, "--title is required")
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(target))
	if err != nil || !amount.IsPositive() {
		return errs.Validation(errs.CodeInvalidInput, "--target must be a positive amount, got %q", target)
	}
	g.TargetUSD = amount

	start, err := time.Parse(domain.DateLayout, g.PeriodStart)
	if err != nil {
		return errs.Validation(errs.CodeInvalidInput, "--start must be YYYY-MM-DD, got %q", g.PeriodStart)
	}
	end, err := time.Parse(domain.DateLayout, g.PeriodEnd)
	if err != nil {
		return errs.Validation(errs.CodeInvalidInput, "--end must be YYYY-MM-DD, got %q", g.PeriodEnd)
	}
	if end.Before(start) {
		return errs.Validation(errs.CodeInvalidInput, "--end %s is before --start %s", g.PeriodEnd, g.PeriodStart)
	}
	return nil
}

type goalView struct {
	ID          string `json:"id"`
	SellerID    string `json:"seller_id,omitempty"`
	Title       string `json:"title"`
	TargetUSD   string `json:"target_usd"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

func (v goalView) Text() string {
	scope := "team"
	if v.SellerID != "" {
		scope = v.SellerID
	}
	return fmt.Sprintf("goal %s (%s) %s: $%s from %s to %s\n", v.ID, scope, v.Title, v.TargetUSD, v.PeriodStart, v.PeriodEnd)
}

type goalProgressView struct {
	GoalID      string `json:"goal_id"`
	ProgressUSD string `json:"progress_usd"`
	Ratio       string `json:"ratio"`
	ComputedAt  string `json:"computed_at"`
}

func (v goalProgressView) Text() string {
	return fmt.Sprintf("goal %s: $%s (%s) at %s\n", v.GoalID, v.ProgressUSD, v.Ratio, v.ComputedAt)
}
