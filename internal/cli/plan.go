package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/errs"
	"github.com/roach88/tally/internal/installment"
)

// planOptions holds the acting identity shared by the plan subcommands.
type planOptions struct {
	*RootOptions
	ActorID string
	Role    string
}

func (o *planOptions) actor() (domain.Actor, error) {
	role := domain.Role(strings.ToLower(strings.TrimSpace(o.Role)))
	switch role {
	case domain.RoleSeller, domain.RoleFinance, domain.RoleAdmin:
	default:
		return domain.Actor{}, errs.Validation(errs.CodeInvalidInput,
			"role must be seller, finance or admin, got %q", o.Role)
	}
	if strings.TrimSpace(o.ActorID) == "" {
		return domain.Actor{}, errs.Validation(errs.CodeInvalidInput, "--actor is required")
	}
	return domain.Actor{ID: strings.TrimSpace(o.ActorID), Role: role}, nil
}

// NewPlanCommand creates the plan command group.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &planOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Manage installment plans",
	}
	cmd.PersistentFlags().StringVar(&opts.ActorID, "actor", "", "id of the acting user")
	cmd.PersistentFlags().StringVar(&opts.Role, "role", string(domain.RoleSeller), "role of the acting user (seller|finance|admin)")

	cmd.AddCommand(newPlanCreateCommand(opts))
	cmd.AddCommand(newPlanShowCommand(opts))
	cmd.AddCommand(newPlanListCommand(opts))

	cmd.AddCommand(paymentCommand(opts, "submit <payment-id>", "Submit a payment for review", "note",
		func(ctx context.Context, s *installment.Service, actor domain.Actor, id, text string) (installment.View, error) {
			return s.Submit(ctx, actor, id, text)
		}))
	cmd.AddCommand(paymentCommand(opts, "confirm <payment-id>", "Confirm a submitted payment", "",
		func(ctx context.Context, s *installment.Service, actor domain.Actor, id, _ string) (installment.View, error) {
			return s.Confirm(ctx, actor, id)
		}))
	cmd.AddCommand(paymentCommand(opts, "reject <payment-id>", "Reject a submitted payment", "reason",
		func(ctx context.Context, s *installment.Service, actor domain.Actor, id, text string) (installment.View, error) {
			return s.Reject(ctx, actor, id, text)
		}))
	cmd.AddCommand(paymentCommand(opts, "waive <payment-id>", "Waive an open payment", "reason",
		func(ctx context.Context, s *installment.Service, actor domain.Actor, id, text string) (installment.View, error) {
			return s.Waive(ctx, actor, id, text)
		}))
	cmd.AddCommand(paymentCommand(opts, "note <payment-id>", "Replace a payment's note", "note",
		func(ctx context.Context, s *installment.Service, actor domain.Actor, id, text string) (installment.View, error) {
			return s.UpdateNote(ctx, actor, id, text)
		}))
	cmd.AddCommand(newPlanToleranceCommand(opts))

	cmd.AddCommand(paymentCommand(opts, "freeze <plan-id>", "Freeze an active plan", "reason",
		func(ctx context.Context, s *installment.Service, actor domain.Actor, id, text string) (installment.View, error) {
			return s.Freeze(ctx, actor, id, text)
		}))
	cmd.AddCommand(paymentCommand(opts, "unfreeze <plan-id>", "Unfreeze a frozen plan", "",
		func(ctx context.Context, s *installment.Service, actor domain.Actor, id, _ string) (installment.View, error) {
			return s.Unfreeze(ctx, actor, id)
		}))
	cmd.AddCommand(paymentCommand(opts, "cancel <plan-id>", "Cancel an active plan", "reason",
		func(ctx context.Context, s *installment.Service, actor domain.Actor, id, text string) (installment.View, error) {
			return s.Cancel(ctx, actor, id, text)
		}))

	return cmd
}

type planOp func(ctx context.Context, s *installment.Service, actor domain.Actor, id, text string) (installment.View, error)

// paymentCommand builds a subcommand that applies op to one id as the
// acting user. textFlag names the optional free-text flag.
func paymentCommand(opts *planOptions, use, short, textFlag string, op planOp) *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, appNeeds{},
				func(ctx context.Context, a *app, out *OutputFormatter) error {
					actor, err := opts.actor()
					if err != nil {
						return out.Fail("invalid actor", err)
					}
					v, err := op(ctx, a.installments, actor, args[0], text)
					if err != nil {
						return out.Fail(cmd.Name()+" failed", err)
					}
					return out.Success(viewOf(v))
				})
		},
	}
	if textFlag != "" {
		cmd.Flags().StringVar(&text, textFlag, "", textFlag)
	}
	return cmd
}

func newPlanCreateCommand(opts *planOptions) *cobra.Command {
	var (
		in       installment.CreatePlanInput
		payments []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an installment plan",
		Long: `Create an installment plan for a subscription.

Each --payment is number:amount:YYYY-MM-DD. Numbers must be exactly 1..N.

Example:
  tally plan create --actor seller-1 --subscription sub-42 --seller seller-1 \
    --currency TRY --payment 1:5000:2026-04-01 --payment 2:5000:2026-05-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, appNeeds{},
				func(ctx context.Context, a *app, out *OutputFormatter) error {
					actor, err := opts.actor()
					if err != nil {
						return out.Fail("invalid actor", err)
					}
					in.Payments, err = parsePayments(payments)
					if err != nil {
						return out.Fail("invalid payment", err)
					}
					v, err := a.installments.CreatePlan(ctx, actor, in)
					if err != nil {
						return out.Fail("create failed", err)
					}
					return out.Success(viewOf(v))
				})
		},
	}
	cmd.Flags().StringVar(&in.SubscriptionID, "subscription", "", "subscription id")
	cmd.Flags().StringVar(&in.ClaimID, "claim", "", "claim id")
	cmd.Flags().StringVar(&in.SellerID, "seller", "", "closing seller id")
	cmd.Flags().StringVar(&in.Currency, "currency", "", "plan currency")
	cmd.Flags().StringArrayVar(&payments, "payment", nil, "payment as number:amount:YYYY-MM-DD (repeatable)")
	return cmd
}

func parsePayments(raw []string) ([]installment.PaymentInput, error) {
	out := make([]installment.PaymentInput, 0, len(raw))
	for _, r := range raw {
		parts := strings.Split(r, ":")
		if len(parts) != 3 {
			return nil, errs.Validation(errs.CodeInvalidInput,
				"payment %q must be number:amount:YYYY-MM-DD", r)
		}
		n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, errs.Validation(errs.CodeInvalidInput, "payment %q: bad number", r)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, errs.Validation(errs.CodeInvalidInput, "payment %q: bad amount", r)
		}
		out = append(out, installment.PaymentInput{
			Number:  n,
			Amount:  amount,
			DueDate: strings.TrimSpace(parts[2]),
		})
	}
	return out, nil
}

func newPlanToleranceCommand(opts *planOptions) *cobra.Command {
	var until, reason string
	cmd := &cobra.Command{
		Use:   "tolerance <payment-id>",
		Short: "Grant a payment a tolerance window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, appNeeds{},
				func(ctx context.Context, a *app, out *OutputFormatter) error {
					actor, err := opts.actor()
					if err != nil {
						return out.Fail("invalid actor", err)
					}
					v, err := a.installments.GrantTolerance(ctx, actor, args[0], until, reason)
					if err != nil {
						return out.Fail("tolerance failed", err)
					}
					return out.Success(viewOf(v))
				})
		},
	}
	cmd.Flags().StringVar(&until, "until", "", "last tolerated day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason for the grant")
	return cmd
}

func newPlanShowCommand(opts *planOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show a plan with its payments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, appNeeds{},
				func(ctx context.Context, a *app, out *OutputFormatter) error {
					v, err := a.installments.Get(ctx, args[0])
					if err != nil {
						return out.Fail("show failed", err)
					}
					return out.Success(viewOf(v))
				})
		},
	}
}

func newPlanListCommand(opts *planOptions) *cobra.Command {
	var f installment.Filter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans",
		Long: fmt.Sprintf(`List plans, newest first.

--category is one of review_needed, overdue, tolerance, upcoming or a plan
status (%s, %s, %s, %s).`, domain.PlanActive, domain.PlanCompleted, domain.PlanFrozen, domain.PlanCancelled),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, appNeeds{},
				func(ctx context.Context, a *app, out *OutputFormatter) error {
					plans, err := a.installments.ListPlans(ctx, f)
					if err != nil {
						return out.Fail("list failed", err)
					}
					list := make(planList, 0, len(plans))
					for _, p := range plans {
						list = append(list, newPlanView(p, nil))
					}
					return out.Success(list)
				})
		},
	}
	cmd.Flags().StringVar(&f.Category, "category", "", "category or status filter")
	cmd.Flags().StringVar(&f.SubscriptionID, "subscription", "", "subscription id")
	cmd.Flags().StringVar(&f.ClaimID, "claim", "", "claim id")
	cmd.Flags().StringVar(&f.SellerID, "seller", "", "closing seller id")
	cmd.Flags().StringVar(&f.Search, "search", "", "free-text search over ids and notes")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum plans to list")
	return cmd
}
