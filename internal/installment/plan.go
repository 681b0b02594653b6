package installment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/errs"
	"github.com/roach88/tally/internal/event"
	"github.com/roach88/tally/internal/finance"
	"github.com/roach88/tally/internal/store"
)

// PaymentInput is one scheduled installment of a new plan.
type PaymentInput struct {
	Number  int             `validate:"gte=1"`
	Amount  decimal.Decimal `validate:"-"`
	DueDate string          `validate:"required,datetime=2006-01-02"`
}

// CreatePlanInput describes a new plan.
type CreatePlanInput struct {
	SubscriptionID string         `validate:"required"`
	ClaimID        string         `validate:"omitempty,max=200"`
	SellerID       string         `validate:"required"`
	Currency       string         `validate:"required"`
	Payments       []PaymentInput `validate:"required,min=1,max=120,dive"`
}

// CreatePlan validates in and creates the plan with its payments in one
// transaction. Sellers may only create plans they close themselves.
func (s *Service) CreatePlan(ctx context.Context, actor domain.Actor, in CreatePlanInput) (View, error) {
	if err := requireRole(actor, "create plan", domain.RoleSeller, domain.RoleFinance, domain.RoleAdmin); err != nil {
		return View{}, err
	}
	if actor.Role == domain.RoleSeller && actor.ID != in.SellerID {
		return View{}, errs.State(errs.CodeNotClosingSeller,
			"seller %s cannot create a plan for seller %s", actor.ID, in.SellerID)
	}
	currency, err := s.checkPlanInput(&in)
	if err != nil {
		return View{}, err
	}

	plan := domain.Plan{
		ID:                s.ids.Generate(),
		SubscriptionID:    in.SubscriptionID,
		ClaimID:           in.ClaimID,
		SellerID:          in.SellerID,
		Currency:          string(currency),
		TotalInstallments: len(in.Payments),
		Status:            domain.PlanActive,
		CreatedBy:         actor.ID,
	}
	payments := make([]domain.Payment, 0, len(in.Payments))
	for _, pi := range in.Payments {
		payments = append(payments, domain.Payment{
			ID:            s.ids.Generate(),
			PlanID:        plan.ID,
			PaymentNumber: pi.Number,
			Amount:        pi.Amount,
			DueDate:       pi.DueDate,
			Status:        domain.PaymentPending,
		})
	}
	plan.Status, plan.NextDuePaymentID = Rollup(plan.Status, payments)

	var view View
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		exists, err := tx.PlanExistsForSubscription(ctx, plan.SubscriptionID)
		if err != nil {
			return err
		}
		if exists {
			return duplicatePlan(plan.SubscriptionID)
		}
		if err := tx.InsertPlan(ctx, plan); err != nil {
			return err
		}
		for _, p := range payments {
			if err := tx.InsertPayment(ctx, p); err != nil {
				return err
			}
		}
		if _, err := tx.AppendEvent(ctx, event.Event{
			SubscriptionID: plan.SubscriptionID,
			Actor:          actor.ID,
			BusinessKey:    "plan:" + plan.SubscriptionID,
			Payload: event.PlanCreated{
				PlanID:            plan.ID,
				SubscriptionID:    plan.SubscriptionID,
				SellerID:          plan.SellerID,
				TotalInstallments: plan.TotalInstallments,
				Currency:          plan.Currency,
			},
		}); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, domain.AuditRecord{
			Action:      "plan_created",
			SubjectType: "installment_plan",
			SubjectID:   plan.ID,
			Actor:       actor.ID,
			Details: map[string]string{
				"subscription_id":    plan.SubscriptionID,
				"total_installments": fmt.Sprint(plan.TotalInstallments),
			},
		}); err != nil {
			return err
		}

		stored, err := tx.GetPlan(ctx, plan.ID)
		if err != nil {
			return err
		}
		rows, err := tx.ListPayments(ctx, plan.ID)
		if err != nil {
			return err
		}
		view = View{Plan: stored, Payments: rows}
		return nil
	})
	if errs.CodeOf(err) == errs.CodeUniqueViolation {
		return View{}, duplicatePlan(plan.SubscriptionID)
	}
	if err != nil {
		return View{}, err
	}

	s.logger.Info("installment plan created",
		"plan_id", plan.ID,
		"subscription_id", plan.SubscriptionID,
		"installments", plan.TotalInstallments,
		"actor", actor.ID)
	return view, nil
}

func duplicatePlan(subscriptionID string) error {
	return errs.Conflict(errs.CodeDuplicatePlan,
		"subscription %s already has an installment plan", subscriptionID).
		With("subscription_id", subscriptionID)
}

// checkPlanInput runs every creation check before any write: struct
// validation, currency support, positive amounts and payment numbers
// exactly 1..N.
func (s *Service) checkPlanInput(in *CreatePlanInput) (finance.Currency, error) {
	in.SubscriptionID = strings.TrimSpace(in.SubscriptionID)
	in.SellerID = strings.TrimSpace(in.SellerID)
	in.ClaimID = strings.TrimSpace(in.ClaimID)

	if err := s.validate.Struct(in); err != nil {
		return finance.Unsupported, validationError(err)
	}
	currency, ok := finance.ParseCurrency(in.Currency)
	if !ok {
		return finance.Unsupported, errs.Validation(errs.CodeInvalidInput,
			"unsupported currency %q", in.Currency)
	}
	for _, p := range in.Payments {
		if !p.Amount.IsPositive() {
			return finance.Unsupported, errs.Validation(errs.CodeInvalidInput,
				"payment %d amount must be positive", p.Number)
		}
	}

	numbers := make([]int, 0, len(in.Payments))
	for _, p := range in.Payments {
		numbers = append(numbers, p.Number)
	}
	slices.Sort(numbers)
	for i, n := range numbers {
		if n != i+1 {
			return finance.Unsupported, errs.Validation(errs.CodeNonSequentialNumber,
				"payment numbers must be exactly 1..%d, got %v", len(numbers), numbers)
		}
	}
	return currency, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errs.Validation(errs.CodeInvalidInput, "%v", err)
	}
	e := errs.Validation(errs.CodeInvalidInput, "invalid plan input")
	for _, fe := range verrs {
		e.With(fe.Namespace(), fe.Tag())
	}
	return e
}

func parseDate(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if _, err := time.Parse(domain.DateLayout, value); err != nil {
		return "", errs.Validation(errs.CodeInvalidInput, "%s must be a YYYY-MM-DD date, got %q", field, value)
	}
	return value, nil
}
