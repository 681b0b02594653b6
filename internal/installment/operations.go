package installment

import (
	"context"
	"strings"

	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/errs"
	"github.com/roach88/tally/internal/event"
	"github.com/roach88/tally/internal/store"
)

// Submit marks a pending or overdue payment as paid by the closing
// seller, pending finance review.
func (s *Service) Submit(ctx context.Context, actor domain.Actor, paymentID, note string) (View, error) {
	return s.mutatePayment(ctx, actor, paymentID, func(plan domain.Plan, p *domain.Payment) (paymentChange, error) {
		if err := requireClosingSeller(actor, plan); err != nil {
			return paymentChange{}, err
		}
		if err := transition(p, domain.PaymentSubmitted); err != nil {
			return paymentChange{}, err
		}
		now := s.now().UTC()
		p.SubmittedAt = &now
		p.SubmittedBy = actor.ID
		p.RejectionReason = ""
		if note = strings.TrimSpace(note); note != "" {
			p.Note = note
		}
		return paymentChange{action: "payment_submitted"}, nil
	})
}

// Confirm accepts a submitted payment.
func (s *Service) Confirm(ctx context.Context, actor domain.Actor, paymentID string) (View, error) {
	return s.mutatePayment(ctx, actor, paymentID, func(plan domain.Plan, p *domain.Payment) (paymentChange, error) {
		if err := requireRole(actor, "confirm", domain.RoleFinance, domain.RoleAdmin); err != nil {
			return paymentChange{}, err
		}
		if err := transition(p, domain.PaymentConfirmed); err != nil {
			return paymentChange{}, err
		}
		s.reviewed(actor, p)
		return paymentChange{action: "payment_confirmed"}, nil
	})
}

// Reject refuses a submitted payment. A rejected payment is terminal.
func (s *Service) Reject(ctx context.Context, actor domain.Actor, paymentID, reason string) (View, error) {
	reason = strings.TrimSpace(reason)
	if err := notBlank("rejection reason", reason); err != nil {
		return View{}, err
	}
	return s.mutatePayment(ctx, actor, paymentID, func(plan domain.Plan, p *domain.Payment) (paymentChange, error) {
		if err := requireRole(actor, "reject", domain.RoleFinance, domain.RoleAdmin); err != nil {
			return paymentChange{}, err
		}
		if err := transition(p, domain.PaymentRejected); err != nil {
			return paymentChange{}, err
		}
		s.reviewed(actor, p)
		p.RejectionReason = reason
		return paymentChange{action: "payment_rejected", reason: reason}, nil
	})
}

// Waive closes a pending or overdue payment without collection.
func (s *Service) Waive(ctx context.Context, actor domain.Actor, paymentID, reason string) (View, error) {
	reason = strings.TrimSpace(reason)
	if err := notBlank("waive reason", reason); err != nil {
		return View{}, err
	}
	return s.mutatePayment(ctx, actor, paymentID, func(plan domain.Plan, p *domain.Payment) (paymentChange, error) {
		if err := requireRole(actor, "waive", domain.RoleAdmin); err != nil {
			return paymentChange{}, err
		}
		if err := transition(p, domain.PaymentWaived); err != nil {
			return paymentChange{}, err
		}
		s.reviewed(actor, p)
		return paymentChange{action: "payment_waived", reason: reason}, nil
	})
}

// GrantTolerance suppresses overdue classification of an open payment
// through until. Only the tolerance fields change.
func (s *Service) GrantTolerance(ctx context.Context, actor domain.Actor, paymentID, until, reason string) (View, error) {
	until, err := parseDate("tolerance until", until)
	if err != nil {
		return View{}, err
	}
	reason = strings.TrimSpace(reason)
	if err := notBlank("tolerance reason", reason); err != nil {
		return View{}, err
	}
	return s.mutatePayment(ctx, actor, paymentID, func(plan domain.Plan, p *domain.Payment) (paymentChange, error) {
		if err := requireRole(actor, "grant tolerance", domain.RoleFinance, domain.RoleAdmin); err != nil {
			return paymentChange{}, err
		}
		if !p.Status.Open() {
			return paymentChange{}, errs.State(errs.CodeInvalidTransition,
				"payment %s is %s and cannot receive tolerance", p.ID, p.Status)
		}
		p.ToleranceUntil = until
		p.ToleranceReason = reason
		return paymentChange{
			action: "payment_tolerance_granted",
			reason: reason,
			event: event.ToleranceGranted{
				PlanID:    plan.ID,
				PaymentID: p.ID,
				Until:     until,
				Reason:    reason,
			},
		}, nil
	})
}

// UpdateNote replaces the free-text note of a payment.
func (s *Service) UpdateNote(ctx context.Context, actor domain.Actor, paymentID, note string) (View, error) {
	return s.mutatePayment(ctx, actor, paymentID, func(plan domain.Plan, p *domain.Payment) (paymentChange, error) {
		if actor.Role == domain.RoleSeller {
			if err := requireClosingSeller(actor, plan); err != nil {
				return paymentChange{}, err
			}
		} else if err := requireRole(actor, "update note", domain.RoleFinance, domain.RoleAdmin); err != nil {
			return paymentChange{}, err
		}
		p.Note = strings.TrimSpace(note)
		return paymentChange{action: "payment_note_updated"}, nil
	})
}

func (s *Service) reviewed(actor domain.Actor, p *domain.Payment) {
	now := s.now().UTC()
	p.ReviewedAt = &now
	p.ReviewedBy = actor.ID
}

// Freeze suspends an active plan. Payment operations fail until Unfreeze.
func (s *Service) Freeze(ctx context.Context, actor domain.Actor, planID, reason string) (View, error) {
	reason = strings.TrimSpace(reason)
	if err := notBlank("freeze reason", reason); err != nil {
		return View{}, err
	}
	return s.changePlan(ctx, actor, planID, "freeze", domain.PlanActive, func(plan domain.Plan, payments []domain.Payment) (domain.PlanStatus, string, string) {
		_, nextDue := Rollup(domain.PlanFrozen, payments)
		return domain.PlanFrozen, nextDue, reason
	})
}

// Unfreeze reactivates a frozen plan. If every payment has closed in the
// meantime the rollup completes it instead.
func (s *Service) Unfreeze(ctx context.Context, actor domain.Actor, planID string) (View, error) {
	return s.changePlan(ctx, actor, planID, "unfreeze", domain.PlanFrozen, func(plan domain.Plan, payments []domain.Payment) (domain.PlanStatus, string, string) {
		status, nextDue := Rollup(domain.PlanActive, payments)
		return status, nextDue, ""
	})
}

// Cancel terminates an active plan.
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, planID, reason string) (View, error) {
	reason = strings.TrimSpace(reason)
	if err := notBlank("cancel reason", reason); err != nil {
		return View{}, err
	}
	return s.changePlan(ctx, actor, planID, "cancel", domain.PlanActive, func(plan domain.Plan, payments []domain.Payment) (domain.PlanStatus, string, string) {
		return domain.PlanCancelled, "", reason
	})
}

func (s *Service) changePlan(
	ctx context.Context,
	actor domain.Actor,
	planID, op string,
	from domain.PlanStatus,
	next func(plan domain.Plan, payments []domain.Payment) (domain.PlanStatus, string, string),
) (View, error) {
	if err := requireRole(actor, op, domain.RoleFinance, domain.RoleAdmin); err != nil {
		return View{}, err
	}
	var view View
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		plan, err := tx.GetPlan(ctx, planID)
		if err != nil {
			return err
		}
		if plan.Status != from {
			return errs.State(errs.CodeInvalidTransition,
				"cannot %s plan %s in status %s", op, plan.ID, plan.Status).
				With("plan_id", plan.ID).
				With("status", string(plan.Status))
		}
		payments, err := tx.ListPayments(ctx, plan.ID)
		if err != nil {
			return err
		}
		status, nextDue, reason := next(plan, payments)
		plan, err = s.setPlanStatus(ctx, tx, actor, plan, status, nextDue, reason)
		if err != nil {
			return err
		}
		view = View{Plan: plan, Payments: payments}
		return nil
	})
	if err != nil {
		return View{}, err
	}
	s.logger.Info("installment plan status changed",
		"plan_id", planID,
		"op", op,
		"status", view.Plan.Status,
		"actor", actor.ID)
	return view, nil
}
