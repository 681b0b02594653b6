package installment

import (
	"slices"

	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/errs"
)

var paymentTransitions = map[domain.PaymentStatus][]domain.PaymentStatus{
	domain.PaymentPending:   {domain.PaymentSubmitted, domain.PaymentOverdue, domain.PaymentWaived},
	domain.PaymentOverdue:   {domain.PaymentSubmitted, domain.PaymentWaived},
	domain.PaymentSubmitted: {domain.PaymentConfirmed, domain.PaymentRejected},
}

// CanTransition reports whether a payment may move from one status to
// another.
func CanTransition(from, to domain.PaymentStatus) bool {
	return slices.Contains(paymentTransitions[from], to)
}

func transition(p *domain.Payment, to domain.PaymentStatus) error {
	if !CanTransition(p.Status, to) {
		return errs.State(errs.CodeInvalidTransition,
			"payment %s cannot move from %s to %s", p.ID, p.Status, to).
			With("payment_id", p.ID).
			With("from", string(p.Status)).
			With("to", string(to))
	}
	p.Status = to
	return nil
}

func requireRole(actor domain.Actor, op string, roles ...domain.Role) error {
	if slices.Contains(roles, actor.Role) {
		return nil
	}
	return errs.State(errs.CodeForbiddenRole, "%s is not allowed for role %q", op, actor.Role).
		With("actor", actor.ID)
}

func requireClosingSeller(actor domain.Actor, plan domain.Plan) error {
	if actor.Role == domain.RoleSeller && actor.ID == plan.SellerID {
		return nil
	}
	return errs.State(errs.CodeNotClosingSeller,
		"only the closing seller of plan %s may submit payments", plan.ID).
		With("actor", actor.ID).
		With("seller_id", plan.SellerID)
}

func requireActive(plan domain.Plan) error {
	if plan.Status == domain.PlanActive {
		return nil
	}
	return errs.State(errs.CodePlanNotActive, "plan %s is %s", plan.ID, plan.Status).
		With("plan_id", plan.ID).
		With("status", string(plan.Status))
}
