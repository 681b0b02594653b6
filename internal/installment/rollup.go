package installment

import (
	"github.com/roach88/tally/internal/domain"
)

// Rollup derives a plan's status and next due payment from its payments.
//
// Frozen and cancelled are never changed here. Otherwise the plan is
// completed when no payment is open and active when one is. The next due
// payment is the open payment with the earliest due date, ties broken by
// payment number; completed and cancelled plans have none.
func Rollup(current domain.PlanStatus, payments []domain.Payment) (domain.PlanStatus, string) {
	var next *domain.Payment
	open := 0
	for i := range payments {
		p := &payments[i]
		if !p.Status.Open() {
			continue
		}
		open++
		if next == nil || p.DueDate < next.DueDate ||
			(p.DueDate == next.DueDate && p.PaymentNumber < next.PaymentNumber) {
			next = p
		}
	}

	status := current
	switch current {
	case domain.PlanFrozen, domain.PlanCancelled:
	default:
		if open == 0 {
			status = domain.PlanCompleted
		} else {
			status = domain.PlanActive
		}
	}

	if next == nil || status == domain.PlanCompleted || status == domain.PlanCancelled {
		return status, ""
	}
	return status, next.ID
}
