package installment

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/store"
)

// SweepOverdue moves every pending payment of an active plan that is due
// before today, and not covered by tolerance, to overdue. Each payment
// runs in its own transaction, so one failure never blocks the rest. It
// returns the number of payments moved.
func (s *Service) SweepOverdue(ctx context.Context, now time.Time) (int, error) {
	today := domain.Day(now, s.loc)
	candidates, err := s.store.PastDueCandidates(ctx, today)
	if err != nil {
		return 0, err
	}

	var (
		moved int
		errs  []error
	)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		ok, err := s.markOverdue(ctx, c.ID, today)
		if err != nil {
			s.logger.Warn("overdue sweep failed for payment",
				"payment_id", c.ID,
				"plan_id", c.PlanID,
				"error", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			moved++
		}
	}

	if moved > 0 {
		s.metrics.PaymentTransitions.WithLabelValues(string(domain.PaymentOverdue)).Add(float64(moved))
	}
	s.logger.Info("overdue sweep finished",
		"today", today,
		"candidates", len(candidates),
		"moved", moved)
	return moved, errors.Join(errs...)
}

// markOverdue re-checks the payment inside its transaction: a plan frozen
// or a payment submitted since the candidate query is skipped.
func (s *Service) markOverdue(ctx context.Context, paymentID, today string) (bool, error) {
	moved := false
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		plan, err := tx.GetPlan(ctx, p.PlanID)
		if err != nil {
			return err
		}
		if plan.Status != domain.PlanActive || !p.PastDue(today) {
			return nil
		}
		if err := transition(&p, domain.PaymentOverdue); err != nil {
			return err
		}
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		change := paymentChange{action: "payment_overdue", reason: "due " + p.DueDate}
		if err := s.record(ctx, tx, domain.SystemActor, plan, p, domain.PaymentPending, change); err != nil {
			return err
		}
		if _, err := s.rollup(ctx, tx, domain.SystemActor, plan); err != nil {
			return err
		}
		moved = true
		return nil
	})
	return moved, err
}
