package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/errs"
)

func testPlan(id, subID string) domain.Plan {
	return domain.Plan{
		ID:                id,
		SubscriptionID:    subID,
		SellerID:          "seller-1",
		Currency:          "TRY",
		TotalInstallments: 2,
		Status:            domain.PlanActive,
		CreatedBy:         "seller-1",
	}
}

func testPayment(planID string, n int, due string, status domain.PaymentStatus) domain.Payment {
	return domain.Payment{
		ID:            fmt.Sprintf("%s-pay-%d", planID, n),
		PlanID:        planID,
		PaymentNumber: n,
		Amount:        decimal.NewFromInt(1000),
		DueDate:       due,
		Status:        status,
	}
}

func seedPlan(t *testing.T, s *Store, plan domain.Plan, payments ...domain.Payment) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertPlan(ctx, plan); err != nil {
			return err
		}
		for _, p := range payments {
			if err := tx.InsertPayment(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestPlanRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	plan := testPlan("plan-1", "sub-1")
	plan.ClaimID = "claim-9"
	seedPlan(t, s, plan,
		testPayment("plan-1", 2, "2026-04-01", domain.PaymentPending),
		testPayment("plan-1", 1, "2026-03-01", domain.PaymentPending),
	)

	got, err := s.GetPlan(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, "claim-9", got.ClaimID)
	assert.Equal(t, domain.PlanActive, got.Status)
	assert.Equal(t, testNow, got.CreatedAt)

	payments, err := s.ListPayments(ctx, "plan-1")
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, 1, payments[0].PaymentNumber, "ordered by payment number")
	assert.True(t, payments[0].Amount.Equal(decimal.NewFromInt(1000)))

	var exists bool
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		var err error
		exists, err = tx.PlanExistsForSubscription(ctx, "sub-1")
		return err
	}))
	assert.True(t, exists)

	_, err = s.GetPlan(ctx, "missing")
	assert.True(t, errs.IsNotFound(err))
}

func TestUpdatePayment_AndPlanStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedPlan(t, s, testPlan("plan-1", "sub-1"), testPayment("plan-1", 1, "2026-03-01", domain.PaymentPending))

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		p, err := tx.GetPayment(ctx, "plan-1-pay-1")
		if err != nil {
			return err
		}
		p.Status = domain.PaymentSubmitted
		p.SubmittedAt = &testNow
		p.SubmittedBy = "seller-1"
		p.Note = "paid by bank transfer"
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		return tx.UpdatePlanStatus(ctx, "plan-1", domain.PlanFrozen, "", "chargeback review")
	}))

	payments, err := s.ListPayments(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSubmitted, payments[0].Status)
	require.NotNil(t, payments[0].SubmittedAt)
	assert.Equal(t, testNow, *payments[0].SubmittedAt)
	assert.Equal(t, "paid by bank transfer", payments[0].Note)

	plan, err := s.GetPlan(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanFrozen, plan.Status)
	assert.Equal(t, "chargeback review", plan.StatusReason)
	assert.Empty(t, plan.NextDuePaymentID)
}

func TestListPlans_Categories(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	today := "2026-03-10"

	seedPlan(t, s, testPlan("review", "sub-review"),
		testPayment("review", 1, "2026-03-01", domain.PaymentSubmitted))
	seedPlan(t, s, testPlan("late", "sub-late"),
		testPayment("late", 1, "2026-03-01", domain.PaymentPending))
	tolerant := testPayment("tolerant", 1, "2026-03-01", domain.PaymentPending)
	tolerant.ToleranceUntil = "2026-03-15"
	tolerant.Note = "customer travelling"
	seedPlan(t, s, testPlan("tolerant", "sub-tolerant"), tolerant)
	seedPlan(t, s, testPlan("soon", "sub-soon"),
		testPayment("soon", 1, "2026-03-14", domain.PaymentPending))
	frozen := testPlan("frozen", "sub-frozen")
	frozen.Status = domain.PlanFrozen
	seedPlan(t, s, frozen, testPayment("frozen", 1, "2026-03-01", domain.PaymentPending))

	ids := func(q PlanQuery) []string {
		t.Helper()
		q.Today = today
		q.UpcomingUntil = "2026-03-17"
		plans, err := s.ListPlans(ctx, q)
		require.NoError(t, err)
		out := make([]string, 0, len(plans))
		for _, p := range plans {
			out = append(out, p.ID)
		}
		return out
	}

	assert.Equal(t, []string{"review"}, ids(PlanQuery{Category: CategoryReviewNeeded}))
	assert.Equal(t, []string{"late"}, ids(PlanQuery{Category: CategoryOverdue}), "tolerance and frozen plans are not overdue")
	assert.Equal(t, []string{"tolerant"}, ids(PlanQuery{Category: CategoryTolerance}))
	assert.Equal(t, []string{"soon"}, ids(PlanQuery{Category: CategoryUpcoming}))
	assert.Equal(t, []string{"frozen"}, ids(PlanQuery{Status: domain.PlanFrozen}))
	assert.Equal(t, []string{"late"}, ids(PlanQuery{SubscriptionID: "sub-late"}))
	assert.Equal(t, []string{"tolerant"}, ids(PlanQuery{Search: "travel"}))
	assert.Len(t, ids(PlanQuery{}), 5)

	_, err := s.ListPlans(ctx, PlanQuery{Category: "bogus"})
	assert.True(t, errs.IsValidation(err))
}

func TestListPlans_SearchEscapesWildcards(t *testing.T) {
	s := createTestStore(t)
	seedPlan(t, s, testPlan("plan-1", "sub-1"))

	plans, err := s.ListPlans(context.Background(), PlanQuery{Search: "%"})
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestPastDueCandidates(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	covered := testPayment("plan-1", 2, "2026-03-02", domain.PaymentPending)
	covered.ToleranceUntil = "2026-03-10"
	seedPlan(t, s, testPlan("plan-1", "sub-1"),
		testPayment("plan-1", 1, "2026-03-01", domain.PaymentPending),
		covered,
		testPayment("plan-1", 3, "2026-03-10", domain.PaymentPending), // due today
	)
	frozen := testPlan("plan-2", "sub-2")
	frozen.Status = domain.PlanFrozen
	seedPlan(t, s, frozen, testPayment("plan-2", 1, "2026-03-01", domain.PaymentPending))

	got, err := s.PastDueCandidates(ctx, "2026-03-10")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "plan-1-pay-1", got[0].ID)
}
