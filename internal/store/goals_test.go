package store

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/errs"
)

func TestActiveGoals(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateGoal(ctx, domain.Goal{
		ID: "g-march", Title: "March", TargetUSD: decimal.NewFromInt(5000),
		PeriodStart: "2026-03-01", PeriodEnd: "2026-03-31",
	}))
	require.NoError(t, s.CreateGoal(ctx, domain.Goal{
		ID: "g-april", SellerID: "seller-1", Title: "April", TargetUSD: decimal.NewFromInt(100),
		PeriodStart: "2026-04-01", PeriodEnd: "2026-04-30",
	}))
	assert.True(t, errs.IsConflict(s.CreateGoal(ctx, domain.Goal{
		ID: "g-march", Title: "dup", TargetUSD: decimal.NewFromInt(1),
		PeriodStart: "2026-03-01", PeriodEnd: "2026-03-31",
	})))

	goals, err := s.ActiveGoals(ctx, "2026-03-31")
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.Equal(t, "g-march", goals[0].ID)
	assert.Empty(t, goals[0].SellerID)
	assert.True(t, goals[0].TargetUSD.Equal(decimal.NewFromInt(5000)))
}

func TestGoalProgress_Upsert(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateGoal(ctx, domain.Goal{
		ID: "g-1", Title: "Q1", TargetUSD: decimal.NewFromInt(200),
		PeriodStart: "2026-01-01", PeriodEnd: "2026-03-31",
	}))

	_, err := s.GetGoalProgress(ctx, "g-1")
	assert.True(t, errs.IsNotFound(err))

	for _, v := range []int64{50, 150} {
		require.NoError(t, s.UpsertGoalProgress(ctx, domain.GoalProgress{
			GoalID:      "g-1",
			ProgressUSD: decimal.NewFromInt(v),
			Ratio:       decimal.NewFromInt(v).DivRound(decimal.NewFromInt(200), 4),
		}))
	}
	p, err := s.GetGoalProgress(ctx, "g-1")
	require.NoError(t, err)
	assert.True(t, p.ProgressUSD.Equal(decimal.NewFromInt(150)))
	assert.True(t, p.Ratio.Equal(decimal.RequireFromString("0.75")))
}

func TestLeadDailyStats_Replace(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertLeadDailyStat(ctx, domain.LeadDailyStat{Day: "2026-03-10", SellerID: "s-1", AssignedCount: 2}))
	require.NoError(t, s.UpsertLeadDailyStat(ctx, domain.LeadDailyStat{Day: "2026-03-10", SellerID: "s-1", AssignedCount: 5}))
	require.NoError(t, s.UpsertLeadDailyStat(ctx, domain.LeadDailyStat{Day: "2026-03-10", SellerID: "s-0", AssignedCount: 1}))

	stats, err := s.LeadDailyStats(ctx, "2026-03-10")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "s-0", stats[0].SellerID)
	assert.Equal(t, 5, stats[1].AssignedCount)
}
