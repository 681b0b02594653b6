package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/errs"
)

// CreateGoal inserts a sales goal.
func (s *Store) CreateGoal(ctx context.Context, g domain.Goal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales_goals (id, seller_id, title, target_usd, period_start, period_end, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		g.ID,
		nullString(g.SellerID),
		g.Title,
		g.TargetUSD,
		g.PeriodStart,
		g.PeriodEnd,
		toMillis(stampOr(g.CreatedAt, s.now)),
	)
	if err != nil {
		return classify(fmt.Errorf("create goal: %w", err))
	}
	return nil
}

// ActiveGoals returns goals whose period contains today.
func (s *Store) ActiveGoals(ctx context.Context, today string) ([]domain.Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seller_id, title, target_usd, period_start, period_end, created_at
		FROM sales_goals
		WHERE period_start <= ? AND period_end >= ?
		ORDER BY id ASC
	`, today, today)
	if err != nil {
		return nil, fmt.Errorf("active goals: %w", err)
	}
	defer rows.Close()

	var goals []domain.Goal
	for rows.Next() {
		var (
			g         domain.Goal
			sellerID  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&g.ID, &sellerID, &g.Title, &g.TargetUSD, &g.PeriodStart, &g.PeriodEnd, &createdAt); err != nil {
			return nil, fmt.Errorf("active goals: %w", err)
		}
		g.SellerID = sellerID.String
		g.CreatedAt = fromMillis(createdAt)
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// UpsertGoalProgress replaces the cached progress of a goal.
func (s *Store) UpsertGoalProgress(ctx context.Context, p domain.GoalProgress) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO goal_progress (goal_id, progress_usd, ratio, computed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(goal_id) DO UPDATE SET
			progress_usd = excluded.progress_usd,
			ratio = excluded.ratio,
			computed_at = excluded.computed_at
	`, p.GoalID, p.ProgressUSD, p.Ratio, toMillis(stampOr(p.ComputedAt, s.now)))
	if err != nil {
		return fmt.Errorf("upsert goal progress: %w", err)
	}
	return nil
}

// GetGoalProgress returns the cached progress of a goal.
func (s *Store) GetGoalProgress(ctx context.Context, goalID string) (domain.GoalProgress, error) {
	var (
		p          domain.GoalProgress
		computedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT goal_id, progress_usd, ratio, computed_at FROM goal_progress WHERE goal_id = ?
	`, goalID).Scan(&p.GoalID, &p.ProgressUSD, &p.Ratio, &computedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GoalProgress{}, errs.NotFound(errs.CodeGoalNotFound, "no progress for goal %s", goalID)
	}
	if err != nil {
		return domain.GoalProgress{}, fmt.Errorf("get goal progress: %w", err)
	}
	p.ComputedAt = fromMillis(computedAt)
	return p, nil
}

// UpsertLeadDailyStat replaces the count for (day, seller).
func (s *Store) UpsertLeadDailyStat(ctx context.Context, st domain.LeadDailyStat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lead_daily_stats (day, seller_id, assigned_count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(day, seller_id) DO UPDATE SET
			assigned_count = excluded.assigned_count,
			updated_at = excluded.updated_at
	`, st.Day, st.SellerID, st.AssignedCount, toMillis(stampOr(st.UpdatedAt, s.now)))
	if err != nil {
		return fmt.Errorf("upsert lead stat: %w", err)
	}
	return nil
}

// LeadDailyStats returns per-seller counts for a day.
func (s *Store) LeadDailyStats(ctx context.Context, day string) ([]domain.LeadDailyStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, seller_id, assigned_count, updated_at
		FROM lead_daily_stats WHERE day = ?
		ORDER BY seller_id ASC
	`, day)
	if err != nil {
		return nil, fmt.Errorf("lead stats: %w", err)
	}
	defer rows.Close()

	var stats []domain.LeadDailyStat
	for rows.Next() {
		var (
			st        domain.LeadDailyStat
			updatedAt int64
		)
		if err := rows.Scan(&st.Day, &st.SellerID, &st.AssignedCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("lead stats: %w", err)
		}
		st.UpdatedAt = fromMillis(updatedAt)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
