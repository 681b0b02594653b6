package recon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/tally/internal/achievement"
	"github.com/roach88/tally/internal/checkpoint"
	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/store"
)

// Sub-job names, used as metric labels and in TickResult.Jobs.
const (
	JobOverdueSweep      = "overdue_sweep"
	JobLeadSync          = "lead_sync"
	JobGoalProgress      = "goal_progress"
	JobRevenueMilestones = "revenue_milestones"
)

type job struct {
	name  string
	key   string
	every time.Duration
	run   func(ctx context.Context, now time.Time) error
}

func (p *Poller) subJobs() []job {
	c := p.cfg.Cadence
	jobs := []job{
		{JobLeadSync, checkpoint.KeyLeadSync, c.LeadSync, p.syncLeads},
		{JobGoalProgress, checkpoint.KeyGoalProgress, c.GoalProgress, p.computeGoals},
		{JobRevenueMilestones, checkpoint.KeyRevenueMilestones, c.RevenueMilestones, p.checkMilestones},
	}
	if p.Installments != nil {
		sweep := job{JobOverdueSweep, checkpoint.KeyOverdueSweep, c.OverdueSweep, p.sweepOverdue}
		jobs = append([]job{sweep}, jobs...)
	}
	return jobs
}

// runJob runs j when its cadence has elapsed since its last successful
// run. The checkpoint is saved only on success, so a failed job retries
// next tick.
func (p *Poller) runJob(ctx context.Context, j job) (bool, error) {
	if j.every <= 0 {
		return false, nil
	}
	now := p.now()
	last, ok, err := p.Checkpoints.Load(ctx, j.key)
	if err != nil {
		p.metrics.SubJobRuns.WithLabelValues(j.name, "error").Inc()
		return false, fmt.Errorf("%s: load checkpoint: %w", j.name, err)
	}
	if ok && now.Sub(last.Timestamp) < j.every {
		return false, nil
	}

	if err := j.run(ctx, now); err != nil {
		p.metrics.SubJobRuns.WithLabelValues(j.name, "error").Inc()
		p.logger.Error("sub-job failed", "job", j.name, "error", err)
		return true, fmt.Errorf("%s: %w", j.name, err)
	}
	if err := p.save(ctx, j.key, now); err != nil {
		p.metrics.SubJobRuns.WithLabelValues(j.name, "error").Inc()
		return true, fmt.Errorf("%s: save checkpoint: %w", j.name, err)
	}
	p.metrics.SubJobRuns.WithLabelValues(j.name, "ok").Inc()
	p.logger.Debug("sub-job finished", "job", j.name)
	return true, nil
}

func (p *Poller) sweepOverdue(ctx context.Context, now time.Time) error {
	_, err := p.Installments.SweepOverdue(ctx, now)
	return err
}

// syncLeads refreshes yesterday's and today's per-seller lead counts.
// Yesterday is included so assignments made after the last run before
// midnight are counted.
func (p *Poller) syncLeads(ctx context.Context, now time.Time) error {
	today := domain.StartOfDay(now, p.cfg.Location)
	for _, start := range []time.Time{today.AddDate(0, 0, -1), today} {
		end := start.AddDate(0, 0, 1)
		counts, err := p.Source.LeadAssignmentCounts(ctx, start, end)
		if err != nil {
			return err
		}
		day := start.Format(domain.DateLayout)
		for seller, n := range counts {
			if err := p.Store.UpsertLeadDailyStat(ctx, domain.LeadDailyStat{
				Day:           day,
				SellerID:      seller,
				AssignedCount: n,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// computeGoals recomputes progress of every goal active today. Seller
// goals count revenue claimed by the seller; team goals count all
// pending and claimed revenue.
func (p *Poller) computeGoals(ctx context.Context, now time.Time) error {
	goals, err := p.Store.ActiveGoals(ctx, domain.Day(now, p.cfg.Location))
	if err != nil {
		return err
	}

	var failed []error
	for _, g := range goals {
		if err := p.computeGoal(ctx, g, now); err != nil {
			failed = append(failed, fmt.Errorf("goal %s: %w", g.ID, err))
		}
	}
	return errors.Join(failed...)
}

func (p *Poller) computeGoal(ctx context.Context, g domain.Goal, now time.Time) error {
	from, err := time.ParseInLocation(domain.DateLayout, g.PeriodStart, p.cfg.Location)
	if err != nil {
		return err
	}
	last, err := time.ParseInLocation(domain.DateLayout, g.PeriodEnd, p.cfg.Location)
	if err != nil {
		return err
	}

	progress, err := p.Store.SumRevenue(ctx, store.RevenueFilter{
		From:     from,
		To:       last.AddDate(0, 0, 1),
		SellerID: g.SellerID,
	})
	if err != nil {
		return err
	}

	ratio := decimal.Zero
	if g.TargetUSD.IsPositive() {
		ratio = progress.DivRound(g.TargetUSD, 4)
	}
	if err := p.Store.UpsertGoalProgress(ctx, domain.GoalProgress{
		GoalID:      g.ID,
		ProgressUSD: progress,
		Ratio:       ratio,
		ComputedAt:  now,
	}); err != nil {
		return err
	}

	if progress.LessThan(g.TargetUSD) {
		return nil
	}
	_, _, err = p.Achievements.Create(ctx, achievement.Input{
		SellerID:  g.SellerID,
		Title:     fmt.Sprintf("Goal reached: %s", g.Title),
		DedupeKey: achievement.GoalKey(g.ID, g.SellerID, g.PeriodStart, g.PeriodEnd),
		Payload: achievement.GoalReachedPayload{
			GoalID:      g.ID,
			SellerID:    g.SellerID,
			TargetUSD:   g.TargetUSD,
			ProgressUSD: progress,
			PeriodStart: g.PeriodStart,
			PeriodEnd:   g.PeriodEnd,
		},
	})
	return err
}

// checkMilestones creates an achievement for every daily revenue
// threshold crossed today, by the team and by each seller.
func (p *Poller) checkMilestones(ctx context.Context, now time.Time) error {
	from := domain.StartOfDay(now, p.cfg.Location)
	to := from.AddDate(0, 0, 1)
	day := from.Format(domain.DateLayout)

	team, err := p.Store.SumRevenue(ctx, store.RevenueFilter{From: from, To: to})
	if err != nil {
		return err
	}
	for _, threshold := range p.cfg.TeamThresholdsUSD {
		if team.LessThan(threshold) {
			continue
		}
		if err := p.milestone(ctx, "", day, threshold, team); err != nil {
			return err
		}
	}

	if len(p.cfg.SellerThresholdsUSD) == 0 {
		return nil
	}
	bySeller, err := p.Store.RevenueBySeller(ctx, from, to)
	if err != nil {
		return err
	}
	for seller, revenue := range bySeller {
		for _, threshold := range p.cfg.SellerThresholdsUSD {
			if revenue.LessThan(threshold) {
				continue
			}
			if err := p.milestone(ctx, seller, day, threshold, revenue); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Poller) milestone(ctx context.Context, sellerID, day string, threshold, revenue decimal.Decimal) error {
	payload := achievement.RevenueMilestonePayload{
		Scope:        achievement.ScopeTeam,
		SellerID:     sellerID,
		Day:          day,
		ThresholdUSD: threshold,
		RevenueUSD:   revenue,
	}
	in := achievement.Input{
		SellerID:  sellerID,
		Title:     fmt.Sprintf("Team passed $%s today", threshold.String()),
		DedupeKey: achievement.TeamRevenueKey(threshold, day),
	}
	if sellerID != "" {
		payload.Scope = achievement.ScopeSeller
		in.Title = fmt.Sprintf("%s passed $%s today", sellerID, threshold.String())
		in.DedupeKey = achievement.SellerRevenueKey(sellerID, threshold, day)
	}
	in.Payload = payload
	_, _, err := p.Achievements.Create(ctx, in)
	return err
}
