package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/tally/internal/achievement"
	"github.com/roach88/tally/internal/checkpoint"
	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/errs"
	"github.com/roach88/tally/internal/event"
	"github.com/roach88/tally/internal/finance"
	"github.com/roach88/tally/internal/identity"
	"github.com/roach88/tally/internal/store"
)

// outcome is what the ledger step did for one record.
type outcome struct {
	inserted bool
	status   domain.LedgerStatus
	jackpot  bool

	// achievementCreated is set when the jackpot achievement was
	// created by this call.
	achievementCreated bool
}

// syncMain reads one upstream batch after the main checkpoint and
// advances it to the last record processed.
//
// The checkpoint is a (updated_at, id) keyset position, so any number of
// records sharing one updated_at are consumed across successive batches.
// A record that fails with a validation, state or conflict error is
// logged and skipped. An infrastructure error stops the batch; the
// checkpoint then advances only over the records processed before it, so
// the failed record is read again next tick.
func (p *Poller) syncMain(ctx context.Context, res *TickResult) error {
	cur, ok, err := p.Checkpoints.Load(ctx, checkpoint.KeyMain)
	if err != nil {
		return fmt.Errorf("load main checkpoint: %w", err)
	}
	if !ok {
		cur = checkpoint.Cursor{Timestamp: time.Unix(0, 0).UTC()}
	}
	since := cur.Timestamp
	res.Cursor = since

	records, err := p.Source.SubscriptionsUpdatedSince(ctx, since, cur.ID, p.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch upstream batch: %w", err)
	}

	var (
		advanced = cur
		stopErr  error
	)
	for _, rec := range records {
		if err := p.process(ctx, rec, since, res); err != nil {
			if errs.KindOf(err) == errs.KindInfra {
				stopErr = fmt.Errorf("subscription %s: %w", rec.ID, err)
				break
			}
			res.Skipped++
			p.logger.Warn("subscription skipped",
				"subscription_id", rec.ID,
				"code", errs.CodeOf(err),
				"error", err)
		}
		res.Processed++
		p.metrics.RecordsProcessed.Inc()
		advanced = checkpoint.Cursor{Timestamp: rec.UpdatedAt, ID: rec.ID}
	}

	if cur.Before(advanced) {
		if err := p.Checkpoints.Save(ctx, checkpoint.KeyMain, advanced, p.cfg.CheckpointTTL); err != nil {
			return fmt.Errorf("save main checkpoint: %w", err)
		}
		res.Cursor = advanced.Timestamp
		res.CursorID = advanced.ID
	}
	return stopErr
}

// process handles one upstream record: metrics always, ledger only when
// the subscription was created at or after the cursor.
func (p *Poller) process(ctx context.Context, rec domain.SubscriptionSnapshot, since time.Time, res *TickResult) error {
	var fallback *domain.PaymentFact
	if finance.NeedsFallback(rec) {
		fact, err := p.Source.LatestPaymentFact(ctx, rec.ID)
		if err != nil {
			return err
		}
		fallback = fact
	}

	m := p.Calculator.Compute(finance.InputFromSnapshot(rec, fallback))
	if err := p.Store.UpsertMetrics(ctx, rec.ID, m); err != nil {
		return errs.Infra(errs.CodeStorage, err)
	}

	if rec.CreatedAt.Before(since) {
		return nil
	}
	if p.cfg.TrialCampaignID != "" && rec.CampaignID == p.cfg.TrialCampaignID {
		return nil
	}

	out, err := p.ledger(ctx, rec, m)
	if err != nil {
		return err
	}
	if !out.inserted {
		return nil
	}

	p.metrics.LedgerInserts.WithLabelValues(string(out.status)).Inc()
	switch out.status {
	case domain.LedgerExcluded:
		res.Excluded++
	default:
		res.Inserted++
	}
	if out.jackpot {
		res.Jackpots++
	}
	if out.achievementCreated {
		p.metrics.AchievementsCreated.WithLabelValues(string(achievement.TypeJackpot)).Inc()
	}
	p.logger.Info("ledger entry created",
		"subscription_id", rec.ID,
		"status", out.status,
		"jackpot", out.jackpot)
	return nil
}

// ledger inserts the ledger row, its events and the jackpot achievement
// in one transaction. Nothing is written when the subscription already
// has a ledger row.
func (p *Poller) ledger(ctx context.Context, rec domain.SubscriptionSnapshot, m finance.Metrics) (outcome, error) {
	fp, err := identity.Fingerprint(identity.FingerprintInput{
		UserID:             rec.UserID,
		CampaignID:         rec.CampaignID,
		CreatedAt:          rec.CreatedAt,
		ExternalPaymentIDs: rec.ExternalPaymentIDs,
	})
	if err != nil {
		return outcome{}, errs.Validation(errs.CodeInvalidInput, "fingerprint %s: %v", rec.ID, err)
	}

	var out outcome
	err = p.Store.WithTx(ctx, func(tx *store.Tx) error {
		out = outcome{}
		entry := domain.LedgerEntry{
			SubscriptionID:        rec.ID,
			UserID:                rec.UserID,
			CampaignID:            rec.CampaignID,
			Fingerprint:           fp,
			Status:                domain.LedgerPending,
			RevenueUSD:            m.RevenueUSD,
			SubscriptionCreatedAt: rec.CreatedAt,
		}

		dupOf, isDup, err := tx.FindDuplicate(ctx, fp, rec.ID, rec.CreatedAt, p.cfg.DuplicateWindow)
		if err != nil {
			return err
		}
		if isDup {
			entry.Status = domain.LedgerExcluded
			entry.ExclusionReason = domain.ExclusionDuplicate
			entry.DuplicateOf = dupOf
		}

		inserted, err := tx.InsertLedgerEntry(ctx, entry)
		if err != nil || !inserted {
			return err
		}
		out.inserted = true
		out.status = entry.Status

		if isDup {
			return tx.AppendAudit(ctx, domain.AuditRecord{
				Action:      "ledger_excluded_duplicate",
				SubjectType: "ledger_entry",
				SubjectID:   rec.ID,
				Actor:       domain.SystemActor.ID,
				Details: map[string]string{
					"duplicate_of": dupOf,
					"fingerprint":  fp,
				},
			})
		}

		if _, err := tx.AppendEvent(ctx, event.Event{
			SubscriptionID: rec.ID,
			Actor:          domain.SystemActor.ID,
			BusinessKey:    "ledger:" + rec.ID,
			Payload: event.LedgerEntryCreated{
				SubscriptionID: rec.ID,
				UserID:         rec.UserID,
				CampaignID:     rec.CampaignID,
				RevenueUSD:     m.RevenueUSD,
			},
		}); err != nil {
			return err
		}

		if !m.IsJackpot || !m.RevenueUSD.Valid {
			return nil
		}
		out.jackpot = true
		threshold := p.Calculator.JackpotThresholdUSD().Decimal
		jackpotKey := "jackpot:" + rec.ID
		_, announced, err := tx.FindEventByBusinessKey(ctx, jackpotKey)
		if err != nil {
			return err
		}
		if !announced {
			if _, err := tx.AppendEvent(ctx, event.Event{
				SubscriptionID: rec.ID,
				Actor:          domain.SystemActor.ID,
				BusinessKey:    jackpotKey,
				Payload: event.JackpotHit{
					SubscriptionID: rec.ID,
					RevenueUSD:     m.RevenueUSD.Decimal,
					ThresholdUSD:   threshold,
				},
			}); err != nil {
				return err
			}
		}
		_, created, err := p.Achievements.CreateTx(ctx, tx, achievement.Input{
			Title:     fmt.Sprintf("Jackpot sale %s", m.RevenueUSD.Decimal.StringFixed(2)),
			DedupeKey: achievement.JackpotKey(rec.ID),
			Payload: achievement.JackpotPayload{
				SubscriptionID: rec.ID,
				RevenueUSD:     m.RevenueUSD.Decimal,
				ThresholdUSD:   threshold,
			},
		})
		out.achievementCreated = created
		return err
	})
	if err != nil {
		return outcome{}, err
	}
	return out, nil
}
