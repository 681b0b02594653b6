package upstream

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/errs"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteSource reads the upstream tables from a SQLite file.
type SQLiteSource struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens or creates a mirror database at path.
func OpenSQLite(path string, opts ...Option) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open upstream mirror: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to upstream mirror: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("upstream mirror pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("upstream mirror schema: %w", err)
	}
	return &SQLiteSource{db: db, logger: newOptions(opts).logger}, nil
}

// Close implements Source.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// DB returns the mirror's handle for loading raw fixture rows.
func (s *SQLiteSource) DB() *sql.DB {
	return s.db
}

// SubscriptionsUpdatedSince implements Source.
func (s *SQLiteSource) SubscriptionsUpdatedSince(ctx context.Context, since time.Time, afterID string, limit int) ([]domain.SubscriptionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, campaign_id, amount, currency, plan_length_months,
			sessions_per_week, minutes_per_session, status, is_free, is_gift,
			external_payment_ids, created_at, updated_at
		FROM upstream_subscriptions
		WHERE (updated_at, id) > (?, ?)
		ORDER BY updated_at ASC, id ASC
		LIMIT ?
	`, since.UTC().UnixMilli(), afterID, limit)
	if err != nil {
		return nil, upstreamErr("subscriptions updated since", err)
	}
	defer rows.Close()

	var out []domain.SubscriptionSnapshot
	for rows.Next() {
		var (
			sub                  domain.SubscriptionSnapshot
			amount, currency     sql.NullString
			paymentIDs           string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.CampaignID, &amount, &currency,
			&sub.PlanLengthMonths, &sub.SessionsPerWeek, &sub.MinutesPerSession, &sub.Status,
			&sub.IsFree, &sub.IsGift, &paymentIDs, &createdAt, &updatedAt); err != nil {
			return nil, upstreamErr("scan subscription", err)
		}
		if amount.Valid {
			sub.Amount = parseAmount(s.logger, sub.ID, amount.String)
		}
		sub.Currency = currency.String
		if err := json.Unmarshal([]byte(paymentIDs), &sub.ExternalPaymentIDs); err != nil {
			s.logger.Warn("unparseable upstream payment ids, treated as none",
				"subscription_id", sub.ID,
				"payment_ids", paymentIDs)
			sub.ExternalPaymentIDs = nil
		}
		sub.ExternalPaymentIDs = cleanPaymentIDs(sub.ExternalPaymentIDs)
		sub.CreatedAt = time.UnixMilli(createdAt).UTC()
		sub.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, upstreamErr("subscriptions updated since", err)
	}
	return out, nil
}

// LatestPaymentFact implements Source.
func (s *SQLiteSource) LatestPaymentFact(ctx context.Context, subscriptionID string) (*domain.PaymentFact, error) {
	var (
		fact       domain.PaymentFact
		amount     string
		recordedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT subscription_id, amount, currency, recorded_at
		FROM upstream_payment_facts
		WHERE subscription_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`, subscriptionID).Scan(&fact.SubscriptionID, &amount, &fact.Currency, &recordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, upstreamErr("latest payment fact", err)
	}
	d := parseAmount(s.logger, subscriptionID, amount)
	if !d.Valid {
		return nil, nil
	}
	fact.Amount = d.Decimal
	fact.RecordedAt = time.UnixMilli(recordedAt).UTC()
	return &fact, nil
}

// LeadAssignmentCounts implements Source.
func (s *SQLiteSource) LeadAssignmentCounts(ctx context.Context, from, to time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seller_id, COUNT(*)
		FROM upstream_lead_assignments
		WHERE assigned_at >= ? AND assigned_at < ?
		GROUP BY seller_id
	`, from.UTC().UnixMilli(), to.UTC().UnixMilli())
	if err != nil {
		return nil, upstreamErr("lead assignment counts", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			seller string
			n      int
		)
		if err := rows.Scan(&seller, &n); err != nil {
			return nil, upstreamErr("lead assignment counts", err)
		}
		counts[seller] = n
	}
	if err := rows.Err(); err != nil {
		return nil, upstreamErr("lead assignment counts", err)
	}
	return counts, nil
}

// PutSubscription inserts or replaces a mirrored subscription.
func (s *SQLiteSource) PutSubscription(ctx context.Context, sub domain.SubscriptionSnapshot) error {
	ids := sub.ExternalPaymentIDs
	if ids == nil {
		ids = []string{}
	}
	paymentIDs, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("put subscription: %w", err)
	}
	var amount sql.NullString
	if sub.Amount.Valid {
		amount = sql.NullString{String: sub.Amount.Decimal.String(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO upstream_subscriptions (
			id, user_id, campaign_id, amount, currency, plan_length_months,
			sessions_per_week, minutes_per_session, status, is_free, is_gift,
			external_payment_ids, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sub.ID, sub.UserID, sub.CampaignID, amount,
		sql.NullString{String: sub.Currency, Valid: sub.Currency != ""},
		sub.PlanLengthMonths, sub.SessionsPerWeek, sub.MinutesPerSession, sub.Status,
		sub.IsFree, sub.IsGift, string(paymentIDs),
		sub.CreatedAt.UTC().UnixMilli(), sub.UpdatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put subscription: %w", err)
	}
	return nil
}

// PutPaymentFact appends a mirrored payment fact.
func (s *SQLiteSource) PutPaymentFact(ctx context.Context, f domain.PaymentFact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO upstream_payment_facts (subscription_id, amount, currency, recorded_at)
		VALUES (?, ?, ?, ?)
	`, f.SubscriptionID, f.Amount.String(), f.Currency, f.RecordedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("put payment fact: %w", err)
	}
	return nil
}

// PutLeadAssignment inserts or replaces a mirrored lead assignment.
func (s *SQLiteSource) PutLeadAssignment(ctx context.Context, a domain.LeadAssignment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO upstream_lead_assignments (lead_id, seller_id, assigned_at)
		VALUES (?, ?, ?)
	`, a.LeadID, a.SellerID, a.AssignedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("put lead assignment: %w", err)
	}
	return nil
}

func upstreamErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errs.Infra(errs.CodeUpstream, fmt.Errorf("%s: %w", op, err))
}
