package upstream

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/errs"
)

// PostgresSource reads the upstream tables from the sales system's
// Postgres database. Amounts are read as text so no precision is lost.
type PostgresSource struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres connects a pool to dsn.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*PostgresSource, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errs.Validation(errs.CodeInvalidInput, "upstream postgres dsn is empty")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errs.Validation(errs.CodeInvalidInput, "upstream postgres dsn: %v", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, upstreamErr("connect upstream postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, upstreamErr("ping upstream postgres", err)
	}
	return &PostgresSource{pool: pool, logger: newOptions(opts).logger}, nil
}

// Close implements Source.
func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}

// SubscriptionsUpdatedSince implements Source.
func (s *PostgresSource) SubscriptionsUpdatedSince(ctx context.Context, since time.Time, afterID string, limit int) ([]domain.SubscriptionSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, campaign_id, amount::text, currency, plan_length_months,
			sessions_per_week, minutes_per_session, status, is_free, is_gift,
			COALESCE(external_payment_ids, '{}'), created_at, updated_at
		FROM `+TableSubscriptions+`
		WHERE (updated_at, id) > ($1, $2)
		ORDER BY updated_at ASC, id ASC
		LIMIT $3
	`, since.UTC(), afterID, limit)
	if err != nil {
		return nil, upstreamErr("subscriptions updated since", err)
	}
	defer rows.Close()

	var out []domain.SubscriptionSnapshot
	for rows.Next() {
		var (
			sub              domain.SubscriptionSnapshot
			amount, currency *string
		)
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.CampaignID, &amount, &currency,
			&sub.PlanLengthMonths, &sub.SessionsPerWeek, &sub.MinutesPerSession, &sub.Status,
			&sub.IsFree, &sub.IsGift, &sub.ExternalPaymentIDs, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, upstreamErr("scan subscription", err)
		}
		if amount != nil {
			sub.Amount = parseAmount(s.logger, sub.ID, *amount)
		}
		if currency != nil {
			sub.Currency = *currency
		}
		sub.ExternalPaymentIDs = cleanPaymentIDs(sub.ExternalPaymentIDs)
		sub.CreatedAt = sub.CreatedAt.UTC()
		sub.UpdatedAt = sub.UpdatedAt.UTC()
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, upstreamErr("subscriptions updated since", err)
	}
	return out, nil
}

// LatestPaymentFact implements Source.
func (s *PostgresSource) LatestPaymentFact(ctx context.Context, subscriptionID string) (*domain.PaymentFact, error) {
	var (
		fact   domain.PaymentFact
		amount string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT subscription_id, amount::text, currency, recorded_at
		FROM `+TablePaymentFacts+`
		WHERE subscription_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`, subscriptionID).Scan(&fact.SubscriptionID, &amount, &fact.Currency, &fact.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
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
	fact.RecordedAt = fact.RecordedAt.UTC()
	return &fact, nil
}

// LeadAssignmentCounts implements Source.
func (s *PostgresSource) LeadAssignmentCounts(ctx context.Context, from, to time.Time) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seller_id, COUNT(*)
		FROM `+TableLeadAssignments+`
		WHERE assigned_at >= $1 AND assigned_at < $2
		GROUP BY seller_id
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, upstreamErr("lead assignment counts", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			seller string
			n      int64
		)
		if err := rows.Scan(&seller, &n); err != nil {
			return nil, upstreamErr("lead assignment counts", err)
		}
		counts[seller] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, upstreamErr("lead assignment counts", err)
	}
	return counts, nil
}
