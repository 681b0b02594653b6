package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/errs"
	"github.com/roach88/tally/internal/finance"
)

const ledgerColumns = `id, subscription_id, user_id, campaign_id, fingerprint, status,
	exclusion_reason, duplicate_of, revenue_usd, claimed_by, claimed_at,
	subscription_created_at, created_at, updated_at`

// FindDuplicate returns the subscription id of an existing ledger row with
// the same fingerprint whose subscription was created within window of
// createdAt. The subscription itself never matches.
func (t *Tx) FindDuplicate(ctx context.Context, fingerprint, subscriptionID string, createdAt time.Time, window time.Duration) (string, bool, error) {
	var dup string
	err := t.tx.QueryRowContext(ctx, `
		SELECT subscription_id FROM ledger_entries
		WHERE fingerprint = ?
		  AND subscription_id <> ?
		  AND subscription_created_at BETWEEN ? AND ?
		ORDER BY subscription_created_at ASC, id ASC
		LIMIT 1
	`,
		fingerprint,
		subscriptionID,
		toMillis(createdAt.Add(-window)),
		toMillis(createdAt.Add(window)),
	).Scan(&dup)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find duplicate: %w", err)
	}
	return dup, true, nil
}

// InsertLedgerEntry inserts a ledger row unless one already exists for the
// subscription id. Reports whether a row was inserted.
func (t *Tx) InsertLedgerEntry(ctx context.Context, e domain.LedgerEntry) (bool, error) {
	now := t.now()
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(subscription_id, user_id, campaign_id, fingerprint, status, exclusion_reason,
		 duplicate_of, revenue_usd, claimed_by, claimed_at, subscription_created_at,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subscription_id) DO NOTHING
	`,
		e.SubscriptionID,
		e.UserID,
		e.CampaignID,
		e.Fingerprint,
		string(e.Status),
		nullString(e.ExclusionReason),
		nullString(e.DuplicateOf),
		e.RevenueUSD,
		nullString(e.ClaimedBy),
		nullMillis(e.ClaimedAt),
		toMillis(e.SubscriptionCreatedAt),
		toMillis(now),
		toMillis(now),
	)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: rows affected: %w", err)
	}
	return n > 0, nil
}

// GetLedgerEntry returns the ledger row for a subscription.
func (s *Store) GetLedgerEntry(ctx context.Context, subscriptionID string) (domain.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE subscription_id = ?`, subscriptionID)
	e, err := scanLedgerEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerEntry{}, errs.NotFound(errs.CodeLedgerNotFound,
			"no ledger entry for subscription %s", subscriptionID)
	}
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

// LedgerFilter narrows ListLedgerEntries.
type LedgerFilter struct {
	Status   domain.LedgerStatus
	SellerID string
	Limit    int
}

// ListLedgerEntries returns ledger rows ordered by id.
func (s *Store) ListLedgerEntries(ctx context.Context, f LedgerFilter) ([]domain.LedgerEntry, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.SellerID != "" {
		where = append(where, "claimed_by = ?")
		args = append(args, f.SellerID)
	}
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("list ledger entries: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClaimLedgerEntry attributes a pending entry to a seller. Claiming is
// driven by the external attribution workflow; this is its write path.
func (s *Store) ClaimLedgerEntry(ctx context.Context, subscriptionID, sellerID string) error {
	now := toMillis(s.now())
	result, err := s.db.ExecContext(ctx, `
		UPDATE ledger_entries
		SET status = 'claimed', claimed_by = ?, claimed_at = ?, updated_at = ?
		WHERE subscription_id = ? AND status = 'pending'
	`, sellerID, now, now, subscriptionID)
	if err != nil {
		return fmt.Errorf("claim ledger entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim ledger entry: rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	e, err := s.GetLedgerEntry(ctx, subscriptionID)
	if err != nil {
		return err
	}
	return errs.State(errs.CodeInvalidTransition,
		"ledger entry %s is %s, only pending entries can be claimed", subscriptionID, e.Status)
}

// CountLedgerEntries returns the number of ledger rows.
func (s *Store) CountLedgerEntries(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLedgerEntry(r rowScanner) (domain.LedgerEntry, error) {
	var (
		e                            domain.LedgerEntry
		status                       string
		reason, dupOf, claimedBy     sql.NullString
		claimedAt                    sql.NullInt64
		subCreated, created, updated int64
	)
	err := r.Scan(
		&e.ID,
		&e.SubscriptionID,
		&e.UserID,
		&e.CampaignID,
		&e.Fingerprint,
		&status,
		&reason,
		&dupOf,
		&e.RevenueUSD,
		&claimedBy,
		&claimedAt,
		&subCreated,
		&created,
		&updated,
	)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	e.Status = domain.LedgerStatus(status)
	e.ExclusionReason = reason.String
	e.DuplicateOf = dupOf.String
	e.ClaimedBy = claimedBy.String
	e.ClaimedAt = timePtr(claimedAt)
	e.SubscriptionCreatedAt = fromMillis(subCreated)
	e.CreatedAt = fromMillis(created)
	e.UpdatedAt = fromMillis(updated)
	return e, nil
}

// UpsertMetrics stores the latest computed metrics for a subscription.
// Recomputing the same input rewrites the same row.
func (s *Store) UpsertMetrics(ctx context.Context, subscriptionID string, m finance.Metrics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscription_metrics
		(subscription_id, revenue_usd, cost_usd, margin_amount_usd, margin_percent,
		 is_jackpot, currency_source, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subscription_id) DO UPDATE SET
			revenue_usd = excluded.revenue_usd,
			cost_usd = excluded.cost_usd,
			margin_amount_usd = excluded.margin_amount_usd,
			margin_percent = excluded.margin_percent,
			is_jackpot = excluded.is_jackpot,
			currency_source = excluded.currency_source,
			computed_at = excluded.computed_at
	`,
		subscriptionID,
		m.RevenueUSD,
		m.CostUSD,
		m.MarginAmountUSD,
		m.MarginPercent,
		m.IsJackpot,
		string(m.CurrencySource),
		toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("upsert metrics: %w", err)
	}
	return nil
}

// GetMetrics returns the stored metrics for a subscription.
func (s *Store) GetMetrics(ctx context.Context, subscriptionID string) (finance.Metrics, time.Time, error) {
	var (
		m          finance.Metrics
		source     string
		computedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT revenue_usd, cost_usd, margin_amount_usd, margin_percent,
		       is_jackpot, currency_source, computed_at
		FROM subscription_metrics WHERE subscription_id = ?
	`, subscriptionID).Scan(
		&m.RevenueUSD,
		&m.CostUSD,
		&m.MarginAmountUSD,
		&m.MarginPercent,
		&m.IsJackpot,
		&source,
		&computedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.Metrics{}, time.Time{}, errs.NotFound("metrics_not_found",
			"no metrics for subscription %s", subscriptionID)
	}
	if err != nil {
		return finance.Metrics{}, time.Time{}, fmt.Errorf("get metrics: %w", err)
	}
	m.CurrencySource = finance.CurrencySource(source)
	return m, fromMillis(computedAt), nil
}

// RevenueFilter selects ledger revenue by subscription creation time.
// From is inclusive, To exclusive. Only pending and claimed entries count.
type RevenueFilter struct {
	From time.Time
	To   time.Time

	// SellerID restricts to entries claimed by the seller.
	SellerID string
}

// SumRevenue sums revenue_usd over matching ledger entries. Summation is
// done in decimal so no precision is lost to SQLite's REAL arithmetic.
func (s *Store) SumRevenue(ctx context.Context, f RevenueFilter) (decimal.Decimal, error) {
	query := `
		SELECT revenue_usd FROM ledger_entries
		WHERE revenue_usd IS NOT NULL
		  AND subscription_created_at >= ? AND subscription_created_at < ?`
	args := []any{toMillis(f.From), toMillis(f.To)}
	if f.SellerID != "" {
		query += ` AND status = 'claimed' AND claimed_by = ?`
		args = append(args, f.SellerID)
	} else {
		query += ` AND status IN ('pending', 'claimed')`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum revenue: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var v decimal.Decimal
		if err := rows.Scan(&v); err != nil {
			return decimal.Zero, fmt.Errorf("sum revenue: %w", err)
		}
		total = total.Add(v)
	}
	return total, rows.Err()
}

// RevenueBySeller sums claimed revenue per seller for entries created in
// [from, to).
func (s *Store) RevenueBySeller(ctx context.Context, from, to time.Time) (map[string]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT claimed_by, revenue_usd FROM ledger_entries
		WHERE status = 'claimed' AND claimed_by IS NOT NULL AND revenue_usd IS NOT NULL
		  AND subscription_created_at >= ? AND subscription_created_at < ?
		ORDER BY claimed_by
	`, toMillis(from), toMillis(to))
	if err != nil {
		return nil, fmt.Errorf("revenue by seller: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			seller string
			v      decimal.Decimal
		)
		if err := rows.Scan(&seller, &v); err != nil {
			return nil, fmt.Errorf("revenue by seller: %w", err)
		}
		totals[seller] = totals[seller].Add(v)
	}
	return totals, rows.Err()
}
