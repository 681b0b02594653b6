package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/errs"
)

const planColumns = `id, subscription_id, claim_id, seller_id, currency, total_installments,
	status, next_due_payment_id, status_reason, created_by, created_at, updated_at`

const paymentColumns = `id, plan_id, payment_number, amount, due_date, status,
	submitted_at, submitted_by, reviewed_at, reviewed_by, rejection_reason,
	tolerance_until, tolerance_reason, note, updated_at`

// PlanExistsForSubscription reports whether a plan is already attached to
// the subscription.
func (t *Tx) PlanExistsForSubscription(ctx context.Context, subscriptionID string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM installment_plans WHERE subscription_id = ?`, subscriptionID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("plan exists: %w", err)
	}
	return n > 0, nil
}

// InsertPlan inserts a plan row.
func (t *Tx) InsertPlan(ctx context.Context, p domain.Plan) error {
	now := t.now()
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO installment_plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID,
		p.SubscriptionID,
		nullString(p.ClaimID),
		p.SellerID,
		p.Currency,
		p.TotalInstallments,
		string(p.Status),
		nullString(p.NextDuePaymentID),
		nullString(p.StatusReason),
		p.CreatedBy,
		toMillis(createdAt),
		toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

// InsertPayment inserts a payment row.
func (t *Tx) InsertPayment(ctx context.Context, p domain.Payment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO installment_payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, paymentArgs(p, t.now())...)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetPlan reads a plan inside the transaction.
func (t *Tx) GetPlan(ctx context.Context, planID string) (domain.Plan, error) {
	return getPlan(ctx, t.tx, planID)
}

// GetPlan reads a plan.
func (s *Store) GetPlan(ctx context.Context, planID string) (domain.Plan, error) {
	return getPlan(ctx, s.db, planID)
}

func getPlan(ctx context.Context, q queryer, planID string) (domain.Plan, error) {
	row := q.QueryRowContext(ctx, `SELECT `+planColumns+` FROM installment_plans WHERE id = ?`, planID)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Plan{}, errs.NotFound(errs.CodePlanNotFound, "plan %s not found", planID)
	}
	if err != nil {
		return domain.Plan{}, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

// GetPayment reads a payment inside the transaction.
func (t *Tx) GetPayment(ctx context.Context, paymentID string) (domain.Payment, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM installment_payments WHERE id = ?`, paymentID)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Payment{}, errs.NotFound(errs.CodePaymentNotFound, "payment %s not found", paymentID)
	}
	if err != nil {
		return domain.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// ListPayments returns a plan's payments ordered by payment number.
func (t *Tx) ListPayments(ctx context.Context, planID string) ([]domain.Payment, error) {
	return listPayments(ctx, t.tx, planID)
}

// ListPayments returns a plan's payments ordered by payment number.
func (s *Store) ListPayments(ctx context.Context, planID string) ([]domain.Payment, error) {
	return listPayments(ctx, s.db, planID)
}

func listPayments(ctx context.Context, q queryer, planID string) ([]domain.Payment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM installment_payments
		WHERE plan_id = ?
		ORDER BY payment_number ASC
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("list payments: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// UpdatePayment writes every mutable payment column.
func (t *Tx) UpdatePayment(ctx context.Context, p domain.Payment) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE installment_payments SET
			status = ?, submitted_at = ?, submitted_by = ?, reviewed_at = ?, reviewed_by = ?,
			rejection_reason = ?, tolerance_until = ?, tolerance_reason = ?, note = ?, updated_at = ?
		WHERE id = ?
	`,
		string(p.Status),
		nullMillis(p.SubmittedAt),
		nullString(p.SubmittedBy),
		nullMillis(p.ReviewedAt),
		nullString(p.ReviewedBy),
		nullString(p.RejectionReason),
		nullString(p.ToleranceUntil),
		nullString(p.ToleranceReason),
		nullString(p.Note),
		toMillis(t.now()),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}

// UpdatePlanStatus writes the plan status, next due payment and reason.
func (t *Tx) UpdatePlanStatus(ctx context.Context, planID string, status domain.PlanStatus, nextDuePaymentID, reason string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE installment_plans
		SET status = ?, next_due_payment_id = ?, status_reason = ?, updated_at = ?
		WHERE id = ?
	`,
		string(status),
		nullString(nextDuePaymentID),
		nullString(reason),
		toMillis(t.now()),
		planID,
	)
	if err != nil {
		return fmt.Errorf("update plan status: %w", err)
	}
	return nil
}

// PlanCategory is a derived plan listing category.
type PlanCategory string

const (
	CategoryReviewNeeded PlanCategory = "review_needed"
	CategoryOverdue      PlanCategory = "overdue"
	CategoryTolerance    PlanCategory = "tolerance"
	CategoryUpcoming     PlanCategory = "upcoming"
)

// PlanQuery filters ListPlans. Category and Status are mutually usable;
// Today and UpcomingUntil are civil dates required by the derived
// categories.
type PlanQuery struct {
	Category       PlanCategory
	Status         domain.PlanStatus
	SubscriptionID string
	ClaimID        string
	SellerID       string
	Search         string
	Today          string
	UpcomingUntil  string
	Limit          int
}

// ListPlans returns plans matching q ordered by creation time.
func (s *Store) ListPlans(ctx context.Context, q PlanQuery) ([]domain.Plan, error) {
	var where []string
	var args []any

	switch q.Category {
	case "":
	case CategoryReviewNeeded:
		where = append(where, `EXISTS (SELECT 1 FROM installment_payments p
			WHERE p.plan_id = pl.id AND p.status = 'submitted')`)
	case CategoryOverdue:
		where = append(where, `pl.status = 'active' AND EXISTS (SELECT 1 FROM installment_payments p
			WHERE p.plan_id = pl.id AND p.status IN ('pending', 'overdue') AND p.due_date < ?
			  AND (p.tolerance_until IS NULL OR p.tolerance_until < ?))`)
		args = append(args, q.Today, q.Today)
	case CategoryTolerance:
		where = append(where, `EXISTS (SELECT 1 FROM installment_payments p
			WHERE p.plan_id = pl.id AND p.status IN ('pending', 'overdue')
			  AND p.tolerance_until IS NOT NULL AND p.tolerance_until >= ?)`)
		args = append(args, q.Today)
	case CategoryUpcoming:
		where = append(where, `pl.status = 'active' AND EXISTS (SELECT 1 FROM installment_payments p
			WHERE p.plan_id = pl.id AND p.status = 'pending'
			  AND p.due_date >= ? AND p.due_date <= ?)`)
		args = append(args, q.Today, q.UpcomingUntil)
	default:
		return nil, errs.Validation(errs.CodeInvalidInput, "unknown plan category %q", q.Category)
	}

	if q.Status != "" {
		where = append(where, "pl.status = ?")
		args = append(args, string(q.Status))
	}
	if q.SubscriptionID != "" {
		where = append(where, "pl.subscription_id = ?")
		args = append(args, q.SubscriptionID)
	}
	if q.ClaimID != "" {
		where = append(where, "pl.claim_id = ?")
		args = append(args, q.ClaimID)
	}
	if q.SellerID != "" {
		where = append(where, "pl.seller_id = ?")
		args = append(args, q.SellerID)
	}
	if q.Search != "" {
		like := "%" + escapeLike(q.Search) + "%"
		where = append(where, `(pl.id LIKE ? ESCAPE '\' OR pl.subscription_id LIKE ? ESCAPE '\'
			OR pl.claim_id LIKE ? ESCAPE '\' OR pl.seller_id LIKE ? ESCAPE '\'
			OR EXISTS (SELECT 1 FROM installment_payments p
				WHERE p.plan_id = pl.id AND p.note LIKE ? ESCAPE '\'))`)
		args = append(args, like, like, like, like, like)
	}

	query := `SELECT ` + prefixColumns("pl.", planColumns) + ` FROM installment_plans pl`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY pl.created_at ASC, pl.id ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("list plans: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// PastDueCandidates returns pending payments of active plans that are due
// before today and not covered by tolerance.
func (s *Store) PastDueCandidates(ctx context.Context, today string) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("p.", paymentColumns)+`
		FROM installment_payments p
		JOIN installment_plans pl ON pl.id = p.plan_id
		WHERE pl.status = 'active'
		  AND p.status = 'pending'
		  AND p.due_date < ?
		  AND (p.tolerance_until IS NULL OR p.tolerance_until < ?)
		ORDER BY p.plan_id ASC, p.payment_number ASC
	`, today, today)
	if err != nil {
		return nil, fmt.Errorf("past due candidates: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("past due candidates: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func paymentArgs(p domain.Payment, now time.Time) []any {
	return []any{
		p.ID,
		p.PlanID,
		p.PaymentNumber,
		p.Amount,
		p.DueDate,
		string(p.Status),
		nullMillis(p.SubmittedAt),
		nullString(p.SubmittedBy),
		nullMillis(p.ReviewedAt),
		nullString(p.ReviewedBy),
		nullString(p.RejectionReason),
		nullString(p.ToleranceUntil),
		nullString(p.ToleranceReason),
		nullString(p.Note),
		toMillis(now),
	}
}

func scanPlan(r rowScanner) (domain.Plan, error) {
	var (
		p                        domain.Plan
		status                   string
		claimID, nextDue, reason sql.NullString
		createdAt, updatedAt     int64
	)
	err := r.Scan(
		&p.ID,
		&p.SubscriptionID,
		&claimID,
		&p.SellerID,
		&p.Currency,
		&p.TotalInstallments,
		&status,
		&nextDue,
		&reason,
		&p.CreatedBy,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return domain.Plan{}, err
	}
	p.Status = domain.PlanStatus(status)
	p.ClaimID = claimID.String
	p.NextDuePaymentID = nextDue.String
	p.StatusReason = reason.String
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

func scanPayment(r rowScanner) (domain.Payment, error) {
	var (
		p                                     domain.Payment
		status                                string
		submittedAt, reviewedAt               sql.NullInt64
		submittedBy, reviewedBy, rejection    sql.NullString
		toleranceUntil, toleranceReason, note sql.NullString
		updatedAt                             int64
	)
	err := r.Scan(
		&p.ID,
		&p.PlanID,
		&p.PaymentNumber,
		&p.Amount,
		&p.DueDate,
		&status,
		&submittedAt,
		&submittedBy,
		&reviewedAt,
		&reviewedBy,
		&rejection,
		&toleranceUntil,
		&toleranceReason,
		&note,
		&updatedAt,
	)
	if err != nil {
		return domain.Payment{}, err
	}
	p.Status = domain.PaymentStatus(status)
	p.SubmittedAt = timePtr(submittedAt)
	p.SubmittedBy = submittedBy.String
	p.ReviewedAt = timePtr(reviewedAt)
	p.ReviewedBy = reviewedBy.String
	p.RejectionReason = rejection.String
	p.ToleranceUntil = toleranceUntil.String
	p.ToleranceReason = toleranceReason.String
	p.Note = note.String
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}
