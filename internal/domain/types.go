// Package domain holds the record types shared by the store, the
// reconciliation poller and the installment state machine.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionSnapshot is a read-only upstream subscription record.
type SubscriptionSnapshot struct {
	ID                 string
	UserID             string
	CampaignID         string
	Amount             decimal.NullDecimal
	Currency           string
	PlanLengthMonths   int
	SessionsPerWeek    int
	MinutesPerSession  int
	Status             string
	IsFree             bool
	IsGift             bool
	ExternalPaymentIDs []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// PaymentFact is a read-only upstream payment record, used as the
// metrics fallback when a subscription carries no amount or currency.
type PaymentFact struct {
	SubscriptionID string
	Amount         decimal.Decimal
	Currency       string
	RecordedAt     time.Time
}

// LeadAssignment is a read-only upstream lead routing record.
type LeadAssignment struct {
	LeadID     string
	SellerID   string
	AssignedAt time.Time
}

// LedgerStatus is the lifecycle status of a ledger entry.
type LedgerStatus string

const (
	LedgerPending  LedgerStatus = "pending"
	LedgerClaimed  LedgerStatus = "claimed"
	LedgerExcluded LedgerStatus = "excluded"
	LedgerExpired  LedgerStatus = "expired"
	LedgerRefunded LedgerStatus = "refunded"
)

// ExclusionDuplicate marks an entry excluded by fingerprint matching.
const ExclusionDuplicate = "duplicate"

// LedgerEntry is the curated, deduplicated record of one subscription.
type LedgerEntry struct {
	ID                    int64
	SubscriptionID        string
	UserID                string
	CampaignID            string
	Fingerprint           string
	Status                LedgerStatus
	ExclusionReason       string
	DuplicateOf           string
	RevenueUSD            decimal.NullDecimal
	ClaimedBy             string
	ClaimedAt             *time.Time
	SubscriptionCreatedAt time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// AuditRecord is one row of the audit trail.
type AuditRecord struct {
	ID          int64
	Action      string
	SubjectType string
	SubjectID   string
	Actor       string
	Details     map[string]string
	CreatedAt   time.Time
}

// Goal is a revenue target for a seller, or for the whole team when
// SellerID is empty.
type Goal struct {
	ID          string
	SellerID    string
	Title       string
	TargetUSD   decimal.Decimal
	PeriodStart string
	PeriodEnd   string
	CreatedAt   time.Time
}

// GoalProgress is the cached progress of a goal.
type GoalProgress struct {
	GoalID      string
	ProgressUSD decimal.Decimal
	Ratio       decimal.Decimal
	ComputedAt  time.Time
}

// LeadDailyStat is the number of leads assigned to a seller on a day.
type LeadDailyStat struct {
	Day           string
	SellerID      string
	AssignedCount int
	UpdatedAt     time.Time
}

// DateLayout is the civil date format used for due dates, tolerance
// dates and day buckets.
const DateLayout = "2006-01-02"

// Day returns the civil date of t in loc.
func Day(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// StartOfDay returns midnight of t's civil date in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
