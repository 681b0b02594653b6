package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlanStatus is the status of an installment plan.
type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanFrozen    PlanStatus = "frozen"
	PlanCancelled PlanStatus = "cancelled"
)

// PaymentStatus is the status of a single installment payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSubmitted PaymentStatus = "submitted"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentOverdue   PaymentStatus = "overdue"
	PaymentWaived    PaymentStatus = "waived"
	PaymentRejected  PaymentStatus = "rejected"
)

// Open reports whether the payment still counts toward an active plan.
func (s PaymentStatus) Open() bool {
	switch s {
	case PaymentPending, PaymentSubmitted, PaymentOverdue:
		return true
	default:
		return false
	}
}

// Role is the capacity an actor operates in.
type Role string

const (
	RoleSeller  Role = "seller"
	RoleFinance Role = "finance"
	RoleAdmin   Role = "admin"
	RoleSystem  Role = "system"
)

// Actor identifies who performs an operation.
type Actor struct {
	ID   string
	Role Role
}

// SystemActor is the actor recorded for poller-driven transitions.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

// Plan is an installment plan attached to one subscription.
type Plan struct {
	ID                string
	SubscriptionID    string
	ClaimID           string
	SellerID          string
	Currency          string
	TotalInstallments int
	Status            PlanStatus
	NextDuePaymentID  string
	StatusReason      string
	CreatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Payment is one installment of a plan.
type Payment struct {
	ID              string
	PlanID          string
	PaymentNumber   int
	Amount          decimal.Decimal
	DueDate         string
	Status          PaymentStatus
	SubmittedAt     *time.Time
	SubmittedBy     string
	ReviewedAt      *time.Time
	ReviewedBy      string
	RejectionReason string
	ToleranceUntil  string
	ToleranceReason string
	Note            string
	UpdatedAt       time.Time
}

// InTolerance reports whether a tolerance grant covers today.
func (p Payment) InTolerance(today string) bool {
	return p.ToleranceUntil != "" && p.ToleranceUntil >= today
}

// PastDue reports whether the payment is open, pending and due before
// today with no tolerance covering today.
func (p Payment) PastDue(today string) bool {
	return p.Status == PaymentPending && p.DueDate < today && !p.InTolerance(today)
}
