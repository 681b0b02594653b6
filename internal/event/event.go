// Package event defines the domain events appended to the event log.
//
// Each event kind has one payload struct. Payloads carry an Extra map for
// forward-compatible fields; decoding switches on the stored kind so an
// unknown kind is an error rather than a silently empty payload.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies an event type. It is stored in the events.type column.
type Kind string

const (
	KindLedgerEntryCreated  Kind = "ledger_entry_created"
	KindJackpot             Kind = "jackpot"
	KindAchievementCreated  Kind = "achievement_created"
	KindPlanCreated         Kind = "installment_plan_created"
	KindPaymentTransitioned Kind = "installment_payment_transitioned"
	KindPlanStatusChanged   Kind = "installment_plan_status_changed"
	KindToleranceGranted    Kind = "installment_tolerance_granted"
)

// Payload is implemented by every event payload.
type Payload interface {
	Kind() Kind
}

// Event is one row of the append-only event log.
type Event struct {
	ID             int64
	SubscriptionID string
	Actor          string
	BusinessKey    string
	Payload        Payload
	CreatedAt      time.Time
}

// Kind returns the payload kind.
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// LedgerEntryCreated is emitted when a new ledger row is inserted.
type LedgerEntryCreated struct {
	SubscriptionID string              `json:"subscription_id"`
	UserID         string              `json:"user_id"`
	CampaignID     string              `json:"campaign_id"`
	RevenueUSD     decimal.NullDecimal `json:"revenue_usd"`
	Extra          map[string]string   `json:"extra,omitempty"`
}

func (LedgerEntryCreated) Kind() Kind { return KindLedgerEntryCreated }

// JackpotHit is emitted once for a newly ledgered jackpot subscription.
type JackpotHit struct {
	SubscriptionID string            `json:"subscription_id"`
	RevenueUSD     decimal.Decimal   `json:"revenue_usd"`
	ThresholdUSD   decimal.Decimal   `json:"threshold_usd"`
	Extra          map[string]string `json:"extra,omitempty"`
}

func (JackpotHit) Kind() Kind { return KindJackpot }

// AchievementCreated is emitted only by the branch that created the row.
type AchievementCreated struct {
	AchievementID string            `json:"achievement_id"`
	Type          string            `json:"type"`
	SellerID      string            `json:"seller_id,omitempty"`
	Title         string            `json:"title"`
	DedupeKey     string            `json:"dedupe_key,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

func (AchievementCreated) Kind() Kind { return KindAchievementCreated }

// PlanCreated is emitted when an installment plan is created.
type PlanCreated struct {
	PlanID            string            `json:"plan_id"`
	SubscriptionID    string            `json:"subscription_id"`
	SellerID          string            `json:"seller_id"`
	TotalInstallments int               `json:"total_installments"`
	Currency          string            `json:"currency"`
	Extra             map[string]string `json:"extra,omitempty"`
}

func (PlanCreated) Kind() Kind { return KindPlanCreated }

// PaymentTransitioned is emitted for every payment status change.
type PaymentTransitioned struct {
	PlanID        string            `json:"plan_id"`
	PaymentID     string            `json:"payment_id"`
	PaymentNumber int               `json:"payment_number"`
	From          string            `json:"from"`
	To            string            `json:"to"`
	Reason        string            `json:"reason,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

func (PaymentTransitioned) Kind() Kind { return KindPaymentTransitioned }

// PlanStatusChanged is emitted when a plan's status changes, whether by
// an explicit freeze/unfreeze/cancel or by the rollup.
type PlanStatusChanged struct {
	PlanID           string            `json:"plan_id"`
	From             string            `json:"from"`
	To               string            `json:"to"`
	Reason           string            `json:"reason,omitempty"`
	NextDuePaymentID string            `json:"next_due_payment_id,omitempty"`
	Extra            map[string]string `json:"extra,omitempty"`
}

func (PlanStatusChanged) Kind() Kind { return KindPlanStatusChanged }

// ToleranceGranted is emitted when a payment's tolerance window is set.
type ToleranceGranted struct {
	PlanID    string            `json:"plan_id"`
	PaymentID string            `json:"payment_id"`
	Until     string            `json:"until"`
	Reason    string            `json:"reason"`
	Extra     map[string]string `json:"extra,omitempty"`
}

func (ToleranceGranted) Kind() Kind { return KindToleranceGranted }

// Encode serializes a payload for storage.
func Encode(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("encode event: nil payload")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", p.Kind(), err)
	}
	return data, nil
}

// Decode deserializes a stored payload of the given kind.
func Decode(kind Kind, data []byte) (Payload, error) {
	switch kind {
	case KindLedgerEntryCreated:
		return decode[LedgerEntryCreated](kind, data)
	case KindJackpot:
		return decode[JackpotHit](kind, data)
	case KindAchievementCreated:
		return decode[AchievementCreated](kind, data)
	case KindPlanCreated:
		return decode[PlanCreated](kind, data)
	case KindPaymentTransitioned:
		return decode[PaymentTransitioned](kind, data)
	case KindPlanStatusChanged:
		return decode[PlanStatusChanged](kind, data)
	case KindToleranceGranted:
		return decode[ToleranceGranted](kind, data)
	default:
		return nil, fmt.Errorf("decode event: unknown kind %q", kind)
	}
}

func decode[T Payload](kind Kind, data []byte) (Payload, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", kind, err)
	}
	return v, nil
}
