package testutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/tally/internal/domain"
)

// Subscription returns a paid 6 month subscription worth 40000 TRY,
// created and updated at createdAt. Tests override what they exercise.
func Subscription(id string, createdAt time.Time) domain.SubscriptionSnapshot {
	return domain.SubscriptionSnapshot{
		ID:                 id,
		UserID:             "user-" + id,
		CampaignID:         "campaign-spring",
		Amount:             decimal.NewNullDecimal(decimal.NewFromInt(40000)),
		Currency:           "TRY",
		PlanLengthMonths:   6,
		SessionsPerWeek:    3,
		MinutesPerSession:  25,
		Status:             "paid",
		ExternalPaymentIDs: []string{"pay-" + id},
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}
}

// Duplicate returns a copy of s under a new id, keeping every field the
// fingerprint covers.
func Duplicate(s domain.SubscriptionSnapshot, id string, createdAt time.Time) domain.SubscriptionSnapshot {
	d := s
	d.ID = id
	d.ExternalPaymentIDs = append([]string(nil), s.ExternalPaymentIDs...)
	d.CreatedAt = createdAt
	d.UpdatedAt = createdAt
	return d
}
