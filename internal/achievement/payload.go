package achievement

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Type identifies an achievement kind.
type Type string

const (
	TypeJackpot          Type = "jackpot"
	TypeRevenueMilestone Type = "revenue_milestone"
	TypeGoalReached      Type = "goal_reached"
)

// Payload is implemented by the typed payload of each achievement kind.
type Payload interface {
	AchievementType() Type
}

// JackpotPayload describes a single subscription above the jackpot
// threshold.
type JackpotPayload struct {
	SubscriptionID string            `json:"subscription_id"`
	RevenueUSD     decimal.Decimal   `json:"revenue_usd"`
	ThresholdUSD   decimal.Decimal   `json:"threshold_usd"`
	Extra          map[string]string `json:"extra,omitempty"`
}

func (JackpotPayload) AchievementType() Type { return TypeJackpot }

// Milestone scopes.
const (
	ScopeTeam   = "team"
	ScopeSeller = "seller"
)

// RevenueMilestonePayload describes a daily revenue threshold crossed by
// the team or by one seller.
type RevenueMilestonePayload struct {
	Scope        string            `json:"scope"`
	SellerID     string            `json:"seller_id,omitempty"`
	Day          string            `json:"day"`
	ThresholdUSD decimal.Decimal   `json:"threshold_usd"`
	RevenueUSD   decimal.Decimal   `json:"revenue_usd"`
	Extra        map[string]string `json:"extra,omitempty"`
}

func (RevenueMilestonePayload) AchievementType() Type { return TypeRevenueMilestone }

// GoalReachedPayload describes a sales goal whose progress hit its target.
type GoalReachedPayload struct {
	GoalID      string            `json:"goal_id"`
	SellerID    string            `json:"seller_id,omitempty"`
	TargetUSD   decimal.Decimal   `json:"target_usd"`
	ProgressUSD decimal.Decimal   `json:"progress_usd"`
	PeriodStart string            `json:"period_start"`
	PeriodEnd   string            `json:"period_end"`
	Extra       map[string]string `json:"extra,omitempty"`
}

func (GoalReachedPayload) AchievementType() Type { return TypeGoalReached }

// EncodePayload serializes a payload for storage.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("encode achievement: nil payload")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode achievement %s: %w", p.AchievementType(), err)
	}
	return data, nil
}

// DecodePayload deserializes a stored payload of the given type.
func DecodePayload(t Type, data []byte) (Payload, error) {
	switch t {
	case TypeJackpot:
		return decode[JackpotPayload](t, data)
	case TypeRevenueMilestone:
		return decode[RevenueMilestonePayload](t, data)
	case TypeGoalReached:
		return decode[GoalReachedPayload](t, data)
	default:
		return nil, fmt.Errorf("decode achievement: unknown type %q", t)
	}
}

func decode[T Payload](t Type, data []byte) (Payload, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode achievement %s: %w", t, err)
	}
	return v, nil
}
