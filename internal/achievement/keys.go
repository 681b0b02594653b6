package achievement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// JackpotKey is the dedupe key of the jackpot achievement of a
// subscription.
func JackpotKey(subscriptionID string) string {
	return "jackpot:sub:" + subscriptionID
}

// TeamRevenueKey is the dedupe key of a team revenue milestone on day.
func TeamRevenueKey(threshold decimal.Decimal, day string) string {
	return fmt.Sprintf("revenue:team:%s:%s", threshold.String(), day)
}

// SellerRevenueKey is the dedupe key of a seller revenue milestone on day.
func SellerRevenueKey(sellerID string, threshold decimal.Decimal, day string) string {
	return fmt.Sprintf("revenue:seller:%s:%s:%s", sellerID, threshold.String(), day)
}

// GoalKey is the dedupe key of a reached goal for its period. Team goals
// have an empty seller id.
func GoalKey(goalID, sellerID, periodStart, periodEnd string) string {
	scope := ScopeTeam
	if sellerID != "" {
		scope = sellerID
	}
	return fmt.Sprintf("goal:%s:%s:%s..%s", goalID, scope, periodStart, periodEnd)
}
