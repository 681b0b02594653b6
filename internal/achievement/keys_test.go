package achievement

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	threshold := decimal.RequireFromString("10000.00")

	assert.Equal(t, "jackpot:sub:sub-1", JackpotKey("sub-1"))
	assert.Equal(t, "revenue:team:10000:2026-03-10", TeamRevenueKey(threshold, "2026-03-10"))
	assert.Equal(t, "revenue:seller:s-1:10000:2026-03-10", SellerRevenueKey("s-1", threshold, "2026-03-10"))
	assert.Equal(t, "goal:g-1:team:2026-03-01..2026-03-31", GoalKey("g-1", "", "2026-03-01", "2026-03-31"))
	assert.Equal(t, "goal:g-2:s-1:2026-03-01..2026-03-31", GoalKey("g-2", "s-1", "2026-03-01", "2026-03-31"))
}

func TestDecodePayload_UnknownType(t *testing.T) {
	_, err := DecodePayload("mystery", []byte(`{}`))
	assert.Error(t, err)
}

func TestPayloadRoundTrip_KeepsExtra(t *testing.T) {
	in := GoalReachedPayload{
		GoalID:      "g-1",
		TargetUSD:   decimal.NewFromInt(20000),
		ProgressUSD: decimal.NewFromInt(20500),
		PeriodStart: "2026-03-01",
		PeriodEnd:   "2026-03-31",
		Extra:       map[string]string{"source": "progress_cache"},
	}
	data, err := EncodePayload(in)
	require.NoError(t, err)

	out, err := DecodePayload(TypeGoalReached, data)
	require.NoError(t, err)
	got := out.(GoalReachedPayload)
	assert.Equal(t, "progress_cache", got.Extra["source"])
	assert.True(t, got.ProgressUSD.Equal(in.ProgressUSD))
}
