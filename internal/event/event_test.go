package event

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RoundTripsKind(t *testing.T) {
	in := PaymentTransitioned{
		PlanID:        "plan-1",
		PaymentID:     "pay-1",
		PaymentNumber: 2,
		From:          "pending",
		To:            "submitted",
		Extra:         map[string]string{"channel": "bank"},
	}
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(KindPaymentTransitioned, data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecode_NullRevenue(t *testing.T) {
	data, err := Encode(LedgerEntryCreated{SubscriptionID: "sub-1"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"revenue_usd":null`)

	out, err := Decode(KindLedgerEntryCreated, data)
	require.NoError(t, err)
	assert.False(t, out.(LedgerEntryCreated).RevenueUSD.Valid)
}

func TestDecode_DecimalRevenue(t *testing.T) {
	data, err := Encode(JackpotHit{
		SubscriptionID: "sub-1",
		RevenueUSD:     decimal.RequireFromString("1000.01"),
		ThresholdUSD:   decimal.NewFromInt(1000),
	})
	require.NoError(t, err)

	out, err := Decode(KindJackpot, data)
	require.NoError(t, err)
	hit := out.(JackpotHit)
	assert.True(t, hit.RevenueUSD.Equal(decimal.RequireFromString("1000.01")))
}

func TestDecode_UnknownKind(t *testing.T) {
	_, err := Decode("mystery", []byte(`{}`))
	assert.Error(t, err)
}

func TestDecode_InvalidJSON(t *testing.T) {
	_, err := Decode(KindPlanCreated, []byte(`{`))
	assert.Error(t, err)
}

func TestEncode_NilPayload(t *testing.T) {
	_, err := Encode(nil)
	assert.Error(t, err)
}

func TestEvent_Kind(t *testing.T) {
	assert.Equal(t, KindJackpot, Event{Payload: JackpotHit{}}.Kind())
	assert.Equal(t, Kind(""), Event{}.Kind())
}
