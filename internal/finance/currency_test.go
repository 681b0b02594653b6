package finance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCurrency(t *testing.T) {
	tests := []struct {
		raw  string
		want Currency
		ok   bool
	}{
		{"USD", USD, true},
		{" usd ", USD, true},
		{"$", USD, true},
		{"TL", TRY, true},
		{"tl", TRY, true},
		{"₺", TRY, true},
		{"ＴＬ", TRY, true},
		{"€", EUR, true},
		{"eur", EUR, true},
		{"£", GBP, true},
		{"JPY", Unsupported, false},
		{"", Unsupported, false},
	}
	for _, tt := range tests {
		got, ok := ParseCurrency(tt.raw)
		assert.Equal(t, tt.want, got, "ParseCurrency(%q)", tt.raw)
		assert.Equal(t, tt.ok, ok, "ParseCurrency(%q)", tt.raw)
	}
}

func TestRates_ToUSD(t *testing.T) {
	rates := DefaultRates()

	got := rates.ToUSD(decimal.NewFromInt(400), TRY)
	assert.True(t, got.Valid)
	assert.True(t, got.Decimal.Equal(decimal.NewFromInt(10)))

	assert.False(t, rates.ToUSD(decimal.NewFromInt(1), Unsupported).Valid)

	delete(rates, GBP)
	assert.False(t, rates.ToUSD(decimal.NewFromInt(1), GBP).Valid, "missing rate yields null")
}

func TestRates_ExactUSDKeepsFraction(t *testing.T) {
	rates := DefaultRates()

	exact, ok := rates.exactUSD(decimal.RequireFromString("39999.80"), TRY)
	require.True(t, ok)
	assert.True(t, exact.Equal(decimal.RequireFromString("999.995")), "got %s", exact)
	assert.True(t, rates.ToUSD(decimal.RequireFromString("39999.80"), TRY).Decimal.Equal(decimal.NewFromInt(1000)))

	_, ok = rates.exactUSD(decimal.NewFromInt(1), Unsupported)
	assert.False(t, ok)
}
