package finance

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Currency is a supported ISO 4217 currency code.
type Currency string

const (
	USD Currency = "USD"
	TRY Currency = "TRY"
	EUR Currency = "EUR"
	GBP Currency = "GBP"

	// Unsupported is returned for any code outside the table above.
	Unsupported Currency = ""
)

var aliases = map[string]Currency{
	"USD": USD, "$": USD, "US$": USD, "DOLLAR": USD,
	"TRY": TRY, "TL": TRY, "₺": TRY, "YTL": TRY, "LIRA": TRY,
	"EUR": EUR, "€": EUR, "EURO": EUR,
	"GBP": GBP, "£": GBP, "POUND": GBP,
}

// ParseCurrency normalizes a raw upstream currency string. Full-width and
// compatibility forms are folded with NFKC before lookup, so "ＴＬ" and
// "tl" both resolve to TRY. The second result is false for unsupported
// or empty input.
func ParseCurrency(raw string) (Currency, bool) {
	key := strings.ToUpper(strings.TrimSpace(norm.NFKC.String(raw)))
	if key == "" {
		return Unsupported, false
	}
	c, ok := aliases[key]
	if !ok {
		return Unsupported, false
	}
	return c, true
}

// Rates maps a currency to units of that currency per one USD.
type Rates map[Currency]decimal.Decimal

// DefaultRates returns the built-in rate table.
func DefaultRates() Rates {
	return Rates{
		USD: decimal.NewFromInt(1),
		TRY: decimal.NewFromInt(40),
		EUR: decimal.RequireFromString("0.92"),
		GBP: decimal.RequireFromString("0.79"),
	}
}

// ToUSD converts amount in c to USD, rounded to cents. The result is null
// when c is unsupported or has no positive rate.
func (r Rates) ToUSD(amount decimal.Decimal, c Currency) decimal.NullDecimal {
	rate, ok := r.rate(c)
	if !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(amount.DivRound(rate, 2))
}

// exactUSD converts amount in c to USD at full division precision.
func (r Rates) exactUSD(amount decimal.Decimal, c Currency) (decimal.Decimal, bool) {
	rate, ok := r.rate(c)
	if !ok {
		return decimal.Decimal{}, false
	}
	return amount.Div(rate), true
}

func (r Rates) rate(c Currency) (decimal.Decimal, bool) {
	switch c {
	case USD, TRY, EUR, GBP:
		rate, ok := r[c]
		if !ok || !rate.IsPositive() {
			return decimal.Decimal{}, false
		}
		return rate, true
	default:
		return decimal.Decimal{}, false
	}
}
