package finance

import (
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/tally/internal/domain"
)

// CurrencySource records where the revenue amount came from.
type CurrencySource string

const (
	SourceSubscription CurrencySource = "subscription"
	SourcePaymentFact  CurrencySource = "payment_fact"
	SourceNone         CurrencySource = "none"
)

// Input is everything the calculator needs about one subscription.
type Input struct {
	SubscriptionID    string
	Amount            decimal.NullDecimal
	Currency          string
	PlanLengthMonths  int
	SessionsPerWeek   int
	MinutesPerSession int
	Status            string
	IsFree            bool
	IsGift            bool

	// Fallback is the latest payment fact, consulted only when the
	// subscription has no amount or no currency.
	Fallback *domain.PaymentFact
}

// InputFromSnapshot builds calculator input from an upstream record.
func InputFromSnapshot(s domain.SubscriptionSnapshot, fallback *domain.PaymentFact) Input {
	return Input{
		SubscriptionID:    s.ID,
		Amount:            s.Amount,
		Currency:          s.Currency,
		PlanLengthMonths:  s.PlanLengthMonths,
		SessionsPerWeek:   s.SessionsPerWeek,
		MinutesPerSession: s.MinutesPerSession,
		Status:            s.Status,
		IsFree:            s.IsFree,
		IsGift:            s.IsGift,
		Fallback:          fallback,
	}
}

// NeedsFallback reports whether the subscription lacks amount or currency.
func NeedsFallback(s domain.SubscriptionSnapshot) bool {
	return !s.Amount.Valid || strings.TrimSpace(s.Currency) == ""
}

// Metrics is the derived financial view of one subscription.
type Metrics struct {
	RevenueUSD      decimal.NullDecimal `json:"revenue_usd"`
	CostUSD         decimal.Decimal     `json:"cost_usd"`
	MarginAmountUSD decimal.NullDecimal `json:"margin_amount_usd"`
	MarginPercent   decimal.NullDecimal `json:"margin_percent"`
	IsJackpot       bool                `json:"is_jackpot"`
	CurrencySource  CurrencySource      `json:"currency_source"`
}

// Tables holds the cost model lookup tables.
type Tables struct {
	LessonPrices       map[int]decimal.Decimal
	DefaultLessonPrice decimal.Decimal
	Multipliers        map[int]decimal.Decimal
	DefaultMultiplier  decimal.Decimal
}

// DefaultTables returns the built-in cost model.
func DefaultTables() Tables {
	return Tables{
		LessonPrices: map[int]decimal.Decimal{
			25: decimal.NewFromInt(5),
			40: decimal.NewFromInt(8),
			50: decimal.NewFromInt(10),
		},
		DefaultLessonPrice: decimal.NewFromInt(5),
		Multipliers: map[int]decimal.Decimal{
			1:  decimal.RequireFromString("0.6"),
			3:  decimal.RequireFromString("0.7"),
			6:  decimal.RequireFromString("0.8"),
			12: decimal.RequireFromString("0.9"),
		},
		DefaultMultiplier: decimal.RequireFromString("0.7"),
	}
}

func (t Tables) lessonPrice(minutes int) decimal.Decimal {
	if p, ok := t.LessonPrices[minutes]; ok {
		return p
	}
	return t.DefaultLessonPrice
}

func (t Tables) multiplier(months int) decimal.Decimal {
	if m, ok := t.Multipliers[months]; ok {
		return m
	}
	return t.DefaultMultiplier
}

// Config configures a Calculator.
type Config struct {
	Tables Tables
	Rates  Rates

	// JackpotThresholdLocal is the jackpot threshold expressed in
	// JackpotCurrency, e.g. 40000 TRY.
	JackpotThresholdLocal decimal.Decimal
	JackpotCurrency       Currency
}

// DefaultConfig returns the built-in calculator configuration.
func DefaultConfig() Config {
	return Config{
		Tables:                DefaultTables(),
		Rates:                 DefaultRates(),
		JackpotThresholdLocal: decimal.NewFromInt(40000),
		JackpotCurrency:       TRY,
	}
}

// Calculator computes subscription metrics. It never fails: missing or
// unsupported data degrades to null revenue with a warning log.
type Calculator struct {
	cfg    Config
	logger *slog.Logger
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithLogger sets the logger used for degradation warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Calculator) { c.logger = l }
}

// NewCalculator creates a calculator with the given configuration.
func NewCalculator(cfg Config, opts ...Option) *Calculator {
	c := &Calculator{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// JackpotThresholdUSD returns the local threshold converted at the
// configured rate, or null when the jackpot currency has no rate.
func (c *Calculator) JackpotThresholdUSD() decimal.NullDecimal {
	return c.cfg.Rates.ToUSD(c.cfg.JackpotThresholdLocal, c.cfg.JackpotCurrency)
}

// Compute derives revenue, cost, margin and the jackpot flag.
//
// cost = months * sessionsPerWeek * 4 * lessonPrice(minutes) * multiplier(months)
func (c *Calculator) Compute(in Input) Metrics {
	m := Metrics{CurrencySource: SourceNone}

	m.CostUSD = c.cost(in)

	amount, rawCurrency := in.Amount, in.Currency
	switch {
	case in.Amount.Valid && strings.TrimSpace(in.Currency) != "":
		m.CurrencySource = SourceSubscription
	case in.Fallback != nil:
		amount = decimal.NewNullDecimal(in.Fallback.Amount)
		rawCurrency = in.Fallback.Currency
		m.CurrencySource = SourcePaymentFact
	default:
		c.logger.Warn("subscription has no revenue data",
			"subscription_id", in.SubscriptionID)
		return m
	}

	cur, ok := ParseCurrency(rawCurrency)
	if !ok {
		c.logger.Warn("unsupported currency",
			"subscription_id", in.SubscriptionID,
			"currency", rawCurrency,
			"source", m.CurrencySource)
		return m
	}

	m.RevenueUSD = c.cfg.Rates.ToUSD(amount.Decimal, cur)
	if !m.RevenueUSD.Valid {
		c.logger.Warn("no exchange rate for currency",
			"subscription_id", in.SubscriptionID,
			"currency", cur)
		return m
	}

	revenue := m.RevenueUSD.Decimal
	margin := revenue.Sub(m.CostUSD)
	m.MarginAmountUSD = decimal.NewNullDecimal(margin)
	if !revenue.IsZero() {
		m.MarginPercent = decimal.NewNullDecimal(margin.DivRound(revenue, 4))
	}

	exact, _ := c.cfg.Rates.exactUSD(amount.Decimal, cur)
	m.IsJackpot = c.isJackpot(in, exact)
	return m
}

func (c *Calculator) cost(in Input) decimal.Decimal {
	months, sessions := in.PlanLengthMonths, in.SessionsPerWeek
	if months < 0 || sessions < 0 {
		c.logger.Warn("negative plan attributes, cost set to zero",
			"subscription_id", in.SubscriptionID,
			"plan_length_months", months,
			"sessions_per_week", sessions)
		return decimal.Zero
	}
	lessons := decimal.NewFromInt(int64(months * sessions * 4))
	return lessons.
		Mul(c.cfg.Tables.lessonPrice(in.MinutesPerSession)).
		Mul(c.cfg.Tables.multiplier(months)).
		Round(2)
}

// isJackpot compares unrounded USD values, so 999.995 does not round up
// into the threshold.
func (c *Calculator) isJackpot(in Input, revenue decimal.Decimal) bool {
	if in.IsFree || in.IsGift {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(in.Status)) {
	case "paid", "active":
	default:
		return false
	}
	threshold, ok := c.cfg.Rates.exactUSD(c.cfg.JackpotThresholdLocal, c.cfg.JackpotCurrency)
	if !ok {
		return false
	}
	return revenue.GreaterThanOrEqual(threshold)
}
