// Package upstream reads subscription, payment and lead records from the
// externally owned sales system. Nothing in tally writes to it; the SQLite
// mirror's Put methods exist to load fixtures.
package upstream

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/tally/internal/domain"
)

// Source is the read-only upstream contract.
type Source interface {
	// SubscriptionsUpdatedSince returns up to limit subscriptions ordered
	// by (updated_at, id) that sort after (since, afterID). An empty
	// afterID includes every subscription updated at since.
	//
	// A row whose amount or payment ids cannot be parsed is returned
	// with those fields empty and a warning logged; it never fails the
	// batch.
	SubscriptionsUpdatedSince(ctx context.Context, since time.Time, afterID string, limit int) ([]domain.SubscriptionSnapshot, error)

	// LatestPaymentFact returns the most recent payment fact of a
	// subscription, or nil when it has none.
	LatestPaymentFact(ctx context.Context, subscriptionID string) (*domain.PaymentFact, error)

	// LeadAssignmentCounts returns the number of leads assigned to each
	// seller in [from, to).
	LeadAssignmentCounts(ctx context.Context, from, to time.Time) (map[string]int, error)

	Close() error
}

// Upstream table names, shared by the mirror and the Postgres reader.
const (
	TableSubscriptions   = "upstream_subscriptions"
	TablePaymentFacts    = "upstream_payment_facts"
	TableLeadAssignments = "upstream_lead_assignments"
)

// Option configures a source.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger for skipped fields. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// parseAmount returns a null amount, logging why, when raw is not a
// decimal.
func parseAmount(logger *slog.Logger, subscriptionID, raw string) decimal.NullDecimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		logger.Warn("unparseable upstream amount, revenue unknown",
			"subscription_id", subscriptionID,
			"amount", raw)
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func cleanPaymentIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
