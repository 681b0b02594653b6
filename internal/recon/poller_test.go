package recon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tally/internal/achievement"
	"github.com/roach88/tally/internal/checkpoint"
	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/errs"
	"github.com/roach88/tally/internal/event"
	"github.com/roach88/tally/internal/finance"
	"github.com/roach88/tally/internal/installment"
	"github.com/roach88/tally/internal/store"
	"github.com/roach88/tally/internal/telemetry"
	"github.com/roach88/tally/internal/testutil"
	"github.com/roach88/tally/internal/upstream"
)

var (
	t0    = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ctxBg = context.Background()

	discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

type fixture struct {
	poller      *Poller
	store       *store.Store
	source      *upstream.SQLiteSource
	checkpoints *checkpoint.SQLStore
	clock       *testutil.Clock
	metrics     *telemetry.Metrics
	plans       *installment.Service
}

func newFixture(t *testing.T, cfg Config, wrap ...func(upstream.Source) upstream.Source) *fixture {
	t.Helper()
	dir := t.TempDir()
	clock := testutil.NewClock(t0)

	st, err := store.Open(filepath.Join(dir, "tally.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	src, err := upstream.OpenSQLite(filepath.Join(dir, "upstream.db"), upstream.WithLogger(discardLogger))
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	var source upstream.Source = src
	for _, w := range wrap {
		source = w(source)
	}

	m := telemetry.New()
	cps := checkpoint.NewSQLStore(st.DB(), checkpoint.WithSQLClock(clock.Now))
	plans := installment.NewService(st,
		installment.WithClock(clock.Now),
		installment.WithLogger(discardLogger),
		installment.WithMetrics(m))

	p := NewPoller(Deps{
		Source:       source,
		Store:        st,
		Checkpoints:  cps,
		Calculator:   finance.NewCalculator(finance.DefaultConfig(), finance.WithLogger(discardLogger)),
		Achievements: achievement.NewEngine(st, achievement.WithLogger(discardLogger), achievement.WithMetrics(m)),
		Installments: plans,
	}, cfg, WithClock(clock.Now), WithLogger(discardLogger), WithMetrics(m))

	return &fixture{
		poller:      p,
		store:       st,
		source:      src,
		checkpoints: cps,
		clock:       clock,
		metrics:     m,
		plans:       plans,
	}
}

func (f *fixture) put(t *testing.T, subs ...domain.SubscriptionSnapshot) {
	t.Helper()
	for _, s := range subs {
		require.NoError(t, f.source.PutSubscription(ctxBg, s))
	}
}

func (f *fixture) events(t *testing.T, kind event.Kind) int {
	t.Helper()
	n, err := f.store.CountEvents(ctxBg, kind)
	require.NoError(t, err)
	return n
}

func (f *fixture) achievements(t *testing.T, typ achievement.Type) int {
	t.Helper()
	rows, err := f.store.ListAchievements(ctxBg, store.AchievementFilter{Type: string(typ)})
	require.NoError(t, err)
	return len(rows)
}

func (f *fixture) cursor(t *testing.T, key string) time.Time {
	t.Helper()
	c, ok, err := f.checkpoints.Load(ctxBg, key)
	require.NoError(t, err)
	require.True(t, ok, "checkpoint %s missing", key)
	return c.Timestamp
}

// small returns a subscription worth 100 USD, below the jackpot threshold.
func small(id string, createdAt time.Time) domain.SubscriptionSnapshot {
	s := testutil.Subscription(id, createdAt)
	s.Amount = decimal.NewNullDecimal(decimal.NewFromInt(4000))
	return s
}

func mainOnly() Config {
	cfg := DefaultConfig()
	cfg.Cadence = Cadence{}
	return cfg
}

func TestTick_LedgersNewSubscriptions(t *testing.T) {
	f := newFixture(t, mainOnly())
	jackpot := testutil.Subscription("sub-1", t0)
	plain := small("sub-2", t0.Add(time.Minute))
	f.put(t, jackpot, plain)

	res, err := f.poller.Tick(ctxBg)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Jackpots)
	assert.Equal(t, plain.UpdatedAt, res.Cursor)
	assert.Equal(t, plain.UpdatedAt, f.cursor(t, checkpoint.KeyMain))

	e, err := f.store.GetLedgerEntry(ctxBg, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LedgerPending, e.Status)
	assert.True(t, e.RevenueUSD.Decimal.Equal(decimal.NewFromInt(1000)))

	m, _, err := f.store.GetMetrics(ctxBg, "sub-2")
	require.NoError(t, err)
	assert.False(t, m.IsJackpot)
	assert.True(t, m.RevenueUSD.Decimal.Equal(decimal.NewFromInt(100)))

	assert.Equal(t, 2, f.events(t, event.KindLedgerEntryCreated))
	assert.Equal(t, 1, f.events(t, event.KindJackpot))
	assert.Equal(t, 1, f.achievements(t, achievement.TypeJackpot))
	assert.Equal(t, 2.0, promtest.ToFloat64(f.metrics.LedgerInserts.WithLabelValues("pending")))
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.AchievementsCreated.WithLabelValues("jackpot")))
}

func TestTick_Idempotent(t *testing.T) {
	f := newFixture(t, mainOnly())
	f.put(t, testutil.Subscription("sub-1", t0), small("sub-2", t0))

	_, err := f.poller.Tick(ctxBg)
	require.NoError(t, err)
	before := f.events(t, "")

	// Nothing sorts after the saved position, so the second tick is empty.
	res, err := f.poller.Tick(ctxBg)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Zero(t, res.Inserted)

	// A reset replays everything from the beginning.
	require.NoError(t, f.checkpoints.Delete(ctxBg, checkpoint.KeyMain))
	_, err = f.poller.Tick(ctxBg)
	require.NoError(t, err)

	n, err := f.store.CountLedgerEntries(ctxBg)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, before, f.events(t, ""))
	assert.Equal(t, 1, f.achievements(t, achievement.TypeJackpot))
}

func TestTick_JackpotAnnouncedOnce(t *testing.T) {
	f := newFixture(t, mainOnly())
	_, err := f.store.AppendEvent(ctxBg, event.Event{
		SubscriptionID: "sub-1",
		BusinessKey:    "jackpot:sub-1",
		Payload:        event.JackpotHit{SubscriptionID: "sub-1"},
	})
	require.NoError(t, err)
	f.put(t, testutil.Subscription("sub-1", t0))

	res, err := f.poller.Tick(ctxBg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Jackpots)
	assert.Equal(t, 1, f.events(t, event.KindJackpot))
	assert.Equal(t, 1, f.achievements(t, achievement.TypeJackpot))
}

func TestTick_DuplicateExcluded(t *testing.T) {
	f := newFixture(t, mainOnly())
	orig := testutil.Subscription("sub-1", t0)
	dup := testutil.Duplicate(orig, "sub-2", t0.Add(10*time.Minute))
	f.put(t, orig, dup)

	res, err := f.poller.Tick(ctxBg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Excluded)
	assert.Equal(t, 1, res.Jackpots, "excluded entries never hit the jackpot")

	e, err := f.store.GetLedgerEntry(ctxBg, "sub-2")
	require.NoError(t, err)
	assert.Equal(t, domain.LedgerExcluded, e.Status)
	assert.Equal(t, domain.ExclusionDuplicate, e.ExclusionReason)
	assert.Equal(t, "sub-1", e.DuplicateOf)

	trail, err := f.store.AuditTrail(ctxBg, "ledger_entry", "sub-2")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "ledger_excluded_duplicate", trail[0].Action)
	assert.Equal(t, "sub-1", trail[0].Details["duplicate_of"])

	assert.Equal(t, 1, f.events(t, event.KindLedgerEntryCreated))
	assert.Equal(t, 1, f.achievements(t, achievement.TypeJackpot))
}

func TestTick_TrialCampaignExempt(t *testing.T) {
	cfg := mainOnly()
	cfg.TrialCampaignID = "campaign-trial"
	f := newFixture(t, cfg)

	trial := testutil.Subscription("sub-1", t0)
	trial.CampaignID = "campaign-trial"
	f.put(t, trial)

	res, err := f.poller.Tick(ctxBg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Zero(t, res.Inserted)

	_, err = f.store.GetLedgerEntry(ctxBg, "sub-1")
	assert.True(t, errs.IsNotFound(err))
	_, _, err = f.store.GetMetrics(ctxBg, "sub-1")
	assert.NoError(t, err, "metrics are computed for every record")
}

func TestTick_UpdatedOldSubscriptionOnlyRefreshesMetrics(t *testing.T) {
	f := newFixture(t, mainOnly())
	f.put(t, small("sub-1", t0))
	_, err := f.poller.Tick(ctxBg)
	require.NoError(t, err)

	old := small("sub-old", t0.Add(-2*time.Hour))
	old.UpdatedAt = t0.Add(time.Hour)
	f.put(t, old)

	_, err = f.poller.Tick(ctxBg)
	require.NoError(t, err)
	_, err = f.store.GetLedgerEntry(ctxBg, "sub-old")
	assert.True(t, errs.IsNotFound(err))
	_, _, err = f.store.GetMetrics(ctxBg, "sub-old")
	assert.NoError(t, err)
	assert.Equal(t, old.UpdatedAt, f.cursor(t, checkpoint.KeyMain))
}

func TestTick_FallbackPaymentFact(t *testing.T) {
	f := newFixture(t, mainOnly())
	s := testutil.Subscription("sub-1", t0)
	s.Amount = decimal.NullDecimal{}
	s.Currency = ""
	f.put(t, s)
	require.NoError(t, f.source.PutPaymentFact(ctxBg, domain.PaymentFact{
		SubscriptionID: "sub-1",
		Amount:         decimal.NewFromInt(500),
		Currency:       "USD",
		RecordedAt:     t0,
	}))

	_, err := f.poller.Tick(ctxBg)
	require.NoError(t, err)
	m, _, err := f.store.GetMetrics(ctxBg, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, finance.SourcePaymentFact, m.CurrencySource)
	assert.True(t, m.RevenueUSD.Decimal.Equal(decimal.NewFromInt(500)))
}

// flakySource fails LatestPaymentFact while fail is set.
type flakySource struct {
	upstream.Source
	fail atomic.Bool
}

func (s *flakySource) LatestPaymentFact(ctx context.Context, id string) (*domain.PaymentFact, error) {
	if s.fail.Load() {
		return nil, errs.Infra(errs.CodeUpstream, errors.New("connection reset"))
	}
	return s.Source.LatestPaymentFact(ctx, id)
}

func TestTick_InfraErrorAdvancesOverPrefix(t *testing.T) {
	flaky := &flakySource{}
	f := newFixture(t, mainOnly(), func(src upstream.Source) upstream.Source {
		flaky.Source = src
		return flaky
	})

	needsFact := small("sub-b", t0.Add(time.Minute))
	needsFact.Amount = decimal.NullDecimal{}
	f.put(t, small("sub-a", t0), needsFact, small("sub-c", t0.Add(2*time.Minute)))

	flaky.fail.Store(true)
	res, err := f.poller.Tick(ctxBg)
	require.Error(t, err)
	assert.True(t, errs.IsInfra(err))
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, t0, f.cursor(t, checkpoint.KeyMain))
	_, err = f.store.GetLedgerEntry(ctxBg, "sub-c")
	assert.True(t, errs.IsNotFound(err), "records after the failure wait for the next tick")
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.TickErrors))

	flaky.fail.Store(false)
	_, err = f.poller.Tick(ctxBg)
	require.NoError(t, err)
	n, err := f.store.CountLedgerEntries(ctxBg)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, t0.Add(2*time.Minute), f.cursor(t, checkpoint.KeyMain))
}

// blockingSource holds every batch read until release is closed.
type blockingSource struct {
	upstream.Source
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newBlockingSource() *blockingSource {
	return &blockingSource{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (s *blockingSource) SubscriptionsUpdatedSince(ctx context.Context, since time.Time, afterID string, limit int) ([]domain.SubscriptionSnapshot, error) {
	s.calls.Add(1)
	select {
	case s.entered <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.Source.SubscriptionsUpdatedSince(ctx, since, afterID, limit)
}

func TestTick_DrainsRecordsSharingOneTimestamp(t *testing.T) {
	cfg := mainOnly()
	cfg.BatchSize = 2
	f := newFixture(t, cfg)
	f.put(t,
		small("sub-a", t0), small("sub-b", t0), small("sub-c", t0),
		small("sub-d", t0.Add(time.Hour)))

	res, err := f.poller.Tick(ctxBg)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, "sub-b", res.CursorID)

	res, err = f.poller.Tick(ctxBg)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, t0.Add(time.Hour), res.Cursor)
	assert.Equal(t, "sub-d", res.CursorID)

	res, err = f.poller.Tick(ctxBg)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)

	n, err := f.store.CountLedgerEntries(ctxBg)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestTick_BadUpstreamAmountDoesNotStall(t *testing.T) {
	f := newFixture(t, mainOnly())
	f.put(t, small("sub-good", t0.Add(time.Minute)))
	_, err := f.source.DB().ExecContext(ctxBg, `
		INSERT INTO upstream_subscriptions (id, user_id, campaign_id, amount, currency, status,
			created_at, updated_at)
		VALUES ('sub-bad', 'user-bad', 'campaign-spring', '12,50', 'TRY', 'paid', ?, ?)
	`, t0.UnixMilli(), t0.UnixMilli())
	require.NoError(t, err)

	res, err := f.poller.Tick(ctxBg)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, t0.Add(time.Minute), f.cursor(t, checkpoint.KeyMain))

	m, _, err := f.store.GetMetrics(ctxBg, "sub-bad")
	require.NoError(t, err)
	assert.False(t, m.RevenueUSD.Valid)
}

func TestTick_RejectsOverlap(t *testing.T) {
	blocking := newBlockingSource()
	f := newFixture(t, mainOnly(), func(src upstream.Source) upstream.Source {
		blocking.Source = src
		return blocking
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.poller.Tick(ctxBg)
		done <- err
	}()
	<-blocking.entered

	_, err := f.poller.Tick(ctxBg)
	assert.ErrorIs(t, err, ErrTickInProgress)

	close(blocking.release)
	require.NoError(t, <-done)

	_, err = f.poller.Tick(ctxBg)
	assert.NoError(t, err, "the guard is released after a tick")
}

func TestRun_DropsFiresWhileBusy(t *testing.T) {
	blocking := newBlockingSource()
	cfg := mainOnly()
	cfg.Interval = 5 * time.Millisecond
	f := newFixture(t, cfg, func(src upstream.Source) upstream.Source {
		blocking.Source = src
		return blocking
	})

	ctx, cancel := context.WithCancel(ctxBg)
	done := make(chan error, 1)
	go func() { done <- f.poller.Run(ctx) }()

	require.Eventually(t, func() bool {
		return promtest.ToFloat64(f.metrics.TicksDropped) >= 3
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), blocking.calls.Load(), "dropped fires are not queued")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRun_TicksRepeatedly(t *testing.T) {
	cfg := mainOnly()
	cfg.Interval = 5 * time.Millisecond
	f := newFixture(t, cfg)
	f.put(t, small("sub-1", t0))

	ctx, cancel := context.WithCancel(ctxBg)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.poller.Run(ctx) }()

	require.Eventually(t, func() bool {
		return promtest.ToFloat64(f.metrics.TicksRun) >= 3
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	n, err := f.store.CountLedgerEntries(ctxBg)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
