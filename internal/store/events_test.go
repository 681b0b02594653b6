package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/event"
)

func TestAppendEvent_AndTail(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id1, err := s.AppendEvent(ctx, event.Event{
		SubscriptionID: "sub-1",
		BusinessKey:    "ledger:sub-1",
		Payload:        event.LedgerEntryCreated{SubscriptionID: "sub-1", UserID: "u-1"},
	})
	require.NoError(t, err)

	var id2 int64
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		var err error
		id2, err = tx.AppendEvent(ctx, event.Event{
			Actor:   "finance-1",
			Payload: event.PlanStatusChanged{PlanID: "plan-1", From: "active", To: "frozen"},
		})
		return err
	}))
	assert.Greater(t, id2, id1)

	all, err := s.EventsAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, event.KindLedgerEntryCreated, all[0].Kind())
	assert.Equal(t, "sub-1", all[0].SubscriptionID)
	assert.Equal(t, testNow, all[0].CreatedAt)
	assert.Equal(t, "finance-1", all[1].Actor)
	changed, ok := all[1].Payload.(event.PlanStatusChanged)
	require.True(t, ok)
	assert.Equal(t, "frozen", changed.To)

	tail, err := s.EventsAfter(ctx, id1, 10)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, id2, tail[0].ID)
}

func TestFindEventByBusinessKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, found, err := s.FindEventByBusinessKey(ctx, "jackpot:sub-1")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.AppendEvent(ctx, event.Event{
		BusinessKey: "jackpot:sub-1",
		Payload:     event.JackpotHit{SubscriptionID: "sub-1"},
	})
	require.NoError(t, err)

	ev, found, err := s.FindEventByBusinessKey(ctx, "jackpot:sub-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, event.KindJackpot, ev.Kind())

	n, err := s.CountEvents(ctx, event.KindJackpot)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTxFindEventByBusinessKey_SeesOwnWrites(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		_, found, err := tx.FindEventByBusinessKey(ctx, "jackpot:sub-1")
		require.NoError(t, err)
		assert.False(t, found)

		_, err = tx.AppendEvent(ctx, event.Event{
			BusinessKey: "jackpot:sub-1",
			Payload:     event.JackpotHit{SubscriptionID: "sub-1"},
		})
		require.NoError(t, err)

		ev, found, err := tx.FindEventByBusinessKey(ctx, "jackpot:sub-1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "sub-1", ev.Payload.(event.JackpotHit).SubscriptionID)
		return nil
	}))
}

func TestAuditTrail(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		return tx.AppendAudit(ctx, domain.AuditRecord{
			Action:      "ledger.excluded",
			SubjectType: "subscription",
			SubjectID:   "sub-2",
			Actor:       "system",
			Details:     map[string]string{"duplicate_of": "sub-1"},
		})
	}))

	trail, err := s.AuditTrail(ctx, "subscription", "sub-2")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "sub-1", trail[0].Details["duplicate_of"])
	assert.Equal(t, testNow, trail[0].CreatedAt)
}
