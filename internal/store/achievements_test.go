package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAchievement_DedupeKeyConflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	row := AchievementRow{
		ID:        "ach-1",
		Type:      "jackpot",
		Title:     "Jackpot",
		Payload:   []byte(`{"subscription_id":"sub-1"}`),
		DedupeKey: "jackpot:sub:sub-1",
	}

	var first, second bool
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		var err error
		first, err = tx.InsertAchievement(ctx, row)
		return err
	}))
	row.ID = "ach-2"
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		var err error
		second, err = tx.InsertAchievement(ctx, row)
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)

	var (
		got   AchievementRow
		found bool
	)
	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		var err error
		got, found, err = tx.FindAchievementByKey(ctx, "jackpot:sub:sub-1")
		return err
	}))
	require.True(t, found)
	assert.Equal(t, "ach-1", got.ID, "first writer wins")
	assert.JSONEq(t, `{"subscription_id":"sub-1"}`, string(got.Payload))
}

func TestInsertAchievement_NullKeysDoNotConflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *Tx) error {
		for _, id := range []string{"a", "b"} {
			ok, err := tx.InsertAchievement(ctx, AchievementRow{ID: id, Type: "t", Title: "x", Payload: []byte(`{}`), SellerID: "seller-1"})
			if err != nil {
				return err
			}
			assert.True(t, ok)
		}
		return nil
	}))

	rows, err := s.ListAchievements(ctx, AchievementFilter{SellerID: "seller-1"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
