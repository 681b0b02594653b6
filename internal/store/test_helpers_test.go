package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/tally/internal/domain"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testLedgerEntry(subID, fingerprint string, createdAt time.Time) domain.LedgerEntry {
	return domain.LedgerEntry{
		SubscriptionID:        subID,
		UserID:                "u-1",
		CampaignID:            "c-1",
		Fingerprint:           fingerprint,
		Status:                domain.LedgerPending,
		RevenueUSD:            decimal.NewNullDecimal(decimal.NewFromInt(100)),
		SubscriptionCreatedAt: createdAt,
	}
}
