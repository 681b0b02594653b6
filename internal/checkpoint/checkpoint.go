// Package checkpoint persists named cursors for the reconciliation poller.
//
// A cursor is a timestamp plus an optional record id, stored as the JSON
// document {"timestamp": "<RFC 3339 nano, UTC>", "id": "<last id>"}. The id
// breaks ties between records sharing a timestamp. Cursors are monotonic
// per key: saving a position before the stored one is ignored, so a stale
// writer can never move a job backwards. Reset uses Delete.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Well-known cursor keys.
const (
	KeyMain              = "poller:main"
	KeyOverdueSweep      = "poller:overdue_sweep"
	KeyLeadSync          = "poller:lead_sync"
	KeyGoalProgress      = "poller:goal_progress"
	KeyRevenueMilestones = "poller:revenue_milestones"
)

// Keys lists every cursor key the poller owns, main cursor first.
var Keys = []string{
	KeyMain,
	KeyOverdueSweep,
	KeyLeadSync,
	KeyGoalProgress,
	KeyRevenueMilestones,
}

// Cursor is the value of a checkpoint. ID is the last record consumed at
// Timestamp; empty means nothing at Timestamp has been consumed yet.
type Cursor struct {
	Timestamp time.Time
	ID        string
}

// Before reports whether c sorts before o in (timestamp, id) order.
func (c Cursor) Before(o Cursor) bool {
	if !c.Timestamp.Equal(o.Timestamp) {
		return c.Timestamp.Before(o.Timestamp)
	}
	return c.ID < o.ID
}

// Store is a durable key to cursor map with optional expiry.
type Store interface {
	// Load returns the cursor for key. The bool is false when the key
	// has never been saved or has expired.
	Load(ctx context.Context, key string) (Cursor, bool, error)

	// Save stores c under key unless the stored cursor is newer. A zero
	// ttl means the cursor never expires.
	Save(ctx context.Context, key string, c Cursor, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

type wireCursor struct {
	Timestamp string `json:"timestamp"`
	ID        string `json:"id,omitempty"`
}

// Encode renders c as its stored JSON document.
func Encode(c Cursor) ([]byte, error) {
	if c.Timestamp.IsZero() {
		return nil, fmt.Errorf("encode checkpoint: zero timestamp")
	}
	return json.Marshal(wireCursor{
		Timestamp: c.Timestamp.UTC().Format(time.RFC3339Nano),
		ID:        c.ID,
	})
}

// Decode parses a stored JSON document.
func Decode(data []byte) (Cursor, error) {
	var w wireCursor
	if err := json.Unmarshal(data, &w); err != nil {
		return Cursor{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return Cursor{Timestamp: ts.UTC(), ID: w.ID}, nil
}
