package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/tally/internal/errs"
)

// SQLStore keeps cursors in the checkpoints table of the tally database.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithSQLClock sets the clock used for expiry checks.
func WithSQLClock(now func() time.Time) SQLOption {
	return func(s *SQLStore) { s.now = now }
}

// NewSQLStore returns a store over db. The checkpoints table must exist;
// store.Open migrates it.
func NewSQLStore(db *sql.DB, opts ...SQLOption) *SQLStore {
	s := &SQLStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, key string) (Cursor, bool, error) {
	var (
		value     string
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM checkpoints WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Cursor{}, false, nil
	}
	if err != nil {
		return Cursor{}, false, errs.Infra(errs.CodeCheckpoint, fmt.Errorf("load checkpoint %s: %w", key, err))
	}
	if expiresAt.Valid && expiresAt.Int64 <= s.now().UnixMilli() {
		return Cursor{}, false, nil
	}
	c, err := Decode([]byte(value))
	if err != nil {
		return Cursor{}, false, errs.Infra(errs.CodeCheckpoint, fmt.Errorf("load checkpoint %s: %w", key, err))
	}
	return c, true, nil
}

// Save implements Store. The upsert only replaces the row when the new
// (timestamp, id) position is not older or the stored row has expired.
func (s *SQLStore) Save(ctx context.Context, key string, c Cursor, ttl time.Duration) error {
	data, err := Encode(c)
	if err != nil {
		return errs.Validation(errs.CodeInvalidInput, "checkpoint %s: %v", key, err)
	}
	now := s.now()
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: now.Add(ttl).UnixMilli(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (key, value, ts_unix_nano, cursor_id, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			ts_unix_nano = excluded.ts_unix_nano,
			cursor_id = excluded.cursor_id,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
		WHERE (excluded.ts_unix_nano, excluded.cursor_id) >= (checkpoints.ts_unix_nano, checkpoints.cursor_id)
		   OR (checkpoints.expires_at IS NOT NULL AND checkpoints.expires_at <= ?)
	`, key, string(data), c.Timestamp.UnixNano(), c.ID, expiresAt, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return errs.Infra(errs.CodeCheckpoint, fmt.Errorf("save checkpoint %s: %w", key, err))
	}
	return nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE key = ?`, key); err != nil {
		return errs.Infra(errs.CodeCheckpoint, fmt.Errorf("delete checkpoint %s: %w", key, err))
	}
	return nil
}
