package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AchievementRow is the stored form of an achievement. Payload is the
// JSON encoding of the typed payload owned by the achievement package.
type AchievementRow struct {
	ID        string
	Type      string
	SellerID  string
	Title     string
	Payload   []byte
	DedupeKey string
	CreatedAt time.Time
}

const achievementColumns = `id, type, seller_id, title, payload, dedupe_key, created_at`

// FindAchievementByKey looks up an achievement by dedupe key.
func (t *Tx) FindAchievementByKey(ctx context.Context, key string) (AchievementRow, bool, error) {
	return t.findAchievement(ctx, "dedupe_key", key)
}

// FindAchievementByID looks up an achievement by id.
func (t *Tx) FindAchievementByID(ctx context.Context, id string) (AchievementRow, bool, error) {
	return t.findAchievement(ctx, "id", id)
}

func (t *Tx) findAchievement(ctx context.Context, column, value string) (AchievementRow, bool, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+achievementColumns+` FROM achievements WHERE `+column+` = ?`, value)
	a, err := scanAchievement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AchievementRow{}, false, nil
	}
	if err != nil {
		return AchievementRow{}, false, fmt.Errorf("find achievement: %w", err)
	}
	return a, true, nil
}

// InsertAchievement inserts an achievement. A conflicting id or dedupe key
// leaves the existing row untouched and reports inserted=false. An empty
// dedupe key is stored as NULL and never conflicts.
func (t *Tx) InsertAchievement(ctx context.Context, a AchievementRow) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO achievements (id, type, seller_id, title, payload, dedupe_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		a.ID,
		a.Type,
		nullString(a.SellerID),
		a.Title,
		string(a.Payload),
		nullString(a.DedupeKey),
		toMillis(stampOr(a.CreatedAt, t.now)),
	)
	if err != nil {
		return false, fmt.Errorf("insert achievement: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert achievement: rows affected: %w", err)
	}
	return n > 0, nil
}

// AchievementFilter narrows ListAchievements.
type AchievementFilter struct {
	SellerID string
	Type     string
	Limit    int
}

// ListAchievements returns achievements newest first.
func (s *Store) ListAchievements(ctx context.Context, f AchievementFilter) ([]AchievementRow, error) {
	var where []string
	var args []any
	if f.SellerID != "" {
		where = append(where, "seller_id = ?")
		args = append(args, f.SellerID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	query := `SELECT ` + achievementColumns + ` FROM achievements`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	defer rows.Close()

	var out []AchievementRow
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			return nil, fmt.Errorf("list achievements: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAchievement(r rowScanner) (AchievementRow, error) {
	var (
		a                   AchievementRow
		payload             string
		sellerID, dedupeKey sql.NullString
		createdAt           int64
	)
	if err := r.Scan(&a.ID, &a.Type, &sellerID, &a.Title, &payload, &dedupeKey, &createdAt); err != nil {
		return AchievementRow{}, err
	}
	a.SellerID = sellerID.String
	a.DedupeKey = dedupeKey.String
	a.Payload = []byte(payload)
	a.CreatedAt = fromMillis(createdAt)
	return a, nil
}
