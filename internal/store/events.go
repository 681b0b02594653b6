package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/event"
)

// AppendEvent appends an event inside the transaction and returns its id.
func (t *Tx) AppendEvent(ctx context.Context, ev event.Event) (int64, error) {
	return appendEvent(ctx, t.tx, t.now, ev)
}

// AppendEvent appends an event outside of any caller transaction.
func (s *Store) AppendEvent(ctx context.Context, ev event.Event) (int64, error) {
	return appendEvent(ctx, s.db, s.now, ev)
}

func appendEvent(ctx context.Context, q queryer, now nowFunc, ev event.Event) (int64, error) {
	payload, err := event.Encode(ev.Payload)
	if err != nil {
		return 0, err
	}
	result, err := q.ExecContext(ctx, `
		INSERT INTO events (type, subscription_id, actor, business_key, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		string(ev.Kind()),
		nullString(ev.SubscriptionID),
		nullString(ev.Actor),
		nullString(ev.BusinessKey),
		string(payload),
		toMillis(stampOr(ev.CreatedAt, now)),
	)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append event: last insert id: %w", err)
	}
	return id, nil
}

const eventColumns = `id, type, subscription_id, actor, business_key, payload, created_at`

// EventsAfter returns up to limit events with id greater than afterID in
// id order. The external broadcaster tails the log with it.
func (s *Store) EventsAfter(ctx context.Context, afterID int64, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("events after: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("events after: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// FindEventByBusinessKey returns the earliest event with the given key.
func (s *Store) FindEventByBusinessKey(ctx context.Context, key string) (event.Event, bool, error) {
	return findEventByBusinessKey(ctx, s.db, key)
}

// FindEventByBusinessKey returns the earliest event with the given key
// inside the transaction.
func (t *Tx) FindEventByBusinessKey(ctx context.Context, key string) (event.Event, bool, error) {
	return findEventByBusinessKey(ctx, t.tx, key)
}

func findEventByBusinessKey(ctx context.Context, q queryer, key string) (event.Event, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE business_key = ?
		ORDER BY id ASC
		LIMIT 1
	`, key)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, false, nil
	}
	if err != nil {
		return event.Event{}, false, fmt.Errorf("find event: %w", err)
	}
	return ev, true, nil
}

// CountEvents returns the number of events of a kind, or of all kinds
// when kind is empty.
func (s *Store) CountEvents(ctx context.Context, kind event.Kind) (int, error) {
	query := `SELECT COUNT(*) FROM events`
	var args []any
	if kind != "" {
		query += ` WHERE type = ?`
		args = append(args, string(kind))
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func scanEvent(r rowScanner) (event.Event, error) {
	var (
		ev                        event.Event
		kind, payload             string
		subID, actor, businessKey sql.NullString
		createdAt                 int64
	)
	if err := r.Scan(&ev.ID, &kind, &subID, &actor, &businessKey, &payload, &createdAt); err != nil {
		return event.Event{}, err
	}
	p, err := event.Decode(event.Kind(kind), []byte(payload))
	if err != nil {
		return event.Event{}, fmt.Errorf("event %d: %w", ev.ID, err)
	}
	ev.Payload = p
	ev.SubscriptionID = subID.String
	ev.Actor = actor.String
	ev.BusinessKey = businessKey.String
	ev.CreatedAt = fromMillis(createdAt)
	return ev, nil
}

// AppendAudit records an audit row inside the transaction.
func (t *Tx) AppendAudit(ctx context.Context, rec domain.AuditRecord) error {
	details := rec.Details
	if details == nil {
		details = map[string]string{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO audit_log (action, subject_type, subject_id, actor, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		rec.Action,
		rec.SubjectType,
		rec.SubjectID,
		rec.Actor,
		string(data),
		toMillis(stampOr(rec.CreatedAt, t.now)),
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// AuditTrail returns audit rows for a subject in insertion order.
func (s *Store) AuditTrail(ctx context.Context, subjectType, subjectID string) ([]domain.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, subject_type, subject_id, actor, details, created_at
		FROM audit_log
		WHERE subject_type = ? AND subject_id = ?
		ORDER BY id ASC
	`, subjectType, subjectID)
	if err != nil {
		return nil, fmt.Errorf("audit trail: %w", err)
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var (
			rec       domain.AuditRecord
			details   string
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.Action, &rec.SubjectType, &rec.SubjectID, &rec.Actor, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("audit trail: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &rec.Details); err != nil {
			return nil, fmt.Errorf("audit trail: details: %w", err)
		}
		rec.CreatedAt = fromMillis(createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}
