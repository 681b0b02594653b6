// Package achievement creates milestone records at most once per dedupe
// key.
//
// Creation follows lookup, insert ON CONFLICT DO NOTHING, re-read. The
// UNIQUE constraint on achievements.dedupe_key is the only coordination
// between racing creators; the achievement_created event is appended only
// by the branch whose insert took effect. An achievement without a dedupe
// key is inserted unconditionally.
package achievement

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/errs"
	"github.com/roach88/tally/internal/event"
	"github.com/roach88/tally/internal/identity"
	"github.com/roach88/tally/internal/store"
	"github.com/roach88/tally/internal/telemetry"
)

// Input describes an achievement to create. Type may be left empty; it is
// then taken from the payload.
type Input struct {
	Type      Type
	SellerID  string
	Title     string
	Payload   Payload
	DedupeKey string
}

// Record is a stored achievement.
type Record struct {
	ID        string
	Type      Type
	SellerID  string
	Title     string
	Payload   Payload
	DedupeKey string
	CreatedAt time.Time
}

// Engine creates and lists achievements.
type Engine struct {
	store   *store.Store
	ids     identity.Generator
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator sets the generator for achievement ids.
func WithIDGenerator(g identity.Generator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the counters incremented by Create.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine returns an engine over st.
func NewEngine(st *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		ids:    identity.UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = telemetry.New()
	}
	return e
}

// Create creates the achievement in its own transaction. created is false
// when a record with the same dedupe key already existed; the existing
// record is returned and no event is appended.
func (e *Engine) Create(ctx context.Context, in Input) (Record, bool, error) {
	var (
		rec     Record
		created bool
	)
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		rec, created, err = e.CreateTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return Record{}, false, err
	}
	if created {
		e.metrics.AchievementsCreated.WithLabelValues(string(rec.Type)).Inc()
		e.logger.Info("achievement created",
			"id", rec.ID,
			"type", rec.Type,
			"dedupe_key", rec.DedupeKey)
	}
	return rec, created, nil
}

// CreateTx runs Create inside the caller's transaction, so the record and
// its event commit or roll back with the caller's other writes.
func (e *Engine) CreateTx(ctx context.Context, tx *store.Tx, in Input) (Record, bool, error) {
	if err := in.normalize(); err != nil {
		return Record{}, false, err
	}

	if in.DedupeKey != "" {
		existing, found, err := tx.FindAchievementByKey(ctx, in.DedupeKey)
		if err != nil {
			return Record{}, false, err
		}
		if found {
			rec, err := fromRow(existing)
			return rec, false, err
		}
	}

	data, err := EncodePayload(in.Payload)
	if err != nil {
		return Record{}, false, errs.Validation(errs.CodeInvalidInput, "%v", err)
	}
	row := store.AchievementRow{
		ID:        e.ids.Generate(),
		Type:      string(in.Type),
		SellerID:  in.SellerID,
		Title:     in.Title,
		Payload:   data,
		DedupeKey: in.DedupeKey,
	}
	inserted, err := tx.InsertAchievement(ctx, row)
	if err != nil {
		return Record{}, false, err
	}
	if !inserted {
		if in.DedupeKey == "" {
			return Record{}, false, errs.Conflict(errs.CodeUniqueViolation,
				"achievement id %s already exists", row.ID)
		}
		existing, found, err := tx.FindAchievementByKey(ctx, in.DedupeKey)
		if err != nil {
			return Record{}, false, err
		}
		if !found {
			return Record{}, false, errs.Conflict(errs.CodeDuplicateKey,
				"achievement %s was not inserted and cannot be re-read", in.DedupeKey)
		}
		rec, err := fromRow(existing)
		return rec, false, err
	}

	businessKey := "achievement:" + in.DedupeKey
	if in.DedupeKey == "" {
		businessKey = "achievement:id:" + row.ID
	}
	_, err = tx.AppendEvent(ctx, event.Event{
		Actor:       domain.SystemActor.ID,
		BusinessKey: businessKey,
		Payload: event.AchievementCreated{
			AchievementID: row.ID,
			Type:          row.Type,
			SellerID:      row.SellerID,
			Title:         row.Title,
			DedupeKey:     row.DedupeKey,
		},
	})
	if err != nil {
		return Record{}, false, err
	}

	stored, found, err := tx.FindAchievementByID(ctx, row.ID)
	if err != nil {
		return Record{}, false, err
	}
	if !found {
		return Record{}, false, errs.Conflict(errs.CodeDuplicateKey,
			"achievement %s vanished after insert", row.ID)
	}
	rec, err := fromRow(stored)
	return rec, true, err
}

// List returns stored achievements newest first.
func (e *Engine) List(ctx context.Context, f store.AchievementFilter) ([]Record, error) {
	rows, err := e.store.ListAchievements(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (in *Input) normalize() error {
	if in.Payload == nil {
		return errs.Validation(errs.CodeInvalidInput, "achievement payload is required")
	}
	if in.Type == "" {
		in.Type = in.Payload.AchievementType()
	}
	if in.Type != in.Payload.AchievementType() {
		return errs.Validation(errs.CodeInvalidInput,
			"achievement type %s does not match payload type %s", in.Type, in.Payload.AchievementType())
	}
	in.DedupeKey = strings.TrimSpace(in.DedupeKey)
	if strings.TrimSpace(in.Title) == "" {
		return errs.Validation(errs.CodeInvalidInput, "achievement title is required")
	}
	return nil
}

func fromRow(row store.AchievementRow) (Record, error) {
	p, err := DecodePayload(Type(row.Type), row.Payload)
	if err != nil {
		return Record{}, errs.Infra(errs.CodeStorage, err)
	}
	return Record{
		ID:        row.ID,
		Type:      Type(row.Type),
		SellerID:  row.SellerID,
		Title:     row.Title,
		Payload:   p,
		DedupeKey: row.DedupeKey,
		CreatedAt: row.CreatedAt,
	}, nil
}
