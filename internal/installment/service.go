package installment

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/tally/internal/domain"
	"github.com/roach88/tally/internal/errs"
	"github.com/roach88/tally/internal/event"
	"github.com/roach88/tally/internal/identity"
	"github.com/roach88/tally/internal/store"
	"github.com/roach88/tally/internal/telemetry"
)

// DefaultUpcomingWindow is how far ahead the upcoming category looks.
const DefaultUpcomingWindow = 7 * 24 * time.Hour

// View is a plan together with its payments ordered by payment number.
type View struct {
	Plan     domain.Plan
	Payments []domain.Payment
}

// Service runs installment operations against the store.
type Service struct {
	store    *store.Store
	ids      identity.Generator
	validate *validator.Validate
	now      func() time.Time
	loc      *time.Location
	upcoming time.Duration
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithIDGenerator sets the generator for plan and payment ids.
func WithIDGenerator(g identity.Generator) Option {
	return func(s *Service) { s.ids = g }
}

// WithClock sets the wall clock used to derive today.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the time zone in which civil dates are evaluated.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithUpcomingWindow overrides DefaultUpcomingWindow.
func WithUpcomingWindow(d time.Duration) Option {
	return func(s *Service) { s.upcoming = d }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the counters incremented on payment transitions.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService returns a service over st.
func NewService(st *store.Store, opts ...Option) *Service {
	s := &Service{
		store:    st,
		ids:      identity.UUIDv7Generator{},
		validate: validator.New(),
		now:      time.Now,
		loc:      time.UTC,
		upcoming: DefaultUpcomingWindow,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = telemetry.New()
	}
	return s
}

func (s *Service) today() string {
	return domain.Day(s.now(), s.loc)
}

// Get returns a plan and its payments.
func (s *Service) Get(ctx context.Context, planID string) (View, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return View{}, err
	}
	payments, err := s.store.ListPayments(ctx, planID)
	if err != nil {
		return View{}, err
	}
	return View{Plan: plan, Payments: payments}, nil
}

// paymentChange is produced by a payment operation and applied by
// mutatePayment.
type paymentChange struct {
	action string
	reason string
	event  event.Payload
}

// mutatePayment loads the payment and its plan inside one transaction,
// requires the plan to be active, lets fn modify the payment, then writes
// the payment, re-runs the rollup and appends events and audit rows.
func (s *Service) mutatePayment(
	ctx context.Context,
	actor domain.Actor,
	paymentID string,
	fn func(plan domain.Plan, p *domain.Payment) (paymentChange, error),
) (View, error) {
	var (
		view View
		from domain.PaymentStatus
		to   domain.PaymentStatus
	)
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		plan, err := tx.GetPlan(ctx, p.PlanID)
		if err != nil {
			return err
		}
		if err := requireActive(plan); err != nil {
			return err
		}

		from = p.Status
		change, err := fn(plan, &p)
		if err != nil {
			return err
		}
		to = p.Status

		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		if err := s.record(ctx, tx, actor, plan, p, from, change); err != nil {
			return err
		}

		plan, err = s.rollup(ctx, tx, actor, plan)
		if err != nil {
			return err
		}
		payments, err := tx.ListPayments(ctx, plan.ID)
		if err != nil {
			return err
		}
		view = View{Plan: plan, Payments: payments}
		return nil
	})
	if err != nil {
		return View{}, err
	}

	if from != to {
		s.metrics.PaymentTransitions.WithLabelValues(string(to)).Inc()
		s.logger.Info("payment transitioned",
			"payment_id", paymentID,
			"plan_id", view.Plan.ID,
			"from", from,
			"to", to,
			"actor", actor.ID)
	}
	return view, nil
}

// record appends the transition event when the status changed, the
// operation's own event if any, and the audit row.
func (s *Service) record(
	ctx context.Context,
	tx *store.Tx,
	actor domain.Actor,
	plan domain.Plan,
	p domain.Payment,
	from domain.PaymentStatus,
	change paymentChange,
) error {
	if from != p.Status {
		if _, err := tx.AppendEvent(ctx, event.Event{
			SubscriptionID: plan.SubscriptionID,
			Actor:          actor.ID,
			BusinessKey:    "payment:" + p.ID + ":" + string(p.Status),
			Payload: event.PaymentTransitioned{
				PlanID:        plan.ID,
				PaymentID:     p.ID,
				PaymentNumber: p.PaymentNumber,
				From:          string(from),
				To:            string(p.Status),
				Reason:        change.reason,
			},
		}); err != nil {
			return err
		}
	}
	if change.event != nil {
		if _, err := tx.AppendEvent(ctx, event.Event{
			SubscriptionID: plan.SubscriptionID,
			Actor:          actor.ID,
			Payload:        change.event,
		}); err != nil {
			return err
		}
	}
	return tx.AppendAudit(ctx, domain.AuditRecord{
		Action:      change.action,
		SubjectType: "installment_payment",
		SubjectID:   p.ID,
		Actor:       actor.ID,
		Details: map[string]string{
			"plan_id": plan.ID,
			"from":    string(from),
			"to":      string(p.Status),
			"reason":  change.reason,
		},
	})
}

// rollup recomputes plan status and next due payment and writes them when
// they changed.
func (s *Service) rollup(ctx context.Context, tx *store.Tx, actor domain.Actor, plan domain.Plan) (domain.Plan, error) {
	payments, err := tx.ListPayments(ctx, plan.ID)
	if err != nil {
		return domain.Plan{}, err
	}
	status, nextDue := Rollup(plan.Status, payments)
	if status == plan.Status && nextDue == plan.NextDuePaymentID {
		return plan, nil
	}
	return s.setPlanStatus(ctx, tx, actor, plan, status, nextDue, plan.StatusReason)
}

func (s *Service) setPlanStatus(
	ctx context.Context,
	tx *store.Tx,
	actor domain.Actor,
	plan domain.Plan,
	status domain.PlanStatus,
	nextDue, reason string,
) (domain.Plan, error) {
	if err := tx.UpdatePlanStatus(ctx, plan.ID, status, nextDue, reason); err != nil {
		return domain.Plan{}, err
	}
	if status != plan.Status {
		if _, err := tx.AppendEvent(ctx, event.Event{
			SubscriptionID: plan.SubscriptionID,
			Actor:          actor.ID,
			Payload: event.PlanStatusChanged{
				PlanID:           plan.ID,
				From:             string(plan.Status),
				To:               string(status),
				Reason:           reason,
				NextDuePaymentID: nextDue,
			},
		}); err != nil {
			return domain.Plan{}, err
		}
		if err := tx.AppendAudit(ctx, domain.AuditRecord{
			Action:      "plan_" + string(status),
			SubjectType: "installment_plan",
			SubjectID:   plan.ID,
			Actor:       actor.ID,
			Details: map[string]string{
				"from":   string(plan.Status),
				"to":     string(status),
				"reason": reason,
			},
		}); err != nil {
			return domain.Plan{}, err
		}
	}
	return tx.GetPlan(ctx, plan.ID)
}

func notBlank(field, value string) error {
	if value == "" {
		return errs.Validation(errs.CodeInvalidInput, "%s is required", field)
	}
	return nil
}
