// Package telemetry exposes the Prometheus counters of the poller, the
// achievement engine and the installment state machine.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tally"

// Metrics groups every counter the process exports.
type Metrics struct {
	TicksRun            prometheus.Counter
	TicksDropped        prometheus.Counter
	TickErrors          prometheus.Counter
	RecordsProcessed    prometheus.Counter
	LedgerInserts       *prometheus.CounterVec
	AchievementsCreated *prometheus.CounterVec
	SubJobRuns          *prometheus.CounterVec
	PaymentTransitions  *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the counters on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the counters on reg and serves g from Handler.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TicksRun: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "ticks_total",
			Help: "Poller ticks that ran to completion or failure.",
		}),
		TicksDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "ticks_dropped_total",
			Help: "Timer fires dropped because a tick was still running.",
		}),
		TickErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "tick_errors_total",
			Help: "Ticks that returned an error.",
		}),
		RecordsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "records_processed_total",
			Help: "Upstream subscription records processed.",
		}),
		LedgerInserts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "inserts_total",
			Help: "Ledger rows inserted, by status.",
		}, []string{"status"}),
		AchievementsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "achievements", Name: "created_total",
			Help: "Achievements created, by type.",
		}, []string{"type"}),
		SubJobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "subjob_runs_total",
			Help: "Sub-job runs, by job and result.",
		}, []string{"job", "result"}),
		PaymentTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "installments", Name: "payment_transitions_total",
			Help: "Installment payment transitions, by target status.",
		}, []string{"to"}),
		gatherer: g,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
