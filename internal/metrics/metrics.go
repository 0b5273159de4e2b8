// Package metrics exposes Prometheus collectors for the session subsystem.
//
// All methods are safe on a nil *Metrics, so components can be built
// without instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector registered by New.
type Metrics struct {
	migrationsTotal   *prometheus.CounterVec
	migrationDuration *prometheus.HistogramVec
	migratedRows      *prometheus.CounterVec
	rebalances        prometheus.Counter
	seedRuns          *prometheus.CounterVec
	sessionState      *prometheus.GaugeVec
	pendingUploads    prometheus.Gauge
	uploadedChanges   *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		migrationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_migrations_total",
			Help: "Data migrations by direction and result",
		}, []string{"direction", "result"}),
		migrationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_migration_duration_seconds",
			Help:    "Wall time of a data migration transaction",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"direction"}),
		migratedRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_migrated_rows_total",
			Help: "Rows moved by committed migrations per logical table",
		}, []string{"table"}),
		rebalances: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_ordering_rebalances_total",
			Help: "Sibling groups renumbered because a gap underflowed",
		}),
		seedRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_seed_runs_total",
			Help: "Default data seeding runs by result",
		}, []string{"result"}),
		sessionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_session_state",
			Help: "1 for the current session state, 0 otherwise",
		}, []string{"state"}),
		pendingUploads: f.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_replicator_pending_uploads",
			Help: "Changes waiting in the sync outbox",
		}),
		uploadedChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_replicator_uploaded_changes_total",
			Help: "Outbox changes acknowledged by the sync server",
		}, []string{"op"}),
	}
}

// ObserveMigration records one migration attempt.
func (m *Metrics) ObserveMigration(direction, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.migrationsTotal.WithLabelValues(direction, result).Inc()
	m.migrationDuration.WithLabelValues(direction).Observe(took.Seconds())
}

// AddMigratedRows counts rows moved for a table. Only call after commit.
func (m *Metrics) AddMigratedRows(table string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.migratedRows.WithLabelValues(table).Add(float64(n))
}

// IncRebalance counts one sibling group renumbering.
func (m *Metrics) IncRebalance() {
	if m == nil {
		return
	}
	m.rebalances.Inc()
}

// IncSeed counts a seeding run; result is "ok" or "error".
func (m *Metrics) IncSeed(result string) {
	if m == nil {
		return
	}
	m.seedRuns.WithLabelValues(result).Inc()
}

// SetState flips the session state gauge to current.
func (m *Metrics) SetState(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.sessionState.WithLabelValues(s).Set(v)
	}
}

// SetPendingUploads reports the outbox size.
func (m *Metrics) SetPendingUploads(n int) {
	if m == nil {
		return
	}
	m.pendingUploads.Set(float64(n))
}

// AddUploaded counts acknowledged changes for an outbox op.
func (m *Metrics) AddUploaded(op string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.uploadedChanges.WithLabelValues(op).Add(float64(n))
}
