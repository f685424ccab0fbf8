package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts engine and ledger events. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	ledgerApplied  *prometheus.CounterVec
	ledgerSkipped  *prometheus.CounterVec
	ledgerReversed *prometheus.CounterVec
	verifications  *prometheus.CounterVec
	driftHealed    *prometheus.CounterVec
	weeklyBonuses  prometheus.Counter
	restDays       prometheus.Counter
	uploads        prometheus.Counter
}

var (
	once     sync.Once
	registry *Metrics
)

// Engine returns the process-wide metrics, registering them on first use.
func Engine() *Metrics {
	once.Do(func() {
		registry = &Metrics{
			ledgerApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "gymble_ledger_applied_total",
				Help: "Ledger entries written, by cause kind.",
			}, []string{"kind"}),
			ledgerSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "gymble_ledger_noop_total",
				Help: "Ledger applications skipped because the cause was already live.",
			}, []string{"kind"}),
			ledgerReversed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "gymble_ledger_reversed_total",
				Help: "Ledger entries reversed, by cause kind.",
			}, []string{"kind"}),
			verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "gymble_verifications_total",
				Help: "Admin verification decisions, by resulting status.",
			}, []string{"status"}),
			driftHealed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "gymble_cache_drift_healed_total",
				Help: "Cached derived values overwritten after disagreeing with a recomputation.",
			}, []string{"cache"}),
			weeklyBonuses: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "gymble_weekly_bonus_awarded_total",
				Help: "Weekly completion bonuses applied.",
			}),
			restDays: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "gymble_rest_days_total",
				Help: "Rest days recorded.",
			}),
			uploads: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "gymble_uploads_total",
				Help: "Daily uploads recorded.",
			}),
		}
		prometheus.MustRegister(
			registry.ledgerApplied,
			registry.ledgerSkipped,
			registry.ledgerReversed,
			registry.verifications,
			registry.driftHealed,
			registry.weeklyBonuses,
			registry.restDays,
			registry.uploads,
		)
	})
	return registry
}

func (m *Metrics) LedgerApplied(kind string) {
	if m == nil {
		return
	}
	m.ledgerApplied.WithLabelValues(label(kind)).Inc()
}

func (m *Metrics) LedgerSkipped(kind string) {
	if m == nil {
		return
	}
	m.ledgerSkipped.WithLabelValues(label(kind)).Inc()
}

func (m *Metrics) LedgerReversed(kind string) {
	if m == nil {
		return
	}
	m.ledgerReversed.WithLabelValues(label(kind)).Inc()
}

func (m *Metrics) Verification(status string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(label(status)).Inc()
}

func (m *Metrics) DriftHealed(cache string) {
	if m == nil {
		return
	}
	m.driftHealed.WithLabelValues(label(cache)).Inc()
}

func (m *Metrics) WeeklyBonus() {
	if m == nil {
		return
	}
	m.weeklyBonuses.Inc()
}

func (m *Metrics) RestDay() {
	if m == nil {
		return
	}
	m.restDays.Inc()
}

func (m *Metrics) Upload() {
	if m == nil {
		return
	}
	m.uploads.Inc()
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
