package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine metrics for the booking settlement core. Registered on the default
// registry and exposed via /metrics.
type Engine struct {
	Transitions        *prometheus.CounterVec
	TransitionFailures *prometheus.CounterVec
	Postings           *prometheus.CounterVec
	PostingRejections  *prometheus.CounterVec
	SettlementRetries  *prometheus.CounterVec
	SettlementFailures *prometheus.CounterVec
	SweepDuration      *prometheus.HistogramVec
}

func NewEngine() *Engine {
	return NewEngineWith(prometheus.DefaultRegisterer)
}

// NewEngineWith registers the engine metrics on a specific registerer.
// Tests pass a fresh registry to avoid duplicate registration panics.
func NewEngineWith(reg prometheus.Registerer) *Engine {
	factory := promauto.With(reg)
	return &Engine{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_transitions_total",
			Help: "Booking state transitions applied, by action and target state.",
		}, []string{"action", "to"}),
		TransitionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_transition_failures_total",
			Help: "Booking transitions rolled back, by action and reason.",
		}, []string{"action", "reason"}),
		Postings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_postings_total",
			Help: "Balanced ledger postings stored, by transaction type.",
		}, []string{"tx_type"}),
		PostingRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_posting_rejections_total",
			Help: "Ledger postings rejected by invariant checks, by reason.",
		}, []string{"reason"}),
		SettlementRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_retries_total",
			Help: "Settlement sweep retries scheduled, by job.",
		}, []string{"job"}),
		SettlementFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_failures_total",
			Help: "Records that exhausted the retry ceiling, by job.",
		}, []string{"job"}),
		SweepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "settlement_sweep_duration_seconds",
			Help:    "Duration of settlement sweep jobs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
}
