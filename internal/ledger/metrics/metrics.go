package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ledger module. All methods are safe
// to call on a nil receiver so tests can run without a registry.
type Metrics struct {
	// Seal outcomes by chain type, entry kind and outcome
	SealsTotal *prometheus.CounterVec

	// Seal latency including tip read and append
	SealDuration *prometheus.HistogramVec

	// Appends that lost the race for a seq
	SealConflicts *prometheus.CounterVec

	// Verification runs by trigger (api, sweep) and result (ok, break)
	VerificationRuns *prometheus.CounterVec

	// Chain breaks detected by chain type
	ChainBreaks *prometheus.CounterVec

	// Public lookups by result (valid, miss) and cache (hit, miss, bypass)
	PublicLookups *prometheus.CounterVec

	// Correction workflow transitions by kind and state
	Corrections *prometheus.CounterVec

	// Exports by source and format
	Exports *prometheus.CounterVec

	// Full sweep duration
	SweepDuration prometheus.Histogram
}

// New registers the ledger metrics with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the ledger metrics with reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SealsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "veriledger_seals_total",
			Help: "Total seal attempts by chain type, entry kind and outcome",
		}, []string{"chain_type", "kind", "outcome"}),

		SealDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veriledger_seal_duration_seconds",
			Help:    "Duration of a seal including tip read and append",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"chain_type"}),

		SealConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "veriledger_seal_conflicts_total",
			Help: "Appends rejected because another writer took the seq",
		}, []string{"chain_type"}),

		VerificationRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "veriledger_verification_runs_total",
			Help: "Chain verifications by trigger and result",
		}, []string{"trigger", "result"}),

		ChainBreaks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "veriledger_chain_breaks_total",
			Help: "Chain breaks detected by chain type",
		}, []string{"chain_type"}),

		PublicLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "veriledger_public_lookups_total",
			Help: "Public verification lookups by result and cache outcome",
		}, []string{"result", "cache"}),

		Corrections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "veriledger_corrections_total",
			Help: "Correction requests by kind and state",
		}, []string{"kind", "state"}),

		Exports: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "veriledger_exports_total",
			Help: "Audit exports by source and format",
		}, []string{"source", "format"}),

		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "veriledger_sweep_duration_seconds",
			Help:    "Duration of a full integrity sweep",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}),
	}
}

func (m *Metrics) IncrementSeal(chainType, kind, outcome string) {
	if m != nil {
		m.SealsTotal.WithLabelValues(chainType, kind, outcome).Inc()
	}
}

func (m *Metrics) ObserveSealDuration(chainType string, d time.Duration) {
	if m != nil {
		m.SealDuration.WithLabelValues(chainType).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementSealConflict(chainType string) {
	if m != nil {
		m.SealConflicts.WithLabelValues(chainType).Inc()
	}
}

func (m *Metrics) IncrementVerification(trigger string, ok bool) {
	if m != nil {
		result := "ok"
		if !ok {
			result = "break"
		}
		m.VerificationRuns.WithLabelValues(trigger, result).Inc()
	}
}

func (m *Metrics) IncrementChainBreak(chainType string) {
	if m != nil {
		m.ChainBreaks.WithLabelValues(chainType).Inc()
	}
}

func (m *Metrics) IncrementPublicLookup(valid bool, cache string) {
	if m != nil {
		result := "valid"
		if !valid {
			result = "miss"
		}
		m.PublicLookups.WithLabelValues(result, cache).Inc()
	}
}

func (m *Metrics) IncrementCorrection(kind, state string) {
	if m != nil {
		m.Corrections.WithLabelValues(kind, state).Inc()
	}
}

func (m *Metrics) IncrementExport(source, format string) {
	if m != nil {
		m.Exports.WithLabelValues(source, format).Inc()
	}
}

func (m *Metrics) ObserveSweepDuration(d time.Duration) {
	if m != nil {
		m.SweepDuration.Observe(d.Seconds())
	}
}
