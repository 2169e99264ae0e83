package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type LedgerMetrics struct {
	confirmations  *prometheus.CounterVec
	pollLookups    *prometheus.HistogramVec
	oracleFailures *prometheus.CounterVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the process wide collectors, registering them on first use.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = newLedgerMetrics()
		prometheus.MustRegister(
			ledgerRegistry.confirmations,
			ledgerRegistry.pollLookups,
			ledgerRegistry.oracleFailures,
		)
	})
	return ledgerRegistry
}

func newLedgerMetrics() *LedgerMetrics {
	return &LedgerMetrics{
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_confirmations_total",
			Help: "Outcome of confirmation requests by transaction type.",
		}, []string{"type", "outcome"}),
		pollLookups: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_receipt_lookups",
			Help:    "Receipt lookups needed per confirmation by transaction type.",
			Buckets: []float64{1, 2, 3, 5, 8, 11},
		}, []string{"type"}),
		oracleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_oracle_failures_total",
			Help: "Oracle calls that failed for infrastructure reasons by operation.",
		}, []string{"operation"}),
	}
}

func (m *LedgerMetrics) ObserveConfirmation(txType, outcome string) {
	if m == nil {
		return
	}
	if txType == "" {
		txType = "unknown"
	}
	m.confirmations.WithLabelValues(txType, outcome).Inc()
}

func (m *LedgerMetrics) ObserveReceiptLookups(txType string, lookups int) {
	if m == nil || lookups <= 0 {
		return
	}
	m.pollLookups.WithLabelValues(txType).Observe(float64(lookups))
}

func (m *LedgerMetrics) ObserveOracleFailure(operation string) {
	if m == nil {
		return
	}
	m.oracleFailures.WithLabelValues(operation).Inc()
}
