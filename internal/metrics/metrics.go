// Package metrics holds the Prometheus business metrics of the reconciliation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_imports_total",
		Help: "Settlement file imports by source and outcome",
	}, []string{
		"source",  // sumup, twint, bank_camt053
		"outcome", // completed, failed, replayed, in_progress
	})

	importDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_import_duration_seconds",
		Help:    "Time from upload to a terminal session state",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"source", "outcome"})

	transactionsImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_transactions_imported_total",
		Help: "Normalized settlement transactions persisted",
	}, []string{"source"})

	parseWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_parse_warnings_total",
		Help: "Rows skipped with a parse warning",
	}, []string{"source"})

	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_decisions_total",
		Help: "Match decisions written",
	}, []string{
		"decision",   // auto_applied, approved, rejected, unmatched
		"decided_by", // system, operator
	})

	reviewQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_review_queued_total",
		Help: "Transactions routed to manual review",
	}, []string{"source"})

	candidateConfidence = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_candidate_confidence",
		Help:    "Confidence of the best candidate per transaction",
		Buckets: []float64{40, 50, 60, 70, 80, 90, 100},
	}, []string{"source"})

	lockContention = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_import_lock_contention_total",
		Help: "Imports rejected because another run held the lock",
	}, []string{"source"})

	claimsLost = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_claims_lost_total",
		Help: "POS claims lost to a concurrent settlement",
	}, []string{"source"})
)

// RecordImport records a finished import
func RecordImport(source, outcome string, seconds float64) {
	importsTotal.WithLabelValues(source, outcome).Inc()
	if seconds > 0 {
		importDuration.WithLabelValues(source, outcome).Observe(seconds)
	}
}

func RecordParsed(source string, transactions, warnings int) {
	transactionsImported.WithLabelValues(source).Add(float64(transactions))
	parseWarnings.WithLabelValues(source).Add(float64(warnings))
}

func RecordDecision(decision, decidedBy string) {
	if decidedBy != "system" {
		decidedBy = "operator"
	}
	decisionsTotal.WithLabelValues(decision, decidedBy).Inc()
}

func RecordReview(source string) {
	reviewQueued.WithLabelValues(source).Inc()
}

func RecordBestConfidence(source string, confidence int) {
	candidateConfidence.WithLabelValues(source).Observe(float64(confidence))
}

func RecordLockContention(source string) {
	lockContention.WithLabelValues(source).Inc()
}

func RecordClaimLost(source string) {
	claimsLost.WithLabelValues(source).Inc()
}
