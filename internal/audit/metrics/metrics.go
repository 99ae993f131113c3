// Package metrics provides observability for the audit log. All helpers are
// nil-safe so components run unchanged without metrics wired.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector of the audit log.
type Metrics struct {
	// Append path
	EntriesAppended      prometheus.Counter
	AppendFailures       *prometheus.CounterVec
	AppendLatency        prometheus.Histogram
	NotificationsDropped prometheus.Counter

	// Signing
	SigningOps   *prometheus.CounterVec
	KeyRotations prometheus.Counter
	KeyAge       prometheus.Gauge

	// Merkle accumulation
	BatchesSealed prometheus.Counter
	SealFailures  prometheus.Counter

	// Verification
	VerificationRuns *prometheus.CounterVec
	Violations       *prometheus.CounterVec

	// Retention
	RetentionSweeps  prometheus.Counter
	DeletionRequests *prometheus.CounterVec
	LegalHoldSkips   prometheus.Counter
	EntriesDeleted   prometheus.Counter

	// Pattern monitor
	PatternMatches *prometheus.CounterVec

	// Distribution
	SinkEnqueued       *prometheus.CounterVec
	SinkFiltered       *prometheus.CounterVec
	SinkDelivered      *prometheus.CounterVec
	SinkRetries        *prometheus.CounterVec
	SinkDroppedBatches *prometheus.CounterVec
}

// New creates all collectors and registers them with reg. A nil reg creates
// unregistered collectors, which tests use to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EntriesAppended: f.NewCounter(prometheus.CounterOpts{
			Name: "auditchain_entries_appended_total",
			Help: "Total entries durably chained, signed and persisted",
		}),
		AppendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditchain_append_failures_total",
			Help: "Append attempts aborted with the tail unchanged, by reason",
		}, []string{"reason"}), // reason: "validation", "signing", "persistence"
		AppendLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditchain_append_duration_seconds",
			Help:    "Duration of the serialized append step",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		NotificationsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "auditchain_notifications_dropped_total",
			Help: "Post-commit notifications dropped because the fan-out queue was full",
		}),

		SigningOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditchain_signing_operations_total",
			Help: "Sign and verify operations by outcome",
		}, []string{"op", "outcome"}),
		KeyRotations: f.NewCounter(prometheus.CounterOpts{
			Name: "auditchain_key_rotations_total",
			Help: "Total signing key rotations",
		}),
		KeyAge: f.NewGauge(prometheus.GaugeOpts{
			Name: "auditchain_current_key_age_seconds",
			Help: "Age of the current signing key epoch",
		}),

		BatchesSealed: f.NewCounter(prometheus.CounterOpts{
			Name: "auditchain_merkle_batches_sealed_total",
			Help: "Total Merkle batches sealed with a signed root",
		}),
		SealFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "auditchain_merkle_seal_failures_total",
			Help: "Merkle seal attempts that failed to sign or persist and will be retried",
		}),

		VerificationRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditchain_verification_runs_total",
			Help: "Integrity verification passes by outcome",
		}, []string{"outcome"}), // outcome: "valid", "invalid", "aborted"
		Violations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditchain_integrity_violations_total",
			Help: "Integrity violations discovered, by kind",
		}, []string{"kind"}),

		RetentionSweeps: f.NewCounter(prometheus.CounterOpts{
			Name: "auditchain_retention_sweeps_total",
			Help: "Total retention sweeps run",
		}),
		DeletionRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditchain_deletion_requests_total",
			Help: "Deletion request transitions by resulting state",
		}, []string{"state"}),
		LegalHoldSkips: f.NewCounter(prometheus.CounterOpts{
			Name: "auditchain_legal_hold_skips_total",
			Help: "Expired categories skipped by a sweep because of a legal hold",
		}),
		EntriesDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "auditchain_entries_deleted_total",
			Help: "Entries removed from primary storage after confirmed deletion",
		}),

		PatternMatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditchain_pattern_matches_total",
			Help: "Entries matched by a monitor rule, by rule and action",
		}, []string{"rule", "action"}),

		SinkEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditchain_sink_enqueued_total",
			Help: "Entries accepted into a sink queue",
		}, []string{"sink"}),
		SinkFiltered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditchain_sink_filtered_total",
			Help: "Entries excluded by a sink's filter rules",
		}, []string{"sink"}),
		SinkDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditchain_sink_delivered_total",
			Help: "Entries acknowledged by a sink",
		}, []string{"sink"}),
		SinkRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditchain_sink_retries_total",
			Help: "Batch send retries per sink",
		}, []string{"sink"}),
		SinkDroppedBatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditchain_sink_dropped_batches_total",
			Help: "Batches dropped per sink, by reason",
		}, []string{"sink", "reason"}), // reason: "overflow", "retries_exhausted", "closed"
	}
}

func (m *Metrics) IncEntriesAppended() {
	if m != nil {
		m.EntriesAppended.Inc()
	}
}

func (m *Metrics) IncAppendFailure(reason string) {
	if m != nil {
		m.AppendFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ObserveAppendLatency(d time.Duration) {
	if m != nil {
		m.AppendLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncNotificationsDropped() {
	if m != nil {
		m.NotificationsDropped.Inc()
	}
}

func (m *Metrics) IncSigningOp(op, outcome string) {
	if m != nil {
		m.SigningOps.WithLabelValues(op, outcome).Inc()
	}
}

func (m *Metrics) IncKeyRotations() {
	if m != nil {
		m.KeyRotations.Inc()
	}
}

func (m *Metrics) SetKeyAge(d time.Duration) {
	if m != nil {
		m.KeyAge.Set(d.Seconds())
	}
}

func (m *Metrics) IncBatchesSealed() {
	if m != nil {
		m.BatchesSealed.Inc()
	}
}

func (m *Metrics) IncSealFailures() {
	if m != nil {
		m.SealFailures.Inc()
	}
}

func (m *Metrics) IncVerificationRun(outcome string) {
	if m != nil {
		m.VerificationRuns.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncViolation(kind string) {
	if m != nil {
		m.Violations.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncRetentionSweeps() {
	if m != nil {
		m.RetentionSweeps.Inc()
	}
}

func (m *Metrics) IncDeletionRequest(state string) {
	if m != nil {
		m.DeletionRequests.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) IncLegalHoldSkips() {
	if m != nil {
		m.LegalHoldSkips.Inc()
	}
}

func (m *Metrics) AddEntriesDeleted(n int) {
	if m != nil {
		m.EntriesDeleted.Add(float64(n))
	}
}

func (m *Metrics) IncPatternMatch(rule, action string) {
	if m != nil {
		m.PatternMatches.WithLabelValues(rule, action).Inc()
	}
}

func (m *Metrics) IncSinkEnqueued(sink string) {
	if m != nil {
		m.SinkEnqueued.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) IncSinkFiltered(sink string) {
	if m != nil {
		m.SinkFiltered.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) AddSinkDelivered(sink string, n int) {
	if m != nil {
		m.SinkDelivered.WithLabelValues(sink).Add(float64(n))
	}
}

func (m *Metrics) IncSinkRetries(sink string) {
	if m != nil {
		m.SinkRetries.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) IncSinkDroppedBatches(sink, reason string) {
	if m != nil {
		m.SinkDroppedBatches.WithLabelValues(sink, reason).Inc()
	}
}
