package ledger

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type storeMetrics struct {
	appendsTotal      *prometheus.CounterVec
	appendFailures    *prometheus.CounterVec
	appendRetries     prometheus.Counter
	appendLatency     prometheus.Histogram
	tipSequence       prometheus.Gauge
	verifications     *prometheus.CounterVec
	integrityFailures prometheus.Counter
	verifiedEntries   prometheus.Gauge
}

// init registers the collectors. A nil registry yields working but
// unregistered collectors.
func (m *storeMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.appendsTotal = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "novaledger_appends_total",
		Help: "entries appended, by entry type",
	}, []string{"entry_type"})
	m.appendFailures = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "novaledger_append_failures_total",
		Help: "append calls that returned an error, by reason",
	}, []string{"reason"})
	m.appendRetries = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "novaledger_append_retries_total",
		Help: "append attempts repeated after a sequence conflict",
	})
	m.appendLatency = promautoFactory.NewHistogram(prometheus.HistogramOpts{
		Name:    "novaledger_append_duration_seconds",
		Help:    "latency of a successful append including retries",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	})
	m.tipSequence = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "novaledger_tip_sequence",
		Help: "sequence number of the latest entry written by this process",
	})
	m.verifications = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "novaledger_verifications_total",
		Help: "chain verifications, by result",
	}, []string{"result"})
	m.integrityFailures = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "novaledger_integrity_failures_total",
		Help: "verifications that found a broken chain",
	})
	m.verifiedEntries = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "novaledger_verified_entries",
		Help: "entries checked by the last verification",
	})
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidEntry):
		return "invalid_entry"
	case errors.Is(err, ErrUnknownSupersedes):
		return "unknown_supersedes"
	case errors.Is(err, ErrNoGenesisBlock):
		return "no_genesis"
	case errors.Is(err, ErrSequenceConflict):
		return "sequence_conflict"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "storage_write"
	}
}
