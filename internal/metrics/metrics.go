// Package metrics holds the Prometheus collectors shared by the partition,
// selection and promotion stages. Collectors register with the default
// registry on init and are served by registryd on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cluster_promote"

var (
	// partitionCount is the k chosen by the most recent elbow run.
	partitionCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "partition",
		Name:      "count",
		Help:      "Partition count selected by the most recent elbow run",
	})

	// candidateFitDuration times each k-means fit during the elbow sweep.
	candidateFitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "partition",
		Name:      "candidate_fit_duration_seconds",
		Help:      "Duration of one candidate k-means fit",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	// partitionErrors counts counter/assigner failures.
	// Labels: error_type (fitting_failure, no_knee, artifact)
	partitionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "partition",
		Name:      "errors_total",
		Help:      "Partition counting and assignment failures by type",
	}, []string{"error_type"})

	// selectionFailures counts partitions left without a candidate.
	selectionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "selector",
		Name:      "missing_candidate_total",
		Help:      "Selections aborted because a partition had no candidate",
	})

	// transitions counts stage transitions.
	// Labels: stage (Staging, Production), result (applied, skipped, failed)
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "promote",
		Name:      "transitions_total",
		Help:      "Stage transitions by target stage and result",
	}, []string{"stage", "result"})
)

// Transition results.
const (
	ResultApplied = "applied"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

// SetPartitionCount records the selected k.
func SetPartitionCount(k int) { partitionCount.Set(float64(k)) }

// ObserveCandidateFit records one elbow candidate fit.
func ObserveCandidateFit(d time.Duration) { candidateFitDuration.Observe(d.Seconds()) }

// IncPartitionError records a partition stage failure.
func IncPartitionError(errorType string) { partitionErrors.WithLabelValues(errorType).Inc() }

// IncSelectionFailure records a selection aborted by a missing candidate.
func IncSelectionFailure() { selectionFailures.Inc() }

// IncTransition records a stage transition outcome.
func IncTransition(stage, result string) { transitions.WithLabelValues(stage, result).Inc() }
