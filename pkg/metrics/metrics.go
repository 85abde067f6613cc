package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	idsValidator = "ids_validator"

	// Pool metrics
	poolBatchesTotal  = "pool_batches_total"
	poolUnitsCount    = "pool_units_count"
	elementsTotal     = "elements_total"
	poolProcessActive = "pool_process_active"

	// Validation metrics
	validationRunsTotal    = "validation_runs_total"
	validationChunkSeconds = "validation_chunk_duration_seconds"

	// Labels
	batchStateLabel    = "state"
	elementStateLabel  = "state"
	runOutcomeLabel    = "outcome"
	BatchStateComplete = "complete"
	BatchStateError    = "error"
	ElementExtracted   = "extracted"
	ElementSkipped     = "skipped"
)

var batchStateLabels = []string{
	batchStateLabel,
}

var elementStateLabels = []string{
	elementStateLabel,
}

var runOutcomeLabels = []string{
	runOutcomeLabel,
}

/**
* Metrics definition
**/
var poolBatchesTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: idsValidator,
		Name:      poolBatchesTotal,
		Help:      "number of batches handled by the worker pool",
	},
	batchStateLabels,
)

var elementsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: idsValidator,
		Name:      elementsTotal,
		Help:      "number of raw elements seen by the extraction units",
	},
	elementStateLabels,
)

var poolUnitsCountMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: idsValidator,
		Name:      poolUnitsCount,
		Help:      "number of running execution units",
	},
)

var poolProcessActiveMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: idsValidator,
		Name:      poolProcessActive,
		Help:      "1 while the pool is processing a collection",
	},
)

var validationRunsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: idsValidator,
		Name:      validationRunsTotal,
		Help:      "number of validation runs by outcome",
	},
	runOutcomeLabels,
)

var validationChunkSecondsMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Subsystem: idsValidator,
		Name:      validationChunkSeconds,
		Help:      "time spent validating a single chunk",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	},
)

func IncreasePoolBatchesMetric(state string) {
	labels := prometheus.Labels{
		batchStateLabel: state,
	}
	poolBatchesTotalMetric.With(labels).Inc()
}

func AddElementsMetric(state string, count int) {
	if count == 0 {
		return
	}
	labels := prometheus.Labels{
		elementStateLabel: state,
	}
	elementsTotalMetric.With(labels).Add(float64(count))
}

func UpdatePoolUnitsMetric(count int) {
	poolUnitsCountMetric.Set(float64(count))
}

func SetPoolProcessActiveMetric(active bool) {
	if active {
		poolProcessActiveMetric.Set(1)
		return
	}
	poolProcessActiveMetric.Set(0)
}

func IncreaseValidationRunsMetric(outcome string) {
	labels := prometheus.Labels{
		runOutcomeLabel: outcome,
	}
	validationRunsTotalMetric.With(labels).Inc()
}

func ObserveChunkDurationMetric(seconds float64) {
	validationChunkSecondsMetric.Observe(seconds)
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(poolBatchesTotalMetric)
	prometheus.MustRegister(elementsTotalMetric)
	prometheus.MustRegister(poolUnitsCountMetric)
	prometheus.MustRegister(poolProcessActiveMetric)
	prometheus.MustRegister(validationRunsTotalMetric)
	prometheus.MustRegister(validationChunkSecondsMetric)
}
