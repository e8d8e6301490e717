// Package metrics provides Prometheus metrics collection for the fraud detector.
// It defines the pipeline, model and detection metrics exposed on the /metrics
// endpoint of the dashboard and model server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the fraud detector.
type Metrics struct {
	// Feature pipeline metrics
	RowsTransformed   prometheus.Counter     // Rows turned into feature vectors
	PipelineDuration  prometheus.Histogram   // Duration of a feature transform
	FeatureErrors     prometheus.Counter     // Dates that could not be parsed
	CategoryFallbacks *prometheus.CounterVec // Unseen categorical values, by column

	// ML and prediction metrics
	MLPredictions      prometheus.Counter   // Total number of ML predictions made
	MLFailures         prometheus.Counter   // Total number of ML prediction failures
	MLModelAge         prometheus.Gauge     // Age of the current ML model in seconds
	MLLatency          prometheus.Histogram // ML prediction latency in seconds
	MLAccuracy         prometheus.Histogram // Accuracy against ground truth, per run
	MLPredictionScores prometheus.Histogram // Distribution of classifier fraud probabilities
	MLTimeouts         prometheus.Counter   // Total number of ML prediction timeouts
	MLFallbackUse      prometheus.Counter   // Total number of times ML fallback was used

	// Detection metrics
	DetectionRuns     prometheus.Counter     // Completed detection runs
	DetectionDuration prometheus.Histogram   // End-to-end duration of a detection run
	Verdicts          *prometheus.CounterVec // Verdicts by model and label
	SchemaMismatches  prometheus.Counter     // Batches rejected at the schema check
	DriftedFeatures   prometheus.Gauge       // Features drifted in the last run

	// System metrics
	ErrorsTotal prometheus.Counter // Total number of errors encountered
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		RowsTransformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_rows_transformed_total",
			Help: "Total number of transactions turned into feature vectors",
		}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_duration_seconds",
			Help:    "Duration of a feature transform in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		FeatureErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "feature_errors_total",
			Help: "Total number of unparseable dates seen by the feature pipeline",
		}),
		CategoryFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "category_fallbacks_total",
			Help: "Unseen categorical values encoded as the first known class",
		}, []string{"column"}),
		MLPredictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_predictions_total",
			Help: "Total number of ML predictions made",
		}),
		MLFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_failures_total",
			Help: "Total number of ML prediction failures",
		}),
		MLModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ml_model_age_seconds",
			Help: "Age of the current ML model in seconds",
		}),
		MLLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ml_latency_seconds",
			Help:    "ML prediction latency in seconds (end-to-end)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		MLAccuracy: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ml_accuracy",
			Help:    "Detection accuracy when ground truth is available",
			Buckets: []float64{0.5, 0.55, 0.6, 0.65, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1.0},
		}),
		MLPredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ml_prediction_scores",
			Help:    "Distribution of classifier fraud probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		MLTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_timeouts_total",
			Help: "Total number of ML prediction timeouts",
		}),
		MLFallbackUse: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_fallback_use_total",
			Help: "Total number of times ML fallback was used",
		}),
		DetectionRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "detection_runs_total",
			Help: "Total number of completed detection runs",
		}),
		DetectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "detection_duration_seconds",
			Help:    "Duration of a detection run in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 15),
		}),
		Verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verdicts_total",
			Help: "Verdicts written to the prediction column",
		}, []string{"model", "verdict"}),
		SchemaMismatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "schema_mismatches_total",
			Help: "Batches rejected because their feature schema differs from the model's",
		}),
		DriftedFeatures: factory.NewGauge(prometheus.GaugeOpts{
			Name: "drifted_features",
			Help: "Number of features drifted from training data in the last run",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}
