package metrics

import "time"

// MetricsWrapper adapts Metrics to the hooks the pipeline, models and
// detection service call.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

// Feature pipeline hooks

func (w *MetricsWrapper) FeatureErrorsInc() {
	w.m.FeatureErrors.Inc()
}

func (w *MetricsWrapper) CategoryFallbackInc(column string) {
	w.m.CategoryFallbacks.WithLabelValues(column).Inc()
}

func (w *MetricsWrapper) FeatureCalcDuration(d time.Duration) {
	w.m.PipelineDuration.Observe(d.Seconds())
}

func (w *MetricsWrapper) FeatureSampleCount(count int) {
	w.m.RowsTransformed.Add(float64(count))
}

// ML hooks

func (w *MetricsWrapper) MLPredictionsInc() {
	w.m.MLPredictions.Inc()
}

func (w *MetricsWrapper) MLFailuresInc() {
	w.m.MLFailures.Inc()
}

func (w *MetricsWrapper) MLLatencyObserve(v float64) {
	w.m.MLLatency.Observe(v)
}

func (w *MetricsWrapper) MLModelAgeSet(v float64) {
	w.m.MLModelAge.Set(v)
}

func (w *MetricsWrapper) MLPredictionScoresObserve(v float64) {
	w.m.MLPredictionScores.Observe(v)
}

func (w *MetricsWrapper) MLTimeoutsInc() {
	w.m.MLTimeouts.Inc()
}

func (w *MetricsWrapper) MLFallbackUseInc() {
	w.m.MLFallbackUse.Inc()
}

func (w *MetricsWrapper) MLAccuracyObserve(v float64) {
	w.m.MLAccuracy.Observe(v)
}

// Detection hooks

func (w *MetricsWrapper) VerdictsAdd(model, verdict string, n int) {
	if n > 0 {
		w.m.Verdicts.WithLabelValues(model, verdict).Add(float64(n))
	}
}

func (w *MetricsWrapper) SchemaMismatchInc() {
	w.m.SchemaMismatches.Inc()
}

func (w *MetricsWrapper) DetectionObserve(d time.Duration) {
	w.m.DetectionRuns.Inc()
	w.m.DetectionDuration.Observe(d.Seconds())
}

func (w *MetricsWrapper) DriftedFeaturesSet(n int) {
	w.m.DriftedFeatures.Set(float64(n))
}

func (w *MetricsWrapper) ErrorsInc() {
	w.m.ErrorsTotal.Inc()
}
