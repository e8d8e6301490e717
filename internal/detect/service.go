// Package detect runs fitted models over transaction tables.
//
// A detection applies the encoders frozen at training time, checks the
// resulting feature schema against the model's, scores every row and writes
// the verdicts back as a prediction column. The ground truth column, when
// present, is used for evaluation and then dropped from the output.
package detect

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"fraud-detector/internal/common"
	"fraud-detector/internal/evaluation"
	"fraud-detector/internal/features"
	"fraud-detector/internal/ml"
	"fraud-detector/internal/storage"
	"fraud-detector/internal/transaction"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MetricsRecorder receives detection counts. A nil recorder is allowed.
type MetricsRecorder interface {
	VerdictsAdd(model, verdict string, n int)
	SchemaMismatchInc()
	DetectionObserve(d time.Duration)
	DriftedFeaturesSet(n int)
	MLAccuracyObserve(v float64)
	ErrorsInc()
}

// RunStore persists run summaries.
type RunStore interface {
	StoreRun(run storage.RunRecord) error
}

// Deployment is a model ready for detection: the scorer, the encoders it was
// fitted with and, optionally, its training feature distribution.
type Deployment struct {
	Model    *ml.Model
	Encoders features.EncoderTable
	Baseline *ml.Baseline
}

// Result is the outcome of one detection.
type Result struct {
	Output     *transaction.Table
	Frame      *features.Frame
	Prediction *ml.Prediction
	// Evaluation is nil when the input carried no ground truth.
	Evaluation *evaluation.Results
	// Drift is nil when the deployment has no baseline.
	Drift *ml.DriftReport
	Run   storage.RunRecord
}

type Service struct {
	mu          sync.RWMutex
	deployments map[string]*Deployment
	pipeline    *features.Pipeline
	metrics     MetricsRecorder
	runs        RunStore
	timeout     time.Duration
	listeners   []func(storage.RunRecord)
	now         func() time.Time
}

func NewService(pipeline *features.Pipeline, metrics MetricsRecorder, runs RunStore, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		deployments: make(map[string]*Deployment),
		pipeline:    pipeline,
		metrics:     metrics,
		runs:        runs,
		timeout:     timeout,
		now:         time.Now,
	}
}

// Register makes a deployment available under its model name, replacing any
// previous one.
func (s *Service) Register(d *Deployment) error {
	if d == nil || d.Model == nil || d.Model.Scorer == nil {
		return ml.ErrModelUnavailable
	}
	if err := d.Encoders.Validate(); err != nil {
		return fmt.Errorf("model %s: %w", d.Model.Name, err)
	}
	if len(d.Model.Schema) == 0 {
		return fmt.Errorf("model %s has no feature schema", d.Model.Name)
	}

	s.mu.Lock()
	s.deployments[d.Model.Name] = d
	s.mu.Unlock()

	log.Info().
		Str("model", d.Model.Name).
		Str("version", d.Model.Version).
		Str("convention", string(d.Model.Convention)).
		Int("features", len(d.Model.Schema)).
		Msg("model registered for detection")
	return nil
}

// Models lists the registered model names.
func (s *Service) Models() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.deployments))
	for name := range s.deployments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) Deployment(name string) (*Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deployments[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ml.ErrUnknownModel, name)
	}
	return d, nil
}

// OnRun registers a callback invoked after every successful detection.
func (s *Service) OnRun(fn func(storage.RunRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Detect scores every row of table with the named model. Missing required
// columns and schema mismatches are returned as errors and nothing is scored.
func (s *Service) Detect(ctx context.Context, table *transaction.Table, modelName string) (*Result, error) {
	start := time.Now()

	res, err := s.detect(ctx, table, modelName)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ErrorsInc()
			if errors.Is(err, features.ErrSchemaMismatch) {
				s.metrics.SchemaMismatchInc()
			}
		}
		return nil, err
	}

	res.Run.Duration = time.Since(start).Seconds()
	if s.metrics != nil {
		s.metrics.DetectionObserve(time.Since(start))
	}

	if s.runs != nil {
		if err := s.runs.StoreRun(res.Run); err != nil {
			log.Warn().Err(err).Str("run_id", res.Run.ID).Msg("failed to store detection run")
		}
	}

	s.mu.RLock()
	listeners := append([]func(storage.RunRecord){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(res.Run)
	}

	log.Info().
		Str("run_id", res.Run.ID).
		Str("model", res.Run.Model).
		Int("rows", res.Run.Rows).
		Int("frauds", res.Run.Frauds).
		Bool("fallback", res.Run.Fallback).
		Float64("duration_s", res.Run.Duration).
		Msg("detection completed")

	return res, nil
}

func (s *Service) detect(ctx context.Context, table *transaction.Table, modelName string) (*Result, error) {
	d, err := s.Deployment(modelName)
	if err != nil {
		return nil, err
	}

	batch, err := table.Batch()
	if err != nil {
		return nil, err
	}

	frame, _, err := s.pipeline.Transform(batch, d.Encoders, features.ModeApply)
	if err != nil {
		return nil, fmt.Errorf("feature transform failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pred, err := d.Model.Predict(ctx, frame)
	if err != nil {
		return nil, err
	}

	withPrediction, err := table.WithColumn(common.ColPrediction, ml.Strings(pred.Verdicts))
	if err != nil {
		return nil, err
	}

	res := &Result{
		Output:     withPrediction.Without(common.ColIsFraud),
		Frame:      frame,
		Prediction: pred,
		Run: storage.RunRecord{
			ID:           uuid.NewString(),
			Model:        d.Model.Name,
			Version:      d.Model.Version,
			Timestamp:    s.now(),
			Rows:         len(pred.Verdicts),
			Frauds:       pred.Frauds,
			DateFailures: frame.DateFailures,
			Fallback:     pred.Fallback,
		},
	}
	if pred.Fallback {
		log.Warn().Str("model", d.Model.Name).Msg("scores came from the fallback heuristic, not the trained model")
	}
	if res.Run.Rows > 0 {
		res.Run.FraudRate = float64(pred.Frauds) / float64(res.Run.Rows)
	}
	for _, n := range frame.Fallbacks {
		res.Run.Fallbacks += n
	}

	if s.metrics != nil {
		s.metrics.VerdictsAdd(d.Model.Name, string(ml.VerdictFraud), pred.Frauds)
		s.metrics.VerdictsAdd(d.Model.Name, string(ml.VerdictNormal), res.Run.Rows-pred.Frauds)
	}

	if batch.HasLabels {
		outcomes, err := evaluation.Outcomes(batch, pred)
		if err != nil {
			return nil, err
		}
		eval := evaluation.Evaluate(d.Model.Name, outcomes)
		eval.Version = d.Model.Version
		res.Evaluation = eval
		res.Run.Accuracy = &eval.Accuracy
		res.Run.F1Score = &eval.F1Score
		if s.metrics != nil {
			s.metrics.MLAccuracyObserve(eval.Accuracy)
		}
	}

	if d.Baseline != nil && len(frame.Rows) > 0 {
		report := d.Baseline.Compare(frame)
		res.Drift = &report
		res.Run.Drifted = report.Drifted
		if s.metrics != nil {
			s.metrics.DriftedFeaturesSet(len(report.Drifted))
		}
	}

	return res, nil
}
