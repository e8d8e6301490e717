// Package ml holds the fraud models behind a single score-producing interface.
//
// Each model carries its decision convention explicitly: an outlier detector
// reports -1/1 sentinels, a classifier reports a fraud probability. Callers
// turn scores into verdicts with Label and never inspect the model type.
package ml

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fraud-detector/internal/features"

	"github.com/rs/zerolog/log"
)

var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrUnknownModel     = errors.New("unknown model")
)

// Scorer produces a raw score for one feature vector.
type Scorer interface {
	Score(ctx context.Context, features []float64) (float64, error)
}

// BatchScorer scores many rows in one call. Scorers backed by a process or a
// remote service implement it to avoid per-row round trips.
type BatchScorer interface {
	Scorer
	ScoreBatch(ctx context.Context, rows [][]float64) ([]float64, error)
}

// FallbackScorer is a BatchScorer that can answer from a fallback instead
// of its trained model and says when it did.
type FallbackScorer interface {
	BatchScorer
	ScoreBatchFallback(ctx context.Context, rows [][]float64) ([]float64, bool, error)
}

// ScoreAll scores every row, batching when the scorer supports it.
func ScoreAll(ctx context.Context, s Scorer, rows [][]float64) ([]float64, error) {
	if bs, ok := s.(BatchScorer); ok {
		scores, err := bs.ScoreBatch(ctx, rows)
		if err != nil {
			return nil, err
		}
		if len(scores) != len(rows) {
			return nil, fmt.Errorf("scorer returned %d scores for %d rows", len(scores), len(rows))
		}
		return scores, nil
	}

	scores := make([]float64, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := s.Score(ctx, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		scores[i] = v
	}
	return scores, nil
}

// Model is a scorer together with its convention and the feature schema it
// was trained on.
type Model struct {
	Name       string
	Version    string
	Convention Convention
	Schema     features.Schema
	Scorer     Scorer
}

// Prediction is the result of scoring a frame.
type Prediction struct {
	Scores   []float64
	Verdicts []Verdict
	Frauds   int
	Latency  time.Duration
	// Fallback is set when the scores came from a fallback heuristic rather
	// than the trained model.
	Fallback bool
}

// Predict checks the frame schema against the model's and labels every row.
// A schema mismatch is returned before anything is scored.
func (m *Model) Predict(ctx context.Context, frame *features.Frame) (*Prediction, error) {
	if m == nil || m.Scorer == nil {
		return nil, ErrModelUnavailable
	}
	if err := m.Schema.Check(frame.Schema); err != nil {
		return nil, fmt.Errorf("model %s: %w", m.Name, err)
	}

	start := time.Now()
	var (
		scores   []float64
		fallback bool
		err      error
	)
	if fs, ok := m.Scorer.(FallbackScorer); ok {
		scores, fallback, err = fs.ScoreBatchFallback(ctx, frame.Matrix())
		if err == nil && len(scores) != len(frame.Rows) {
			err = fmt.Errorf("scorer returned %d scores for %d rows", len(scores), len(frame.Rows))
		}
	} else {
		scores, err = ScoreAll(ctx, m.Scorer, frame.Matrix())
	}
	if err != nil {
		return nil, fmt.Errorf("model %s scoring failed: %w", m.Name, err)
	}

	p := &Prediction{
		Scores:   scores,
		Verdicts: make([]Verdict, len(scores)),
		Latency:  time.Since(start),
		Fallback: fallback,
	}
	for i, s := range scores {
		p.Verdicts[i] = Label(s, m.Convention)
		if p.Verdicts[i] == VerdictFraud {
			p.Frauds++
		}
	}

	log.Debug().
		Str("model", m.Name).
		Int("rows", len(scores)).
		Int("frauds", p.Frauds).
		Bool("fallback", p.Fallback).
		Dur("latency", p.Latency).
		Msg("frame scored")

	return p, nil
}
