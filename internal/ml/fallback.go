package ml

import (
	"context"
	"math"

	"fraud-detector/internal/common"
	"fraud-detector/internal/features"
)

// HeuristicScorer is the classifier stand-in used when the trained model
// cannot be reached. It reports a fraud probability from the amount and the
// hour of the transaction.
type HeuristicScorer struct {
	amountIdx int
	hourIdx   int
}

func NewHeuristicScorer(schema features.Schema) *HeuristicScorer {
	return &HeuristicScorer{
		amountIdx: schema.Index(common.ColAmount),
		hourIdx:   schema.Index(common.FeatHour),
	}
}

func (h *HeuristicScorer) Score(_ context.Context, f []float64) (float64, error) {
	return h.probability(f), nil
}

func (h *HeuristicScorer) ScoreBatch(_ context.Context, rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = h.probability(r)
	}
	return out, nil
}

func (h *HeuristicScorer) probability(f []float64) float64 {
	score := -3.0

	if h.amountIdx >= 0 && h.amountIdx < len(f) {
		amount := math.Max(f[h.amountIdx], 0)
		score += 4 * math.Min(amount/1000, 1.5)
	}

	// card fraud clusters late at night
	if h.hourIdx >= 0 && h.hourIdx < len(f) {
		if hour := f[h.hourIdx]; hour >= 22 || hour < 4 {
			score += 1.5
		}
	}

	return sigmoid(score)
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
