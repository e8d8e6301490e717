// Package evaluation scores verdicts against ground truth and writes reports.
package evaluation

import (
	"fmt"
	"time"

	"fraud-detector/internal/features"
	"fraud-detector/internal/ml"
	"fraud-detector/internal/transaction"
)

// Outcome is one labelled transaction and the verdict it received.
type Outcome struct {
	TransNum  string    `json:"trans_num,omitempty"`
	Category  string    `json:"category,omitempty"`
	Time      time.Time `json:"time"`
	Amount    float64   `json:"amount"`
	Score     float64   `json:"score"`
	Predicted bool      `json:"predicted_fraud"`
	Actual    bool      `json:"actual_fraud"`
}

func (o Outcome) Correct() bool {
	return o.Predicted == o.Actual
}

// Results holds the confusion matrix of a run and the metrics derived from it.
type Results struct {
	Model     string    `json:"model"`
	Version   string    `json:"version,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	Total          int `json:"total"`
	TruePositives  int `json:"true_positives"`
	TrueNegatives  int `json:"true_negatives"`
	FalsePositives int `json:"false_positives"`
	FalseNegatives int `json:"false_negatives"`

	Accuracy        float64 `json:"accuracy"`
	Precision       float64 `json:"precision"`
	Recall          float64 `json:"recall"`
	F1Score         float64 `json:"f1_score"`
	PredictedRate   float64 `json:"predicted_fraud_rate"`
	ActualFraudRate float64 `json:"actual_fraud_rate"`

	Outcomes []Outcome `json:"-"`
}

// Outcomes pairs every labelled record with its verdict. The batch must
// carry ground truth.
func Outcomes(batch *transaction.Batch, pred *ml.Prediction) ([]Outcome, error) {
	if !batch.HasLabels {
		return nil, fmt.Errorf("batch has no ground truth labels")
	}
	if len(pred.Verdicts) != len(batch.Records) {
		return nil, fmt.Errorf("got %d verdicts for %d records", len(pred.Verdicts), len(batch.Records))
	}

	out := make([]Outcome, len(batch.Records))
	for i, rec := range batch.Records {
		ts, _ := features.ParseTime(rec.TransDateTime)
		out[i] = Outcome{
			TransNum:  rec.TransNum,
			Category:  rec.Category,
			Time:      ts,
			Amount:    rec.Amount,
			Score:     pred.Scores[i],
			Predicted: pred.Verdicts[i] == ml.VerdictFraud,
			Actual:    rec.Fraud(),
		}
	}
	return out, nil
}

// Evaluate builds the confusion matrix for outcomes. Ratios with a zero
// denominator are reported as 0.
func Evaluate(model string, outcomes []Outcome) *Results {
	r := &Results{Model: model, Total: len(outcomes), Outcomes: outcomes}

	for _, o := range outcomes {
		switch {
		case o.Predicted && o.Actual:
			r.TruePositives++
		case o.Predicted && !o.Actual:
			r.FalsePositives++
		case !o.Predicted && o.Actual:
			r.FalseNegatives++
		default:
			r.TrueNegatives++
		}

		if o.Time.IsZero() {
			continue
		}
		if r.StartTime.IsZero() || o.Time.Before(r.StartTime) {
			r.StartTime = o.Time
		}
		if o.Time.After(r.EndTime) {
			r.EndTime = o.Time
		}
	}

	r.Accuracy = ratio(r.TruePositives+r.TrueNegatives, r.Total)
	r.Precision = ratio(r.TruePositives, r.TruePositives+r.FalsePositives)
	r.Recall = ratio(r.TruePositives, r.TruePositives+r.FalseNegatives)
	if r.Precision+r.Recall > 0 {
		r.F1Score = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}
	r.PredictedRate = ratio(r.TruePositives+r.FalsePositives, r.Total)
	r.ActualFraudRate = ratio(r.TruePositives+r.FalseNegatives, r.Total)

	return r
}

// ModelMetrics converts the results for the model registry.
func (r *Results) ModelMetrics(trainingSamples int) ml.ModelMetrics {
	return ml.ModelMetrics{
		Accuracy:        r.Accuracy,
		Precision:       r.Precision,
		Recall:          r.Recall,
		F1Score:         r.F1Score,
		FraudRate:       r.ActualFraudRate,
		TrainingSamples: trainingSamples,
	}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
