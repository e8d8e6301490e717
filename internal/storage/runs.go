package storage

import (
	"encoding/json"
	"time"
)

// RunRecord summarises one detection run.
type RunRecord struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Version      string    `json:"version"`
	Source       string    `json:"source,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Rows         int       `json:"rows"`
	Frauds       int       `json:"frauds"`
	FraudRate    float64   `json:"fraud_rate"`
	Fallbacks    int       `json:"category_fallbacks"`
	DateFailures int       `json:"date_failures"`
	Drifted      []string  `json:"drifted,omitempty"`
	// Fallback is set when a heuristic answered instead of the trained model.
	Fallback bool `json:"fallback,omitempty"`
	// Accuracy is set only when the input carried ground truth.
	Accuracy *float64 `json:"accuracy,omitempty"`
	F1Score  *float64 `json:"f1_score,omitempty"`
	Duration float64  `json:"duration_seconds"`
}

// StoreRun stores a run under "model_timestamp".
func (s *Store) StoreRun(run RunRecord) error {
	return s.put(runsBucket, timeKey(run.Model, run.Timestamp), run)
}

// GetRuns returns the runs of a model between start and end, inclusive,
// oldest first.
func (s *Store) GetRuns(model string, start, end time.Time) ([]RunRecord, error) {
	var runs []RunRecord
	err := s.getRecordsInRange(runsBucket, model, start, end, func(data []byte) error {
		var run RunRecord
		if err := json.Unmarshal(data, &run); err != nil {
			return err
		}
		runs = append(runs, run)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}
