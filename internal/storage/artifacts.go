package storage

import (
	"fmt"
	"time"

	"fraud-detector/internal/features"
	"fraud-detector/internal/ml"
)

// ModelRecord is a serialised model together with what is needed to score
// with it.
type ModelRecord struct {
	Name       string        `json:"name"`
	Version    string        `json:"version"`
	Convention ml.Convention `json:"convention"`
	Schema     []string      `json:"schema"`
	CreatedAt  time.Time     `json:"created_at"`
	// Payload is the model itself for native models, empty for models
	// persisted as external files.
	Payload []byte `json:"payload,omitempty"`
}

// SaveEncoders stores the encoder table fitted with a model version.
func (s *Store) SaveEncoders(name, version string, table features.EncoderTable) error {
	if err := table.Validate(); err != nil {
		return fmt.Errorf("refusing to store encoder table: %w", err)
	}
	return s.put(encodersBucket, artifactKey(name, version), table)
}

func (s *Store) LoadEncoders(name, version string) (features.EncoderTable, error) {
	var table features.EncoderTable
	if err := s.get(encodersBucket, artifactKey(name, version), &table); err != nil {
		return nil, err
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("stored encoder table for %s@%s: %w", name, version, err)
	}
	return table, nil
}

func (s *Store) SaveModel(rec ModelRecord) error {
	if rec.Name == "" || rec.Version == "" {
		return fmt.Errorf("model record needs a name and a version")
	}
	return s.put(modelsBucket, artifactKey(rec.Name, rec.Version), rec)
}

func (s *Store) LoadModel(name, version string) (*ModelRecord, error) {
	var rec ModelRecord
	if err := s.get(modelsBucket, artifactKey(name, version), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveBaseline stores the training feature distribution used for drift checks.
func (s *Store) SaveBaseline(name, version string, b *ml.Baseline) error {
	return s.put(baselinesBucket, artifactKey(name, version), b)
}

func (s *Store) LoadBaseline(name, version string) (*ml.Baseline, error) {
	var b ml.Baseline
	if err := s.get(baselinesBucket, artifactKey(name, version), &b); err != nil {
		return nil, err
	}
	return &b, nil
}
