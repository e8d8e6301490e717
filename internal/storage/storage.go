// Package storage persists fitted artifacts and detection history in BoltDB.
//
// Encoder tables, model payloads and training baselines are keyed by model
// name and version so a detection run always applies the encoders frozen at
// the fit that produced its model. Detection runs are keyed by model and
// timestamp for time-range queries.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	encodersBucket  = "encoders"
	modelsBucket    = "models"
	baselinesBucket = "baselines"
	runsBucket      = "runs"

	dbFileName = "fraud-data.db"
)

var ErrNotFound = errors.New("not found")

// Store provides persistent storage using BoltDB.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the database under dataPath and makes sure every
// bucket exists.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, dbFileName)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{encodersBucket, modelsBucket, baselinesBucket, runsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database. Closing twice is a no-op.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func artifactKey(name, version string) []byte {
	return []byte(name + "@" + version)
}

func (s *Store) put(bucket string, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", bucket, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put(key, data)
	})
}

func (s *Store) get(bucket string, key []byte, v any) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucket)).Get(key)
		if data == nil {
			return fmt.Errorf("%w: %s %s", ErrNotFound, bucket, key)
		}
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("unmarshal %s record: %w", bucket, err)
		}
		return nil
	})
}

// getRecordsInRange scans keys "prefix_<unixnano>" between start and end,
// inclusive, in time order.
func (s *Store) getRecordsInRange(bucketName, prefix string, start, end time.Time, unmarshalFunc func([]byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()

		p := []byte(prefix + "_")
		startKey := timeKey(prefix, start)
		endKey := timeKey(prefix, end)

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			if !bytes.HasPrefix(k, p) {
				continue
			}
			if err := unmarshalFunc(v); err != nil {
				continue // Skip malformed records
			}
		}
		return nil
	})
}

// timeKey zero-pads the timestamp so keys sort chronologically.
func timeKey(prefix string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s_%020d", prefix, ts.UnixNano()))
}
