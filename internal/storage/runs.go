package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const runsBucket = "runs" // Bucket name for finished experiment runs

// RunRecord is a compact index entry for one finished experiment
type RunRecord struct {
	Name       string         `json:"name"`
	RunID      string         `json:"run_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Accuracy   float64        `json:"accuracy"`
	BestScore  float64        `json:"best_score"`
	BestParams map[string]any `json:"best_params"`
	OutputDir  string         `json:"output_dir"`
}

// StoreRun stores a run record keyed by "name_timestamp" so runs of one
// experiment sort chronologically.
func (s *Store) StoreRun(record RunRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal run record: %w", err)
		}

		return b.Put(runKey(record.Name, record.Timestamp), data)
	})
}

// GetRuns retrieves run records for an experiment within a time range.
// The time range is inclusive of both start and end times.
func (s *Store) GetRuns(name string, start, end time.Time) ([]RunRecord, error) {
	var runs []RunRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()

		prefix := []byte(name + "_")
		endKey := runKey(name, end)

		for k, v := c.Seek(runKey(name, start)); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			if !bytes.HasPrefix(k, prefix) {
				continue
			}

			var run RunRecord
			if err := json.Unmarshal(v, &run); err != nil {
				continue // Skip malformed records
			}
			runs = append(runs, run)
		}
		return nil
	})

	return runs, err
}

// runKey zero-pads the timestamp so lexical order matches time order
func runKey(name string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s_%020d", name, ts.UnixNano()))
}
