// Package storage provides persistent storage for the experiment runner.
// It uses BoltDB as the underlying storage engine to memoize descriptor
// computations and to keep an index of finished experiment runs.
//
// Values in descriptor buckets are zstd-compressed blobs; run records are
// stored as JSON and can be queried by time range.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.etcd.io/bbolt"
)

const dbFile = "descriptors.db"

// ErrNotFound is returned when a key is missing from a bucket.
var ErrNotFound = errors.New("storage: key not found")

// Store provides persistent storage backed by BoltDB.
// It is safe for concurrent use; BoltDB serializes writers internally.
type Store struct {
	db  *bbolt.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// New creates a new storage instance under dataPath, creating the directory
// if needed. Returns an error if the database cannot be opened.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	dbPath := filepath.Join(dataPath, dbFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return fmt.Errorf("create runs bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &Store{db: db, enc: enc, dec: dec}, nil
}

// Close closes the database. Closing twice is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if s.dec != nil {
		s.dec.Close()
		s.dec = nil
	}
	if s.enc != nil {
		s.enc.Close()
		s.enc = nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

// Put stores value under key, creating the bucket on first use.
func (s *Store) Put(bucket, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		return b.Put([]byte(key), value)
	})
}

// Get returns a copy of the value stored under key, or ErrNotFound.
func (s *Store) Get(bucket, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// bbolt memory is only valid inside the transaction
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// PutBlob compresses value with zstd and stores it under key.
func (s *Store) PutBlob(bucket, key string, value []byte) error {
	return s.Put(bucket, key, s.enc.EncodeAll(value, nil))
}

// GetBlob returns the decompressed value stored with PutBlob.
func (s *Store) GetBlob(bucket, key string) ([]byte, error) {
	raw, err := s.Get(bucket, key)
	if err != nil {
		return nil, err
	}
	out, err := s.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress %s/%s: %w", bucket, key, err)
	}
	return out, nil
}

// Buckets lists all bucket names.
func (s *Store) Buckets() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

// Count returns the number of keys in bucket; a missing bucket has zero keys.
func (s *Store) Count(bucket string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// Drop deletes bucket and everything in it. The run index cannot be dropped.
func (s *Store) Drop(bucket string) error {
	if bucket == runsBucket {
		return fmt.Errorf("bucket %q holds the run index and cannot be dropped", bucket)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket([]byte(bucket))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}
