package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Store database is nil")
	}

	dbPath := filepath.Join(tempDir, "descriptors.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
	if store.Path() != dbPath {
		t.Errorf("Expected path %s, got %s", dbPath, store.Path())
	}
}

func TestNew_CreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")

	store, err := New(dir)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(filepath.Join(dir, "descriptors.db"))
	assert.NoError(t, err)
}

func TestNew_InvalidPath(t *testing.T) {
	// A regular file cannot be used as the cache directory
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := New(file)
	if err == nil {
		t.Error("Expected error for invalid path, got nil")
	}
}

func TestStore_Close(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("Error closing store: %v", err)
	}

	// Closing an already closed store is a no-op
	if err := store.Close(); err != nil {
		t.Errorf("Error closing already closed store: %v", err)
	}
}

func TestStore_CloseNilDB(t *testing.T) {
	store := &Store{db: nil}
	if err := store.Close(); err != nil {
		t.Errorf("Expected no error for nil db, got: %v", err)
	}
}

func TestPutGet(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put("sift", "a", []byte("hello")))

	got, err := store.Get("sift", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	_, err = store.Get("sift", "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = store.Get("no-such-bucket", "a")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPutGetBlob(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	payload := bytes.Repeat([]byte("descriptor"), 1000)
	require.NoError(t, store.PutBlob("sift", "img", payload))

	raw, err := store.Get("sift", "img")
	require.NoError(t, err)
	assert.Less(t, len(raw), len(payload), "blob should be stored compressed")

	got, err := store.GetBlob("sift", "img")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestGetBlob_Corrupt(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put("sift", "bad", []byte("not zstd")))
	_, err = store.GetBlob("sift", "bad")
	assert.Error(t, err)
}

func TestBucketsCountDrop(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, store.Put("sift-1", k, []byte(k)))
	}

	n, err := store.Count("sift-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = store.Count("missing")
	require.NoError(t, err)
	assert.Zero(t, n)

	buckets, err := store.Buckets()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"runs", "sift-1"}, buckets)

	require.NoError(t, store.Drop("sift-1"))
	require.NoError(t, store.Drop("sift-1"), "dropping a missing bucket is not an error")
	assert.Error(t, store.Drop("runs"))

	n, err = store.Count("sift-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentPut(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			if err := store.PutBlob("bucket", key, []byte(key)); err != nil {
				t.Errorf("PutBlob failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	n, err := store.Count("bucket")
	require.NoError(t, err)
	assert.Equal(t, 16, n)
}

func TestStoreAndGetRuns(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	now := time.Now()
	runs := []RunRecord{
		{Name: "sift-svm", RunID: "1", Timestamp: now, Accuracy: 0.71},
		{Name: "sift-svm", RunID: "2", Timestamp: now.Add(time.Second), Accuracy: 0.74},
		{Name: "mlp-bow", RunID: "3", Timestamp: now.Add(2 * time.Second), Accuracy: 0.80},
		{Name: "sift-svm", RunID: "4", Timestamp: now.Add(10 * time.Second), Accuracy: 0.75}, // Outside range
	}
	for _, r := range runs {
		require.NoError(t, store.StoreRun(r))
	}

	got, err := store.GetRuns("sift-svm", now.Add(-time.Second), now.Add(5*time.Second))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].RunID)
	assert.Equal(t, "2", got[1].RunID)
	assert.InDelta(t, 0.74, got[1].Accuracy, 1e-9)
}

func TestGetRuns_EmptyResult(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	now := time.Now()
	runs, err := store.GetRuns("sift-svm", now.Add(-time.Hour), now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("Failed to get runs: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("Expected empty result, got %d runs", len(runs))
	}
}
