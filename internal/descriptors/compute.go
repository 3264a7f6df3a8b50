package descriptors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"scene-bench/internal/storage"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Extractor computes the descriptors of one image file. Name and Config
// together identify the output, so changing any setting invalidates cached
// results.
type Extractor interface {
	Name() string
	Config() string
	Extract(path string) (Set, error)
}

// Cache stores encoded sets. *storage.Store satisfies it.
type Cache interface {
	GetBlob(bucket, key string) ([]byte, error)
	PutBlob(bucket, key string, value []byte) error
}

// Metrics receives extraction counters. *metrics.Metrics satisfies it.
type Metrics interface {
	CacheHitInc()
	CacheMissInc()
	ImageProcessed(descriptors int)
	ExtractErrorInc()
}

type noopMetrics struct{}

func (noopMetrics) CacheHitInc()       {}
func (noopMetrics) CacheMissInc()      {}
func (noopMetrics) ImageProcessed(int) {}
func (noopMetrics) ExtractErrorInc()   {}

type Options struct {
	Cache   Cache // nil disables memoization
	Workers int   // 0 uses GOMAXPROCS
	Metrics Metrics
}

// Bucket returns the cache bucket holding the results of ext.
func Bucket(ext Extractor) string {
	return fmt.Sprintf("%s-%016x", ext.Name(), xxhash.Sum64String(ext.Config()))
}

// CacheKey identifies one file's descriptors. The key covers the absolute
// path, size and modification time, so an edited image is recomputed.
func CacheKey(ext Extractor, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}

	d := xxhash.New()
	for _, part := range []string{
		ext.Name(), ext.Config(), abs,
		strconv.FormatInt(info.Size(), 10),
		strconv.FormatInt(info.ModTime().UnixNano(), 10),
	} {
		d.WriteString(part)
		d.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", d.Sum64()), nil
}

// Compute extracts descriptors for every file, in input order. The first
// failure cancels the remaining work.
func Compute(ctx context.Context, ext Extractor, files []string, opts Options) ([]Set, error) {
	m := opts.Metrics
	if m == nil {
		m = noopMetrics{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	bucket := Bucket(ext)

	log.Info().
		Str("extractor", ext.Name()).
		Str("config", ext.Config()).
		Int("files", len(files)).
		Int("workers", workers).
		Bool("cached", opts.Cache != nil).
		Msg("Computing descriptors")

	sets := make([]Set, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			set, err := computeOne(ext, file, bucket, opts.Cache, m)
			if err != nil {
				m.ExtractErrorInc()
				return fmt.Errorf("%s: %w", file, err)
			}
			m.ImageProcessed(set.Len())
			sets[i] = set
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sets, nil
}

func computeOne(ext Extractor, file, bucket string, cache Cache, m Metrics) (Set, error) {
	if cache == nil {
		return ext.Extract(file)
	}

	key, err := CacheKey(ext, file)
	if err != nil {
		return Set{}, err
	}

	data, err := cache.GetBlob(bucket, key)
	if err == nil {
		var set Set
		err = set.UnmarshalBinary(data)
		if err == nil {
			m.CacheHitInc()
			return set, nil
		}
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Err(err).Str("file", file).Msg("Discarding unreadable cache entry")
	}
	m.CacheMissInc()

	set, err := ext.Extract(file)
	if err != nil {
		return Set{}, err
	}
	data, err = set.MarshalBinary()
	if err != nil {
		return Set{}, err
	}
	if err := cache.PutBlob(bucket, key, data); err != nil {
		// a failed write only costs a recomputation next run
		log.Warn().Err(err).Str("file", file).Msg("Failed to cache descriptors")
	}
	return set, nil
}

// Stack concatenates the rows of all sets into one matrix-shaped slice.
func Stack(sets []Set) [][]float64 {
	total := 0
	for _, s := range sets {
		total += s.Len()
	}
	out := make([][]float64, 0, total)
	for _, s := range sets {
		for _, row := range s.Rows {
			r := make([]float64, len(row))
			for j, v := range row {
				r[j] = float64(v)
			}
			out = append(out, r)
		}
	}
	return out
}
