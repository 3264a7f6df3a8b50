// Package experiment runs one scene-classification experiment end to end:
// load the splits, extract descriptors, search hyperparameters with
// cross-validation, score the refit estimator on the test split and report.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"scene-bench/internal/descriptors"
	"scene-bench/internal/learn"
	"scene-bench/internal/metrics"
	"scene-bench/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// Config describes where an experiment reads and writes.
type Config struct {
	Name       string
	TrainPath  string
	TestPath   string
	CachePath  string // empty disables the descriptor cache
	OutputPath string
	Workers    int // extraction workers, 0 uses GOMAXPROCS
}

// Results holds the outcome of one run
type Results struct {
	RunID      string
	Name       string
	StartedAt  time.Time
	Duration   time.Duration
	Accuracy   float64
	BestParams map[string]any
	BestScore  float64
	CV         []learn.CVResult
	Folds      int
	RefitTime  time.Duration
	Classes    []string
	TrainSize  int
	TestSize   int
	Confusion  [][]int // rows are true classes, columns predictions
}

// Dir is the report directory of the run under outputPath.
func (r *Results) Dir(outputPath string) string {
	return filepath.Join(outputPath, r.Name+"-"+r.RunID)
}

// Runner wires a descriptor extractor and a hyperparameter search into a run.
type Runner struct {
	config    Config
	extractor descriptors.Extractor
	search    learn.Searcher[descriptors.Set]
	metrics   *metrics.Metrics
	store     *storage.Store
	data      *DataLoader
	results   *Results
	closers   []func() error
}

// NewRunner creates a runner and opens the descriptor cache under
// config.CachePath. m may be nil.
func NewRunner(config Config, ext descriptors.Extractor, search learn.Searcher[descriptors.Set], m *metrics.Metrics) (*Runner, error) {
	if ext == nil || search == nil {
		return nil, errors.New("experiment needs an extractor and a search")
	}
	if config.Name == "" {
		config.Name = ext.Name()
	}

	r := &Runner{
		config:    config,
		extractor: ext,
		search:    search,
		metrics:   m,
		data:      NewDataLoader(),
	}
	if config.CachePath != "" {
		store, err := storage.New(config.CachePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open descriptor cache: %w", err)
		}
		r.store = store
		r.closers = append(r.closers, store.Close)
	}
	return r, nil
}

// OnClose registers cleanup to run when the runner is closed, such as
// removing a downloaded model.
func (r *Runner) OnClose(fn func() error) {
	r.closers = append(r.closers, fn)
}

// Close releases every resource held by the runner. Cleanups run in reverse
// registration order and all of them run even when one fails.
func (r *Runner) Close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.closers[i]())
	}
	r.closers = nil
	return err
}

// Run executes the experiment. Results are available from GetResults once it
// returns nil.
func (r *Runner) Run(ctx context.Context) error {
	started := time.Now()
	log.Info().
		Str("experiment", r.config.Name).
		Str("extractor", r.extractor.Name()).
		Msg("Starting experiment")

	if err := r.data.Load(r.config.TrainPath, r.config.TestPath); err != nil {
		return err
	}

	opts := descriptors.Options{Workers: r.config.Workers, Metrics: r.metrics}
	if r.store != nil {
		opts.Cache = r.store
	}

	stop := r.metrics.Timer("Extract train descriptors")
	trainSets, err := descriptors.Compute(ctx, r.extractor, r.data.Train.Files, opts)
	stop()
	if err != nil {
		return fmt.Errorf("extract train descriptors: %w", err)
	}

	stop = r.metrics.Timer("Extract test descriptors")
	testSets, err := descriptors.Compute(ctx, r.extractor, r.data.Test.Files, opts)
	stop()
	if err != nil {
		return fmt.Errorf("extract test descriptors: %w", err)
	}

	stop = r.metrics.Timer("Train")
	err = r.search.Fit(ctx, trainSets, r.data.YTrain)
	stop()
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	stop = r.metrics.Timer("Test")
	pred, err := r.search.Predict(testSets)
	stop()
	if err != nil {
		return fmt.Errorf("predict test set: %w", err)
	}
	accuracy, err := learn.Accuracy(r.data.YTest, pred)
	if err != nil {
		return err
	}

	found := r.search.Results()
	classes := r.data.Classes()
	r.results = &Results{
		RunID:      uuid.NewString(),
		Name:       r.config.Name,
		StartedAt:  started,
		Duration:   time.Since(started),
		Accuracy:   accuracy,
		BestParams: found.BestParams,
		BestScore:  found.BestScore,
		CV:         found.CVResults,
		Folds:      found.Folds,
		RefitTime:  found.RefitTime,
		Classes:    classes,
		TrainSize:  r.data.Train.Len(),
		TestSize:   r.data.Test.Len(),
		Confusion:  learn.ConfusionMatrix(r.data.YTest, pred, len(classes)),
	}
	r.metrics.SetScores(found.BestScore, accuracy)

	if err := r.record(); err != nil {
		log.Warn().Err(err).Msg("failed to record run")
	}

	log.Info().
		Str("run_id", r.results.RunID).
		Float64("best_cv_score", found.BestScore).
		Float64("accuracy", accuracy).
		Float64("cache_hit_rate", r.metrics.CacheHitRate()).
		Dur("duration", r.results.Duration).
		Msg("Experiment completed")
	return nil
}

// record indexes the finished run in the cache database.
func (r *Runner) record() error {
	if r.store == nil {
		return nil
	}
	return r.store.StoreRun(storage.RunRecord{
		Name:       r.results.Name,
		RunID:      r.results.RunID,
		Timestamp:  r.results.StartedAt,
		Accuracy:   r.results.Accuracy,
		BestScore:  r.results.BestScore,
		BestParams: r.results.BestParams,
		OutputDir:  r.results.Dir(r.config.OutputPath),
	})
}

// GetResults returns the results of the last successful Run, or nil.
func (r *Runner) GetResults() *Results {
	return r.results
}
