package learn

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// FitObserver records the duration of every cross-validation fit.
type FitObserver interface {
	FitObserve(d time.Duration)
}

// CVResult summarizes one candidate over all folds. Times are in seconds.
type CVResult struct {
	Params           map[string]any
	SplitTestScores  []float64
	MeanTestScore    float64
	StdTestScore     float64
	RankTestScore    int
	SplitTrainScores []float64 // only with ReturnTrainScore
	MeanTrainScore   float64
	StdTrainScore    float64
	MeanFitTime      float64
	StdFitTime       float64
	MeanScoreTime    float64
	StdScoreTime     float64
}

// SearchResults is what a finished search found.
type SearchResults struct {
	CVResults  []CVResult
	BestIndex  int
	BestParams map[string]any
	BestScore  float64
	Folds      int
	RefitTime  time.Duration
}

// Searcher is implemented by GridSearch and RandomizedSearch.
type Searcher[T any] interface {
	Fit(ctx context.Context, X []T, y []int) error
	Predict(X []T) ([]int, error)
	Score(X []T, y []int) (float64, error)
	Results() SearchResults
}

// GridSearch evaluates every combination of Grid with stratified k-fold
// cross-validation and optionally refits the best one on all the data.
type GridSearch[T any] struct {
	Estimator        Estimator[T]
	Grid             Grid
	CV               StratifiedKFold
	Jobs             int // <= 0 uses GOMAXPROCS
	Refit            bool
	ReturnTrainScore bool
	Metrics          FitObserver

	CVResults     []CVResult
	BestIndex     int
	BestParams    map[string]any
	BestScore     float64
	BestEstimator Estimator[T]
	RefitTime     time.Duration
}

func NewGridSearch[T any](est Estimator[T], grid Grid) *GridSearch[T] {
	return &GridSearch[T]{
		Estimator: est,
		Grid:      grid,
		CV:        StratifiedKFold{K: 3},
		Refit:     true,
	}
}

func (s *GridSearch[T]) Fit(ctx context.Context, X []T, y []int) error {
	return s.search(ctx, X, y, ParameterGrid(s.Grid))
}

// RandomizedSearch evaluates NIter candidates drawn from Grid without
// replacement.
type RandomizedSearch[T any] struct {
	GridSearch[T]
	NIter int
	Seed  int64
}

func NewRandomizedSearch[T any](est Estimator[T], grid Grid, nIter int, seed int64) *RandomizedSearch[T] {
	return &RandomizedSearch[T]{
		GridSearch: *NewGridSearch(est, grid),
		NIter:      nIter,
		Seed:       seed,
	}
}

func (s *RandomizedSearch[T]) Fit(ctx context.Context, X []T, y []int) error {
	return s.search(ctx, X, y, SampleCandidates(ParameterGrid(s.Grid), s.NIter, s.Seed))
}

type splitScore struct {
	test, train float64
	fit, score  time.Duration
}

func (s *GridSearch[T]) search(ctx context.Context, X []T, y []int, candidates []map[string]any) error {
	if s.Estimator == nil {
		return errors.New("learn: search has no estimator")
	}
	if err := checkXY(len(X), y); err != nil {
		return err
	}
	folds, err := s.CV.Split(y)
	if err != nil {
		return err
	}
	jobs := s.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	total := len(candidates) * len(folds)
	log.Info().
		Int("jobs", jobs).
		Msgf("Fitting %d folds for each of %d candidates, totalling %d fits", len(folds), len(candidates), total)

	splits := make([][]splitScore, len(candidates))
	for c := range splits {
		splits[c] = make([]splitScore, len(folds))
	}

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for c, params := range candidates {
		for f, fold := range folds {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				sp, err := s.fitFold(gctx, X, y, params, f, fold)
				if err != nil {
					return fmt.Errorf("candidate %d (%s) fold %d: %w", c, FormatParams(params), f, err)
				}
				splits[c][f] = sp

				log.Debug().
					Str("params", FormatParams(params)).
					Float64("score", sp.test).
					Dur("fit_time", sp.fit).
					Msgf("[CV %d/%d] fold %d done", done.Add(1), total, f+1)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.CVResults = summarize(candidates, splits, s.ReturnTrainScore)
	s.BestIndex = 0
	for i, r := range s.CVResults {
		if r.RankTestScore == 1 {
			s.BestIndex = i
			break
		}
	}
	best := s.CVResults[s.BestIndex]
	s.BestParams = best.Params
	s.BestScore = best.MeanTestScore

	log.Info().
		Str("best_params", FormatParams(s.BestParams)).
		Float64("best_score", s.BestScore).
		Msg("Search finished")

	s.BestEstimator = nil
	if !s.Refit {
		return nil
	}
	est := s.Estimator.Clone()
	if err := est.SetParams(s.BestParams); err != nil {
		return err
	}
	start := time.Now()
	if err := est.Fit(WithFold(ctx, "full"), X, y); err != nil {
		return fmt.Errorf("refit: %w", err)
	}
	s.RefitTime = time.Since(start)
	s.BestEstimator = est
	return nil
}

func (s *GridSearch[T]) fitFold(ctx context.Context, X []T, y []int, params map[string]any, f int, fold Fold) (splitScore, error) {
	var sp splitScore
	est := s.Estimator.Clone()
	if err := est.SetParams(params); err != nil {
		return sp, err
	}

	Xtr, ytr := subset(X, fold.Train), subset(y, fold.Train)
	start := time.Now()
	if err := est.Fit(WithFold(ctx, "fold-"+strconv.Itoa(f)), Xtr, ytr); err != nil {
		return sp, err
	}
	sp.fit = time.Since(start)
	if s.Metrics != nil {
		s.Metrics.FitObserve(sp.fit)
	}

	var err error
	start = time.Now()
	if sp.test, err = score(est, subset(X, fold.Test), subset(y, fold.Test)); err != nil {
		return sp, err
	}
	sp.score = time.Since(start)

	if s.ReturnTrainScore {
		if sp.train, err = score(est, Xtr, ytr); err != nil {
			return sp, err
		}
	}
	return sp, nil
}

func score[T any](est Estimator[T], X []T, y []int) (float64, error) {
	pred, err := est.Predict(X)
	if err != nil {
		return 0, err
	}
	return Accuracy(y, pred)
}

func summarize(candidates []map[string]any, splits [][]splitScore, withTrain bool) []CVResult {
	meanStd := func(xs []float64) (float64, float64) {
		m, _ := stats.Mean(xs)
		sd, _ := stats.StandardDeviationPopulation(xs)
		return m, sd
	}

	out := make([]CVResult, len(candidates))
	for c, params := range candidates {
		n := len(splits[c])
		test := make([]float64, n)
		train := make([]float64, n)
		fit := make([]float64, n)
		sc := make([]float64, n)
		for f, sp := range splits[c] {
			test[f] = sp.test
			train[f] = sp.train
			fit[f] = sp.fit.Seconds()
			sc[f] = sp.score.Seconds()
		}

		r := CVResult{Params: params, SplitTestScores: test}
		r.MeanTestScore, r.StdTestScore = meanStd(test)
		r.MeanFitTime, r.StdFitTime = meanStd(fit)
		r.MeanScoreTime, r.StdScoreTime = meanStd(sc)
		if withTrain {
			r.SplitTrainScores = train
			r.MeanTrainScore, r.StdTrainScore = meanStd(train)
		}
		out[c] = r
	}

	// method "min": tied candidates share the best rank
	for i := range out {
		rank := 1
		for j := range out {
			if out[j].MeanTestScore > out[i].MeanTestScore {
				rank++
			}
		}
		out[i].RankTestScore = rank
	}
	return out
}

func (s *GridSearch[T]) Predict(X []T) ([]int, error) {
	if s.BestEstimator == nil {
		return nil, ErrNotFitted
	}
	return s.BestEstimator.Predict(X)
}

// Score returns the accuracy of the refit estimator on X.
func (s *GridSearch[T]) Score(X []T, y []int) (float64, error) {
	if s.BestEstimator == nil {
		return 0, ErrNotFitted
	}
	return score(s.BestEstimator, X, y)
}

func (s *GridSearch[T]) Results() SearchResults {
	return SearchResults{
		CVResults:  s.CVResults,
		BestIndex:  s.BestIndex,
		BestParams: s.BestParams,
		BestScore:  s.BestScore,
		Folds:      s.CV.K,
		RefitTime:  s.RefitTime,
	}
}

// ParamNames returns the sorted union of parameter names across results.
func ParamNames(results []CVResult) []string {
	seen := make(map[string]struct{})
	for _, r := range results {
		for k := range r.Params {
			seen[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
