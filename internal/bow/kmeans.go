package bow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
)

// KMeans partitions vectors into K clusters with Lloyd's algorithm seeded by
// k-means++.
type KMeans struct {
	K       int
	MaxIter int
	Tol     float64 // relative to the mean feature variance
	Seed    int64

	Centroids [][]float64
	Inertia   float64 // sum of squared distances to the nearest centroid
	NIter     int
}

func NewKMeans(k int, seed int64) *KMeans {
	return &KMeans{K: k, MaxIter: 300, Tol: 1e-4, Seed: seed}
}

// Fit clusters X. The rows of X are not modified.
func (m *KMeans) Fit(ctx context.Context, X [][]float64) error {
	if len(X) == 0 {
		return errors.New("input data cannot be empty")
	}
	n, p := len(X), len(X[0])
	if m.K <= 0 {
		return fmt.Errorf("K must be positive, got %d", m.K)
	}
	if n < m.K {
		return fmt.Errorf("number of data points (%d) is less than K (%d)", n, m.K)
	}
	for i, row := range X {
		if len(row) != p {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(row), p)
		}
	}

	rng := rand.New(rand.NewSource(m.Seed))
	m.Centroids = initCenters(X, m.K, rng)
	tol := m.Tol * meanVariance(X)

	assign := make([]int, n)
	dist := make([]float64, n)
	maxIter := m.MaxIter
	if maxIter <= 0 {
		maxIter = 300
	}

	for m.NIter = 0; m.NIter < maxIter; m.NIter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.Inertia = m.assign(X, assign, dist)

		// Update step
		sums := make([][]float64, m.K)
		counts := make([]int, m.K)
		for k := range sums {
			sums[k] = make([]float64, p)
		}
		for i, k := range assign {
			floats.Add(sums[k], X[i])
			counts[k]++
		}

		taken := make(map[int]bool)
		shift := 0.0
		for k := range sums {
			if counts[k] == 0 {
				// Reseed an empty cluster at the point worst served by its centroid
				far := farthest(dist, taken)
				taken[far] = true
				copy(sums[k], X[far])
				dist[far] = 0
			} else {
				floats.Scale(1/float64(counts[k]), sums[k])
			}
			shift += sqDist(sums[k], m.Centroids[k])
			m.Centroids[k] = sums[k]
		}

		if shift <= tol {
			m.NIter++
			break
		}
	}
	m.Inertia = m.assign(X, assign, dist)

	log.Debug().
		Int("k", m.K).
		Int("samples", n).
		Int("iterations", m.NIter).
		Float64("inertia", m.Inertia).
		Msg("k-means converged")
	return nil
}

// assign labels every row with its nearest centroid in parallel and returns
// the inertia.
func (m *KMeans) assign(X [][]float64, assign []int, dist []float64) float64 {
	n := len(X)
	workers := runtime.GOMAXPROCS(0)
	rowsPerWorker := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * rowsPerWorker
		end := min(start+rowsPerWorker, n)
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				assign[i], dist[i] = m.nearest(X[i])
			}
		}(start, end)
	}
	wg.Wait()
	return floats.Sum(dist)
}

func (m *KMeans) nearest(x []float64) (int, float64) {
	best, bestD := 0, math.MaxFloat64
	for k, c := range m.Centroids {
		if d := sqDist(x, c); d < bestD {
			best, bestD = k, d
		}
	}
	return best, bestD
}

// Predict returns the nearest centroid of every row.
func (m *KMeans) Predict(X [][]float64) ([]int, error) {
	if m.Centroids == nil {
		return nil, errors.New("k-means is not fitted")
	}
	p := len(m.Centroids[0])
	for i, row := range X {
		if len(row) != p {
			return nil, fmt.Errorf("row %d has %d features, centroids have %d", i, len(row), p)
		}
	}
	out := make([]int, len(X))
	m.assign(X, out, make([]float64, len(X)))
	return out, nil
}

// initCenters runs k-means++: each next center is drawn with probability
// proportional to its squared distance to the closest center so far.
func initCenters(X [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(X)
	centers := make([][]float64, 0, k)
	centers = append(centers, append([]float64(nil), X[rng.Intn(n)]...))

	minDist := make([]float64, n)
	for i, x := range X {
		minDist[i] = sqDist(x, centers[0])
	}
	for len(centers) < k {
		total := floats.Sum(minDist)
		idx := rng.Intn(n)
		if total > 0 {
			r := rng.Float64() * total
			cumulative := 0.0
			for i, d := range minDist {
				cumulative += d
				if cumulative >= r && d > 0 {
					idx = i
					break
				}
			}
		}
		c := append([]float64(nil), X[idx]...)
		centers = append(centers, c)
		for i, x := range X {
			if d := sqDist(x, c); d < minDist[i] {
				minDist[i] = d
			}
		}
	}
	return centers
}

func farthest(dist []float64, taken map[int]bool) int {
	best, bestD := 0, -1.0
	for i, d := range dist {
		if d > bestD && !taken[i] {
			best, bestD = i, d
		}
	}
	return best
}

func meanVariance(X [][]float64) float64 {
	p := len(X[0])
	mean := make([]float64, p)
	for _, row := range X {
		floats.Add(mean, row)
	}
	floats.Scale(1/float64(len(X)), mean)
	total := 0.0
	for _, row := range X {
		total += sqDist(row, mean)
	}
	return total / float64(len(X)*p)
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i, v := range a {
		d := v - b[i]
		s += d * d
	}
	return s
}
