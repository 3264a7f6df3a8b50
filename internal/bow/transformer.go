// Package bow encodes descriptor sets as visual-word histograms.
//
// A codebook is learned with k-means on a random subsample of the training
// descriptors. Each image is then described by the counts of its nearest
// codewords, optionally pooled over a spatial pyramid (Lazebnik et al. 2006).
package bow

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"scene-bench/internal/common"
	"scene-bench/internal/descriptors"
	"scene-bench/internal/learn"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// Histogram normalizations
const (
	NormNone  = "none"
	NormL1    = "l1"
	NormL2    = "l2"
	NormPower = "power" // signed square root followed by l2
)

const maxLevels = 4

func ValidNorm(norm string) bool {
	switch norm {
	case NormNone, NormL1, NormL2, NormPower:
		return true
	}
	return false
}

// Transformer learns a codebook and encodes descriptor sets. Levels = 1 is a
// plain bag of words; level l adds a 2^l x 2^l grid of cell histograms.
type Transformer struct {
	Clusters int
	Samples  int // descriptors drawn to fit the codebook
	Levels   int
	Norm     string
	Seed     int64
	MaxIter  int

	codebook *KMeans
}

// SpatialPyramid returns a pyramid encoder with the default vocabulary.
func SpatialPyramid(levels int) *Transformer {
	return &Transformer{
		Clusters: common.DefaultClusters,
		Samples:  common.DefaultSamples,
		Levels:   levels,
		Norm:     common.DefaultNorm,
		Seed:     common.DefaultSeed,
		MaxIter:  300,
	}
}

// BoW returns a single-level encoder.
func BoW(clusters, samples int, norm string) *Transformer {
	return &Transformer{
		Clusters: clusters,
		Samples:  samples,
		Levels:   1,
		Norm:     norm,
		Seed:     common.DefaultSeed,
		MaxIter:  300,
	}
}

// Dim is the length of an encoded vector: Clusters * sum(4^l).
func (t *Transformer) Dim() int {
	cells := 0
	for l := 0; l < t.Levels; l++ {
		cells += 1 << (2 * l)
	}
	return t.Clusters * cells
}

// Codebook returns the fitted k-means model, or nil.
func (t *Transformer) Codebook() *KMeans {
	return t.codebook
}

func (t *Transformer) validate() error {
	if t.Clusters < 2 {
		return fmt.Errorf("need at least 2 clusters, got %d", t.Clusters)
	}
	if t.Levels < 1 || t.Levels > maxLevels {
		return fmt.Errorf("pyramid levels must be between 1 and %d, got %d", maxLevels, t.Levels)
	}
	if !ValidNorm(t.Norm) {
		return fmt.Errorf("unknown norm %q", t.Norm)
	}
	return nil
}

func (t *Transformer) Fit(ctx context.Context, X []descriptors.Set, _ []int) error {
	if err := t.validate(); err != nil {
		return err
	}
	sample := t.subsample(X)

	log.Info().
		Int("clusters", t.Clusters).
		Int("descriptors", len(sample)).
		Int("images", len(X)).
		Msg("Fitting codebook")

	km := NewKMeans(t.Clusters, t.Seed)
	if t.MaxIter > 0 {
		km.MaxIter = t.MaxIter
	}
	if err := km.Fit(ctx, sample); err != nil {
		return fmt.Errorf("codebook: %w", err)
	}
	t.codebook = km
	return nil
}

// subsample draws up to Samples descriptor rows from all sets without replacement.
func (t *Transformer) subsample(X []descriptors.Set) [][]float64 {
	total := 0
	for _, s := range X {
		total += s.Len()
	}
	if t.Samples <= 0 || total <= t.Samples {
		return descriptors.Stack(X)
	}

	rng := rand.New(rand.NewSource(t.Seed))
	picked := rng.Perm(total)[:t.Samples]
	sort.Ints(picked)

	out := make([][]float64, 0, t.Samples)
	set, base := 0, 0
	for _, g := range picked {
		for g >= base+X[set].Len() {
			base += X[set].Len()
			set++
		}
		row := X[set].Rows[g-base]
		v := make([]float64, len(row))
		for j, f := range row {
			v[j] = float64(f)
		}
		out = append(out, v)
	}
	return out
}

func (t *Transformer) Transform(X []descriptors.Set) ([][]float64, error) {
	if t.codebook == nil {
		return nil, learn.ErrNotFitted
	}
	out := make([][]float64, len(X))

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, set := range X {
		g.Go(func() error {
			v, err := t.encode(set)
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Transformer) encode(set descriptors.Set) ([]float64, error) {
	hist := make([]float64, t.Dim())
	if set.Len() == 0 {
		return hist, nil
	}
	if dim := len(t.codebook.Centroids[0]); set.Dim() != dim {
		return nil, fmt.Errorf("descriptors have %d dimensions, codebook has %d", set.Dim(), dim)
	}

	row := make([]float64, set.Dim())
	for i, r := range set.Rows {
		for j, f := range r {
			row[j] = float64(f)
		}
		word, _ := t.codebook.nearest(row)

		x, y := set.Normalized(i)
		offset := 0
		for l := 0; l < t.Levels; l++ {
			g := 1 << l
			cell := int(y*float64(g))*g + int(x*float64(g))
			hist[offset+cell*t.Clusters+word]++
			offset += g * g * t.Clusters
		}
	}

	offset := 0
	for l := 0; l < t.Levels; l++ {
		size := (1 << (2 * l)) * t.Clusters
		floats.Scale(levelWeight(l, t.Levels), hist[offset:offset+size])
		offset += size
	}
	normalize(hist, t.Norm)
	return hist, nil
}

// levelWeight gives coarse levels less weight: 1/2^(L-1) for level 0 and
// 1/2^(L-l) for level l > 0, with L levels in total.
func levelWeight(l, levels int) float64 {
	if l == 0 {
		return 1 / math.Pow(2, float64(levels-1))
	}
	return 1 / math.Pow(2, float64(levels-l))
}

func normalize(v []float64, norm string) {
	switch norm {
	case NormL1:
		if n := floats.Norm(v, 1); n > 0 {
			floats.Scale(1/n, v)
		}
	case NormL2:
		if n := floats.Norm(v, 2); n > 0 {
			floats.Scale(1/n, v)
		}
	case NormPower:
		for i, x := range v {
			v[i] = math.Copysign(math.Sqrt(math.Abs(x)), x)
		}
		normalize(v, NormL2)
	}
}

func (t *Transformer) Params() map[string]any {
	return map[string]any{
		"clusters": t.Clusters,
		"samples":  t.Samples,
		"levels":   t.Levels,
		"norm":     t.Norm,
		"seed":     t.Seed,
		"max_iter": t.MaxIter,
	}
}

func (t *Transformer) SetParam(name string, v any) error {
	switch name {
	case "clusters":
		return learn.Assign(&t.Clusters, learn.AsInt, name, v)
	case "samples":
		return learn.Assign(&t.Samples, learn.AsInt, name, v)
	case "levels":
		return learn.Assign(&t.Levels, learn.AsInt, name, v)
	case "norm":
		norm, err := learn.AsString(name, v)
		if err != nil {
			return err
		}
		if !ValidNorm(norm) {
			return fmt.Errorf("%w: norm=%q", learn.ErrBadParam, norm)
		}
		t.Norm = norm
		return nil
	case "seed":
		seed, err := learn.AsInt(name, v)
		if err != nil {
			return err
		}
		t.Seed = int64(seed)
		return nil
	case "max_iter":
		return learn.Assign(&t.MaxIter, learn.AsInt, name, v)
	}
	return fmt.Errorf("%w: %q", learn.ErrUnknownParam, name)
}

func (t *Transformer) Clone() learn.Featurizer[descriptors.Set] {
	return &Transformer{
		Clusters: t.Clusters,
		Samples:  t.Samples,
		Levels:   t.Levels,
		Norm:     t.Norm,
		Seed:     t.Seed,
		MaxIter:  t.MaxIter,
	}
}
