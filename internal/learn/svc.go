package learn

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// SVC is a C-support vector classifier. Binary problems are solved with SMO
// using second order working set selection; more classes are handled one
// against one with majority voting.
type SVC struct {
	C       float64
	Kernel  string
	Gamma   float64 // <= 0 selects 1/(n_features*Var(X))
	Degree  int
	Coef0   float64
	Tol     float64
	MaxIter int // 0 picks max(10_000_000, 100*n)

	classes  []int
	sv       [][]float64
	machines []machine
	kernel   kernelFunc
	gamma    float64
	dim      int
}

// machine separates classes[pos] (positive side) from classes[neg].
type machine struct {
	pos, neg int
	idx      []int // into SVC.sv
	coef     []float64
	rho      float64
}

func NewSVC(c float64, kernel string, gamma float64) *SVC {
	return &SVC{C: c, Kernel: kernel, Gamma: gamma, Degree: 3, Tol: 1e-3}
}

func (s *SVC) Fit(ctx context.Context, X [][]float64, y []int) error {
	if err := checkXY(len(X), y); err != nil {
		return err
	}
	dim, err := checkMatrix(X)
	if err != nil {
		return err
	}
	if s.C <= 0 {
		return fmt.Errorf("%w: C must be positive, got %v", ErrBadParam, s.C)
	}

	s.gamma = s.Gamma
	if s.gamma <= 0 {
		s.gamma = scaleGamma(X)
	}
	s.dim = dim
	kernel, err := newKernel(s.Kernel, s.gamma, s.Degree, s.Coef0)
	if err != nil {
		return err
	}
	s.kernel = kernel

	byClass := make(map[int][]int)
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	s.classes = make([]int, 0, len(byClass))
	for label := range byClass {
		s.classes = append(s.classes, label)
	}
	sort.Ints(s.classes)
	s.sv, s.machines = nil, nil
	if len(s.classes) == 1 {
		return nil
	}

	gram, err := gramMatrix(ctx, X, kernel)
	if err != nil {
		return err
	}

	svPos := make(map[int]int)
	for a := 0; a < len(s.classes); a++ {
		for b := a + 1; b < len(s.classes); b++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			idx := mergeSorted(byClass[s.classes[a]], byClass[s.classes[b]])
			labels := make([]float64, len(idx))
			for k, i := range idx {
				if y[i] == s.classes[a] {
					labels[k] = 1
				} else {
					labels[k] = -1
				}
			}

			solver := newSMO(gram, idx, labels, s.C, s.Tol, s.maxIter(len(idx)))
			alpha, rho, err := solver.solve(ctx)
			if err != nil {
				return err
			}

			m := machine{pos: a, neg: b, rho: rho}
			for k, al := range alpha {
				if al <= 0 {
					continue
				}
				g := idx[k]
				p, ok := svPos[g]
				if !ok {
					p = len(s.sv)
					svPos[g] = p
					s.sv = append(s.sv, X[g])
				}
				m.idx = append(m.idx, p)
				m.coef = append(m.coef, al*labels[k])
			}
			s.machines = append(s.machines, m)
		}
	}

	log.Debug().
		Str("kernel", s.Kernel).
		Float64("C", s.C).
		Float64("gamma", s.gamma).
		Int("classes", len(s.classes)).
		Int("support_vectors", len(s.sv)).
		Msg("SVC fitted")
	return nil
}

func (s *SVC) maxIter(n int) int {
	if s.MaxIter > 0 {
		return s.MaxIter
	}
	return max(10_000_000, 100*n)
}

// gramMatrix evaluates the kernel on every pair of rows.
func gramMatrix(ctx context.Context, X [][]float64, kernel kernelFunc) ([][]float64, error) {
	n := len(X)
	backing := make([]float64, n*n)
	gram := make([][]float64, n)
	for i := range gram {
		gram[i] = backing[i*n : (i+1)*n]
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			// row i owns cells (i, j) and (j, i) for j >= i
			for j := i; j < n; j++ {
				v := kernel(X[i], X[j])
				gram[i][j] = v
				gram[j][i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return gram, nil
}

func mergeSorted(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] < b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

func (s *SVC) Predict(X [][]float64) ([]int, error) {
	if s.classes == nil {
		return nil, ErrNotFitted
	}
	out := make([]int, len(X))
	if len(s.classes) == 1 {
		for i := range out {
			out[i] = s.classes[0]
		}
		return out, nil
	}
	for _, x := range X {
		if len(x) != s.dim {
			return nil, fmt.Errorf("learn: SVC fit on %d features, got %d", s.dim, len(x))
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, x := range X {
		g.Go(func() error {
			out[i] = s.classes[s.vote(x)]
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// vote returns the index of the winning class. Ties go to the lower index.
func (s *SVC) vote(x []float64) int {
	kx := make([]float64, len(s.sv))
	for u, v := range s.sv {
		kx[u] = s.kernel(x, v)
	}
	votes := make([]int, len(s.classes))
	for _, m := range s.machines {
		f := -m.rho
		for k, p := range m.idx {
			f += m.coef[k] * kx[p]
		}
		if f > 0 {
			votes[m.pos]++
		} else {
			votes[m.neg]++
		}
	}
	best := 0
	for c := 1; c < len(votes); c++ {
		if votes[c] > votes[best] {
			best = c
		}
	}
	return best
}

// NSupport returns the number of distinct support vectors.
func (s *SVC) NSupport() int {
	return len(s.sv)
}

// Classes returns the labels seen during Fit, sorted.
func (s *SVC) Classes() []int {
	return s.classes
}

func (s *SVC) Params() map[string]any {
	return map[string]any{
		"C":        s.C,
		"kernel":   s.Kernel,
		"gamma":    s.Gamma,
		"degree":   s.Degree,
		"coef0":    s.Coef0,
		"tol":      s.Tol,
		"max_iter": s.MaxIter,
	}
}

func (s *SVC) SetParam(name string, v any) error {
	switch name {
	case "C":
		return Assign(&s.C, AsFloat, name, v)
	case "kernel":
		k, err := AsString(name, v)
		if err != nil {
			return err
		}
		if !validKernel(k) {
			return badParam(name, v)
		}
		s.Kernel = k
		return nil
	case "gamma":
		return Assign(&s.Gamma, AsFloat, name, v)
	case "degree":
		return Assign(&s.Degree, AsInt, name, v)
	case "coef0":
		return Assign(&s.Coef0, AsFloat, name, v)
	case "tol":
		return Assign(&s.Tol, AsFloat, name, v)
	case "max_iter":
		return Assign(&s.MaxIter, AsInt, name, v)
	}
	return unknownParam(name)
}

func (s *SVC) Clone() Classifier {
	return &SVC{
		C:       s.C,
		Kernel:  s.Kernel,
		Gamma:   s.Gamma,
		Degree:  s.Degree,
		Coef0:   s.Coef0,
		Tol:     s.Tol,
		MaxIter: s.MaxIter,
	}
}
