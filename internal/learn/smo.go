package learn

import (
	"context"
	"math"

	"github.com/rs/zerolog/log"
)

const smoTau = 1e-12

// smo solves the C-SVC dual
//
//	min 1/2 aᵀQa - eᵀa   s.t. 0 <= a_i <= C, yᵀa = 0
//
// with Q_ij = y_i y_j K_ij, following Fan, Chen and Lin (2005).
type smo struct {
	gram  [][]float64 // full kernel matrix of the training set
	idx   []int       // rows of gram taking part in this problem
	y     []float64
	c     float64
	eps   float64
	iters int

	alpha []float64
	grad  []float64
	qd    []float64
}

func newSMO(gram [][]float64, idx []int, y []float64, c, eps float64, maxIter int) *smo {
	n := len(idx)
	s := &smo{
		gram:  gram,
		idx:   idx,
		y:     y,
		c:     c,
		eps:   eps,
		iters: maxIter,
		alpha: make([]float64, n),
		grad:  make([]float64, n),
		qd:    make([]float64, n),
	}
	if s.eps <= 0 {
		s.eps = 1e-3
	}
	for i := range idx {
		s.grad[i] = -1
		s.qd[i] = gram[idx[i]][idx[i]]
	}
	return s
}

func (s *smo) k(i, j int) float64 {
	return s.gram[s.idx[i]][s.idx[j]]
}

// solve returns the dual coefficients and the bias term rho.
func (s *smo) solve(ctx context.Context) ([]float64, float64, error) {
	iter := 0
	for ; iter < s.iters; iter++ {
		if iter%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}
		i, j, ok := s.selectWorkingSet()
		if !ok {
			break
		}
		s.update(i, j)
	}
	if iter == s.iters {
		log.Warn().Int("max_iter", s.iters).Msg("SVC solver stopped before convergence")
	}
	return s.alpha, s.rho(), nil
}

func (s *smo) upper(t int) bool { return s.alpha[t] >= s.c }
func (s *smo) lower(t int) bool { return s.alpha[t] <= 0 }

// selectWorkingSet picks i by maximal violation and j by the largest
// decrease of the second order approximation of the objective.
func (s *smo) selectWorkingSet() (int, int, bool) {
	gmax, gmax2 := math.Inf(-1), math.Inf(-1)
	i := -1
	for t := range s.alpha {
		if s.y[t] > 0 {
			if !s.upper(t) && -s.grad[t] >= gmax {
				gmax, i = -s.grad[t], t
			}
		} else if !s.lower(t) && s.grad[t] >= gmax {
			gmax, i = s.grad[t], t
		}
	}
	if i < 0 {
		return 0, 0, false
	}

	j := -1
	objMin := math.Inf(1)
	consider := func(t int, gradDiff float64) {
		if gradDiff <= 0 {
			return
		}
		quad := s.qd[i] + s.qd[t] - 2*s.k(i, t)
		if quad <= 0 {
			quad = smoTau
		}
		if obj := -(gradDiff * gradDiff) / quad; obj <= objMin {
			objMin, j = obj, t
		}
	}
	for t := range s.alpha {
		if s.y[t] > 0 {
			if !s.lower(t) {
				gmax2 = math.Max(gmax2, s.grad[t])
				consider(t, gmax+s.grad[t])
			}
		} else if !s.upper(t) {
			gmax2 = math.Max(gmax2, -s.grad[t])
			consider(t, gmax-s.grad[t])
		}
	}

	if gmax+gmax2 < s.eps || j < 0 {
		return 0, 0, false
	}
	return i, j, true
}

// update solves the two-variable subproblem and refreshes the gradient.
func (s *smo) update(i, j int) {
	c := s.c
	yi, yj := s.y[i], s.y[j]
	kij := s.k(i, j)
	oldI, oldJ := s.alpha[i], s.alpha[j]
	ai, aj := oldI, oldJ

	if yi != yj {
		quad := s.qd[i] + s.qd[j] - 2*kij
		if quad <= 0 {
			quad = smoTau
		}
		delta := (-s.grad[i] - s.grad[j]) / quad
		diff := ai - aj
		ai += delta
		aj += delta
		if diff > 0 {
			if aj < 0 {
				aj, ai = 0, diff
			}
		} else if ai < 0 {
			ai, aj = 0, -diff
		}
		if diff > 0 {
			if ai > c {
				ai, aj = c, c-diff
			}
		} else if aj > c {
			aj, ai = c, c+diff
		}
	} else {
		quad := s.qd[i] + s.qd[j] - 2*kij
		if quad <= 0 {
			quad = smoTau
		}
		delta := (s.grad[i] - s.grad[j]) / quad
		sum := ai + aj
		ai -= delta
		aj += delta
		if sum > c {
			if ai > c {
				ai, aj = c, sum-c
			}
		} else if aj < 0 {
			aj, ai = 0, sum
		}
		if sum > c {
			if aj > c {
				aj, ai = c, sum-c
			}
		} else if ai < 0 {
			ai, aj = 0, sum
		}
	}

	s.alpha[i], s.alpha[j] = ai, aj
	dai, daj := ai-oldI, aj-oldJ
	rowI, rowJ := s.gram[s.idx[i]], s.gram[s.idx[j]]
	for t, g := range s.idx {
		s.grad[t] += s.y[t] * (yi*rowI[g]*dai + yj*rowJ[g]*daj)
	}
}

// rho averages y_t*grad_t over free vectors, or takes the midpoint of the
// feasible interval when every coefficient sits at a bound.
func (s *smo) rho() float64 {
	ub, lb := math.Inf(1), math.Inf(-1)
	free, sumFree := 0, 0.0
	for t := range s.alpha {
		yg := s.y[t] * s.grad[t]
		switch {
		case s.upper(t):
			if s.y[t] < 0 {
				ub = math.Min(ub, yg)
			} else {
				lb = math.Max(lb, yg)
			}
		case s.lower(t):
			if s.y[t] > 0 {
				ub = math.Min(ub, yg)
			} else {
				lb = math.Max(lb, yg)
			}
		default:
			free++
			sumFree += yg
		}
	}
	if free > 0 {
		return sumFree / float64(free)
	}
	return (ub + lb) / 2
}
