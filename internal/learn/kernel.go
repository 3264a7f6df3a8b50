package learn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Kernel names accepted by SVC.
const (
	KernelLinear       = "linear"
	KernelRBF          = "rbf"
	KernelPoly         = "poly"
	KernelSigmoid      = "sigmoid"
	KernelIntersection = "intersection" // histogram intersection, sum of element-wise minima
)

type kernelFunc func(a, b []float64) float64

func validKernel(name string) bool {
	switch name {
	case KernelLinear, KernelRBF, KernelPoly, KernelSigmoid, KernelIntersection:
		return true
	}
	return false
}

func newKernel(name string, gamma float64, degree int, coef0 float64) (kernelFunc, error) {
	switch name {
	case KernelLinear:
		return floats.Dot, nil
	case KernelRBF:
		return func(a, b []float64) float64 {
			return math.Exp(-gamma * sqDist(a, b))
		}, nil
	case KernelPoly:
		return func(a, b []float64) float64 {
			return math.Pow(gamma*floats.Dot(a, b)+coef0, float64(degree))
		}, nil
	case KernelSigmoid:
		return func(a, b []float64) float64 {
			return math.Tanh(gamma*floats.Dot(a, b) + coef0)
		}, nil
	case KernelIntersection:
		return intersection, nil
	}
	return nil, fmt.Errorf("%w: kernel %q", ErrBadParam, name)
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i, v := range a {
		d := v - b[i]
		s += d * d
	}
	return s
}

func intersection(a, b []float64) float64 {
	s := 0.0
	for i, v := range a {
		s += math.Min(v, b[i])
	}
	return s
}

// scaleGamma is 1 / (n_features * Var(X)) over all entries of X.
func scaleGamma(X [][]float64) float64 {
	n := 0
	sum, sumSq := 0.0, 0.0
	for _, row := range X {
		for _, v := range row {
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 1
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance <= 0 {
		return 1
	}
	return 1 / (float64(len(X[0])) * variance)
}
