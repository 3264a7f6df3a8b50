package learn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blobs returns three well separated 2-D clusters, labeled 0, 1 and 2.
func blobs() ([][]float64, []int) {
	centers := [][2]float64{{0, 0}, {6, 6}, {0, 6}}
	offsets := [][2]float64{{0, 0}, {0.5, 0}, {0, 0.5}, {-0.5, 0}, {0, -0.5}, {0.3, 0.3}}
	var X [][]float64
	var y []int
	for label, c := range centers {
		for _, o := range offsets {
			X = append(X, []float64{c[0] + o[0], c[1] + o[1]})
			y = append(y, label)
		}
	}
	return X, y
}

func TestSVC_Linear(t *testing.T) {
	X, y := blobs()
	svc := NewSVC(1, KernelLinear, 0)
	require.NoError(t, svc.Fit(context.Background(), X, y))
	assert.Equal(t, []int{0, 1, 2}, svc.Classes())
	assert.Greater(t, svc.NSupport(), 0)

	pred, err := svc.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, y, pred)

	pred, err = svc.Predict([][]float64{{0.2, -0.1}, {5.5, 6.4}, {-0.3, 5.8}})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, pred)
}

func TestSVC_RBFSolvesXOR(t *testing.T) {
	X := [][]float64{{0, 0}, {1, 1}, {0, 1}, {1, 0}}
	y := []int{0, 0, 1, 1}

	linear := NewSVC(10, KernelLinear, 0)
	require.NoError(t, linear.Fit(context.Background(), X, y))
	pred, err := linear.Predict(X)
	require.NoError(t, err)
	assert.NotEqual(t, y, pred, "XOR is not linearly separable")

	rbf := NewSVC(10, KernelRBF, 1)
	require.NoError(t, rbf.Fit(context.Background(), X, y))
	pred, err = rbf.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, y, pred)
}

func TestSVC_IntersectionKernel(t *testing.T) {
	// histogram-like features
	X := [][]float64{
		{5, 0, 1}, {4, 1, 0}, {6, 0, 0},
		{0, 5, 1}, {1, 4, 0}, {0, 6, 1},
	}
	y := []int{3, 3, 3, 7, 7, 7}
	svc := NewSVC(1, KernelIntersection, 0)
	require.NoError(t, svc.Fit(context.Background(), X, y))

	pred, err := svc.Predict([][]float64{{5, 1, 0}, {0, 5, 0}})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 7}, pred)
}

func TestSVC_SingleClass(t *testing.T) {
	svc := NewSVC(1, KernelRBF, 0)
	require.NoError(t, svc.Fit(context.Background(), [][]float64{{1}, {2}}, []int{4, 4}))
	pred, err := svc.Predict([][]float64{{10}, {-3}})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4}, pred)
}

func TestSVC_Errors(t *testing.T) {
	_, err := NewSVC(1, KernelRBF, 0).Predict([][]float64{{1}})
	assert.ErrorIs(t, err, ErrNotFitted)

	err = NewSVC(0, KernelRBF, 0).Fit(context.Background(), [][]float64{{1}, {2}}, []int{0, 1})
	assert.ErrorIs(t, err, ErrBadParam)

	err = NewSVC(1, "cubic", 0).Fit(context.Background(), [][]float64{{1}, {2}}, []int{0, 1})
	assert.ErrorIs(t, err, ErrBadParam)

	err = NewSVC(1, KernelRBF, 0).Fit(context.Background(), [][]float64{{1}, {2}}, []int{0})
	assert.Error(t, err)

	X, y := blobs()
	svc := NewSVC(1, KernelLinear, 0)
	require.NoError(t, svc.Fit(context.Background(), X, y))
	_, err = svc.Predict([][]float64{{1, 2, 3}})
	assert.Error(t, err)
}

func TestSVC_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	X, y := blobs()
	assert.ErrorIs(t, NewSVC(1, KernelRBF, 0).Fit(ctx, X, y), context.Canceled)
}

func TestSVC_Params(t *testing.T) {
	svc := NewSVC(1, KernelRBF, 0.002)
	require.NoError(t, svc.SetParam("C", 8.0))
	require.NoError(t, svc.SetParam("kernel", KernelSigmoid))
	require.NoError(t, svc.SetParam("gamma", 0.5))
	require.NoError(t, svc.SetParam("degree", 2.0))

	assert.ErrorIs(t, svc.SetParam("kernel", "cubic"), ErrBadParam)
	assert.ErrorIs(t, svc.SetParam("penalty", "l1"), ErrUnknownParam)

	p := svc.Params()
	assert.Equal(t, 8.0, p["C"])
	assert.Equal(t, KernelSigmoid, p["kernel"])
	assert.Equal(t, 0.5, p["gamma"])
	assert.Equal(t, 2, p["degree"])

	clone := svc.Clone().(*SVC)
	assert.Equal(t, svc.Params(), clone.Params())
	_, err := clone.Predict([][]float64{{1}})
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestSMO_BinaryMargin(t *testing.T) {
	// two points, linear kernel: the optimum puts the boundary halfway
	X := [][]float64{{-1}, {1}}
	gram, err := gramMatrix(context.Background(), X, func(a, b []float64) float64 { return a[0] * b[0] })
	require.NoError(t, err)

	s := newSMO(gram, []int{0, 1}, []float64{-1, 1}, 10, 1e-6, 1000)
	alpha, rho, err := s.solve(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, alpha[0], 1e-6)
	assert.InDelta(t, 0.5, alpha[1], 1e-6)
	assert.InDelta(t, 0, rho, 1e-6)
}

func TestMergeSorted(t *testing.T) {
	assert.Equal(t, []int{0, 1, 3, 4, 7}, mergeSorted([]int{1, 4}, []int{0, 3, 7}))
	assert.Equal(t, []int{2}, mergeSorted(nil, []int{2}))
}
