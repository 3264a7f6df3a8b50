// Package learn holds the estimators and model selection used by the
// experiments: a staged Pipeline, StandardScaler, a kernel SVC, stratified
// k-fold splitting and grid/randomized hyper-parameter search.
//
// Parameters are named stage__param so that search grids can address any
// stage of a pipeline, e.g. "svc__C" or "bow__clusters".
package learn

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNotFitted is returned when predicting with an estimator that was never fit.
	ErrNotFitted = errors.New("learn: estimator is not fitted")
	// ErrUnknownParam is returned by SetParam for a name the estimator does not have.
	ErrUnknownParam = errors.New("learn: unknown parameter")
	// ErrBadParam is returned by SetParam when the value has the wrong type or range.
	ErrBadParam = errors.New("learn: invalid parameter value")
)

// Params exposes tunable hyper-parameters by name.
type Params interface {
	Params() map[string]any
	SetParam(name string, value any) error
}

// Featurizer turns raw samples of type T into feature vectors. It is the
// first stage of a Pipeline.
type Featurizer[T any] interface {
	Params
	Fit(ctx context.Context, X []T, y []int) error
	Transform(X []T) ([][]float64, error)
	Clone() Featurizer[T]
}

// Transformer maps feature vectors to feature vectors.
type Transformer interface {
	Params
	Fit(ctx context.Context, X [][]float64, y []int) error
	Transform(X [][]float64) ([][]float64, error)
	Clone() Transformer
}

// Classifier predicts class indices from feature vectors.
type Classifier interface {
	Params
	Fit(ctx context.Context, X [][]float64, y []int) error
	Predict(X [][]float64) ([]int, error)
	Clone() Classifier
}

// Estimator is anything a search can tune: usually a *Pipeline.
type Estimator[T any] interface {
	Fit(ctx context.Context, X []T, y []int) error
	Predict(X []T) ([]int, error)
	Params() map[string]any
	SetParams(params map[string]any) error
	Clone() Estimator[T]
}

func unknownParam(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownParam, name)
}

func badParam(name string, v any) error {
	return fmt.Errorf("%w: %s=%v (%T)", ErrBadParam, name, v, v)
}

// AsInt converts a grid value to int. Integral floats are accepted, since
// values read from YAML or LogSpace arrive as float64.
func AsInt(name string, v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int32:
		return int(x), nil
	case int64:
		return int(x), nil
	case float64:
		if x == math.Trunc(x) {
			return int(x), nil
		}
	}
	return 0, badParam(name, v)
}

func AsFloat(name string, v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	}
	return 0, badParam(name, v)
}

func AsString(name string, v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", badParam(name, v)
}

func AsBool(name string, v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, badParam(name, v)
}

// Assign converts v with conv and stores it in dst. dst is left untouched on error.
func Assign[V any](dst *V, conv func(string, any) (V, error), name string, v any) error {
	x, err := conv(name, v)
	if err != nil {
		return err
	}
	*dst = x
	return nil
}

func checkXY(n int, y []int) error {
	if n == 0 {
		return errors.New("learn: empty training set")
	}
	if n != len(y) {
		return fmt.Errorf("learn: %d samples but %d labels", n, len(y))
	}
	return nil
}

func checkMatrix(X [][]float64) (int, error) {
	if len(X) == 0 {
		return 0, errors.New("learn: empty input")
	}
	d := len(X[0])
	for i, row := range X {
		if len(row) != d {
			return 0, fmt.Errorf("learn: row %d has %d features, expected %d", i, len(row), d)
		}
	}
	return d, nil
}
