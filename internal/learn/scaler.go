package learn

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler removes the mean and scales to unit variance per feature,
// using the population standard deviation. Constant features are left
// unscaled.
type StandardScaler struct {
	WithMean bool
	WithStd  bool

	Mean  []float64
	Scale []float64
}

func NewStandardScaler() *StandardScaler {
	return &StandardScaler{WithMean: true, WithStd: true}
}

func (s *StandardScaler) Fit(_ context.Context, X [][]float64, _ []int) error {
	d, err := checkMatrix(X)
	if err != nil {
		return err
	}

	s.Mean = make([]float64, d)
	s.Scale = make([]float64, d)
	col := make([]float64, len(X))
	for j := 0; j < d; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		s.Mean[j] = mean
		if std == 0 {
			std = 1
		}
		s.Scale[j] = std
	}
	return nil
}

func (s *StandardScaler) Transform(X [][]float64) ([][]float64, error) {
	if s.Mean == nil {
		return nil, ErrNotFitted
	}
	out := make([][]float64, len(X))
	for i, row := range X {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("learn: scaler fit on %d features, got %d", len(s.Mean), len(row))
		}
		r := make([]float64, len(row))
		for j, v := range row {
			if s.WithMean {
				v -= s.Mean[j]
			}
			if s.WithStd {
				v /= s.Scale[j]
			}
			r[j] = v
		}
		out[i] = r
	}
	return out, nil
}

func (s *StandardScaler) Params() map[string]any {
	return map[string]any{"with_mean": s.WithMean, "with_std": s.WithStd}
}

func (s *StandardScaler) SetParam(name string, v any) error {
	var field *bool
	switch name {
	case "with_mean":
		field = &s.WithMean
	case "with_std":
		field = &s.WithStd
	default:
		return unknownParam(name)
	}
	b, err := AsBool(name, v)
	if err != nil {
		return err
	}
	*field = b
	return nil
}

func (s *StandardScaler) Clone() Transformer {
	return &StandardScaler{WithMean: s.WithMean, WithStd: s.WithStd}
}
