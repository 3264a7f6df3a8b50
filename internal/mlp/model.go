// Package mlp loads a pretrained fully-connected network and runs its forward
// pass with gonum. Models are exported from the training environment as JSON:
//
//	{
//	  "name": "mlp_patches",
//	  "input_shape": [32, 32, 3],
//	  "layers": [
//	    {"name": "dense_1", "units": 2048, "activation": "relu",
//	     "weights": [[...], ...],   // input x units
//	     "bias": [...]},            // units
//	    ...
//	  ]
//	}
//
// The input of the first layer is the flattened (h, w, c) patch.
package mlp

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

// Supported activations
const (
	Linear  = "linear"
	ReLU    = "relu"
	Sigmoid = "sigmoid"
	Tanh    = "tanh"
	Softmax = "softmax"
)

type layerFile struct {
	Name       string      `json:"name"`
	Units      int         `json:"units"`
	Activation string      `json:"activation"`
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
}

type modelFile struct {
	Name       string      `json:"name"`
	InputShape []int       `json:"input_shape"`
	Layers     []layerFile `json:"layers"`
}

// Layer is one dense layer: out = activation(in·W + b).
type Layer struct {
	Name       string
	Activation string
	W          *mat.Dense // in x units
	B          []float64
}

func (l Layer) Units() int {
	_, c := l.W.Dims()
	return c
}

func (l Layer) Params() int {
	r, c := l.W.Dims()
	return r*c + len(l.B)
}

// Model is a stack of dense layers over a flattened image patch.
type Model struct {
	Name        string
	InputShape  [3]int // height, width, channels
	Layers      []Layer
	fingerprint string
}

// Load reads and validates a JSON model file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file %s: %w", path, err)
	}

	var f modelFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse model file %s: %w", path, err)
	}

	m, err := fromFile(f)
	if err != nil {
		return nil, fmt.Errorf("invalid model %s: %w", path, err)
	}
	m.fingerprint = strconv.FormatUint(xxhash.Sum64(data), 16)

	log.Info().
		Str("model", m.Name).
		Str("path", path).
		Int("layers", len(m.Layers)).
		Int("params", m.Params()).
		Msg("Model loaded")

	return m, nil
}

func fromFile(f modelFile) (*Model, error) {
	if len(f.InputShape) != 3 {
		return nil, fmt.Errorf("input_shape must be [height, width, channels], got %v", f.InputShape)
	}
	for _, d := range f.InputShape {
		if d <= 0 {
			return nil, fmt.Errorf("input_shape dimensions must be positive, got %v", f.InputShape)
		}
	}
	if len(f.Layers) == 0 {
		return nil, fmt.Errorf("model has no layers")
	}

	m := &Model{
		Name:       f.Name,
		InputShape: [3]int{f.InputShape[0], f.InputShape[1], f.InputShape[2]},
	}

	in := m.InputSize()
	for i, lf := range f.Layers {
		name := lf.Name
		if name == "" {
			name = fmt.Sprintf("dense_%d", i+1)
		}
		if !validActivation(lf.Activation) {
			return nil, fmt.Errorf("layer %s: unknown activation %q", name, lf.Activation)
		}
		if len(lf.Weights) != in {
			return nil, fmt.Errorf("layer %s: expected %d weight rows, got %d", name, in, len(lf.Weights))
		}
		if lf.Units <= 0 || len(lf.Bias) != lf.Units {
			return nil, fmt.Errorf("layer %s: bias length %d does not match units %d", name, len(lf.Bias), lf.Units)
		}

		w := mat.NewDense(in, lf.Units, nil)
		for r, row := range lf.Weights {
			if len(row) != lf.Units {
				return nil, fmt.Errorf("layer %s: weight row %d has %d columns, expected %d", name, r, len(row), lf.Units)
			}
			w.SetRow(r, row)
		}

		act := lf.Activation
		if act == "" {
			act = Linear
		}
		m.Layers = append(m.Layers, Layer{
			Name:       name,
			Activation: act,
			W:          w,
			B:          append([]float64(nil), lf.Bias...),
		})
		in = lf.Units
	}
	return m, nil
}

func validActivation(a string) bool {
	switch a {
	case "", Linear, ReLU, Sigmoid, Tanh, Softmax:
		return true
	}
	return false
}

// InputSize is the flattened patch length h*w*c.
func (m *Model) InputSize() int {
	return m.InputShape[0] * m.InputShape[1] * m.InputShape[2]
}

// OutputSize is the width of the last layer.
func (m *Model) OutputSize() int {
	return m.Layers[len(m.Layers)-1].Units()
}

// PatchSize returns the input height, width and channel count.
func (m *Model) PatchSize() (h, w, c int) {
	return m.InputShape[0], m.InputShape[1], m.InputShape[2]
}

func (m *Model) Params() int {
	n := 0
	for _, l := range m.Layers {
		n += l.Params()
	}
	return n
}

// Fingerprint identifies the weights the model was loaded from.
func (m *Model) Fingerprint() string {
	return m.fingerprint + "-" + strconv.Itoa(len(m.Layers))
}

// Truncate returns a model without its last n layers. The weights are shared.
// Truncate(1) exposes the second-to-last layer as the output.
func (m *Model) Truncate(n int) (*Model, error) {
	if n < 0 || n >= len(m.Layers) {
		return nil, fmt.Errorf("cannot drop %d of %d layers", n, len(m.Layers))
	}
	return &Model{
		Name:        m.Name,
		InputShape:  m.InputShape,
		Layers:      m.Layers[:len(m.Layers)-n],
		fingerprint: m.fingerprint,
	}, nil
}

// Predict runs the forward pass on a batch, one flattened patch per row.
func (m *Model) Predict(batch [][]float64) (*mat.Dense, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	in := m.InputSize()
	x := mat.NewDense(len(batch), in, nil)
	for i, row := range batch {
		if len(row) != in {
			return nil, fmt.Errorf("row %d has %d values, model expects %d", i, len(row), in)
		}
		x.SetRow(i, row)
	}

	for _, l := range m.Layers {
		var out mat.Dense
		out.Mul(x, l.W)
		r, c := out.Dims()
		for i := 0; i < r; i++ {
			row := out.RawRowView(i)
			for j := 0; j < c; j++ {
				row[j] += l.B[j]
			}
			activate(l.Activation, row)
		}
		x = &out
	}
	return x, nil
}

func activate(name string, row []float64) {
	switch name {
	case ReLU:
		for i, v := range row {
			if v < 0 {
				row[i] = 0
			}
		}
	case Sigmoid:
		for i, v := range row {
			row[i] = 1 / (1 + math.Exp(-v))
		}
	case Tanh:
		for i, v := range row {
			row[i] = math.Tanh(v)
		}
	case Softmax:
		maxV := math.Inf(-1)
		for _, v := range row {
			maxV = math.Max(maxV, v)
		}
		sum := 0.0
		for i, v := range row {
			row[i] = math.Exp(v - maxV)
			sum += row[i]
		}
		for i := range row {
			row[i] /= sum
		}
	}
}
