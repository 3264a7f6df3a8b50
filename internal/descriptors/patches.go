package descriptors

import (
	"fmt"
	"image"
	"math/rand"

	"scene-bench/internal/imgio"
	"scene-bench/internal/mlp"

	"github.com/cespare/xxhash/v2"
	"github.com/disintegration/imaging"
)

// Patches samples up to Count distinct Height x Width windows from an image.
// Sampling is seeded from Seed and the image path, so the same image always
// yields the same patches.
type Patches struct {
	Height, Width int
	Channels      int // 1 (luma) or 3 (RGB)
	Count         int
	Seed          int64
}

// Sample returns patch centers and flattened (h, w, c) pixel rows scaled to
// [0,1]. Images smaller than a patch are upscaled first; size is the image
// size the centers refer to.
func (p Patches) Sample(img *image.NRGBA, path string) (points []Point, rows [][]float64, size image.Point, err error) {
	if p.Height <= 0 || p.Width <= 0 || p.Count <= 0 {
		return nil, nil, image.Point{}, fmt.Errorf("invalid patch geometry %dx%d count=%d", p.Height, p.Width, p.Count)
	}

	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w < p.Width || h < p.Height {
		// Upscale small images so at least one patch fits
		img = imaging.Resize(img, max(w, p.Width), max(h, p.Height), imaging.Linear)
		w, h = img.Rect.Dx(), img.Rect.Dy()
	}

	nx, ny := w-p.Width+1, h-p.Height+1
	total := nx * ny

	var positions []int
	if total <= p.Count {
		positions = make([]int, total)
		for i := range positions {
			positions[i] = i
		}
	} else {
		rng := rand.New(rand.NewSource(p.Seed ^ int64(xxhash.Sum64String(path))))
		positions = samplePositions(rng, total, p.Count)
	}

	c := p.Channels
	if c != 1 {
		c = 3
	}
	pixels := imgio.Channels(img, c)

	points = make([]Point, len(positions))
	rows = make([][]float64, len(positions))
	for i, pos := range positions {
		x, y := pos%nx, pos/nx
		points[i] = Point{X: float32(x) + float32(p.Width)/2, Y: float32(y) + float32(p.Height)/2}

		row := make([]float64, 0, p.Height*p.Width*c)
		for yy := y; yy < y+p.Height; yy++ {
			start := (yy*w + x) * c
			for _, v := range pixels[start : start+p.Width*c] {
				row = append(row, v/255)
			}
		}
		rows[i] = row
	}
	return points, rows, image.Pt(w, h), nil
}

// samplePositions draws k distinct values from [0, n) with Floyd's algorithm
// and returns them in ascending order.
func samplePositions(rng *rand.Rand, n, k int) []int {
	chosen := make(map[int]struct{}, k)
	for j := n - k; j < n; j++ {
		t := rng.Intn(j + 1)
		if _, ok := chosen[t]; ok {
			t = j
		}
		chosen[t] = struct{}{}
	}
	out := make([]int, 0, k)
	for i := 0; i < n && len(out) < k; i++ {
		if _, ok := chosen[i]; ok {
			out = append(out, i)
		}
	}
	return out
}

// Embedding describes each sampled patch by the output of a pretrained
// network. Pass a model already truncated to the layer to read.
type Embedding struct {
	Patches Patches
	Model   *mlp.Model
}

// NewEmbedding reads the patch geometry from the model's input shape.
func NewEmbedding(model *mlp.Model, count int, seed int64) *Embedding {
	h, w, c := model.PatchSize()
	return &Embedding{
		Patches: Patches{Height: h, Width: w, Channels: c, Count: count, Seed: seed},
		Model:   model,
	}
}

func (e *Embedding) Name() string {
	return "mlp-embedding"
}

func (e *Embedding) Config() string {
	p := e.Patches
	return fmt.Sprintf("model=%s,patch=%dx%dx%d,count=%d,seed=%d",
		e.Model.Fingerprint(), p.Height, p.Width, p.Channels, p.Count, p.Seed)
}

func (e *Embedding) Extract(path string) (Set, error) {
	img, err := imgio.LoadRGB(path)
	if err != nil {
		return Set{}, err
	}
	points, rows, size, err := e.Patches.Sample(img, path)
	if err != nil {
		return Set{}, err
	}

	// Whole image in one batch
	out, err := e.Model.Predict(rows)
	if err != nil {
		return Set{}, fmt.Errorf("embed patches of %s: %w", path, err)
	}

	n, dim := out.Dims()
	set := Set{
		Width:  size.X,
		Height: size.Y,
		Points: points,
		Rows:   make([][]float32, n),
	}
	for i := 0; i < n; i++ {
		row := make([]float32, dim)
		for j, v := range out.RawRowView(i) {
			row[j] = float32(v)
		}
		set.Rows[i] = row
	}
	return set, nil
}
