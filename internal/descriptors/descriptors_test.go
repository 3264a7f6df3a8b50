package descriptors

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"scene-bench/internal/mlp"
	"scene-bench/internal/storage"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// stripes draws vertical black and white bands of the given period.
func stripes(w, h, period int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/period)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func saveImage(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, imaging.Save(img, path))
	return path
}

func TestSetCodec(t *testing.T) {
	set := Set{
		Width:  64,
		Height: 32,
		Points: []Point{{8, 8}, {24, 8}},
		Rows:   [][]float32{{1, 2, 3}, {4, 5, 6}},
	}
	data, err := set.MarshalBinary()
	require.NoError(t, err)

	var got Set
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, set, got)

	assert.ErrorIs(t, got.UnmarshalBinary(data[:len(data)-1]), errCorrupt)
	assert.ErrorIs(t, got.UnmarshalBinary([]byte("nope")), errCorrupt)

	bad := append([]byte(nil), data...)
	bad[0] = 'X'
	assert.ErrorIs(t, got.UnmarshalBinary(bad), errCorrupt)
}

func TestSetCodec_Ragged(t *testing.T) {
	set := Set{Points: []Point{{}, {}}, Rows: [][]float32{{1, 2}, {3}}}
	_, err := set.MarshalBinary()
	assert.Error(t, err)

	set = Set{Points: []Point{{}}, Rows: [][]float32{{1}, {2}}}
	_, err = set.MarshalBinary()
	assert.Error(t, err)
}

func TestSetNormalized(t *testing.T) {
	set := Set{Width: 100, Height: 50, Points: []Point{{25, 25}, {100, 0}}}
	x, y := set.Normalized(0)
	assert.InDelta(t, 0.25, x, 1e-9)
	assert.InDelta(t, 0.5, y, 1e-9)

	x, _ = set.Normalized(1)
	assert.Less(t, x, 1.0)
}

func TestGridCenters(t *testing.T) {
	assert.Equal(t, []float64{8, 24, 40, 56}, gridCenters(64, 16, 16))
	assert.Equal(t, []float64{8, 16, 24}, gridCenters(32, 16, 8))
	// too small for one patch: single center
	assert.Equal(t, []float64{5}, gridCenters(10, 16, 16))
}

func TestDenseSIFT_Compute(t *testing.T) {
	d := NewDenseSIFT(16, 16)
	set, err := d.Compute(stripes(64, 48, 4))
	require.NoError(t, err)

	assert.Equal(t, 4*3, set.Len())
	assert.Equal(t, siftDim, set.Dim())
	assert.Equal(t, 64, set.Width)
	assert.Equal(t, 48, set.Height)
	assert.Equal(t, Point{X: 8, Y: 8}, set.Points[0])

	for _, row := range set.Rows {
		norm := 0.0
		for _, v := range row {
			assert.GreaterOrEqual(t, v, float32(0))
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)
	}
}

func TestDenseSIFT_FlatImage(t *testing.T) {
	set, err := NewDenseSIFT(8, 16).Compute(image.NewGray(image.Rect(0, 0, 32, 32)))
	require.NoError(t, err)
	for _, row := range set.Rows {
		for _, v := range row {
			assert.Zero(t, v)
		}
	}
}

func TestDenseSIFT_OrientationSensitive(t *testing.T) {
	d := NewDenseSIFT(16, 16)
	vertical, err := d.Compute(stripes(32, 32, 4))
	require.NoError(t, err)

	rotated := imaging.Rotate90(stripes(32, 32, 4))
	horizontal, err := d.Compute(imagingToGray(rotated))
	require.NoError(t, err)

	assert.NotEqual(t, vertical.Rows[0], horizontal.Rows[0])
}

func imagingToGray(img *image.NRGBA) *image.Gray {
	out := image.NewGray(img.Rect)
	for y := 0; y < img.Rect.Dy(); y++ {
		for x := 0; x < img.Rect.Dx(); x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out
}

func TestDenseSIFT_Invalid(t *testing.T) {
	_, err := NewDenseSIFT(0, 16).Compute(stripes(32, 32, 4))
	assert.Error(t, err)
	_, err = NewDenseSIFT(8, 2).Compute(stripes(32, 32, 4))
	assert.Error(t, err)
	_, err = NewDenseSIFT(8, 16).Compute(image.NewGray(image.Rect(0, 0, 0, 0)))
	assert.Error(t, err)
}

func TestDenseSIFT_ExtractWithMaxSide(t *testing.T) {
	path := saveImage(t, t.TempDir(), "big.png", stripes(128, 64, 4))

	d := NewDenseSIFT(16, 16)
	d.MaxSide = 64
	set, err := d.Extract(path)
	require.NoError(t, err)
	assert.Equal(t, 64, set.Width)
	assert.Equal(t, 32, set.Height)
	assert.Contains(t, d.Config(), "max_side=64")
}

func TestSamplePositions(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	got := samplePositions(rng, 100, 10)
	require.Len(t, got, 10)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i])
	}
	assert.GreaterOrEqual(t, got[0], 0)
	assert.Less(t, got[9], 100)
}

func TestPatches_Sample(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 8))
	img.Set(3, 2, color.NRGBA{R: 255, G: 0, B: 0, A: 255})

	p := Patches{Height: 4, Width: 4, Channels: 3, Count: 5, Seed: 1}
	points, rows, size, err := p.Sample(img, "a.png")
	require.NoError(t, err)
	assert.Equal(t, image.Pt(10, 8), size)
	require.Len(t, rows, 5)
	assert.Len(t, points, 5)
	for _, row := range rows {
		require.Len(t, row, 4*4*3)
		for _, v := range row {
			assert.True(t, v >= 0 && v <= 1)
		}
	}

	// Same image path, same patches
	points2, rows2, _, err := p.Sample(img, "a.png")
	require.NoError(t, err)
	assert.Equal(t, points, points2)
	assert.Equal(t, rows, rows2)
}

func TestPatches_AllPositionsWhenFew(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 5, 5))
	p := Patches{Height: 4, Width: 4, Channels: 1, Count: 100}
	points, rows, _, err := p.Sample(img, "x")
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	assert.Equal(t, Point{X: 2, Y: 2}, points[0])
	assert.Len(t, rows[0], 16)
}

func TestPatches_UpscalesSmallImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	p := Patches{Height: 4, Width: 4, Channels: 1, Count: 3}
	points, rows, size, err := p.Sample(img, "x")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, image.Pt(4, 4), size)
	assert.Equal(t, Point{X: 2, Y: 2}, points[0])
}

func TestPatches_Invalid(t *testing.T) {
	_, _, _, err := Patches{Height: 0, Width: 4, Count: 1}.Sample(image.NewNRGBA(image.Rect(0, 0, 8, 8)), "x")
	assert.Error(t, err)
}

// sumModel maps a 2x2x1 patch to (sum, mean).
func sumModel() *mlp.Model {
	return &mlp.Model{
		Name:       "sum",
		InputShape: [3]int{2, 2, 1},
		Layers: []mlp.Layer{{
			Name:       "dense",
			Activation: mlp.Linear,
			W:          mat.NewDense(4, 2, []float64{1, 0.25, 1, 0.25, 1, 0.25, 1, 0.25}),
			B:          []float64{0, 0},
		}},
	}
}

func TestEmbedding_Extract(t *testing.T) {
	white := image.NewNRGBA(image.Rect(0, 0, 6, 6))
	for i := range white.Pix {
		white.Pix[i] = 255
	}
	path := saveImage(t, t.TempDir(), "white.png", white)

	e := NewEmbedding(sumModel(), 4, 7)
	assert.Equal(t, "mlp-embedding", e.Name())
	assert.Contains(t, e.Config(), "patch=2x2x1")
	assert.Contains(t, e.Config(), "count=4")

	set, err := e.Extract(path)
	require.NoError(t, err)
	assert.Equal(t, 4, set.Len())
	assert.Equal(t, 2, set.Dim())
	for _, row := range set.Rows {
		assert.InDelta(t, 4.0, row[0], 1e-3)
		assert.InDelta(t, 1.0, row[1], 1e-3)
	}
}

// onesModel sums an 8x8x1 patch.
func onesModel() *mlp.Model {
	w := make([]float64, 64)
	for i := range w {
		w[i] = 1
	}
	return &mlp.Model{
		Name:       "ones",
		InputShape: [3]int{8, 8, 1},
		Layers: []mlp.Layer{{
			Name:       "dense",
			Activation: mlp.Linear,
			W:          mat.NewDense(64, 1, w),
			B:          []float64{0},
		}},
	}
}

func TestEmbedding_ExtractSmallImage(t *testing.T) {
	path := saveImage(t, t.TempDir(), "small.png", image.NewNRGBA(image.Rect(0, 0, 4, 4)))

	set, err := NewEmbedding(onesModel(), 10, 1).Extract(path)
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	assert.Equal(t, 8, set.Width)
	assert.Equal(t, 8, set.Height)

	// the single patch is centered on the upscaled image
	x, y := set.Normalized(0)
	assert.InDelta(t, 0.5, x, 1e-9)
	assert.InDelta(t, 0.5, y, 1e-9)
}

type countingExtractor struct {
	calls atomic.Int32
	fail  string
}

func (c *countingExtractor) Name() string   { return "counting" }
func (c *countingExtractor) Config() string { return "v1" }

func (c *countingExtractor) Extract(path string) (Set, error) {
	c.calls.Add(1)
	if filepath.Base(path) == c.fail {
		return Set{}, errors.New("boom")
	}
	return Set{
		Width:  1,
		Height: 1,
		Points: []Point{{0, 0}},
		Rows:   [][]float32{{float32(len(path))}},
	}, nil
}

type recordingMetrics struct {
	hits, misses, images, errs atomic.Int32
}

func (r *recordingMetrics) CacheHitInc()       { r.hits.Add(1) }
func (r *recordingMetrics) CacheMissInc()      { r.misses.Add(1) }
func (r *recordingMetrics) ImageProcessed(int) { r.images.Add(1) }
func (r *recordingMetrics) ExtractErrorInc()   { r.errs.Add(1) }

func writeFiles(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	var out []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte(n), 0o644))
		out = append(out, p)
	}
	return out
}

func TestCompute_PreservesOrder(t *testing.T) {
	files := writeFiles(t, "a", "bb", "ccc", "dddd", "eeeee")
	ext := &countingExtractor{}

	sets, err := Compute(context.Background(), ext, files, Options{Workers: 3})
	require.NoError(t, err)
	require.Len(t, sets, len(files))
	for i, s := range sets {
		assert.Equal(t, float32(len(files[i])), s.Rows[0][0])
	}
}

func TestCompute_UsesCache(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	files := writeFiles(t, "a", "b", "c")
	ext := &countingExtractor{}
	m := &recordingMetrics{}

	first, err := Compute(context.Background(), ext, files, Options{Cache: store, Metrics: m})
	require.NoError(t, err)
	assert.Equal(t, int32(3), ext.calls.Load())
	assert.Equal(t, int32(3), m.misses.Load())

	second, err := Compute(context.Background(), ext, files, Options{Cache: store, Metrics: m})
	require.NoError(t, err)
	assert.Equal(t, int32(3), ext.calls.Load(), "second pass should be served from cache")
	assert.Equal(t, int32(3), m.hits.Load())
	assert.Equal(t, int32(6), m.images.Load())
	assert.Equal(t, first, second)

	n, err := store.Count(Bucket(ext))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCompute_RecomputesModifiedFile(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	files := writeFiles(t, "a")
	ext := &countingExtractor{}
	_, err = Compute(context.Background(), ext, files, Options{Cache: store})
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(files[0], later, later))

	_, err = Compute(context.Background(), ext, files, Options{Cache: store})
	require.NoError(t, err)
	assert.Equal(t, int32(2), ext.calls.Load())
}

func TestCompute_CorruptEntryIsRecomputed(t *testing.T) {
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	files := writeFiles(t, "a")
	ext := &countingExtractor{}
	key, err := CacheKey(ext, files[0])
	require.NoError(t, err)
	require.NoError(t, store.PutBlob(Bucket(ext), key, []byte("garbage")))

	sets, err := Compute(context.Background(), ext, files, Options{Cache: store})
	require.NoError(t, err)
	assert.Equal(t, int32(1), ext.calls.Load())
	assert.Equal(t, 1, sets[0].Len())
}

func TestCompute_Error(t *testing.T) {
	files := writeFiles(t, "a", "bad", "c")
	ext := &countingExtractor{fail: "bad"}
	m := &recordingMetrics{}

	_, err := Compute(context.Background(), ext, files, Options{Workers: 1, Metrics: m})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, int32(1), m.errs.Load())
}

func TestCompute_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Compute(ctx, &countingExtractor{}, writeFiles(t, "a"), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCacheKey_DependsOnConfig(t *testing.T) {
	files := writeFiles(t, "a")
	k1, err := CacheKey(NewDenseSIFT(8, 16), files[0])
	require.NoError(t, err)
	k2, err := CacheKey(NewDenseSIFT(16, 16), files[0])
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, Bucket(NewDenseSIFT(8, 16)), Bucket(NewDenseSIFT(16, 16)))

	_, err = CacheKey(NewDenseSIFT(8, 16), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestStack(t *testing.T) {
	sets := []Set{
		{Rows: [][]float32{{1, 2}}},
		{Rows: [][]float32{{3, 4}, {5, 6}}},
	}
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}, {5, 6}}, Stack(sets))
}
