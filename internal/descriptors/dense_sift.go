package descriptors

import (
	"fmt"
	"image"
	"math"

	"scene-bench/internal/imgio"
)

const (
	siftCells     = 4 // spatial cells per side
	siftBins      = 8 // orientation bins
	siftDim       = siftCells * siftCells * siftBins
	siftClipValue = 0.2
)

// DenseSIFT computes 128-d SIFT descriptors on a regular grid, without
// keypoint detection or orientation assignment.
type DenseSIFT struct {
	StepSize  int // pixels between neighbouring grid centers
	PatchSize int // side of the square support region, split in 4x4 cells
	MaxSide   int // downscale images whose longer side exceeds this; 0 keeps the size
}

func NewDenseSIFT(stepSize, patchSize int) *DenseSIFT {
	return &DenseSIFT{StepSize: stepSize, PatchSize: patchSize}
}

func (d *DenseSIFT) Name() string {
	return "dense-sift"
}

func (d *DenseSIFT) Config() string {
	return fmt.Sprintf("step=%d,patch=%d,max_side=%d", d.StepSize, d.PatchSize, d.MaxSide)
}

func (d *DenseSIFT) Extract(path string) (Set, error) {
	gray, err := imgio.LoadGray(path)
	if err != nil {
		return Set{}, err
	}
	if d.MaxSide > 0 {
		gray = imgio.ToGray(imgio.LimitSize(gray, d.MaxSide))
	}
	return d.Compute(gray)
}

// Compute extracts descriptors from an already decoded image.
func (d *DenseSIFT) Compute(img *image.Gray) (Set, error) {
	if d.StepSize <= 0 || d.PatchSize < siftCells {
		return Set{}, fmt.Errorf("invalid dense SIFT geometry step=%d patch=%d", d.StepSize, d.PatchSize)
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w == 0 || h == 0 {
		return Set{}, fmt.Errorf("empty image")
	}

	mag, ori := gradients(img)
	xs := gridCenters(w, d.PatchSize, d.StepSize)
	ys := gridCenters(h, d.PatchSize, d.StepSize)

	set := Set{
		Width:  w,
		Height: h,
		Points: make([]Point, 0, len(xs)*len(ys)),
		Rows:   make([][]float32, 0, len(xs)*len(ys)),
	}
	for _, cy := range ys {
		for _, cx := range xs {
			set.Points = append(set.Points, Point{X: float32(cx), Y: float32(cy)})
			set.Rows = append(set.Rows, d.describe(mag, ori, w, h, cx, cy))
		}
	}
	return set, nil
}

// gridCenters places centers every step pixels starting half a patch in, and
// keeps those whose patch fits. A side shorter than the patch gets one
// center in the middle.
func gridCenters(size, patch, step int) []float64 {
	half := float64(patch) / 2
	var out []float64
	for c := half; c+half <= float64(size); c += float64(step) {
		out = append(out, c)
	}
	if len(out) == 0 {
		out = append(out, float64(size)/2)
	}
	return out
}

// gradients returns per-pixel gradient magnitude and orientation in [0, 2π)
// using central differences clamped at the borders. Intensities are in [0,1].
func gradients(img *image.Gray) (mag, ori []float64) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	at := func(x, y int) float64 {
		x = min(max(x, 0), w-1)
		y = min(max(y, 0), h-1)
		return float64(img.Pix[y*img.Stride+x]) / 255
	}

	mag = make([]float64, w*h)
	ori = make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := (at(x+1, y) - at(x-1, y)) / 2
			gy := (at(x, y+1) - at(x, y-1)) / 2
			i := y*w + x
			mag[i] = math.Hypot(gx, gy)
			theta := math.Atan2(gy, gx)
			if theta < 0 {
				theta += 2 * math.Pi
			}
			ori[i] = theta
		}
	}
	return mag, ori
}

// describe builds one descriptor centered at (cx, cy). Each pixel votes into
// the 4x4x8 histogram with trilinear interpolation, weighted by a Gaussian
// of sigma = patch/2 around the center.
func (d *DenseSIFT) describe(mag, ori []float64, w, h int, cx, cy float64) []float32 {
	var hist [siftDim]float64

	patch := float64(d.PatchSize)
	cell := patch / siftCells
	x0, y0 := cx-patch/2, cy-patch/2
	sigma := patch / 2
	inv2s2 := 1 / (2 * sigma * sigma)

	for py := int(math.Floor(y0)); py < int(math.Ceil(y0+patch)); py++ {
		if py < 0 || py >= h {
			continue
		}
		for px := int(math.Floor(x0)); px < int(math.Ceil(x0+patch)); px++ {
			if px < 0 || px >= w {
				continue
			}
			m := mag[py*w+px]
			if m == 0 {
				continue
			}
			// pixel center in cell units, shifted so cell centers sit on integers
			u := (float64(px)+0.5-x0)/cell - 0.5
			v := (float64(py)+0.5-y0)/cell - 0.5
			o := ori[py*w+px] / (2 * math.Pi) * siftBins

			dx, dy := float64(px)+0.5-cx, float64(py)+0.5-cy
			wgt := m * math.Exp(-(dx*dx+dy*dy)*inv2s2)

			iu, iv, io := int(math.Floor(u)), int(math.Floor(v)), int(math.Floor(o))
			fu, fv, fo := u-float64(iu), v-float64(iv), o-float64(io)

			for _, a := range [2]struct {
				i int
				w float64
			}{{iv, 1 - fv}, {iv + 1, fv}} {
				if a.i < 0 || a.i >= siftCells {
					continue
				}
				for _, b := range [2]struct {
					i int
					w float64
				}{{iu, 1 - fu}, {iu + 1, fu}} {
					if b.i < 0 || b.i >= siftCells {
						continue
					}
					base := (a.i*siftCells + b.i) * siftBins
					hist[base+io%siftBins] += wgt * a.w * b.w * (1 - fo)
					hist[base+(io+1)%siftBins] += wgt * a.w * b.w * fo
				}
			}
		}
	}

	return normalizeSIFT(hist[:])
}

// normalizeSIFT applies L2 normalization, clips at 0.2 and renormalizes.
// An all-zero histogram (flat patch) stays zero.
func normalizeSIFT(hist []float64) []float32 {
	l2 := func() float64 {
		s := 0.0
		for _, v := range hist {
			s += v * v
		}
		return math.Sqrt(s)
	}

	out := make([]float32, len(hist))
	n := l2()
	if n == 0 {
		return out
	}
	for i := range hist {
		hist[i] = math.Min(hist[i]/n, siftClipValue)
	}
	n = l2()
	for i, v := range hist {
		out[i] = float32(v / n)
	}
	return out
}
