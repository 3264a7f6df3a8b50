// Package imgio decodes dataset images into the pixel layouts the descriptor
// extractors work on.
package imgio

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	// Extra decoders registered with image.Decode
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// LoadGray decodes path, applying EXIF orientation, and converts it to 8-bit gray.
func LoadGray(path string) (*image.Gray, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	return ToGray(img), nil
}

// LoadRGB decodes path into non-premultiplied RGBA.
func LoadRGB(path string) (*image.NRGBA, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	return imaging.Clone(img), nil
}

// ToGray converts any image to *image.Gray with its origin at (0,0).
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// LimitSize shrinks img so its longer side is at most maxSide, keeping the
// aspect ratio. maxSide <= 0 or a small enough image returns img unchanged.
func LimitSize(img image.Image, maxSide int) image.Image {
	if maxSide <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= maxSide && b.Dy() <= maxSide {
		return img
	}
	return resize.Thumbnail(uint(maxSide), uint(maxSide), img, resize.Lanczos3)
}

// Channels returns the pixels of img as float64 in [0,255], row-major with
// c interleaved channels (1 = luminance, 3 = RGB).
func Channels(img *image.NRGBA, c int) []float64 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := make([]float64, 0, w*h*c)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+4]
			switch c {
			case 1:
				// ITU-R 601 luma, same weights as image/color.GrayModel
				out = append(out, (299*float64(p[0])+587*float64(p[1])+114*float64(p[2]))/1000)
			default:
				out = append(out, float64(p[0]), float64(p[1]), float64(p[2]))
			}
		}
	}
	return out
}
