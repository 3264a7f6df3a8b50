// Package descriptors turns images into sets of local descriptors.
//
// Two extractors are provided: DenseSIFT, which computes SIFT descriptors on
// a regular grid, and Embedding, which samples random patches and embeds them
// with a pretrained network. Compute runs an extractor over a file list with
// a worker pool and memoizes results in the on-disk cache.
package descriptors

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Point is a descriptor location in pixels.
type Point struct {
	X, Y float32
}

// Set holds the descriptors of one image. Rows[i] was computed at Points[i].
type Set struct {
	Width, Height int
	Points        []Point
	Rows          [][]float32
}

func (s Set) Len() int {
	return len(s.Rows)
}

func (s Set) Dim() int {
	if len(s.Rows) == 0 {
		return 0
	}
	return len(s.Rows[0])
}

// Normalized returns the location of descriptor i scaled to [0,1). A set
// without image dimensions maps every point to the origin.
func (s Set) Normalized(i int) (x, y float64) {
	if s.Width <= 0 || s.Height <= 0 {
		return 0, 0
	}
	p := s.Points[i]
	x = float64(p.X) / float64(s.Width)
	y = float64(p.Y) / float64(s.Height)
	return clamp01(x), clamp01(y)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v >= 1:
		return 0.999999
	}
	return v
}

var codecMagic = [4]byte{'D', 'S', 'C', '1'}

type codecHeader struct {
	Magic  [4]byte
	Width  uint32
	Height uint32
	N      uint32
	Dim    uint32
}

// MarshalBinary encodes the set as a little-endian header followed by the
// points and the row-major descriptor matrix, all float32.
func (s Set) MarshalBinary() ([]byte, error) {
	dim := s.Dim()
	if len(s.Points) != len(s.Rows) {
		return nil, fmt.Errorf("set has %d points but %d rows", len(s.Points), len(s.Rows))
	}

	var buf bytes.Buffer
	buf.Grow(20 + len(s.Rows)*(8+4*dim))
	h := codecHeader{codecMagic, uint32(s.Width), uint32(s.Height), uint32(len(s.Rows)), uint32(dim)}
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, s.Points); err != nil {
		return nil, err
	}
	for i, row := range s.Rows {
		if len(row) != dim {
			return nil, fmt.Errorf("row %d has length %d, expected %d", i, len(row), dim)
		}
		if err := binary.Write(&buf, binary.LittleEndian, row); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

var errCorrupt = errors.New("descriptors: corrupt encoded set")

// UnmarshalBinary decodes a set written by MarshalBinary.
func (s *Set) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	var h codecHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("%w: %v", errCorrupt, err)
	}
	if h.Magic != codecMagic {
		return fmt.Errorf("%w: bad magic %q", errCorrupt, h.Magic[:])
	}
	n, dim := int(h.N), int(h.Dim)
	if want := 8*n + 4*n*dim; r.Len() != want {
		return fmt.Errorf("%w: expected %d payload bytes, got %d", errCorrupt, want, r.Len())
	}

	points := make([]Point, n)
	if err := binary.Read(r, binary.LittleEndian, points); err != nil {
		return fmt.Errorf("%w: %v", errCorrupt, err)
	}
	flat := make([]float32, n*dim)
	if err := binary.Read(r, binary.LittleEndian, flat); err != nil {
		return fmt.Errorf("%w: %v", errCorrupt, err)
	}
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = flat[i*dim : (i+1)*dim : (i+1)*dim]
	}

	*s = Set{Width: int(h.Width), Height: int(h.Height), Points: points, Rows: rows}
	return nil
}
