// Package raster converts contour polygons into binary masks aligned to an image slice.
package raster

import (
	"fmt"
	"math"
	"sort"
)

// DefaultShape is the raster shape assumed when neither configuration nor the
// slice image provides one
var DefaultShape = Shape{Rows: 512, Cols: 512}

// onEdgeEpsilon is the tolerance for treating a pixel centre as lying on an edge
const onEdgeEpsilon = 1e-9

// Point is a polygon vertex in pixel space: X is the column, Y is the row.
// Pixel centres sit at integer coordinates.
type Point struct {
	X, Y float64
}

// Shape is a raster size in pixels
type Shape struct {
	Rows int `yaml:"rows"`
	Cols int `yaml:"cols"`
}

// IsZero reports whether the shape is unspecified
func (s Shape) IsZero() bool {
	return s.Rows <= 0 || s.Cols <= 0
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%d", s.Rows, s.Cols)
}

// Mask is a binary raster stored in row-major order
type Mask struct {
	Shape
	Cells []uint8
}

// NewMask returns an all-zero mask
func NewMask(shape Shape) *Mask {
	return &Mask{
		Shape: shape,
		Cells: make([]uint8, shape.Rows*shape.Cols),
	}
}

// At reports whether the cell at (row, col) is set
func (m *Mask) At(row, col int) bool {
	return m.Cells[row*m.Cols+col] != 0
}

func (m *Mask) set(row, col int) {
	m.Cells[row*m.Cols+col] = 1
}

// Count returns the number of set cells
func (m *Mask) Count() int {
	n := 0
	for _, c := range m.Cells {
		n += int(c)
	}
	return n
}

// edge is one polygon side with its precomputed inverse slope
type edge struct {
	x0, y0 float64
	x1, y1 float64
	dxdy   float64
}

func (e edge) horizontal() bool {
	return e.y0 == e.y1
}

func (e edge) xAt(y float64) float64 {
	return e.x0 + e.dxdy*(y-e.y0)
}

// FillPolygon rasterizes a closed polygon into a mask of the given shape.
//
// A cell is set when its centre lies inside the polygon or on its boundary.
// Interior spans come from an even-odd scanline pass using half-open edge
// intervals; a second pass adds the boundary cells the half-open rule leaves
// out (horizontal edges and lower end rows). Polygons are assumed simple.
// Fewer than 3 points yield an all-zero mask.
func FillPolygon(points []Point, shape Shape) *Mask {
	mask := NewMask(shape)
	if len(points) < 3 || shape.IsZero() {
		return mask
	}

	edges := make([]edge, 0, len(points))
	minY, maxY := math.Inf(1), math.Inf(-1)
	for i, p := range points {
		q := points[(i+1)%len(points)]
		e := edge{x0: p.X, y0: p.Y, x1: q.X, y1: q.Y}
		if !e.horizontal() {
			e.dxdy = (q.X - p.X) / (q.Y - p.Y)
		}
		edges = append(edges, e)
		minY = math.Min(minY, p.Y)
		maxY = math.Max(maxY, p.Y)
	}

	rowStart := clampIndex(math.Ceil(minY), shape.Rows)
	rowEnd := clampIndex(math.Floor(maxY), shape.Rows)
	if maxY < 0 || minY > float64(shape.Rows-1) {
		return mask
	}

	crossings := make([]float64, 0, len(edges))
	for row := rowStart; row <= rowEnd; row++ {
		y := float64(row)

		crossings = crossings[:0]
		for _, e := range edges {
			if e.horizontal() {
				continue
			}
			if (e.y0 <= y && y < e.y1) || (e.y1 <= y && y < e.y0) {
				crossings = append(crossings, e.xAt(y))
			}
		}
		sort.Float64s(crossings)

		for i := 0; i+1 < len(crossings); i += 2 {
			mask.fillSpan(row, crossings[i], crossings[i+1])
		}

		for _, e := range edges {
			switch {
			case e.horizontal():
				if e.y0 == y {
					mask.fillSpan(row, math.Min(e.x0, e.x1), math.Max(e.x0, e.x1))
				}
			case y >= math.Min(e.y0, e.y1) && y <= math.Max(e.y0, e.y1):
				x := e.xAt(y)
				if c := math.Round(x); math.Abs(x-c) < onEdgeEpsilon {
					mask.fillSpan(row, c, c)
				}
			}
		}
	}

	return mask
}

// fillSpan sets every cell of row whose centre lies in [xa, xb]
func (m *Mask) fillSpan(row int, xa, xb float64) {
	lo, hi := math.Ceil(xa-onEdgeEpsilon), math.Floor(xb+onEdgeEpsilon)
	if hi < 0 || lo > float64(m.Cols-1) {
		return
	}
	start, end := clampIndex(lo, m.Cols), clampIndex(hi, m.Cols)
	for col := start; col <= end; col++ {
		m.set(row, col)
	}
}

// clampIndex converts v to an index in [0, n-1]
func clampIndex(v float64, n int) int {
	return int(math.Max(0, math.Min(v, float64(n-1))))
}
