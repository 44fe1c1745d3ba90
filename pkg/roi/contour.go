// Package roi measures contours and pools their statistics into regions of interest.
package roi

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"dicom2ply/internal/models"
	"dicom2ply/pkg/raster"
	"dicom2ply/pkg/stats"
)

// Measurement is the result of rasterizing one polygon against one slice
type Measurement struct {
	Mask *raster.Mask

	// Masked holds the nonzero products of mask and intensity, in raster scan order
	Masked []float64

	// Stats is nil when Masked is empty
	Stats *stats.Summary
}

// Measure rasterizes points into a mask of the given shape, masks the slice
// intensities with it and summarizes the remaining samples.
//
// Fewer than 3 points produce an all-zero mask and undefined statistics. Cells
// of the mask that fall outside pixels contribute nothing. Measure has no side
// effects.
func Measure(points []raster.Point, pixels *mat.Dense, shape raster.Shape, bins int) Measurement {
	mask := raster.FillPolygon(points, shape)
	if len(points) < 3 || pixels == nil {
		return Measurement{Mask: mask}
	}

	rows, cols := pixels.Dims()
	rows, cols = min(rows, shape.Rows), min(cols, shape.Cols)

	var masked []float64
	for r := 0; r < rows; r++ {
		row := pixels.RawRowView(r)
		for c := 0; c < cols; c++ {
			if !mask.At(r, c) {
				continue
			}
			if v := row[c]; v != 0 {
				masked = append(masked, v)
			}
		}
	}

	return Measurement{
		Mask:   mask,
		Masked: masked,
		Stats:  stats.Summarize(masked, bins),
	}
}

// Contour is one measured polygon on one slice. It is immutable once built.
type Contour struct {
	Vertices    []models.Vertex
	SliceRef    string
	VertexCount int

	Measurement
}

// NewContour aligns geom with slice and measures it. The column is taken from
// the vertex X coordinate and the row from Y shifted by the slice's table height.
func NewContour(geom models.ContourGeometry, slice *models.SliceImage, shape raster.Shape, bins int) *Contour {
	points := make([]raster.Point, len(geom.Vertices))
	for i, v := range geom.Vertices {
		points[i] = raster.Point{X: v.X, Y: v.Y + slice.TableHeight}
	}

	return &Contour{
		Vertices:    geom.Vertices,
		SliceRef:    geom.SliceRef,
		VertexCount: len(geom.Vertices),
		Measurement: Measure(points, slice.Pixels, shape, bins),
	}
}

// MaskCells returns the number of set mask cells
func (c *Contour) MaskCells() int {
	return c.Mask.Count()
}

// MaskedSum returns the sum of the masked intensities
func (c *Contour) MaskedSum() float64 {
	return floats.Sum(c.Masked)
}
