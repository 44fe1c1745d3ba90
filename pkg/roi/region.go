package roi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/floats"

	"dicom2ply/internal/models"
	"dicom2ply/pkg/raster"
	"dicom2ply/pkg/stats"
)

// SliceSource resolves a slice identifier (SOP instance UID) to its image
type SliceSource interface {
	Slice(ctx context.Context, ref string) (*models.SliceImage, error)
}

// MaskObserver is notified after each contour has been measured against its
// slice, whether or not it is kept. Contours with fewer than 3 vertices are
// never measured. Observers must not modify the contour.
type MaskObserver interface {
	ObserveMask(region string, index int, c *Contour, slice *models.SliceImage)
}

// DropReason explains why a contour was left out of its region's pool
type DropReason string

const (
	DropDegenerate  DropReason = "degenerate"
	DropEmptyMask   DropReason = "empty-mask"
	DropSliceLookup DropReason = "slice-lookup"
)

// DroppedContour records one contour excluded from a region
type DroppedContour struct {
	Index    int
	SliceRef string
	Reason   DropReason
	Err      error
}

// Region is one named region of interest built from its kept contours
type Region struct {
	Name   string
	Number int

	// Contours holds the kept contours in discovery order
	Contours    []*Contour
	VertexCount int

	Dropped []DroppedContour

	// Stats holds the pooled statistics; nil when no contour was kept
	Stats *stats.Summary

	// Interrupted holds the context error when the build stopped early
	Interrupted error

	bins int
}

// Len returns the number of kept contours
func (r *Region) Len() int {
	return len(r.Contours)
}

// Samples returns the ordered concatenation of the kept contours' masked samples
func (r *Region) Samples() []float64 {
	n := 0
	for _, c := range r.Contours {
		n += len(c.Masked)
	}
	pool := make([]float64, 0, n)
	for _, c := range r.Contours {
		pool = append(pool, c.Masked...)
	}
	return pool
}

// Vertices returns the kept contours' vertices, slice-major, each contour in
// polygon order
func (r *Region) Vertices() []models.Vertex {
	out := make([]models.Vertex, 0, r.VertexCount)
	for _, c := range r.Contours {
		out = append(out, c.Vertices...)
	}
	return out
}

// MaskCellTotal sums the mask cell counts of the current contours
func (r *Region) MaskCellTotal() int {
	total := 0
	for _, c := range r.Contours {
		total += c.MaskCells()
	}
	return total
}

// MaskedIntensityTotal sums the masked intensities of the current contours
func (r *Region) MaskedIntensityTotal() float64 {
	sums := make([]float64, len(r.Contours))
	for i, c := range r.Contours {
		sums[i] = c.MaskedSum()
	}
	return floats.Sum(sums)
}

// AddContour appends c if its statistics are defined. Pooled statistics are
// left untouched until Recompute is called; the live totals see c at once.
func (r *Region) AddContour(c *Contour) bool {
	if c == nil || c.Stats == nil {
		return false
	}
	r.Contours = append(r.Contours, c)
	r.VertexCount += c.VertexCount
	return true
}

// Recompute rebuilds the pooled statistics from the current contours
func (r *Region) Recompute() {
	r.Stats = stats.Summarize(r.Samples(), r.bins)
}

// Builder builds regions from contour geometry.
// A zero Shape means each contour uses its slice's native raster shape.
type Builder struct {
	Slices   SliceSource
	Shape    raster.Shape
	Bins     int
	Observer MaskObserver
	Logger   *slog.Logger
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// shapeFor picks the raster shape for a contour on slice
func (b *Builder) shapeFor(slice *models.SliceImage) raster.Shape {
	if !b.Shape.IsZero() {
		return b.Shape
	}
	if rows, cols := slice.Dims(); rows > 0 && cols > 0 {
		return raster.Shape{Rows: rows, Cols: cols}
	}
	return raster.DefaultShape
}

// Build measures every contour of one region and pools the kept ones.
//
// Contours with fewer than 3 vertices, whose slice cannot be retrieved or
// whose masked samples are empty are dropped and recorded in Region.Dropped.
// The returned region has nil Stats when nothing was kept. When ctx ends
// before every contour is measured, Build stops, sets Region.Interrupted and
// leaves Stats nil.
func (b *Builder) Build(ctx context.Context, number int, name string, contours []models.ContourGeometry) *Region {
	bins := b.Bins
	if bins < 1 {
		bins = stats.DefaultBins
	}

	region := &Region{Name: name, Number: number, bins: bins}
	log := b.logger().With("region", name)

	for i, geom := range contours {
		if err := ctx.Err(); err != nil {
			return region.interrupt(log, err)
		}

		if len(geom.Vertices) < 3 {
			log.Debug("Dropping contour", "contour", i, "slice", geom.SliceRef, "vertices", len(geom.Vertices), "reason", DropDegenerate)
			region.Dropped = append(region.Dropped, DroppedContour{
				Index: i, SliceRef: geom.SliceRef, Reason: DropDegenerate,
			})
			continue
		}

		slice, err := b.Slices.Slice(ctx, geom.SliceRef)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return region.interrupt(log, err)
		}
		if err == nil && slice == nil {
			err = fmt.Errorf("no image for slice %s", geom.SliceRef)
		}
		if err != nil {
			log.Debug("Dropping contour, slice lookup failed", "contour", i, "slice", geom.SliceRef, "error", err)
			region.Dropped = append(region.Dropped, DroppedContour{
				Index: i, SliceRef: geom.SliceRef, Reason: DropSliceLookup, Err: err,
			})
			continue
		}

		c := NewContour(geom, slice, b.shapeFor(slice), bins)
		if b.Observer != nil {
			b.Observer.ObserveMask(name, i, c, slice)
		}

		if c.Stats == nil {
			log.Debug("Dropping contour", "contour", i, "slice", geom.SliceRef, "vertices", c.VertexCount, "reason", DropEmptyMask)
			region.Dropped = append(region.Dropped, DroppedContour{
				Index: i, SliceRef: geom.SliceRef, Reason: DropEmptyMask,
			})
			continue
		}

		region.AddContour(c)
	}

	region.Recompute()
	return region
}

func (r *Region) interrupt(log *slog.Logger, err error) *Region {
	log.Debug("Region build interrupted", "measured", len(r.Contours)+len(r.Dropped), "error", err)
	r.Interrupted = err
	r.Stats = nil
	return r
}
