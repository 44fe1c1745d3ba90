package models

import (
	"gonum.org/v1/gonum/mat"
)

// Vertex is one contour point in patient coordinates (mm)
type Vertex struct {
	X, Y, Z float64
}

// ContourGeometry is one closed polygon on one image slice
type ContourGeometry struct {
	// Vertices in polygon order; Z is constant within a contour
	Vertices []Vertex

	// SliceRef is the SOP instance UID of the image the contour was drawn on
	SliceRef string
}

// ObservationEntry is one record of the structure set's observation catalogue
type ObservationEntry struct {
	Number int

	// Label is nil when the record carries no observation label
	Label *string
}

// GeometryEntry is one record of the structure set's geometry catalogue
type GeometryEntry struct {
	ReferencedNumber int

	// HasContours is false when the entry carries no contour sequence at all,
	// e.g. point markers without spatial data
	HasContours bool

	Contours []ContourGeometry
}

// StructureSet is the decoded part of an RT structure set used by the pipeline
type StructureSet struct {
	// Path is the file the structure set was read from
	Path string

	Observations []ObservationEntry
	Geometry     []GeometryEntry

	// Issues describes malformed entries that were skipped or truncated
	Issues []string
}

// SliceImage is a single CT slice with the metadata needed to align contours
type SliceImage struct {
	SOPInstanceUID string

	// Pixels holds raw stored values, rows x columns
	Pixels *mat.Dense

	// TableHeight is added to a contour's in-plane Y coordinate before rasterization
	TableHeight float64
}

// Dims returns the slice's raster shape, or zeros when it has no pixel data
func (s *SliceImage) Dims() (rows, cols int) {
	if s == nil || s.Pixels == nil {
		return 0, 0
	}
	return s.Pixels.Dims()
}
