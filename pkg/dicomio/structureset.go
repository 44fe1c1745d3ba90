package dicomio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/suyashkumar/dicom"

	"dicom2ply/internal/models"
)

// DecodeOptions control how contour coordinates are read
type DecodeOptions struct {
	// SwapInPlaneAxes reads Contour Data triples as (y, x, z) instead of (x, y, z)
	SwapInPlaneAxes bool
}

// FindStructureSet returns the first regular file in dir, in name order, whose
// name starts with prefix. ok is false when there is none; err is set only when
// the directory cannot be read.
func FindStructureSet(dir, prefix string) (path string, ok bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false, fmt.Errorf("failed to read source directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", false, nil
	}

	sort.Strings(names)
	return filepath.Join(dir, names[0]), true, nil
}

// ReadStructureSet parses the structure set at path, skipping any pixel data
func ReadStructureSet(path string, opts DecodeOptions) (*models.StructureSet, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("failed to parse structure set %s: %w", path, err)
	}

	ss := DecodeStructureSet(ds, opts)
	ss.Path = path
	return ss, nil
}

// DecodeStructureSet extracts the observation and geometry catalogues from ds.
//
// Optional attributes are reported through the model rather than as errors: an
// observation without a (non-empty) label has a nil Label, and a geometry entry
// without a Contour Sequence has HasContours false.
//
// Malformed entries never fail the decode. Observations or geometry entries
// without a readable number are left out, and contour data that cannot be
// read as whole (x, y, z) triples keeps only its complete triples, or no
// vertices when a value does not parse. Each case is recorded in Issues.
func DecodeStructureSet(ds dicom.Dataset, opts DecodeOptions) *models.StructureSet {
	ss := &models.StructureSet{}
	issue := func(format string, args ...any) {
		ss.Issues = append(ss.Issues, fmt.Sprintf(format, args...))
	}

	obsSeq := findElement(ds.Elements, tagRTROIObservationsSequence)
	for i, item := range sequenceItems(obsSeq) {
		numberEl := findElement(item, tagObservationNumber)
		if numberEl == nil {
			issue("observation %d has no observation number", i)
			continue
		}
		number, err := intValue(numberEl)
		if err != nil {
			issue("observation %d: %v", i, err)
			continue
		}

		entry := models.ObservationEntry{Number: number}
		if label, ok := firstString(findElement(item, tagROIObservationLabel)); ok {
			entry.Label = &label
		}
		ss.Observations = append(ss.Observations, entry)
	}

	roiSeq := findElement(ds.Elements, tagROIContourSequence)
	for i, item := range sequenceItems(roiSeq) {
		refEl := findElement(item, tagReferencedROINumber)
		if refEl == nil {
			issue("ROI contour %d has no referenced ROI number", i)
			continue
		}
		number, err := intValue(refEl)
		if err != nil {
			issue("ROI contour %d: %v", i, err)
			continue
		}

		entry := models.GeometryEntry{ReferencedNumber: number}
		if contourSeq := findElement(item, tagContourSequence); contourSeq != nil {
			entry.HasContours = true
			for j, contourItem := range sequenceItems(contourSeq) {
				geom, err := decodeContour(contourItem, opts)
				if err != nil {
					issue("ROI %d, contour %d: %v", number, j, err)
				}
				entry.Contours = append(entry.Contours, geom)
			}
		}
		ss.Geometry = append(ss.Geometry, entry)
	}

	return ss
}

// decodeContour reads one Contour Sequence item. The returned geometry is
// usable even when err is set: it holds the complete triples read, or no
// vertices when the data does not parse.
func decodeContour(item []*dicom.Element, opts DecodeOptions) (models.ContourGeometry, error) {
	var geom models.ContourGeometry

	for _, img := range sequenceItems(findElement(item, tagContourImageSequence)) {
		if uid, ok := firstString(findElement(img, tagReferencedSOPInstanceUID)); ok {
			geom.SliceRef = uid
			break
		}
	}

	dataEl := findElement(item, tagContourData)
	if dataEl == nil {
		return geom, nil
	}
	coords, err := floatValues(dataEl)
	if err != nil {
		return geom, err
	}

	var partial error
	if extra := len(coords) % 3; extra != 0 {
		partial = fmt.Errorf("contour data has %d values, not a multiple of 3; trailing %d dropped", len(coords), extra)
		coords = coords[:len(coords)-extra]
	}

	geom.Vertices = make([]models.Vertex, 0, len(coords)/3)
	for k := 0; k+2 < len(coords); k += 3 {
		v := models.Vertex{X: coords[k], Y: coords[k+1], Z: coords[k+2]}
		if opts.SwapInPlaneAxes {
			v.X, v.Y = v.Y, v.X
		}
		geom.Vertices = append(geom.Vertices, v)
	}
	return geom, partial
}
