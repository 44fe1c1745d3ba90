// Package dicomio reads RT structure sets and CT slices from DICOM files.
package dicomio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Tags used by the structure set and slice decoders
var (
	// Structure set ROI catalogue
	tagRTROIObservationsSequence = tag.Tag{Group: 0x3006, Element: 0x0080}
	tagObservationNumber         = tag.Tag{Group: 0x3006, Element: 0x0082}
	tagROIObservationLabel       = tag.Tag{Group: 0x3006, Element: 0x0085}

	// Contour geometry
	tagROIContourSequence       = tag.Tag{Group: 0x3006, Element: 0x0039}
	tagReferencedROINumber      = tag.Tag{Group: 0x3006, Element: 0x0084}
	tagContourSequence          = tag.Tag{Group: 0x3006, Element: 0x0040}
	tagContourImageSequence     = tag.Tag{Group: 0x3006, Element: 0x0016}
	tagContourData              = tag.Tag{Group: 0x3006, Element: 0x0050}
	tagReferencedSOPInstanceUID = tag.Tag{Group: 0x0008, Element: 0x1155}

	// Image
	tagSOPInstanceUID      = tag.Tag{Group: 0x0008, Element: 0x0018}
	tagTableHeight         = tag.Tag{Group: 0x0018, Element: 0x1130}
	tagPixelRepresentation = tag.Tag{Group: 0x0028, Element: 0x0103}
)

// findElement returns the first element of elems with tag t, or nil
func findElement(elems []*dicom.Element, t tag.Tag) *dicom.Element {
	for _, el := range elems {
		if el != nil && el.Tag == t {
			return el
		}
	}
	return nil
}

// sequenceItems returns the element lists of each item of a sequence element
func sequenceItems(el *dicom.Element) [][]*dicom.Element {
	if el == nil || el.Value == nil {
		return nil
	}
	items, ok := el.Value.GetValue().([]*dicom.SequenceItemValue)
	if !ok {
		return nil
	}

	out := make([][]*dicom.Element, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		elems, ok := item.GetValue().([]*dicom.Element)
		if !ok {
			continue
		}
		out = append(out, elems)
	}
	return out
}

// stringValues returns the values of el as strings, whatever their parsed type
func stringValues(el *dicom.Element) []string {
	if el == nil || el.Value == nil {
		return nil
	}
	switch v := el.Value.GetValue().(type) {
	case []string:
		return v
	case []int:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.Itoa(n)
		}
		return out
	case []float64:
		out := make([]string, len(v))
		for i, f := range v {
			out[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return out
	}
	return nil
}

// firstString returns the first trimmed value of el and whether it is non-empty
func firstString(el *dicom.Element) (string, bool) {
	values := stringValues(el)
	if len(values) == 0 {
		return "", false
	}
	s := strings.TrimSpace(strings.Trim(values[0], "\x00"))
	return s, s != ""
}

// intValue parses the first value of an IS/US element
func intValue(el *dicom.Element) (int, error) {
	s, ok := firstString(el)
	if !ok {
		return 0, fmt.Errorf("element %s has no value", el.Tag)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("element %s: %w", el.Tag, err)
	}
	return n, nil
}

// floatValues parses every value of a DS/FD element
func floatValues(el *dicom.Element) ([]float64, error) {
	values := stringValues(el)
	out := make([]float64, 0, len(values))
	for _, s := range values {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", el.Tag, err)
		}
		out = append(out, f)
	}
	return out, nil
}
