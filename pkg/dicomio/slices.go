package dicomio

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/mat"

	"dicom2ply/internal/models"
)

// DefaultSlicePattern names CT slice files after their SOP instance UID
const DefaultSlicePattern = "CT.%s.dcm"

var (
	// ErrNoPixelData is returned for images without a usable native frame
	ErrNoPixelData = errors.New("no pixel data")

	// ErrEncapsulatedPixelData is returned for compressed pixel data
	ErrEncapsulatedPixelData = errors.New("encapsulated pixel data is not supported")
)

// DirSliceSource loads CT slices from a directory, one file per SOP instance UID
type DirSliceSource struct {
	Dir string

	// Pattern is a fmt format with a single %s for the UID; DefaultSlicePattern if empty
	Pattern string
}

// Path returns the file a slice reference resolves to
func (s *DirSliceSource) Path(ref string) string {
	pattern := s.Pattern
	if pattern == "" {
		pattern = DefaultSlicePattern
	}
	return filepath.Join(s.Dir, fmt.Sprintf(pattern, ref))
}

// Slice reads and decodes the slice with the given SOP instance UID
func (s *DirSliceSource) Slice(ctx context.Context, ref string) (*models.SliceImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref == "" {
		return nil, errors.New("contour has no referenced image")
	}

	path := s.Path(ref)
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse slice %s: %w", path, err)
	}

	img, err := DecodeSlice(ds)
	if err != nil {
		return nil, fmt.Errorf("slice %s: %w", path, err)
	}
	if img.SOPInstanceUID == "" {
		img.SOPInstanceUID = ref
	}
	return img, nil
}

// DecodeSlice converts the first native frame of ds into a SliceImage.
// A missing Table Height is read as 0.
func DecodeSlice(ds dicom.Dataset) (*models.SliceImage, error) {
	img := &models.SliceImage{}

	if uid, ok := firstString(findElement(ds.Elements, tagSOPInstanceUID)); ok {
		img.SOPInstanceUID = uid
	}

	if el := findElement(ds.Elements, tagTableHeight); el != nil {
		values, err := floatValues(el)
		if err != nil {
			return nil, err
		}
		if len(values) > 0 {
			img.TableHeight = values[0]
		}
	}

	signed := false
	if el := findElement(ds.Elements, tagPixelRepresentation); el != nil {
		if n, err := intValue(el); err == nil && n == 1 {
			signed = true
		}
	}

	pixelEl := findElement(ds.Elements, tag.PixelData)
	if pixelEl == nil || pixelEl.Value == nil {
		return nil, ErrNoPixelData
	}
	info, ok := pixelEl.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 || info.Frames[0] == nil {
		return nil, ErrNoPixelData
	}

	pixels, err := frameToDense(info.Frames[0], signed)
	if err != nil {
		return nil, err
	}
	img.Pixels = pixels
	return img, nil
}

// frameToDense copies the first sample of every pixel of f into a rows x cols matrix
func frameToDense(f *frame.Frame, signed bool) (*mat.Dense, error) {
	if f.Encapsulated {
		return nil, ErrEncapsulatedPixelData
	}
	nf := f.NativeData
	if nf == nil {
		return nil, ErrNoPixelData
	}

	rows, cols := nf.Rows(), nf.Cols()
	if rows <= 0 || cols <= 0 {
		return nil, ErrNoPixelData
	}
	spp := max(1, nf.SamplesPerPixel())
	out := make([]float64, rows*cols)

	var err error
	switch raw := nf.RawDataSlice().(type) {
	case []uint8:
		if signed {
			err = copySamples(reinterpret[uint8, int8](raw), spp, out)
		} else {
			err = copySamples(raw, spp, out)
		}
	case []uint16:
		if signed {
			err = copySamples(reinterpret[uint16, int16](raw), spp, out)
		} else {
			err = copySamples(raw, spp, out)
		}
	case []uint32:
		if signed {
			err = copySamples(reinterpret[uint32, int32](raw), spp, out)
		} else {
			err = copySamples(raw, spp, out)
		}
	case []int8:
		err = copySamples(raw, spp, out)
	case []int16:
		err = copySamples(raw, spp, out)
	case []int32:
		err = copySamples(raw, spp, out)
	case []int:
		err = copySamples(raw, spp, out)
	default:
		err = fmt.Errorf("unsupported pixel sample type %T", raw)
	}
	if err != nil {
		return nil, err
	}

	return mat.NewDense(rows, cols, out), nil
}

type sample interface {
	~uint8 | ~uint16 | ~uint32 | ~int8 | ~int16 | ~int32 | ~int
}

// copySamples writes the first sample of each pixel of raw into out
func copySamples[I sample](raw []I, spp int, out []float64) error {
	if len(raw) < len(out)*spp {
		return fmt.Errorf("pixel data holds %d samples, need %d", len(raw), len(out)*spp)
	}
	for i := range out {
		out[i] = float64(raw[i*spp])
	}
	return nil
}

// reinterpret converts unsigned stored values to their two's complement signed form
func reinterpret[U ~uint8 | ~uint16 | ~uint32, S ~int8 | ~int16 | ~int32](raw []U) []S {
	out := make([]S, len(raw))
	for i, v := range raw {
		out[i] = S(v)
	}
	return out
}
