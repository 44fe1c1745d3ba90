// Package visualization renders contour masks over their slices for inspection.
package visualization

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/mat"

	"dicom2ply/internal/models"
	"dicom2ply/pkg/roi"
)

// MaskWriter is a roi.MaskObserver that saves one PNG overlay per measured
// contour. It is safe for concurrent use.
type MaskWriter struct {
	dir    string
	scale  int
	logger *slog.Logger

	mu      sync.Mutex
	written int
	errs    []error
}

// NewMaskWriter creates dir if needed. Overlays are enlarged by scale
// (values below 1 keep the native size).
func NewMaskWriter(dir string, scale int, logger *slog.Logger) (*MaskWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create mask directory: %w", err)
	}
	if scale < 1 {
		scale = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MaskWriter{dir: dir, scale: scale, logger: logger}, nil
}

// ObserveMask implements roi.MaskObserver
func (w *MaskWriter) ObserveMask(region string, index int, c *roi.Contour, slice *models.SliceImage) {
	img := RenderOverlay(c, slice)
	if img == nil {
		return
	}

	filename := filepath.Join(w.dir, MaskFileName(region, index))
	err := SaveImage(Scale(img, w.scale), filename)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.logger.Warn("Failed to save mask overlay", "region", region, "contour", index, "error", err)
		w.errs = append(w.errs, err)
		return
	}
	w.written++
}

// Written returns the number of overlays saved so far
func (w *MaskWriter) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Err returns the joined save errors, or nil
func (w *MaskWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(w.errs...)
}

// MaskFileName returns the overlay file name for contour index of region
func MaskFileName(region string, index int) string {
	safe := strings.NewReplacer("/", "_", `\`, "_").Replace(region)
	return fmt.Sprintf("mask_%s_%03d.png", safe, index)
}

// RenderOverlay draws the slice in grayscale with the contour's mask in red.
// The image has the mask's shape; cells outside the slice are black.
// It returns nil for contours without a mask.
func RenderOverlay(c *roi.Contour, slice *models.SliceImage) image.Image {
	if c == nil || c.Mask == nil || c.Mask.Shape.IsZero() {
		return nil
	}
	rows, cols := c.Mask.Shape.Rows, c.Mask.Shape.Cols
	img := image.NewRGBA(image.Rect(0, 0, cols, rows))

	sliceRows, sliceCols := slice.Dims()
	lo, hi := 0.0, 0.0
	if sliceRows > 0 && sliceCols > 0 {
		lo, hi = mat.Min(slice.Pixels), mat.Max(slice.Pixels)
	}

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			var g uint8
			if y < sliceRows && x < sliceCols {
				g = grayLevel(slice.Pixels.At(y, x), lo, hi)
			}

			if c.Mask.At(y, x) {
				img.Set(x, y, color.RGBA{R: 255, G: g / 2, B: g / 2, A: 255})
			} else {
				img.Set(x, y, color.RGBA{R: g, G: g, B: g, A: 255})
			}
		}
	}

	return img
}

// grayLevel maps v from [lo, hi] onto 0..255
func grayLevel(v, lo, hi float64) uint8 {
	if hi <= lo {
		if v > 0 {
			return 255
		}
		return 0
	}
	return uint8(math.Max(0, math.Min(255, (v-lo)/(hi-lo)*255)))
}

// Scale enlarges img by an integer factor with nearest-neighbour sampling
func Scale(img image.Image, factor int) image.Image {
	if factor <= 1 {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// SaveImage saves img as a PNG file
func SaveImage(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
