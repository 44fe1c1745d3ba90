package patient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"gonum.org/v1/gonum/mat"

	"dicom2ply/internal/models"
	"dicom2ply/pkg/metrics"
	"dicom2ply/pkg/roi"
)

// constantSlice creates a synthetic slice filled with a single value
func constantSlice(uid string, rows, cols int, value float64) *models.SliceImage {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = value
	}
	return &models.SliceImage{
		SOPInstanceUID: uid,
		Pixels:         mat.NewDense(rows, cols, data),
	}
}

func square(ref string, x, y, side float64) models.ContourGeometry {
	return models.ContourGeometry{
		SliceRef: ref,
		Vertices: []models.Vertex{
			{X: x, Y: y, Z: 2},
			{X: x + side, Y: y, Z: 2},
			{X: x + side, Y: y + side, Z: 2},
			{X: x, Y: y + side, Z: 2},
		},
	}
}

func label(s string) *string {
	return &s
}

// countingSource serves constant slices and counts reads per reference
type countingSource struct {
	slices map[string]*models.SliceImage
	reads  atomic.Int64

	// cancel is called when cancelOn is requested
	cancelOn string
	cancel   context.CancelFunc
}

func (s *countingSource) Slice(ctx context.Context, ref string) (*models.SliceImage, error) {
	s.reads.Add(1)
	if ref == "panic" {
		panic("corrupt slice")
	}
	if s.cancel != nil && ref == s.cancelOn {
		s.cancel()
		return nil, ctx.Err()
	}
	img, ok := s.slices[ref]
	if !ok {
		return nil, errors.New("slice not found: " + ref)
	}
	return img, nil
}

func newSource() *countingSource {
	return &countingSource{slices: map[string]*models.SliceImage{
		"s5": constantSlice("s5", 64, 64, 5),
		"s9": constantSlice("s9", 64, 64, 9),
	}}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(src roi.SliceSource, workers int) *Pipeline {
	return New(roi.Builder{Slices: src, Bins: 4096},
		WithLogger(quietLogger()),
		WithMetrics(metrics.New()),
		WithWorkers(workers),
	)
}

func skipReasons(skips []Skip) map[Reason]int {
	out := make(map[Reason]int)
	for _, s := range skips {
		out[s.Reason]++
	}
	return out
}

// TestEndToEndExport covers a valid region next to a degenerate one
func TestEndToEndExport(t *testing.T) {
	ss := &models.StructureSet{
		Observations: []models.ObservationEntry{
			{Number: 1, Label: label("Region_A")},
			{Number: 2, Label: label("Region_B")},
		},
		Geometry: []models.GeometryEntry{
			{ReferencedNumber: 1, HasContours: true, Contours: []models.ContourGeometry{square("s5", 10, 10, 10)}},
			{ReferencedNumber: 2, HasContours: true, Contours: []models.ContourGeometry{{
				SliceRef: "s5",
				Vertices: []models.Vertex{{X: 1, Y: 1}, {X: 5, Y: 5}},
			}}},
		},
	}

	p := newPipeline(newSource(), 2)
	pt, err := p.Resolve(context.Background(), "/data", ss)
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}

	if names := pt.RegionNames(); len(names) != 1 || names[0] != "Region_A" {
		t.Fatalf("Expected only Region_A, got %v", names)
	}
	if _, ok := pt.Regions["Region_B"]; ok {
		t.Error("Expected Region_B to be excluded")
	}
	if got := skipReasons(pt.Report.Skipped)[ReasonEmptyStatistics]; got != 1 {
		t.Errorf("Expected one empty-statistics skip, got %d", got)
	}

	outDir := t.TempDir()
	exp := p.Export(pt, outDir)
	if len(exp.Written) != 1 || len(exp.Skipped) != 0 {
		t.Fatalf("Expected 1 written and 0 skipped, got %d and %d", len(exp.Written), len(exp.Skipped))
	}

	data, err := os.ReadFile(filepath.Join(outDir, "roi_Region_A.ply"))
	if err != nil {
		t.Fatalf("Failed to read export: %v", err)
	}
	text := string(data)
	for _, line := range []string{
		"comment name roi_Region_A\n",
		"comment mean 5.000000\n",
		"comment std 0.000000\n",
		"comment median 5.000000\n",
		"comment len 121.000000\n",
		"element vertex 4\n",
		"10.000000 10.000000 2.000000\n",
	} {
		if !strings.Contains(text, line) {
			t.Errorf("Expected export to contain %q\n%s", line, text)
		}
	}

	if _, err := os.Stat(filepath.Join(outDir, "roi_Region_B.ply")); !os.IsNotExist(err) {
		t.Errorf("Expected no roi_Region_B.ply, got err=%v", err)
	}

	if got := p.Metrics().RegionsExported.Load(); got != 1 {
		t.Errorf("Expected 1 exported region, got %d", got)
	}
}

func TestResolveSkipsEntries(t *testing.T) {
	ss := &models.StructureSet{
		Observations: []models.ObservationEntry{
			{Number: 1, Label: label("PTV")},
			{Number: 7},
			{Number: 3, Label: label("Marker")},
		},
		Geometry: []models.GeometryEntry{
			{ReferencedNumber: 1, HasContours: true, Contours: []models.ContourGeometry{square("s5", 2, 2, 6)}},
			{ReferencedNumber: 7, HasContours: true, Contours: []models.ContourGeometry{square("s9", 2, 2, 6)}},
			{ReferencedNumber: 3},
			{ReferencedNumber: 42, HasContours: true, Contours: []models.ContourGeometry{square("s5", 2, 2, 6)}},
		},
	}

	pt, err := newPipeline(newSource(), 1).Resolve(context.Background(), "/data", ss)
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}

	if pt.Labels[7] != "1" {
		t.Errorf("Expected unlabeled observation to use its index, got %q", pt.Labels[7])
	}

	names := pt.RegionNames()
	if len(names) != 2 || names[0] != "PTV" || names[1] != "1" {
		t.Errorf("Expected [PTV 1], got %v", names)
	}

	reasons := skipReasons(pt.Report.Skipped)
	if reasons[ReasonNonGeometric] != 1 || reasons[ReasonUnlabeledGeometry] != 1 {
		t.Errorf("Unexpected skip reasons: %v", reasons)
	}
}

func TestResolveDuplicateLabelReplaces(t *testing.T) {
	ss := &models.StructureSet{
		Observations: []models.ObservationEntry{
			{Number: 1, Label: label("GTV")},
			{Number: 2, Label: label("GTV")},
		},
		Geometry: []models.GeometryEntry{
			{ReferencedNumber: 1, HasContours: true, Contours: []models.ContourGeometry{square("s5", 2, 2, 6)}},
			{ReferencedNumber: 2, HasContours: true, Contours: []models.ContourGeometry{square("s9", 2, 2, 6)}},
		},
	}

	pt, err := newPipeline(newSource(), 4).Resolve(context.Background(), "/data", ss)
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}

	if len(pt.Order) != 1 {
		t.Fatalf("Expected a single region name, got %v", pt.Order)
	}
	r := pt.Regions["GTV"]
	if r.Number != 2 || r.Stats.Mean != 9 {
		t.Errorf("Expected the later entry to win, got number %d mean %f", r.Number, r.Stats.Mean)
	}

	skips := pt.Report.Skipped
	if len(skips) != 1 || skips[0].Reason != ReasonDuplicateLabel || skips[0].Number != 1 {
		t.Errorf("Expected ROI 1 reported as duplicate, got %+v", skips)
	}
}

// TestResolveIsolatesFailures checks that broken regions never affect siblings
func TestResolveIsolatesFailures(t *testing.T) {
	ss := &models.StructureSet{
		Observations: []models.ObservationEntry{
			{Number: 1, Label: label("Good")},
			{Number: 2, Label: label("Panics")},
			{Number: 3, Label: label("Missing")},
		},
		Geometry: []models.GeometryEntry{
			{ReferencedNumber: 1, HasContours: true, Contours: []models.ContourGeometry{square("s5", 2, 2, 6)}},
			{ReferencedNumber: 2, HasContours: true, Contours: []models.ContourGeometry{square("panic", 2, 2, 6)}},
			{ReferencedNumber: 3, HasContours: true, Contours: []models.ContourGeometry{square("nope", 2, 2, 6)}},
		},
	}

	p := newPipeline(newSource(), 3)
	pt, err := p.Resolve(context.Background(), "/data", ss)
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}

	if names := pt.RegionNames(); len(names) != 1 || names[0] != "Good" {
		t.Fatalf("Expected only Good, got %v", names)
	}

	reasons := skipReasons(pt.Report.Skipped)
	if reasons[ReasonRegionFailure] != 1 || reasons[ReasonEmptyStatistics] != 1 {
		t.Errorf("Unexpected skip reasons: %v", reasons)
	}

	exp := p.Export(pt, t.TempDir())
	if len(exp.Written) != 1 || exp.Written[0].Name != "Good" {
		t.Errorf("Expected Good to be exported, got %+v", exp.Written)
	}
}

func TestResolveSharesSlices(t *testing.T) {
	ss := &models.StructureSet{
		Observations: []models.ObservationEntry{
			{Number: 1, Label: label("A")},
			{Number: 2, Label: label("B")},
		},
		Geometry: []models.GeometryEntry{
			{ReferencedNumber: 1, HasContours: true, Contours: []models.ContourGeometry{square("s5", 2, 2, 6), square("s5", 20, 20, 6)}},
			{ReferencedNumber: 2, HasContours: true, Contours: []models.ContourGeometry{square("s5", 30, 30, 6)}},
		},
	}

	src := newSource()
	p := newPipeline(src, 1)
	if _, err := p.Resolve(context.Background(), "/data", ss); err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}

	if got := src.reads.Load(); got != 1 {
		t.Errorf("Expected the slice to be read once, got %d reads", got)
	}
	m := p.Metrics()
	if m.SliceCacheMisses.Load() != 1 || m.SliceCacheHits.Load() != 2 {
		t.Errorf("Expected 1 miss and 2 hits, got %d and %d", m.SliceCacheMisses.Load(), m.SliceCacheHits.Load())
	}
	if p.Cache().Len() != 1 {
		t.Errorf("Expected one cached slice, got %d", p.Cache().Len())
	}
}

func TestResolveCancelled(t *testing.T) {
	ss := &models.StructureSet{
		Observations: []models.ObservationEntry{{Number: 1, Label: label("A")}},
		Geometry: []models.GeometryEntry{
			{ReferencedNumber: 1, HasContours: true, Contours: []models.ContourGeometry{square("s5", 2, 2, 6)}},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pt, err := newPipeline(newSource(), 1).Resolve(ctx, "/data", ss)
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if len(pt.Regions) != 0 {
		t.Errorf("Expected no regions, got %v", pt.Order)
	}
	if got := skipReasons(pt.Report.Skipped)[ReasonCancelled]; got != 1 {
		t.Errorf("Expected one cancelled skip, got %d", got)
	}
}

// TestResolveDiscardsInterruptedRegion cancels the run while a region is half built
func TestResolveDiscardsInterruptedRegion(t *testing.T) {
	ss := &models.StructureSet{
		Observations: []models.ObservationEntry{
			{Number: 1, Label: label("Done")},
			{Number: 2, Label: label("Partial")},
		},
		Geometry: []models.GeometryEntry{
			{ReferencedNumber: 1, HasContours: true, Contours: []models.ContourGeometry{square("s5", 2, 2, 6)}},
			{ReferencedNumber: 2, HasContours: true, Contours: []models.ContourGeometry{
				square("s5", 2, 2, 6),
				square("s9", 2, 2, 6),
			}},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newSource()
	src.cancelOn, src.cancel = "s9", cancel

	p := newPipeline(src, 1)
	pt, err := p.Resolve(ctx, "/data", ss)
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}

	if names := pt.RegionNames(); len(names) != 1 || names[0] != "Done" {
		t.Fatalf("Expected only the finished region, got %v", names)
	}
	skips := pt.Report.Skipped
	if len(skips) != 1 || skips[0].Name != "Partial" || skips[0].Reason != ReasonCancelled {
		t.Errorf("Expected Partial reported as cancelled, got %+v", skips)
	}

	outDir := t.TempDir()
	if exp := p.Export(pt, outDir); len(exp.Written) != 1 {
		t.Errorf("Expected only the finished region to be exported, got %+v", exp.Written)
	}
	if _, err := os.Stat(filepath.Join(outDir, "roi_Partial.ply")); !os.IsNotExist(err) {
		t.Errorf("Expected no roi_Partial.ply, got err=%v", err)
	}
}

func TestResolveNilStructureSet(t *testing.T) {
	if _, err := newPipeline(newSource(), 1).Resolve(context.Background(), "/data", nil); !errors.Is(err, ErrMissingStructureSet) {
		t.Errorf("Expected ErrMissingStructureSet, got %v", err)
	}
}

func TestExportSkips(t *testing.T) {
	p := newPipeline(newSource(), 1)
	pt := &Patient{
		Regions: map[string]*roi.Region{
			"Stale": {Name: "Stale", Number: 4},
		},
	}

	exp := p.Export(pt, t.TempDir(), "Stale", "Unknown")
	if len(exp.Written) != 0 {
		t.Errorf("Expected nothing written, got %+v", exp.Written)
	}
	reasons := skipReasons(exp.Skipped)
	if reasons[ReasonUndefinedStatistics] != 1 || reasons[ReasonUnknownRegion] != 1 {
		t.Errorf("Unexpected export skips: %v", reasons)
	}
	if got := p.Metrics().ExportFailures.Load(); got != 2 {
		t.Errorf("Expected 2 export failures, got %d", got)
	}
}

func TestExportWriteFailureIsIsolated(t *testing.T) {
	ss := &models.StructureSet{
		Observations: []models.ObservationEntry{{Number: 1, Label: label("A")}},
		Geometry: []models.GeometryEntry{
			{ReferencedNumber: 1, HasContours: true, Contours: []models.ContourGeometry{square("s5", 2, 2, 6)}},
		},
	}

	p := newPipeline(newSource(), 1)
	pt, err := p.Resolve(context.Background(), "/data", ss)
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}

	exp := p.Export(pt, filepath.Join(t.TempDir(), "missing"))
	if len(exp.Skipped) != 1 || exp.Skipped[0].Reason != ReasonWriteFailure {
		t.Errorf("Expected a write failure, got %+v", exp.Skipped)
	}
}
