package patient

import (
	"path/filepath"

	"dicom2ply/pkg/ply"
	"dicom2ply/pkg/roi"
)

// ExportedRegion describes one written PLY file
type ExportedRegion struct {
	Name     string
	Path     string
	Vertices int
	Samples  int
}

// ExportReport lists the written and skipped regions of one export
type ExportReport struct {
	Written []ExportedRegion
	Skipped []Skip
}

// Export writes one PLY file per selected region into outDir. With no names
// every resolved region is exported in resolution order. A region that cannot
// be exported is recorded and never stops its siblings.
func (p *Pipeline) Export(pt *Patient, outDir string, names ...string) *ExportReport {
	if len(names) == 0 {
		names = pt.Order
	}

	report := &ExportReport{}
	fail := func(s Skip) {
		p.logger.Warn("Region not exported", "name", s.Name, "reason", s.Reason, "detail", s.Detail)
		p.metrics.ExportFailures.Add(1)
		report.Skipped = append(report.Skipped, s)
	}

	for _, name := range names {
		region, ok := pt.Regions[name]
		if !ok {
			fail(Skip{Name: name, Reason: ReasonUnknownRegion, Detail: "region was not resolved"})
			continue
		}
		if region.Stats == nil {
			fail(Skip{Name: name, Number: region.Number, Reason: ReasonUndefinedStatistics, Detail: "region has no kept contours"})
			continue
		}

		path := filepath.Join(outDir, ply.FileName(name))
		vertices := region.Vertices()
		if err := ply.WriteFile(path, header(name, region), vertices); err != nil {
			fail(Skip{Name: name, Number: region.Number, Reason: ReasonWriteFailure, Detail: err.Error()})
			continue
		}

		p.logger.Debug("Exported region", "name", name, "path", path, "vertices", len(vertices))
		p.metrics.RegionsExported.Add(1)
		report.Written = append(report.Written, ExportedRegion{
			Name:     name,
			Path:     path,
			Vertices: len(vertices),
			Samples:  region.Stats.Count,
		})
	}

	return report
}

func header(name string, r *roi.Region) ply.Header {
	return ply.Header{
		Name:   name,
		Mean:   r.Stats.Mean,
		Std:    r.Stats.Std,
		Median: r.Stats.Median,
		Mode:   r.Stats.Mode,
		Sum:    r.Stats.Sum,
		Len:    r.Stats.Count,
	}
}
