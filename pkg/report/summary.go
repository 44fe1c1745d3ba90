// Package report persists the end-of-run summary of exported and skipped regions.
package report

import (
	"fmt"
	"os"
	"sort"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"

	"dicom2ply/pkg/patient"
)

// Region statuses
const (
	StatusExported = "exported"
	StatusSkipped  = "skipped"
)

// RegionRecord is one row of the run summary
type RegionRecord struct {
	Name     string  `yaml:"name" parquet:"name"`
	Number   int64   `yaml:"number" parquet:"number"`
	Status   string  `yaml:"status" parquet:"status"`
	Reason   string  `yaml:"reason,omitempty" parquet:"reason,optional"`
	Detail   string  `yaml:"detail,omitempty" parquet:"detail,optional"`
	File     string  `yaml:"file,omitempty" parquet:"file,optional"`
	Contours int64   `yaml:"contours" parquet:"contours"`
	Dropped  int64   `yaml:"dropped" parquet:"dropped"`
	Vertices int64   `yaml:"vertices" parquet:"vertices"`
	Samples  int64   `yaml:"samples" parquet:"samples"`
	Mean     float64 `yaml:"mean" parquet:"mean"`
	Std      float64 `yaml:"std" parquet:"std"`
	Median   float64 `yaml:"median" parquet:"median"`
	Mode     float64 `yaml:"mode" parquet:"mode"`
	Sum      float64 `yaml:"sum" parquet:"sum"`

	// Mask totals over the kept contours
	MaskCells       int64   `yaml:"maskCells" parquet:"mask_cells"`
	MaskedIntensity float64 `yaml:"maskedIntensity" parquet:"masked_intensity"`
}

// Summary is the complete run summary
type Summary struct {
	Source   string         `yaml:"source"`
	Output   string         `yaml:"output"`
	Exported int            `yaml:"exported"`
	Skipped  int            `yaml:"skipped"`
	Regions  []RegionRecord `yaml:"regions"`
}

// Build merges the resolution report of pt and the export report exp into a
// summary. Exported regions come first in export order, then skipped entries
// in the order they were recorded.
func Build(pt *patient.Patient, outDir string, exp *patient.ExportReport) *Summary {
	s := &Summary{Source: pt.Dir, Output: outDir}

	if exp != nil {
		for _, w := range exp.Written {
			rec := RegionRecord{Name: w.Name, Status: StatusExported, File: w.Path}
			if r, ok := pt.Regions[w.Name]; ok {
				rec.Number = int64(r.Number)
				rec.Contours = int64(r.Len())
				rec.Dropped = int64(len(r.Dropped))
				rec.Vertices = int64(r.VertexCount)
				rec.MaskCells = int64(r.MaskCellTotal())
				rec.MaskedIntensity = r.MaskedIntensityTotal()
				if r.Stats != nil {
					rec.Samples = int64(r.Stats.Count)
					rec.Mean = r.Stats.Mean
					rec.Std = r.Stats.Std
					rec.Median = r.Stats.Median
					rec.Mode = r.Stats.Mode
					rec.Sum = r.Stats.Sum
				}
			}
			s.Regions = append(s.Regions, rec)
		}
	}

	skipped := append([]patient.Skip(nil), pt.Report.Skipped...)
	if exp != nil {
		skipped = append(skipped, exp.Skipped...)
	}
	for _, sk := range skipped {
		s.Regions = append(s.Regions, RegionRecord{
			Name:   sk.Name,
			Number: int64(sk.Number),
			Status: StatusSkipped,
			Reason: string(sk.Reason),
			Detail: sk.Detail,
		})
	}

	for _, r := range s.Regions {
		if r.Status == StatusExported {
			s.Exported++
		} else {
			s.Skipped++
		}
	}
	return s
}

// ReasonCounts returns the number of skipped records per reason, sorted by reason
func (s *Summary) ReasonCounts() []ReasonCount {
	counts := make(map[string]int)
	for _, r := range s.Regions {
		if r.Status == StatusSkipped {
			counts[r.Reason]++
		}
	}

	out := make([]ReasonCount, 0, len(counts))
	for reason, n := range counts {
		out = append(out, ReasonCount{Reason: reason, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reason < out[j].Reason })
	return out
}

// ReasonCount is the number of skips for one reason
type ReasonCount struct {
	Reason string
	Count  int
}

// WriteYAML writes s to path as YAML
func WriteYAML(path string, s *Summary) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}
	return nil
}

// WriteParquet writes the region records of s to path as a Parquet file
func WriteParquet(path string, s *Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}

	w := parquet.NewGenericWriter[RegionRecord](f)
	if _, err := w.Write(s.Regions); err != nil {
		f.Close()
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return f.Close()
}
