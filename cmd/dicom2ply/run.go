package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"dicom2ply/pkg/config"
	"dicom2ply/pkg/dicomio"
	"dicom2ply/pkg/metrics"
	"dicom2ply/pkg/patient"
	"dicom2ply/pkg/report"
	"dicom2ply/pkg/roi"
	"dicom2ply/pkg/visualization"
)

// checkDir fails unless path is an existing, listable directory
func checkDir(kind, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s directory %s: %w", kind, path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s directory %s is not a directory", kind, path)
	}
	if _, err := os.ReadDir(path); err != nil {
		return fmt.Errorf("%s directory %s is not readable: %w", kind, path, err)
	}
	return nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

func run(ctx context.Context, cfg *config.Config, sourceDir, outputDir string, regions []string) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if err := checkDir("source", sourceDir); err != nil {
		return err
	}
	if err := checkDir("output", outputDir); err != nil {
		return err
	}

	fmt.Println("================================")
	fmt.Println("DICOM RT STRUCTURE SET TO PLY")
	fmt.Println("================================")

	rsPath, ok, err := dicomio.FindStructureSet(sourceDir, cfg.Discovery.StructureSetPrefix)
	if err != nil {
		return fmt.Errorf("failed to scan source directory: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: no %s* file in %s", patient.ErrMissingStructureSet, cfg.Discovery.StructureSetPrefix, sourceDir)
	}
	fmt.Printf("Structure set: %s\n", rsPath)

	ss, err := dicomio.ReadStructureSet(rsPath, dicomio.DecodeOptions{
		SwapInPlaneAxes: cfg.Geometry.SwapInPlaneAxes,
	})
	if err != nil {
		return err
	}
	logger.Debug("Structure set decoded", "observations", len(ss.Observations), "entries", len(ss.Geometry))
	for _, issue := range ss.Issues {
		logger.Warn("Malformed structure set entry", "path", rsPath, "issue", issue)
	}

	builder := roi.Builder{
		Slices: &dicomio.DirSliceSource{Dir: sourceDir, Pattern: cfg.Discovery.SlicePattern},
		Shape:  cfg.RasterShape(),
		Bins:   cfg.Processing.HistogramBins,
		Logger: logger,
	}

	var masks *visualization.MaskWriter
	if cfg.Output.DebugMaskDir != "" {
		masks, err = visualization.NewMaskWriter(cfg.Output.DebugMaskDir, cfg.Output.DebugMaskScale, logger)
		if err != nil {
			return err
		}
		builder.Observer = masks
	}

	m := metrics.New()
	pipeline := patient.New(builder,
		patient.WithLogger(logger),
		patient.WithMetrics(m),
		patient.WithWorkers(cfg.Processing.Workers),
	)

	fmt.Println("Resolving regions...")
	startTime := time.Now()
	pt, err := pipeline.Resolve(ctx, sourceDir, ss)
	if err != nil {
		return err
	}

	exp := pipeline.Export(pt, outputDir, regions...)
	processingTime := time.Since(startTime)

	summary := report.Build(pt, outputDir, exp)
	printSummary(summary, processingTime)

	if masks != nil {
		fmt.Printf("Mask overlays saved to: %s (%d files)\n", cfg.Output.DebugMaskDir, masks.Written())
		if err := masks.Err(); err != nil {
			fmt.Printf("Warning: Some mask overlays could not be saved: %v\n", err)
		}
	}

	if path := cfg.Output.SummaryYAML; path != "" {
		if err := report.WriteYAML(path, summary); err != nil {
			fmt.Printf("Warning: Failed to save YAML summary: %v\n", err)
		} else {
			fmt.Printf("Summary saved to: %s\n", path)
		}
	}
	if path := cfg.Output.SummaryParquet; path != "" {
		if err := report.WriteParquet(path, summary); err != nil {
			fmt.Printf("Warning: Failed to save Parquet summary: %v\n", err)
		} else {
			fmt.Printf("Summary saved to: %s\n", path)
		}
	}
	if path := cfg.Output.MetricsFile; path != "" {
		if err := m.WriteTextfile(path); err != nil {
			fmt.Printf("Warning: Failed to save metrics: %v\n", err)
		} else {
			fmt.Printf("Metrics saved to: %s\n", path)
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}
	return nil
}

func printSummary(s *report.Summary, elapsed time.Duration) {
	fmt.Printf("\nProcessing completed in %.2f seconds\n", elapsed.Seconds())
	fmt.Printf("Regions exported: %d\n", s.Exported)
	fmt.Printf("Regions skipped:  %d\n", s.Skipped)

	for _, r := range s.Regions {
		if r.Status == report.StatusExported {
			fmt.Printf("  + %-24s mean %10.3f  std %10.3f  samples %8d  -> %s\n", r.Name, r.Mean, r.Std, r.Samples, r.File)
		}
	}
	for _, r := range s.Regions {
		if r.Status == report.StatusSkipped {
			name := r.Name
			if name == "" {
				name = fmt.Sprintf("#%d", r.Number)
			}
			fmt.Printf("  - %-24s %s\n", name, r.Reason)
		}
	}

	if counts := s.ReasonCounts(); len(counts) > 0 {
		fmt.Println("\nSkip reasons:")
		for _, c := range counts {
			fmt.Printf("- %s: %d\n", c.Reason, c.Count)
		}
	}
}
