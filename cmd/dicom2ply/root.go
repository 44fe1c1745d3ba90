package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"dicom2ply/pkg/config"
)

// options holds the command line flags
type options struct {
	configPath     string
	workers        int
	bins           int
	regions        []string
	summaryYAML    string
	summaryParquet string
	metricsFile    string
	debugMasks     string
	logLevel       string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "dicom2ply <source-dir> <output-dir>",
		Short: "Export RT structure set regions as PLY point clouds with intensity statistics",
		Long: `dicom2ply reads the RT structure set (RS*) of a patient directory together with
its CT slices, measures the pixel intensities enclosed by every contour, and writes one
roi_<name>.ply file per region. The pooled region statistics (mean, std, median, mode,
sum and sample count) are stored as header comments.`,
		Example: `  # Export every region
  dicom2ply ./patient01 ./out

  # Export two regions with a run summary and mask overlays
  dicom2ply ./patient01 ./out --regions PTV,Cord --summary-yaml out/summary.yaml --debug-masks out/masks`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(config.ResolvePath(opts.configPath))
			if err != nil {
				return err
			}
			if err := opts.apply(cmd, cfg); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, args[0], args[1], opts.regions)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to the YAML config file (default $"+config.EnvConfigPath+" or "+config.DefaultConfigPath+")")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Number of regions built concurrently")
	cmd.Flags().IntVar(&opts.bins, "bins", 0, "Histogram bin count used for the mode")
	cmd.Flags().StringSliceVar(&opts.regions, "regions", nil, "Region names to export (default: all)")
	cmd.Flags().StringVar(&opts.summaryYAML, "summary-yaml", "", "Write the run summary as YAML to this file")
	cmd.Flags().StringVar(&opts.summaryParquet, "summary-parquet", "", "Write the run summary as Parquet to this file")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write pipeline counters in Prometheus text format to this file")
	cmd.Flags().StringVar(&opts.debugMasks, "debug-masks", "", "Write PNG mask overlays to this directory")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newConfigCmd())

	return cmd
}

// apply copies explicitly set flags over cfg
func (o *options) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Processing.Workers = o.workers
	}
	if flags.Changed("bins") {
		cfg.Processing.HistogramBins = o.bins
	}
	if flags.Changed("summary-yaml") {
		cfg.Output.SummaryYAML = o.summaryYAML
	}
	if flags.Changed("summary-parquet") {
		cfg.Output.SummaryParquet = o.summaryParquet
	}
	if flags.Changed("metrics-file") {
		cfg.Output.MetricsFile = o.metricsFile
	}
	if flags.Changed("debug-masks") {
		cfg.Output.DebugMaskDir = o.debugMasks
	}
	if flags.Changed("log-level") {
		cfg.Output.LogLevel = o.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the dicom2ply config file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file with default values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to: %s\n", path)
			return nil
		},
	})

	return cmd
}
