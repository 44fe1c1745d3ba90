// Package config provides configuration loading and management for dicom2ply.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"dicom2ply/pkg/dicomio"
	"dicom2ply/pkg/raster"
	"dicom2ply/pkg/stats"
)

// EnvConfigPath names the environment variable holding the config file path
const EnvConfigPath = "DICOM2PLY_CONFIG"

// DefaultConfigPath is used when neither a flag nor the environment names a file
const DefaultConfigPath = "dicom2ply.yaml"

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Workers bounds how many regions are built concurrently
		Workers int `yaml:"workers"`

		// HistogramBins is the bin count of the histogram the mode is read from
		HistogramBins int `yaml:"histogramBins"`

		// RasterRows and RasterCols fix the mask shape; zero means the slice's
		// native shape
		RasterRows int `yaml:"rasterRows"`
		RasterCols int `yaml:"rasterCols"`
	} `yaml:"processing"`

	// Geometry parameters
	Geometry struct {
		// SwapInPlaneAxes reads contour triples as (y, x, z)
		SwapInPlaneAxes bool `yaml:"swapInPlaneAxes"`
	} `yaml:"geometry"`

	// File discovery parameters
	Discovery struct {
		StructureSetPrefix string `yaml:"structureSetPrefix"`
		SlicePattern       string `yaml:"slicePattern"`
	} `yaml:"discovery"`

	// Output parameters
	Output struct {
		SummaryYAML    string `yaml:"summaryYAML"`
		SummaryParquet string `yaml:"summaryParquet"`
		MetricsFile    string `yaml:"metricsFile"`

		// DebugMaskDir enables PNG mask overlays when set
		DebugMaskDir   string `yaml:"debugMaskDir"`
		DebugMaskScale int    `yaml:"debugMaskScale"`

		// LogLevel is one of debug, info, warn, error
		LogLevel string `yaml:"logLevel"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.Workers = runtime.NumCPU()
	cfg.Processing.HistogramBins = stats.DefaultBins

	cfg.Geometry.SwapInPlaneAxes = true

	cfg.Discovery.StructureSetPrefix = "RS"
	cfg.Discovery.SlicePattern = dicomio.DefaultSlicePattern

	cfg.Output.DebugMaskScale = 2
	cfg.Output.LogLevel = "info"

	return cfg
}

// ResolvePath picks the config file path: the explicit path when given, then
// the environment, then DefaultConfigPath
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return DefaultConfigPath
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Processing.HistogramBins < 1 {
		return fmt.Errorf("histogramBins must be positive, got %d", c.Processing.HistogramBins)
	}
	if c.Processing.RasterRows < 0 || c.Processing.RasterCols < 0 {
		return fmt.Errorf("raster shape must not be negative, got %dx%d", c.Processing.RasterRows, c.Processing.RasterCols)
	}
	if (c.Processing.RasterRows == 0) != (c.Processing.RasterCols == 0) {
		return fmt.Errorf("rasterRows and rasterCols must be set together")
	}
	if c.Discovery.StructureSetPrefix == "" {
		return fmt.Errorf("structureSetPrefix must not be empty")
	}
	if strings.Count(c.Discovery.SlicePattern, "%s") != 1 {
		return fmt.Errorf("slicePattern must contain exactly one %%s, got %q", c.Discovery.SlicePattern)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// RasterShape returns the configured mask shape; zero means native
func (c *Config) RasterShape() raster.Shape {
	return raster.Shape{Rows: c.Processing.RasterRows, Cols: c.Processing.RasterCols}
}

// Level parses Output.LogLevel
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Output.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.Output.LogLevel, err)
	}
	return level, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
