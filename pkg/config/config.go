// Package config provides configuration loading and management for cordmetrics.
// It handles loading configuration from YAML files, environment overrides for
// the study directories, and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables that locate the study directories
const (
	EnvData      = "PATH_DATA"
	EnvProcessed = "PATH_DATA_PROCESSED"
	EnvResults   = "PATH_RESULTS"
	EnvLog       = "PATH_LOG"
	EnvQC        = "PATH_QC"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Study directories
	Paths struct {
		// Data is the BIDS-style input root (<data>/<sub>/<ses>/anat)
		Data string `yaml:"data" validate:"required"`

		// Processed is the working copy root where segmentations are produced
		Processed string `yaml:"processed" validate:"required"`

		// Results receives per-slice and summary CSV tables
		Results string `yaml:"results" validate:"required"`

		// Log receives the run log, error log and metrics textfile
		Log string `yaml:"log" validate:"required"`

		// QC receives quality-control images
		QC string `yaml:"qc" validate:"required"`
	} `yaml:"paths"`

	// Grid is the acquisition × reconstruction set processed per session
	Grid struct {
		Acquisitions    []string `yaml:"acquisitions" validate:"min=1,dive,required"`
		Reconstructions []string `yaml:"reconstructions" validate:"min=1,dive,required"`
	} `yaml:"grid"`

	// Contrast is the image suffix, e.g. T2starw
	Contrast string `yaml:"contrast" validate:"required"`

	// Segmentation cache and external tools
	Segmentation struct {
		// Recompute forces automatic segmentations to be recomputed even when
		// a previous artifact exists. Manual overrides still win.
		Recompute bool `yaml:"recompute"`

		// LabelVertebrae runs the vertebral labeling step after cord segmentation
		LabelVertebrae bool `yaml:"labelVertebrae"`

		// Store selects the artifact store backend
		Store string `yaml:"store" validate:"oneof=fs badger gcs"`

		// BadgerDir holds the provenance index when Store is badger
		BadgerDir string `yaml:"badgerDir" validate:"required_if=Store badger"`

		// Bucket and Prefix locate artifacts when Store is gcs
		Bucket string `yaml:"bucket" validate:"required_if=Store gcs"`
		Prefix string `yaml:"prefix"`

		// Credentials is an optional service account key for the gcs store;
		// application default credentials are used when empty
		Credentials string `yaml:"credentials" validate:"omitempty,file"`

		// CacheDir holds local copies of gcs artifacts
		CacheDir string `yaml:"cacheDir" validate:"required_if=Store gcs"`

		// Tool executables
		Tools struct {
			Cord           string `yaml:"cord" validate:"required"`
			GrayMatter     string `yaml:"grayMatter" validate:"required"`
			Maths          string `yaml:"maths" validate:"required"`
			QC             string `yaml:"qc" validate:"required"`
			LabelVertebrae string `yaml:"labelVertebrae" validate:"required"`
		} `yaml:"tools"`
	} `yaml:"segmentation"`

	// Processing parameters
	Processing struct {
		// NumWorkers is the number of combinations processed concurrently
		NumWorkers int `yaml:"numWorkers" validate:"min=1"`

		// SliceWorkers bounds per-slice concurrency inside the metrics engine
		SliceWorkers int `yaml:"sliceWorkers" validate:"min=0"`

		// Precision is the number of decimals ratios are rounded to
		Precision int `yaml:"precision" validate:"min=1,max=12"`
	} `yaml:"processing"`

	// Ghosting quantification
	Ghosting struct {
		Enabled bool `yaml:"enabled"`

		// Script creates the ghosting mask from the navigated acquisition
		Script string `yaml:"script" validate:"required_if=Enabled true"`

		// Smooth and Bins are forwarded to the mask script
		Smooth int `yaml:"smooth" validate:"min=0"`
		Bins   int `yaml:"bins" validate:"min=0"`

		// Suffix of the mask file produced by the script
		Suffix string `yaml:"suffix" validate:"required"`

		// Reference is the reconstruction the mask is drawn on
		Reference string `yaml:"reference" validate:"required"`
	} `yaml:"ghosting"`

	// QC image parameters
	QC struct {
		Enabled bool `yaml:"enabled"`

		// Scale is the integer upscaling factor of QC images
		Scale int `yaml:"scale" validate:"min=1,max=16"`
	} `yaml:"qc"`

	// Output parameters
	Output struct {
		// LogLevel is a zerolog level name
		LogLevel string `yaml:"logLevel" validate:"oneof=trace debug info warn error"`

		// MetricsFile overrides the prometheus textfile location
		MetricsFile string `yaml:"metricsFile"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Paths.Data = "data"
	cfg.Paths.Processed = "data_processed"
	cfg.Paths.Results = "results"
	cfg.Paths.Log = "log"
	cfg.Paths.QC = "qc"

	cfg.Grid.Acquisitions = []string{"acq-upperT", "acq-lowerT", "acq-LSE"}
	cfg.Grid.Reconstructions = []string{"rec-navigated", "rec-standard"}
	cfg.Contrast = "T2starw"

	cfg.Segmentation.Store = "fs"
	cfg.Segmentation.Tools.Cord = "sct_deepseg_sc"
	cfg.Segmentation.Tools.GrayMatter = "sct_deepseg_gm"
	cfg.Segmentation.Tools.Maths = "sct_maths"
	cfg.Segmentation.Tools.QC = "sct_qc"
	cfg.Segmentation.Tools.LabelVertebrae = "sct_label_vertebrae"

	cfg.Processing.NumWorkers = 1
	cfg.Processing.SliceWorkers = 0 // one per CPU
	cfg.Processing.Precision = 5

	cfg.Ghosting.Enabled = false
	cfg.Ghosting.Script = "create_ghosting_mask"
	cfg.Ghosting.Smooth = 3
	cfg.Ghosting.Bins = 2
	cfg.Ghosting.Suffix = "ghostingMask"
	cfg.Ghosting.Reference = "rec-navigated"

	cfg.QC.Enabled = true
	cfg.QC.Scale = 4

	cfg.Output.LogLevel = "info"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	// Check if config file exists
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

	return cfg, nil
}

// ApplyEnv overrides the study directories from PATH_* variables.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	for env, field := range map[string]*string{
		EnvData:      &c.Paths.Data,
		EnvProcessed: &c.Paths.Processed,
		EnvResults:   &c.Paths.Results,
		EnvLog:       &c.Paths.Log,
		EnvQC:        &c.Paths.QC,
	} {
		if v, ok := lookup(env); ok && v != "" {
			*field = v
		}
	}
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
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
