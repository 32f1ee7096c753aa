package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lox/flowcorrect/internal/correction"
	"github.com/lox/flowcorrect/internal/models"
)

// Config is the yaml configuration for a flowcorrect workspace. Command-line
// flags override individual fields after loading.
type Config struct {
	Assignments  string `yaml:"assignments"`   // assignment table CSV
	ObservedDir  string `yaml:"observed_dir"`  // one <gauge>.csv per gauge
	SimulatedDir string `yaml:"simulated_dir"` // parquet chunks
	OutputDir    string `yaml:"output_dir"`
	OutputFormat string `yaml:"output_format"` // csv or parquet
	Database     string `yaml:"database"`
	Workers      int    `yaml:"workers"`

	Columns    models.Columns `yaml:"columns"`
	Correction Correction     `yaml:"correction"`
	Bootstrap  Bootstrap      `yaml:"bootstrap"`
	FTP        FTP            `yaml:"ftp"`
}

// Correction holds the options the batch driver passes to the transplanted
// mapping. Self-corrected reaches always use the plain FDC mapping.
type Correction struct {
	DropOutliers     bool       `yaml:"drop_outliers"`
	OutlierThreshold float64    `yaml:"outlier_threshold"`
	FilterScalar     bool       `yaml:"filter_scalar"`
	FilterRange      [2]float64 `yaml:"filter_range"`
	Extrapolate      string     `yaml:"extrapolate"`
	FillValue        *float64   `yaml:"fill_value"`
	FitGumbel        bool       `yaml:"fit_gumbel"`
	FitRange         [2]float64 `yaml:"fit_range"`
	Metadata         bool       `yaml:"metadata"`
}

// Bootstrap configures leave-one-gauge-out validation.
type Bootstrap struct {
	OutputDir string `yaml:"output_dir"` // metrics CSV and figures
}

// FTP locates the server that publishes observed gauge files.
type FTP struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Dir      string `yaml:"dir"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Assignments:  "assignments.csv",
		ObservedDir:  "observed",
		SimulatedDir: "simulated",
		OutputDir:    "corrected",
		OutputFormat: "csv",
		Database:     "flowcorrect.db",
		Workers:      runtime.GOMAXPROCS(0),
		Columns:      models.DefaultColumns(),
		Correction: Correction{
			DropOutliers:     true,
			OutlierThreshold: correction.DefaultOutlierThreshold,
			FilterRange:      [2]float64{20, 100},
			Extrapolate:      string(correction.ExtrapNearest),
			FitGumbel:        true,
			FitRange:         [2]float64{5, 95},
		},
		Bootstrap: Bootstrap{
			OutputDir: "validation",
		},
		FTP: FTP{
			User:     "anonymous",
			Password: "anonymous",
		},
	}
}

// LoadFile reads a yaml file over the defaults. An empty path returns the
// defaults.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	bs, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(bs, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.normalize(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// normalize fills defaults and rejects settings the engine cannot run with.
func (c *Config) normalize() error {
	def := DefaultConfig()
	c.Columns = c.Columns.WithDefaults()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	switch strings.ToLower(c.OutputFormat) {
	case "", "csv":
		c.OutputFormat = "csv"
	case "parquet":
		c.OutputFormat = "parquet"
	default:
		return fmt.Errorf("output_format %q: want csv or parquet", c.OutputFormat)
	}
	if c.Correction.OutlierThreshold <= 0 {
		c.Correction.OutlierThreshold = def.Correction.OutlierThreshold
	}
	if c.Correction.FitRange[1] <= c.Correction.FitRange[0] {
		c.Correction.FitRange = def.Correction.FitRange
	}
	if c.Correction.FilterRange[1] <= c.Correction.FilterRange[0] {
		c.Correction.FilterRange = def.Correction.FilterRange
	}
	if c.Bootstrap.OutputDir == "" {
		c.Bootstrap.OutputDir = def.Bootstrap.OutputDir
	}
	_, err := c.Correction.Options()
	return err
}

func (c Correction) Options() (correction.Options, error) {
	ex, err := correction.ParseExtrapolation(c.Extrapolate)
	if err != nil {
		return correction.Options{}, err
	}
	opts := correction.DefaultOptions()
	opts.DropOutliers = c.DropOutliers
	opts.OutlierThreshold = c.OutlierThreshold
	opts.FilterScalar = c.FilterScalar
	opts.FilterRange = correction.Range{Lo: c.FilterRange[0], Hi: c.FilterRange[1]}
	opts.Extrapolate = ex
	opts.FillValue = c.FillValue
	opts.FitGumbel = c.FitGumbel
	opts.FitRange = correction.Range{Lo: c.FitRange[0], Hi: c.FitRange[1]}
	opts.Metadata = c.Metadata
	if ex == correction.ExtrapConst && c.FillValue == nil {
		return opts, correction.ErrMissingFillValue
	}
	return opts, nil
}
