// Package pipeline wires the abundance-to-corridor stages into a single
// batch run: fit, predict, cluster, route, aggregate.
package pipeline

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"corridor-mapper/internal/hotspot"
	"corridor-mapper/internal/nmix"
)

// PredictionConfig controls the posterior ensemble draw.
type PredictionConfig struct {
	// SampleCount is the number of posterior rasters in the ensemble.
	SampleCount int `yaml:"sample_count"`

	// Seed feeds the ensemble draw; identical seeds reproduce identical
	// sample selections and corridors.
	Seed uint64 `yaml:"seed"`
}

// Config is the full run configuration, loadable from YAML.
type Config struct {
	// SurveyPath is the survey CSV (site,x,y,forest,elevation,counts...).
	SurveyPath string `yaml:"survey"`

	// GridPath is the prediction grid CSV (x,y,forest,elevation).
	GridPath string `yaml:"grid"`

	Priors     nmix.PriorBounds      `yaml:"priors"`
	MCMC       nmix.MCMCConfig       `yaml:"mcmc"`
	Prediction PredictionConfig      `yaml:"prediction"`
	Hotspots   hotspot.ClusterConfig `yaml:"hotspots"`

	// Workers bounds the corridor worker pool; zero means GOMAXPROCS.
	Workers int `yaml:"workers"`

	// PosteriorCache, when set, caches the fitted posterior as JSON and
	// reuses it on later runs, skipping the multi-minute fit.
	PosteriorCache string `yaml:"posterior_cache"`

	// OutputDir, when set, receives the mean, frequency, and hub tables.
	OutputDir string `yaml:"output_dir"`
}

// DefaultConfig returns a runnable configuration missing only the input
// paths.
func DefaultConfig() Config {
	return Config{
		Priors:     nmix.DefaultPriorBounds(),
		MCMC:       nmix.DefaultMCMCConfig(),
		Prediction: PredictionConfig{SampleCount: 1000, Seed: 1},
		Hotspots:   hotspot.DefaultClusterConfig(),
		Workers:    runtime.GOMAXPROCS(0),
	}
}

// LoadConfig reads a YAML run configuration over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields the pipeline cannot default.
func (c *Config) Validate() error {
	if c.SurveyPath == "" {
		return fmt.Errorf("survey path is required")
	}
	if c.GridPath == "" {
		return fmt.Errorf("grid path is required")
	}
	if c.Prediction.SampleCount <= 0 {
		return fmt.Errorf("prediction sample count must be positive, got %d", c.Prediction.SampleCount)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	return nil
}
