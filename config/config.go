// Package config provides estimator configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// maxFileSize is the largest accepted configuration file
const maxFileSize = 1 << 20

// Config configures the estimator
type Config struct {
	// MaxUpdates is the largest number of successful updates per frame.
	// Unmatched and rejected observations do not count.
	MaxUpdates int `yaml:"max_updates"`
	// FrameBudget is the time budget of the match and update phase of a frame,
	// measured from the start of ranking
	FrameBudget time.Duration `yaml:"frame_budget"`
	// GateProbability is the probability of the chi-squared innovation gate
	GateProbability float64 `yaml:"gate_probability"`
	// MaxCondition is the largest accepted innovation covariance condition number
	MaxCondition float64 `yaml:"max_condition"`
	// Iterations is the number of EKF update relinearizations
	Iterations int `yaml:"iterations"`
	// MaxMisses is the number of consecutive frames missing a landmark after which it is pruned
	MaxMisses int `yaml:"max_misses"`
	// ConvergeRatio is the relative inverse distance deviation below which
	// inverse depth landmarks are converted to Euclidean points
	ConvergeRatio float64 `yaml:"converge_ratio"`
	// ImageMargin is the image border margin in pixels
	ImageMargin float64 `yaml:"image_margin"`
	// MinJacRatio is the smallest accepted ratio of projection Jacobian singular values
	MinJacRatio float64 `yaml:"min_jac_ratio"`
	// Workers is the number of expectation workers
	Workers int `yaml:"workers"`
	// PSDTolerance is the symmetry and PSD check tolerance of the state covariance
	PSDTolerance float64 `yaml:"psd_tolerance"`
	// LogLevel is the log level
	LogLevel string `yaml:"log_level"`
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		MaxUpdates:      20,
		FrameBudget:     30 * time.Millisecond,
		GateProbability: 0.99,
		MaxCondition:    1e12,
		Iterations:      1,
		MaxMisses:       5,
		ConvergeRatio:   0.1,
		ImageMargin:     5,
		MinJacRatio:     1e-6,
		Workers:         4,
		PSDTolerance:    1e-9,
		LogLevel:        "info",
	}
}

// Load loads configuration from YAML file at path.
// Fields missing from the file keep their default values.
func Load(path string) (*Config, error) {
	clean := filepath.Clean(path)
	if ext := filepath.Ext(clean); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .yaml extension, got %q", ext)
	}

	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration data on top of the default configuration.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return c, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.MaxUpdates <= 0 {
		return fmt.Errorf("max_updates must be positive, got %d", c.MaxUpdates)
	}

	if c.FrameBudget < 0 {
		return fmt.Errorf("frame_budget must not be negative, got %s", c.FrameBudget)
	}

	if c.GateProbability <= 0 || c.GateProbability >= 1 {
		return fmt.Errorf("gate_probability must be between 0 and 1, got %f", c.GateProbability)
	}

	if c.MaxCondition < 0 {
		return fmt.Errorf("max_condition must not be negative, got %g", c.MaxCondition)
	}

	if c.Iterations <= 0 {
		return fmt.Errorf("iterations must be positive, got %d", c.Iterations)
	}

	if c.MaxMisses < 1 {
		return fmt.Errorf("max_misses must be positive, got %d", c.MaxMisses)
	}

	if c.ConvergeRatio <= 0 {
		return fmt.Errorf("converge_ratio must be positive, got %f", c.ConvergeRatio)
	}

	if c.ImageMargin < 0 {
		return fmt.Errorf("image_margin must not be negative, got %f", c.ImageMargin)
	}

	if c.MinJacRatio < 0 || c.MinJacRatio > 1 {
		return fmt.Errorf("min_jac_ratio must be between 0 and 1, got %g", c.MinJacRatio)
	}

	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}

	if c.PSDTolerance <= 0 {
		return fmt.Errorf("psd_tolerance must be positive, got %g", c.PSDTolerance)
	}

	return nil
}
