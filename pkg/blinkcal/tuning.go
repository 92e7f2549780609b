package blinkcal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/capture"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/geometry"
)

// DefaultTuningPath is where the CLI and server look for tuning overrides.
const DefaultTuningPath = "config/tuning.defaults.json"

// TuningConfig is the on-disk form of the adjustable pipeline constants.
// Omitted fields keep the built-in defaults, so partial files are safe.
type TuningConfig struct {
	BufferLength     *int     `json:"buffer_length,omitempty"`
	Threshold        *float64 `json:"threshold,omitempty"`
	Tolerance        *float64 `json:"tolerance,omitempty"`
	ExcludedBins     *int     `json:"excluded_bins,omitempty"`
	Workers          *int     `json:"workers,omitempty"`
	NominalRateHz    *float64 `json:"nominal_rate_hz,omitempty"`
	RANSACThreshold  *float64 `json:"ransac_threshold,omitempty"`
	RANSACIterations *int     `json:"ransac_iterations,omitempty"`
	RANSACSeed       *int64   `json:"ransac_seed,omitempty"`
}

// LoadTuningConfig reads and validates a JSON tuning file.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &TuningConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configured values are usable.
func (c *TuningConfig) Validate() error {
	if c.BufferLength != nil && !capture.IsPowerOfTwo(*c.BufferLength) {
		return fmt.Errorf("buffer_length must be a power of two, got %d", *c.BufferLength)
	}
	if c.Threshold != nil && (*c.Threshold < 0 || *c.Threshold > 1) {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", *c.Threshold)
	}
	if c.Tolerance != nil && *c.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive, got %f", *c.Tolerance)
	}
	if c.ExcludedBins != nil {
		if *c.ExcludedBins < 0 {
			return fmt.Errorf("excluded_bins must not be negative, got %d", *c.ExcludedBins)
		}
		if c.BufferLength != nil && *c.BufferLength/2 <= *c.ExcludedBins {
			return fmt.Errorf("excluded_bins %d leaves no bins below N/2 = %d", *c.ExcludedBins, *c.BufferLength/2)
		}
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", *c.Workers)
	}
	if c.NominalRateHz != nil && *c.NominalRateHz <= 0 {
		return fmt.Errorf("nominal_rate_hz must be positive, got %f", *c.NominalRateHz)
	}
	if c.RANSACThreshold != nil && *c.RANSACThreshold <= 0 {
		return fmt.Errorf("ransac_threshold must be positive, got %f", *c.RANSACThreshold)
	}
	if c.RANSACIterations != nil && *c.RANSACIterations <= 0 {
		return fmt.Errorf("ransac_iterations must be positive, got %d", *c.RANSACIterations)
	}
	return nil
}

// Options converts the set fields into service options.
func (c *TuningConfig) Options() []Option {
	var opts []Option
	if c.BufferLength != nil {
		opts = append(opts, WithBufferLength(*c.BufferLength))
	}
	if c.Threshold != nil {
		opts = append(opts, WithThreshold(*c.Threshold))
	}
	if c.Tolerance != nil {
		opts = append(opts, WithTolerance(*c.Tolerance))
	}
	if c.ExcludedBins != nil {
		opts = append(opts, WithExcludedBins(*c.ExcludedBins))
	}
	if c.Workers != nil {
		opts = append(opts, WithWorkers(*c.Workers))
	}
	if c.NominalRateHz != nil {
		opts = append(opts, WithNominalRate(*c.NominalRateHz))
	}
	if c.RANSACThreshold != nil || c.RANSACIterations != nil || c.RANSACSeed != nil {
		r := geometry.DefaultRANSAC()
		if c.RANSACThreshold != nil {
			r.Threshold = *c.RANSACThreshold
		}
		if c.RANSACIterations != nil {
			r.Iterations = *c.RANSACIterations
		}
		if c.RANSACSeed != nil {
			r.Seed = *c.RANSACSeed
		}
		opts = append(opts, WithRANSAC(r))
	}
	return opts
}
