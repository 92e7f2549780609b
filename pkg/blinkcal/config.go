package blinkcal

import (
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/extract"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/geometry"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/match"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/spectral"
)

type Config struct {
	DBPath        string
	BufferLength  int
	Threshold     float64
	Tolerance     float64
	ExcludedBins  int
	Workers       int
	NominalRateHz float64
	RANSAC        geometry.RANSACConfig
	Logger        Logger
	Storage       Storage
	Publisher     Publisher
	Solver        geometry.NullSpaceSolver
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

// WithBufferLength sets N, the number of frames per capture. It must be a
// power of two.
func WithBufferLength(n int) Option {
	return func(c *Config) {
		c.BufferLength = n
	}
}

func WithThreshold(amplitude float64) Option {
	return func(c *Config) {
		c.Threshold = amplitude
	}
}

func WithTolerance(hz float64) Option {
	return func(c *Config) {
		c.Tolerance = hz
	}
}

func WithExcludedBins(n int) Option {
	return func(c *Config) {
		c.ExcludedBins = n
	}
}

// WithWorkers bounds the analysis worker pool. Zero means one per CPU.
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

// WithNominalRate is the frame rate assumed when frames carry no timestamps.
func WithNominalRate(hz float64) Option {
	return func(c *Config) {
		c.NominalRateHz = hz
	}
}

func WithRANSAC(r geometry.RANSACConfig) Option {
	return func(c *Config) {
		c.RANSAC = r
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithStorage(storage Storage) Option {
	return func(c *Config) {
		c.Storage = storage
	}
}

func WithPublisher(p Publisher) Option {
	return func(c *Config) {
		c.Publisher = p
	}
}

func WithSolver(s geometry.NullSpaceSolver) Option {
	return func(c *Config) {
		c.Solver = s
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath:        "blinkcal.sqlite3",
		BufferLength:  512,
		Threshold:     extract.DefaultThreshold,
		Tolerance:     match.DefaultTolerance,
		ExcludedBins:  spectral.DefaultExcludedBins,
		NominalRateHz: 60,
		RANSAC:        geometry.DefaultRANSAC(),
		Solver:        geometry.SVDSolver{},
	}
}
