package spectral

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/capture"
	"github.com/himanishpuri/BlinkCal/pkg/models"
	"golang.org/x/sync/errgroup"
)

var ErrTooFewBins = errors.New("buffer too short for the excluded low-frequency bins")

// Logger is the subset of the service logger the analyzer uses.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}

// Grid holds one SpectralEstimate per pixel, row-major.
type Grid struct {
	Width          int
	Height         int
	N              int
	SamplingRateHz float64
	Estimates      []models.SpectralEstimate
}

func NewGrid(width, height, n int, samplingRateHz float64) *Grid {
	return &Grid{
		Width:          width,
		Height:         height,
		N:              n,
		SamplingRateHz: samplingRateHz,
		Estimates:      make([]models.SpectralEstimate, width*height),
	}
}

func (g *Grid) At(x, y int) models.SpectralEstimate { return g.Estimates[y*g.Width+x] }

func (g *Grid) Set(x, y int, e models.SpectralEstimate) { g.Estimates[y*g.Width+x] = e }

// Resolution is the bin spacing in Hz.
func (g *Grid) Resolution() float64 { return g.SamplingRateHz / float64(g.N) }

// Analyzer computes a Grid from a captured batch with a bounded worker pool
// over row tiles.
type Analyzer struct {
	excluded int
	workers  int
	tileRows int
	window   func(n int) []float64
	log      Logger
}

type Option func(*Analyzer)

func WithExcludedBins(n int) Option { return func(a *Analyzer) { a.excluded = n } }

// WithWorkers bounds the number of concurrent tile workers.
func WithWorkers(n int) Option { return func(a *Analyzer) { a.workers = n } }

func WithTileRows(n int) Option { return func(a *Analyzer) { a.tileRows = n } }

// WithWindow applies a taper before the transform. Magnitudes are rescaled
// by the window's coherent gain so thresholds keep their meaning.
func WithWindow(fn func(n int) []float64) Option { return func(a *Analyzer) { a.window = fn } }

func WithLogger(l Logger) Option { return func(a *Analyzer) { a.log = l } }

func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{
		excluded: DefaultExcludedBins,
		workers:  runtime.NumCPU(),
		tileRows: 8,
		log:      nopLogger{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.workers < 1 {
		a.workers = 1
	}
	if a.tileRows < 1 {
		a.tileRows = 1
	}
	if a.log == nil {
		a.log = nopLogger{}
	}
	return a
}

// Validate checks that an n-sample buffer can be analysed.
func (a *Analyzer) Validate(n int) error {
	if !capture.IsPowerOfTwo(n) {
		return fmt.Errorf("%w: %d", capture.ErrNotPowerOfTwo, n)
	}
	if n/2 <= a.excluded {
		return fmt.Errorf("%w: %d bins available, %d excluded", ErrTooFewBins, n/2, a.excluded)
	}
	return nil
}

type tile struct{ y0, y1 int }

// Analyze runs the per-pixel transform over the whole batch. Cancelling ctx
// stops the pass between tiles.
func (a *Analyzer) Analyze(ctx context.Context, b *capture.Batch) (*Grid, error) {
	n := b.Len()
	if err := a.Validate(n); err != nil {
		return nil, err
	}
	start := time.Now()
	grid := NewGrid(b.Width, b.Height, n, b.SamplingRateHz)

	var window []float64
	scale := 2 / float64(n)
	if a.window != nil {
		window = a.window(n)
		var sum float64
		for _, w := range window {
			sum += w
		}
		scale = 2 / sum
	}

	g, gctx := errgroup.WithContext(ctx)
	tiles := make(chan tile, a.workers*2)

	g.Go(func() error {
		defer close(tiles)
		for y := 0; y < b.Height; y += a.tileRows {
			t := tile{y0: y, y1: min(y+a.tileRows, b.Height)}
			select {
			case tiles <- t:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < a.workers; i++ {
		g.Go(func() error {
			series := make([]float64, n)
			for t := range tiles {
				if err := gctx.Err(); err != nil {
					return err
				}
				a.analyzeTile(b, grid, t, series, window, scale)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	a.log.Infof("analyzed %s pixels x %d samples in %s (%.3f Hz/bin)",
		humanize.Comma(int64(b.Width*b.Height)), n, time.Since(start).Round(time.Millisecond), grid.Resolution())
	return grid, nil
}

func (a *Analyzer) analyzeTile(b *capture.Batch, grid *Grid, t tile, series, window []float64, scale float64) {
	n := b.Len()
	for y := t.y0; y < t.y1; y++ {
		for x := 0; x < b.Width; x++ {
			idx := y*b.Width + x
			series = b.Series(idx, series)
			if window != nil {
				for i := range series {
					series[i] *= window[i]
				}
			}
			mag := scaledMagnitude(FFTReal(series), scale)
			bin, m := Dominant(mag, a.excluded)
			grid.Estimates[idx] = models.SpectralEstimate{
				DominantBin:         bin,
				DominantFrequencyHz: BinFrequency(bin, n, b.SamplingRateHz),
				Magnitude:           m,
			}
		}
	}
}
