// Package source provides frame sources for capture sessions.
package source

import (
	"context"
	"io"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/himanishpuri/BlinkCal/pkg/models"
)

// Blinker is one emitter as the camera would see it.
type Blinker struct {
	FrequencyHz float64
	Center      models.Point2D // camera pixel
	Radius      float64
}

// BlinkersFromMarkers places one blinker per marker, mapping each marker's
// reference coordinate into the camera image with toCamera.
func BlinkersFromMarkers(markers []models.EmitterMarker, radius float64, toCamera func(models.Point2D) models.Point2D) []Blinker {
	out := make([]Blinker, len(markers))
	for i, m := range markers {
		c := m.Reference
		if toCamera != nil {
			c = toCamera(c)
		}
		out[i] = Blinker{FrequencyHz: m.FrequencyHz, Center: c, Radius: radius}
	}
	return out
}

// Synthetic renders blinking discs on a flat background. Timestamps follow
// the configured rate exactly, starting at Start.
type Synthetic struct {
	Width, Height int
	RateHz        float64
	Blinkers      []Blinker
	Background    float64
	Amplitude     float64 // peak-to-peak brightness swing
	Square        bool    // on/off blinking instead of a sine
	Noise         float64 // stddev of additive Gaussian noise
	Limit         int     // frames before io.EOF; 0 is unlimited
	Start         time.Time

	mu  sync.Mutex
	seq int
	rng *rand.Rand
}

type SyntheticOption func(*Synthetic)

func WithSquareWave() SyntheticOption { return func(s *Synthetic) { s.Square = true } }

func WithNoise(stddev float64, seed int64) SyntheticOption {
	return func(s *Synthetic) {
		s.Noise = stddev
		s.rng = rand.New(rand.NewSource(seed))
	}
}

func WithLimit(n int) SyntheticOption { return func(s *Synthetic) { s.Limit = n } }

func WithBrightness(background, amplitude float64) SyntheticOption {
	return func(s *Synthetic) {
		s.Background = background
		s.Amplitude = amplitude
	}
}

func NewSynthetic(width, height int, rateHz float64, blinkers []Blinker, opts ...SyntheticOption) *Synthetic {
	s := &Synthetic{
		Width:      width,
		Height:     height,
		RateHz:     rateHz,
		Blinkers:   blinkers,
		Background: 0.2,
		Amplitude:  0.6,
		Start:      time.Unix(0, 0).UTC(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Noise > 0 && s.rng == nil {
		s.rng = rand.New(rand.NewSource(1))
	}
	return s
}

func (s *Synthetic) GetFrame(ctx context.Context) (models.Frame, error) {
	if err := ctx.Err(); err != nil {
		return models.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Limit > 0 && s.seq >= s.Limit {
		return models.Frame{}, io.EOF
	}

	i := s.seq
	s.seq++
	t := float64(i) / s.RateHz

	luma := make([]float64, s.Width*s.Height)
	for p := range luma {
		luma[p] = s.Background
	}
	for _, b := range s.Blinkers {
		v := s.Background + s.Amplitude*s.wave(b.FrequencyHz, t)
		s.paintDisc(luma, b, v)
	}
	if s.Noise > 0 {
		for p := range luma {
			luma[p] += s.rng.NormFloat64() * s.Noise
		}
	}
	for p, v := range luma {
		luma[p] = math.Min(1, math.Max(0, v))
	}

	return models.Frame{
		Seq:       uint64(i),
		Timestamp: s.Start.Add(time.Duration(t * float64(time.Second))),
		Width:     s.Width,
		Height:    s.Height,
		Luma:      luma,
	}, nil
}

// wave is in [0, 1].
func (s *Synthetic) wave(hz, t float64) float64 {
	if s.Square {
		if _, frac := math.Modf(hz * t); frac < 0.5 {
			return 1
		}
		return 0
	}
	return 0.5 + 0.5*math.Sin(2*math.Pi*hz*t)
}

func (s *Synthetic) paintDisc(luma []float64, b Blinker, v float64) {
	r2 := b.Radius * b.Radius
	x0 := max(0, int(math.Floor(b.Center.X-b.Radius)))
	x1 := min(s.Width-1, int(math.Ceil(b.Center.X+b.Radius)))
	y0 := max(0, int(math.Floor(b.Center.Y-b.Radius)))
	y1 := min(s.Height-1, int(math.Ceil(b.Center.Y+b.Radius)))
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			dx, dy := float64(x)-b.Center.X, float64(y)-b.Center.Y
			if dx*dx+dy*dy <= r2 {
				luma[y*s.Width+x] = v
			}
		}
	}
}
