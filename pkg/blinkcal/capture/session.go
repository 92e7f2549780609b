package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/himanishpuri/BlinkCal/pkg/models"
)

var ErrNoSamplingRate = errors.New("sampling rate unknown: frames carry no timeline and no nominal rate is set")

// State is a capture session lifecycle state.
type State int

const (
	Idle State = iota
	Capturing
	Ready
	Analyzing
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Ready:
		return "ready"
	case Analyzing:
		return "analyzing"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Source yields frames one at a time, blocking until the next one is available.
type Source interface {
	GetFrame(ctx context.Context) (models.Frame, error)
}

// Batch is a completed, immutable frame sequence handed from capture to analysis.
type Batch struct {
	SessionID      string
	Frames         []models.Frame
	Width          int
	Height         int
	SamplingRateHz float64
	Stats          RateStats

	session *Session // nil for batches built by hand
}

// Complete moves the session that produced the batch from Analyzing to Done.
// Completing twice returns ErrInvalidTransition.
func (b *Batch) Complete() error {
	if b.session == nil {
		return nil
	}
	return b.session.Complete()
}

// State reports the producing session's state; hand-built batches are Done.
func (b *Batch) State() State {
	if b.session == nil {
		return Done
	}
	return b.session.State()
}

// Len is the number of samples per pixel.
func (b *Batch) Len() int { return len(b.Frames) }

// Series copies the time series of pixel idx (row-major) into dst, growing
// it when needed, and returns it.
func (b *Batch) Series(idx int, dst []float64) []float64 {
	if cap(dst) < len(b.Frames) {
		dst = make([]float64, len(b.Frames))
	}
	dst = dst[:len(b.Frames)]
	for t := range b.Frames {
		dst[t] = b.Frames[t].Luma[idx]
	}
	return dst
}

// Session drives Idle -> Capturing -> Ready -> Analyzing -> Done. The ring is
// owned by the session until Handoff, after which it is released.
type Session struct {
	mu            sync.Mutex
	id            string
	state         State
	ring          *Ring
	capacity      int
	width, height int
	seq           uint64
	nominalRateHz float64
	clock         func() time.Time
}

type SessionOption func(*Session)

// WithNominalRate sets the rate assumed when frames carry no usable timestamps.
func WithNominalRate(hz float64) SessionOption {
	return func(s *Session) { s.nominalRateHz = hz }
}

// WithClock replaces time.Now for stamping frames that arrive without a timestamp.
func WithClock(clock func() time.Time) SessionOption {
	return func(s *Session) { s.clock = clock }
}

func NewSession(id string, capacity int, opts ...SessionOption) (*Session, error) {
	if !IsPowerOfTwo(capacity) {
		return nil, fmt.Errorf("%w: %d", ErrNotPowerOfTwo, capacity)
	}
	s := &Session{id: id, capacity: capacity, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Len is the number of frames captured so far.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ring == nil {
		return 0
	}
	return s.ring.Len()
}

// Start moves an idle session into Capturing with an empty buffer.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, s.state)
	}
	if s.ring == nil {
		ring, err := NewRing(s.capacity)
		if err != nil {
			return err
		}
		s.ring = ring
	} else {
		s.ring.Reset()
	}
	s.width, s.height, s.seq = 0, 0, 0
	s.state = Capturing
	return nil
}

// Append stores one frame and reports whether the buffer is now full, in
// which case the session has moved to Ready.
func (s *Session) Append(f models.Frame) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Capturing {
		return false, fmt.Errorf("%w: append in %s", ErrInvalidTransition, s.state)
	}
	if f.Width <= 0 || f.Height <= 0 || len(f.Luma) != f.Width*f.Height {
		return false, fmt.Errorf("%w: %dx%d with %d samples", ErrFrameSize, f.Width, f.Height, len(f.Luma))
	}
	if s.ring.Len() == 0 {
		s.width, s.height = f.Width, f.Height
	} else if f.Width != s.width || f.Height != s.height {
		return false, fmt.Errorf("%w: got %dx%d, want %dx%d", ErrFrameSize, f.Width, f.Height, s.width, s.height)
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = s.clock()
	}
	f.Seq = s.seq
	s.seq++
	s.ring.Push(f)
	if s.ring.Full() {
		s.state = Ready
		return true, nil
	}
	return false, nil
}

// Abort discards the buffer and returns the session to Idle. Frames are
// append-only so nothing needs rolling back.
func (s *Session) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Capturing, Ready:
		// Keep the allocation for the next Start; the frames are dropped.
		s.ring.Reset()
		s.state = Idle
		return nil
	case Idle:
		return nil
	default:
		return fmt.Errorf("%w: abort in %s", ErrInvalidTransition, s.state)
	}
}

// Handoff transfers the completed buffer to the caller and moves the session
// to Analyzing. Partial buffers are refused.
func (s *Session) Handoff() (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Ready:
	case Capturing:
		return nil, fmt.Errorf("%w: %d of %d frames", ErrIncomplete, s.ring.Len(), s.capacity)
	default:
		return nil, fmt.Errorf("%w: handoff in %s", ErrInvalidTransition, s.state)
	}

	frames := s.ring.Frames()
	times := make([]time.Time, len(frames))
	for i, f := range frames {
		times[i] = f.Timestamp
	}
	stats, ok := ComputeRateStats(times)
	rate := stats.MeanHz
	if !ok {
		if s.nominalRateHz <= 0 {
			return nil, ErrNoSamplingRate
		}
		rate = s.nominalRateHz
		stats.MeanHz = rate
	}

	b := &Batch{
		SessionID:      s.id,
		Frames:         frames,
		Width:          s.width,
		Height:         s.height,
		SamplingRateHz: rate,
		Stats:          stats,
		session:        s,
	}
	s.ring = nil
	s.state = Analyzing
	return b, nil
}

// Complete marks the analysis of the handed-off batch as finished.
func (s *Session) Complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Analyzing {
		return fmt.Errorf("%w: complete in %s", ErrInvalidTransition, s.state)
	}
	s.state = Done
	return nil
}

// Run pulls frames from src until the buffer is full and hands the batch
// off. Cancelling ctx aborts at the next frame boundary.
func (s *Session) Run(ctx context.Context, src Source) (*Batch, error) {
	if s.State() == Idle {
		if err := s.Start(); err != nil {
			return nil, err
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, s.abort(err)
		}
		f, err := src.GetFrame(ctx)
		if err != nil {
			return nil, s.abort(fmt.Errorf("reading frame %d: %w", s.Len(), err))
		}
		full, err := s.Append(f)
		if err != nil {
			return nil, s.abort(err)
		}
		if full {
			return s.Handoff()
		}
	}
}

// abort discards the buffer after cause stopped a run. A failed Abort (the
// session was already past Ready) is joined onto cause.
func (s *Session) abort(cause error) error {
	if err := s.Abort(); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// NewBatch builds a batch directly from an already complete frame sequence,
// for callers that did the capturing elsewhere (uploads, image directories).
// Frames without timestamps are not stamped; the nominal rate applies then.
func NewBatch(id string, frames []models.Frame, nominalRateHz float64) (*Batch, error) {
	s, err := NewSession(id, len(frames),
		WithNominalRate(nominalRateHz),
		WithClock(func() time.Time { return time.Time{} }),
	)
	if err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		return nil, err
	}
	for _, f := range frames {
		if _, err := s.Append(f); err != nil {
			return nil, err
		}
	}
	return s.Handoff()
}
