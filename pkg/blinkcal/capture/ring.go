package capture

import (
	"errors"
	"fmt"

	"github.com/himanishpuri/BlinkCal/pkg/models"
)

var (
	ErrNotPowerOfTwo     = errors.New("buffer length is not a power of two")
	ErrFrameSize         = errors.New("frame dimensions do not match the session")
	ErrInvalidTransition = errors.New("invalid capture state transition")
	ErrIncomplete        = errors.New("capture buffer not full")
)

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Ring is a fixed-capacity frame buffer. Once full, Push overwrites the
// oldest frame.
type Ring struct {
	frames []models.Frame
	head   int // index of the oldest frame
	count  int
}

func NewRing(capacity int) (*Ring, error) {
	if !IsPowerOfTwo(capacity) {
		return nil, fmt.Errorf("%w: %d", ErrNotPowerOfTwo, capacity)
	}
	return &Ring{frames: make([]models.Frame, capacity)}, nil
}

func (r *Ring) Cap() int   { return len(r.frames) }
func (r *Ring) Len() int   { return r.count }
func (r *Ring) Full() bool { return r.count == len(r.frames) }

// Push appends a frame, evicting the oldest one when the ring is full.
func (r *Ring) Push(f models.Frame) {
	c := len(r.frames)
	if r.count < c {
		r.frames[(r.head+r.count)%c] = f
		r.count++
		return
	}
	r.frames[r.head] = f
	r.head = (r.head + 1) % c
}

// Frames returns the buffered frames oldest first. The returned slice is a
// fresh copy of the frame headers; pixel data is shared.
func (r *Ring) Frames() []models.Frame {
	out := make([]models.Frame, r.count)
	c := len(r.frames)
	for i := 0; i < r.count; i++ {
		out[i] = r.frames[(r.head+i)%c]
	}
	return out
}

// Reset drops every frame while keeping the capacity.
func (r *Ring) Reset() {
	for i := range r.frames {
		r.frames[i] = models.Frame{}
	}
	r.head, r.count = 0, 0
}
