// Package frame describes the still images that make up an animation, loads
// and decodes them, and draws them onto a canvas.
package frame

import (
	"errors"
	"sync"
	"time"
)

// ErrFrozen is returned when a sequence is changed while it is being played.
var ErrFrozen = errors.New("frame: sequence is frozen during playback")

// Transform places a frame on the canvas.
type Transform struct {
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`
	Scale float64 `yaml:"scale"`
	Alpha float64 `yaml:"alpha"`
}

// Identity draws the image stretched over the whole canvas, fully opaque.
var Identity = Transform{Scale: 1, Alpha: 1}

// A Descriptor identifies one image of an animation and how long it is shown.
type Descriptor struct {
	Locator   string
	Transform Transform
	Duration  time.Duration
}

// NewDescriptor creates a Descriptor with the identity transform.
func NewDescriptor(locator string, duration time.Duration) Descriptor {
	return Descriptor{Locator: locator, Transform: Identity, Duration: duration}
}

// A Sequence is an ordered list of frames; insertion order is display order.
type Sequence struct {
	mu     sync.RWMutex
	frames []Descriptor
	frozen bool
}

// NewSequence creates a sequence holding descs.
func NewSequence(descs ...Descriptor) *Sequence {
	s := new(Sequence)
	s.frames = append([]Descriptor(nil), descs...)
	return s
}

// Len is the number of frames.
func (s *Sequence) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// At returns frame i.
func (s *Sequence) At(i int) Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames[i]
}

// Frames returns a copy of the frames.
func (s *Sequence) Frames() []Descriptor {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Descriptor(nil), s.frames...)
}

// TotalDuration is override when it is positive, otherwise the sum of all
// frame durations.
func (s *Sequence) TotalDuration(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total time.Duration
	for _, d := range s.frames {
		if d.Duration > 0 {
			total += d.Duration
		}
	}
	return total
}

// Append adds frames to the end of the sequence.
func (s *Sequence) Append(descs ...Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrFrozen
	}
	s.frames = append(s.frames, descs...)
	return nil
}

// Replace swaps the whole content of the sequence.
func (s *Sequence) Replace(descs []Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrFrozen
	}
	s.frames = append(s.frames[:0:0], descs...)
	return nil
}

// Freeze locks the sequence against changes until Thaw.
func (s *Sequence) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

// Thaw allows changes again.
func (s *Sequence) Thaw() {
	s.mu.Lock()
	s.frozen = false
	s.mu.Unlock()
}

// Frozen reports whether the sequence is locked.
func (s *Sequence) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}
