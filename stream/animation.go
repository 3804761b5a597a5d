package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/matt-g-everett/frameanim/frame"
)

// An Animation decides which frame to show at a given time.
type Animation interface {
	Next(now time.Time) (int, frame.Descriptor)
}

// EventType identifies a playback transition reported to listeners.
type EventType int

const (
	// FrameStart is reported once per session, when the first frame is shown.
	FrameStart EventType = iota
	// FrameEnd is reported when a one-shot animation completes, when an
	// animating session is stopped, or when there is nothing to play.
	FrameEnd
)

func (t EventType) String() string {
	switch t {
	case FrameStart:
		return "start"
	case FrameEnd:
		return "end"
	}
	return "unknown"
}

// Playback is the frame-advance state machine of one playback session. Next
// is called from the render goroutine only; the accessors are safe from
// anywhere.
type Playback struct {
	seq      *frame.Sequence
	oneShot  bool
	duration time.Duration
	notify   func(EventType)

	mu      sync.Mutex
	current int
	start   time.Time
	repeats int
	ended   bool
	stopped bool

	animating atomic.Bool
}

// NewPlayback creates an idle playback of seq. duration is the resolved
// length of one cycle.
func NewPlayback(seq *frame.Sequence, oneShot bool, duration time.Duration, notify func(EventType)) *Playback {
	p := new(Playback)
	p.seq = seq
	p.oneShot = oneShot
	p.duration = duration
	p.notify = notify
	if p.notify == nil {
		p.notify = func(EventType) {}
	}
	p.current = -1
	return p
}

// Next advances the playback to now and returns the frame to draw. It
// returns -1 when there is nothing to play.
func (p *Playback) Next(now time.Time) (int, frame.Descriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return -1, frame.Descriptor{}
	}
	n := p.seq.Len()
	if n == 0 || p.duration <= 0 {
		if !p.ended {
			p.ended = true
			p.notify(FrameEnd)
		}
		return -1, frame.Descriptor{}
	}
	last := n - 1

	elapsed := !p.start.IsZero() && now.Sub(p.start) >= p.duration
	if elapsed && p.oneShot && p.animating.CompareAndSwap(true, false) {
		p.notify(FrameEnd)
		p.start = time.Time{}
		p.repeats = 0
	}

	next := p.current + 1
	restart := p.current < 0
	if next >= n {
		// Hold the last frame until the cycle has run its full duration.
		next = last
		if !p.oneShot && elapsed {
			next = 0
			restart = true
		}
	}

	if restart && next == 0 {
		p.animating.Store(true)
		p.start = now
		p.repeats++
		if p.repeats == 1 {
			p.notify(FrameStart)
		}
	}

	p.current = next
	return next, p.seq.At(next)
}

// Finish ends the session for good. It reports whether the playback was
// animating, in which case the caller owes listeners a FrameEnd.
func (p *Playback) Finish() bool {
	p.mu.Lock()
	ok := p.animating.CompareAndSwap(true, false)
	p.stopped = true
	p.current = -1
	p.start = time.Time{}
	p.repeats = 0
	p.mu.Unlock()
	return ok
}

// Animating reports whether a cycle is in progress.
func (p *Playback) Animating() bool {
	return p.animating.Load()
}

// Index is the frame shown last, -1 before the first.
func (p *Playback) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Repeats is the number of cycles started in this session.
func (p *Playback) Repeats() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.repeats
}

// Started is when the current cycle began, zero if none is running.
func (p *Playback) Started() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.start
}
