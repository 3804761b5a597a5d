package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultUpdateRate is how often the render loop wakes up, about 60 draws
	// a second. Frame timing itself comes from the frame durations.
	DefaultUpdateRate = 16 * time.Millisecond
	// DefaultStopTimeout is how long Stop waits for the render loop to exit.
	DefaultStopTimeout = 6 * time.Millisecond
)

// A Step draws whatever is due. It is called repeatedly from the render
// goroutine until ctx is cancelled.
type Step func(ctx context.Context) error

// Streamer runs a Step on a dedicated goroutine at a steady cadence.
type Streamer struct {
	updateRate  time.Duration
	stopTimeout time.Duration
	clock       Clock
	logger      *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	ticks    atomic.Uint64
	failures atomic.Uint64
}

// NewStreamer creates a stopped Streamer.
func NewStreamer(updateRate, stopTimeout time.Duration, clock Clock, logger *slog.Logger) *Streamer {
	s := new(Streamer)
	s.updateRate = updateRate
	if s.updateRate <= 0 {
		s.updateRate = DefaultUpdateRate
	}
	s.stopTimeout = stopTimeout
	if s.stopTimeout <= 0 {
		s.stopTimeout = DefaultStopTimeout
	}
	s.clock = clock
	if s.clock == nil {
		s.clock = SystemClock
	}
	s.logger = logger
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Start spawns the render goroutine. It does nothing if one is running.
func (s *Streamer) Start(step Step) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.running.Store(true)
	go s.run(ctx, done, step)
	return true
}

// Stop asks the render goroutine to exit and waits for it briefly. If it is
// still busy when the wait runs out Stop returns anyway; the goroutine exits
// on its own once it notices the cancellation. Stop reports whether the
// goroutine was seen to exit.
func (s *Streamer) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return true
	}

	s.cancel()
	done := s.done
	s.cancel = nil
	s.done = nil
	s.running.Store(false)

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		s.logger.Debug("render loop still busy, detaching", "timeout", s.stopTimeout)
		return false
	}
}

// Running reports whether a render goroutine has been started and not
// stopped.
func (s *Streamer) Running() bool {
	return s.running.Load()
}

// Ticks is the number of steps run so far.
func (s *Streamer) Ticks() uint64 {
	return s.ticks.Load()
}

// Failures is the number of steps that failed or panicked.
func (s *Streamer) Failures() uint64 {
	return s.failures.Load()
}

func (s *Streamer) run(ctx context.Context, done chan struct{}, step Step) {
	defer close(done)
	for ctx.Err() == nil {
		start := s.clock.Now()
		s.tick(ctx, step)
		if ctx.Err() != nil {
			return
		}
		elapsed := s.clock.Now().Sub(start)
		if !sleep(ctx, s.clock, s.updateRate-elapsed) {
			return
		}
	}
}

func (s *Streamer) tick(ctx context.Context, step Step) {
	defer func() {
		if r := recover(); r != nil {
			s.failures.Add(1)
			s.logger.Error("render step panicked", "panic", fmt.Sprint(r))
		}
	}()
	s.ticks.Add(1)
	if err := step(ctx); err != nil {
		s.failures.Add(1)
		s.logger.Warn("render step failed", "error", err)
	}
}
