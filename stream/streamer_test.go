package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStreamerStartIsIdempotent(t *testing.T) {
	s := NewStreamer(time.Millisecond, 100*time.Millisecond, nil, nil)
	var calls atomic.Int64
	step := func(context.Context) error { calls.Add(1); return nil }

	assert.True(t, s.Start(step))
	assert.False(t, s.Start(step))
	assert.True(t, s.Running())
	assert.Eventually(t, func() bool { return calls.Load() > 3 }, time.Second, time.Millisecond)

	assert.True(t, s.Stop())
	assert.False(t, s.Running())
	assert.True(t, s.Stop())
}

func TestStreamerNoStepsAfterStop(t *testing.T) {
	s := NewStreamer(time.Millisecond, 100*time.Millisecond, nil, nil)
	var calls atomic.Int64
	s.Start(func(context.Context) error { calls.Add(1); return nil })
	assert.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, time.Millisecond)

	s.Stop()
	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
}

func TestStreamerStopDoesNotHang(t *testing.T) {
	s := NewStreamer(time.Millisecond, 5*time.Millisecond, nil, nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int64
	s.Start(func(context.Context) error {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return nil
	})
	<-entered

	start := time.Now()
	assert.False(t, s.Stop())
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, s.Running())

	close(release)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), calls.Load())
}

func TestStreamerSurvivesFailingSteps(t *testing.T) {
	s := NewStreamer(time.Millisecond, 100*time.Millisecond, nil, nil)
	var calls atomic.Int64
	s.Start(func(context.Context) error {
		switch calls.Add(1) {
		case 1:
			panic("bad frame")
		case 2:
			return errors.New("decode failed")
		}
		return nil
	})
	assert.Eventually(t, func() bool { return calls.Load() > 5 }, time.Second, time.Millisecond)
	s.Stop()
	assert.Equal(t, uint64(2), s.Failures())
	assert.GreaterOrEqual(t, s.Ticks(), uint64(5))
}

func TestStreamerPacesSteps(t *testing.T) {
	s := NewStreamer(20*time.Millisecond, 100*time.Millisecond, nil, nil)
	var calls atomic.Int64
	s.Start(func(context.Context) error { calls.Add(1); return nil })
	time.Sleep(100 * time.Millisecond)
	s.Stop()
	// About five steps fit in 100ms at a 20ms cadence.
	assert.LessOrEqual(t, calls.Load(), int64(7))
	assert.GreaterOrEqual(t, calls.Load(), int64(2))
}
