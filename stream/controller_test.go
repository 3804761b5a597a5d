package stream

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/matt-g-everett/frameanim/frame"
	"github.com/matt-g-everett/frameanim/imagecache"
	"github.com/matt-g-everett/frameanim/surface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	starts atomic.Int64
	ends   atomic.Int64
}

func (c *counter) OnFrameStart() { c.starts.Add(1) }
func (c *counter) OnFrameEnd()   { c.ends.Add(1) }

var palette = []color.RGBA{
	{R: 255, A: 255},
	{G: 255, A: 255},
	{B: 255, A: 255},
}

func pngOf(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type rig struct {
	c      *Controller
	guard  *surface.Guard
	mem    *surface.Memory
	cache  *imagecache.Cache
	events *counter
}

func newRig(t *testing.T, loader frame.Loader, opts ...Option) *rig {
	t.Helper()
	if loader == nil {
		fsys := fstest.MapFS{}
		for i, c := range palette {
			fsys[fmt.Sprintf("f_%d.png", i)] = &fstest.MapFile{Data: pngOf(t, c)}
		}
		loader = frame.FSLoader{FS: fsys}
	}
	r := new(rig)
	r.mem = surface.NewMemory(0, 0)
	r.guard = surface.NewGuard(r.mem, nil)
	r.guard.Resized(8, 8)
	r.cache = imagecache.New()
	opts = append([]Option{WithUpdateRate(time.Millisecond), WithStopTimeout(50 * time.Millisecond)}, opts...)
	r.c = NewController(r.guard, frame.NewDecoder(loader, r.cache), opts...)
	r.events = new(counter)
	r.c.SetOnFrameListener(r.events)
	t.Cleanup(r.c.Close)
	return r
}

func frames(n int, d time.Duration) *frame.Sequence {
	seq := frame.NewSequence()
	for i := 0; i < n; i++ {
		_ = seq.Append(frame.NewDescriptor(fmt.Sprintf("f_%d.png", i%len(palette)), d))
	}
	return seq
}

func TestLoopPlaysUntilStopped(t *testing.T) {
	r := newRig(t, nil)
	r.c.AddFrames(frames(3, 5*time.Millisecond))
	r.c.Start()
	require.True(t, r.c.IsRunning())

	assert.Eventually(t, func() bool { return r.c.Status().Repeats >= 3 }, 2*time.Second, time.Millisecond)
	assert.True(t, r.c.IsAnimating())
	assert.Positive(t, r.mem.Posts())
	assert.Positive(t, r.cache.Stats().Resident)

	r.c.Stop()
	r.c.Looper().Flush()
	assert.False(t, r.c.IsRunning())
	assert.False(t, r.c.IsAnimating())
	assert.Equal(t, int64(1), r.events.starts.Load())
	assert.Equal(t, int64(1), r.events.ends.Load())
}

func TestOneShotEndsOnItsOwn(t *testing.T) {
	r := newRig(t, nil)
	r.c.SetOneShot(true)
	r.c.AddFrames(frames(2, 5*time.Millisecond))
	r.c.Start()

	assert.Eventually(t, func() bool { return r.events.ends.Load() == 1 }, 2*time.Second, time.Millisecond)
	assert.False(t, r.c.IsAnimating())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, r.c.Status().Index)
	assert.Equal(t, palette[1], r.mem.Snapshot().RGBAAt(4, 4))

	r.c.Stop()
	r.c.Looper().Flush()
	assert.Equal(t, int64(1), r.events.starts.Load())
	assert.Equal(t, int64(1), r.events.ends.Load())
}

func TestNothingToPlay(t *testing.T) {
	for name, seq := range map[string]*frame.Sequence{
		"empty":         frame.NewSequence(),
		"zero duration": frames(3, 0),
	} {
		t.Run(name, func(t *testing.T) {
			r := newRig(t, nil)
			r.c.AddFrames(seq)
			r.c.Start()
			assert.False(t, r.c.IsRunning())
			assert.False(t, r.c.IsAnimating())

			r.c.Stop()
			r.c.Looper().Flush()
			assert.Equal(t, int64(1), r.events.ends.Load())
			assert.Zero(t, r.events.starts.Load())
			assert.Zero(t, r.c.Status().Ticks)
			assert.Zero(t, r.mem.Posts())
		})
	}
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	r := newRig(t, nil)
	r.c.AddFrames(frames(2, 5*time.Millisecond))
	r.c.Start()
	r.c.Start()
	assert.Eventually(t, r.c.IsAnimating, time.Second, time.Millisecond)

	r.c.Stop()
	r.c.Stop()
	r.c.Looper().Flush()
	assert.Equal(t, int64(1), r.events.starts.Load())
	assert.Equal(t, int64(1), r.events.ends.Load())

	// A new session starts over.
	r.c.Start()
	assert.Eventually(t, func() bool { return r.events.starts.Load() == 2 }, time.Second, time.Millisecond)
	r.c.Stop()
}

func TestSettersIgnoredWhileRunning(t *testing.T) {
	r := newRig(t, nil)
	r.c.AddFrames(frames(3, 5*time.Millisecond))
	r.c.Start()
	defer r.c.Stop()

	r.c.SetOneShot(true)
	r.c.SetDuration(time.Hour)
	r.c.AddFrames(frames(1, time.Second))

	st := r.c.Status()
	assert.False(t, st.OneShot)
	assert.Equal(t, 3, st.Frames)
	assert.Equal(t, 15*time.Millisecond, st.Duration)
}

func TestDurationOverride(t *testing.T) {
	r := newRig(t, nil)
	r.c.AddFrames(frames(2, 0))
	r.c.SetDuration(20 * time.Millisecond)
	r.c.Start()
	defer r.c.Stop()
	assert.True(t, r.c.IsRunning())
	assert.Equal(t, 20*time.Millisecond, r.c.Status().Duration)
}

func TestDetachedListenerHearsNothing(t *testing.T) {
	r := newRig(t, nil)
	r.c.AddFrames(frames(2, 5*time.Millisecond))
	r.c.Start()
	assert.Eventually(t, r.c.IsAnimating, time.Second, time.Millisecond)

	r.c.SetOnFrameListener(nil)
	r.c.Stop()
	r.c.Looper().Flush()
	assert.Zero(t, r.events.ends.Load())
}

func TestBadFramesAreSkipped(t *testing.T) {
	fsys := fstest.MapFS{"f_0.png": {Data: pngOf(t, palette[0])}}
	loader := frame.LoaderFunc(func(loc string) ([]byte, error) {
		if loc == "f_1.png" {
			return nil, errors.New("corrupt")
		}
		return fsys.ReadFile(loc)
	})
	r := newRig(t, loader)
	r.c.AddFrames(frames(2, 5*time.Millisecond))
	r.c.Start()

	assert.Eventually(t, func() bool { return r.c.Status().Repeats >= 2 }, 2*time.Second, time.Millisecond)
	r.c.Stop()
	assert.Zero(t, r.c.Status().Failures)
}

func TestHiddenSurfaceDoesNotAdvance(t *testing.T) {
	r := newRig(t, nil)
	r.guard.SetVisible(false)
	r.c.AddFrames(frames(2, 5*time.Millisecond))
	r.c.Start()
	defer r.c.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, -1, r.c.Status().Index)
	assert.False(t, r.c.IsAnimating())

	r.guard.SetVisible(true)
	assert.Eventually(t, r.c.IsAnimating, time.Second, time.Millisecond)
}

func TestFadeIn(t *testing.T) {
	r := newRig(t, nil, WithFadeIn(100*time.Millisecond))
	began := time.Unix(500, 0)
	r.c.began.Store(began.UnixNano())

	assert.Equal(t, 0.0, r.c.fade(began))
	assert.InDelta(t, 0.5, r.c.fade(began.Add(50*time.Millisecond)), 0.05)
	assert.Equal(t, 1.0, r.c.fade(began.Add(time.Second)))

	plain := newRig(t, nil)
	assert.Equal(t, 1.0, plain.c.fade(began))
}

func TestNothingPostedAfterStop(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	data := pngOf(t, palette[0])
	loader := frame.LoaderFunc(func(string) ([]byte, error) {
		once.Do(func() { close(entered) })
		<-release
		return data, nil
	})
	r := newRig(t, loader, WithStopTimeout(5*time.Millisecond))
	r.c.AddFrames(frames(1, 5*time.Millisecond))
	r.c.Start()
	<-entered

	r.c.Stop()
	posts := r.mem.Posts()
	close(release)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, posts)
	assert.Equal(t, posts, r.mem.Posts())
}

// steppingClock moves forward by step every time it is read and never waits.
type steppingClock struct {
	mu    sync.Mutex
	now   time.Time
	step  time.Duration
	holds []time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *steppingClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.holds = append(c.holds, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (c *steppingClock) Holds() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.holds...)
}

func TestHoldIsMeasuredOnControllerClock(t *testing.T) {
	clock := &steppingClock{now: time.Unix(1000, 0), step: time.Millisecond}
	r := newRig(t, nil, WithClock(clock))
	r.c.AddFrames(frames(3, 50*time.Millisecond))
	r.c.Start()
	assert.Eventually(t, func() bool { return len(clock.Holds()) >= 5 }, time.Second, time.Millisecond)
	r.c.Stop()

	// The clock is read once before the draw, once inside it and once after.
	for _, d := range clock.Holds() {
		assert.Equal(t, 48*time.Millisecond, d)
	}
}
